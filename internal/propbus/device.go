package propbus

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/nerrad567/gray-logic-meterbridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-meterbridge/internal/meter"
)

const (
	// productID marks a device without a Victron product id.
	productID = 0xFFFF

	// noValueText is shown for a path that holds no value.
	noValueText = "---"
)

// Device identifies the service on the property tree.
type Device struct {
	// Type is grid, genset or acload.
	Type     string
	Instance int

	// TypeName is the display name of Type, e.g. "Grid".
	TypeName   string
	CustomName string
	Version    string
}

// DeviceFromConfig builds the service identity from the device section.
func DeviceFromConfig(cfg config.DeviceConfig, version string) Device {
	return Device{
		Type:       cfg.Type,
		Instance:   cfg.Instance,
		TypeName:   cfg.TypeName(),
		CustomName: cfg.CustomName(),
		Version:    version,
	}
}

// ServiceName returns the bus name, e.g. com.victronenergy.grid.mqtt_grid_31.
func (d Device) ServiceName() string {
	return fmt.Sprintf("com.victronenergy.%s.mqtt_%s_%d", d.Type, d.Type, d.Instance)
}

// ProductName returns "MQTT <TypeName>".
func (d Device) ProductName() string {
	return "MQTT " + d.TypeName
}

// item is one path on the tree. A nil value means no value.
type item struct {
	path     string
	value    any
	text     string
	writable bool
}

// managementItems returns the fixed items registered once at start.
func (d Device) managementItems() []item {
	process := filepath.Base(os.Args[0])
	return []item{
		{path: "/Mgmt/ProcessName", value: process, text: process},
		{path: "/Mgmt/ProcessVersion", value: d.processVersion(), text: d.processVersion()},
		{path: "/Mgmt/Connection", value: d.ProductName() + " service", text: d.ProductName() + " service"},
		{path: "/DeviceInstance", value: int32(d.Instance), text: fmt.Sprintf("%d", d.Instance)},
		{path: "/ProductId", value: int32(productID), text: fmt.Sprintf("%d", productID)},
		{path: "/ProductName", value: d.ProductName(), text: d.ProductName()},
		{path: "/CustomName", value: d.CustomName, text: d.CustomName},
		{path: "/FirmwareVersion", value: d.Version, text: d.Version},
		{path: "/Connected", value: int32(1), text: "1"},
		{path: "/Latency", text: noValueText},
	}
}

func (d Device) processVersion() string {
	return strings.TrimSpace(d.Version + " (" + runtime.Version() + ")")
}

// measurementItems returns every path the publisher writes, all without a
// value, UpdateIndex starting at 0.
func measurementItems() []item {
	paths := meter.Paths()
	items := make([]item, 0, len(paths))
	for _, p := range paths {
		it := item{path: p, text: noValueText, writable: true}
		if p == meter.PathUpdateIndex {
			it.value = int32(0)
			it.text = "0"
		}
		items = append(items, it)
	}
	return items
}

// measurementItem converts a publisher write into an item.
func measurementItem(path string, v meter.Value, text string) item {
	x, ok := v.Get()
	if !ok {
		return item{path: path, text: noValueText, writable: true}
	}
	if path == meter.PathUpdateIndex {
		return item{path: path, value: int32(x), text: text, writable: true}
	}
	return item{path: path, value: x, text: text, writable: true}
}
