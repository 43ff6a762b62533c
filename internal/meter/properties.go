package meter

import (
	"fmt"
	"math"
)

// Property paths on the host tree.
const (
	PathPower           = "/Ac/Power"
	PathL1Power         = "/Ac/L1/Power"
	PathL2Power         = "/Ac/L2/Power"
	PathL3Power         = "/Ac/L3/Power"
	PathL1Current       = "/Ac/L1/Current"
	PathL1Voltage       = "/Ac/L1/Voltage"
	PathL1Frequency     = "/Ac/L1/Frequency"
	PathL1PowerFactor   = "/Ac/L1/PowerFactor"
	PathEnergyForward   = "/Ac/Energy/Forward"
	PathEnergyReverse   = "/Ac/Energy/Reverse"
	PathL1EnergyForward = "/Ac/L1/Energy/Forward"
	PathL1EnergyReverse = "/Ac/L1/Energy/Reverse"
	PathL2EnergyForward = "/Ac/L2/Energy/Forward"
	PathL2EnergyReverse = "/Ac/L2/Energy/Reverse"
	PathL3EnergyForward = "/Ac/L3/Energy/Forward"
	PathL3EnergyReverse = "/Ac/L3/Energy/Reverse"
	PathUpdateIndex     = "/UpdateIndex"
)

// property maps one snapshot field onto a path.
type property struct {
	path   string
	value  func(Snapshot) Value
	format func(float64) string
}

func unknown(Snapshot) Value { return Unknown() }

// measurementProperties lists every path written when the snapshot changed.
// L2 and L3 are always unknown: the meter is single phase.
var measurementProperties = []property{
	{PathPower, func(s Snapshot) Value { return s.Power }, formatWatts},
	{PathL1Power, func(s Snapshot) Value { return s.Power }, formatWatts},
	{PathL2Power, unknown, formatWatts},
	{PathL3Power, unknown, formatWatts},
	{PathL1Current, func(s Snapshot) Value { return s.Current }, formatAmps},
	{PathL1Voltage, func(s Snapshot) Value { return s.Voltage }, formatVolts},
	{PathL1Frequency, func(s Snapshot) Value { return s.Frequency }, formatHertz},
	{PathL1PowerFactor, func(s Snapshot) Value { return s.PowerFactor }, formatInteger},
	{PathEnergyForward, func(s Snapshot) Value { return s.EnergyForward }, formatWattHours},
	{PathEnergyReverse, func(s Snapshot) Value { return s.EnergyReverse }, formatWattHours},
	{PathL1EnergyForward, func(s Snapshot) Value { return s.EnergyForward }, formatWattHours},
	{PathL1EnergyReverse, func(s Snapshot) Value { return s.EnergyReverse }, formatWattHours},
	{PathL2EnergyForward, unknown, formatWattHours},
	{PathL2EnergyReverse, unknown, formatWattHours},
	{PathL3EnergyForward, unknown, formatWattHours},
	{PathL3EnergyReverse, unknown, formatWattHours},
}

// Paths returns every path the publisher writes, UpdateIndex last.
func Paths() []string {
	paths := make([]string, 0, len(measurementProperties)+1)
	for _, p := range measurementProperties {
		paths = append(paths, p.path)
	}
	return append(paths, PathUpdateIndex)
}

// FormatText returns the display text for a value on path. Unknown values
// and unknown paths return "".
func FormatText(path string, v Value) string {
	x, ok := v.Get()
	if !ok {
		return ""
	}
	if path == PathUpdateIndex {
		return formatInteger(x)
	}
	for _, p := range measurementProperties {
		if p.path == path {
			return p.format(x)
		}
	}
	return ""
}

func formatWatts(x float64) string     { return fmt.Sprintf("%.0fW", truncate(x)) }
func formatAmps(x float64) string      { return fmt.Sprintf("%.1fA", x) }
func formatVolts(x float64) string     { return fmt.Sprintf("%.2fV", x) }
func formatHertz(x float64) string     { return fmt.Sprintf("%.4fHz", x) }
func formatWattHours(x float64) string { return fmt.Sprintf("%.2fWh", x) }
func formatInteger(x float64) string   { return fmt.Sprintf("%.0f", truncate(x)) }

// truncate drops the fraction. Negative zero becomes zero so that -0.4 reads "0".
func truncate(x float64) float64 {
	t := math.Trunc(x)
	if t == 0 {
		return 0
	}
	return t
}
