package mqtt

import "strings"

// Topics builds topics for the property tree mirror.
//
// Property paths map directly onto the topic tree below the prefix:
//
//	topics := mqtt.Topics{Prefix: "meterbridge/grid/31"}
//	topics.Property("/Ac/L1/Power")
//	// Returns: "meterbridge/grid/31/Ac/L1/Power"
type Topics struct {
	Prefix string
}

// Property returns the topic for a property path.
func (t Topics) Property(path string) string {
	return strings.TrimRight(t.Prefix, "/") + "/" + strings.TrimLeft(path, "/")
}

// AllProperties returns the wildcard matching every property below the prefix.
func (t Topics) AllProperties() string {
	return strings.TrimRight(t.Prefix, "/") + "/#"
}
