// Package propbus carries the meter's property tree to its consumers.
//
// Two backends implement meter.PropertyWriter:
//
//   - DBusService registers com.victronenergy.<type>.mqtt_<type>_<instance>
//     and exports one com.victronenergy.BusItem object per path
//   - MQTTMirror publishes retained {"value": ..., "text": ...} messages
//     below a topic prefix
//
// Both register the management items (/Mgmt/*, /DeviceInstance,
// /ProductId, /ProductName, /CustomName, /FirmwareVersion, /Connected,
// /Latency) on Start, and only forward a write when the value or its
// text changed. A path without a value is an empty int array on D-Bus and
// null in the mirror, with text "---".
package propbus
