package meter

import (
	"bytes"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TopicKind identifies which of the two meter topics a message came from.
type TopicKind int

const (
	// KindInstant carries power, voltage, current, frequency and power factor.
	KindInstant TopicKind = iota + 1

	// KindEnergy carries the cumulative energy counters.
	KindEnergy
)

// String returns the topic kind name used in logs and metrics.
func (k TopicKind) String() string {
	switch k {
	case KindInstant:
		return "instant"
	case KindEnergy:
		return "energy"
	default:
		return "unknown"
	}
}

// Payload field names.
const (
	fieldActPower       = "act_power"
	fieldVoltage        = "voltage"
	fieldCurrent        = "current"
	fieldFrequency      = "freq"
	fieldPowerFactor    = "pf"
	fieldTotalActEnergy = "total_act_energy"
	fieldTotalRetEnergy = "total_act_ret_energy"
	jsonNull            = "null"
)

// Reconciler turns raw topic payloads into snapshot updates.
//
// A message is decoded and validated completely before the store is
// touched; a rejected message changes nothing, including LastArrival.
type Reconciler struct {
	store          *Store
	nominalVoltage float64
}

// NewReconciler returns a reconciler writing to store. nominalVoltage is used
// when an instant message carries no voltage.
func NewReconciler(store *Store, nominalVoltage float64) *Reconciler {
	return &Reconciler{store: store, nominalVoltage: nominalVoltage}
}

// instantReading is a validated instant message.
type instantReading struct {
	power, voltage, current, frequency, powerFactor Value
}

// energyReading is a validated energy message.
type energyReading struct {
	forward Value
	reverse Value

	// reversePresent is false when the message did not mention the field;
	// the previous value is kept.
	reversePresent bool
}

// Apply validates payload and, if it is acceptable, updates the snapshot
// atomically and stamps LastArrival with now.
func (r *Reconciler) Apply(kind TopicKind, payload []byte, now time.Time) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return ErrEmptyPayload
	}

	fields, err := decodeObject(payload)
	if err != nil {
		return err
	}

	switch kind {
	case KindInstant:
		reading, err := r.parseInstant(fields)
		if err != nil {
			return err
		}
		r.store.update(func(s *Snapshot) {
			s.Power = reading.power
			s.Voltage = reading.voltage
			s.Current = reading.current
			s.Frequency = reading.frequency
			s.PowerFactor = reading.powerFactor
			s.LastArrival = now
			s.Initialized = true
		})

	case KindEnergy:
		reading, err := parseEnergy(fields)
		if err != nil {
			return err
		}
		r.store.update(func(s *Snapshot) {
			s.EnergyForward = reading.forward
			if reading.reversePresent {
				s.EnergyReverse = reading.reverse
			}
			s.LastArrival = now
		})

	default:
		return fmt.Errorf("%w: kind %d", ErrUnknownTopic, kind)
	}

	return nil
}

func (r *Reconciler) parseInstant(fields map[string]jsoniter.RawMessage) (instantReading, error) {
	var reading instantReading
	var err error

	if reading.power, err = requiredNumber(fields, fieldActPower); err != nil {
		return reading, err
	}

	voltage, err := optionalNumber(fields, fieldVoltage)
	if err != nil {
		return reading, err
	}
	if !voltage.IsKnown() {
		voltage = Known(r.nominalVoltage)
	}
	reading.voltage = voltage

	current, err := optionalNumber(fields, fieldCurrent)
	if err != nil {
		return reading, err
	}
	if !current.IsKnown() {
		current = deriveCurrent(reading.power, reading.voltage)
	}
	reading.current = current

	if reading.frequency, err = optionalNumber(fields, fieldFrequency); err != nil {
		return reading, err
	}
	if reading.powerFactor, err = optionalNumber(fields, fieldPowerFactor); err != nil {
		return reading, err
	}

	return reading, nil
}

func parseEnergy(fields map[string]jsoniter.RawMessage) (energyReading, error) {
	var reading energyReading
	var err error

	if reading.forward, err = requiredNumber(fields, fieldTotalActEnergy); err != nil {
		return reading, err
	}

	_, reading.reversePresent = fields[fieldTotalRetEnergy]
	if reading.reverse, err = optionalNumber(fields, fieldTotalRetEnergy); err != nil {
		return reading, err
	}

	return reading, nil
}

// deriveCurrent returns power/voltage, or unknown when voltage is zero.
func deriveCurrent(power, voltage Value) Value {
	p, okP := power.Get()
	v, okV := voltage.Get()
	if !okP || !okV || v == 0 {
		return Unknown()
	}
	return Known(p / v)
}

// decodeObject parses payload as a JSON object.
func decodeObject(payload []byte) (map[string]jsoniter.RawMessage, error) {
	var fields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}
	return fields, nil
}

// requiredNumber returns the named field, which must be present and numeric.
func requiredNumber(fields map[string]jsoniter.RawMessage, name string) (Value, error) {
	if _, ok := fields[name]; !ok {
		return Unknown(), fmt.Errorf("%w: %q", ErrSchemaMismatch, name)
	}
	v, err := optionalNumber(fields, name)
	if err != nil {
		return Unknown(), err
	}
	if !v.IsKnown() {
		return Unknown(), fmt.Errorf("%w: %q is null", ErrTypeMismatch, name)
	}
	return v, nil
}

// optionalNumber returns the named field. Absent and null are unknown; any
// other non-numeric JSON value is a type mismatch.
func optionalNumber(fields map[string]jsoniter.RawMessage, name string) (Value, error) {
	raw, ok := fields[name]
	if !ok {
		return Unknown(), nil
	}
	// jsoniter decodes a JSON null into an empty RawMessage.
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == jsonNull {
		return Unknown(), nil
	}

	var x float64
	if err := json.Unmarshal(raw, &x); err != nil {
		return Unknown(), fmt.Errorf("%w: %q = %s", ErrTypeMismatch, name, raw)
	}
	return Known(x), nil
}
