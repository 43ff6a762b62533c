package meter

import "errors"

// Per-message errors. The bridge logs and discards the message; none of
// them is fatal.
var (
	// ErrEmptyPayload is returned for an empty message. Logged as a warning.
	ErrEmptyPayload = errors.New("meter: empty payload")

	// ErrMalformedPayload is returned when the payload is not a JSON object.
	ErrMalformedPayload = errors.New("meter: malformed payload")

	// ErrSchemaMismatch is returned when a required field is missing.
	ErrSchemaMismatch = errors.New("meter: required field missing")

	// ErrTypeMismatch is returned when a field that must be a number is not.
	ErrTypeMismatch = errors.New("meter: field is not a number")

	// ErrUnknownTopic is returned for a message on a topic the bridge did not subscribe to.
	ErrUnknownTopic = errors.New("meter: unknown topic")
)

// Fatal errors. Any of these ends the process.
var (
	// ErrStale is returned by the publication loop when no message arrived
	// within the liveness timeout.
	ErrStale = errors.New("meter: no data within liveness timeout")

	// ErrStartupTimeout is returned when the first instant message does not
	// arrive within the liveness timeout.
	ErrStartupTimeout = errors.New("meter: no data received since startup")

	// ErrPublication is returned when a property write fails.
	ErrPublication = errors.New("meter: property write failed")
)
