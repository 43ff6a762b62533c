package propbus

import "errors"

var (
	// ErrNameTaken is returned when another process owns the service name.
	ErrNameTaken = errors.New("propbus: service name already taken")

	// ErrNotStarted is returned by writes before Start.
	ErrNotStarted = errors.New("propbus: service not started")

	// ErrUnknownBus is returned for a bus other than system or session.
	ErrUnknownBus = errors.New("propbus: unknown bus")
)
