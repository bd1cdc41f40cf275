package engine

import "errors"

// Sentinel kinds for engine outcomes. These allow errors.Is from callers.
var (
	// ErrDiscarded resolves a mutation whose session ended before it settled.
	ErrDiscarded = errors.New("result discarded: session ended")
	// ErrTemporaryEntity rejects rename and delete of entities without a server id.
	ErrTemporaryEntity = errors.New("not saved yet; wait for it to sync")
	// ErrRegistrationInFlight rejects a second registration for the same race.
	ErrRegistrationInFlight = errors.New("a registration for this race is already being submitted")
	// ErrNotConfirmed marks a registration the server acknowledged but never listed.
	ErrNotConfirmed = errors.New("registration not confirmed")
	// ErrCanceled resolves a reconciliation handle that was stopped before it ran.
	ErrCanceled = errors.New("reconciliation canceled")
	// ErrClosed rejects work after the engine was closed.
	ErrClosed = errors.New("engine closed")
)

// MsgNotConfirmed is shown when verification does not find the registration.
const MsgNotConfirmed = "Your registration could not be confirmed. Please check your applications and try again."
