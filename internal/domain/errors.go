package domain

import "errors"

var (
	// ErrNotFound is returned when no live session exists for a PIN.
	ErrNotFound = errors.New("session not found")
	// ErrParticipantNotFound is returned when a participant id is unknown to the session.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrCapacity means no unused PIN could be found within the configured attempts.
	ErrCapacity = errors.New("pin space exhausted")
	// ErrStaleDynamic rejects a submission made against a superseded dynamic generation.
	ErrStaleDynamic = errors.New("dynamic has been replaced")
	// ErrValidation marks a malformed command or submission payload.
	ErrValidation = errors.New("invalid payload")
	// ErrTransport marks a failed real-time delivery. Never fatal.
	ErrTransport = errors.New("delivery failed")
	// ErrNotHost is returned when a host-only command comes from a non-host connection.
	ErrNotHost = errors.New("only the host can do that")
	// ErrHostAbsent is returned while the host is disconnected and dynamic changes are paused.
	ErrHostAbsent = errors.New("host disconnected, session paused")
	// ErrGeneration wraps content generator failures.
	ErrGeneration = errors.New("content generation failed")
)

// Code maps an error to the stable code shared by the REST and WebSocket transports.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrParticipantNotFound):
		return "not_found"
	case errors.Is(err, ErrCapacity):
		return "capacity"
	case errors.Is(err, ErrStaleDynamic):
		return "stale_dynamic"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrTransport), errors.Is(err, ErrGeneration):
		return "transport"
	case errors.Is(err, ErrNotHost):
		return "forbidden"
	case errors.Is(err, ErrHostAbsent):
		return "paused"
	default:
		return "internal"
	}
}
