package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	// ErrValidation groups every malformed-input error. Those are dropped
	// without telling anyone.
	ErrValidation      = fmt.Errorf("validation failed")
	ErrMissingRoom     = fmt.Errorf("%w: missing room id", ErrValidation)
	ErrMissingUsername = fmt.Errorf("%w: missing username", ErrValidation)
	ErrEmptyMessage    = fmt.Errorf("%w: message has neither text nor image", ErrValidation)
	ErrMissingTarget   = fmt.Errorf("%w: missing target connection", ErrValidation)
	ErrUnknownUser     = fmt.Errorf("%w: unknown user", ErrValidation)
	ErrRenameInRoom    = fmt.Errorf("%w: username cannot change while in a room", ErrValidation)
	ErrInvalidFrame    = fmt.Errorf("%w: invalid frame", ErrValidation)
	ErrUnknownEvent    = fmt.Errorf("%w: unknown event", ErrValidation)

	ErrNotAMember        = fmt.Errorf("connection is not a member of the room")
	ErrAlreadyInRoom     = fmt.Errorf("connection is already in another room")
	ErrUnknownConnection = fmt.Errorf("unknown connection")
	ErrConnectionClosed  = fmt.Errorf("connection closed")
	ErrSessionClosed     = fmt.Errorf("session is disconnected")

	ErrStoreUnavailable = fmt.Errorf("message store unavailable")
	ErrEngineStopped    = fmt.Errorf("chat engine stopped")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// IsSilent reports whether err must be dropped without any feedback:
// malformed input or an operation on a room the connection is not in.
func IsSilent(err error) bool {
	return Is(err, ErrValidation) || Is(err, ErrNotAMember)
}

// Code maps err to the short code sent to the client in an error event.
func Code(err error) string {
	switch {
	case Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case Is(err, ErrEngineStopped):
		return "unavailable"
	default:
		return "internal"
	}
}
