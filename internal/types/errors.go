package types

import "errors"

var (
	// ErrAlreadyLoading is returned when a fetch in the same direction is in flight.
	ErrAlreadyLoading = errors.New("already loading")
	// ErrNoOp is returned when the requested boundary has already been reached.
	ErrNoOp = errors.New("nothing to load")
	// ErrNetworkFailure wraps fetch failures that exhausted their retries.
	ErrNetworkFailure = errors.New("network failure")
	// ErrTargetNotFound is returned when a jump target could not be located.
	ErrTargetNotFound = errors.New("target message not found")
	// ErrMalformedEvent marks realtime events that were dropped.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrSendFailed is returned when an optimistic send did not reach the backend.
	ErrSendFailed = errors.New("send failed")

	ErrNotFound         = errors.New("message not found")
	ErrInvalidRecord    = errors.New("invalid record")
	ErrWrongChannel     = errors.New("record belongs to another channel")
	ErrSuperseded       = errors.New("superseded by a newer scroll command")
	ErrClosed           = errors.New("conversation closed")
	ErrConversationOpen = errors.New("conversation already open")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
