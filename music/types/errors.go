package types

import "errors"

// ErrorKind classifies user-visible failures. The command boundary maps
// each kind to the reply it surfaces; transport-level detail stays wrapped.
type ErrorKind string

const (
	KindPreconditionFailed ErrorKind = "precondition_failed"
	KindNotFound           ErrorKind = "not_found"
	KindInvalidArgument    ErrorKind = "invalid_argument"
	KindTransientUpstream  ErrorKind = "transient_upstream"
	KindVoiceTransport     ErrorKind = "voice_transport"
	KindInternal           ErrorKind = "internal"
)

// MusicError carries a classified failure out of the music system.
type MusicError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *MusicError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *MusicError) Unwrap() error {
	return e.Err
}

// NewError creates a MusicError with the given kind and message.
func NewError(kind ErrorKind, message string) *MusicError {
	return &MusicError{Kind: kind, Message: message}
}

// WrapError creates a MusicError wrapping an underlying cause.
func WrapError(kind ErrorKind, message string, err error) *MusicError {
	return &MusicError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the error kind, defaulting to internal for plain errors.
func KindOf(err error) ErrorKind {
	var me *MusicError
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
