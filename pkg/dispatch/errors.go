package dispatch

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a gateway failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindInvalidToken: the token is malformed or was never valid.
	KindInvalidToken
	// KindUnregistered: the token was valid once but the app instance is gone.
	KindUnregistered
	KindQuotaExceeded
	KindUnavailable
	KindInternal
	KindAuth
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidToken:
		return "invalid-registration-token"
	case KindUnregistered:
		return "registration-token-not-registered"
	case KindQuotaExceeded:
		return "quota-exceeded"
	case KindUnavailable:
		return "unavailable"
	case KindInternal:
		return "internal"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// PermanentTokenFailure reports whether the token will never succeed again
// and should be purged from the user's profile.
func (k ErrorKind) PermanentTokenFailure() bool {
	return k == KindInvalidToken || k == KindUnregistered
}

// SendError is returned by a PushGateway when delivery fails.
type SendError struct {
	Kind ErrorKind
	// Code is the provider's own error code, kept for logging.
	Code string
	Err  error
}

func NewSendError(kind ErrorKind, code string, err error) *SendError {
	return &SendError{Kind: kind, Code: code, Err: err}
}

// Error returns the provider's raw message.
func (e *SendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("push send failed: %s", e.Kind)
	}
	return e.Err.Error()
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err, defaulting to KindUnknown.
func KindOf(err error) ErrorKind {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Kind
	}
	return KindUnknown
}
