package pipe

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration    = errors.New("pipe: configuration error")
	ErrHandshakeTimeout = errors.New("pipe: handshake timeout")
	ErrHandshakeFailed  = errors.New("pipe: handshake failed")
	ErrAuthMismatch     = errors.New("pipe: authorization key mismatch")
	ErrParse            = errors.New("pipe: unparsable payload")
	ErrUnknownResponse  = errors.New("pipe: response for unknown request")
	ErrNotConnected     = errors.New("pipe: not connected")
	ErrRequestTimeout   = errors.New("pipe: request timeout")
	ErrDisposed         = errors.New("pipe: disposed")
	ErrInvalidCommand   = errors.New("pipe: invalid command")
	ErrDuplicateRequest = errors.New("pipe: duplicate request id")
)

// HandshakeError rejects a Connect future. Stack holds the errors collected
// while probing, oldest first.
type HandshakeError struct {
	Cause   error
	Message string
	Stack   []error
}

func (e *HandshakeError) Error() string {
	if len(e.Stack) == 0 {
		return fmt.Sprintf("%v: %s", e.Cause, e.Message)
	}
	return fmt.Sprintf("%v: %s (%d probe errors, last: %v)", e.Cause, e.Message, len(e.Stack), e.Stack[len(e.Stack)-1])
}

func (e *HandshakeError) Unwrap() error {
	return e.Cause
}
