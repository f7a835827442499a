// Package auth compares the shared secret exchanged during a pipe handshake.
package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrKeyMismatch = errors.New("auth: key mismatch")

// Validator validates a key presented by the remote side.
type Validator interface {
	Validate(key string) error
}

// SharedKey validates handshake keys against an optional local secret.
// When neither side declares a key the check passes; once either side
// declares one, both must be identical.
type SharedKey struct {
	Key string
}

func (s SharedKey) Validate(key string) error {
	if s.Key == "" && key == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(s.Key), []byte(key)) != 1 {
		return ErrKeyMismatch
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(key string) error

func (f FuncValidator) Validate(key string) error {
	return f(key)
}
