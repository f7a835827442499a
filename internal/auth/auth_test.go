package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/edgepipe/internal/testutil/testlog"
)

func TestSharedKeyValidate(t *testing.T) {
	testlog.Start(t)

	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "no keys accepted", stored: "", input: "", wantErr: nil},
		{name: "remote key without local denied", stored: "", input: "abc", wantErr: ErrKeyMismatch},
		{name: "local key without remote denied", stored: "abc", input: "", wantErr: ErrKeyMismatch},
		{name: "mismatched key denied", stored: "abc", input: "xyz", wantErr: ErrKeyMismatch},
		{name: "matching key accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (SharedKey{Key: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)

	validator := FuncValidator(func(key string) error {
		if key != "ok" {
			return ErrKeyMismatch
		}
		return nil
	})

	if err := validator.Validate("bad"); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("expected mismatch for bad key, got %v", err)
	}
	if err := validator.Validate("ok"); err != nil {
		t.Fatalf("expected success for ok key, got %v", err)
	}
}
