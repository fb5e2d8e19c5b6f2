package ssh

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		exitCode int
	}{
		{"nil", nil, KindOK, 0},
		{"remote non-zero", fmt.Errorf("%w: exit code 4", ErrRemoteExecutionNonZero), KindRemoteExecutionNonZero, 1},
		{"invalid input", fmt.Errorf("%w: %w", ErrInvalidInput, ErrEmptyHost), KindInvalidInput, 2},
		{"connection", fmt.Errorf("%w: dial: refused", ErrConnectionFailed), KindConnectionFailed, 10},
		{"authentication", fmt.Errorf("%w: rejected", ErrAuthenticationFailed), KindAuthenticationFailed, 11},
		{"host verification", fmt.Errorf("%w: changed", ErrHostVerificationFailed), KindHostVerificationFailed, 12},
		{"timeout", fmt.Errorf("%w: session closed", ErrTimeout), KindTimeout, 13},
		{"canceled", fmt.Errorf("session closed: %w", context.Canceled), KindCanceled, 130},
		{"unknown", errors.New("something else"), KindInternal, 70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind := KindOf(tt.err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.exitCode, kind.ExitCode())
		})
	}
}

func TestDispatchResult_Err(t *testing.T) {
	assert.NoError(t, (*DispatchResult)(nil).Err())
	assert.NoError(t, (&DispatchResult{TransportOK: true}).Err())
	assert.NoError(t, (&DispatchResult{ExitCode: -1}).Err())

	err := (&DispatchResult{TransportOK: true, ExitCode: 2}).Err()
	assert.ErrorIs(t, err, ErrRemoteExecutionNonZero)
	assert.Contains(t, err.Error(), "exit code 2")
}

func TestTarget_Address(t *testing.T) {
	assert.Equal(t, "web-1:22", Target{Host: "web-1"}.Address())
	assert.Equal(t, "[2001:db8::1]:2222", Target{Host: "2001:db8::1", Port: 2222}.Address())
	assert.Equal(t, "ops@web-1:22", Target{Host: "web-1", User: "ops"}.String())
}
