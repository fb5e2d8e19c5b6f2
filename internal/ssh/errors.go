package ssh

import (
	"context"
	"errors"
)

// Dispatch error kinds
var (
	ErrInvalidInput           = errors.New("invalid dispatch input")
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrHostVerificationFailed = errors.New("host verification failed")
	ErrConnectionFailed       = errors.New("connection failed")
	ErrTimeout                = errors.New("dispatch timed out")
	ErrRemoteExecutionNonZero = errors.New("remote execution exited non-zero")
)

// Input errors, reported together with ErrInvalidInput
var (
	ErrEmptyHost             = errors.New("target host is empty")
	ErrEmptyUser             = errors.New("target user is empty")
	ErrEmptyPayload          = errors.New("payload is empty")
	ErrNoPrivateKey          = errors.New("no private key provided")
	ErrPassphraseRequired    = errors.New("private key is passphrase protected")
	ErrFailedToParseKey      = errors.New("failed to parse private key")
	ErrNoKnownHosts          = errors.New("no known hosts data provided")
	ErrFailedToLoadKnownHost = errors.New("failed to load known hosts")
	ErrUploadSource          = errors.New("upload source not readable")
)

type Kind string

const (
	KindOK                     Kind = "ok"
	KindInvalidInput           Kind = "invalid_input"
	KindAuthenticationFailed   Kind = "authentication_failed"
	KindHostVerificationFailed Kind = "host_verification_failed"
	KindConnectionFailed       Kind = "connection_failed"
	KindTimeout                Kind = "timeout"
	KindRemoteExecutionNonZero Kind = "remote_execution_nonzero"
	KindCanceled               Kind = "canceled"
	KindInternal               Kind = "internal"
)

// KindOf classifies err. A nil error is KindOK.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrHostVerificationFailed):
		return KindHostVerificationFailed
	case errors.Is(err, ErrAuthenticationFailed):
		return KindAuthenticationFailed
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrConnectionFailed):
		return KindConnectionFailed
	case errors.Is(err, ErrRemoteExecutionNonZero):
		return KindRemoteExecutionNonZero
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}

// ExitCode is the process exit status reported for a kind.
func (k Kind) ExitCode() int {
	switch k {
	case KindOK:
		return 0
	case KindRemoteExecutionNonZero:
		return 1
	case KindInvalidInput:
		return 2
	case KindConnectionFailed:
		return 10
	case KindAuthenticationFailed:
		return 11
	case KindHostVerificationFailed:
		return 12
	case KindTimeout:
		return 13
	case KindCanceled:
		return 130
	default:
		return 70
	}
}
