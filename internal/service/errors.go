package service

import (
	"errors"
	"fmt"

	"dataspace.app/orchestrator/internal/pull"
)

var (
	ErrNegotiation            = errors.New("negotiation failed")
	ErrMissingCredentialField = errors.New("credential is missing a required field")
	ErrDownstreamInvocation   = errors.New("downstream invocation failed")
	ErrDownstreamFallback     = errors.New("downstream fallback failed")
	ErrInvalidToolRequest     = errors.New("invalid tool request")
	ErrDispatchUnavailable    = errors.New("request could not be scheduled")

	ErrCredentialTimeout = pull.ErrCredentialTimeout
	ErrStreamFailed      = pull.ErrStreamFailed
)

// MissingCredentialFieldError reports a credential that arrived for TransferID without Field.
type MissingCredentialFieldError struct {
	TransferID string
	Field      string
}

func (e *MissingCredentialFieldError) Error() string {
	return fmt.Sprintf("no %s in received credentials for transfer %s", e.Field, e.TransferID)
}

func (e *MissingCredentialFieldError) Is(target error) bool {
	return target == ErrMissingCredentialField
}
