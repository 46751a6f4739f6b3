package pull

import (
	"errors"
	"fmt"
)

var (
	ErrStreamFailed      = errors.New("credential stream failed")
	ErrCredentialTimeout = errors.New("credential timeout")
)

// CredentialTimeoutError reports that no credential for TransferID arrived within the wait window.
type CredentialTimeoutError struct {
	TransferID string
}

func (e *CredentialTimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for credentials for transfer %s", e.TransferID)
}

func (e *CredentialTimeoutError) Is(target error) bool {
	return target == ErrCredentialTimeout
}
