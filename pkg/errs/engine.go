package errs

import (
	"errors"
	"fmt"

	"github.com/trustbroker/trustbroker/pkg/models"
)

var (
	ErrValidateBadRequest error = errors.New("struct validation error")

	ErrProfileNotFound      error = errors.New("enrollment profile not found")
	ErrProfileAlreadyExists error = errors.New("enrollment profile already exists")
	ErrProfileInconsistent  error = errors.New("enrollment profile is not consistently configured")

	ErrTransactionNotFound error = errors.New("transaction not found")
	ErrNonceNotFound       error = errors.New("nonce not found")
	ErrKeyRefNotFound      error = errors.New("key reference not found at provider")

	ErrIncompleteResponse error = errors.New("handler produced a structurally incomplete response")
)

// ProtocolError is a terminal, message-level rejection. Code is the only
// part that crosses the trust boundary; Reason is an internal diagnostic
// that stays in logs.
type ProtocolError struct {
	Code   models.FailureCode
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation (%s): %s", e.Code, e.Reason)
}

func NewProtocolError(code models.FailureCode, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Code:   code,
		Reason: fmt.Sprintf(format, args...),
	}
}

// AsProtocolError unwraps err into a ProtocolError if it is one.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pErr *ProtocolError
	if errors.As(err, &pErr) {
		return pErr, true
	}
	return nil, false
}

// ProviderError is a failure of the remote key-operations provider. It is
// never a validation failure: no nonce is consumed and no transaction state
// advances for the attempt, so the client may safely retry.
type ProviderError struct {
	Unreachable bool
	Err         error
}

func (e *ProviderError) Error() string {
	if e.Unreachable {
		return fmt.Sprintf("key operations provider unreachable: %s", e.Err)
	}
	return fmt.Sprintf("key unavailable at provider: %s", e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func NewProviderUnreachableError(err error) *ProviderError {
	return &ProviderError{Unreachable: true, Err: err}
}

func NewKeyUnavailableError(err error) *ProviderError {
	return &ProviderError{Unreachable: false, Err: err}
}

// AsProviderError unwraps err into a ProviderError if it is one.
func AsProviderError(err error) (*ProviderError, bool) {
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return pErr, true
	}
	return nil, false
}
