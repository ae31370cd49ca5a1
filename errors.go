package toll

import (
	"errors"
	"fmt"
)

// TollError is a structured error carrying a machine-readable code.
type TollError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *TollError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeFormat           = "format_error"
	ErrCodeCredential       = "invalid_credentials"
	ErrCodePreimageMismatch = "preimage_mismatch"
	ErrCodeWallet           = "wallet_error"
	ErrCodeTimeout          = "timeout"
	ErrCodeBudgetExceeded   = "budget_exceeded"
)

// NewTollError creates a new toll error
func NewTollError(code, message string, details map[string]interface{}) *TollError {
	return &TollError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ErrorCode returns the code of a *TollError anywhere in err's chain,
// or "" for any other error.
func ErrorCode(err error) string {
	var te *TollError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}
