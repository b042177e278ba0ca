package canonical

import "fmt"

// ValidationError indicates a canonical invariant violation. It is never
// retried and always surfaces to the caller with the failing field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("canonical: validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
