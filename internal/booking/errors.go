package booking

import "errors"

var (
	// ErrNotFound is returned when the requested booking does not exist.
	ErrNotFound = errors.New("booking: not found")
	// ErrAlreadyCanceled is returned when a lifecycle operation targets a
	// booking that has already reached its terminal canceled state.
	ErrAlreadyCanceled = errors.New("booking: already canceled")
)

// ValidationError captures field level validation issues that callers can
// surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}
