// ABOUTME: Error taxonomy for the messaging service
// ABOUTME: ValidationError is rejected locally; store failures are wrapped and recoverable

package messaging

import (
	"errors"
	"fmt"
)

// ValidationError reports a request rejected before touching storage.
// It is surfaced synchronously to the caller and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
