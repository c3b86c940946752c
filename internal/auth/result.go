package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klinners/klinners_web/internal/apiclient"
	"github.com/klinners/klinners_web/internal/identity"
)

// Result is the uniform outcome of an auth operation. Expected failures
// (validation, server rejection, network) are reported here with Success
// false; callers never need to inspect transport errors to decide what to show.
type Result struct {
	Success bool
	Data    json.RawMessage
	Message string
	// User is set by operations that return a profile record.
	User identity.User
	// Err carries the underlying *ValidationError or *apiclient.Error.
	Err error
}

// Unauthorized reports whether the failure was an HTTP 401.
func (r Result) Unauthorized() bool {
	return errors.Is(r.Err, apiclient.ErrUnauthorized)
}

// Decode unmarshals Data into v.
func (r Result) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("result has no data")
	}
	return json.Unmarshal(r.Data, v)
}

// ValidationError is a client-side rejection raised before any request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, message string) Result {
	return Result{Message: message, Err: &ValidationError{Field: field, Message: message}}
}
