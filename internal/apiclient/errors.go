package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an API failure.
type Kind int

const (
	// KindHTTP means the server answered with a non-2xx status.
	KindHTTP Kind = iota + 1
	// KindUnauthorized means the server answered 401.
	KindUnauthorized
	// KindTransport means no response was received.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindUnauthorized:
		return "unauthorized"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

const (
	transportMessage    = "Network error. Please check your connection and try again."
	unauthorizedMessage = "Your session has expired. Please sign in again."
)

var (
	// ErrUnauthorized matches any *Error of KindUnauthorized.
	ErrUnauthorized = errors.New("apiclient: unauthorized")
	// ErrTransport matches any *Error of KindTransport.
	ErrTransport = errors.New("apiclient: transport failure")
)

// Error is the uniform failure shape for API calls. Message is safe to show
// to the user.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Method  string
	Path    string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Method, e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the package sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrTransport:
		return e.Kind == KindTransport
	}
	return false
}

// AsError unwraps err into an *Error when it is one.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func fallbackMessage(status int) string {
	if status == http.StatusUnauthorized {
		return unauthorizedMessage
	}
	return fmt.Sprintf("Request failed with status %d", status)
}
