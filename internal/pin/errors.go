package pin

import "errors"

var (
	ErrNoEmail           = errors.New("pin: no verification email")
	ErrIncomplete        = errors.New("pin: incomplete PIN")
	ErrExpired           = errors.New("pin: challenge expired")
	ErrBusy              = errors.New("pin: request in flight")
	ErrResendUnavailable = errors.New("pin: resend on cooldown")
	ErrRejected          = errors.New("pin: rejected")
	ErrClosed            = errors.New("pin: flow closed")
	ErrVerified          = errors.New("pin: already verified")
)

// RejectedError is a failed verify or resend, carrying the text to show.
type RejectedError struct {
	Message string
	Err     error
}

func (e *RejectedError) Error() string { return "pin: " + e.Message }

func (e *RejectedError) Unwrap() error { return e.Err }

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// Message turns a flow error into the line shown under the PIN fields.
func Message(err error) string {
	var rejected *RejectedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rejected):
		return rejected.Message
	case errors.Is(err, ErrNoEmail):
		return "Email not found. Please go back and request a new PIN."
	case errors.Is(err, ErrIncomplete):
		return "Please enter a valid 4-digit PIN."
	case errors.Is(err, ErrExpired):
		return "PIN has expired. Please request a new PIN."
	case errors.Is(err, ErrBusy):
		return "Please wait for the current request to finish."
	case errors.Is(err, ErrVerified):
		return "PIN already verified."
	case errors.Is(err, ErrResendUnavailable):
		return "You can request a new PIN when the timer runs out."
	default:
		return "An error occurred. Please try again."
	}
}
