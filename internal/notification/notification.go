package notification

import (
	"context"
	"log/slog"
	"sync"
)

const (
	// KindEmailOTP carries the account activation code sent after registration.
	KindEmailOTP = "email_otp"
	// KindPasswordPIN carries the 4-digit password reset PIN.
	KindPasswordPIN = "password_pin"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}

// Outbox keeps every message it is given and forwards it to next, if any.
// Tests and the local CLI read codes back out of it instead of an inbox.
type Outbox struct {
	next Notifier

	mu       sync.Mutex
	messages []Message
}

func NewOutbox(next Notifier) *Outbox {
	return &Outbox{next: next}
}

func (o *Outbox) Send(ctx context.Context, message Message) error {
	o.mu.Lock()
	o.messages = append(o.messages, message)
	o.mu.Unlock()
	if o.next != nil {
		return o.next.Send(ctx, message)
	}
	return nil
}

// Last returns the newest message of kind sent to destination.
func (o *Outbox) Last(kind, destination string) (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		m := o.messages[i]
		if m.Kind == kind && m.Destination == destination {
			return m, true
		}
	}
	return Message{}, false
}

// Count reports how many messages of kind went to destination.
func (o *Outbox) Count(kind, destination string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, m := range o.messages {
		if m.Kind == kind && m.Destination == destination {
			n++
		}
	}
	return n
}
