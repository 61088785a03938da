// Package channel defines the outbound transport boundary used by the
// cadence engine. Concrete implementations (WhatsApp-style messaging,
// SMTP) live in the wider product; the orchestrator depends only on these
// interfaces so tests can substitute fakes.
package channel

import "context"

// SendResult is the outcome of one send attempt against a channel.
type SendResult struct {
	// Success reports whether the channel accepted the message.
	Success bool
	// ExternalID is the channel-assigned message identifier, used to
	// correlate asynchronous delivery callbacks. May be empty even on
	// success for channels that do not return one.
	ExternalID string
	// Blocked reports channel-level deduplication: the channel refused the
	// send permanently (e.g. recipient opted out or an identical message
	// was already queued). Blocked results must not be retried.
	Blocked bool
	// Error carries the channel's failure description when Success is false.
	Error string
}

// MessageSender delivers conversational messages to a phone address.
type MessageSender interface {
	SendMessage(ctx context.Context, address, body string) (SendResult, error)
}

// EmailSender delivers templated email to a contact address.
type EmailSender interface {
	SendEmail(ctx context.Context, address, body string) (SendResult, error)
}
