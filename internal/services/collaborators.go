// Package services – external collaborator contracts
//
// The engine consumes several subsystems owned by the wider product: bot
// detection, LLM conversation context, the delivery tracking registry, and
// the automation event bus. They are modeled as narrow consumer-side
// interfaces so tests can substitute fakes and the orchestrator never
// imports their implementations.
package services

import (
	"context"
	"time"
)

// BotInterlock is the synchronous bot-detection precondition consulted at
// enrollment time and again before every send: a contact can be flagged
// between enrollment and a later day.
type BotInterlock interface {
	IsBlocked(ctx context.Context, address string) (bool, error)
}

// ContextGenerator optionally replaces a step's templated content with an
// LLM-generated, conversation-aware follow-up. A nil/empty result or an
// error always falls back to the static template and never aborts a send.
type ContextGenerator interface {
	HasConversationHistory(ctx context.Context, address string) (bool, error)
	GenerateContextualFollowUp(ctx context.Context, address string, day int) (string, error)
}

// DeliveryTracker receives successful sends for asynchronous delivery
// confirmation. Satisfied by delivery.Registry.
type DeliveryTracker interface {
	RegisterMessage(actionID, externalMessageID, address string)
}

// EventType labels lifecycle events emitted for the automation layer.
type EventType string

// Lifecycle event types.
const (
	EventEnrolled  EventType = "enrolled"
	EventResponded EventType = "responded"
	EventStopped   EventType = "stopped"
	EventCompleted EventType = "completed"
)

// Event is one lifecycle notification.
type Event struct {
	Type         EventType
	EnrollmentID string
	ContactID    string
	TenantID     string
	At           time.Time
}

// EventEmitter publishes lifecycle events. Emission is fire-and-forget:
// the engine never blocks or fails on an emitter.
type EventEmitter interface {
	Emit(ctx context.Context, ev Event)
}

// NopEmitter discards all events. Used when no automation layer is wired.
type NopEmitter struct{}

// Emit implements EventEmitter.
func (NopEmitter) Emit(context.Context, Event) {}
