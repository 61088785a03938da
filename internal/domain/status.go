// Package domain defines the persistence models for cadences, enrollments,
// action log entries, and the denormalized lead projection. This file holds
// the closed status/enum vocabularies used across those models so that
// invalid states are unrepresentable outside the database boundary.
package domain

// EnrollmentStatus is the lifecycle state of an Enrollment.
type EnrollmentStatus string

const (
	// EnrollmentActive means the enrollment is being advanced daily and has
	// steps executed on schedule.
	EnrollmentActive EnrollmentStatus = "active"
	// EnrollmentPaused is an admin-initiated hold; the enrollment still
	// counts toward the one-active-or-paused-per-contact invariant.
	EnrollmentPaused EnrollmentStatus = "paused"
	// EnrollmentResponded means the contact replied; no further automated
	// steps run unless an admin resumes the enrollment.
	EnrollmentResponded EnrollmentStatus = "responded"
	// EnrollmentCompleted is terminal: the cadence ran past its last day
	// without a response.
	EnrollmentCompleted EnrollmentStatus = "completed"
	// EnrollmentStopped is terminal: the bot interlock tripped or an admin
	// force-stopped the sequence.
	EnrollmentStopped EnrollmentStatus = "stopped"
)

// Valid reports whether s is a known enrollment status.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentActive, EnrollmentPaused, EnrollmentResponded,
		EnrollmentCompleted, EnrollmentStopped:
		return true
	}
	return false
}

// Terminal reports whether s admits no further lifecycle transitions.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentCompleted || s == EnrollmentStopped
}

// ActionStatus is the delivery state of one ActionLogEntry.
type ActionStatus string

const (
	// ActionPending is the initial state, written before any send attempt
	// (and the resting state for human "task" steps).
	ActionPending ActionStatus = "pending"
	// ActionSent means the channel accepted the message.
	ActionSent ActionStatus = "sent"
	// ActionDelivered is confirmed delivery reported by the channel.
	ActionDelivered ActionStatus = "delivered"
	// ActionRead is a read receipt reported by the channel.
	ActionRead ActionStatus = "read"
	// ActionFailed means all send attempts were exhausted; the entry is
	// eligible for the reconciliation retry pass.
	ActionFailed ActionStatus = "failed"
)

// Valid reports whether s is a known action status.
func (s ActionStatus) Valid() bool {
	switch s {
	case ActionPending, ActionSent, ActionDelivered, ActionRead, ActionFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a final delivery outcome. Once terminal,
// later delivery callbacks for the same message must not regress it.
func (s ActionStatus) Terminal() bool {
	return s == ActionDelivered || s == ActionRead || s == ActionFailed
}

// rank orders delivery statuses for monotonic updates: a callback may only
// move an entry forward (e.g. delivered -> read), never backward.
func (s ActionStatus) rank() int {
	switch s {
	case ActionPending:
		return 0
	case ActionSent:
		return 1
	case ActionDelivered:
		return 2
	case ActionRead:
		return 3
	case ActionFailed:
		return 4
	}
	return -1
}

// Supersedes reports whether s is a strictly later delivery state than old.
// Failed is treated as terminal but does not outrank read: a read receipt
// already proves delivery.
func (s ActionStatus) Supersedes(old ActionStatus) bool {
	if old == ActionRead {
		return false
	}
	if old.Terminal() && s == ActionFailed {
		return false
	}
	return s.rank() > old.rank()
}

// Channel identifies the transport a cadence step executes on.
type Channel string

const (
	// ChannelMessage is the primary conversational channel (WhatsApp-style
	// messaging).
	ChannelMessage Channel = "message"
	// ChannelEmail sends a templated email.
	ChannelEmail Channel = "email"
	// ChannelTask records a to-do for a human; nothing is auto-sent.
	ChannelTask Channel = "task"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelMessage || c == ChannelEmail || c == ChannelTask
}

// ConditionType gates whether a cadence step executes.
type ConditionType string

const (
	// ConditionAlways executes the step unconditionally.
	ConditionAlways ConditionType = "always"
	// ConditionIfNoResponse skips the step once the contact has replied.
	ConditionIfNoResponse ConditionType = "if_no_response"
)

// Valid reports whether t is a known condition type.
func (t ConditionType) Valid() bool {
	return t == ConditionAlways || t == ConditionIfNoResponse
}

// OutreachStatus is the state of an upstream campaign send record.
type OutreachStatus string

const (
	// OutreachQueued means the upstream campaign has scheduled the send but
	// no matching contact existed yet.
	OutreachQueued OutreachStatus = "queued"
	// OutreachSent means the upstream campaign delivered its message.
	OutreachSent OutreachStatus = "sent"
)

// Valid reports whether s is a known outreach record status.
func (s OutreachStatus) Valid() bool {
	return s == OutreachQueued || s == OutreachSent
}

// Lead pipeline stages referenced by lifecycle transitions. The stage set
// is owned by the wider product; the orchestrator only moves leads between
// these well-known values.
const (
	StageNew       = "new"
	StageInCadence = "in_cadence"
	StageResponded = "responded"
	StageNurture   = "nurture"
	StageStopped   = "stopped"
)

// Cadence lifecycle projection values written onto the lead row. These are
// denormalized copies of EnrollmentStatus kept for pipeline filtering.
const (
	CadenceStatusNone = "none"
)

// Completion reasons recorded on terminal enrollments.
const (
	CompletionFinished       = "finished"
	CompletionBotDetected    = "bot_detected"
	CompletionAdminStop      = "admin_stop"
	CompletionChannelBlocked = "channel_blocked"
)
