// Package domain defines the persistence models for cadences, enrollments,
// action log entries, and the denormalized lead projection. These types are
// mapped with GORM and form the core data layer of the outreach backend.
package domain

import (
	"time"
)

// Cadence is a named multi-day outbound sequence template. A cadence is
// immutable once referenced by an enrollment: edits create new steps
// rather than mutating executed history.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name: human-readable template name.
//   - DurationDays: number of days the sequence spans (steps reference 1..N).
//   - IsDefault: whether this cadence is the tenant's default for new
//     enrollments that do not name a cadence explicitly.
//   - IsActive: soft on/off switch; inactive cadences are never resolved.
//   - TenantID: owning tenant; every query must filter on it.
type Cadence struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	Name         string    `json:"name"          gorm:"type:varchar(255);not null"`
	DurationDays int       `json:"duration_days" gorm:"not null;check:duration_days > 0"`
	IsDefault    bool      `json:"is_default"    gorm:"not null;default:false;index:idx_cadence_default"`
	IsActive     bool      `json:"is_active"     gorm:"not null;default:true;index:idx_cadence_default"`
	TenantID     string    `json:"tenant_id"     gorm:"type:varchar(64);not null;index:idx_cadence_default"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Steps is the ordered step list; loaded on demand.
	Steps []CadenceStep `json:"steps,omitempty" gorm:"foreignKey:CadenceID;references:ID"`
}

// TableName returns the database table name for Cadence.
func (Cadence) TableName() string { return "cadences" }

// CadenceStep is one scheduled action inside a cadence: a channel, a day
// number within the cadence duration, an ordering index within that day,
// the templated content, and a condition gating execution. Steps are
// read-only at execution time.
type CadenceStep struct {
	ID            string        `json:"id"             gorm:"type:char(36);primaryKey"`
	CadenceID     string        `json:"cadence_id"     gorm:"type:char(36);not null;index:idx_step_cadence_day,priority:1"`
	Day           int           `json:"day"            gorm:"not null;index:idx_step_cadence_day,priority:2;check:day > 0"`
	StepOrder     int           `json:"step_order"     gorm:"not null;default:0"`
	Channel       Channel       `json:"channel"        gorm:"type:varchar(16);not null;check:channel IN ('message','email','task')"`
	Content       string        `json:"content"        gorm:"type:text;not null"`
	ConditionType ConditionType `json:"condition_type" gorm:"type:varchar(32);not null;default:'always';check:condition_type IN ('always','if_no_response')"`
	IsActive      bool          `json:"is_active"      gorm:"not null;default:true"`
	TenantID      string        `json:"tenant_id"      gorm:"type:varchar(64);not null;index"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`

	// Cadence is the owning template.
	Cadence Cadence `json:"-" gorm:"foreignKey:CadenceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for CadenceStep.
func (CadenceStep) TableName() string { return "cadence_steps" }

// Enrollment is the aggregate root of the orchestration subsystem: one
// contact's progress through one cadence. Rows are never physically
// deleted (audit requirement); terminal states are completed/stopped.
//
// Invariant: at most one enrollment per (contact, tenant) has status
// active or paused at any time.
//
// Fields:
//   - CurrentDay: 1-based day counter, never exceeding the cadence duration.
//   - MessagesSent / EmailsSent: per-channel success counters, mirrored on
//     the lead projection.
//   - RespondedAt / ResponseChannel / ResponseDay: first-response metadata,
//     set once by HandleResponse.
//   - CompletionReason: why a terminal state was reached (finished,
//     bot_detected, admin_stop).
type Enrollment struct {
	ID               string           `json:"id"                gorm:"type:char(36);primaryKey"`
	CadenceID        string           `json:"cadence_id"        gorm:"type:char(36);not null;index"`
	ContactID        string           `json:"contact_id"        gorm:"type:varchar(64);not null;index:idx_enroll_contact_status,priority:1"`
	Status           EnrollmentStatus `json:"status"            gorm:"type:varchar(16);not null;default:'active';index:idx_enroll_contact_status,priority:2;check:status IN ('active','paused','responded','completed','stopped')"`
	CurrentDay       int              `json:"current_day"       gorm:"not null;default:1"`
	MessagesSent     int              `json:"messages_sent"     gorm:"not null;default:0"`
	EmailsSent       int              `json:"emails_sent"       gorm:"not null;default:0"`
	EnrolledAt       time.Time        `json:"enrolled_at"       gorm:"not null"`
	RespondedAt      *time.Time       `json:"responded_at,omitempty"`
	ResponseChannel  string           `json:"response_channel,omitempty"  gorm:"type:varchar(16)"`
	ResponseDay      int              `json:"response_day,omitempty"`
	LastAdvancedAt   *time.Time       `json:"last_advanced_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	CompletionReason string           `json:"completion_reason,omitempty" gorm:"type:varchar(32)"`
	TenantID         string           `json:"tenant_id"         gorm:"type:varchar(64);not null;index"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`

	// Cadence is the owning template; enrollments outlive cadence edits so
	// deletion is restricted.
	Cadence Cadence `json:"-" gorm:"foreignKey:CadenceID;references:ID;constraint:OnUpdate:CASCADE"`
}

// TableName returns the database table name for Enrollment.
func (Enrollment) TableName() string { return "enrollments" }

// Responded reports whether the contact has replied at any point during
// this enrollment. Used to gate if_no_response steps.
func (e *Enrollment) Responded() bool { return e.RespondedAt != nil }

// ActionLogEntry is the append-only record of one step execution attempt
// for one enrollment on one day. The unique (enrollment_id, step_id, day)
// index is the subsystem's idempotency key: a second execution attempt for
// a key already at sent/delivered is a no-op. This table, not a lock, is
// the source of truth for "was this already done".
type ActionLogEntry struct {
	ID                string       `json:"id"                  gorm:"type:char(36);primaryKey"`
	EnrollmentID      string       `json:"enrollment_id"       gorm:"type:char(36);not null;uniqueIndex:ux_action_enrollment_step_day,priority:1"`
	StepID            string       `json:"step_id"             gorm:"type:char(36);not null;uniqueIndex:ux_action_enrollment_step_day,priority:2"`
	ContactID         string       `json:"contact_id"          gorm:"type:varchar(64);not null;index"`
	Channel           Channel      `json:"channel"             gorm:"type:varchar(16);not null"`
	Day               int          `json:"day"                 gorm:"not null;uniqueIndex:ux_action_enrollment_step_day,priority:3"`
	Status            ActionStatus `json:"status"              gorm:"type:varchar(16);not null;default:'pending';index;check:status IN ('pending','sent','delivered','read','failed')"`
	ContentSent       string       `json:"content_sent"        gorm:"type:text"`
	ExternalMessageID string       `json:"external_message_id" gorm:"type:varchar(128);index"`
	ErrorMessage      string       `json:"error_message,omitempty" gorm:"type:text"`
	RetryCount        int          `json:"retry_count"         gorm:"not null;default:0"`
	ExecutedAt        time.Time    `json:"executed_at"         gorm:"not null;index"`
	TenantID          string       `json:"tenant_id"           gorm:"type:varchar(64);not null;index"`

	// Enrollment is the owning aggregate.
	Enrollment Enrollment `json:"-" gorm:"foreignKey:EnrollmentID;references:ID;constraint:OnUpdate:CASCADE"`
}

// TableName returns the database table name for ActionLogEntry.
func (ActionLogEntry) TableName() string { return "action_log" }

// Lead is the denormalized, read-optimized projection of contact + cadence
// state consumed by pipelines and reporting. It is not authoritative: the
// reconciliation service repairs it toward the Enrollment aggregate, never
// the reverse.
type Lead struct {
	ID                string     `json:"id"                  gorm:"type:char(36);primaryKey"`
	Phone             string     `json:"phone"               gorm:"type:varchar(32);not null;uniqueIndex:ux_lead_phone_tenant,priority:1"`
	Name              string     `json:"name,omitempty"      gorm:"type:varchar(255)"`
	Stage             string     `json:"stage"               gorm:"type:varchar(32);not null;default:'new';index"`
	CadenceStatus     string     `json:"cadence_status"      gorm:"type:varchar(16);not null;default:'none'"`
	CadenceDay        int        `json:"cadence_day"         gorm:"not null;default:0"`
	NurtureUntil      *time.Time `json:"nurture_until,omitempty"`
	LastInteractionAt *time.Time `json:"last_interaction_at,omitempty"`
	TenantID          string     `json:"tenant_id"           gorm:"type:varchar(64);not null;uniqueIndex:ux_lead_phone_tenant,priority:2"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Lead.
func (Lead) TableName() string { return "leads" }

// InActiveCadence reports whether the projection claims the lead is in a
// running cadence. Reconciliation compares this claim against enrollments.
func (l *Lead) InActiveCadence() bool {
	return l.Stage == StageInCadence && l.CadenceStatus == string(EnrollmentActive)
}

// OutreachRecord is an upstream campaign send record: a phone the wider
// product queued or already messaged before a lead row necessarily
// existed. Full sync promotes queued records, backfills missing leads for
// sent records, and prunes duplicates.
type OutreachRecord struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	Phone     string         `json:"phone"      gorm:"type:varchar(32);not null;index"`
	Status    OutreachStatus `json:"status"     gorm:"type:varchar(16);not null;default:'queued';index;check:status IN ('queued','sent')"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`
	TenantID  string         `json:"tenant_id"  gorm:"type:varchar(64);not null;index"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName returns the database table name for OutreachRecord.
func (OutreachRecord) TableName() string { return "outreach_records" }

// PipelineTransition is one append-only audit row recording a lead moving
// between pipeline stages, written on every enrollment lifecycle
// transition. Rows are never updated or deleted.
type PipelineTransition struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	ContactID string    `json:"contact_id" gorm:"type:varchar(64);not null;index"`
	FromStage string    `json:"from_stage" gorm:"type:varchar(32);not null"`
	ToStage   string    `json:"to_stage"   gorm:"type:varchar(32);not null"`
	Actor     string    `json:"actor"      gorm:"type:varchar(64);not null"`
	Reason    string    `json:"reason"     gorm:"type:varchar(128)"`
	TenantID  string    `json:"tenant_id"  gorm:"type:varchar(64);not null;index"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for PipelineTransition.
func (PipelineTransition) TableName() string { return "pipeline_transitions" }
