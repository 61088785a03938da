// Package services – CadenceEngine
//
// This file implements the CadenceEngine, which owns the enrollment
// lifecycle: enrolling contacts into cadences, advancing enrollments day
// by day, selecting and executing the current day's steps with at-most-one
// send semantics, reacting to inbound responses, and honoring the bot
// interlock. All state transitions go through here; the lead projection
// and pipeline audit trail are updated on every transition.
//
// Observability: public entry points are OpenTelemetry-instrumented; spans
// carry enrollment/contact identifiers and day numbers.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/salesloop/go-outreach-backend/internal/channel"
	"github.com/salesloop/go-outreach-backend/internal/domain"
	"github.com/salesloop/go-outreach-backend/internal/observability"
	"github.com/salesloop/go-outreach-backend/internal/repo"
	"github.com/salesloop/go-outreach-backend/internal/retry"
	"github.com/salesloop/go-outreach-backend/internal/sysutil"
)

// actorEngine is the audit-trail actor recorded for automated transitions.
const actorEngine = "cadence_engine"

// EnrollOptions controls how a contact is enrolled.
type EnrollOptions struct {
	// CadenceID names the target cadence; empty resolves the tenant's
	// default active cadence.
	CadenceID string
	// SkipInitialAction suppresses the synchronous day-1 execution when
	// the caller has already delivered the first touch itself. Day 1 is
	// then logged as pre-sent so later idempotency checks hold.
	SkipInitialAction bool
	// Actor is recorded on the audit trail; defaults to the engine.
	Actor string
}

// ResponseData describes an inbound reply attributed to a contact.
type ResponseData struct {
	// Channel the reply arrived on (message, email).
	Channel string
	// Type is the reply classification supplied by the inbound handler
	// (text, audio, document…). Recorded, not interpreted.
	Type string
}

// CadenceEngine drives enrollments through their lifecycle for one tenant
// scope. Construct with NewCadenceEngine; all dependencies are injected so
// tests can build isolated instances.
type CadenceEngine struct {
	db       *gorm.DB
	log      zerolog.Logger
	tenant   string
	loc      *time.Location
	interloc BotInterlock
	ctxGen   ContextGenerator
	messages channel.MessageSender
	emails   channel.EmailSender
	tracker  DeliveryTracker
	emitter  EventEmitter
	retrier  *retry.Executor
	limiter  *rate.Limiter

	// batchSize caps enrollments processed per hourly run; overflow waits
	// for the next run rather than being processed in parallel.
	batchSize int
	// batchMu guards cursor, the position the last hourly run stopped at.
	// Paging from it lets consecutive runs walk the whole active set even
	// when it exceeds batchSize.
	batchMu sync.Mutex
	cursor  repo.EnrollmentCursor
	// nurtureHorizon is the reactivation window stamped on the projection
	// when an enrollment completes without a response.
	nurtureHorizon time.Duration

	// now is the injected clock; tests override it.
	now func() time.Time
}

// EngineDeps bundles the collaborators a CadenceEngine needs.
type EngineDeps struct {
	DB         *gorm.DB
	Log        zerolog.Logger
	TenantID   string
	Location   *time.Location
	Interlock  BotInterlock
	ContextGen ContextGenerator // optional
	Messages   channel.MessageSender
	Emails     channel.EmailSender
	Tracker    DeliveryTracker
	Emitter    EventEmitter // optional, defaults to NopEmitter
	Retrier    *retry.Executor
	Limiter    *rate.Limiter // optional, defaults to unlimited

	BatchSize      int
	NurtureHorizon time.Duration
	Now            func() time.Time // optional, defaults to time.Now UTC
}

// NewCadenceEngine constructs a CadenceEngine with sane defaults for
// optional dependencies.
func NewCadenceEngine(d EngineDeps) *CadenceEngine {
	if d.Emitter == nil {
		d.Emitter = NopEmitter{}
	}
	if d.Limiter == nil {
		d.Limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.BatchSize <= 0 {
		d.BatchSize = 20
	}
	if d.NurtureHorizon <= 0 {
		d.NurtureHorizon = 90 * 24 * time.Hour
	}
	if d.Retrier == nil {
		d.Retrier = retry.New()
	}
	s := &CadenceEngine{
		db:             d.DB,
		log:            d.Log.With().Str("component", "cadence_engine").Logger(),
		tenant:         d.TenantID,
		loc:            d.Location,
		interloc:       d.Interlock,
		ctxGen:         d.ContextGen,
		messages:       d.Messages,
		emails:         d.Emails,
		tracker:        d.Tracker,
		emitter:        d.Emitter,
		retrier:        d.Retrier,
		limiter:        d.Limiter,
		batchSize:      d.BatchSize,
		nurtureHorizon: d.NurtureHorizon,
		now:            d.Now,
	}
	s.retrier.OnRetry = func(attempt int, err error, next time.Duration) {
		observability.SendRetriesTotal.Inc()
		s.log.Debug().
			Int("attempt", attempt).
			Dur("backoff", next).
			Str("error", err.Error()).
			Msg("send retry scheduled")
	}
	return s
}

// Enroll places a contact into a cadence at day 1 and, unless suppressed,
// synchronously executes the day-1 steps.
//
// Typed failures: ErrContactBlocked (bot interlock), ErrNotEnrollable
// (already active/paused), ErrCadenceNotFound / ErrNoCadenceAvailable
// (cadence resolution).
func (s *CadenceEngine) Enroll(ctx context.Context, contactID string, opts EnrollOptions) (*domain.Enrollment, error) {
	contactID = sysutil.NormalizePhone(contactID)
	tr := otel.Tracer("services/CadenceEngine")
	ctx, span := tr.Start(ctx, "Enroll",
		trace.WithAttributes(attribute.String("contact.id", contactID)),
	)
	defer span.End()

	blocked, err := s.interloc.IsBlocked(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("bot interlock check: %w", err)
	}
	if blocked {
		return nil, ErrContactBlocked
	}

	if _, err := repo.GetOpenEnrollment(ctx, s.db, contactID, s.tenant); err == nil {
		return nil, ErrNotEnrollable
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	cadence, err := s.resolveCadence(ctx, opts.CadenceID)
	if err != nil {
		return nil, err
	}

	e := &domain.Enrollment{
		CadenceID:  cadence.ID,
		ContactID:  contactID,
		Status:     domain.EnrollmentActive,
		CurrentDay: 1,
		EnrolledAt: s.now(),
		TenantID:   s.tenant,
	}
	if err := repo.CreateEnrollment(ctx, s.db, e); err != nil {
		return nil, err
	}

	actor := opts.Actor
	if actor == "" {
		actor = actorEngine
	}
	s.audit(ctx, contactID, domain.StageNew, domain.StageInCadence, actor, "enrolled")
	s.project(ctx, contactID, map[string]any{
		"stage":          domain.StageInCadence,
		"cadence_status": string(domain.EnrollmentActive),
		"cadence_day":    1,
	})
	s.emitter.Emit(ctx, Event{
		Type: EventEnrolled, EnrollmentID: e.ID, ContactID: contactID,
		TenantID: s.tenant, At: s.now(),
	})
	observability.EnrollmentTransitionsTotal.WithLabelValues(string(domain.EnrollmentActive)).Inc()
	s.log.Info().
		Str("enrollment_id", e.ID).
		Str("contact_id", contactID).
		Str("cadence_id", cadence.ID).
		Msg("contact enrolled")

	if opts.SkipInitialAction {
		// The caller already delivered the first touch; log day 1 as
		// pre-sent so later days see a consistent idempotency trail.
		if err := s.MarkDayPreSent(ctx, e, 1); err != nil {
			s.log.Error().Err(err).Str("enrollment_id", e.ID).Msg("failed to log pre-sent day 1")
		}
		return e, nil
	}
	if err := s.ProcessEnrollmentActions(ctx, e.ID); err != nil {
		s.log.Error().Err(err).Str("enrollment_id", e.ID).Msg("day-1 execution failed")
	}
	return e, nil
}

// resolveCadence returns the named cadence or the tenant default.
func (s *CadenceEngine) resolveCadence(ctx context.Context, cadenceID string) (*domain.Cadence, error) {
	if cadenceID != "" {
		c, err := repo.GetCadence(ctx, s.db, cadenceID, s.tenant)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCadenceNotFound
		}
		return c, err
	}
	c, err := repo.GetDefaultCadence(ctx, s.db, s.tenant)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNoCadenceAvailable
	}
	return c, err
}

// MarkDayPreSent writes sent-status action log entries for every active
// step of the given day without performing any send. Used when the caller
// (or a reconciliation backfill) has already delivered the day's touches
// and only the idempotency trail is missing. Existing entries are left
// untouched.
func (s *CadenceEngine) MarkDayPreSent(ctx context.Context, e *domain.Enrollment, day int) error {
	steps, err := repo.ListStepsForDay(ctx, s.db, e.CadenceID, day, s.tenant)
	if err != nil {
		return err
	}
	for i := range steps {
		step := &steps[i]
		entry := &domain.ActionLogEntry{
			EnrollmentID: e.ID,
			StepID:       step.ID,
			ContactID:    e.ContactID,
			Channel:      step.Channel,
			Day:          day,
			Status:       domain.ActionSent,
			ContentSent:  step.Content,
			ExecutedAt:   s.now(),
			TenantID:     s.tenant,
		}
		if err := repo.CreateActionLog(ctx, s.db, entry); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			return err
		}
	}
	return nil
}

// AdvanceAllEnrollments moves every active enrollment one day forward, or
// completes it when the cadence duration is exhausted. Invoked once daily
// by the scheduler; safe to re-run on the same business day — already
// advanced enrollments are skipped. Errors on individual enrollments are
// collected and do not abort the batch.
func (s *CadenceEngine) AdvanceAllEnrollments(ctx context.Context) error {
	tr := otel.Tracer("services/CadenceEngine")
	ctx, span := tr.Start(ctx, "AdvanceAllEnrollments")
	defer span.End()

	enrollments, err := repo.ListActiveEnrollments(ctx, s.db, s.tenant)
	if err != nil {
		return err
	}

	var errs []error
	advanced, completed := 0, 0
	today := s.businessDate(s.now())
	for i := range enrollments {
		e := &enrollments[i]
		if e.LastAdvancedAt != nil && s.businessDate(*e.LastAdvancedAt) == today {
			continue // already advanced today; re-run is a no-op
		}
		done, err := s.advanceOne(ctx, e)
		if err != nil {
			errs = append(errs, fmt.Errorf("enrollment %s: %w", e.ID, err))
			continue
		}
		if done {
			completed++
		} else {
			advanced++
		}
	}
	s.log.Info().
		Int("advanced", advanced).
		Int("completed", completed).
		Int("errors", len(errs)).
		Msg("day advancement finished")
	return errors.Join(errs...)
}

// advanceOne advances a single enrollment, returning true when it
// completed the cadence.
func (s *CadenceEngine) advanceOne(ctx context.Context, e *domain.Enrollment) (bool, error) {
	cadence, err := repo.GetCadence(ctx, s.db, e.CadenceID, s.tenant)
	if err != nil {
		return false, err
	}

	now := s.now()
	if e.CurrentDay+1 > cadence.DurationDays {
		reactivate := now.Add(s.nurtureHorizon)
		if err := repo.UpdateEnrollment(ctx, s.db, e.ID, map[string]any{
			"status":            domain.EnrollmentCompleted,
			"completed_at":      now,
			"completion_reason": domain.CompletionFinished,
			"last_advanced_at":  now,
		}); err != nil {
			return false, err
		}
		s.audit(ctx, e.ContactID, domain.StageInCadence, domain.StageNurture, actorEngine, "cadence finished without response")
		s.project(ctx, e.ContactID, map[string]any{
			"stage":          domain.StageNurture,
			"cadence_status": string(domain.EnrollmentCompleted),
			"nurture_until":  reactivate,
		})
		s.emitter.Emit(ctx, Event{
			Type: EventCompleted, EnrollmentID: e.ID, ContactID: e.ContactID,
			TenantID: s.tenant, At: now,
		})
		observability.EnrollmentTransitionsTotal.WithLabelValues(string(domain.EnrollmentCompleted)).Inc()
		return true, nil
	}

	if err := repo.UpdateEnrollment(ctx, s.db, e.ID, map[string]any{
		"current_day":      e.CurrentDay + 1,
		"last_advanced_at": now,
	}); err != nil {
		return false, err
	}
	s.project(ctx, e.ContactID, map[string]any{"cadence_day": e.CurrentDay + 1})
	return false, nil
}

// RunDueActions is the hourly batch job: it loads a bounded batch of
// active enrollments and executes their current day's steps sequentially.
// Overflow beyond the batch size is deferred to the next scheduled run,
// which resumes from where this one stopped; the cursor resets once the
// full active set has been walked.
func (s *CadenceEngine) RunDueActions(ctx context.Context) error {
	tr := otel.Tracer("services/CadenceEngine")
	ctx, span := tr.Start(ctx, "RunDueActions")
	defer span.End()

	s.batchMu.Lock()
	cur := s.cursor
	s.batchMu.Unlock()

	batch, err := repo.ListActiveEnrollmentsAfter(ctx, s.db, s.tenant, cur, s.batchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 && cur.ID != "" {
		// Walked past the end; wrap to the oldest enrollments.
		cur = repo.EnrollmentCursor{}
		batch, err = repo.ListActiveEnrollmentsAfter(ctx, s.db, s.tenant, cur, s.batchSize)
		if err != nil {
			return err
		}
	}

	var errs []error
	for i := range batch {
		if err := s.ProcessEnrollmentActions(ctx, batch[i].ID); err != nil {
			errs = append(errs, fmt.Errorf("enrollment %s: %w", batch[i].ID, err))
		}
	}

	next := repo.EnrollmentCursor{}
	if len(batch) == s.batchSize {
		last := &batch[len(batch)-1]
		next = repo.EnrollmentCursor{EnrolledAt: last.EnrolledAt, ID: last.ID}
	}
	s.batchMu.Lock()
	s.cursor = next
	s.batchMu.Unlock()

	return errors.Join(errs...)
}

// ProcessEnrollmentActions executes the current day's steps for one
// enrollment. Steps already logged are skipped (the (enrollment, step,
// day) key guarantees at-most-one send even under concurrent invocation);
// if_no_response steps are suppressed once the contact replied; task steps
// only write a pending entry for human handling.
func (s *CadenceEngine) ProcessEnrollmentActions(ctx context.Context, enrollmentID string) error {
	tr := otel.Tracer("services/CadenceEngine")
	ctx, span := tr.Start(ctx, "ProcessEnrollmentActions",
		trace.WithAttributes(attribute.String("enrollment.id", enrollmentID)),
	)
	defer span.End()

	e, err := repo.GetEnrollment(ctx, s.db, enrollmentID, s.tenant)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrEnrollmentNotFound
	} else if err != nil {
		return err
	}
	if e.Status != domain.EnrollmentActive {
		return nil // only active enrollments execute steps
	}
	span.SetAttributes(attribute.Int("enrollment.day", e.CurrentDay))

	steps, err := repo.ListStepsForDay(ctx, s.db, e.CadenceID, e.CurrentDay, s.tenant)
	if err != nil {
		return err
	}

	var errs []error
	for i := range steps {
		step := &steps[i]

		if _, err := repo.GetActionForStep(ctx, s.db, e.ID, step.ID, e.CurrentDay); err == nil {
			continue // already attempted; failed entries belong to the retry pass
		} else if !errors.Is(err, repo.ErrNotFound) {
			errs = append(errs, err)
			continue
		}

		if step.ConditionType == domain.ConditionIfNoResponse && e.Responded() {
			continue
		}

		if step.Channel == domain.ChannelTask {
			entry := &domain.ActionLogEntry{
				EnrollmentID: e.ID,
				StepID:       step.ID,
				ContactID:    e.ContactID,
				Channel:      domain.ChannelTask,
				Day:          e.CurrentDay,
				Status:       domain.ActionPending,
				ContentSent:  step.Content,
				ExecutedAt:   s.now(),
				TenantID:     s.tenant,
			}
			if err := repo.CreateActionLog(ctx, s.db, entry); err != nil && !errors.Is(err, repo.ErrDuplicate) {
				errs = append(errs, err)
			}
			continue
		}

		if err := s.executeAction(ctx, e, step); err != nil {
			errs = append(errs, fmt.Errorf("step %s: %w", step.ID, err))
		}
		if e.Status != domain.EnrollmentActive {
			break // interlock tripped mid-day; no further steps
		}
	}
	return errors.Join(errs...)
}

// executeAction performs one sendable step: re-checks the bot interlock,
// resolves the content, writes the pending action log entry (the
// idempotency claim), sends with retry/backoff, and records the outcome.
// Send failures are recorded on the entry, not returned: the failed-action
// retry pass owns them.
func (s *CadenceEngine) executeAction(ctx context.Context, e *domain.Enrollment, step *domain.CadenceStep) error {
	blocked, err := s.interloc.IsBlocked(ctx, e.ContactID)
	if err != nil {
		return fmt.Errorf("bot interlock check: %w", err)
	}
	if blocked {
		s.log.Warn().
			Str("enrollment_id", e.ID).
			Str("contact_id", e.ContactID).
			Int("day", e.CurrentDay).
			Msg("bot interlock tripped; stopping cadence")
		return s.stopEnrollment(ctx, e, domain.CompletionBotDetected, "bot_detected")
	}

	content := s.resolveContent(ctx, e, step)

	entry := &domain.ActionLogEntry{
		EnrollmentID: e.ID,
		StepID:       step.ID,
		ContactID:    e.ContactID,
		Channel:      step.Channel,
		Day:          e.CurrentDay,
		Status:       domain.ActionPending,
		ContentSent:  content,
		ExecutedAt:   s.now(),
		TenantID:     s.tenant,
	}
	if err := repo.CreateActionLog(ctx, s.db, entry); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil // a concurrent invocation claimed this step first
		}
		return err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	res, attempts, sendErr := s.sendWithRetry(ctx, step.Channel, e.ContactID, content)
	switch {
	case sendErr == nil && res.Success:
		if err := repo.UpdateActionLog(ctx, s.db, entry.ID, map[string]any{
			"status":              domain.ActionSent,
			"external_message_id": res.ExternalID,
			"retry_count":         attempts - 1,
		}); err != nil {
			return err
		}
		s.tracker.RegisterMessage(entry.ID, res.ExternalID, e.ContactID)
		s.bumpSendCounters(ctx, e, step.Channel)
		observability.SendsTotal.WithLabelValues(string(step.Channel), "sent").Inc()
		s.log.Info().
			Str("enrollment_id", e.ID).
			Str("action_id", entry.ID).
			Str("channel", string(step.Channel)).
			Int("day", e.CurrentDay).
			Int("attempts", attempts).
			Msg("step sent")
		return nil

	case errors.Is(sendErr, errChannelBlocked):
		if err := repo.UpdateActionLog(ctx, s.db, entry.ID, map[string]any{
			"status":        domain.ActionFailed,
			"error_message": errChannelBlocked.Error(),
			"retry_count":   attempts - 1,
		}); err != nil {
			return err
		}
		observability.SendsTotal.WithLabelValues(string(step.Channel), "blocked").Inc()
		return s.stopEnrollment(ctx, e, domain.CompletionChannelBlocked, "channel_blocked")

	default:
		msg := "send failed"
		if sendErr != nil {
			msg = sendErr.Error()
		}
		if err := repo.UpdateActionLog(ctx, s.db, entry.ID, map[string]any{
			"status":        domain.ActionFailed,
			"error_message": msg,
			"retry_count":   attempts - 1,
		}); err != nil {
			return err
		}
		observability.SendsTotal.WithLabelValues(string(step.Channel), "failed").Inc()
		s.log.Warn().
			Str("enrollment_id", e.ID).
			Str("action_id", entry.ID).
			Int("attempts", attempts).
			Str("error", msg).
			Msg("step send failed; queued for reconciliation retry")
		return nil
	}
}

// resolveContent returns the step's template, or a context-aware follow-up
// when the enrollment is past day 1 and prior conversation history exists.
// Generation failures fall back to the template and never abort the send.
func (s *CadenceEngine) resolveContent(ctx context.Context, e *domain.Enrollment, step *domain.CadenceStep) string {
	if s.ctxGen == nil || e.CurrentDay <= 1 || step.Channel != domain.ChannelMessage {
		return step.Content
	}
	has, err := s.ctxGen.HasConversationHistory(ctx, e.ContactID)
	if err != nil || !has {
		return step.Content
	}
	gen, err := s.ctxGen.GenerateContextualFollowUp(ctx, e.ContactID, e.CurrentDay)
	if err != nil {
		s.log.Debug().Err(err).Str("contact_id", e.ContactID).Msg("context generation failed; using template")
		return step.Content
	}
	return sysutil.FirstNonEmpty(gen, step.Content)
}

// sendWithRetry dispatches through the channel abstraction under the
// backoff executor. It returns the final result, total attempts made, and
// the terminal error (nil on success, errChannelBlocked for channel-level
// dedup).
func (s *CadenceEngine) sendWithRetry(ctx context.Context, ch domain.Channel, address, body string) (channel.SendResult, int, error) {
	var last channel.SendResult
	attempts := 0

	err := s.retrier.Do(ctx, func() error {
		attempts++
		var (
			res channel.SendResult
			err error
		)
		switch ch {
		case domain.ChannelEmail:
			res, err = s.emails.SendEmail(ctx, address, body)
		default:
			res, err = s.messages.SendMessage(ctx, address, body)
		}
		if err != nil {
			return err // transport error: transient, retry
		}
		last = res
		if res.Blocked {
			return retry.Permanent(errChannelBlocked)
		}
		if !res.Success {
			return fmt.Errorf("channel rejected send: %s", res.Error)
		}
		return nil
	})
	return last, attempts, err
}

// bumpSendCounters increments the per-channel counters on the enrollment
// and mirrors them onto the projection. Counter drift here is repaired by
// reconciliation, so failures are logged, not returned.
func (s *CadenceEngine) bumpSendCounters(ctx context.Context, e *domain.Enrollment, ch domain.Channel) {
	col := "messages_sent"
	if ch == domain.ChannelEmail {
		col = "emails_sent"
	}
	if err := s.db.WithContext(ctx).
		Model(&domain.Enrollment{}).
		Where("id = ?", e.ID).
		Update(col, gorm.Expr(col+" + 1")).Error; err != nil {
		s.log.Error().Err(err).Str("enrollment_id", e.ID).Msg("failed to bump send counter")
		return
	}
	s.project(ctx, e.ContactID, map[string]any{"cadence_day": e.CurrentDay})
}

// ResendAction re-dispatches a previously failed action log entry with
// the originally rendered content. Called by the reconciliation retry
// pass; the entry's retry_count is incremented whatever the outcome.
func (s *CadenceEngine) ResendAction(ctx context.Context, a *domain.ActionLogEntry) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	res, _, sendErr := s.sendWithRetry(ctx, a.Channel, a.ContactID, a.ContentSent)
	switch {
	case sendErr == nil && res.Success:
		if err := repo.UpdateActionLog(ctx, s.db, a.ID, map[string]any{
			"status":              domain.ActionSent,
			"external_message_id": res.ExternalID,
			"error_message":       "",
			"retry_count":         a.RetryCount + 1,
		}); err != nil {
			return err
		}
		s.tracker.RegisterMessage(a.ID, res.ExternalID, a.ContactID)
		if e, err := repo.GetEnrollment(ctx, s.db, a.EnrollmentID, s.tenant); err == nil {
			s.bumpSendCounters(ctx, e, a.Channel)
		}
		observability.SendsTotal.WithLabelValues(string(a.Channel), "sent").Inc()
		s.log.Info().
			Str("action_id", a.ID).
			Int("retry_count", a.RetryCount+1).
			Msg("failed action resent")
		return nil

	case errors.Is(sendErr, errChannelBlocked):
		if err := repo.UpdateActionLog(ctx, s.db, a.ID, map[string]any{
			"error_message": errChannelBlocked.Error(),
			"retry_count":   a.RetryCount + 1,
		}); err != nil {
			return err
		}
		observability.SendsTotal.WithLabelValues(string(a.Channel), "blocked").Inc()
		e, err := repo.GetEnrollment(ctx, s.db, a.EnrollmentID, s.tenant)
		if err != nil {
			return err
		}
		return s.stopEnrollment(ctx, e, domain.CompletionChannelBlocked, "channel_blocked")

	default:
		msg := "send failed"
		if sendErr != nil {
			msg = sendErr.Error()
		}
		return repo.UpdateActionLog(ctx, s.db, a.ID, map[string]any{
			"error_message": msg,
			"retry_count":   a.RetryCount + 1,
		})
	}
}

// HandleResponse marks the contact's active enrollment as responded and
// records first-response metadata. Reports ErrNoActiveEnrollment when the
// contact is not in a cadence, which callers treat as a normal outcome.
func (s *CadenceEngine) HandleResponse(ctx context.Context, contactID string, data ResponseData) error {
	contactID = sysutil.NormalizePhone(contactID)
	tr := otel.Tracer("services/CadenceEngine")
	ctx, span := tr.Start(ctx, "HandleResponse",
		trace.WithAttributes(attribute.String("contact.id", contactID)),
	)
	defer span.End()

	e, err := repo.GetActiveEnrollment(ctx, s.db, contactID, s.tenant)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNoActiveEnrollment
	} else if err != nil {
		return err
	}

	now := s.now()
	if err := repo.UpdateEnrollment(ctx, s.db, e.ID, map[string]any{
		"status":           domain.EnrollmentResponded,
		"responded_at":     now,
		"response_channel": data.Channel,
		"response_day":     e.CurrentDay,
	}); err != nil {
		return err
	}
	s.audit(ctx, contactID, domain.StageInCadence, domain.StageResponded, actorEngine, "inbound response: "+data.Type)
	s.project(ctx, contactID, map[string]any{
		"stage":               domain.StageResponded,
		"cadence_status":      string(domain.EnrollmentResponded),
		"last_interaction_at": now,
	})
	s.emitter.Emit(ctx, Event{
		Type: EventResponded, EnrollmentID: e.ID, ContactID: contactID,
		TenantID: s.tenant, At: now,
	})
	observability.EnrollmentTransitionsTotal.WithLabelValues(string(domain.EnrollmentResponded)).Inc()
	s.log.Info().
		Str("enrollment_id", e.ID).
		Str("contact_id", contactID).
		Int("day", e.CurrentDay).
		Str("channel", data.Channel).
		Msg("response recorded")
	return nil
}

// StopCadenceForBot force-stops the contact's active enrollment after an
// external bot-detection trip. Idempotent: a missing or already-stopped
// enrollment is a no-op.
func (s *CadenceEngine) StopCadenceForBot(ctx context.Context, contactID string) error {
	contactID = sysutil.NormalizePhone(contactID)
	e, err := repo.GetActiveEnrollment(ctx, s.db, contactID, s.tenant)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	return s.stopEnrollment(ctx, e, domain.CompletionBotDetected, "bot_detected")
}

// RecordInteraction stamps the contact's last-interaction timestamp
// without altering lifecycle status. Used to inform suppression decisions
// without ending the sequence.
func (s *CadenceEngine) RecordInteraction(ctx context.Context, contactID string) error {
	return repo.TouchLeadInteraction(ctx, s.db, sysutil.NormalizePhone(contactID), s.tenant, s.now())
}

// Pause places an active enrollment on admin hold. The enrollment keeps
// counting toward the exclusivity invariant and is neither advanced nor
// executed until resumed.
func (s *CadenceEngine) Pause(ctx context.Context, contactID, actor string) error {
	e, err := repo.GetActiveEnrollment(ctx, s.db, contactID, s.tenant)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNoActiveEnrollment
	} else if err != nil {
		return err
	}
	if err := repo.UpdateEnrollment(ctx, s.db, e.ID, map[string]any{
		"status": domain.EnrollmentPaused,
	}); err != nil {
		return err
	}
	s.audit(ctx, contactID, domain.StageInCadence, domain.StageInCadence, actor, "paused")
	s.project(ctx, contactID, map[string]any{"cadence_status": string(domain.EnrollmentPaused)})
	observability.EnrollmentTransitionsTotal.WithLabelValues(string(domain.EnrollmentPaused)).Inc()
	return nil
}

// Resume returns a paused or responded enrollment to active. Terminal
// enrollments cannot be resumed.
func (s *CadenceEngine) Resume(ctx context.Context, contactID, actor string) error {
	e, err := s.findResumable(ctx, contactID)
	if err != nil {
		return err
	}
	if err := repo.UpdateEnrollment(ctx, s.db, e.ID, map[string]any{
		"status": domain.EnrollmentActive,
	}); err != nil {
		return err
	}
	s.audit(ctx, contactID, domain.StageInCadence, domain.StageInCadence, actor, "resumed")
	s.project(ctx, contactID, map[string]any{
		"stage":          domain.StageInCadence,
		"cadence_status": string(domain.EnrollmentActive),
	})
	observability.EnrollmentTransitionsTotal.WithLabelValues(string(domain.EnrollmentActive)).Inc()
	return nil
}

// findResumable locates the contact's paused or responded enrollment.
func (s *CadenceEngine) findResumable(ctx context.Context, contactID string) (*domain.Enrollment, error) {
	var e domain.Enrollment
	err := s.db.WithContext(ctx).
		Where("contact_id = ? AND tenant_id = ? AND status IN ?",
			contactID, s.tenant,
			[]domain.EnrollmentStatus{domain.EnrollmentPaused, domain.EnrollmentResponded}).
		Order("enrolled_at desc").
		First(&e).Error
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNoActiveEnrollment
	} else if err != nil {
		return nil, err
	}
	return &e, nil
}

// stopEnrollment transitions an enrollment to stopped, updates projection
// and audit trail, and emits the stopped event. Idempotent on terminal
// enrollments.
func (s *CadenceEngine) stopEnrollment(ctx context.Context, e *domain.Enrollment, reason, auditReason string) error {
	if e.Status.Terminal() {
		return nil
	}
	now := s.now()
	if err := repo.UpdateEnrollment(ctx, s.db, e.ID, map[string]any{
		"status":            domain.EnrollmentStopped,
		"completed_at":      now,
		"completion_reason": reason,
	}); err != nil {
		return err
	}
	e.Status = domain.EnrollmentStopped
	s.audit(ctx, e.ContactID, domain.StageInCadence, domain.StageStopped, actorEngine, auditReason)
	s.project(ctx, e.ContactID, map[string]any{
		"stage":          domain.StageStopped,
		"cadence_status": string(domain.EnrollmentStopped),
	})
	s.emitter.Emit(ctx, Event{
		Type: EventStopped, EnrollmentID: e.ID, ContactID: e.ContactID,
		TenantID: s.tenant, At: now,
	})
	observability.EnrollmentTransitionsTotal.WithLabelValues(string(domain.EnrollmentStopped)).Inc()
	s.log.Info().
		Str("enrollment_id", e.ID).
		Str("contact_id", e.ContactID).
		Str("reason", reason).
		Msg("enrollment stopped")
	return nil
}

// audit appends a pipeline transition; audit failures are logged, never
// propagated, so a full audit table cannot halt the lifecycle.
func (s *CadenceEngine) audit(ctx context.Context, contactID, from, to, actor, reason string) {
	if err := repo.AppendPipelineTransition(ctx, s.db, contactID, from, to, actor, reason, s.tenant); err != nil {
		s.log.Error().Err(err).Str("contact_id", contactID).Msg("failed to append pipeline transition")
	}
}

// project upserts fields onto the lead projection. The projection is
// non-authoritative; failures are logged and left to reconciliation.
func (s *CadenceEngine) project(ctx context.Context, contactID string, fields map[string]any) {
	if _, err := repo.UpsertLead(ctx, s.db, contactID, fields, s.tenant); err != nil {
		s.log.Error().Err(err).Str("contact_id", contactID).Msg("failed to update lead projection")
	}
}

// businessDate formats t as a calendar date in the business timezone.
func (s *CadenceEngine) businessDate(t time.Time) string {
	return t.In(s.loc).Format("2006-01-02")
}
