// Package services – Reconciler
//
// This file implements the reconciliation service: periodic jobs that
// detect and repair divergence between the authoritative Enrollment store
// and the denormalized lead projection, plus the hourly retry pass over
// failed actions. The Enrollment aggregate always wins: projections and
// upstream records are repaired toward it, never the reverse.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/salesloop/go-outreach-backend/internal/domain"
	"github.com/salesloop/go-outreach-backend/internal/observability"
	"github.com/salesloop/go-outreach-backend/internal/repo"
)

// Divergence categories counted by quick sync and labeled on repair metrics.
const (
	categoryMissingEnrollment = "missing_enrollment"
	categoryQueuedPromotable  = "queued_promotable"
	categoryMissingContact    = "missing_contact"
	categoryStatusMismatch    = "status_mismatch"
	categoryDuplicateRecord   = "duplicate_record"
	categoryStalePending      = "stale_pending"
)

// DivergenceCounts summarizes the four categories quick sync inspects.
type DivergenceCounts struct {
	MissingEnrollments int `json:"missing_enrollments"`
	QueuedPromotable   int `json:"queued_promotable"`
	MissingContacts    int `json:"missing_contacts"`
	StatusMismatches   int `json:"status_mismatches"`
}

// Total returns the sum across all categories.
func (d DivergenceCounts) Total() int {
	return d.MissingEnrollments + d.QueuedPromotable + d.MissingContacts + d.StatusMismatches
}

// Reconciler runs the full-sync, quick-sync, and failed-action retry
// jobs for one tenant scope. A cooperative running flag (not a
// distributed lock — the subsystem runs as a single scheduler instance)
// prevents overlapping full syncs, and a cooldown bounds how often quick
// sync may reactively trigger a full one.
type Reconciler struct {
	db     *gorm.DB
	log    zerolog.Logger
	tenant string
	engine *CadenceEngine

	retryWindow  time.Duration
	maxRetries   int
	stalePending time.Duration
	cooldown     time.Duration

	mu           sync.Mutex
	running      bool
	lastFullSync time.Time

	now func() time.Time
}

// ReconcilerDeps bundles the collaborators a Reconciler needs.
type ReconcilerDeps struct {
	DB     *gorm.DB
	Log    zerolog.Logger
	Tenant string
	Engine *CadenceEngine

	RetryWindow       time.Duration // age limit for failed-action retries
	MaxRetries        int           // resend cap per action
	StalePendingAfter time.Duration // age at which a pending send counts as interrupted
	FullSyncCooldown  time.Duration // min spacing of reactive full syncs
	Now               func() time.Time
}

// NewReconciler constructs a Reconciler with sane defaults.
func NewReconciler(d ReconcilerDeps) *Reconciler {
	if d.RetryWindow <= 0 {
		d.RetryWindow = 24 * time.Hour
	}
	if d.MaxRetries <= 0 {
		d.MaxRetries = 3
	}
	if d.StalePendingAfter <= 0 {
		d.StalePendingAfter = time.Hour
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{
		db:           d.DB,
		log:          d.Log.With().Str("component", "reconciler").Logger(),
		tenant:       d.Tenant,
		engine:       d.Engine,
		retryWindow:  d.RetryWindow,
		maxRetries:   d.MaxRetries,
		stalePending: d.StalePendingAfter,
		cooldown:     d.FullSyncCooldown,
		now:          d.Now,
	}
}

// RunQuickSync counts the four divergence categories and, when any is
// non-zero, triggers a full sync — unless one ran within the cooldown
// window, in which case the divergence is left for the nightly pass.
func (r *Reconciler) RunQuickSync(ctx context.Context) (DivergenceCounts, error) {
	tr := otel.Tracer("services/Reconciler")
	ctx, span := tr.Start(ctx, "RunQuickSync")
	defer span.End()

	counts, err := r.countDivergence(ctx)
	if err != nil {
		return counts, err
	}
	if counts.Total() == 0 {
		r.log.Info().Msg("quick sync: no divergence")
		return counts, nil
	}

	r.log.Warn().
		Int("missing_enrollments", counts.MissingEnrollments).
		Int("queued_promotable", counts.QueuedPromotable).
		Int("missing_contacts", counts.MissingContacts).
		Int("status_mismatches", counts.StatusMismatches).
		Msg("quick sync found divergence")

	r.mu.Lock()
	withinCooldown := !r.lastFullSync.IsZero() && r.now().Sub(r.lastFullSync) < r.cooldown
	r.mu.Unlock()
	if withinCooldown {
		r.log.Info().Msg("quick sync: full sync suppressed by cooldown")
		return counts, nil
	}

	if err := r.RunFullSync(ctx); err != nil && !errors.Is(err, ErrSyncRunning) {
		return counts, err
	}
	return counts, nil
}

// countDivergence computes the quick-sync categories without mutating
// anything.
func (r *Reconciler) countDivergence(ctx context.Context) (DivergenceCounts, error) {
	var counts DivergenceCounts

	leads, err := repo.ListLeadsClaimingActiveCadence(ctx, r.db, r.tenant)
	if err != nil {
		return counts, err
	}
	for i := range leads {
		e, err := repo.GetOpenEnrollment(ctx, r.db, leads[i].Phone, r.tenant)
		if errors.Is(err, repo.ErrNotFound) {
			counts.MissingEnrollments++
			continue
		} else if err != nil {
			return counts, err
		}
		if e.Status != domain.EnrollmentActive {
			counts.StatusMismatches++
		}
	}

	queued, err := repo.ListOutreachByStatus(ctx, r.db, r.tenant, domain.OutreachQueued)
	if err != nil {
		return counts, err
	}
	for i := range queued {
		if _, err := repo.GetLeadByPhone(ctx, r.db, queued[i].Phone, r.tenant); err == nil {
			counts.QueuedPromotable++
		} else if !errors.Is(err, repo.ErrNotFound) {
			return counts, err
		}
	}

	sent, err := repo.ListOutreachByStatus(ctx, r.db, r.tenant, domain.OutreachSent)
	if err != nil {
		return counts, err
	}
	for i := range sent {
		if _, err := repo.GetLeadByPhone(ctx, r.db, sent[i].Phone, r.tenant); errors.Is(err, repo.ErrNotFound) {
			counts.MissingContacts++
		} else if err != nil {
			return counts, err
		}
	}

	return counts, nil
}

// RunFullSync performs the five repair steps in order. Each step is
// independently idempotent and tolerant of partial prior runs; per-record
// errors are collected and do not abort the batch. Returns ErrSyncRunning
// if another full sync is in progress.
func (r *Reconciler) RunFullSync(ctx context.Context) error {
	tr := otel.Tracer("services/Reconciler")
	ctx, span := tr.Start(ctx, "RunFullSync")
	defer span.End()

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrSyncRunning
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.lastFullSync = r.now()
		r.mu.Unlock()
	}()

	start := r.now()
	var errs []error
	errs = append(errs, r.createMissingEnrollments(ctx)...)
	errs = append(errs, r.promoteQueuedRecords(ctx)...)
	errs = append(errs, r.createMissingContacts(ctx)...)
	errs = append(errs, r.fixStatusMismatches(ctx)...)
	errs = append(errs, r.removeDuplicateRecords(ctx)...)

	observability.FullSyncsTotal.Inc()
	r.log.Info().
		Dur("elapsed", r.now().Sub(start)).
		Int("errors", len(errs)).
		Msg("full sync finished")
	return errors.Join(errs...)
}

// createMissingEnrollments backfills an Enrollment for every projection
// that claims an active cadence but has no open enrollment row. Day 1 is
// logged as already sent so the backfill cannot cause duplicate sends.
func (r *Reconciler) createMissingEnrollments(ctx context.Context) []error {
	leads, err := repo.ListLeadsClaimingActiveCadence(ctx, r.db, r.tenant)
	if err != nil {
		return []error{err}
	}
	var errs []error
	for i := range leads {
		lead := &leads[i]
		if _, err := repo.GetOpenEnrollment(ctx, r.db, lead.Phone, r.tenant); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		if err := r.backfillEnrollment(ctx, lead.Phone, lead.CadenceDay); err != nil {
			errs = append(errs, fmt.Errorf("lead %s: %w", lead.Phone, err))
			continue
		}
		observability.ReconciliationRepairsTotal.WithLabelValues(categoryMissingEnrollment).Inc()
		r.log.Info().Str("phone", lead.Phone).Msg("backfilled missing enrollment")
	}
	return errs
}

// backfillEnrollment creates an enrollment in the tenant's default
// cadence at the given day (coerced into 1..duration) with day 1 marked
// pre-sent.
func (r *Reconciler) backfillEnrollment(ctx context.Context, phone string, day int) error {
	cadence, err := repo.GetDefaultCadence(ctx, r.db, r.tenant)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNoCadenceAvailable
	} else if err != nil {
		return err
	}
	if day < 1 {
		day = 1
	}
	if day > cadence.DurationDays {
		day = cadence.DurationDays
	}
	e := &domain.Enrollment{
		CadenceID:  cadence.ID,
		ContactID:  phone,
		Status:     domain.EnrollmentActive,
		CurrentDay: day,
		EnrolledAt: r.now(),
		TenantID:   r.tenant,
	}
	if err := repo.CreateEnrollment(ctx, r.db, e); err != nil {
		return err
	}
	return r.engine.MarkDayPreSent(ctx, e, 1)
}

// promoteQueuedRecords flips queued upstream records to sent once a
// matching contact exists.
func (r *Reconciler) promoteQueuedRecords(ctx context.Context) []error {
	queued, err := repo.ListOutreachByStatus(ctx, r.db, r.tenant, domain.OutreachQueued)
	if err != nil {
		return []error{err}
	}
	var errs []error
	for i := range queued {
		rec := &queued[i]
		if _, err := repo.GetLeadByPhone(ctx, r.db, rec.Phone, r.tenant); errors.Is(err, repo.ErrNotFound) {
			continue
		} else if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := repo.MarkOutreachSent(ctx, r.db, rec.ID, r.now()); err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", rec.ID, err))
			continue
		}
		observability.ReconciliationRepairsTotal.WithLabelValues(categoryQueuedPromotable).Inc()
	}
	return errs
}

// createMissingContacts creates a lead projection (and a backfilled
// enrollment) for upstream records marked sent with no contact row.
func (r *Reconciler) createMissingContacts(ctx context.Context) []error {
	sent, err := repo.ListOutreachByStatus(ctx, r.db, r.tenant, domain.OutreachSent)
	if err != nil {
		return []error{err}
	}
	var errs []error
	for i := range sent {
		rec := &sent[i]
		if _, err := repo.GetLeadByPhone(ctx, r.db, rec.Phone, r.tenant); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		if _, err := repo.UpsertLead(ctx, r.db, rec.Phone, map[string]any{
			"stage":          domain.StageInCadence,
			"cadence_status": string(domain.EnrollmentActive),
			"cadence_day":    1,
		}, r.tenant); err != nil {
			errs = append(errs, fmt.Errorf("lead %s: %w", rec.Phone, err))
			continue
		}
		if err := r.backfillEnrollment(ctx, rec.Phone, 1); err != nil {
			errs = append(errs, fmt.Errorf("lead %s: %w", rec.Phone, err))
			continue
		}
		observability.ReconciliationRepairsTotal.WithLabelValues(categoryMissingContact).Inc()
		r.log.Info().Str("phone", rec.Phone).Msg("created missing contact from upstream record")
	}
	return errs
}

// fixStatusMismatches repairs projections whose cadence claim disagrees
// with the underlying enrollment. The enrollment is authoritative.
func (r *Reconciler) fixStatusMismatches(ctx context.Context) []error {
	leads, err := repo.ListLeadsClaimingActiveCadence(ctx, r.db, r.tenant)
	if err != nil {
		return []error{err}
	}
	var errs []error
	for i := range leads {
		lead := &leads[i]
		e, err := repo.GetOpenEnrollment(ctx, r.db, lead.Phone, r.tenant)
		if errors.Is(err, repo.ErrNotFound) {
			continue // handled by createMissingEnrollments
		} else if err != nil {
			errs = append(errs, err)
			continue
		}
		if e.Status == domain.EnrollmentActive && e.CurrentDay == lead.CadenceDay {
			continue
		}
		if _, err := repo.UpsertLead(ctx, r.db, lead.Phone, map[string]any{
			"cadence_status": string(e.Status),
			"cadence_day":    e.CurrentDay,
		}, r.tenant); err != nil {
			errs = append(errs, fmt.Errorf("lead %s: %w", lead.Phone, err))
			continue
		}
		observability.ReconciliationRepairsTotal.WithLabelValues(categoryStatusMismatch).Inc()
		r.log.Info().
			Str("phone", lead.Phone).
			Str("status", string(e.Status)).
			Msg("repaired projection status from enrollment")
	}
	return errs
}

// removeDuplicateRecords deletes duplicate upstream rows per phone,
// keeping the most recent.
func (r *Reconciler) removeDuplicateRecords(ctx context.Context) []error {
	phones, err := repo.ListDuplicateOutreachPhones(ctx, r.db, r.tenant)
	if err != nil {
		return []error{err}
	}
	var errs []error
	for _, phone := range phones {
		n, err := repo.DeleteOlderOutreachDuplicates(ctx, r.db, phone, r.tenant)
		if err != nil {
			errs = append(errs, fmt.Errorf("phone %s: %w", phone, err))
			continue
		}
		for j := int64(0); j < n; j++ {
			observability.ReconciliationRepairsTotal.WithLabelValues(categoryDuplicateRecord).Inc()
		}
	}
	return errs
}

// RetryFailedActions resends failed action log entries younger than the
// retry window and under the retry cap. Pending message/email entries
// older than the stale-pending window are first swept into failed, so
// sends interrupted mid-flight rejoin the retry queue instead of wedging
// as pending. Sends are paced by the engine's shared limiter; per-record
// errors are collected and do not abort the pass.
func (r *Reconciler) RetryFailedActions(ctx context.Context) error {
	tr := otel.Tracer("services/Reconciler")
	ctx, span := tr.Start(ctx, "RetryFailedActions")
	defer span.End()

	swept, err := repo.SweepStalePendingActions(ctx, r.db, r.tenant, r.now().Add(-r.stalePending))
	if err != nil {
		return err
	}
	if swept > 0 {
		for i := int64(0); i < swept; i++ {
			observability.ReconciliationRepairsTotal.WithLabelValues(categoryStalePending).Inc()
		}
		r.log.Warn().Int64("count", swept).Msg("swept stale pending actions into retry queue")
	}

	cutoff := r.now().Add(-r.retryWindow)
	failed, err := repo.ListFailedActions(ctx, r.db, r.tenant, cutoff, r.maxRetries)
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		return nil
	}
	r.log.Info().Int("count", len(failed)).Msg("retrying failed actions")

	var errs []error
	for i := range failed {
		if err := r.engine.ResendAction(ctx, &failed[i]); err != nil {
			errs = append(errs, fmt.Errorf("action %s: %w", failed[i].ID, err))
		}
	}
	return errors.Join(errs...)
}
