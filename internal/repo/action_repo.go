// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// append-only action log, whose unique (enrollment_id, step_id, day) index
// implements safe-retry semantics for step execution.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/salesloop/go-outreach-backend/internal/domain"
)

// ErrDuplicate indicates that an action log entry already exists for the
// given (enrollment, step, day) idempotency key.
var ErrDuplicate = errors.New("duplicate")

// CreateActionLog inserts an action log entry and returns ErrDuplicate on
// a unique violation of the idempotency key.
func CreateActionLog(ctx context.Context, db *gorm.DB, a *domain.ActionLogEntry) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.ExecutedAt.IsZero() {
		a.ExecutedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = domain.ActionPending
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetActionLog fetches an entry by ID, or ErrNotFound.
func GetActionLog(ctx context.Context, db *gorm.DB, id string) (*domain.ActionLogEntry, error) {
	var a domain.ActionLogEntry
	if err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// GetActionForStep returns the entry for the idempotency key (enrollment,
// step, day), or ErrNotFound.
func GetActionForStep(ctx context.Context, db *gorm.DB, enrollmentID, stepID string, day int) (*domain.ActionLogEntry, error) {
	var a domain.ActionLogEntry
	err := db.WithContext(ctx).
		Where("enrollment_id = ? AND step_id = ? AND day = ?", enrollmentID, stepID, day).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateActionLog persists the given field set on an entry.
func UpdateActionLog(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.ActionLogEntry{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateActionStatusIfNewer applies a delivery callback to an entry only
// when the new status supersedes the stored one, so terminal states never
// regress under racing callbacks. Returns true when the row changed.
func UpdateActionStatusIfNewer(ctx context.Context, db *gorm.DB, id string, status domain.ActionStatus) (bool, error) {
	updated := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a domain.ActionLogEntry
		if err := tx.Where("id = ?", id).First(&a).Error; err != nil {
			return err
		}
		if !status.Supersedes(a.Status) {
			return nil
		}
		if err := tx.Model(&domain.ActionLogEntry{}).
			Where("id = ?", id).
			Update("status", status).Error; err != nil {
			return err
		}
		updated = true
		return nil
	})
	return updated, err
}

// LastSentContent returns the content of the contact's most recent
// dispatched entry, or ErrNotFound. Follow-up generation uses it as the
// retrieval query so the next touch stays on topic.
func LastSentContent(ctx context.Context, db *gorm.DB, contactID, tenantID string) (string, error) {
	var a domain.ActionLogEntry
	err := db.WithContext(ctx).
		Where("contact_id = ? AND tenant_id = ? AND status IN ?",
			contactID, tenantID,
			[]domain.ActionStatus{domain.ActionSent, domain.ActionDelivered, domain.ActionRead}).
		Order("executed_at desc").
		First(&a).Error
	if err != nil {
		return "", err
	}
	return a.ContentSent, nil
}

// SweepStalePendingActions marks message and email entries still pending
// past the cutoff as failed, so the retry pass picks them up. These are
// sends a crash interrupted between the idempotency claim and the
// outcome. Task entries stay pending: they wait for a human, not a
// retry. Returns the number of rows swept.
func SweepStalePendingActions(ctx context.Context, db *gorm.DB, tenantID string, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.ActionLogEntry{}).
		Where("tenant_id = ? AND status = ? AND channel IN ? AND executed_at < ?",
			tenantID, domain.ActionPending,
			[]domain.Channel{domain.ChannelMessage, domain.ChannelEmail}, cutoff).
		Updates(map[string]any{
			"status":        domain.ActionFailed,
			"error_message": "send interrupted before completion",
		})
	return res.RowsAffected, res.Error
}

// ListFailedActions returns failed entries executed after the cutoff and
// retried fewer than maxRetries times, oldest first. Feeds the hourly
// reconciliation retry pass.
func ListFailedActions(ctx context.Context, db *gorm.DB, tenantID string, cutoff time.Time, maxRetries int) ([]domain.ActionLogEntry, error) {
	var out []domain.ActionLogEntry
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND executed_at > ? AND retry_count < ?",
			tenantID, domain.ActionFailed, cutoff, maxRetries).
		Order("executed_at asc").
		Find(&out).Error
	return out, err
}
