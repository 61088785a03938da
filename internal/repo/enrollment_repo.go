// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Enrollment aggregate.
//
// Enrollments are never physically deleted; lifecycle changes are status
// updates. The active/paused exclusivity invariant is enforced here with a
// pre-insert query rather than a partial unique index, which SQLite's
// migration path through GORM does not express.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/salesloop/go-outreach-backend/internal/domain"
)

// CreateEnrollment inserts an enrollment row with a generated UUID and UTC
// enrollment timestamp.
func CreateEnrollment(ctx context.Context, db *gorm.DB, e *domain.Enrollment) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.EnrolledAt.IsZero() {
		e.EnrolledAt = time.Now().UTC()
	}
	if e.CurrentDay == 0 {
		e.CurrentDay = 1
	}
	if e.Status == "" {
		e.Status = domain.EnrollmentActive
	}
	return db.WithContext(ctx).Create(e).Error
}

// GetEnrollment fetches an enrollment by ID within a tenant, or ErrNotFound.
func GetEnrollment(ctx context.Context, db *gorm.DB, id, tenantID string) (*domain.Enrollment, error) {
	var e domain.Enrollment
	err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetOpenEnrollment returns the contact's enrollment with status active or
// paused, or ErrNotFound. At most one such row exists per (contact,
// tenant) pair.
func GetOpenEnrollment(ctx context.Context, db *gorm.DB, contactID, tenantID string) (*domain.Enrollment, error) {
	var e domain.Enrollment
	err := db.WithContext(ctx).
		Where("contact_id = ? AND tenant_id = ? AND status IN ?",
			contactID, tenantID,
			[]domain.EnrollmentStatus{domain.EnrollmentActive, domain.EnrollmentPaused}).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetActiveEnrollment returns the contact's most recent active enrollment,
// or ErrNotFound.
func GetActiveEnrollment(ctx context.Context, db *gorm.DB, contactID, tenantID string) (*domain.Enrollment, error) {
	var e domain.Enrollment
	err := db.WithContext(ctx).
		Where("contact_id = ? AND tenant_id = ? AND status = ?",
			contactID, tenantID, domain.EnrollmentActive).
		Order("enrolled_at desc").
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListActiveEnrollments returns all active enrollments for a tenant,
// oldest first so the daily jobs drain in enrollment order.
func ListActiveEnrollments(ctx context.Context, db *gorm.DB, tenantID string) ([]domain.Enrollment, error) {
	var out []domain.Enrollment
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, domain.EnrollmentActive).
		Order("enrolled_at asc").
		Find(&out).Error
	return out, err
}

// EnrollmentCursor marks the last enrollment a bounded batch processed.
// The zero value starts from the oldest enrollment.
type EnrollmentCursor struct {
	EnrolledAt time.Time
	ID         string
}

// ListActiveEnrollmentsAfter returns a bounded batch of active enrollments
// strictly after the cursor in (enrolled_at, id) order. The hourly
// execution job pages with this across runs so overflow beyond one batch
// is picked up by the next run instead of starving behind the oldest rows.
func ListActiveEnrollmentsAfter(ctx context.Context, db *gorm.DB, tenantID string, cur EnrollmentCursor, limit int) ([]domain.Enrollment, error) {
	q := db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, domain.EnrollmentActive)
	if cur.ID != "" {
		q = q.Where("enrolled_at > ? OR (enrolled_at = ? AND id > ?)",
			cur.EnrolledAt, cur.EnrolledAt, cur.ID)
	}
	var out []domain.Enrollment
	err := q.Order("enrolled_at asc, id asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateEnrollment persists the given field set on an enrollment row.
// Fields use column names; the caller owns which columns change.
func UpdateEnrollment(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Enrollment{}).
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

// CountEnrollmentsByStatus returns the number of enrollments in the given
// status for a tenant.
func CountEnrollmentsByStatus(ctx context.Context, db *gorm.DB, tenantID string, status domain.EnrollmentStatus) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Enrollment{}).
		Where("tenant_id = ? AND status = ?", tenantID, status).
		Count(&n).Error
	return n, err
}
