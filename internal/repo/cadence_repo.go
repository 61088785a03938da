// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for cadence
// templates and their steps.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a cadence is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/salesloop/go-outreach-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateCadence inserts a cadence template with a generated UUID.
func CreateCadence(ctx context.Context, db *gorm.DB, c *domain.Cadence) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(c).Error
}

// CreateCadenceStep inserts one step row for an existing cadence.
func CreateCadenceStep(ctx context.Context, db *gorm.DB, s *domain.CadenceStep) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(s).Error
}

// GetCadence fetches an active cadence by ID within a tenant, or
// ErrNotFound if missing or inactive.
func GetCadence(ctx context.Context, db *gorm.DB, id, tenantID string) (*domain.Cadence, error) {
	var c domain.Cadence
	err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ? AND is_active = ?", id, tenantID, true).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetDefaultCadence returns the tenant's default active cadence, or
// ErrNotFound when none is configured. When several are flagged default
// the most recently created wins.
func GetDefaultCadence(ctx context.Context, db *gorm.DB, tenantID string) (*domain.Cadence, error) {
	var c domain.Cadence
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND is_default = ? AND is_active = ?", tenantID, true, true).
		Order("created_at desc").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListStepsForDay returns the active steps of a cadence scheduled for the
// given day, ordered by step_order ascending. Returns an empty slice when
// the day has no steps.
func ListStepsForDay(ctx context.Context, db *gorm.DB, cadenceID string, day int, tenantID string) ([]domain.CadenceStep, error) {
	var out []domain.CadenceStep
	err := db.WithContext(ctx).
		Where("cadence_id = ? AND day = ? AND tenant_id = ? AND is_active = ?", cadenceID, day, tenantID, true).
		Order("step_order asc").
		Find(&out).Error
	return out, err
}
