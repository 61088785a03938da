// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// denormalized lead projection consumed by pipelines and reporting.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/salesloop/go-outreach-backend/internal/domain"
)

// UpsertLead writes projection fields for a phone within a tenant,
// creating the row when absent. Fields use column names so callers can
// update any projection subset in one statement.
func UpsertLead(ctx context.Context, db *gorm.DB, phone string, fields map[string]any, tenantID string) (*domain.Lead, error) {
	var lead domain.Lead
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("phone = ? AND tenant_id = ?", phone, tenantID).First(&lead).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			lead = domain.Lead{
				ID:        uuid.NewString(),
				Phone:     phone,
				Stage:     domain.StageNew,
				TenantID:  tenantID,
				CreatedAt: time.Now().UTC(),
			}
			if err := tx.Create(&lead).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		if len(fields) == 0 {
			return nil
		}
		if err := tx.Model(&domain.Lead{}).Where("id = ?", lead.ID).Updates(fields).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", lead.ID).First(&lead).Error
	})
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// GetLeadByPhone fetches a projection row, or ErrNotFound.
func GetLeadByPhone(ctx context.Context, db *gorm.DB, phone, tenantID string) (*domain.Lead, error) {
	var l domain.Lead
	err := db.WithContext(ctx).
		Where("phone = ? AND tenant_id = ?", phone, tenantID).
		First(&l).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListLeadsClaimingActiveCadence returns projections that claim an active
// cadence. Reconciliation checks each claim against the enrollment store.
func ListLeadsClaimingActiveCadence(ctx context.Context, db *gorm.DB, tenantID string) ([]domain.Lead, error) {
	var out []domain.Lead
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND stage = ? AND cadence_status = ?",
			tenantID, domain.StageInCadence, string(domain.EnrollmentActive)).
		Find(&out).Error
	return out, err
}

// TouchLeadInteraction stamps the last-interaction timestamp without
// altering any cadence state. Missing rows are not an error: interactions
// can arrive for contacts the projection has never seen.
func TouchLeadInteraction(ctx context.Context, db *gorm.DB, phone, tenantID string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Lead{}).
		Where("phone = ? AND tenant_id = ?", phone, tenantID).
		Update("last_interaction_at", at).Error
}
