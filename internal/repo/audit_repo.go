// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the append-only pipeline audit
// writer used on every enrollment lifecycle transition.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/salesloop/go-outreach-backend/internal/domain"
)

// AppendPipelineTransition writes one audit row. Rows are never updated
// or deleted afterwards.
func AppendPipelineTransition(ctx context.Context, db *gorm.DB, contactID, fromStage, toStage, actor, reason, tenantID string) error {
	rec := &domain.PipelineTransition{
		ID:        uuid.NewString(),
		ContactID: contactID,
		FromStage: fromStage,
		ToStage:   toStage,
		Actor:     actor,
		Reason:    reason,
		TenantID:  tenantID,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(rec).Error
}

// ListPipelineTransitions returns a contact's audit trail, oldest first.
func ListPipelineTransitions(ctx context.Context, db *gorm.DB, contactID, tenantID string) ([]domain.PipelineTransition, error) {
	var out []domain.PipelineTransition
	err := db.WithContext(ctx).
		Where("contact_id = ? AND tenant_id = ?", contactID, tenantID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}
