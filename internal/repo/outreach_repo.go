// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for upstream
// outreach records, the campaign-send rows reconciled during full sync.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/salesloop/go-outreach-backend/internal/domain"
)

// CreateOutreachRecord inserts an upstream record with a generated UUID.
func CreateOutreachRecord(ctx context.Context, db *gorm.DB, r *domain.OutreachRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = domain.OutreachQueued
	}
	return db.WithContext(ctx).Create(r).Error
}

// ListOutreachByStatus returns all records in the given status for a
// tenant, oldest first.
func ListOutreachByStatus(ctx context.Context, db *gorm.DB, tenantID string, status domain.OutreachStatus) ([]domain.OutreachRecord, error) {
	var out []domain.OutreachRecord
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, status).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// MarkOutreachSent promotes a queued record to sent with a UTC timestamp.
func MarkOutreachSent(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.OutreachRecord{}).
		Where("id = ? AND status = ?", id, domain.OutreachQueued).
		Updates(map[string]any{"status": domain.OutreachSent, "sent_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDuplicateOutreachPhones returns phones with more than one record in
// a tenant. Full sync keeps the most recent row per phone and deletes the
// rest.
func ListDuplicateOutreachPhones(ctx context.Context, db *gorm.DB, tenantID string) ([]string, error) {
	var phones []string
	err := db.WithContext(ctx).
		Model(&domain.OutreachRecord{}).
		Select("phone").
		Where("tenant_id = ?", tenantID).
		Group("phone").
		Having("COUNT(*) > 1").
		Pluck("phone", &phones).Error
	return phones, err
}

// DeleteOlderOutreachDuplicates removes every record for the phone except
// the most recently created one. Returns the number of rows removed.
func DeleteOlderOutreachDuplicates(ctx context.Context, db *gorm.DB, phone, tenantID string) (int64, error) {
	var keep domain.OutreachRecord
	err := db.WithContext(ctx).
		Where("phone = ? AND tenant_id = ?", phone, tenantID).
		Order("created_at desc").
		First(&keep).Error
	if err != nil {
		return 0, err
	}
	res := db.WithContext(ctx).
		Where("phone = ? AND tenant_id = ? AND id <> ?", phone, tenantID, keep.ID).
		Delete(&domain.OutreachRecord{})
	return res.RowsAffected, res.Error
}
