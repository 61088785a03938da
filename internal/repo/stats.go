// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries
// over the action log, used by the delivery registry's reporting surface.
// Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/salesloop/go-outreach-backend/internal/domain"
)

// DeliveryStats is an aggregate view over action log entries since a
// timestamp: totals per status plus derived delivery and read rates.
type DeliveryStats struct {
	Total        int64   `json:"total"`
	Sent         int64   `json:"sent"`
	Delivered    int64   `json:"delivered"`
	Read         int64   `json:"read"`
	Failed       int64   `json:"failed"`
	Pending      int64   `json:"pending"`
	DeliveryRate float64 `json:"delivery_rate"` // (delivered+read) / dispatched
	ReadRate     float64 `json:"read_rate"`     // read / dispatched
}

// ActionLogStats aggregates delivery outcomes for a tenant since the given
// timestamp. Dispatched means anything past pending; rates are 0 when
// nothing was dispatched.
func ActionLogStats(ctx context.Context, db *gorm.DB, tenantID string, since time.Time) (*DeliveryStats, error) {
	var rows []struct {
		Status domain.ActionStatus
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.ActionLogEntry{}).
		Select("status, COUNT(*) as n").
		Where("tenant_id = ? AND executed_at >= ?", tenantID, since).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	st := &DeliveryStats{}
	for _, r := range rows {
		st.Total += r.N
		switch r.Status {
		case domain.ActionPending:
			st.Pending += r.N
		case domain.ActionSent:
			st.Sent += r.N
		case domain.ActionDelivered:
			st.Delivered += r.N
		case domain.ActionRead:
			st.Read += r.N
		case domain.ActionFailed:
			st.Failed += r.N
		}
	}

	dispatched := st.Sent + st.Delivered + st.Read + st.Failed
	if dispatched > 0 {
		st.DeliveryRate = float64(st.Delivered+st.Read) / float64(dispatched)
		st.ReadRate = float64(st.Read) / float64(dispatched)
	}
	return st, nil
}
