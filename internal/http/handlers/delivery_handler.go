// Package handlers implements the ops HTTP endpoints. This file handles
// inbound delivery-status callbacks from the channel provider and the
// delivery statistics read endpoint.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/salesloop/go-outreach-backend/internal/delivery"
	"github.com/salesloop/go-outreach-backend/internal/repo"
	"github.com/salesloop/go-outreach-backend/internal/utils"
)

// DeliveryRegistry is the subset of delivery.Registry the handlers use.
type DeliveryRegistry interface {
	ProcessDeliveryStatus(ctx context.Context, upd delivery.StatusUpdate) (delivery.Result, error)
	GetDeliveryStats(ctx context.Context, tenantID string, since time.Time) (*repo.DeliveryStats, error)
}

// DeliveryHandler serves the delivery webhook and stats endpoints.
type DeliveryHandler struct {
	Registry DeliveryRegistry
	// TenantID scopes the stats endpoint; callbacks carry their own scope
	// via the registered action.
	TenantID string
}

// statusCallback is the webhook payload posted by the channel provider.
type statusCallback struct {
	MessageID string `json:"message_id" binding:"required"`
	Status    string `json:"status"     binding:"required"`
	Address   string `json:"address"`
}

// PostDeliveryStatus consumes one delivery-status callback. Callbacks for
// untracked messages or unknown status codes are acknowledged with 200 and
// a result field: the provider must not retry them.
func (h *DeliveryHandler) PostDeliveryStatus(c *gin.Context) {
	var body statusCallback
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid callback payload")
		return
	}

	res, err := h.Registry.ProcessDeliveryStatus(c.Request.Context(), delivery.StatusUpdate{
		MessageID: body.MessageID,
		Status:    strings.ToLower(strings.TrimSpace(body.Status)),
		Address:   body.Address,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to process delivery status")
		return
	}
	ok(c, gin.H{"result": string(res)})
}

// GetDeliveryStats returns aggregate delivery counts and rates over a
// trailing window. The window is set by the RFC 3339 "since" query
// parameter, or by "hours" (clamped to 1..720); default is 24 hours.
func (h *DeliveryHandler) GetDeliveryStats(c *gin.Context) {
	hours := utils.Clamp(utils.AtoiDefault(c.Query("hours"), 24), 1, 720)
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}

	stats, err := h.Registry.GetDeliveryStats(c.Request.Context(), h.TenantID, since)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to compute delivery stats")
		return
	}
	ok(c, stats)
}
