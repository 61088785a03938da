// Package handlers implements the ops HTTP endpoints: health, delivery
// webhooks, and delivery statistics.
//
// This file defines the standard response utilities shared by all
// endpoints: a structured error envelope with a stable machine-readable
// code, and helpers for consistent success responses.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/salesloop/go-outreach-backend/internal/http/middleware"
)

// Stable error codes returned in the ErrorResponse envelope.
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeInternal   = "internal_error"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// RequestID correlates server logs and client errors.
	RequestID string `json:"request_id,omitempty"`
	// Code is a stable, machine-readable string.
	Code string `json:"code"`
	// Message is a human-readable description.
	Message string `json:"message"`
}

// fail aborts the request with a structured error. Server errors (>=500)
// are logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	reqID := c.Writer.Header().Get("X-Request-ID")
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: reqID,
		Code:      code,
		Message:   msg,
	})
}

// ok writes a JSON 200 response.
func ok(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}
