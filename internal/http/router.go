// Package httpapi wires the ops HTTP surface (Gin) to the delivery registry.
// The server exposes liveness, Prometheus metrics, the channel provider's
// delivery-status webhook, and a delivery statistics read endpoint. It is an
// operational sidecar to the scheduler, not a public API.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured request logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/salesloop/go-outreach-backend/internal/config"
	"github.com/salesloop/go-outreach-backend/internal/http/handlers"
	"github.com/salesloop/go-outreach-backend/internal/http/middleware"
)

// RegisterRoutes attaches middleware and the ops endpoints to the given Gin
// engine. All dependencies are injected; the router owns no state.
func RegisterRoutes(r *gin.Engine, reg handlers.DeliveryRegistry, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured request logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (64 KiB; callbacks are tiny)
	r.Use(limitBody(64 << 10))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": "route not found"}})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": gin.H{"code": "method_not_allowed", "message": "method not allowed"}})
	})

	// Liveness
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := &handlers.DeliveryHandler{Registry: reg, TenantID: cfg.TenantID}

	r.POST("/webhooks/delivery-status", h.PostDeliveryStatus)

	api := r.Group("/api/v1")
	{
		api.GET("/delivery/stats", h.GetDeliveryStats)
	}
}

// NewServer builds the ops HTTP server with the configured timeouts.
func NewServer(handler http.Handler, cfg config.Config) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader. Requests exceeding the cap error on body read.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
