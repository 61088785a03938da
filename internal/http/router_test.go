package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/salesloop/go-outreach-backend/internal/config"
	"github.com/salesloop/go-outreach-backend/internal/delivery"
	"github.com/salesloop/go-outreach-backend/internal/repo"
)

type stubRegistry struct {
	result delivery.Result
}

func (s *stubRegistry) ProcessDeliveryStatus(context.Context, delivery.StatusUpdate) (delivery.Result, error) {
	return s.result, nil
}

func (s *stubRegistry) GetDeliveryStats(context.Context, string, time.Time) (*repo.DeliveryStats, error) {
	return &repo.DeliveryStats{}, nil
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := config.Config{TenantID: "t1"}
	cfg.OTEL.ServiceName = "test"
	RegisterRoutes(r, &stubRegistry{result: delivery.ResultUpdated}, cfg)
	return r
}

func TestRouter_Healthz(t *testing.T) {
	r := newTestRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Fatalf("healthz = %d %s", w.Code, w.Body.String())
	}
}

func TestRouter_Metrics(t *testing.T) {
	r := newTestRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
}

func TestRouter_NotFoundAndNotAllowed(t *testing.T) {
	r := newTestRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "not_found") {
		t.Fatalf("unknown route = %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/healthz", nil))
	if w.Code != http.StatusMethodNotAllowed || !strings.Contains(w.Body.String(), "method_not_allowed") {
		t.Fatalf("bad method = %d %s", w.Code, w.Body.String())
	}
}

func TestRouter_WebhookRoundTrip(t *testing.T) {
	r := newTestRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/delivery-status",
		strings.NewReader(`{"message_id":"msg-1","status":"delivered"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "updated") {
		t.Fatalf("webhook = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestRouter_BodyLimit(t *testing.T) {
	r := newTestRouter()
	w := httptest.NewRecorder()
	huge := `{"message_id":"` + strings.Repeat("x", 65<<10) + `","status":"read"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/delivery-status", strings.NewReader(huge))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("oversized body = %d; want 400", w.Code)
	}
}

func TestNewServer(t *testing.T) {
	cfg := config.Config{
		Port:              "9090",
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       time.Minute,
	}
	srv := NewServer(http.NewServeMux(), cfg)
	if srv.Addr != ":9090" {
		t.Fatalf("addr = %q", srv.Addr)
	}
	if srv.ReadTimeout != 15*time.Second || srv.WriteTimeout != 20*time.Second {
		t.Fatalf("timeouts = %v/%v", srv.ReadTimeout, srv.WriteTimeout)
	}
}
