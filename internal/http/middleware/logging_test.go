package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newMiddlewareRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Logger(), Recovery())
	return r
}

func TestRequestID_Generated(t *testing.T) {
	r := newMiddlewareRouter()
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatal("missing generated X-Request-ID header")
	}
}

func TestRequestID_Propagated(t *testing.T) {
	r := newMiddlewareRouter()
	var seen string
	r.GET("/ping", func(c *gin.Context) {
		v, _ := c.Get("requestID")
		seen, _ = v.(string)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	r.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("header = %q; incoming ids are reused", w.Header().Get("X-Request-ID"))
	}
	if seen != "abc-123" {
		t.Fatalf("context id = %q", seen)
	}
}

func TestRecovery_PanicTo500(t *testing.T) {
	r := newMiddlewareRouter()
	r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Request-ID", "rid-1")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "internal_error") || !strings.Contains(body, "rid-1") {
		t.Fatalf("body = %s; want structured error with request id", body)
	}
}

func TestLoggerFrom_Fallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if LoggerFrom(c) == nil {
		t.Fatal("LoggerFrom must never return nil")
	}
}
