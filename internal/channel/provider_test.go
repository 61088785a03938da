package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSendMessage_Success(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotBody = req.Body
		_ = json.NewEncoder(w).Encode(sendResponse{MessageID: "ext-42", Status: "queued"})
	}))
	defer srv.Close()

	p := NewProviderClient(ProviderConfig{MessageURL: srv.URL, APIKey: "secret"}, zerolog.Nop())
	res, err := p.SendMessage(context.Background(), "555", "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !res.Success || res.ExternalID != "ext-42" {
		t.Fatalf("result = %+v; want success with ext-42", res)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotBody != "hello" {
		t.Fatalf("body = %q", gotBody)
	}
}

func TestSend_NotConfigured(t *testing.T) {
	p := NewProviderClient(ProviderConfig{}, zerolog.Nop())

	res, err := p.SendMessage(context.Background(), "555", "hi")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "not configured") {
		t.Fatalf("result = %+v; a disabled channel fails fast, not as an error", res)
	}
	res, err = p.SendEmail(context.Background(), "a@b.c", "hi")
	if err != nil || res.Success {
		t.Fatalf("email result = %+v err=%v", res, err)
	}
}

func TestSend_Blocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(sendResponse{Blocked: true, Error: "recipient opted out"})
	}))
	defer srv.Close()

	p := NewProviderClient(ProviderConfig{MessageURL: srv.URL}, zerolog.Nop())
	res, err := p.SendMessage(context.Background(), "555", "hi")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !res.Blocked {
		t.Fatalf("result = %+v; want blocked", res)
	}
}

func TestSend_ServerFaultIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(sendResponse{Error: "upstream down"})
	}))
	defer srv.Close()

	p := NewProviderClient(ProviderConfig{MessageURL: srv.URL}, zerolog.Nop())
	if _, err := p.SendMessage(context.Background(), "555", "hi"); err == nil {
		t.Fatal("a 5xx must surface as an error so the sender retries")
	}
}

func TestSend_ClientRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(sendResponse{Error: "invalid address"})
	}))
	defer srv.Close()

	p := NewProviderClient(ProviderConfig{MessageURL: srv.URL}, zerolog.Nop())
	res, err := p.SendMessage(context.Background(), "bogus", "hi")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "invalid address") {
		t.Fatalf("result = %+v; a 4xx is a terminal rejection, not an error", res)
	}
}

func TestSend_UnreadableBodyOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	p := NewProviderClient(ProviderConfig{MessageURL: srv.URL}, zerolog.Nop())
	res, err := p.SendMessage(context.Background(), "555", "hi")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !res.Success || res.ExternalID != "" {
		t.Fatalf("result = %+v; want accepted without a message id", res)
	}
}

func TestSend_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	p := NewProviderClient(ProviderConfig{MessageURL: srv.URL}, zerolog.Nop())
	if _, err := p.SendMessage(context.Background(), "555", "hi"); err == nil {
		t.Fatal("transport failures must be errors")
	}
}

func TestIsBlocked(t *testing.T) {
	var gotAddress string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAddress = r.URL.Query().Get("address")
		_ = json.NewEncoder(w).Encode(map[string]bool{"blocked": gotAddress == "666"})
	}))
	defer srv.Close()

	p := NewProviderClient(ProviderConfig{InterlockURL: srv.URL}, zerolog.Nop())

	blocked, err := p.IsBlocked(context.Background(), "555")
	if err != nil || blocked {
		t.Fatalf("555: blocked=%v err=%v", blocked, err)
	}
	blocked, err = p.IsBlocked(context.Background(), "666")
	if err != nil || !blocked {
		t.Fatalf("666: blocked=%v err=%v", blocked, err)
	}
	if gotAddress != "666" {
		t.Fatalf("address param = %q", gotAddress)
	}
}

func TestIsBlocked_NoEndpoint(t *testing.T) {
	p := NewProviderClient(ProviderConfig{}, zerolog.Nop())
	blocked, err := p.IsBlocked(context.Background(), "555")
	if err != nil || blocked {
		t.Fatalf("blocked=%v err=%v; no interlock service means nothing is blocked", blocked, err)
	}
}

func TestIsBlocked_LookupFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewProviderClient(ProviderConfig{InterlockURL: srv.URL}, zerolog.Nop())
	if _, err := p.IsBlocked(context.Background(), "555"); err == nil {
		t.Fatal("a failed lookup must be an error, never a silent pass")
	}
}
