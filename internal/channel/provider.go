package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ProviderConfig configures the HTTP client for the channel provider's
// send API.
type ProviderConfig struct {
	// MessageURL and EmailURL are the provider endpoints per channel. An
	// empty URL disables that channel; sends to it fail fast.
	MessageURL string
	EmailURL   string
	// InterlockURL is the bot-detection lookup endpoint; the contact
	// address is appended as a query parameter. Empty means no interlock
	// service and nothing is ever reported blocked.
	InterlockURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey  string
	Timeout time.Duration
}

// ProviderClient posts sends to the channel provider's HTTP API. It
// implements both MessageSender and EmailSender. Transport errors are
// returned as errors (retryable); provider rejections come back inside
// SendResult.
type ProviderClient struct {
	cfg ProviderConfig
	hc  *http.Client
	log zerolog.Logger
}

// NewProviderClient builds a ProviderClient. A zero Timeout defaults to
// ten seconds; the per-request context still bounds each call.
func NewProviderClient(cfg ProviderConfig, log zerolog.Logger) *ProviderClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &ProviderClient{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.Timeout},
		log: log.With().Str("component", "channel_provider").Logger(),
	}
}

// sendRequest is the provider's send payload, shared by both channels.
type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// sendResponse is the provider's reply envelope.
type sendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Blocked   bool   `json:"blocked"`
	Error     string `json:"error"`
}

// SendMessage implements MessageSender.
func (p *ProviderClient) SendMessage(ctx context.Context, address, body string) (SendResult, error) {
	return p.post(ctx, p.cfg.MessageURL, "message", address, body)
}

// SendEmail implements EmailSender.
func (p *ProviderClient) SendEmail(ctx context.Context, address, body string) (SendResult, error) {
	return p.post(ctx, p.cfg.EmailURL, "email", address, body)
}

// IsBlocked asks the bot-detection service whether the address is flagged.
// With no interlock endpoint configured, nothing is blocked. Lookup
// failures are returned as errors; the caller decides whether to proceed.
func (p *ProviderClient) IsBlocked(ctx context.Context, address string) (bool, error) {
	if p.cfg.InterlockURL == "" {
		return false, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.InterlockURL, nil)
	if err != nil {
		return false, fmt.Errorf("build interlock request: %w", err)
	}
	q := req.URL.Query()
	q.Set("address", address)
	req.URL.RawQuery = q.Encode()
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.hc.Do(req)
	if err != nil {
		return false, fmt.Errorf("interlock lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("interlock lookup: http %d", resp.StatusCode)
	}

	var out struct {
		Blocked bool `json:"blocked"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode interlock response: %w", err)
	}
	return out.Blocked, nil
}

func (p *ProviderClient) post(ctx context.Context, url, kind, address, body string) (SendResult, error) {
	if url == "" {
		return SendResult{Error: kind + " channel not configured"}, nil
	}

	payload, err := json.Marshal(sendRequest{To: address, Body: body})
	if err != nil {
		return SendResult{}, fmt.Errorf("encode %s send: %w", kind, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, fmt.Errorf("build %s request: %w", kind, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.hc.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("%s send: %w", kind, err)
	}
	defer resp.Body.Close()

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// 2xx with an unreadable body still means the provider accepted
		// the send; without a message id delivery just goes untracked.
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			p.log.Warn().Str("kind", kind).Msg("provider response unreadable; send accepted without message id")
			return SendResult{Success: true}, nil
		}
		return SendResult{}, fmt.Errorf("decode %s response (http %d): %w", kind, resp.StatusCode, err)
	}

	switch {
	case out.Blocked:
		return SendResult{Blocked: true, Error: out.Error}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return SendResult{Success: true, ExternalID: out.MessageID}, nil
	case resp.StatusCode >= 500:
		// Provider-side fault: surface as an error so the retry executor
		// backs off and tries again.
		return SendResult{}, fmt.Errorf("%s send: provider returned http %d: %s", kind, resp.StatusCode, out.Error)
	default:
		return SendResult{Error: fmt.Sprintf("http %d: %s", resp.StatusCode, out.Error)}, nil
	}
}
