// Package delivery tracks outbound messages awaiting asynchronous
// delivery confirmation from the channel provider.
//
// The registry is a bounded, TTL-evicting in-memory map from external
// message identifier to action log entry. It is deliberately not durable:
// the ActionLogEntry at status "sent" is the durable record, and a lost
// mapping only costs a delivery-rate datapoint, never a message. The
// registry never blocks a send waiting for confirmation.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/salesloop/go-outreach-backend/internal/domain"
	"github.com/salesloop/go-outreach-backend/internal/observability"
	"github.com/salesloop/go-outreach-backend/internal/repo"
)

// Result classifies the outcome of processing one delivery callback.
type Result string

const (
	// ResultUpdated means the callback advanced an action log entry.
	ResultUpdated Result = "updated"
	// ResultNotTracked means the message id is unknown: either this
	// subsystem never sent it, or its mapping already reached a terminal
	// status (the tie-breaker for racing callbacks).
	ResultNotTracked Result = "not_tracked"
	// ResultUnknownStatus means the channel reported a status code outside
	// the fixed mapping table; it is ignored, never guessed.
	ResultUnknownStatus Result = "unknown_status"
	// ResultStale means the entry already held an equal or later status,
	// so the callback changed nothing.
	ResultStale Result = "stale"
)

// StatusUpdate is one inbound delivery-status callback from the channel.
type StatusUpdate struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Address   string `json:"address"`
}

// statusTable is the fixed mapping from the channel's status vocabulary to
// the canonical action statuses. Unknown codes are ignored.
var statusTable = map[string]domain.ActionStatus{
	"delivered":         domain.ActionDelivered,
	"message_delivered": domain.ActionDelivered,
	"read":              domain.ActionRead,
	"message_read":      domain.ActionRead,
	"played":            domain.ActionRead,
	"failed":            domain.ActionFailed,
	"undelivered":       domain.ActionFailed,
	"error":             domain.ActionFailed,
}

// pendingEntry maps one external message id back to its action log entry.
type pendingEntry struct {
	actionID     string
	address      string
	registeredAt time.Time
}

// Registry maps external message identifiers to pending action records
// and consumes channel delivery webhooks. Safe for concurrent use.
type Registry struct {
	db  *gorm.DB
	log zerolog.Logger
	ttl time.Duration

	mu      sync.Mutex
	pending map[string]pendingEntry

	stop chan struct{}
	done chan struct{}
}

// NewRegistry constructs a Registry. ttl bounds how long an unconfirmed
// mapping is kept; values <= 0 default to one hour.
func NewRegistry(db *gorm.DB, log zerolog.Logger, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Registry{
		db:      db,
		log:     log.With().Str("component", "delivery_registry").Logger(),
		ttl:     ttl,
		pending: make(map[string]pendingEntry),
	}
}

// Start launches the janitor goroutine that purges expired mappings.
// Calling Start twice is an error in the caller; the second janitor would
// double-purge harmlessly but waste a goroutine.
func (r *Registry) Start() {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.janitor()
}

// Stop terminates the janitor and waits for it to exit.
func (r *Registry) Stop() {
	if r.stop == nil {
		return
	}
	close(r.stop)
	<-r.done
}

func (r *Registry) janitor() {
	defer close(r.done)
	ticker := time.NewTicker(r.ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			n := r.purgeExpired(time.Now())
			if n > 0 {
				r.log.Debug().Int("purged", n).Msg("purged expired delivery mappings")
			}
		}
	}
}

// purgeExpired removes mappings older than the TTL and returns how many
// were dropped. The action log entry stays at "sent"; only the best-effort
// confirmation path is abandoned.
func (r *Registry) purgeExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.pending {
		if now.Sub(e.registeredAt) > r.ttl {
			delete(r.pending, id)
			n++
		}
	}
	return n
}

// RegisterMessage stores the pending mapping for a successful send. An
// empty external id is a no-op with a warning: some channel failures
// return no identifier and there is nothing to correlate later.
func (r *Registry) RegisterMessage(actionID, externalMessageID, address string) {
	if externalMessageID == "" {
		r.log.Warn().
			Str("action_id", actionID).
			Str("address", address).
			Msg("send returned no external message id; delivery will not be tracked")
		return
	}
	r.mu.Lock()
	r.pending[externalMessageID] = pendingEntry{
		actionID:     actionID,
		address:      address,
		registeredAt: time.Now(),
	}
	r.mu.Unlock()
}

// Tracked reports whether an external message id currently has a pending
// mapping. Intended for tests and introspection.
func (r *Registry) Tracked(externalMessageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[externalMessageID]
	return ok
}

// ProcessDeliveryStatus applies one channel callback. Callbacks for
// messages this subsystem did not send are silently ignored; unknown
// status codes are ignored; known statuses advance the action log entry
// monotonically. Once a terminal status lands, the mapping is removed and
// later callbacks for the same id report ResultNotTracked.
func (r *Registry) ProcessDeliveryStatus(ctx context.Context, upd StatusUpdate) (Result, error) {
	r.mu.Lock()
	entry, ok := r.pending[upd.MessageID]
	r.mu.Unlock()
	if !ok {
		observability.DeliveryCallbacksTotal.WithLabelValues(string(ResultNotTracked)).Inc()
		return ResultNotTracked, nil
	}

	status, ok := statusTable[upd.Status]
	if !ok {
		observability.DeliveryCallbacksTotal.WithLabelValues(string(ResultUnknownStatus)).Inc()
		r.log.Debug().
			Str("message_id", upd.MessageID).
			Str("status", upd.Status).
			Msg("ignoring unknown delivery status code")
		return ResultUnknownStatus, nil
	}

	updated, err := repo.UpdateActionStatusIfNewer(ctx, r.db, entry.actionID, status)
	if err != nil {
		r.log.Error().Err(err).
			Str("action_id", entry.actionID).
			Str("message_id", upd.MessageID).
			Msg("failed to apply delivery status")
		return "", err
	}

	// Read and failed end tracking for this message. Delivered keeps the
	// mapping alive so a later read receipt can still upgrade the entry;
	// the TTL janitor bounds its lifetime either way.
	if status == domain.ActionRead || status == domain.ActionFailed {
		r.mu.Lock()
		delete(r.pending, upd.MessageID)
		r.mu.Unlock()
	}

	if !updated {
		observability.DeliveryCallbacksTotal.WithLabelValues(string(ResultStale)).Inc()
		return ResultStale, nil
	}
	observability.DeliveryCallbacksTotal.WithLabelValues(string(ResultUpdated)).Inc()
	r.log.Info().
		Str("action_id", entry.actionID).
		Str("message_id", upd.MessageID).
		Str("status", string(status)).
		Msg("delivery status applied")
	return ResultUpdated, nil
}

// GetDeliveryStats aggregates action log outcomes for a tenant since the
// given timestamp. Pure read, no side effects.
func (r *Registry) GetDeliveryStats(ctx context.Context, tenantID string, since time.Time) (*repo.DeliveryStats, error) {
	return repo.ActionLogStats(ctx, r.db, tenantID, since)
}
