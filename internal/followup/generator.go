// Package followup selects conversation-aware follow-up content from an
// operator-curated snippet corpus. It is the in-process stand-in for the
// LLM generation service: retrieval over approved variants instead of
// free generation, so nothing unreviewed ever reaches a contact.
package followup

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/salesloop/go-outreach-backend/internal/repo"
	"github.com/salesloop/go-outreach-backend/internal/search"
)

// Generator implements the engine's context-generation contract on top of
// a search.Index. Safe for concurrent use; the index is immutable.
type Generator struct {
	db *gorm.DB
	// idx ranks corpus snippets against the last outbound content.
	idx *search.Index
	// threshold is the minimum Jaccard score a snippet must reach; below
	// it the caller falls back to the step template.
	threshold float64
	tenant    string
	log       zerolog.Logger
}

// NewGenerator builds a Generator over the snippet corpus at corpusPath.
// The corpus is read once; table rows are flattened into snippets first.
func NewGenerator(db *gorm.DB, log zerolog.Logger, corpusPath, tenantID string, threshold float64) (*Generator, error) {
	raw, err := search.PrepareSnippetsInMemory(corpusPath)
	if err != nil {
		return nil, fmt.Errorf("load snippet corpus: %w", err)
	}
	idx, err := search.NewIndexFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("index snippet corpus: %w", err)
	}
	if threshold <= 0 {
		threshold = 0.15
	}
	return &Generator{
		db:        db,
		idx:       idx,
		threshold: threshold,
		tenant:    tenantID,
		log:       log.With().Str("component", "followup_generator").Logger(),
	}, nil
}

// HasConversationHistory reports whether the contact has ever interacted
// inbound: the projection's last-interaction stamp is the signal. Unknown
// contacts have no history.
func (g *Generator) HasConversationHistory(ctx context.Context, address string) (bool, error) {
	lead, err := repo.GetLeadByPhone(ctx, g.db, address, g.tenant)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return lead.LastInteractionAt != nil, nil
}

// GenerateContextualFollowUp returns the corpus variant closest to what
// was last sent to the contact, or "" when nothing scores above the
// threshold. An empty result tells the engine to use the step template.
func (g *Generator) GenerateContextualFollowUp(ctx context.Context, address string, day int) (string, error) {
	last, err := repo.LastSentContent(ctx, g.db, address, g.tenant)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	} else if err != nil {
		return "", err
	}

	res := g.idx.TopK(fmt.Sprintf("%s day %d", last, day), 1)
	if len(res) == 0 || res[0].Score < g.threshold {
		return "", nil
	}
	g.log.Debug().
		Str("address", address).
		Int("day", day).
		Float64("score", res[0].Score).
		Msg("follow-up variant selected")
	return res[0].Snippet, nil
}
