// Package search ranks follow-up snippet variants against a query. A
// corpus is a Markdown file of short paragraphs, each one a message
// variant an operator has approved for outbound follow-ups; the index
// picks the variant closest to what was last said to the contact.
//
// The index is immutable after construction and safe for concurrent use.
// Scoring uses Jaccard similarity between the query token set and each
// snippet's token set: score = |Q ∩ S| / |Q ∪ S|. Ties prefer the
// shorter snippet, then lexicographic order, so repeated runs over the
// same corpus pick the same variant.
package search

import (
	"io"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Snippets shorter than this are headings or fragments, not sendable
// message variants.
const minSnippetRunes = 20

// Result is a ranked snippet with its similarity score.
type Result struct {
	Snippet string
	Score   float64
}

type doc struct {
	text   string
	tokens map[string]struct{}
}

// Index is a read-only snippet index. Build one with NewIndexFromReader.
type Index struct {
	docs []doc
}

// NewIndexFromReader builds an Index from UTF-8 text provided by r. The
// reader is fully consumed; snippets are split on blank lines.
func NewIndexFromReader(r io.Reader) (*Index, error) {
	all, err := io.ReadAll(r)
	if err != nil {
		return &Index{}, err
	}

	var docs []doc
	for _, raw := range splitParas(string(all)) {
		t := strings.TrimSpace(normalizeWhitespace(raw))
		if t == "" || utf8.RuneCountInString(t) < minSnippetRunes {
			continue
		}
		toks := tokenize(t)
		if len(toks) == 0 {
			continue
		}
		docs = append(docs, doc{text: t, tokens: toks})
	}
	return &Index{docs: docs}, nil
}

// TopK returns up to k best-matching snippets by Jaccard similarity.
// An empty or token-free query matches nothing.
func (x *Index) TopK(q string, k int) []Result {
	if len(x.docs) == 0 || strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qTokens := tokenize(q)
	if len(qTokens) == 0 {
		return nil
	}

	type scored struct {
		snippet  string
		score    float64
		lenRunes int
	}
	var buf []scored
	for _, d := range x.docs {
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(len(qTokens) + len(d.tokens) - over)
		buf = append(buf, scored{
			snippet:  d.text,
			score:    float64(over) / union,
			lenRunes: utf8.RuneCountInString(d.text),
		})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].lenRunes != buf[b].lenRunes {
			return buf[a].lenRunes < buf[b].lenRunes
		}
		return buf[a].snippet < buf[b].snippet
	})

	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for i := 0; i < k; i++ {
		out[i] = Result{Snippet: buf[i].snippet, Score: buf[i].score}
	}
	return out
}

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string) map[string]struct{} {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

var paraSplitRE = regexp.MustCompile(`\n\s*\n`)

func splitParas(raw string) []string {
	chunks := paraSplitRE.Split(raw, -1)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if t := strings.TrimSpace(c); t != "" {
			out = append(out, t)
		}
	}
	return out
}
