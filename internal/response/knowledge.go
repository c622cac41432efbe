package response

import (
	"sort"
	"strings"

	"github.com/foxzi/outreach/internal/models"
)

// KnowledgeBase holds product knowledge offered to the LLM when enhancing replies
type KnowledgeBase struct {
	snippets []models.KnowledgeSnippet
}

// NewKnowledgeBase creates a knowledge base from configured snippets
func NewKnowledgeBase(snippets []models.KnowledgeSnippet) *KnowledgeBase {
	return &KnowledgeBase{snippets: snippets}
}

// Relevant returns up to n snippets whose keywords or title appear in text
func (kb *KnowledgeBase) Relevant(text string, n int) []models.KnowledgeSnippet {
	if kb == nil || len(kb.snippets) == 0 || n <= 0 {
		return nil
	}
	lower := strings.ToLower(text)

	type scored struct {
		snippet models.KnowledgeSnippet
		score   int
	}
	var hits []scored
	for _, s := range kb.snippets {
		score := 0
		for _, kw := range s.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				score += 2
			}
		}
		if s.Title != "" && strings.Contains(lower, strings.ToLower(s.Title)) {
			score++
		}
		if score > 0 {
			hits = append(hits, scored{s, score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})
	if len(hits) > n {
		hits = hits[:n]
	}

	out := make([]models.KnowledgeSnippet, len(hits))
	for i, h := range hits {
		out[i] = h.snippet
	}
	return out
}
