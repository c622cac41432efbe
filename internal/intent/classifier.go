package intent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/foxzi/outreach/internal/llm"
	"github.com/foxzi/outreach/internal/models"
)

// Fallback scoring weights
const (
	keywordWeight     = 0.2
	nameWeight        = 0.3
	descriptionWeight = 0.1
	fallbackMinScore  = 0.3

	defaultConfidence = 0.1
	defaultLLMTimeout = 20 * time.Second
)

var wordPattern = regexp.MustCompile(`[a-z0-9']+`)

var stopWords = map[string]bool{
	"about": true, "after": true, "also": true, "been": true, "from": true,
	"have": true, "into": true, "more": true, "that": true, "their": true,
	"them": true, "they": true, "this": true, "what": true, "when": true,
	"which": true, "with": true, "would": true, "your": true, "wants": true,
	"asks": true, "asking": true, "prospect": true, "message": true,
}

// Classifier ranks the registered intents for an inbound message
type Classifier struct {
	llm        llm.Client
	timeout    time.Duration
	logger     *slog.Logger
	onFallback func(reason string)
}

// Option configures a Classifier
type Option func(*Classifier)

// WithLLM enables the LLM classification path
func WithLLM(client llm.Client, timeout time.Duration) Option {
	return func(c *Classifier) {
		c.llm = client
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFallbackHook registers a callback invoked whenever keyword scoring is used
func WithFallbackHook(fn func(reason string)) Option {
	return func(c *Classifier) {
		c.onFallback = fn
	}
}

// NewClassifier creates an intent classifier
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		timeout: defaultLLMTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "intent_classifier")
	return c
}

// Classify returns at most three intents ranked by confidence. It never
// fails: LLM errors or unreadable answers switch to keyword scoring, and
// an empty ranking is replaced by a single low-confidence default intent.
func (c *Classifier) Classify(ctx context.Context, subject, body string, intents []models.Intent) models.ClassificationResult {
	if len(intents) == 0 {
		return models.ClassificationResult{Matches: []models.IntentMatch{defaultMatch(nil)}, Fallback: true}
	}

	if c.llm == nil {
		return c.fallback(subject, body, intents, "llm disabled")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.llm.Complete(ctx, llm.Request{
		System:      systemPrompt,
		User:        buildPrompt(subject, body, intents),
		Temperature: 0.1,
		MaxTokens:   500,
	})
	if err != nil {
		c.logger.Warn("llm classification failed", "error", err)
		return c.fallback(subject, body, intents, "llm error")
	}

	switch r := ParseResponse(text).(type) {
	case ParsedOK:
		matches := rankParsed(r.Intents, intents, subject+" "+body)
		if len(matches) == 0 {
			matches = []models.IntentMatch{defaultMatch(intents)}
		}
		return models.ClassificationResult{Matches: matches}
	case ParseFailed:
		c.logger.Warn("unparseable llm classification", "reason", r.Reason, "raw_len", len(r.Raw))
		return c.fallback(subject, body, intents, "parse failed")
	}
	return c.fallback(subject, body, intents, "unknown parse result")
}

func (c *Classifier) fallback(subject, body string, intents []models.Intent, reason string) models.ClassificationResult {
	if c.onFallback != nil {
		c.onFallback(reason)
	}
	return models.ClassificationResult{
		Matches:  Fallback(subject, body, intents),
		Fallback: true,
	}
}

// rankParsed maps LLM entries onto registered intents and applies thresholds
func rankParsed(parsed []ParsedIntent, intents []models.Intent, text string) []models.IntentMatch {
	byName := make(map[string]models.Intent, len(intents))
	for _, in := range intents {
		byName[strings.ToLower(in.Name)] = in
	}

	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	var matches []models.IntentMatch
	for _, p := range parsed {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		in, ok := byName[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true

		conf := clamp(p.Confidence)
		if conf < threshold(in) {
			continue
		}
		found := p.KeywordsFound
		if len(found) == 0 {
			found = keywordsIn(lower, in.Keywords)
		}
		matches = append(matches, models.IntentMatch{
			Intent:        in,
			Confidence:    conf,
			Reasoning:     p.Reasoning,
			KeywordsFound: found,
		})
	}
	return rank(matches)
}

// Fallback scores intents by keyword, name and description overlap.
// Intents scoring above 0.3 are kept; if none do, a single default intent
// is returned.
func Fallback(subject, body string, intents []models.Intent) []models.IntentMatch {
	text := strings.ToLower(subject + " " + body)
	words := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(text, -1) {
		words[w] = true
	}

	var matches []models.IntentMatch
	for _, in := range intents {
		found := keywordsIn(text, in.Keywords)
		score := keywordWeight * float64(len(found))

		nameHit := in.Name != "" && strings.Contains(text, strings.ToLower(in.Name))
		if nameHit {
			score += nameWeight
		}

		overlap := 0
		for _, w := range descriptionWords(in.Description) {
			if words[w] {
				overlap++
			}
		}
		score += descriptionWeight * float64(overlap)
		score = clamp(score)

		if score <= fallbackMinScore {
			continue
		}
		matches = append(matches, models.IntentMatch{
			Intent:        in,
			Confidence:    score,
			Reasoning:     fmt.Sprintf("keyword fallback: %d keywords, name match %t, %d description words", len(found), nameHit, overlap),
			KeywordsFound: found,
		})
	}

	matches = rank(matches)
	if len(matches) == 0 {
		return []models.IntentMatch{defaultMatch(intents)}
	}
	return matches
}

// defaultMatch returns the configured default intent, or a synthetic
// "general" intent that never auto-responds.
func defaultMatch(intents []models.Intent) models.IntentMatch {
	for _, in := range intents {
		if in.Default {
			return models.IntentMatch{Intent: in, Confidence: defaultConfidence, Reasoning: "no intent matched, using default"}
		}
	}
	return models.IntentMatch{
		Intent: models.Intent{
			Name:        "general",
			Description: "General reply with no specific intent",
		},
		Confidence: defaultConfidence,
		Reasoning:  "no intent matched",
	}
}

func rank(matches []models.IntentMatch) []models.IntentMatch {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	if len(matches) > models.MaxClassifiedIntents {
		matches = matches[:models.MaxClassifiedIntents]
	}
	return matches
}

func threshold(in models.Intent) float64 {
	if in.Threshold > models.DefaultConfidenceThreshold {
		return in.Threshold
	}
	return models.DefaultConfidenceThreshold
}

func keywordsIn(lowerText string, keywords []string) []string {
	var found []string
	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k != "" && strings.Contains(lowerText, k) {
			found = append(found, kw)
		}
	}
	return found
}

func descriptionWords(desc string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(desc), -1) {
		if len(w) < 4 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
