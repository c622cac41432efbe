package response

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/foxzi/outreach/internal/llm"
	"github.com/foxzi/outreach/internal/models"
)

const (
	llmFallbackScore = 0.5
	weakAxisScore    = 0.6
)

var (
	greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|dear|greetings|good\s+(morning|afternoon|evening))\b`)
	closingPattern  = regexp.MustCompile(`(?i)\b(regards|sincerely|thanks|thank\s+you|cheers|all\s+the\s+best|best|talk\s+soon|looking\s+forward)\b`)
	tokenPattern    = regexp.MustCompile(`[a-z']+`)
	numberPattern   = regexp.MustCompile(`\d+(\.\d+)?`)

	unprofessionalWords = map[string]bool{
		"lol": true, "omg": true, "wtf": true, "dude": true, "bro": true,
		"gonna": true, "wanna": true, "gotta": true, "yo": true, "crap": true,
		"damn": true, "stupid": true, "whatever": true, "ur": true, "u": true,
		"lmao": true, "sucks": true, "ain't": true,
	}

	professionalPhrases = []string{
		"thank you",
		"appreciate",
		"please",
		"happy to",
		"looking forward",
		"best regards",
		"kind regards",
		"let me know",
		"would you",
		"glad to",
	}
)

// VerifyInput is a candidate reply with its context
type VerifyInput struct {
	Subject        string
	Content        string
	Message        *models.RawMessage
	Classification models.ClassificationResult
	History        []models.Message
	Prospect       *models.Prospect
}

// Verifier scores candidate replies and renders a verdict.
// It has no side effects besides calling the LLM.
type Verifier struct {
	llm        llm.Client
	timeout    time.Duration
	logger     *slog.Logger
	onFallback func(axis string)
}

// VerifierOption configures a Verifier
type VerifierOption func(*Verifier)

// WithVerifierLLM enables LLM scoring of context alignment and intent accuracy
func WithVerifierLLM(client llm.Client, timeout time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.llm = client
		if timeout > 0 {
			v.timeout = timeout
		}
	}
}

// WithVerifierLogger sets the logger
func WithVerifierLogger(logger *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithVerifierFallbackHook registers a callback invoked when an LLM axis falls back
func WithVerifierFallbackHook(fn func(axis string)) VerifierOption {
	return func(v *Verifier) {
		v.onFallback = fn
	}
}

// NewVerifier creates a response verifier
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{
		timeout: 20 * time.Second,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With("component", "response_verifier")
	return v
}

// Verify scores in and returns an unsaved verification record
func (v *Verifier) Verify(ctx context.Context, in VerifyInput) *models.Verification {
	rec := verdict(models.Scores{
		ContextAlignment: v.contextAlignment(ctx, in),
		IntentAccuracy:   v.intentAccuracy(ctx, in),
		ContentQuality:   ContentQuality(in.Content, in.Prospect),
		Personalization:  Personalization(in.Content, in.Prospect),
		Tone:             Tone(in.Content),
	})
	if in.Message != nil {
		rec.MessageID = in.Message.MessageID
	}
	if in.Prospect != nil {
		rec.ProspectID = in.Prospect.ID
	}
	return rec
}

// verdict decides on the exact weighted sum; only the stored scores are rounded
func verdict(raw models.Scores) *models.Verification {
	status := models.StatusFor(raw.Overall())
	rec := &models.Verification{
		Scores: models.Scores{
			ContextAlignment: round2(raw.ContextAlignment),
			IntentAccuracy:   round2(raw.IntentAccuracy),
			ContentQuality:   round2(raw.ContentQuality),
			Personalization:  round2(raw.Personalization),
			Tone:             round2(raw.Tone),
		},
		OverallScore: round2(raw.Overall()),
		Status:       status,
		Notes:        notes(raw),
		CreatedAt:    time.Now(),
	}
	if status != models.VerificationApproved {
		rec.SuggestedChanges = suggestions(raw)
	}
	return rec
}

// ContentQuality scores length, greeting, closing and personalization markers
func ContentQuality(content string, p *models.Prospect) float64 {
	text := strings.TrimSpace(content)
	n := len([]rune(text))

	score := 0.0
	switch {
	case n >= 100 && n <= 1000:
		score += 0.4
	case (n >= 50 && n < 100) || (n > 1000 && n <= 2000):
		score += 0.2
	}

	if greetingPattern.MatchString(text) {
		score += 0.2
	}

	tail := text
	if r := []rune(text); len(r) > 200 {
		tail = string(r[len(r)-200:])
	}
	if closingPattern.MatchString(tail) {
		score += 0.2
	}

	if p != nil {
		lower := strings.ToLower(text)
		for _, marker := range []string{p.FirstName, p.Company} {
			if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
				score += 0.2
				break
			}
		}
	}

	return math.Min(score, 1)
}

// Personalization scores presence of prospect profile fields in content
func Personalization(content string, p *models.Prospect) float64 {
	if p == nil {
		return 0
	}
	lower := strings.ToLower(content)
	contains := func(s string) bool {
		s = strings.TrimSpace(s)
		return s != "" && strings.Contains(lower, strings.ToLower(s))
	}

	score := 0.0
	if contains(p.FirstName) || contains(p.FullName()) {
		score += 0.3
	}
	if contains(p.Company) {
		score += 0.2
	}
	if contains(p.Industry) {
		score += 0.2
	}
	if contains(p.Title) {
		score += 0.2
	}
	if contains(p.Location) {
		score += 0.1
	}
	return math.Min(score, 1)
}

// Tone starts at 0.7, penalizes unprofessional words and rewards professional phrases
func Tone(content string) float64 {
	lower := strings.ToLower(content)
	score := 0.7

	for _, w := range tokenPattern.FindAllString(lower, -1) {
		if unprofessionalWords[w] {
			score -= 0.15
		}
	}
	for _, phrase := range professionalPhrases {
		if strings.Contains(lower, phrase) {
			score += 0.1
		}
	}
	if strings.Count(content, "!") > 2 {
		score -= 0.1
	}
	return math.Max(0, math.Min(score, 1))
}

func (v *Verifier) contextAlignment(ctx context.Context, in VerifyInput) float64 {
	if v.llm == nil || in.Message == nil {
		return llmFallbackScore
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Original email:\nSubject: %s\n%s\n\n", in.Message.Subject, llm.Truncate(in.Message.Body, 2000))
	if len(in.History) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, m := range in.History {
			fmt.Fprintf(&sb, "[%s] %s\n", m.Direction, llm.Truncate(m.Content, 400))
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Proposed reply:\n%s\n\nHow well does the reply address the email in context?", in.Content)

	return v.llmScore(ctx, "context", sb.String())
}

func (v *Verifier) intentAccuracy(ctx context.Context, in VerifyInput) float64 {
	names := in.Classification.Names()
	if v.llm == nil || len(names) == 0 {
		return llmFallbackScore
	}

	prompt := fmt.Sprintf("The prospect's email expresses these intents: %s.\n\nProposed reply:\n%s\n\n"+
		"How completely does the reply address these intents?", strings.Join(names, ", "), in.Content)
	return v.llmScore(ctx, "intent", prompt)
}

func (v *Verifier) llmScore(ctx context.Context, axis, prompt string) float64 {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	out, err := v.llm.Complete(ctx, llm.Request{
		System:      `You grade email replies. Respond with JSON only: {"score": <0.0-1.0>, "reason": "<short>"}`,
		User:        prompt,
		Temperature: 0,
		MaxTokens:   100,
	})
	if err != nil {
		v.logger.Warn("llm scoring failed", "axis", axis, "error", err)
		return v.fallback(axis)
	}

	score, ok := parseScore(out)
	if !ok {
		v.logger.Warn("unparseable llm score", "axis", axis)
		return v.fallback(axis)
	}
	return score
}

func (v *Verifier) fallback(axis string) float64 {
	if v.onFallback != nil {
		v.onFallback(axis)
	}
	return llmFallbackScore
}

func parseScore(text string) (float64, bool) {
	if obj, ok := llm.ExtractJSONObject(text); ok {
		var s struct {
			Score *float64 `json:"score"`
		}
		if err := json.Unmarshal([]byte(obj), &s); err == nil && s.Score != nil {
			return clampScore(*s.Score), true
		}
	}
	if m := numberPattern.FindString(text); m != "" {
		if f, err := strconv.ParseFloat(m, 64); err == nil && f <= 1 {
			return clampScore(f), true
		}
	}
	return 0, false
}

func notes(s models.Scores) []string {
	var out []string
	add := func(axis string, score float64, msg string) {
		if score < weakAxisScore {
			out = append(out, fmt.Sprintf("%s low (%.2f): %s", axis, score, msg))
		}
	}
	add("context alignment", s.ContextAlignment, "reply does not clearly address the prospect's email")
	add("intent accuracy", s.IntentAccuracy, "reply misses one or more detected intents")
	add("content quality", s.ContentQuality, "length, greeting or closing is off")
	add("personalization", s.Personalization, "few prospect details are referenced")
	add("tone", s.Tone, "wording is not professional enough")
	return out
}

func suggestions(s models.Scores) string {
	var out []string
	if s.ContextAlignment < weakAxisScore {
		out = append(out, "Reference the prospect's question directly.")
	}
	if s.IntentAccuracy < weakAxisScore {
		out = append(out, "Answer every request in the prospect's email.")
	}
	if s.ContentQuality < weakAxisScore {
		out = append(out, "Keep the reply between 100 and 1000 characters with a greeting and a sign-off.")
	}
	if s.Personalization < weakAxisScore {
		out = append(out, "Mention the prospect's name and company.")
	}
	if s.Tone < weakAxisScore {
		out = append(out, "Use a more professional tone.")
	}
	if len(out) == 0 {
		out = append(out, "Review overall relevance before sending.")
	}
	return strings.Join(out, " ")
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(v, 1))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
