package response

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/foxzi/outreach/internal/llm"
	"github.com/foxzi/outreach/internal/models"
)

const (
	// TemplateAcknowledgment names the built-in reply used when no template applies
	TemplateAcknowledgment = "builtin:acknowledgment"

	acknowledgmentBody = "Hi {{first_name}},\n\n" +
		"Thank you for getting back to me. I appreciate you taking the time to reply " +
		"and will follow up with more details shortly.\n\n" +
		"Best regards,\n{{sender_name}}"

	defaultHistorySize  = 5
	defaultEnhanceLimit = 800
)

// Input is everything the generator needs to draft a reply
type Input struct {
	Message        *models.RawMessage
	Classification models.ClassificationResult
	History        []models.Message
	Prospect       *models.Prospect
	SenderName     string
}

// Draft is a generated reply
type Draft struct {
	Subject      string  `json:"subject"`
	Content      string  `json:"content"`
	TemplateUsed string  `json:"template_used"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
	Enhanced     bool    `json:"enhanced"`
}

// Generator drafts replies from templates, optionally rewritten by the LLM
type Generator struct {
	templates  []models.Template
	knowledge  *KnowledgeBase
	llm        llm.Client
	timeout    time.Duration
	history    int
	logger     *slog.Logger
	onFallback func(reason string)
}

// GeneratorOption configures a Generator
type GeneratorOption func(*Generator)

// WithEnhancement enables LLM rewriting of templated drafts
func WithEnhancement(client llm.Client, kb *KnowledgeBase, timeout time.Duration) GeneratorOption {
	return func(g *Generator) {
		g.llm = client
		g.knowledge = kb
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

// WithGeneratorLogger sets the logger
func WithGeneratorLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithHistorySize sets how many thread messages are given to the LLM
func WithHistorySize(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.history = n
		}
	}
}

// WithGeneratorFallbackHook registers a callback invoked when enhancement fails
func WithGeneratorFallbackHook(fn func(reason string)) GeneratorOption {
	return func(g *Generator) {
		g.onFallback = fn
	}
}

// NewGenerator creates a response generator over the given templates
func NewGenerator(templates []models.Template, opts ...GeneratorOption) *Generator {
	g := &Generator{
		templates: templates,
		timeout:   30 * time.Second,
		history:   defaultHistorySize,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "response_generator")
	return g
}

// Generate drafts a reply. It always returns a draft.
func (g *Generator) Generate(ctx context.Context, in Input) Draft {
	top, _ := in.Classification.Top()
	text := ""
	if in.Message != nil {
		text = in.Message.Subject + " " + in.Message.Body
	}

	tmpl, kind := g.selectTemplate(top.Intent, text)

	vars := g.variables(in)
	draft := Draft{
		Content:      strings.TrimSpace(Render(tmpl.Body, vars)),
		TemplateUsed: tmpl.ID,
	}

	if in.Message != nil && in.Message.Subject != "" {
		draft.Subject = ReplySubject(in.Message.Subject)
	} else {
		draft.Subject = Render(tmpl.Subject, vars)
	}

	switch kind {
	case selectedIntent:
		draft.Confidence = top.Confidence
		draft.Reasoning = fmt.Sprintf("template %s bound to intent %s", tmpl.ID, top.Intent.Name)
	case selectedGeneric:
		draft.Confidence = top.Confidence * 0.8
		draft.Reasoning = fmt.Sprintf("generic template %s, intent %s has no template", tmpl.ID, top.Intent.Name)
	default:
		draft.Confidence = top.Confidence * 0.5
		draft.Reasoning = "no template available, using acknowledgment"
	}

	if g.llm == nil {
		return draft
	}

	enhanced, err := g.enhance(ctx, in, draft)
	if err != nil {
		g.logger.Warn("enhancement failed, using templated draft", "template", draft.TemplateUsed, "error", err)
		if g.onFallback != nil {
			g.onFallback("enhance")
		}
		return draft
	}
	draft.Content = enhanced
	draft.Enhanced = true
	draft.Reasoning += ", enhanced"
	return draft
}

type selection int

const (
	selectedIntent selection = iota
	selectedGeneric
	selectedBuiltin
)

// selectTemplate picks the most relevant template bound to the intent,
// then the best generic template, then the built-in acknowledgment.
func (g *Generator) selectTemplate(intent models.Intent, text string) (models.Template, selection) {
	bound := make(map[string]bool, len(intent.TemplateIDs))
	for _, id := range intent.TemplateIDs {
		bound[id] = true
	}

	var candidates, generic []models.Template
	for _, t := range g.templates {
		switch {
		case bound[t.ID] || (intent.Name != "" && strings.EqualFold(t.Intent, intent.Name)):
			candidates = append(candidates, t)
		case t.Generic:
			generic = append(generic, t)
		}
	}

	lower := strings.ToLower(text)
	if best, ok := mostRelevant(candidates, lower); ok {
		return best, selectedIntent
	}
	if best, ok := mostRelevant(generic, lower); ok {
		return best, selectedGeneric
	}
	return models.Template{ID: TemplateAcknowledgment, Name: "Acknowledgment", Body: acknowledgmentBody}, selectedBuiltin
}

func mostRelevant(templates []models.Template, lowerText string) (models.Template, bool) {
	if len(templates) == 0 {
		return models.Template{}, false
	}
	type scored struct {
		t     models.Template
		score int
	}
	list := make([]scored, 0, len(templates))
	for _, t := range templates {
		score := t.Priority
		for _, kw := range t.Keywords {
			if kw != "" && strings.Contains(lowerText, strings.ToLower(kw)) {
				score += 10
			}
		}
		list = append(list, scored{t, score})
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].score > list[j].score
	})
	return list[0].t, true
}

func (g *Generator) variables(in Input) map[string]string {
	vars := map[string]string{"sender_name": in.SenderName}
	if in.Message != nil {
		vars["original_subject"] = in.Message.Subject
	}
	if in.Prospect != nil {
		vars = MergeVariables(vars, in.Prospect.Variables())
	}
	return vars
}

func (g *Generator) enhance(ctx context.Context, in Input, draft Draft) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var sb strings.Builder
	if in.Message != nil {
		fmt.Fprintf(&sb, "Their email:\nSubject: %s\n%s\n\n", in.Message.Subject, llm.Truncate(in.Message.Body, 2000))
	}

	history := in.History
	if len(history) > g.history {
		history = history[len(history)-g.history:]
	}
	if len(history) > 0 {
		sb.WriteString("Earlier conversation (oldest first):\n")
		for _, m := range history {
			fmt.Fprintf(&sb, "[%s] %s\n", m.Direction, llm.Truncate(m.Content, 500))
		}
		sb.WriteString("\n")
	}

	if in.Message != nil {
		if snippets := g.knowledge.Relevant(in.Message.Subject+" "+in.Message.Body, 3); len(snippets) > 0 {
			sb.WriteString("Product knowledge:\n")
			for _, s := range snippets {
				fmt.Fprintf(&sb, "- %s: %s\n", s.Title, s.Content)
			}
			sb.WriteString("\n")
		}
	}

	if names := in.Classification.Names(); len(names) > 0 {
		fmt.Fprintf(&sb, "Detected intents: %s\n\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(&sb, "Draft reply:\n%s\n", draft.Content)

	out, err := g.llm.Complete(ctx, llm.Request{
		System: "You rewrite sales email replies. Keep the draft's facts, greeting and sign-off, " +
			"answer the prospect's questions using only the product knowledge given, stay under 200 words. " +
			"Return only the email body.",
		User:        sb.String(),
		Temperature: 0.4,
		MaxTokens:   defaultEnhanceLimit,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty enhancement")
	}
	return out, nil
}
