package reply

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/foxzi/outreach/internal/llm"
	"github.com/foxzi/outreach/internal/models"
)

// Kind labels an inbound message
type Kind string

const (
	Genuine   Kind = "genuine"
	Automated Kind = "automated"
)

// Source names the rule that decided a classification
type Source string

const (
	SourceHeader  Source = "header"
	SourceSender  Source = "sender"
	SourcePhrase  Source = "phrase"
	SourcePattern Source = "pattern"
	SourceLLM     Source = "llm"
	SourceDefault Source = "default"
)

// Result is the outcome of classifying one inbound message
type Result struct {
	Kind       Kind    `json:"kind"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Source     Source  `json:"source"`
}

// IsGenuine reports whether the message was written by a person
func (r Result) IsGenuine() bool {
	return r.Kind == Genuine
}

var (
	// Phrases found in out-of-office and auto-reply bodies
	autoReplyPhrases = []string{
		"out of office",
		"out of the office",
		"automatic reply",
		"auto-reply",
		"autoreply",
		"auto reply",
		"on vacation",
		"on holiday",
		"will be back",
		"currently away",
		"away from my desk",
		"limited access to email",
		"limited access to my email",
		"this is an automated",
		"do not reply to this",
		"i am currently out",
		"i'm currently out",
		"on annual leave",
		"on parental leave",
		"on maternity leave",
		"returning on",
	}

	// Body patterns for auto-reply phrasings not covered by the phrase list
	bodyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)i\s+(am|will\s+be)\s+(out|away|off)\s+(of\s+(the\s+)?office\s+)?(until|from|through|till)`),
		regexp.MustCompile(`(?i)(back|return(ing)?)\s+(in\s+the\s+office\s+)?on\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday|\d{1,2}[/.\-]\d{1,2}|\w+\s+\d{1,2})`),
		regexp.MustCompile(`(?i)(will|shall)\s+(respond|reply|get\s+back\s+to\s+you)\s+(upon|when|after)\s+(my\s+)?return`),
		regexp.MustCompile(`(?i)for\s+(urgent|immediate)\s+(matters|requests|issues|assistance).{0,40}(contact|reach|email)`),
		regexp.MustCompile(`(?i)thank\s+you\s+for\s+your\s+(email|message).{0,40}(will\s+)?(respond|reply|get\s+back).{0,30}(as\s+soon\s+as|shortly|within)`),
		regexp.MustCompile(`(?i)this\s+(mailbox|inbox|email\s+address)\s+is\s+(not\s+monitored|no\s+longer\s+(active|monitored))`),
		regexp.MustCompile(`(?i)(no\s+longer|not)\s+with\s+(the\s+)?(company|organization|firm)`),
		regexp.MustCompile(`(?i)(ticket|case)\s*(#|number|id)\s*:?\s*[A-Z\-]*\d{3,}`),
	}

	// Subject patterns, a strong signal when present
	subjectPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*automatic\s+reply`),
		regexp.MustCompile(`(?i)^\s*auto[\s-]?(reply|response|matic)`),
		regexp.MustCompile(`(?i)^\s*out\s+of\s+(the\s+)?office`),
		regexp.MustCompile(`(?i)^\s*(ooo|away|absent|abwesend|absence)\b`),
		regexp.MustCompile(`(?i)(undeliverable|delivery\s+status\s+notification|mail\s+delivery\s+failed|returned\s+mail)`),
		regexp.MustCompile(`(?i)request\s+received`),
	}

	// Senders that never belong to a person
	automatedSenders = []string{
		"mailer-daemon",
		"postmaster",
		"mail delivery system",
		"mail delivery subsystem",
		"mailerdaemon",
		"noreply",
		"no-reply",
		"donotreply",
		"do-not-reply",
		"autoresponder",
		"notifications@",
	}
)

const (
	systemPrompt = "You decide whether an email is an automated reply (out-of-office, auto-responder, " +
		"ticket acknowledgement, delivery notice) or written by a person. Answer with a single word: yes or no."

	defaultLLMTimeout = 15 * time.Second
	maxPromptBody     = 2000
)

// Classifier labels inbound messages as genuine or automated
type Classifier struct {
	llm     llm.Client
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Classifier
type Option func(*Classifier)

// WithLLM enables the yes/no LLM check for messages no rule matched
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

// NewClassifier creates a reply classifier
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		timeout: defaultLLMTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "reply_classifier")
	return c
}

// Classify labels msg. It never fails; any collaborator error yields Genuine.
func (c *Classifier) Classify(ctx context.Context, msg *models.RawMessage) Result {
	if r, ok := classifyHeaders(msg.Headers); ok {
		return r
	}
	if r, ok := classifySender(msg.From, msg.FromName); ok {
		return r
	}

	// Phrases are body-only: a human "Re:" keeps the campaign subject, whatever it says
	body := strings.ToLower(msg.Body)

	for _, phrase := range autoReplyPhrases {
		if strings.Contains(body, phrase) {
			return Result{
				Kind:       Automated,
				Confidence: 0.9,
				Reason:     fmt.Sprintf("contains %q", phrase),
				Source:     SourcePhrase,
			}
		}
	}

	for _, p := range subjectPatterns {
		if p.MatchString(msg.Subject) {
			return Result{
				Kind:       Automated,
				Confidence: 0.85,
				Reason:     "subject matches auto-reply pattern",
				Source:     SourcePattern,
			}
		}
	}
	for _, p := range bodyPatterns {
		if p.MatchString(msg.Body) {
			return Result{
				Kind:       Automated,
				Confidence: 0.75,
				Reason:     "body matches auto-reply pattern",
				Source:     SourcePattern,
			}
		}
	}

	if c.llm != nil {
		return c.classifyLLM(ctx, msg)
	}

	return Result{
		Kind:       Genuine,
		Confidence: 0.6,
		Reason:     "no auto-reply indicators",
		Source:     SourceDefault,
	}
}

func (c *Classifier) classifyLLM(ctx context.Context, msg *models.RawMessage) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := llm.Truncate(msg.Body, maxPromptBody)
	answer, err := c.llm.Complete(ctx, llm.Request{
		System:      systemPrompt,
		User:        fmt.Sprintf("From: %s\nSubject: %s\n\n%s\n\nIs this an automated reply?", msg.From, msg.Subject, body),
		Temperature: 0,
		MaxTokens:   3,
	})
	if err != nil {
		c.logger.Warn("llm check failed, treating reply as genuine", "from", msg.From, "error", err)
		return Result{
			Kind:       Genuine,
			Confidence: 0.5,
			Reason:     "llm unavailable",
			Source:     SourceDefault,
		}
	}

	answer = strings.ToLower(strings.TrimSpace(answer))
	answer = strings.Trim(answer, ".!\"' ")
	if strings.HasPrefix(answer, "yes") {
		return Result{
			Kind:       Automated,
			Confidence: 0.7,
			Reason:     "llm judged message automated",
			Source:     SourceLLM,
		}
	}
	if !strings.HasPrefix(answer, "no") {
		c.logger.Debug("unexpected llm answer", "answer", answer)
	}
	return Result{
		Kind:       Genuine,
		Confidence: 0.7,
		Reason:     "llm judged message human-written",
		Source:     SourceLLM,
	}
}

func classifyHeaders(headers map[string]string) (Result, bool) {
	if len(headers) == 0 {
		return Result{}, false
	}
	get := func(name string) string {
		for k, v := range headers {
			if strings.EqualFold(k, name) {
				return strings.ToLower(strings.TrimSpace(v))
			}
		}
		return ""
	}

	// RFC 3834
	if v := get("Auto-Submitted"); v != "" && v != "no" {
		return Result{Kind: Automated, Confidence: 0.95, Reason: "Auto-Submitted: " + v, Source: SourceHeader}, true
	}
	for _, h := range []string{"X-Autoreply", "X-Autorespond", "X-Auto-Response-Suppress"} {
		if v := get(h); v != "" {
			return Result{Kind: Automated, Confidence: 0.9, Reason: h + " header present", Source: SourceHeader}, true
		}
	}
	switch get("Precedence") {
	case "auto_reply", "bulk", "junk":
		return Result{Kind: Automated, Confidence: 0.85, Reason: "Precedence: " + get("Precedence"), Source: SourceHeader}, true
	}
	return Result{}, false
}

func classifySender(from, name string) (Result, bool) {
	from = strings.ToLower(from)
	name = strings.ToLower(name)
	for _, s := range automatedSenders {
		if strings.Contains(from, s) || (name != "" && strings.Contains(name, s)) {
			return Result{Kind: Automated, Confidence: 0.9, Reason: "automated sender " + s, Source: SourceSender}, true
		}
	}
	return Result{}, false
}
