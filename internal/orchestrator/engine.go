// Package orchestrator runs the inbound reply pipeline and the follow-up loop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/foxzi/outreach/internal/followup"
	"github.com/foxzi/outreach/internal/mail"
	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/models"
	"github.com/foxzi/outreach/internal/ratelimit"
	"github.com/foxzi/outreach/internal/reply"
	"github.com/foxzi/outreach/internal/response"
	"github.com/foxzi/outreach/internal/review"
	"github.com/foxzi/outreach/internal/storage"
)

// Catalog supplies campaigns and the configured intents
type Catalog interface {
	Campaign(id string) (*models.Campaign, error)
	Intents() []models.Intent
}

// ReplyClassifier labels inbound messages
type ReplyClassifier interface {
	Classify(ctx context.Context, msg *models.RawMessage) reply.Result
}

// IntentClassifier ranks configured intents for a message
type IntentClassifier interface {
	Classify(ctx context.Context, subject, body string, intents []models.Intent) models.ClassificationResult
}

// ResponseGenerator drafts replies
type ResponseGenerator interface {
	Generate(ctx context.Context, in response.Input) response.Draft
}

// ResponseVerifier scores drafts
type ResponseVerifier interface {
	Verify(ctx context.Context, in response.VerifyInput) *models.Verification
}

// ReviewQueue holds drafts waiting for a human decision
type ReviewQueue interface {
	Enqueue(ctx context.Context, item *models.ReviewItem) error
	Get(ctx context.Context, id string) (*models.ReviewItem, error)
	Resolve(ctx context.Context, id string, decision models.ReviewStatus) (*models.ReviewItem, error)
}

// Deps are the collaborators of the engine
type Deps struct {
	Store     storage.Store
	Catalog   Catalog
	Transport mail.Transport
	Replies   ReplyClassifier
	Intents   IntentClassifier
	Generator ResponseGenerator
	Verifier  ResponseVerifier
	Limiter   followup.Limiter
	Reviews   ReviewQueue
	Cache     *ConversationCache
	Logger    *slog.Logger
}

// Options tunes the inbound pipeline
type Options struct {
	// SendTimeout bounds one transport call
	SendTimeout time.Duration
	// HistorySize is the number of thread messages given to generator and verifier
	HistorySize int
	// MaxAutoReplies caps automatic replies per thread
	MaxAutoReplies int
	Clock          func() time.Time
}

// InboundOutcome is what handling one inbound message produced
type InboundOutcome string

const (
	InboundDuplicate     InboundOutcome = "duplicate"
	InboundUnknownSender InboundOutcome = "unknown_sender"
	InboundAutomated     InboundOutcome = "automated"
	InboundNoAction      InboundOutcome = "no_action"
	InboundReplied       InboundOutcome = "replied"
	InboundQueued        InboundOutcome = "queued"
	InboundRejected      InboundOutcome = "rejected"
	InboundFailed        InboundOutcome = "failed"
)

// Engine processes inbound replies
type Engine struct {
	Deps
	opts   Options
	logger *slog.Logger
}

// NewEngine creates the engine
func NewEngine(deps Deps, opts Options) *Engine {
	if opts.SendTimeout == 0 {
		opts.SendTimeout = 60 * time.Second
	}
	if opts.HistorySize == 0 {
		opts.HistorySize = 10
	}
	if opts.MaxAutoReplies == 0 {
		opts.MaxAutoReplies = 3
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if deps.Cache == nil {
		deps.Cache = NewConversationCache(0, 0)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		Deps:   deps,
		opts:   opts,
		logger: logger.With("component", "orchestrator"),
	}
}

// HandleInbound runs one inbound message through classification,
// generation and verification, then sends, queues or drops the draft.
func (e *Engine) HandleInbound(ctx context.Context, msg *models.RawMessage) (InboundOutcome, error) {
	logger := e.logger.With("provider", msg.ProviderID, "message_id", msg.MessageID)

	fresh, err := e.Store.MarkInboundSeen(ctx, msg.ProviderID, msg.MessageID)
	if err != nil {
		return InboundFailed, fmt.Errorf("failed to record inbound message: %w", err)
	}
	if !fresh {
		logger.Debug("inbound message already handled")
		return InboundDuplicate, nil
	}

	p, err := e.Store.FindProspectByEmail(ctx, msg.From)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Debug("message from unknown sender", "from", msg.From)
		return InboundUnknownSender, nil
	}
	if err != nil {
		return InboundFailed, err
	}
	logger = logger.With("prospect_id", p.ID)

	thread, err := e.thread(ctx, p.ID)
	if err != nil {
		return InboundFailed, err
	}

	received := models.Message{
		Direction:     models.DirectionReceived,
		Subject:       msg.Subject,
		Content:       msg.Body,
		Timestamp:     msg.ReceivedAt,
		ProviderID:    msg.ProviderID,
		ProviderMsgID: msg.MessageID,
	}
	if received.Timestamp.IsZero() {
		received.Timestamp = e.opts.Clock()
	}
	if err := e.Store.AppendMessage(ctx, thread.ID, &received); err != nil {
		return InboundFailed, fmt.Errorf("failed to append reply: %w", err)
	}
	thread.Messages = append(thread.Messages, received)
	e.Cache.Append(p.ID, received)

	rr := e.Replies.Classify(ctx, msg)
	metrics.IncRepliesClassified(string(rr.Kind))
	logger.Info("reply classified", "kind", rr.Kind, "source", rr.Source, "reason", rr.Reason)

	p, err = e.recordResponse(ctx, p.ID, rr, received.Timestamp, logger)
	if err != nil {
		return InboundFailed, err
	}
	if !rr.IsGenuine() {
		return InboundAutomated, nil
	}

	result := e.Intents.Classify(ctx, msg.Subject, msg.Body, e.Catalog.Intents())
	for _, m := range result.Matches {
		metrics.IncIntentMatched(m.Intent.Name)
	}
	logger = logger.With("intents", result.Names())

	if !result.AutoRespond() {
		logger.Info("no auto-respond intent matched")
		return InboundNoAction, nil
	}
	if n := autoReplies(thread); n >= e.opts.MaxAutoReplies {
		logger.Info("auto-reply limit reached for thread", "auto_replies", n)
		return InboundNoAction, nil
	}

	senderName := e.senderName(p)
	history := thread.Recent(e.opts.HistorySize)

	draft := e.Generator.Generate(ctx, response.Input{
		Message:        msg,
		Classification: result,
		History:        history,
		Prospect:       p,
		SenderName:     senderName,
	})
	ver := e.Verifier.Verify(ctx, response.VerifyInput{
		Subject:        draft.Subject,
		Content:        draft.Content,
		Message:        msg,
		Classification: result,
		History:        history,
		Prospect:       p,
	})
	if err := e.Store.SaveVerification(ctx, ver); err != nil {
		logger.Warn("failed to save verification", "error", err)
	}
	metrics.IncVerifications(string(ver.Status))
	logger = logger.With("template", draft.TemplateUsed, "score", ver.OverallScore, "verdict", ver.Status)

	item := &models.ReviewItem{
		ProspectID:     p.ID,
		ThreadID:       thread.ID,
		ProviderID:     msg.ProviderID,
		To:             msg.From,
		Subject:        draft.Subject,
		Content:        draft.Content,
		VerificationID: ver.ID,
		OverallScore:   ver.OverallScore,
		Notes:          ver.Notes,
	}

	switch ver.Status {
	case models.VerificationApproved:
		msgID, err := e.deliver(ctx, p, item, msg.MessageID, thread.References())
		if err != nil {
			// Keep the approved draft for a human rather than dropping it
			item.Notes = append(item.Notes, "automatic send failed: "+err.Error())
			logger.Warn("auto-reply not sent, queueing for review", "error", err)
			if qerr := e.Reviews.Enqueue(context.WithoutCancel(ctx), item); qerr != nil {
				return InboundFailed, fmt.Errorf("failed to queue review: %w", qerr)
			}
			return InboundQueued, nil
		}
		logger.Info("auto-reply sent", "sent_message_id", msgID)
		return InboundReplied, nil

	case models.VerificationNeedsReview:
		if err := e.Reviews.Enqueue(ctx, item); err != nil {
			return InboundFailed, fmt.Errorf("failed to queue review: %w", err)
		}
		return InboundQueued, nil

	default:
		logger.Info("generated reply rejected", "notes", ver.Notes)
		return InboundRejected, nil
	}
}

// ApproveReview sends a pending review item and marks it approved.
// A failed send leaves the item pending.
func (e *Engine) ApproveReview(ctx context.Context, id string) (*models.ReviewItem, error) {
	item, err := e.Reviews.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != models.ReviewPending {
		return item, review.ErrAlreadyResolved
	}

	p, err := e.Store.GetProspect(ctx, item.ProspectID)
	if err != nil {
		return nil, err
	}
	thread, err := e.Store.GetThreadByProspect(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	if _, err := e.deliver(ctx, p, item, thread.LastProviderMessageID(), thread.References()); err != nil {
		return nil, err
	}
	return e.Reviews.Resolve(context.WithoutCancel(ctx), id, models.ReviewApproved)
}

// DiscardReview drops a pending review item
func (e *Engine) DiscardReview(ctx context.Context, id string) (*models.ReviewItem, error) {
	return e.Reviews.Resolve(ctx, id, models.ReviewDiscard)
}

// deliver sends a reply on the prospect's thread. Once the quota check
// passes the send runs to completion even if ctx is cancelled.
func (e *Engine) deliver(ctx context.Context, p *models.Prospect, item *models.ReviewItem, inReplyTo string, refs []string) (string, error) {
	bg := context.WithoutCancel(ctx)

	res, err := e.Limiter.Allow(bg, item.ProviderID)
	if err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	if !res.Allowed {
		metrics.IncQuotaExceeded(string(res.DeniedBy))
		return "", fmt.Errorf("%w: %s %s limit, retry after %s", ratelimit.ErrQuotaExceeded, res.DeniedBy, res.Window, res.RetryAfter)
	}

	sendCtx, cancel := context.WithTimeout(bg, e.opts.SendTimeout)
	msgID, err := e.Transport.Send(sendCtx, &mail.Outbound{
		ProviderID: item.ProviderID,
		To:         item.To,
		ToName:     p.FullName(),
		FromName:   e.senderName(p),
		Subject:    item.Subject,
		Body:       item.Content,
		InReplyTo:  inReplyTo,
		References: refs,
	})
	cancel()
	if err != nil {
		return "", fmt.Errorf("send failed: %w", err)
	}

	if err := e.Limiter.RecordSend(bg, item.ProviderID); err != nil {
		e.logger.Warn("failed to record send", "provider", item.ProviderID, "error", err)
	}

	sent := models.Message{
		Direction:     models.DirectionSent,
		Subject:       item.Subject,
		Content:       item.Content,
		Timestamp:     e.opts.Clock(),
		ProviderID:    item.ProviderID,
		ProviderMsgID: msgID,
		AutoResponse:  true,
	}
	if err := e.Store.AppendMessage(bg, item.ThreadID, &sent); err != nil {
		// The mail is out; the thread misses one entry
		e.logger.Error("failed to record sent reply", "thread_id", item.ThreadID, "error", err)
		e.Cache.Invalidate(p.ID)
	} else {
		e.Cache.Append(p.ID, sent)
	}

	metrics.IncAutoRepliesSent(item.ProviderID)
	return msgID, nil
}

// recordResponse stamps the reply on the prospect. A genuine reply stops
// follow-ups; an automated one leaves them running.
func (e *Engine) recordResponse(ctx context.Context, id string, rr reply.Result, at time.Time, logger *slog.Logger) (*models.Prospect, error) {
	stopped := false
	p, err := e.Store.UpdateProspect(ctx, id, func(p *models.Prospect) error {
		if rr.IsGenuine() {
			p.RespondedAt = &at
			p.ResponseType = models.ResponseManual
			if p.FollowUpStatus == models.FollowUpActive {
				p.FollowUpStatus = models.FollowUpStopped
				p.StopReason = "genuine reply received"
				stopped = true
			}
			return nil
		}
		// An auto-reply never downgrades a recorded human reply
		if p.ResponseType != models.ResponseManual {
			p.RespondedAt = &at
			p.ResponseType = models.ResponseAutoReply
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record response: %w", err)
	}
	if stopped {
		metrics.IncFollowUpsStopped(string(models.FollowUpStopped))
		logger.Info("follow-ups stopped by reply")
	}
	return p, nil
}

func (e *Engine) thread(ctx context.Context, prospectID string) (*models.Thread, error) {
	if t, ok := e.Cache.Get(prospectID); ok {
		return t, nil
	}
	t, err := e.Store.GetOrCreateThread(ctx, prospectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}
	e.Cache.Put(prospectID, t)
	return t, nil
}

func (e *Engine) senderName(p *models.Prospect) string {
	camp, err := e.Catalog.Campaign(p.CampaignID)
	if err != nil {
		return ""
	}
	return camp.FromName
}

func autoReplies(t *models.Thread) int {
	n := 0
	for _, m := range t.Messages {
		if m.AutoResponse {
			n++
		}
	}
	return n
}
