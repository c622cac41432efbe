package followup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/foxzi/outreach/internal/mail"
	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/models"
	"github.com/foxzi/outreach/internal/ratelimit"
	"github.com/foxzi/outreach/internal/response"
	"github.com/foxzi/outreach/internal/storage"
)

// Outcome is what processing one prospect produced
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeWaiting   Outcome = "waiting"
	OutcomeStopped   Outcome = "stopped"
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDeferred  Outcome = "deferred" // quota denied, touch stays due
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// Campaigns supplies campaign schedules and follow-up templates
type Campaigns interface {
	Campaign(id string) (*models.Campaign, error)
	Template(id string) (*models.Template, error)
}

// Limiter gates sends per provider
type Limiter interface {
	Allow(ctx context.Context, provider string) (*ratelimit.Result, error)
	RecordSend(ctx context.Context, provider string) error
}

// Options tunes the runner
type Options struct {
	// Lease is how long a claim blocks other scans from the same touch
	Lease time.Duration
	// SendTimeout bounds one transport call
	SendTimeout time.Duration
	Logger      *slog.Logger
	Clock       func() time.Time
	// OnSent is called after a touch is committed to the thread
	OnSent func(prospectID string)
}

// Runner executes scheduler decisions against the store and transport
type Runner struct {
	store     storage.Store
	campaigns Campaigns
	limiter   Limiter
	transport mail.Transport
	opts      Options
	logger    *slog.Logger
}

// NewRunner creates a follow-up runner
func NewRunner(store storage.Store, campaigns Campaigns, limiter Limiter, transport mail.Transport, opts Options) *Runner {
	if opts.Lease == 0 {
		opts.Lease = 10 * time.Minute
	}
	if opts.SendTimeout == 0 {
		opts.SendTimeout = 60 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		store:     store,
		campaigns: campaigns,
		limiter:   limiter,
		transport: transport,
		opts:      opts,
		logger:    logger.With("component", "followup"),
	}
}

// ScanReport counts outcomes of one scan
type ScanReport struct {
	Scanned  int
	Outcomes map[Outcome]int
}

// Scan processes every active prospect once. Per-prospect failures are
// logged and do not stop the scan; a cancelled ctx stops between prospects.
func (r *Runner) Scan(ctx context.Context) (*ScanReport, error) {
	report := &ScanReport{Outcomes: make(map[Outcome]int)}

	prospects, err := r.store.ListProspects(ctx, storage.ProspectFilter{Status: models.FollowUpActive})
	if err != nil {
		return report, fmt.Errorf("failed to list active prospects: %w", err)
	}

	for _, p := range prospects {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		outcome, err := r.Process(ctx, p)
		report.Scanned++
		report.Outcomes[outcome]++
		if err != nil {
			r.logger.Warn("follow-up failed",
				"prospect_id", p.ID,
				"outcome", outcome,
				"error", err,
			)
		}
	}

	return report, nil
}

// Process decides and, when due, sends the next touch for one prospect
func (r *Runner) Process(ctx context.Context, p *models.Prospect) (Outcome, error) {
	now := r.opts.Clock()

	camp, err := r.campaigns.Campaign(p.CampaignID)
	if err != nil {
		return OutcomeSkipped, err
	}

	d := Decide(p, &camp.FollowUp, now)
	logger := r.logger.With("prospect_id", p.ID, "campaign_id", p.CampaignID)

	switch d.Action {
	case ActionStop:
		return r.finish(ctx, p.ID, models.FollowUpStopped, d.Reason, logger)
	case ActionComplete:
		return r.finish(ctx, p.ID, models.FollowUpCompleted, d.Reason, logger)
	case ActionWait:
		logger.Debug("touch not due", "sequence", d.Sequence, "next_due", d.NextDue, "reason", d.Reason)
		return OutcomeWaiting, nil
	case ActionFire:
		return r.fire(ctx, p, camp, d, now, logger.With("sequence", d.Sequence, "provider", p.ProviderID))
	default:
		return OutcomeSkipped, nil
	}
}

// finish moves an active prospect to a terminal status
func (r *Runner) finish(ctx context.Context, id string, status models.FollowUpStatus, reason string, logger *slog.Logger) (Outcome, error) {
	changed := false
	_, err := r.store.UpdateProspect(ctx, id, func(p *models.Prospect) error {
		if p.FollowUpStatus != models.FollowUpActive {
			return nil
		}
		p.FollowUpStatus = status
		p.StopReason = reason
		changed = true
		return nil
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to update prospect: %w", err)
	}
	if changed {
		metrics.IncFollowUpsStopped(string(status))
		logger.Info("follow-ups ended", "status", status, "reason", reason)
	}
	if status == models.FollowUpStopped {
		return OutcomeStopped, nil
	}
	return OutcomeCompleted, nil
}

func (r *Runner) fire(ctx context.Context, p *models.Prospect, camp *models.Campaign, d Decision, now time.Time, logger *slog.Logger) (Outcome, error) {
	err := r.store.ClaimTouch(ctx, p.ID, d.Sequence, now, r.opts.Lease)
	switch {
	case errors.Is(err, storage.ErrTouchRecorded):
		logger.Warn("duplicate touch suppressed")
		return OutcomeDuplicate, nil
	case errors.Is(err, storage.ErrTouchClaimed):
		logger.Debug("touch claimed by another scan")
		return OutcomeDuplicate, nil
	case errors.Is(err, storage.ErrTouchInDoubt):
		return r.reconcile(ctx, p, camp, d, logger)
	case errors.Is(err, storage.ErrNotActive):
		return OutcomeSkipped, nil
	case err != nil:
		return OutcomeFailed, fmt.Errorf("failed to claim touch: %w", err)
	}

	// Everything after the claim must finish even if the scan is cancelled
	bg := context.WithoutCancel(ctx)
	// Once the transport accepted the touch the claim is never released
	keepClaim := false
	defer func() {
		if keepClaim {
			return
		}
		if err := r.store.ReleaseTouch(bg, p.ID, d.Sequence); err != nil {
			logger.Error("failed to release touch", "error", err)
		}
	}()

	res, err := r.limiter.Allow(bg, p.ProviderID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("rate limiter: %w", err)
	}
	if !res.Allowed {
		metrics.IncQuotaExceeded(string(res.DeniedBy))
		metrics.IncFollowUpsDeferred("quota")
		logger.Info("touch deferred by quota",
			"denied_by", res.DeniedBy,
			"window", res.Window,
			"retry_after", res.RetryAfter,
		)
		return OutcomeDeferred, nil
	}

	out, body, err := r.compose(bg, p, camp, d)
	if err != nil {
		return OutcomeFailed, err
	}

	sendCtx, cancel := context.WithTimeout(bg, r.opts.SendTimeout)
	msgID, err := r.transport.Send(sendCtx, out)
	cancel()
	if err != nil {
		metrics.IncFollowUpsFailed(p.ProviderID, mail.ErrorType(err))
		return OutcomeFailed, fmt.Errorf("send failed: %w", err)
	}

	keepClaim = true

	if err := r.limiter.RecordSend(bg, p.ProviderID); err != nil {
		logger.Warn("failed to record send", "error", err)
	}

	msg := &models.Message{
		Subject:       out.Subject,
		Content:       body,
		ProviderID:    p.ProviderID,
		ProviderMsgID: msgID,
	}
	if err := r.store.MarkTouchDelivered(bg, p.ID, d.Sequence, msg, now); err != nil && !errors.Is(err, storage.ErrTouchRecorded) {
		logger.Error("failed to mark touch delivered", "message_id", msgID, "error", err)
	}
	updated, err := r.store.CommitTouch(bg, p.ID, d.Sequence, Budget(&camp.FollowUp), msg, now)
	if err != nil {
		if errors.Is(err, storage.ErrTouchRecorded) {
			logger.Warn("touch already recorded after send", "message_id", msgID)
			return OutcomeDuplicate, nil
		}
		return OutcomeFailed, fmt.Errorf("failed to record touch: %w", err)
	}

	r.sent(p.ID, p.ProviderID, updated, logger.With("message_id", msgID, "template", d.Template))
	return OutcomeSent, nil
}

// reconcile commits a touch that was delivered by an earlier attempt
// without sending it again
func (r *Runner) reconcile(ctx context.Context, p *models.Prospect, camp *models.Campaign, d Decision, logger *slog.Logger) (Outcome, error) {
	updated, msg, err := r.store.ReconcileTouch(context.WithoutCancel(ctx), p.ID, d.Sequence, Budget(&camp.FollowUp))
	switch {
	case errors.Is(err, storage.ErrTouchRecorded):
		return OutcomeDuplicate, nil
	case err != nil:
		return OutcomeFailed, fmt.Errorf("failed to reconcile touch: %w", err)
	}
	logger.Warn("delivered touch reconciled without resend")
	r.sent(p.ID, p.ProviderID, updated, logger.With("message_id", msg.ProviderMsgID))
	return OutcomeSent, nil
}

func (r *Runner) sent(prospectID, providerID string, updated *models.Prospect, logger *slog.Logger) {
	metrics.IncFollowUpsSent(providerID)
	if r.opts.OnSent != nil {
		r.opts.OnSent(prospectID)
	}
	logger.Info("follow-up sent", "follow_up_count", updated.FollowUpCount)
	if updated.FollowUpStatus == models.FollowUpCompleted {
		metrics.IncFollowUpsStopped(string(models.FollowUpCompleted))
	}
}

// compose renders the touch on the prospect's existing thread
func (r *Runner) compose(ctx context.Context, p *models.Prospect, camp *models.Campaign, d Decision) (*mail.Outbound, string, error) {
	if d.Template == "" {
		return nil, "", fmt.Errorf("campaign %s has no follow-up templates", camp.ID)
	}
	tmpl, err := r.campaigns.Template(d.Template)
	if err != nil {
		return nil, "", err
	}

	thread, err := r.store.GetOrCreateThread(ctx, p.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load thread: %w", err)
	}

	vars := response.MergeVariables(p.Variables(), map[string]string{
		"sender_name": camp.FromName,
		"campaign":    camp.Name,
		"sequence":    strconv.Itoa(d.Sequence),
	})

	// Touches stay on the subject lineage of the first campaign email
	base := thread.Subject
	if first := thread.FirstOutbound(); first != nil && first.Subject != "" {
		base = first.Subject
	}
	if base == "" {
		base = response.Render(tmpl.Subject, vars)
	}
	vars["original_subject"] = base

	body := response.Render(tmpl.Body, vars)
	return &mail.Outbound{
		ProviderID: p.ProviderID,
		To:         p.Email,
		ToName:     p.FullName(),
		FromName:   camp.FromName,
		Subject:    Subject(base, d.Sequence),
		Body:       body,
		InReplyTo:  thread.LastProviderMessageID(),
		References: thread.References(),
	}, body, nil
}
