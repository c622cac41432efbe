// Package followup decides and executes scheduled follow-up touches.
package followup

import (
	"strings"
	"time"
	_ "time/tzdata" // zone database for minimal containers

	"github.com/foxzi/outreach/internal/models"
	"github.com/foxzi/outreach/internal/response"
)

// Action is the scheduler outcome for one prospect
type Action string

const (
	// ActionSkip leaves the prospect untouched (not active, disabled, nothing scheduled)
	ActionSkip Action = "skip"
	// ActionStop moves an active prospect to stopped after a genuine reply
	ActionStop Action = "stop"
	// ActionComplete moves an active prospect to completed at the budget
	ActionComplete Action = "complete"
	// ActionWait means a touch is scheduled but not sendable yet
	ActionWait Action = "wait"
	// ActionFire means sequence Sequence should be sent now
	ActionFire Action = "fire"
)

// Decision is the result of Decide
type Decision struct {
	Action   Action
	Sequence int       // touch to send, 1-based
	NextDue  time.Time // earliest send time for ActionWait and ActionFire
	Template string    // template id for the sequence
	Reason   string
}

// Budget returns the maximum number of touches. An unset max falls back
// to the length of the schedule.
func Budget(cfg *models.FollowUpConfig) int {
	if cfg.MaxFollowUps > 0 {
		return cfg.MaxFollowUps
	}
	if cfg.ScheduleType == models.ScheduleDatetime {
		return len(cfg.Dates)
	}
	return len(cfg.Intervals)
}

// Decide applies the follow-up rules to one prospect. It has no side effects.
func Decide(p *models.Prospect, cfg *models.FollowUpConfig, now time.Time) Decision {
	if p.FollowUpStatus != models.FollowUpActive {
		return Decision{Action: ActionSkip, Reason: "follow-ups " + string(p.FollowUpStatus)}
	}
	// A genuine reply wins over any timing
	if p.HasGenuineReply() {
		return Decision{Action: ActionStop, Reason: "genuine reply received"}
	}
	if cfg == nil || !cfg.Enabled {
		return Decision{Action: ActionSkip, Reason: "follow-ups disabled"}
	}

	budget := Budget(cfg)
	if p.FollowUpCount >= budget {
		return Decision{Action: ActionComplete, Reason: "follow-up budget reached"}
	}

	due, ok := NextDue(p, cfg)
	if !ok {
		return Decision{Action: ActionSkip, Reason: "no touch scheduled"}
	}

	seq := p.FollowUpCount + 1
	d := Decision{Sequence: seq, NextDue: due, Template: TemplateFor(cfg, seq)}

	if now.Before(due) {
		d.Action = ActionWait
		d.Reason = "not due"
		return d
	}

	w, err := NewWindow(cfg)
	if err != nil {
		d.Action = ActionSkip
		d.Reason = err.Error()
		return d
	}
	if !w.Contains(now) {
		d.Action = ActionWait
		d.Reason = "outside send window"
		if next, ok := w.NextOpen(now); ok {
			d.NextDue = next
		}
		return d
	}

	d.Action = ActionFire
	d.Reason = "due"
	return d
}

// NextDue returns when the next touch becomes due
func NextDue(p *models.Prospect, cfg *models.FollowUpConfig) (time.Time, bool) {
	idx := p.FollowUpCount

	if cfg.ScheduleType == models.ScheduleDatetime {
		if idx >= len(cfg.Dates) {
			return time.Time{}, false
		}
		return cfg.Dates[idx], true
	}

	last := p.LastTouch()
	if last == nil || len(cfg.Intervals) == 0 {
		return time.Time{}, false
	}
	// Past the end of the list the last interval repeats
	if idx >= len(cfg.Intervals) {
		idx = len(cfg.Intervals) - 1
	}
	return last.Add(time.Duration(cfg.Intervals[idx]) * 24 * time.Hour), true
}

// TemplateFor picks the template for a sequence, repeating the last one
func TemplateFor(cfg *models.FollowUpConfig, seq int) string {
	if len(cfg.TemplateSequence) == 0 || seq < 1 {
		return ""
	}
	idx := seq - 1
	if idx >= len(cfg.TemplateSequence) {
		idx = len(cfg.TemplateSequence) - 1
	}
	return cfg.TemplateSequence[idx]
}

// Subject returns the subject for a touch. The first touch keeps the
// original subject; later touches reply to it.
func Subject(base string, seq int) string {
	base = strings.TrimSpace(base)
	if seq <= 1 {
		return base
	}
	return response.ReplySubject(base)
}
