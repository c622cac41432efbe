package followup

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxzi/outreach/internal/models"
)

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// Window is the parsed send window of a campaign
type Window struct {
	loc   *time.Location
	start int // minutes after midnight
	end   int
	days  [7]bool
}

// NewWindow parses the timezone, time window and weekday settings.
// Empty settings allow every minute of every day.
func NewWindow(cfg *models.FollowUpConfig) (*Window, error) {
	w := &Window{loc: time.UTC, start: 0, end: 24 * 60}

	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
		w.loc = loc
	}

	var err error
	if cfg.TimeWindowStart != "" {
		if w.start, err = parseClock(cfg.TimeWindowStart); err != nil {
			return nil, err
		}
	}
	if cfg.TimeWindowEnd != "" {
		if w.end, err = parseClock(cfg.TimeWindowEnd); err != nil {
			return nil, err
		}
	}

	if len(cfg.DaysOfWeek) == 0 {
		for i := range w.days {
			w.days[i] = true
		}
	}
	for _, name := range cfg.DaysOfWeek {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("invalid day of week %q", name)
		}
		w.days[day] = true
	}
	// Weekend exclusion overrides the explicit list
	if cfg.ExcludeWeekends {
		w.days[time.Saturday] = false
		w.days[time.Sunday] = false
	}
	return w, nil
}

// ValidateWindow reports configuration errors in the send window
func ValidateWindow(cfg *models.FollowUpConfig) error {
	_, err := NewWindow(cfg)
	return err
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		if strings.TrimSpace(s) == "24:00" {
			return 24 * 60, nil
		}
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (w *Window) overnight() bool {
	return w.start > w.end
}

func (w *Window) inHours(minute int) bool {
	if w.start == w.end {
		return true
	}
	if w.overnight() {
		return minute >= w.start || minute < w.end
	}
	return minute >= w.start && minute < w.end
}

// Contains reports whether t is inside the window, in the window's timezone
func (w *Window) Contains(t time.Time) bool {
	local := t.In(w.loc)
	if !w.days[local.Weekday()] {
		return false
	}
	return w.inHours(local.Hour()*60 + local.Minute())
}

// NextOpen returns the first instant after t at which the window is open
func (w *Window) NextOpen(t time.Time) (time.Time, bool) {
	local := t.In(w.loc)
	y, m, d := local.Date()

	for offset := 0; offset <= 7; offset++ {
		// Overnight windows are also open from midnight until end
		starts := []int{w.start}
		if w.overnight() {
			starts = []int{0, w.start}
		}
		for _, minute := range starts {
			candidate := time.Date(y, m, d+offset, minute/60, minute%60, 0, 0, w.loc)
			if candidate.After(local) && w.Contains(candidate) {
				return candidate, true
			}
		}
	}
	return time.Time{}, false
}
