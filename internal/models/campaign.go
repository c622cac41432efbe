package models

import "time"

// ScheduleType selects how follow-up due times are computed
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleDatetime ScheduleType = "datetime"
)

// FollowUpConfig holds the follow-up schedule of a campaign
type FollowUpConfig struct {
	Enabled          bool         `json:"enabled" yaml:"enabled"`
	ScheduleType     ScheduleType `json:"schedule_type" yaml:"schedule_type"`
	Intervals        []int        `json:"intervals,omitempty" yaml:"intervals"` // days
	Dates            []time.Time  `json:"dates,omitempty" yaml:"dates"`
	Timezone         string       `json:"timezone" yaml:"timezone"`
	TimeWindowStart  string       `json:"time_window_start" yaml:"time_window_start"` // "09:00"
	TimeWindowEnd    string       `json:"time_window_end" yaml:"time_window_end"`     // "17:00"
	DaysOfWeek       []string     `json:"days_of_week" yaml:"days_of_week"`
	ExcludeWeekends  bool         `json:"exclude_weekends" yaml:"exclude_weekends"`
	MaxFollowUps     int          `json:"max_follow_ups" yaml:"max_follow_ups"`
	TemplateSequence []string     `json:"template_sequence" yaml:"template_sequence"`
}

// Campaign is the subset of campaign data the engine needs
type Campaign struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name" yaml:"name"`
	FromName string         `json:"from_name" yaml:"from_name"`
	FollowUp FollowUpConfig `json:"follow_up" yaml:"follow_up"`
}
