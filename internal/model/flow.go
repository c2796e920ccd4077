package model

import (
	"sort"
	"time"
	_ "time/tzdata"
)

type FlowStatus string

const (
	FlowDraft  FlowStatus = "draft"
	FlowActive FlowStatus = "active"
	FlowPaused FlowStatus = "paused"
)

type FlowSettings struct {
	// DailyLimit caps messages scheduled per flow per day. Zero means no cap.
	DailyLimit int `json:"dailyLimit"`
	// WindowStartHour and WindowEndHour bound the hours of day messages may be
	// scheduled for. Equal values disable the window; start > end wraps midnight.
	WindowStartHour int `json:"windowStartHour"`
	WindowEndHour   int `json:"windowEndHour"`
	// Timezone is the IANA zone the window hours are read in. Empty is UTC.
	Timezone           string        `json:"timezone,omitempty"`
	PreferredTransport TransportType `json:"preferredTransport,omitempty"`
	// Priority flows are claimed ahead of others when messages are due together.
	Priority bool `json:"priority"`
}

// Location resolves Timezone, falling back to UTC when it is empty or unknown.
func (s FlowSettings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (s FlowSettings) HasWindow() bool {
	return s.WindowStartHour != s.WindowEndHour
}

func (s FlowSettings) inWindow(hour int) bool {
	if !s.HasWindow() {
		return true
	}
	if s.WindowStartHour < s.WindowEndHour {
		return hour >= s.WindowStartHour && hour < s.WindowEndHour
	}
	return hour >= s.WindowStartHour || hour < s.WindowEndHour
}

// FitWindow returns t if it falls inside the send window, otherwise the next
// window opening after t. The result is in t's location.
func (s FlowSettings) FitWindow(t time.Time) time.Time {
	local := t.In(s.Location())
	if s.inWindow(local.Hour()) {
		return t
	}
	open := time.Date(local.Year(), local.Month(), local.Day(), s.WindowStartHour, 0, 0, 0, local.Location())
	if !open.After(local) {
		open = open.AddDate(0, 0, 1)
	}
	return open.In(t.Location())
}

// NextDay returns the first schedulable instant of the day after t, where days
// start at midnight in the flow's timezone.
func (s FlowSettings) NextDay(t time.Time) time.Time {
	local := t.In(s.Location())
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location()).AddDate(0, 0, 1)
	return s.FitWindow(start).In(t.Location())
}

type Flow struct {
	ID        string       `json:"id"`
	AccountID string       `json:"accountId"`
	Name      string       `json:"name"`
	Status    FlowStatus   `json:"status"`
	Settings  FlowSettings `json:"settings"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

func (f Flow) Enrollable() bool {
	return f.Status == FlowActive
}

type FlowStep struct {
	ID            string    `json:"id"`
	FlowID        string    `json:"flowId"`
	SequenceOrder int       `json:"sequenceOrder"`
	DelayHours    int       `json:"delayHours"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (s FlowStep) Delay() time.Duration {
	if s.DelayHours <= 0 {
		return 0
	}
	return time.Duration(s.DelayHours) * time.Hour
}

// CompactSteps sorts steps by sequence order and renumbers them 0..n-1.
// It returns the steps whose order changed.
func CompactSteps(steps []FlowStep) []FlowStep {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].SequenceOrder < steps[j].SequenceOrder
	})

	var changed []FlowStep
	for i := range steps {
		if steps[i].SequenceOrder != i {
			steps[i].SequenceOrder = i
			changed = append(changed, steps[i])
		}
	}
	return changed
}
