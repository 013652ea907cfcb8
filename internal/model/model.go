package model

import (
	"fmt"
	"time"
)

// ClockLayout is the wall-clock form used by day plans ("08:00").
const ClockLayout = "15:04"

// Event is one calendar occurrence parsed from the feed.
// Events are immutable once parsed.
type Event struct {
	Title string
	Start time.Time
	// End is the zero time for point-in-time events.
	End      time.Time
	Location string

	// RRule is the raw RRULE value for recurring events, empty otherwise.
	// Recurrences are expanded per day in internal/ics.
	RRule   string
	ExDates []time.Time
}

// HasEnd reports whether the event carries an end timestamp.
func (e Event) HasEnd() bool {
	return !e.End.IsZero()
}

// Duration returns the blocked duration. Point events and events whose end is
// not after their start block nothing.
func (e Event) Duration() time.Duration {
	if !e.HasEnd() || !e.End.After(e.Start) {
		return 0
	}
	return e.End.Sub(e.Start)
}

// Identity is the per-day notification key of the event.
func (e Event) Identity() string {
	return InstanceKey(e.Start.Format(ClockLayout), e.Title)
}

// InstanceKey builds the notification identity shared by events and sessions.
func InstanceKey(clock, name string) string {
	return clock + "-" + name
}

// DayAvailability is derived per call and never cached.
type DayAvailability struct {
	Date                time.Time
	BlockedHours        float64
	EffectiveStudyHours float64
	Events              []Event
}

// Priority ranks curriculum skills.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium:
		return true
	}
	return false
}

// Topic is one step of a skill, in recommended study order.
type Topic struct {
	Name  string `json:"name"`
	Hours int    `json:"hours"`
}

// CurriculumEntry is one trainable skill with its remaining-hours budget.
type CurriculumEntry struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Priority       Priority `json:"priority"`
	TotalHours     int      `json:"total_hours"`
	HoursCompleted int      `json:"hours_completed"`
	Topics         []Topic  `json:"topics"`
	WhyImportant   string   `json:"why_important,omitempty"`
}

// StudySession is one planned study block. Identity within a day is
// (StartTime, Subject).
type StudySession struct {
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
	Subject   string   `json:"subject"`
	Topic     string   `json:"specific_topic"`
	Guidance  []string `json:"study_guidance"`
	Resources string   `json:"resources,omitempty"`
	WhyNow    string   `json:"why_now,omitempty"`
}

// Identity is the per-day notification key of the session.
func (s StudySession) Identity() string {
	return InstanceKey(s.StartTime, s.Subject)
}

// StartOn resolves the session start on the calendar day of ref, in ref's
// location.
func (s StudySession) StartOn(ref time.Time) (time.Time, error) {
	return clockOn(s.StartTime, ref)
}

// EndOn resolves the session end on the calendar day of ref.
func (s StudySession) EndOn(ref time.Time) (time.Time, error) {
	return clockOn(s.EndTime, ref)
}

func clockOn(clock string, ref time.Time) (time.Time, error) {
	t, err := time.Parse(ClockLayout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("session time %q: %w", clock, err)
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour(), t.Minute(), 0, 0, ref.Location()), nil
}

// DayPlan is the generated schedule for one day. It is replaced wholesale.
type DayPlan struct {
	Date            string         `json:"date"`
	Summary         string         `json:"summary"`
	TotalStudyHours float64        `json:"total_study_hours"`
	Schedule        []StudySession `json:"schedule"`
}

// SkillCoverage is the coverage estimate for one curriculum skill.
type SkillCoverage struct {
	CoveragePercentage float64 `json:"coverage_percentage"`
	SourceCourse       string  `json:"msc_course,omitempty"`
	GapNotes           string  `json:"what_needs_self_study,omitempty"`
}

// CoverageReport is the one-time external analysis of how much of the
// curriculum outside coursework already covers.
type CoverageReport struct {
	// Version identifies the analysis. The curriculum records the version it
	// was last discounted with.
	Version          string                   `json:"version"`
	CoveredBySkillID map[string]SkillCoverage `json:"covered_by_msc"`
	PureGaps         []string                 `json:"pure_gaps"`
	Recommendation   string                   `json:"recommendation"`
}

// DateKey formats t as the day key used for plans and notified sets.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
