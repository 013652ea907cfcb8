// Package availability derives per-day blocked and study time from the
// parsed calendar. Nothing here is cached; every call recomputes from the
// event set it is given.
package availability

import (
	"sort"
	"strings"
	"time"

	"studycal/internal/ics"
	"studycal/internal/model"
)

// Policy holds the fixed constants of the study-time formula.
type Policy struct {
	WakeWindowHours float64
	DailyWasteHours float64
	FocusFactor     float64
}

// DefaultPolicy is a 17h waking day, 2h lost to overhead, 83% focus.
func DefaultPolicy() Policy {
	return Policy{
		WakeWindowHours: 17,
		DailyWasteHours: 2,
		FocusFactor:     0.83,
	}
}

// Effective applies the formula to a blocked-hours figure. Negative results
// pass through; the plan generator treats them as "no session today".
func (p Policy) Effective(blockedHours float64) float64 {
	return (p.WakeWindowHours - p.DailyWasteHours - blockedHours) * p.FocusFactor
}

// EventsForDate returns the events starting on date's calendar day (in
// date's location), with recurring events expanded, sorted by start.
func EventsForDate(all []model.Event, date time.Time) []model.Event {
	loc := date.Location()
	y, m, d := date.Date()

	out := make([]model.Event, 0)
	for _, ev := range ics.ExpandDay(all, date) {
		ey, em, ed := ev.Start.In(loc).Date()
		if ey == y && em == m && ed == d {
			out = append(out, ev)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Availability computes blocked and effective study hours for date.
// Events without an end block nothing.
func Availability(all []model.Event, date time.Time, policy Policy) model.DayAvailability {
	events := EventsForDate(all, date)

	var blocked time.Duration
	for _, ev := range events {
		blocked += ev.Duration()
	}
	blockedHours := blocked.Hours()

	return model.DayAvailability{
		Date:                date,
		BlockedHours:        blockedHours,
		EffectiveStudyHours: policy.Effective(blockedHours),
		Events:              events,
	}
}

// WeekSummary describes the Sunday–Saturday week containing a date.
type WeekSummary struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	TotalEvents int       `json:"total_events"`
	TotalHours  float64   `json:"total_hours"`
	Lectures    int       `json:"lectures"`
	Labs        int       `json:"labs"`
	Other       int       `json:"other"`
}

// Week summarizes the week (Sunday through Saturday) that contains ref.
func Week(all []model.Event, ref time.Time) WeekSummary {
	loc := ref.Location()
	daysSinceSunday := int(ref.Weekday())
	start := time.Date(ref.Year(), ref.Month(), ref.Day()-daysSinceSunday, 0, 0, 0, 0, loc)

	ws := WeekSummary{
		Start: start,
		End:   start.AddDate(0, 0, 7).Add(-time.Second),
	}

	for i := 0; i < 7; i++ {
		for _, ev := range EventsForDate(all, start.AddDate(0, 0, i)) {
			ws.TotalEvents++
			ws.TotalHours += ev.Duration().Hours()

			title := strings.ToLower(ev.Title)
			switch {
			case strings.Contains(title, "lecture"):
				ws.Lectures++
			case strings.Contains(title, "lab"):
				ws.Labs++
			default:
				ws.Other++
			}
		}
	}
	return ws
}
