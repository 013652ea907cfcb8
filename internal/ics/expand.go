package ics

import (
	"time"

	"github.com/teambition/rrule-go"

	appLog "studycal/internal/log"
	"studycal/internal/model"
)

// maxOccurrencesPerDay caps a single rule's output for one day. A rule that
// hits it is almost certainly malformed (e.g. FREQ=SECONDLY).
const maxOccurrencesPerDay = 96

// ExpandDay returns the events that occur on date's calendar day in date's
// location. Single events pass through unchanged; RRULE events are replaced
// by their occurrences on that day, each keeping the original duration.
// Events whose rule cannot be parsed are kept as single events.
func ExpandDay(events []model.Event, date time.Time) []model.Event {
	loc := date.Location()
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1).Add(-time.Second)

	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.RRule == "" {
			out = append(out, ev)
			continue
		}

		occ, ok := expandRecurring(ev, dayStart, dayEnd)
		if !ok {
			out = append(out, ev)
			continue
		}
		out = append(out, occ...)
	}
	return out
}

func expandRecurring(ev model.Event, rangeStart, rangeEnd time.Time) ([]model.Event, bool) {
	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "title", ev.Title, "rrule", ev.RRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	times := set.Between(rangeStart.In(ev.Start.Location()), rangeEnd.In(ev.Start.Location()), true)
	if len(times) > maxOccurrencesPerDay {
		appLog.Warn("expand: truncated occurrences", "title", ev.Title, "count", len(times), "cap", maxOccurrencesPerDay)
		times = times[:maxOccurrencesPerDay]
	}

	dur := ev.Duration()
	out := make([]model.Event, 0, len(times))
	for _, start := range times {
		occ := model.Event{
			Title:    ev.Title,
			Start:    start.In(rangeStart.Location()),
			Location: ev.Location,
		}
		if ev.HasEnd() {
			occ.End = occ.Start.Add(dur)
		}
		out = append(out, occ)
	}
	return out, true
}
