// Package export writes a day plan as an iCalendar feed so the study sessions
// can be subscribed to from a regular calendar app.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	appLog "studycal/internal/log"
	"studycal/internal/model"
)

const productID = "-//studycal//study plan//EN"

// Calendar builds a VCALENDAR with one VEVENT per session. day fixes the
// calendar date and location the HH:MM session times are resolved in.
// Sessions with an unparseable start are skipped.
func Calendar(plan *model.DayPlan, day time.Time, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	if plan == nil {
		return cal
	}

	date := model.DateKey(day)
	for _, s := range plan.Schedule {
		start, err := s.StartOn(day)
		if err != nil {
			appLog.Warn("export: skipping session", "subject", s.Subject, "err", err)
			continue
		}

		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, fmt.Sprintf("%s-%s@studycal", date, s.Identity()))
		ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
		if end, err := s.EndOn(day); err == nil && end.After(start) {
			ev.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
		}
		ev.Props.SetText(ical.PropSummary, "Study: "+s.Subject)
		if desc := description(s); desc != "" {
			ev.Props.SetText(ical.PropDescription, desc)
		}
		cal.Children = append(cal.Children, ev.Component)
	}
	return cal
}

func description(s model.StudySession) string {
	var b strings.Builder
	b.WriteString(s.Topic)
	for _, g := range s.Guidance {
		b.WriteString("\n- ")
		b.WriteString(g)
	}
	if s.Resources != "" {
		b.WriteString("\n\nResources: ")
		b.WriteString(s.Resources)
	}
	return strings.TrimSpace(b.String())
}

// Write encodes the plan's calendar to w.
func Write(w io.Writer, plan *model.DayPlan, day time.Time) error {
	cal := Calendar(plan, day, time.Now())
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode plan calendar: %w", err)
	}
	return nil
}
