package dispatch

import (
	"fmt"
	"strings"
	"time"

	"studycal/internal/model"
	"studycal/internal/notify"
)

const (
	eventHint   = 10 * time.Second
	sessionHint = 15 * time.Second
	planHint    = 20 * time.Second
	failureHint = 10 * time.Second
)

// EventNotice renders the reminder for an upcoming calendar event. lead is the
// nominal reminder offset shown to the user.
func EventNotice(ev model.Event, lead time.Duration) notify.Notice {
	end := "?"
	if ev.HasEnd() {
		end = ev.End.Format(model.ClockLayout)
	}
	return notify.Notice{
		Title: "Upcoming: " + ev.Title,
		Body:  fmt.Sprintf("In %d minutes\n%s - %s", int(lead.Minutes()), ev.Start.Format(model.ClockLayout), end),
		Hint:  eventHint,
	}
}

// SessionNotice renders the start-of-session reminder with at most two
// guidance points.
func SessionNotice(s model.StudySession) notify.Notice {
	var b strings.Builder
	b.WriteString(s.Topic)
	b.WriteString("\n\n")

	guidance := s.Guidance
	if len(guidance) > 2 {
		guidance = guidance[:2]
	}
	for i, g := range guidance {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("• ")
		b.WriteString(g)
	}

	return notify.Notice{
		Title: "Time to Study: " + s.Subject,
		Body:  strings.TrimRight(b.String(), "\n"),
		Hint:  sessionHint,
	}
}

// PlanReadyNotice renders the morning summary.
func PlanReadyNotice(plan *model.DayPlan) notify.Notice {
	summary := plan.Summary
	if summary == "" {
		summary = "Your day is planned"
	}
	body := fmt.Sprintf("%s\n\n%d study sessions planned\nTotal: %.1f hours\n\nYou'll get reminders throughout the day!",
		summary, len(plan.Schedule), plan.TotalStudyHours)

	return notify.Notice{
		Title: "Today's Schedule Ready",
		Body:  body,
		Hint:  planHint,
	}
}

// GenerationFailedNotice tells the user the morning plan could not be made.
func GenerationFailedNotice(date time.Time) notify.Notice {
	return notify.Notice{
		Title: "Schedule generation failed",
		Body:  fmt.Sprintf("Could not generate a plan for %s. Previous plan is kept.", date.Format("Monday, January 02")),
		Hint:  failureHint,
	}
}
