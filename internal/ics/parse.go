package ics

import (
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	apperrors "studycal/internal/errors"
	appLog "studycal/internal/log"
	"studycal/internal/model"
)

// compactLayout is the only accepted timestamp form: 20250922T090000.
const compactLayout = "20060102T150405"

var compactStamp = regexp.MustCompile(`^\d{8}T\d{6}`)

// rawEvent holds the unparsed field values of one VEVENT block.
type rawEvent struct {
	Summary  string
	DTStart  string
	DTEnd    string
	Location string
	RRule    string
	ExDates  []string
}

// Parse converts raw feed text into events. It never fails: blocks without a
// title or a parseable DTSTART are skipped and logged.
//
//   - The structured path tokenizes the feed with golang-ical (line unfolding,
//     parameters) and then applies the field rules below.
//   - If the document is rejected as a whole (no VCALENDAR wrapper, a broken
//     line), a lenient block scanner is used instead.
//
// Output order is unspecified; consumers sort.
func Parse(raw string, loc *time.Location) []model.Event {
	if loc == nil {
		loc = time.Local
	}

	blocks, err := structuredBlocks(raw)
	if err != nil {
		appLog.Debug("ics structured parse rejected feed; using block scanner", "reason", err.Error())
		blocks = lenientBlocks(raw)
	}

	events := make([]model.Event, 0, len(blocks))
	skipped := 0
	for _, b := range blocks {
		ev, ok := buildEvent(b, loc)
		if !ok {
			skipped++
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "event_count", len(events), "skipped", skipped)
	return events
}

func structuredBlocks(raw string) ([]rawEvent, error) {
	cal, err := ical.ParseCalendar(strings.NewReader(raw))
	if err != nil {
		return nil, err
	}

	out := make([]rawEvent, 0)
	for _, ve := range cal.Events() {
		var b rawEvent
		if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
			b.Summary = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
			b.DTStart = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
			b.DTEnd = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
			b.Location = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
			b.RRule = p.Value
		}
		for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
			b.ExDates = append(b.ExDates, p.Value)
		}
		out = append(out, b)
	}
	return out, nil
}

var lenientField = regexp.MustCompile(`^([A-Z-]+)(?:;[^:]*)?:(.*)$`)

// lenientBlocks splits on BEGIN:VEVENT and reads properties line by line.
// Continuation lines (leading space or tab) are folded into the previous line.
func lenientBlocks(raw string) []rawEvent {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	parts := strings.Split(text, "BEGIN:VEVENT")

	out := make([]rawEvent, 0, len(parts))
	for _, part := range parts[1:] {
		end := strings.Index(part, "END:VEVENT")
		if end < 0 {
			continue
		}

		var b rawEvent
		for _, line := range unfold(part[:end]) {
			m := lenientField.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			switch m[1] {
			case "SUMMARY":
				b.Summary = m[2]
			case "DTSTART":
				b.DTStart = m[2]
			case "DTEND":
				b.DTEnd = m[2]
			case "LOCATION":
				b.Location = m[2]
			case "RRULE":
				b.RRule = m[2]
			case "EXDATE":
				b.ExDates = append(b.ExDates, m[2])
			}
		}
		out = append(out, b)
	}
	return out
}

func unfold(block string) []string {
	lines := make([]string, 0)
	for _, line := range strings.Split(block, "\n") {
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func buildEvent(b rawEvent, loc *time.Location) (model.Event, bool) {
	var ev model.Event

	ev.Title = cleanText(b.Summary)
	if ev.Title == "" {
		return ev, false
	}

	start, err := parseStamp("DTSTART", b.DTStart, loc)
	if err != nil {
		appLog.Debug("ics event skipped", "title", ev.Title, "reason", err.Error())
		return ev, false
	}
	ev.Start = start

	if b.DTEnd != "" {
		end, err := parseStamp("DTEND", b.DTEnd, loc)
		if err != nil {
			appLog.Debug("ics event end ignored", "title", ev.Title, "reason", err.Error())
		} else {
			ev.End = end
			if !end.After(start) {
				appLog.Warn("ics event end is not after start; treating as zero duration",
					"title", ev.Title, "start", start.Format(time.RFC3339), "end", end.Format(time.RFC3339))
			}
		}
	}

	ev.Location = cleanText(b.Location)
	ev.RRule = strings.TrimSpace(b.RRule)
	for _, v := range b.ExDates {
		for _, part := range strings.Split(v, ",") {
			if t, err := parseStamp("EXDATE", part, loc); err == nil {
				ev.ExDates = append(ev.ExDates, t)
			}
		}
	}

	return ev, true
}

// cleanText trims the value and drops folded-line whitespace that survived
// tokenization.
func cleanText(v string) string {
	v = strings.ReplaceAll(v, "\r\n ", "")
	v = strings.ReplaceAll(v, "\n ", "")
	return strings.TrimSpace(v)
}

// parseStamp parses the fixed fifteen-character compact form in loc. A
// trailing Z marks UTC; the result is converted to loc.
func parseStamp(field, v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	stamp := compactStamp.FindString(v)
	if stamp == "" {
		return time.Time{}, apperrors.NewFieldParseFailure(field, v)
	}

	if strings.HasPrefix(v[len(stamp):], "Z") {
		t, err := time.Parse(compactLayout, stamp)
		if err != nil {
			return time.Time{}, apperrors.NewFieldParseFailure(field, v)
		}
		return t.In(loc), nil
	}

	t, err := time.ParseInLocation(compactLayout, stamp, loc)
	if err != nil {
		return time.Time{}, apperrors.NewFieldParseFailure(field, v)
	}
	return t, nil
}
