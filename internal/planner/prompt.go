package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"studycal/internal/curriculum"
)

const planShape = `{
  "date": "%s",
  "summary": "Brief overview",
  "total_study_hours": 0.0,
  "schedule": [
    {
      "start_time": "08:00",
      "end_time": "10:00",
      "subject": "SQL",
      "specific_topic": "Window Functions",
      "study_guidance": ["Point 1", "Point 2", "Point 3"],
      "resources": "Resources to use",
      "why_now": "Reason for timing"
    }
  ]
}`

const coverageShape = `{
  "covered_by_msc": {
    "skill_id": {"coverage_percentage": 0, "msc_course": "course name", "what_needs_self_study": "gaps"}
  },
  "pure_gaps": ["sql", "powerbi", "excel"],
  "recommendation": "Balance advice"
}`

// PlanPrompt renders the generation request as a single user message.
func PlanPrompt(req Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Generate a balanced daily study schedule for %s.\n\n", req.Date.Format("Monday, January 02, 2006"))

	b.WriteString("TIME AVAILABLE:\n")
	fmt.Fprintf(&b, "- Effective study hours: %.1fh\n", req.EffectiveStudyHours)
	fmt.Fprintf(&b, "- Calendar events: %s\n\n", indentJSON(req.Events))

	fmt.Fprintf(&b, "CURRICULUM: %s\n", indentJSON(req.Curriculum))
	if req.Coverage != nil {
		fmt.Fprintf(&b, "\nCoursework coverage: %s\n", indentJSON(req.Coverage.CoveredBySkillID))
		fmt.Fprintf(&b, "Pure gaps: %s\n", indentJSON(req.Coverage.PureGaps))
	}

	half := req.EffectiveStudyHours / 2
	b.WriteString("\nREQUIREMENTS:\n")
	fmt.Fprintf(&b, "1. 50/50 split: %.1fh coursework + %.1fh curriculum gaps\n", half, half)
	b.WriteString("2. Work around calendar events\n")
	b.WriteString("3. Start after 07:00, end before 23:30\n")
	b.WriteString("4. Specific topics with 3 bullet points each\n")
	b.WriteString("5. 1.5-2.5 hour blocks with breaks\n")
	b.WriteString("6. Times are 24-hour HH:MM\n\n")

	b.WriteString("Return JSON:\n")
	fmt.Fprintf(&b, planShape, req.Date.Format("2006-01-02"))
	b.WriteString("\n")
	return b.String()
}

// CoveragePrompt renders the one-time coverage analysis request.
func CoveragePrompt(courses []string, summary map[string]curriculum.SkillSummary) string {
	if courses == nil {
		courses = []string{}
	}

	var b strings.Builder
	b.WriteString("Analyze how much of the self-study curriculum the enrolled courses already cover.\n\n")
	fmt.Fprintf(&b, "COURSES: %s\n", indentJSON(courses))
	fmt.Fprintf(&b, "CURRICULUM: %s\n\n", indentJSON(summary))
	b.WriteString("coverage_percentage is 0-100 per skill id. Only list skill ids from CURRICULUM.\n\n")
	b.WriteString("Return JSON:\n")
	b.WriteString(coverageShape)
	b.WriteString("\n")
	return b.String()
}

func indentJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "null"
	}
	return string(raw)
}
