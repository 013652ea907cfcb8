package planner

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studycal/internal/curriculum"
	apperrors "studycal/internal/errors"
	"studycal/internal/model"
)

func TestParsePlan_ExtractsOutermostObject(t *testing.T) {
	text := "Here is your plan:\n```json\n" + `{
  "date": "2025-09-22",
  "summary": "Light day",
  "total_study_hours": 3.5,
  "schedule": [
    {"start_time": "08:00", "end_time": "10:00", "subject": "SQL", "specific_topic": "JOINs",
     "study_guidance": ["a", "b", "c"]},
    {"start_time": "14:30", "end_time": "16:00", "subject": "Python", "specific_topic": "Pandas"}
  ]
}` + "\n```\nGood luck!"

	plan, err := ParsePlan(text)
	require.NoError(t, err)
	require.Equal(t, "2025-09-22", plan.Date)
	require.InDelta(t, 3.5, plan.TotalStudyHours, 1e-9)
	require.Len(t, plan.Schedule, 2)
	require.Equal(t, "JOINs", plan.Schedule[0].Topic)
	require.Equal(t, []string{"a", "b", "c"}, plan.Schedule[0].Guidance)
	require.Equal(t, "08:00-SQL", plan.Schedule[0].Identity())
}

func TestParsePlan_Rejects(t *testing.T) {
	cases := map[string]string{
		"no json":         "I could not make a plan today.",
		"broken json":     `{"schedule": [`,
		"missing":         `{"summary": "nothing"}`,
		"null schedule":   `{"schedule": null}`,
		"no subject":      `{"schedule": [{"start_time": "08:00"}]}`,
		"bad start":       `{"schedule": [{"start_time": "8am", "subject": "SQL"}]}`,
		"bad end":         `{"schedule": [{"start_time": "08:00", "end_time": "25:99", "subject": "SQL"}]}`,
		"reversed braces": "} nothing {",
	}

	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePlan(text)
			require.Error(t, err)
			require.True(t, apperrors.Is(err, apperrors.ErrGenerationFailure))
		})
	}
}

func TestParsePlan_EmptyScheduleIsValid(t *testing.T) {
	plan, err := ParsePlan(`{"summary": "no time today", "total_study_hours": 0, "schedule": []}`)
	require.NoError(t, err)
	require.NotNil(t, plan.Schedule)
	require.Empty(t, plan.Schedule)
	require.Equal(t, "no time today", plan.Summary)
}

func TestParseCoverage(t *testing.T) {
	text := `Sure. {"covered_by_msc": {"python": {"coverage_percentage": 60, "msc_course": "lecture"}},
"pure_gaps": ["sql", "powerbi"], "recommendation": "Focus on SQL"}`

	r, err := ParseCoverage(text)
	require.NoError(t, err)
	require.NotEmpty(t, r.Version)
	require.InDelta(t, 60, r.CoveredBySkillID["python"].CoveragePercentage, 1e-9)
	require.Equal(t, "lecture", r.CoveredBySkillID["python"].SourceCourse)
	require.Equal(t, []string{"sql", "powerbi"}, r.PureGaps)

	again, err := ParseCoverage("prefix " + text[len("Sure. "):])
	require.NoError(t, err)
	require.Equal(t, r.Version, again.Version)
}

func TestParseCoverage_NeutralKeyAndEmpty(t *testing.T) {
	r, err := ParseCoverage(`{"covered": {"sql": {"coverage_percentage": 10}}}`)
	require.NoError(t, err)
	require.Contains(t, r.CoveredBySkillID, "sql")

	r, err = ParseCoverage(`{"pure_gaps": []}`)
	require.NoError(t, err)
	require.NotNil(t, r.CoveredBySkillID)
	require.Empty(t, r.CoveredBySkillID)

	_, err = ParseCoverage("nothing")
	require.True(t, apperrors.Is(err, apperrors.ErrGenerationFailure))
}

func TestBriefs(t *testing.T) {
	day := time.Date(2025, 9, 22, 0, 0, 0, 0, time.UTC)
	got := Briefs([]model.Event{
		{Title: "Lecture", Start: day.Add(9 * time.Hour), End: day.Add(11 * time.Hour)},
		{Title: "Reminder", Start: day.Add(12 * time.Hour)},
	})

	require.Equal(t, []EventBrief{
		{Title: "Lecture", Start: "09:00", End: "11:00"},
		{Title: "Reminder", Start: "12:00", End: "N/A"},
	}, got)
}

func TestPlanPrompt(t *testing.T) {
	req := Request{
		Date:                time.Date(2025, 9, 22, 0, 0, 0, 0, time.UTC),
		EffectiveStudyHours: 9.13,
		Events:              []EventBrief{{Title: "Lecture", Start: "09:00", End: "11:00"}},
		Curriculum:          curriculum.Default().Snapshot(),
		Coverage:            &model.CoverageReport{PureGaps: []string{"sql"}},
	}

	p := PlanPrompt(req)
	require.Contains(t, p, "Monday, September 22, 2025")
	require.Contains(t, p, "Effective study hours: 9.1h")
	require.Contains(t, p, `"title": "Lecture"`)
	require.Contains(t, p, `"date": "2025-09-22"`)
	require.Contains(t, p, "Pure gaps")
	require.True(t, strings.Contains(p, "4.6h coursework"))
}

func TestCoveragePrompt(t *testing.T) {
	p := CoveragePrompt(nil, curriculum.Default().Summary())
	require.Contains(t, p, "COURSES: []")
	require.Contains(t, p, `"interview_prep"`)
	require.Contains(t, p, "covered_by_msc")
}
