// Package planner defines the plan-generation and coverage-analysis
// boundaries. Implementations are opaque; this package owns the request
// shape and the validation of whatever comes back.
package planner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"studycal/internal/curriculum"
	apperrors "studycal/internal/errors"
	"studycal/internal/model"
)

// EventBrief is the event view sent to the generator.
type EventBrief struct {
	Title string `json:"title"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Request carries everything the generator may use for one day.
type Request struct {
	Date                time.Time
	EffectiveStudyHours float64
	Events              []EventBrief
	Curriculum          []model.CurriculumEntry
	Coverage            *model.CoverageReport
}

// Briefs converts events to the generator's view. Point events have end "N/A".
func Briefs(events []model.Event) []EventBrief {
	out := make([]EventBrief, 0, len(events))
	for _, ev := range events {
		b := EventBrief{
			Title: ev.Title,
			Start: ev.Start.Format(model.ClockLayout),
			End:   "N/A",
		}
		if ev.HasEnd() {
			b.End = ev.End.Format(model.ClockLayout)
		}
		out = append(out, b)
	}
	return out
}

// Generator produces a day plan. Errors and malformed output are generation
// failures; the caller keeps its previous plan.
type Generator interface {
	Generate(ctx context.Context, req Request) (*model.DayPlan, error)
}

// CoverageAnalyzer estimates how much of the curriculum the detected courses
// already cover.
type CoverageAnalyzer interface {
	Analyze(ctx context.Context, courses []string, summary map[string]curriculum.SkillSummary) (*model.CoverageReport, error)
}

// extractObject returns the text between the first '{' and the last '}'.
func extractObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", errors.New("no JSON object in response")
	}
	return text[start : end+1], nil
}

// ParsePlan locates the JSON document in a generator response and validates
// its schedule. A missing or null schedule, or a malformed session, is a
// GenerationFailure. An empty schedule is a valid day without study.
func ParsePlan(text string) (*model.DayPlan, error) {
	obj, err := extractObject(text)
	if err != nil {
		return nil, apperrors.NewGenerationFailure("locate plan", err)
	}

	var wire struct {
		Schedule json.RawMessage `json:"schedule"`
	}
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		return nil, apperrors.NewGenerationFailure("decode plan", err)
	}
	if raw := bytes.TrimSpace(wire.Schedule); len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, apperrors.NewGenerationFailure("invalid schedule", errors.New("schedule is missing"))
	}

	var plan model.DayPlan
	if err := json.Unmarshal([]byte(obj), &plan); err != nil {
		return nil, apperrors.NewGenerationFailure("decode plan", err)
	}
	if plan.Schedule == nil {
		plan.Schedule = []model.StudySession{}
	}
	if err := validateSchedule(plan.Schedule); err != nil {
		return nil, apperrors.NewGenerationFailure("invalid schedule", err)
	}
	return &plan, nil
}

func validateSchedule(schedule []model.StudySession) error {
	for i, s := range schedule {
		if strings.TrimSpace(s.Subject) == "" {
			return fmt.Errorf("session %d: missing subject", i)
		}
		if _, err := time.Parse(model.ClockLayout, s.StartTime); err != nil {
			return fmt.Errorf("session %d: start_time %q", i, s.StartTime)
		}
		if s.EndTime != "" {
			if _, err := time.Parse(model.ClockLayout, s.EndTime); err != nil {
				return fmt.Errorf("session %d: end_time %q", i, s.EndTime)
			}
		}
	}
	return nil
}

// coverageWire accepts both the original key and a neutral one.
type coverageWire struct {
	CoveredByMSc   map[string]model.SkillCoverage `json:"covered_by_msc"`
	Covered        map[string]model.SkillCoverage `json:"covered"`
	PureGaps       []string                       `json:"pure_gaps"`
	Recommendation string                         `json:"recommendation"`
}

// ParseCoverage decodes an analyzer response. The report version is the
// SHA-256 of the decoded JSON object, so the same analysis always carries the
// same version.
func ParseCoverage(text string) (*model.CoverageReport, error) {
	obj, err := extractObject(text)
	if err != nil {
		return nil, apperrors.NewGenerationFailure("locate coverage analysis", err)
	}

	var w coverageWire
	if err := json.Unmarshal([]byte(obj), &w); err != nil {
		return nil, apperrors.NewGenerationFailure("decode coverage analysis", err)
	}

	covered := w.CoveredByMSc
	if covered == nil {
		covered = w.Covered
	}
	if covered == nil {
		covered = map[string]model.SkillCoverage{}
	}

	return &model.CoverageReport{
		Version:          Version([]byte(obj)),
		CoveredBySkillID: covered,
		PureGaps:         w.PureGaps,
		Recommendation:   w.Recommendation,
	}, nil
}

// Version returns a short content hash used as an analysis version.
func Version(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:8])
}
