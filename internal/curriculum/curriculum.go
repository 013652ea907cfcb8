package curriculum

import (
	"math"
	"sort"
	"strings"
	"sync"

	appLog "studycal/internal/log"
	"studycal/internal/model"
)

// Store holds the curriculum in recommended order together with the version
// of the coverage analysis it was last discounted with.
type Store struct {
	mu      sync.RWMutex
	entries []model.CurriculumEntry
	index   map[string]int

	// appliedVersion is empty until a coverage discount has been applied.
	appliedVersion string
}

// Document is the persisted form of a Store.
type Document struct {
	Entries                []model.CurriculumEntry `json:"entries"`
	AppliedCoverageVersion string                  `json:"applied_coverage_version,omitempty"`
}

// New builds a Store from entries in the given order. Later duplicates of
// an ID are ignored.
func New(entries []model.CurriculumEntry) *Store {
	s := &Store{index: make(map[string]int)}
	for _, e := range entries {
		if _, dup := s.index[e.ID]; dup {
			continue
		}
		s.index[e.ID] = len(s.entries)
		s.entries = append(s.entries, cloneEntry(e))
	}
	return s
}

// FromDocument restores a persisted Store.
func FromDocument(doc Document) *Store {
	s := New(doc.Entries)
	s.appliedVersion = doc.AppliedCoverageVersion
	return s
}

// Document returns a persistable copy of the Store.
func (s *Store) Document() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Document{
		Entries:                cloneEntries(s.entries),
		AppliedCoverageVersion: s.appliedVersion,
	}
}

// AppliedCoverageVersion returns the version of the last applied discount.
func (s *Store) AppliedCoverageVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appliedVersion
}

// Get returns a copy of one entry.
func (s *Store) Get(id string) (model.CurriculumEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return model.CurriculumEntry{}, false
	}
	return cloneEntry(s.entries[i]), true
}

// Snapshot returns a deep copy of all entries in order.
func (s *Store) Snapshot() []model.CurriculumEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEntries(s.entries)
}

// TotalHours sums the remaining budget over all skills.
func (s *Store) TotalHours() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, e := range s.entries {
		total += e.TotalHours
	}
	return total
}

// AdjustForCoverage discounts each skill named in the report by its coverage
// percentage: newHours = floor(oldHours * (100 - pct) / 100). Skills missing
// from the report are untouched. A report whose version was already applied
// is ignored and false is returned, so a stored analysis can never discount
// twice.
func (s *Store) AdjustForCoverage(report model.CoverageReport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if report.Version != "" && report.Version == s.appliedVersion {
		appLog.Info("coverage already applied; skipping", "version", report.Version)
		return false
	}

	for id, cov := range report.CoveredBySkillID {
		i, ok := s.index[id]
		if !ok {
			continue
		}
		old := s.entries[i].TotalHours
		s.entries[i].TotalHours = discount(old, cov.CoveragePercentage)
		appLog.Info("coverage discount applied",
			"skill", id,
			"coverage_pct", cov.CoveragePercentage,
			"old_hours", old,
			"new_hours", s.entries[i].TotalHours,
		)
	}

	s.appliedVersion = report.Version
	return true
}

// discount never raises hours and never goes below zero.
func discount(hours int, pct float64) int {
	if hours <= 0 {
		return 0
	}
	if math.IsNaN(pct) || pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	n := int(math.Floor(float64(hours) * (100 - pct) / 100))
	if n > hours {
		n = hours
	}
	if n < 0 {
		n = 0
	}
	return n
}

// SkillSummary is the condensed view handed to the coverage analyzer.
type SkillSummary struct {
	Name   string   `json:"name"`
	Topics []string `json:"topics"`
}

// Summary returns id -> name and topic names.
func (s *Store) Summary() map[string]SkillSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]SkillSummary, len(s.entries))
	for _, e := range s.entries {
		topics := make([]string, 0, len(e.Topics))
		for _, t := range e.Topics {
			topics = append(topics, t.Name)
		}
		out[e.ID] = SkillSummary{Name: e.Name, Topics: topics}
	}
	return out
}

var courseKeywords = []string{"lecture", "lab", "tutorial", "seminar", "workshop"}

// DetectCourses extracts course names from teaching events: titles with a
// course keyword, lowercased, cut at the first ';'. The result is sorted and
// deduplicated.
func DetectCourses(events []model.Event) []string {
	seen := make(map[string]bool)
	for _, ev := range events {
		title := strings.ToLower(ev.Title)
		if !containsAny(title, courseKeywords) {
			continue
		}
		name := title
		if i := strings.Index(title, ";"); i >= 0 {
			name = title[:i]
		}
		name = strings.TrimSpace(name)
		if name != "" {
			seen[name] = true
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func cloneEntry(e model.CurriculumEntry) model.CurriculumEntry {
	e.Topics = append([]model.Topic(nil), e.Topics...)
	return e
}

func cloneEntries(in []model.CurriculumEntry) []model.CurriculumEntry {
	out := make([]model.CurriculumEntry, len(in))
	for i, e := range in {
		out[i] = cloneEntry(e)
	}
	return out
}
