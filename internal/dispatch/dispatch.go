// Package dispatch decides which calendar events and study sessions are due
// for a notification at a given instant, and remembers what already fired.
package dispatch

import (
	"sync"
	"time"

	appLog "studycal/internal/log"
	"studycal/internal/model"
)

// NotifiedSet records the instance identities notified during the current
// day. It is cleared once per day by the daily routine.
type NotifiedSet interface {
	Seen(id string) bool
	MarkSeen(id string)
	Reset()
}

// MemorySet is the in-process NotifiedSet.
type MemorySet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewMemorySet() *MemorySet {
	return &MemorySet{ids: make(map[string]struct{})}
}

func (s *MemorySet) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *MemorySet) MarkSeen(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

func (s *MemorySet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{})
}

// Len returns the number of identities recorded.
func (s *MemorySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// LeadWindow is the closed interval before an event's start during which its
// reminder is due.
type LeadWindow struct {
	Min time.Duration
	Max time.Duration
}

// Contains reports whether until lies in [Min, Max].
func (w LeadWindow) Contains(until time.Duration) bool {
	return until >= w.Min && until <= w.Max
}

const (
	DefaultLeadMin       = 8 * time.Minute
	DefaultLeadMax       = 12 * time.Minute
	DefaultSessionWindow = 2 * time.Minute
)

// Dispatcher evaluates due notifications against a NotifiedSet.
type Dispatcher struct {
	Set           NotifiedSet
	Lead          LeadWindow
	SessionWindow time.Duration
}

// New returns a Dispatcher with the default windows.
func New(set NotifiedSet) *Dispatcher {
	return &Dispatcher{
		Set:           set,
		Lead:          LeadWindow{Min: DefaultLeadMin, Max: DefaultLeadMax},
		SessionWindow: DefaultSessionWindow,
	}
}

// EvaluateCalendarEvents returns today's events whose start lies inside the
// lead window from now and that were not notified yet. Returned events are
// marked as notified.
func (d *Dispatcher) EvaluateCalendarEvents(now time.Time, todays []model.Event) []model.Event {
	var due []model.Event
	for _, ev := range todays {
		until := ev.Start.Sub(now)
		if !d.Lead.Contains(until) {
			continue
		}
		id := ev.Identity()
		if d.Set.Seen(id) {
			continue
		}
		d.Set.MarkSeen(id)
		due = append(due, ev)
	}
	return due
}

// EvaluateStudySessions returns the plan's sessions starting within the
// session window of now that were not notified yet. Session clock times are
// taken on now's date, in now's location. Returned sessions are marked as
// notified.
func (d *Dispatcher) EvaluateStudySessions(now time.Time, plan *model.DayPlan) []model.StudySession {
	if plan == nil {
		return nil
	}

	var due []model.StudySession
	for _, s := range plan.Schedule {
		start, err := s.StartOn(now)
		if err != nil {
			appLog.Warn("skipping session with bad start time", "subject", s.Subject, "start_time", s.StartTime)
			continue
		}
		diff := start.Sub(now)
		if diff < -d.SessionWindow || diff > d.SessionWindow {
			continue
		}
		id := s.Identity()
		if d.Set.Seen(id) {
			continue
		}
		d.Set.MarkSeen(id)
		due = append(due, s)
	}
	return due
}
