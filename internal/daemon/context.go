package daemon

import (
	"time"

	"studycal/internal/availability"
	"studycal/internal/curriculum"
	"studycal/internal/dispatch"
	"studycal/internal/model"
)

// Context is the scheduler state shared by the daily routine and the poll.
// Only the task loop mutates it.
type Context struct {
	// Events are loaded once at startup.
	Events     []model.Event
	Curriculum *curriculum.Store
	Notified   dispatch.NotifiedSet
	Coverage   *model.CoverageReport

	Plan     *model.DayPlan
	PlanDate string

	LastDaily time.Time
	LastError string
}

// Snapshot is an immutable view of the scheduler state for side channels.
type Snapshot struct {
	At           time.Time               `json:"at"`
	Date         string                  `json:"date"`
	Today        []model.Event           `json:"-"`
	Events       []model.Event           `json:"-"`
	Availability model.DayAvailability   `json:"-"`
	Plan         *model.DayPlan          `json:"plan,omitempty"`
	PlanDate     string                  `json:"plan_date,omitempty"`
	Curriculum   []model.CurriculumEntry `json:"curriculum"`
	Coverage     *model.CoverageReport   `json:"coverage,omitempty"`
	LastDaily    time.Time               `json:"last_daily,omitempty"`
	LastError    string                  `json:"last_error,omitempty"`
	Dropped      int64                   `json:"dropped_ticks"`
}

func (d *Daemon) buildSnapshot(now time.Time) *Snapshot {
	sc := d.sc
	snap := &Snapshot{
		At:           now,
		Date:         model.DateKey(now),
		Events:       sc.Events,
		Today:        availability.EventsForDate(sc.Events, now),
		Availability: availability.Availability(sc.Events, now, d.opts.Policy),
		PlanDate:     sc.PlanDate,
		Curriculum:   sc.Curriculum.Snapshot(),
		Coverage:     sc.Coverage,
		LastDaily:    sc.LastDaily,
		LastError:    sc.LastError,
		Dropped:      d.dropped.Load(),
	}
	if sc.Plan != nil {
		p := *sc.Plan
		p.Schedule = append([]model.StudySession(nil), sc.Plan.Schedule...)
		snap.Plan = &p
	}
	return snap
}

func (d *Daemon) publish() {
	d.snap.Store(d.buildSnapshot(d.now()))
}

// Snapshot returns the latest published view. It never blocks.
func (d *Daemon) Snapshot() *Snapshot {
	if s := d.snap.Load(); s != nil {
		return s
	}
	return &Snapshot{}
}
