// Package daemon runs the daily planning routine and the notification poll
// on cron triggers, serialized through a single task loop.
package daemon

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"studycal/internal/availability"
	"studycal/internal/curriculum"
	"studycal/internal/dispatch"
	appLog "studycal/internal/log"
	"studycal/internal/model"
	"studycal/internal/notify"
	"studycal/internal/planner"
	"studycal/internal/store"
)

// Persistence is the durable state the daemon reads and writes. *store.Store
// implements it.
type Persistence interface {
	LoadPlan(ctx context.Context, date string) (*model.DayPlan, bool, error)
	SavePlan(ctx context.Context, date string, plan *model.DayPlan) error
	LoadCurriculum(ctx context.Context) (curriculum.Document, bool, error)
	SaveCurriculum(ctx context.Context, doc curriculum.Document) error
	LoadCoverage(ctx context.Context) (*model.CoverageReport, bool, error)
	SaveCoverage(ctx context.Context, r *model.CoverageReport) error
	RecordDelivery(ctx context.Context, d store.Delivery) (string, error)
}

var _ Persistence = (*store.Store)(nil)

// Options are the scheduling knobs.
type Options struct {
	Location          *time.Location
	DailyHour         int
	DailyMinute       int
	PollSpec          string
	IdleSleep         time.Duration
	GenerationTimeout time.Duration
	Policy            availability.Policy
	Lead              dispatch.LeadWindow
	NominalLead       time.Duration
	SessionWindow     time.Duration
}

// DefaultOptions mirror the defaults of the config file.
func DefaultOptions() Options {
	return Options{
		Location:          time.Local,
		DailyHour:         7,
		PollSpec:          "@every 1m",
		IdleSleep:         30 * time.Second,
		GenerationTimeout: 2 * time.Minute,
		Policy:            availability.DefaultPolicy(),
		Lead:              dispatch.LeadWindow{Min: dispatch.DefaultLeadMin, Max: dispatch.DefaultLeadMax},
		NominalLead:       10 * time.Minute,
		SessionWindow:     dispatch.DefaultSessionWindow,
	}
}

// Deps are the collaborators. Generator, Analyzer and Persistence may be nil.
type Deps struct {
	Events      []model.Event
	Curriculum  *curriculum.Store
	Notified    dispatch.NotifiedSet
	Generator   planner.Generator
	Analyzer    planner.CoverageAnalyzer
	Deliverer   notify.Deliverer
	Persistence Persistence
	Now         func() time.Time
}

type taskKind int

const (
	taskDaily taskKind = iota
	taskPoll
)

func (k taskKind) String() string {
	if k == taskDaily {
		return "daily"
	}
	return "poll"
}

const queueSize = 8

// Daemon owns the scheduler context.
type Daemon struct {
	opts       Options
	sc         *Context
	dispatcher *dispatch.Dispatcher
	generator  planner.Generator
	analyzer   planner.CoverageAnalyzer
	deliverer  notify.Deliverer
	persist    Persistence
	clock      func() time.Time

	tasks   chan taskKind
	dropped atomic.Int64
	snap    atomic.Pointer[Snapshot]
}

// New builds a Daemon and publishes an initial snapshot.
func New(opts Options, deps Deps) *Daemon {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if deps.Curriculum == nil {
		deps.Curriculum = curriculum.Default()
	}
	if deps.Notified == nil {
		deps.Notified = dispatch.NewMemorySet()
	}
	if deps.Deliverer == nil {
		deps.Deliverer = notify.Log{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	disp := dispatch.New(deps.Notified)
	if opts.Lead.Max > 0 {
		disp.Lead = opts.Lead
	}
	if opts.SessionWindow > 0 {
		disp.SessionWindow = opts.SessionWindow
	}

	d := &Daemon{
		opts: opts,
		sc: &Context{
			Events:     deps.Events,
			Curriculum: deps.Curriculum,
			Notified:   deps.Notified,
		},
		dispatcher: disp,
		generator:  deps.Generator,
		analyzer:   deps.Analyzer,
		deliverer:  deps.Deliverer,
		persist:    deps.Persistence,
		clock:      deps.Now,
		tasks:      make(chan taskKind, queueSize),
	}
	d.publish()
	return d
}

func (d *Daemon) now() time.Time {
	return d.clock().In(d.opts.Location)
}

// enqueue never blocks; a full queue drops the tick.
func (d *Daemon) enqueue(k taskKind) {
	select {
	case d.tasks <- k:
	default:
		d.dropped.Add(1)
		appLog.Warn("task queue full; dropping tick", "task", k.String())
	}
}

func (d *Daemon) execute(ctx context.Context, k taskKind) {
	switch k {
	case taskDaily:
		_ = d.RunDaily(ctx)
	case taskPoll:
		d.Poll(ctx)
	}
	d.publish()
}

// dailySpec is the only place the daily trigger becomes a cron spec.
func (d *Daemon) dailySpec() string {
	return fmt.Sprintf("%d %d * * *", d.opts.DailyMinute, d.opts.DailyHour)
}

// Run bootstraps, applies the startup policy, then serves cron triggers until
// ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(d.opts.Location),
		cron.WithLogger(cronLogger{}),
	)
	if _, err := c.AddFunc(d.dailySpec(), func() { d.enqueue(taskDaily) }); err != nil {
		return fmt.Errorf("schedule daily run: %w", err)
	}
	pollSpec := d.opts.PollSpec
	if pollSpec == "" {
		pollSpec = "@every 1m"
	}
	if _, err := c.AddFunc(pollSpec, func() { d.enqueue(taskPoll) }); err != nil {
		return fmt.Errorf("schedule poll %q: %w", pollSpec, err)
	}

	if err := d.Bootstrap(ctx); err != nil {
		appLog.Error("bootstrap incomplete", err)
	}
	d.Startup(ctx)
	d.publish()

	c.Start()
	defer func() { <-c.Stop().Done() }()

	idle := d.opts.IdleSleep
	if idle <= 0 || idle > 30*time.Second {
		idle = 30 * time.Second
	}
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	appLog.Info("daemon running",
		"daily", d.dailySpec(),
		"poll", pollSpec,
		"idle_sleep", idle,
		"events", len(d.sc.Events),
	)

	for {
		select {
		case <-ctx.Done():
			appLog.Info("daemon stopping")
			return nil
		case k := <-d.tasks:
			d.execute(ctx, k)
		case <-ticker.C:
			d.execute(ctx, taskPoll)
		}
	}
}

// cronLogger adapts cron's logger to the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
