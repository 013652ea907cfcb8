package daemon

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studycal/internal/curriculum"
	apperrors "studycal/internal/errors"
	appLog "studycal/internal/log"
	"studycal/internal/model"
	"studycal/internal/notify"
	"studycal/internal/planner"
	"studycal/internal/store"
)

func TestMain(m *testing.M) {
	appLog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(hour, min int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = time.Date(c.t.Year(), c.t.Month(), c.t.Day(), hour, min, 0, 0, c.t.Location())
}

// NextDay moves to the following calendar day at hour:min.
func (c *fakeClock) NextDay(hour, min int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.t.AddDate(0, 0, 1)
	c.t = time.Date(n.Year(), n.Month(), n.Day(), hour, min, 0, 0, n.Location())
}

func newClock(hour, min int) *fakeClock {
	return &fakeClock{t: time.Date(2025, 9, 22, hour, min, 0, 0, time.UTC)}
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	reqs  []planner.Request
	fn    func(ctx context.Context, req planner.Request) (*model.DayPlan, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, req planner.Request) (*model.DayPlan, error) {
	g.mu.Lock()
	g.calls++
	g.reqs = append(g.reqs, req)
	fn := g.fn
	g.mu.Unlock()
	return fn(ctx, req)
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func planWith(sessions ...model.StudySession) func(context.Context, planner.Request) (*model.DayPlan, error) {
	return func(context.Context, planner.Request) (*model.DayPlan, error) {
		return &model.DayPlan{Summary: "planned", TotalStudyHours: 4, Schedule: sessions}, nil
	}
}

type fakeAnalyzer struct {
	calls  int
	report *model.CoverageReport
}

func (a *fakeAnalyzer) Analyze(_ context.Context, _ []string, _ map[string]curriculum.SkillSummary) (*model.CoverageReport, error) {
	a.calls++
	return a.report, nil
}

type recorder struct {
	mu      sync.Mutex
	notices []notify.Notice
	err     error
}

func (r *recorder) Deliver(_ context.Context, n notify.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return r.err
}

func (r *recorder) Titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.notices {
		out = append(out, n.Title)
	}
	return out
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Location = time.UTC
	return opts
}

func lecture() model.Event {
	return model.Event{
		Title: "Lecture",
		Start: time.Date(2025, 9, 22, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 9, 22, 11, 0, 0, 0, time.UTC),
	}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPoll_EventFiresOnceInsideLeadWindow(t *testing.T) {
	clock := newClock(9, 47)
	rec := &recorder{}
	d := New(testOptions(), Deps{Events: []model.Event{lecture()}, Deliverer: rec, Now: clock.Now})

	d.Poll(context.Background())
	require.Empty(t, rec.Titles())

	clock.Set(9, 48)
	d.Poll(context.Background())
	clock.Set(9, 49)
	d.Poll(context.Background())
	clock.Set(9, 52)
	d.Poll(context.Background())

	require.Equal(t, []string{"Upcoming: Lecture"}, rec.Titles())
	require.Equal(t, "In 10 minutes\n10:00 - 11:00", rec.notices[0].Body)
}

func TestPoll_NothingLoaded(t *testing.T) {
	rec := &recorder{}
	d := New(testOptions(), Deps{Deliverer: rec, Now: newClock(9, 50).Now})
	d.Poll(context.Background())
	require.Empty(t, rec.Titles())
}

func TestRunDaily_ResetsNotifiedAndAnnouncesPlan(t *testing.T) {
	clock := newClock(9, 48)
	rec := &recorder{}
	gen := &fakeGenerator{fn: planWith(model.StudySession{StartTime: "14:00", Subject: "SQL", Topic: "JOINs"})}
	st := openStore(t)
	d := New(testOptions(), Deps{
		Events:      []model.Event{lecture()},
		Generator:   gen,
		Deliverer:   rec,
		Persistence: st,
		Now:         clock.Now,
	})

	d.Poll(context.Background())
	require.Len(t, rec.Titles(), 1)

	require.NoError(t, d.RunDaily(context.Background()))
	require.Equal(t, "Today's Schedule Ready", rec.Titles()[1])

	// The reset makes the same instance eligible again.
	clock.Set(9, 50)
	d.Poll(context.Background())
	require.Equal(t, "Upcoming: Lecture", rec.Titles()[2])

	req := gen.reqs[0]
	require.InDelta(t, (17.0-2.0-1.0)*0.83, req.EffectiveStudyHours, 1e-9)
	require.Equal(t, []planner.EventBrief{{Title: "Lecture", Start: "10:00", End: "11:00"}}, req.Events)
	require.Len(t, req.Curriculum, 7)

	saved, ok, err := st.LoadPlan(context.Background(), "2025-09-22")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2025-09-22", saved.Date)

	d.publish()
	snap := d.Snapshot()
	require.Equal(t, "2025-09-22", snap.PlanDate)
	require.Len(t, snap.Plan.Schedule, 1)

	clock.Set(14, 1)
	d.Poll(context.Background())
	require.Equal(t, "Time to Study: SQL", rec.Titles()[3])

	logged, err := st.RecentDeliveries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logged, 4)
	require.Equal(t, "session", logged[0].Kind)
	require.Equal(t, "14:00-SQL", logged[0].Identity)
}

func TestRunDaily_FailureKeepsPreviousPlan(t *testing.T) {
	clock := newClock(7, 0)
	rec := &recorder{}
	gen := &fakeGenerator{fn: planWith(model.StudySession{StartTime: "08:00", Subject: "Python"})}
	d := New(testOptions(), Deps{Generator: gen, Deliverer: rec, Now: clock.Now})

	require.NoError(t, d.RunDaily(context.Background()))
	d.publish()
	prev := d.Snapshot().Plan
	require.NotNil(t, prev)

	gen.fn = func(context.Context, planner.Request) (*model.DayPlan, error) {
		return nil, errors.New("upstream 529")
	}
	err := d.RunDaily(context.Background())
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.ErrGenerationFailure))

	d.publish()
	snap := d.Snapshot()
	require.Equal(t, prev, snap.Plan)
	require.Contains(t, snap.LastError, "upstream 529")
	require.Equal(t, []string{"Today's Schedule Ready", "Schedule generation failed"}, rec.Titles())
}

func TestRunDaily_FailureOnNextDayDoesNotFireOldSessions(t *testing.T) {
	clock := newClock(7, 0)
	rec := &recorder{}
	gen := &fakeGenerator{fn: planWith(model.StudySession{StartTime: "09:00", Subject: "Go"})}
	d := New(testOptions(), Deps{Generator: gen, Deliverer: rec, Now: clock.Now})

	require.NoError(t, d.RunDaily(context.Background()))

	clock.NextDay(7, 0)
	gen.fn = func(context.Context, planner.Request) (*model.DayPlan, error) {
		return nil, errors.New("upstream 529")
	}
	require.Error(t, d.RunDaily(context.Background()))

	clock.Set(9, 1)
	d.Poll(context.Background())
	require.Equal(t, []string{"Today's Schedule Ready", "Schedule generation failed"}, rec.Titles())

	d.publish()
	require.Equal(t, "2025-09-22", d.Snapshot().PlanDate)
}

func TestPoll_StalePlanStillRemindsOfEvents(t *testing.T) {
	clock := newClock(7, 0)
	rec := &recorder{}
	gen := &fakeGenerator{fn: planWith(model.StudySession{StartTime: "09:00", Subject: "Go"})}
	seminar := model.Event{
		Title: "Seminar",
		Start: time.Date(2025, 9, 23, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 9, 23, 11, 0, 0, 0, time.UTC),
	}
	d := New(testOptions(), Deps{Events: []model.Event{seminar}, Generator: gen, Deliverer: rec, Now: clock.Now})

	require.NoError(t, d.RunDaily(context.Background()))
	clock.NextDay(9, 50)
	d.Poll(context.Background())
	require.Equal(t, []string{"Today's Schedule Ready", "Upcoming: Seminar"}, rec.Titles())
}

func TestRunDaily_OverbookedDaySkipsGenerator(t *testing.T) {
	clock := newClock(5, 0)
	rec := &recorder{}
	gen := &fakeGenerator{fn: planWith(model.StudySession{StartTime: "09:00", Subject: "Go"})}
	st := openStore(t)
	conference := model.Event{
		Title: "Conference",
		Start: time.Date(2025, 9, 22, 6, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 9, 22, 22, 0, 0, 0, time.UTC),
	}
	d := New(testOptions(), Deps{Events: []model.Event{conference}, Generator: gen, Deliverer: rec, Persistence: st, Now: clock.Now})

	require.NoError(t, d.RunDaily(context.Background()))
	require.Zero(t, gen.Calls())

	d.publish()
	snap := d.Snapshot()
	require.Equal(t, "2025-09-22", snap.PlanDate)
	require.Empty(t, snap.Plan.Schedule)
	require.Zero(t, snap.Plan.TotalStudyHours)
	require.Empty(t, snap.LastError)

	saved, ok, err := st.LoadPlan(context.Background(), "2025-09-22")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, saved.Schedule)

	clock.Set(9, 1)
	d.Poll(context.Background())
	require.Equal(t, []string{"Today's Schedule Ready"}, rec.Titles())
}

func TestPlanFor_OverbookedDayIsEmpty(t *testing.T) {
	gen := &fakeGenerator{fn: planWith(model.StudySession{StartTime: "09:00", Subject: "Go"})}
	allDay := model.Event{
		Title: "Field trip",
		Start: time.Date(2025, 9, 24, 5, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 9, 24, 23, 0, 0, 0, time.UTC),
	}
	d := New(testOptions(), Deps{Events: []model.Event{allDay}, Generator: gen, Now: newClock(9, 0).Now})

	plan, err := d.PlanFor(context.Background(), time.Date(2025, 9, 24, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Zero(t, gen.Calls())
	require.Equal(t, "2025-09-24", plan.Date)
	require.NotNil(t, plan.Schedule)
	require.Empty(t, plan.Schedule)
}

func TestRunDaily_GenerationTimeout(t *testing.T) {
	opts := testOptions()
	opts.GenerationTimeout = 20 * time.Millisecond
	gen := &fakeGenerator{fn: func(ctx context.Context, _ planner.Request) (*model.DayPlan, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	d := New(opts, Deps{Generator: gen, Deliverer: &recorder{}, Now: newClock(7, 0).Now})

	start := time.Now()
	err := d.RunDaily(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestRunDaily_NoGenerator(t *testing.T) {
	rec := &recorder{}
	d := New(testOptions(), Deps{Deliverer: rec, Now: newClock(7, 0).Now})
	require.True(t, apperrors.Is(d.RunDaily(context.Background()), apperrors.ErrGenerationFailure))
	require.Equal(t, []string{"Schedule generation failed"}, rec.Titles())
}

func TestPoll_DeliveryFailureStaysFired(t *testing.T) {
	rec := &recorder{err: errors.New("toast service down")}
	clock := newClock(9, 49)
	d := New(testOptions(), Deps{Events: []model.Event{lecture()}, Deliverer: rec, Now: clock.Now})

	d.Poll(context.Background())
	clock.Set(9, 50)
	d.Poll(context.Background())
	require.Len(t, rec.Titles(), 1)
}

func TestStartup_LateStartRunsImmediately(t *testing.T) {
	gen := &fakeGenerator{fn: planWith(model.StudySession{StartTime: "09:00", Subject: "SQL"})}
	d := New(testOptions(), Deps{Generator: gen, Deliverer: &recorder{}, Now: newClock(8, 15).Now})

	d.Startup(context.Background())
	require.Equal(t, 1, gen.Calls())

	// A plan for today is in memory now.
	d.Startup(context.Background())
	require.Equal(t, 1, gen.Calls())
}

func TestStartup_EarlyStartWaits(t *testing.T) {
	gen := &fakeGenerator{fn: planWith(model.StudySession{StartTime: "09:00", Subject: "SQL"})}
	d := New(testOptions(), Deps{Generator: gen, Deliverer: &recorder{}, Now: newClock(6, 59).Now})

	d.Startup(context.Background())
	require.Zero(t, gen.Calls())
}

func TestStartup_PersistedPlanIsReloaded(t *testing.T) {
	st := openStore(t)
	plan := &model.DayPlan{Date: "2025-09-22", Schedule: []model.StudySession{{StartTime: "15:00", Subject: "Stats"}}}
	require.NoError(t, st.SavePlan(context.Background(), "2025-09-22", plan))

	gen := &fakeGenerator{fn: planWith()}
	d := New(testOptions(), Deps{Generator: gen, Deliverer: &recorder{}, Persistence: st, Now: newClock(8, 15).Now})

	d.Startup(context.Background())
	require.Zero(t, gen.Calls())
	d.publish()
	require.Equal(t, plan, d.Snapshot().Plan)
}

func TestBootstrap_AnalyzesOnceAndDiscountsOnce(t *testing.T) {
	st := openStore(t)
	an := &fakeAnalyzer{report: &model.CoverageReport{
		Version:          "v1",
		CoveredBySkillID: map[string]model.SkillCoverage{"python": {CoveragePercentage: 60}},
		PureGaps:         []string{"sql"},
	}}
	events := []model.Event{{Title: "Lecture; Machine Learning", Start: time.Now()}}

	d := New(testOptions(), Deps{Events: events, Analyzer: an, Persistence: st, Now: newClock(7, 0).Now})
	require.NoError(t, d.Bootstrap(context.Background()))
	require.Equal(t, 1, an.calls)

	py, _ := d.sc.Curriculum.Get("python")
	require.Equal(t, 16, py.TotalHours)

	// Restart: the stored analysis is reused and not applied a second time.
	d2 := New(testOptions(), Deps{Events: events, Analyzer: an, Persistence: st, Now: newClock(7, 0).Now})
	require.NoError(t, d2.Bootstrap(context.Background()))
	require.Equal(t, 1, an.calls)

	py, _ = d2.sc.Curriculum.Get("python")
	require.Equal(t, 16, py.TotalHours)
	require.Equal(t, "v1", d2.Snapshot().Coverage.Version)
}

func TestBootstrap_AppliesPendingAnalysis(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveCurriculum(ctx, curriculum.Default().Document()))
	require.NoError(t, st.SaveCoverage(ctx, &model.CoverageReport{
		Version:          "v2",
		CoveredBySkillID: map[string]model.SkillCoverage{"excel": {CoveragePercentage: 100}},
	}))

	d := New(testOptions(), Deps{Persistence: st, Now: newClock(7, 0).Now})
	require.NoError(t, d.Bootstrap(ctx))

	doc, ok, err := st.LoadCurriculum(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", doc.AppliedCoverageVersion)
	require.Equal(t, 0, curriculum.FromDocument(doc).Snapshot()[4].TotalHours)
}

func TestEnqueue_DropsWhenFull(t *testing.T) {
	d := New(testOptions(), Deps{Now: newClock(7, 0).Now})
	for i := 0; i < queueSize+3; i++ {
		d.enqueue(taskPoll)
	}
	d.publish()
	require.Equal(t, int64(3), d.Snapshot().Dropped)
}

func TestRun_LateStartThenShutdown(t *testing.T) {
	gen := &fakeGenerator{fn: planWith(model.StudySession{StartTime: "09:00", Subject: "SQL"})}
	rec := &recorder{}
	d := New(testOptions(), Deps{Generator: gen, Deliverer: rec, Now: newClock(8, 15).Now})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, d.Run(ctx))
	require.Equal(t, 1, gen.Calls())
	require.Equal(t, "2025-09-22", d.Snapshot().PlanDate)
}

func TestDailySpec(t *testing.T) {
	opts := testOptions()
	opts.DailyHour, opts.DailyMinute = 6, 30
	d := New(opts, Deps{Now: newClock(5, 0).Now})
	require.Equal(t, "30 6 * * *", d.dailySpec())
}

func TestRun_BadPollSpec(t *testing.T) {
	opts := testOptions()
	opts.PollSpec = "every minute please"
	d := New(opts, Deps{Now: newClock(8, 0).Now})
	require.Error(t, d.Run(context.Background()))
}

func TestRestore_LoadsWithoutGenerating(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	plan := &model.DayPlan{Date: "2025-09-22", Schedule: []model.StudySession{{StartTime: "15:00", Subject: "Stats"}}}
	require.NoError(t, st.SavePlan(ctx, "2025-09-22", plan))
	require.NoError(t, st.SaveCoverage(ctx, &model.CoverageReport{Version: "v3"}))

	gen := &fakeGenerator{fn: planWith()}
	d := New(testOptions(), Deps{Generator: gen, Persistence: st, Now: newClock(9, 0).Now})
	require.NoError(t, d.Restore(ctx))

	require.Zero(t, gen.Calls())
	snap := d.Snapshot()
	require.Equal(t, "2025-09-22", snap.PlanDate)
	require.Equal(t, "Stats", snap.Plan.Schedule[0].Subject)
	require.Equal(t, "v3", snap.Coverage.Version)
	require.Len(t, snap.Curriculum, 7)
}

func TestPlanFor_PersistsWithoutTouchingCurrentPlan(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	gen := &fakeGenerator{fn: planWith(model.StudySession{StartTime: "10:00", Subject: "SQL"})}
	rec := &recorder{}
	d := New(testOptions(), Deps{Events: []model.Event{lecture()}, Generator: gen, Deliverer: rec, Persistence: st, Now: newClock(9, 0).Now})

	day := time.Date(2025, 9, 23, 0, 0, 0, 0, time.UTC)
	plan, err := d.PlanFor(ctx, day)
	require.NoError(t, err)
	require.Equal(t, "2025-09-23", plan.Date)
	require.Empty(t, rec.Titles())
	require.Nil(t, d.Snapshot().Plan)

	// The lecture is on the 22nd, so the 23rd is fully available.
	require.InDelta(t, 15*0.83, gen.reqs[0].EffectiveStudyHours, 1e-9)

	stored, ok, err := st.LoadPlan(ctx, "2025-09-23")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "SQL", stored.Schedule[0].Subject)
}
