package daemon

import (
	"context"
	"errors"
	"time"

	"studycal/internal/availability"
	"studycal/internal/curriculum"
	"studycal/internal/dispatch"
	apperrors "studycal/internal/errors"
	appLog "studycal/internal/log"
	"studycal/internal/model"
	"studycal/internal/notify"
	"studycal/internal/planner"
	"studycal/internal/store"
)

// RunDaily is the morning routine: reset the notified set, compute today's
// availability, ask the generator for a plan and announce it. On failure the
// previous plan stays in place but its sessions no longer fire, since they
// belong to another day.
func (d *Daemon) RunDaily(ctx context.Context) error {
	now := d.now()
	date := model.DateKey(now)

	d.sc.Notified.Reset()

	plan, err := d.planDay(ctx, now)
	if err != nil {
		d.sc.LastError = err.Error()
		appLog.Error("plan generation failed; keeping previous plan", err, "date", date)
		d.deliver(ctx, "generation_failed", "", dispatch.GenerationFailedNotice(now))
		return err
	}

	d.sc.Plan = plan
	d.sc.PlanDate = date
	d.sc.LastDaily = now
	d.sc.LastError = ""

	if d.persist != nil {
		if err := d.persist.SavePlan(ctx, date, plan); err != nil {
			appLog.Error("persist plan failed", err, "date", date)
		}
	}

	appLog.Info("plan ready", "date", date, "sessions", len(plan.Schedule), "hours", plan.TotalStudyHours)
	d.deliver(ctx, "plan", "", dispatch.PlanReadyNotice(plan))
	return nil
}

// planDay produces the plan for day. A day without study time gets an empty
// plan without asking the generator.
func (d *Daemon) planDay(ctx context.Context, day time.Time) (*model.DayPlan, error) {
	date := model.DateKey(day)
	req := d.request(day)

	if req.EffectiveStudyHours <= 0 {
		appLog.Info("no study time available; skipping generation", "date", date)
		return &model.DayPlan{
			Date:     date,
			Summary:  "No study time available today.",
			Schedule: []model.StudySession{},
		}, nil
	}

	plan, err := d.generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if plan.Date == "" {
		plan.Date = date
	}
	return plan, nil
}

func (d *Daemon) request(day time.Time) planner.Request {
	avail := availability.Availability(d.sc.Events, day, d.opts.Policy)
	appLog.Info("planning",
		"date", model.DateKey(day),
		"events", len(avail.Events),
		"blocked_hours", avail.BlockedHours,
		"effective_hours", avail.EffectiveStudyHours,
	)
	return planner.Request{
		Date:                day,
		EffectiveStudyHours: avail.EffectiveStudyHours,
		Events:              planner.Briefs(avail.Events),
		Curriculum:          d.sc.Curriculum.Snapshot(),
		Coverage:            d.sc.Coverage,
	}
}

// PlanFor generates and persists a plan for an arbitrary day. Unlike RunDaily
// it leaves the current plan, the notified set and delivery alone.
func (d *Daemon) PlanFor(ctx context.Context, day time.Time) (*model.DayPlan, error) {
	day = day.In(d.opts.Location)
	date := model.DateKey(day)

	plan, err := d.planDay(ctx, day)
	if err != nil {
		return nil, err
	}
	if d.persist != nil {
		if err := d.persist.SavePlan(ctx, date, plan); err != nil {
			return plan, apperrors.NewPersistenceFailure("save plan "+date, err)
		}
	}
	return plan, nil
}

func (d *Daemon) generate(ctx context.Context, req planner.Request) (*model.DayPlan, error) {
	if d.generator == nil {
		return nil, apperrors.NewGenerationFailure("no generator configured", nil)
	}

	timeout := d.opts.GenerationTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	gctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	plan, err := d.generator.Generate(gctx, req)
	if err == nil && plan == nil {
		err = errors.New("generator returned no plan")
	}
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrGenerationFailure) {
			err = apperrors.NewGenerationFailure("generate plan", err)
		}
		return nil, err
	}
	return plan, nil
}

// Poll delivers every calendar reminder and session start that is due now.
// Sessions only fire from a plan made for today.
func (d *Daemon) Poll(ctx context.Context) {
	if d.sc.Plan == nil && len(d.sc.Events) == 0 {
		return
	}
	now := d.now()

	todays := availability.EventsForDate(d.sc.Events, now)
	for _, ev := range d.dispatcher.EvaluateCalendarEvents(now, todays) {
		d.deliver(ctx, "event", ev.Identity(), dispatch.EventNotice(ev, d.opts.NominalLead))
	}
	if d.sc.PlanDate != model.DateKey(now) {
		return
	}
	for _, s := range d.dispatcher.EvaluateStudySessions(now, d.sc.Plan) {
		d.deliver(ctx, "session", s.Identity(), dispatch.SessionNotice(s))
	}
}

// deliver is best-effort. The instance stays marked as notified either way.
func (d *Daemon) deliver(ctx context.Context, kind, identity string, n notify.Notice) {
	err := d.deliverer.Deliver(ctx, n)
	rec := store.Delivery{Kind: kind, Identity: identity, Title: n.Title}
	if err != nil {
		rec.Error = err.Error()
		appLog.Error("delivery failed", err, "kind", kind, "title", n.Title)
	} else {
		appLog.Info("notified", "kind", kind, "title", n.Title)
	}

	if d.persist != nil {
		if _, err := d.persist.RecordDelivery(ctx, rec); err != nil {
			appLog.Warn("delivery log write failed", "err", err)
		}
	}
}

// Startup decides whether today's plan still has to be made. A plan already
// persisted for today is reloaded; otherwise, if today's trigger time has
// passed, the daily routine runs immediately.
func (d *Daemon) Startup(ctx context.Context) {
	now := d.now()
	date := model.DateKey(now)

	if d.sc.Plan != nil && d.sc.PlanDate == date {
		return
	}

	if d.persist != nil {
		plan, ok, err := d.persist.LoadPlan(ctx, date)
		if err != nil {
			appLog.Error("load persisted plan failed", err, "date", date)
		}
		if ok {
			d.sc.Plan = plan
			d.sc.PlanDate = date
			appLog.Info("loaded persisted plan", "date", date, "sessions", len(plan.Schedule))
			return
		}
	}

	trigger := time.Date(now.Year(), now.Month(), now.Day(), d.opts.DailyHour, d.opts.DailyMinute, 0, 0, now.Location())
	if now.Before(trigger) {
		appLog.Info("waiting for daily trigger", "at", trigger.Format(model.ClockLayout))
		return
	}

	appLog.Info("started after daily trigger; planning now", "trigger", trigger.Format(model.ClockLayout))
	_ = d.RunDaily(ctx)
}

// Bootstrap restores persisted state and performs first-run setup: when no
// coverage analysis exists yet and an analyzer is configured, detected
// courses are analyzed once and the curriculum discounted. An analysis whose
// version was not applied yet is applied now.
func (d *Daemon) Bootstrap(ctx context.Context) error {
	defer d.publish()

	if d.persist == nil {
		return nil
	}

	doc, ok, err := d.persist.LoadCurriculum(ctx)
	if err != nil {
		return err
	}
	if ok && len(doc.Entries) > 0 {
		d.sc.Curriculum = curriculum.FromDocument(doc)
	} else if err := d.persist.SaveCurriculum(ctx, d.sc.Curriculum.Document()); err != nil {
		return err
	}

	report, ok, err := d.persist.LoadCoverage(ctx)
	if err != nil {
		return err
	}
	if !ok {
		if d.analyzer == nil {
			appLog.Info("no coverage analysis and no analyzer; curriculum kept as is")
			return nil
		}
		report, err = d.analyze(ctx)
		if err != nil {
			return err
		}
		if err := d.persist.SaveCoverage(ctx, report); err != nil {
			return err
		}
	}

	d.sc.Coverage = report
	if d.sc.Curriculum.AdjustForCoverage(*report) {
		if err := d.persist.SaveCurriculum(ctx, d.sc.Curriculum.Document()); err != nil {
			return err
		}
		appLog.Info("curriculum adjusted", "version", report.Version, "total_hours", d.sc.Curriculum.TotalHours())
	}
	return nil
}

func (d *Daemon) analyze(ctx context.Context) (*model.CoverageReport, error) {
	courses := curriculum.DetectCourses(d.sc.Events)
	appLog.Info("first-time setup: analyzing coursework", "courses", len(courses))

	timeout := d.opts.GenerationTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report, err := d.analyzer.Analyze(actx, courses, d.sc.Curriculum.Summary())
	if err == nil && report == nil {
		err = errors.New("analyzer returned no report")
	}
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrGenerationFailure) {
			err = apperrors.NewGenerationFailure("coverage analysis", err)
		}
		return nil, err
	}
	if report.Version == "" {
		report.Version = model.DateKey(d.now())
	}
	return report, nil
}

// Restore loads persisted curriculum, coverage and today's plan without
// generating or analyzing anything.
func (d *Daemon) Restore(ctx context.Context) error {
	defer d.publish()

	if d.persist == nil {
		return nil
	}

	doc, ok, err := d.persist.LoadCurriculum(ctx)
	if err != nil {
		return err
	}
	if ok && len(doc.Entries) > 0 {
		d.sc.Curriculum = curriculum.FromDocument(doc)
	}

	report, ok, err := d.persist.LoadCoverage(ctx)
	if err != nil {
		return err
	}
	if ok {
		d.sc.Coverage = report
	}

	date := model.DateKey(d.now())
	plan, ok, err := d.persist.LoadPlan(ctx, date)
	if err != nil {
		return err
	}
	if ok {
		d.sc.Plan = plan
		d.sc.PlanDate = date
	}
	return nil
}
