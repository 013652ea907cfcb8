// Package query is the read-only console that runs next to the daemon. It
// only ever reads published snapshots.
package query

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"studycal/internal/availability"
	"studycal/internal/daemon"
	"studycal/internal/model"
)

// SnapshotSource is implemented by *daemon.Daemon.
type SnapshotSource interface {
	Snapshot() *daemon.Snapshot
}

// Console reads one command per line and prints the answer.
type Console struct {
	src    SnapshotSource
	policy availability.Policy
	in     io.Reader
	out    io.Writer
	prompt string
}

// New returns a Console over src. policy is used for multi-day availability.
func New(src SnapshotSource, policy availability.Policy, in io.Reader, out io.Writer) *Console {
	return &Console{src: src, policy: policy, in: in, out: out, prompt: "studycal> "}
}

// Run serves commands until "quit", end of input or ctx cancellation.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		errc <- sc.Err()
	}()

	fmt.Fprintf(c.out, "Type 'help' for commands.\n%s", c.prompt)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			fmt.Fprintln(c.out)
			return err
		case line := <-lines:
			if !c.Exec(line) {
				return nil
			}
			fmt.Fprint(c.out, c.prompt)
		}
	}
}

// Exec runs a single command line. It returns false when the console should
// stop.
func (c *Console) Exec(line string) bool {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return true
	}
	snap := c.src.Snapshot()

	switch fields[0] {
	case "quit", "exit", "q":
		return false
	case "help", "?":
		c.help()
	case "today":
		c.today(snap)
	case "plan", "schedule":
		c.plan(snap)
	case "events":
		days := 1
		if len(fields) > 1 {
			if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 && n <= 31 {
				days = n
			}
		}
		c.events(snap, days)
	case "week":
		c.week(snap)
	case "curriculum", "skills":
		c.curriculum(snap)
	case "coverage":
		c.coverage(snap)
	case "status":
		c.status(snap)
	default:
		fmt.Fprintf(c.out, "unknown command %q, try 'help'\n", fields[0])
	}
	return true
}

func (c *Console) help() {
	fmt.Fprint(c.out, `Commands:
  today        events and available study hours for today
  plan         today's study schedule
  events [N]   events for the next N days (default 1)
  week         this week's workload
  curriculum   skills and remaining hours
  coverage     coursework coverage analysis
  status       daemon status
  quit         leave the console
`)
}

func (c *Console) today(snap *daemon.Snapshot) {
	a := snap.Availability
	fmt.Fprintf(c.out, "%s\n", snap.Date)
	fmt.Fprintf(c.out, "Blocked: %.1fh  Available for study: %.1fh\n", a.BlockedHours, a.EffectiveStudyHours)
	c.printEvents(snap.Today)
}

func (c *Console) printEvents(events []model.Event) {
	if len(events) == 0 {
		fmt.Fprintln(c.out, "  (no events)")
		return
	}
	for _, ev := range events {
		end := "?"
		if ev.HasEnd() {
			end = ev.End.Format(model.ClockLayout)
		}
		line := fmt.Sprintf("  %s - %s  %s", ev.Start.Format(model.ClockLayout), end, ev.Title)
		if ev.Location != "" {
			line += " @ " + ev.Location
		}
		fmt.Fprintln(c.out, line)
	}
}

func (c *Console) plan(snap *daemon.Snapshot) {
	p := snap.Plan
	if p == nil {
		fmt.Fprintln(c.out, "No plan yet.")
		return
	}
	if snap.PlanDate != snap.Date {
		fmt.Fprintf(c.out, "Plan is from %s (today's plan not generated yet)\n", snap.PlanDate)
	}
	if p.Summary != "" {
		fmt.Fprintln(c.out, p.Summary)
	}
	fmt.Fprintf(c.out, "%d sessions, %.1f hours\n", len(p.Schedule), p.TotalStudyHours)
	for _, s := range p.Schedule {
		end := s.EndTime
		if end == "" {
			end = "?"
		}
		fmt.Fprintf(c.out, "  %s - %s  %s", s.StartTime, end, s.Subject)
		if s.Topic != "" {
			fmt.Fprintf(c.out, ": %s", s.Topic)
		}
		fmt.Fprintln(c.out)
	}
}

func (c *Console) events(snap *daemon.Snapshot, days int) {
	start := snap.At
	if start.IsZero() {
		start = time.Now()
	}
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		a := availability.Availability(snap.Events, day, c.policy)
		fmt.Fprintf(c.out, "%s  blocked %.1fh, study %.1fh\n", day.Format("Mon 2006-01-02"), a.BlockedHours, a.EffectiveStudyHours)
		c.printEvents(a.Events)
	}
}

func (c *Console) week(snap *daemon.Snapshot) {
	ref := snap.At
	if ref.IsZero() {
		ref = time.Now()
	}
	w := availability.Week(snap.Events, ref)
	fmt.Fprintf(c.out, "Week %s to %s\n", w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
	fmt.Fprintf(c.out, "  %d events, %.1f hours\n", w.TotalEvents, w.TotalHours)
	fmt.Fprintf(c.out, "  lectures %d, labs %d, other %d\n", w.Lectures, w.Labs, w.Other)
}

func (c *Console) curriculum(snap *daemon.Snapshot) {
	if len(snap.Curriculum) == 0 {
		fmt.Fprintln(c.out, "Curriculum is empty.")
		return
	}
	total := 0
	for _, e := range snap.Curriculum {
		total += e.TotalHours
		fmt.Fprintf(c.out, "  [%s] %s: %dh\n", e.Priority, e.Name, e.TotalHours)
	}
	fmt.Fprintf(c.out, "Total: %dh\n", total)
}

func (c *Console) coverage(snap *daemon.Snapshot) {
	r := snap.Coverage
	if r == nil {
		fmt.Fprintln(c.out, "No coverage analysis yet.")
		return
	}
	fmt.Fprintf(c.out, "Analysis %s\n", r.Version)
	ids := make([]string, 0, len(r.CoveredBySkillID))
	for id := range r.CoveredBySkillID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		cov := r.CoveredBySkillID[id]
		fmt.Fprintf(c.out, "  %s: %.0f%%", id, cov.CoveragePercentage)
		if cov.SourceCourse != "" {
			fmt.Fprintf(c.out, " (%s)", cov.SourceCourse)
		}
		fmt.Fprintln(c.out)
	}
}

func (c *Console) status(snap *daemon.Snapshot) {
	fmt.Fprintf(c.out, "Snapshot at %s\n", snap.At.Format(time.RFC3339))
	fmt.Fprintf(c.out, "Events loaded: %d\n", len(snap.Events))
	if snap.LastDaily.IsZero() {
		fmt.Fprintln(c.out, "Daily routine: not run yet")
	} else {
		fmt.Fprintf(c.out, "Daily routine: %s\n", snap.LastDaily.Format(time.RFC3339))
	}
	if snap.LastError != "" {
		fmt.Fprintf(c.out, "Last error: %s\n", snap.LastError)
	}
	if snap.Dropped > 0 {
		fmt.Fprintf(c.out, "Dropped ticks: %d\n", snap.Dropped)
	}
}
