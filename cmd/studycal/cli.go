package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/emersion/go-autostart"
	"github.com/urfave/cli/v2"

	"studycal/internal/availability"
	apperrors "studycal/internal/errors"
	"studycal/internal/export"
	appLog "studycal/internal/log"
	"studycal/internal/model"
	"studycal/internal/notify"
	"studycal/internal/query"
	"studycal/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(in io.Reader, out io.Writer) *cli.App {
	app := &cli.App{
		Name:    "studycal",
		Usage:   "Calendar-aware study planner and reminder daemon",
		Version: Version,
		Reader:  in,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "studycal.yaml", EnvVars: []string{"STUDYCAL_CONFIG"}, Usage: "Path to config file"},
			&cli.StringFlag{Name: "log-level", Usage: "debug|info|warn|error (overrides config)"},
		},
		Commands: []*cli.Command{
			daemonCmd(),
			queryCmd(),
			bothCmd(),
			setupCmd(),
			planCmd(),
			eventsCmd(),
			exportCmd(),
			autostartCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// daemonCmd runs the scheduler and, if configured, the status API.
func daemonCmd() *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "Run the planner and reminders until interrupted",
		Action: func(c *cli.Context) error {
			rt, err := openRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			d, err := rt.newDaemon(true)
			if err != nil {
				return err
			}
			rt.serveAPI(c.Context, d)
			return d.Run(c.Context)
		},
	}
}

// queryCmd is the console alone, over persisted state.
func queryCmd() *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "Interactive read-only console over the stored plan and calendar",
		Action: func(c *cli.Context) error {
			rt, err := openRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			d, err := rt.newDaemon(false)
			if err != nil {
				return err
			}
			if err := d.Restore(c.Context); err != nil {
				return err
			}
			return query.New(d, rt.policy(), c.App.Reader, c.App.Writer).Run(c.Context)
		},
	}
}

// bothCmd runs the daemon with the console attached. Leaving the console
// stops the daemon.
func bothCmd() *cli.Command {
	return &cli.Command{
		Name:  "both",
		Usage: "Run the daemon with the interactive console attached",
		Action: func(c *cli.Context) error {
			rt, err := openRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			d, err := rt.newDaemon(true)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			rt.serveAPI(ctx, d)
			done := runInBackground(ctx, "daemon", d.Run)

			consoleErr := query.New(d, rt.policy(), c.App.Reader, c.App.Writer).Run(ctx)
			cancel()
			if err := <-done; err != nil {
				return err
			}
			return consoleErr
		},
	}
}

func (rt *runtime) serveAPI(ctx context.Context, d web.SnapshotSource) {
	if rt.cfg.Listen == "" {
		return
	}
	runInBackground(ctx, "status api", func(ctx context.Context) error {
		return web.StartServer(ctx, rt.cfg, d, rt.store)
	})
}

// setupCmd performs first-run setup: coverage analysis and VAPID keys.
func setupCmd() *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Analyze coursework coverage once and prepare push keys",
		Action: func(c *cli.Context) error {
			rt, err := openRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			if wp := rt.cfg.WebPush; wp != nil && (wp.VAPIDPublicKey == "" || wp.VAPIDPrivateKey == "") {
				pub, priv, err := notify.GenerateVAPIDKeys()
				if err != nil {
					return err
				}
				wp.VAPIDPublicKey, wp.VAPIDPrivateKey = pub, priv
				if err := rt.cfg.Save(rt.configPath); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "Generated VAPID keys. Public key:\n%s\n", pub)
			}

			d, err := rt.newDaemon(true)
			if err != nil {
				return err
			}
			if err := d.Bootstrap(c.Context); err != nil {
				return err
			}

			snap := d.Snapshot()
			total := 0
			for _, e := range snap.Curriculum {
				total += e.TotalHours
			}
			if snap.Coverage != nil {
				fmt.Fprintf(c.App.Writer, "Coverage analysis %s applied.\n", snap.Coverage.Version)
			} else {
				fmt.Fprintln(c.App.Writer, "No coverage analysis available.")
			}
			fmt.Fprintf(c.App.Writer, "Curriculum: %d skills, %d hours remaining.\n", len(snap.Curriculum), total)
			return nil
		},
	}
}

// planCmd generates and stores a plan for one day and prints it as JSON.
func planCmd() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Generate the study plan for a day and print it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Aliases: []string{"d"}, Usage: "Day to plan (YYYY-MM-DD, default today)"},
		},
		Action: func(c *cli.Context) error {
			rt, err := openRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			day, err := parseDay(c.String("date"), rt.loc)
			if err != nil {
				return apperrors.NewFieldParseFailure("date", c.String("date"))
			}
			if rt.cfg.LLM.APIKey() == "" {
				return apperrors.NewInvalidConfig(fmt.Sprintf("environment variable %s is not set", rt.cfg.LLM.APIKeyEnv))
			}

			d, err := rt.newDaemon(true)
			if err != nil {
				return err
			}
			if err := d.Restore(c.Context); err != nil {
				return err
			}
			plan, err := d.PlanFor(c.Context, day)
			if err != nil {
				return err
			}
			return outputJSON(c.App.Writer, plan)
		},
	}
}

// eventsCmd lists events and study availability for one or more days.
func eventsCmd() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "List calendar events and available study hours",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Aliases: []string{"d"}, Usage: "First day (YYYY-MM-DD, default today)"},
			&cli.IntFlag{Name: "days", Value: 1, Usage: "Number of days (1..31)"},
		},
		Action: func(c *cli.Context) error {
			rt, err := openRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			day, err := parseDay(c.String("date"), rt.loc)
			if err != nil {
				return apperrors.NewFieldParseFailure("date", c.String("date"))
			}
			days := c.Int("days")
			if days <= 0 || days > 31 {
				days = 1
			}

			w := c.App.Writer
			for i := 0; i < days; i++ {
				a := availability.Availability(rt.events, day.AddDate(0, 0, i), rt.policy())
				fmt.Fprintf(w, "%s  blocked %.1fh, study %.1fh\n", a.Date.Format("Mon 2006-01-02"), a.BlockedHours, a.EffectiveStudyHours)
				for _, ev := range a.Events {
					end := "?"
					if ev.HasEnd() {
						end = ev.End.Format(model.ClockLayout)
					}
					fmt.Fprintf(w, "  %s - %s  %s\n", ev.Start.Format(model.ClockLayout), end, ev.Title)
				}
			}
			return nil
		},
	}
}

// exportCmd writes a stored plan as an ICS calendar.
func exportCmd() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export a stored plan as an iCalendar file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Aliases: []string{"d"}, Usage: "Plan day (YYYY-MM-DD, default today)"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default stdout)"},
		},
		Action: func(c *cli.Context) error {
			rt, err := openRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			day, err := parseDay(c.String("date"), rt.loc)
			if err != nil {
				return apperrors.NewFieldParseFailure("date", c.String("date"))
			}
			date := model.DateKey(day)

			plan, ok, err := rt.store.LoadPlan(c.Context, date)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no stored plan for %s", date)
			}

			path := c.String("out")
			if path == "" {
				return export.Write(c.App.Writer, plan, day)
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := export.Write(f, plan, day); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			appLog.Info("plan exported", "date", date, "path", path, "sessions", len(plan.Schedule))
			return nil
		},
	}
}

// autostartCmd registers the daemon to start at login.
func autostartCmd() *cli.Command {
	return &cli.Command{
		Name:  "autostart",
		Usage: "Start the daemon at login",
		Subcommands: []*cli.Command{
			{
				Name:  "enable",
				Usage: "Register the daemon to start at login",
				Action: func(c *cli.Context) error {
					app, err := autostartApp(c.String("config"))
					if err != nil {
						return err
					}
					if app.IsEnabled() {
						fmt.Fprintln(c.App.Writer, "Autostart already enabled")
						return nil
					}
					if err := app.Enable(); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "Autostart enabled")
					return nil
				},
			},
			{
				Name:  "disable",
				Usage: "Stop starting the daemon at login",
				Action: func(c *cli.Context) error {
					app, err := autostartApp(c.String("config"))
					if err != nil {
						return err
					}
					if !app.IsEnabled() {
						fmt.Fprintln(c.App.Writer, "Autostart already disabled")
						return nil
					}
					if err := app.Disable(); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "Autostart disabled")
					return nil
				},
			},
			{
				Name:  "status",
				Usage: "Show whether autostart is enabled",
				Action: func(c *cli.Context) error {
					app, err := autostartApp(c.String("config"))
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Autostart enabled: %t\n", app.IsEnabled())
					return nil
				},
			},
		},
	}
}

func autostartApp(configPath string) (*autostart.App, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	// Resolve symlinks if any
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return nil, err
	}
	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		return nil, err
	}
	return &autostart.App{
		Name:        "studycal",
		DisplayName: "Study Calendar",
		Exec:        []string{execPath, "--config", absConfig, "daemon"},
	}, nil
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
