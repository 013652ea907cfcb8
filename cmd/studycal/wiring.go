package main

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"studycal/internal/availability"
	"studycal/internal/config"
	"studycal/internal/daemon"
	"studycal/internal/dispatch"
	"studycal/internal/ics"
	"studycal/internal/llm"
	appLog "studycal/internal/log"
	"studycal/internal/model"
	"studycal/internal/notify"
	"studycal/internal/store"
)

// runtime is everything a command needs after config has been loaded.
type runtime struct {
	configPath string
	cfg        *config.Config
	loc        *time.Location
	store      *store.Store
	events     []model.Event
}

// loadConfig reads and validates the config named by --config and applies the
// log level.
func loadConfig(c *cli.Context) (string, *config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return path, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return path, nil, err
	}

	level := cfg.LogLevel
	if l := c.String("log-level"); l != "" {
		level = l
	}
	appLog.SetLevel(appLog.ParseLevel(level))
	return path, cfg, nil
}

// openRuntime loads config, opens the store and reads the feed. The feed
// being unavailable is not an error; the day simply has no events.
func openRuntime(c *cli.Context) (*runtime, error) {
	path, cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	fetcher := ics.NewFetcher(filepath.Join(cfg.DataDir, "cache"))
	events, err := ics.Load(c.Context, cfg.Feed, fetcher, loc)
	if err != nil {
		appLog.Error("calendar feed unavailable; continuing without events", err, "feed", cfg.Feed)
	}
	appLog.Info("calendar loaded", "events", len(events), "timezone", loc.String())

	return &runtime{
		configPath: path,
		cfg:        cfg,
		loc:        loc,
		store:      st,
		events:     events,
	}, nil
}

func (rt *runtime) Close() {
	if err := rt.store.Close(); err != nil {
		appLog.Warn("closing store failed", "err", err)
	}
}

func (rt *runtime) policy() availability.Policy {
	return availability.Policy{
		WakeWindowHours: rt.cfg.WakeWindowHours,
		DailyWasteHours: rt.cfg.DailyWasteHours,
		FocusFactor:     rt.cfg.FocusFactor,
	}
}

func (rt *runtime) options() (daemon.Options, error) {
	hour, minute, err := rt.cfg.DailyClock()
	if err != nil {
		return daemon.Options{}, err
	}
	lead := rt.cfg.EventLead
	return daemon.Options{
		Location:          rt.loc,
		DailyHour:         hour,
		DailyMinute:       minute,
		PollSpec:          rt.cfg.Poll,
		IdleSleep:         rt.cfg.IdleSleep,
		GenerationTimeout: rt.cfg.GenerationTimeout,
		Policy:            rt.policy(),
		Lead: dispatch.LeadWindow{
			Min: time.Duration(lead.Min) * time.Minute,
			Max: time.Duration(lead.Max) * time.Minute,
		},
		NominalLead:   time.Duration(lead.Nominal) * time.Minute,
		SessionWindow: time.Duration(rt.cfg.SessionWindowMinutes) * time.Minute,
	}, nil
}

// llmClient returns nil when no API key is available.
func (rt *runtime) llmClient() *llm.Client {
	key := rt.cfg.LLM.APIKey()
	if key == "" {
		appLog.Warn("no LLM API key; plans cannot be generated", "env", rt.cfg.LLM.APIKeyEnv)
		return nil
	}
	return llm.NewClient(llm.Config{
		BaseURL:   rt.cfg.LLM.BaseURL,
		APIKey:    key,
		Model:     rt.cfg.LLM.Model,
		MaxTokens: rt.cfg.LLM.MaxTokens,
		Timeout:   rt.cfg.GenerationTimeout,
	})
}

// deliverer always logs; web push is added when configured.
func (rt *runtime) deliverer() notify.Deliverer {
	if !rt.cfg.WebPushEnabled() {
		return notify.Log{}
	}
	wp := rt.cfg.WebPush
	subs := make([]notify.Subscription, 0, len(wp.Subscriptions))
	for _, s := range wp.Subscriptions {
		subs = append(subs, notify.Subscription{Endpoint: s.Endpoint, P256dh: s.P256dh, Auth: s.Auth})
	}
	appLog.Info("web push enabled", "subscriptions", len(subs))
	return notify.Multi{
		notify.Log{},
		notify.NewWebPush(notify.WebPushConfig{
			VAPIDPublicKey:  wp.VAPIDPublicKey,
			VAPIDPrivateKey: wp.VAPIDPrivateKey,
			Subscriber:      wp.Subscriber,
			Subscriptions:   subs,
		}, nil),
	}
}

// newDaemon wires the daemon. withLLM false leaves generation and analysis
// unconfigured, which is what the read-only modes want.
func (rt *runtime) newDaemon(withLLM bool) (*daemon.Daemon, error) {
	opts, err := rt.options()
	if err != nil {
		return nil, err
	}

	deps := daemon.Deps{
		Events:      rt.events,
		Deliverer:   rt.deliverer(),
		Persistence: rt.store,
	}
	if strings.EqualFold(rt.cfg.NotifiedStore, "sqlite") {
		deps.Notified = rt.store.NewNotifiedSet(func() time.Time { return time.Now().In(rt.loc) })
	}
	if withLLM {
		if client := rt.llmClient(); client != nil {
			deps.Generator = client
			deps.Analyzer = client
		}
	}
	return daemon.New(opts, deps), nil
}

// parseDay resolves a YYYY-MM-DD flag value in loc; empty means today.
func parseDay(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Now().In(loc), nil
	}
	return time.ParseInLocation("2006-01-02", s, loc)
}

func runInBackground(ctx context.Context, name string, fn func(context.Context) error) <-chan error {
	errc := make(chan error, 1)
	go func() {
		err := fn(ctx)
		if err != nil {
			appLog.Error(name+" stopped", err)
		}
		errc <- err
	}()
	return errc
}
