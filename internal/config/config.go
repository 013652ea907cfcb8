package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "studycal/internal/errors"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// LeadConfig is the reminder window before a calendar event, in minutes.
type LeadConfig struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
	// Nominal is the offset shown in the reminder text.
	Nominal int `yaml:"nominal" json:"nominal"`
}

// LLMConfig configures the plan generator and coverage analyzer.
type LLMConfig struct {
	Model   string `yaml:"model" json:"model"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKeyEnv names the environment variable holding the API key. The key
	// itself never lives in the config file.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	MaxTokens int    `yaml:"max_tokens" json:"max_tokens"`
}

// APIKey returns the key from the environment.
func (l LLMConfig) APIKey() string {
	return os.Getenv(l.APIKeyEnv)
}

// PushSubscription is a browser push subscription.
type PushSubscription struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	P256dh   string `yaml:"p256dh" json:"p256dh"`
	Auth     string `yaml:"auth" json:"auth"`
}

// WebPushConfig enables web push delivery when it has subscriptions.
type WebPushConfig struct {
	VAPIDPublicKey  string             `yaml:"vapid_public_key" json:"vapid_public_key"`
	VAPIDPrivateKey string             `yaml:"vapid_private_key" json:"-"`
	Subscriber      string             `yaml:"subscriber" json:"subscriber"`
	Subscriptions   []PushSubscription `yaml:"subscriptions" json:"subscriptions"`
}

// Config is the top-level application configuration.
type Config struct {
	// Feed is an ICS file path or an http(s) URL.
	Feed string `yaml:"feed" json:"feed"`

	// Timezone is the IANA zone used for all wall-clock decisions. "Local"
	// uses the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DataDir holds the database and the feed cache.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// DailyAt is the local "HH:MM" of the daily planning run.
	DailyAt string `yaml:"daily_at" json:"daily_at"`

	// Poll is a cron spec for notification checks (e.g. "@every 1m").
	Poll string `yaml:"poll" json:"poll"`

	// IdleSleep is the fallback poll interval. Capped at 30s.
	IdleSleep time.Duration `yaml:"idle_sleep" json:"idle_sleep"`

	GenerationTimeout time.Duration `yaml:"generation_timeout" json:"generation_timeout"`

	WakeWindowHours float64 `yaml:"wake_window_hours" json:"wake_window_hours"`
	DailyWasteHours float64 `yaml:"daily_waste_hours" json:"daily_waste_hours"`
	FocusFactor     float64 `yaml:"focus_factor" json:"focus_factor"`

	EventLead            LeadConfig `yaml:"event_lead_minutes" json:"event_lead_minutes"`
	SessionWindowMinutes int        `yaml:"session_window_minutes" json:"session_window_minutes"`

	// NotifiedStore is "memory" or "sqlite".
	NotifiedStore string `yaml:"notified_store" json:"notified_store"`

	// Listen is the status API address. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	LLM     LLMConfig      `yaml:"llm" json:"llm"`
	WebPush *WebPushConfig `yaml:"webpush,omitempty" json:"webpush,omitempty"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

const maxIdleSleep = 30 * time.Second

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Feed:                 "calendar.ics",
		Timezone:             "Local",
		DataDir:              "data",
		DailyAt:              "07:00",
		Poll:                 "@every 1m",
		IdleSleep:            maxIdleSleep,
		GenerationTimeout:    2 * time.Minute,
		WakeWindowHours:      17,
		DailyWasteHours:      2,
		FocusFactor:          0.83,
		EventLead:            LeadConfig{Min: 8, Max: 12, Nominal: 10},
		SessionWindowMinutes: 2,
		NotifiedStore:        "memory",
		Listen:               "127.0.0.1:8080",
		LLM: LLMConfig{
			Model:     "claude-sonnet-4-5-20250929",
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		LogLevel: "info",
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.DailyAt == "" {
		c.DailyAt = def.DailyAt
	}
	if c.Poll == "" {
		c.Poll = def.Poll
	}
	if c.IdleSleep <= 0 || c.IdleSleep > maxIdleSleep {
		c.IdleSleep = maxIdleSleep
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = def.GenerationTimeout
	}
	if c.WakeWindowHours <= 0 {
		c.WakeWindowHours = def.WakeWindowHours
	}
	if c.DailyWasteHours < 0 {
		c.DailyWasteHours = def.DailyWasteHours
	}
	if c.FocusFactor <= 0 || c.FocusFactor > 1 {
		c.FocusFactor = def.FocusFactor
	}
	if c.EventLead.Min <= 0 && c.EventLead.Max <= 0 {
		c.EventLead = def.EventLead
	}
	if c.EventLead.Nominal <= 0 {
		c.EventLead.Nominal = (c.EventLead.Min + c.EventLead.Max) / 2
	}
	if c.SessionWindowMinutes <= 0 {
		c.SessionWindowMinutes = def.SessionWindowMinutes
	}
	switch strings.ToLower(c.NotifiedStore) {
	case "memory", "sqlite":
		c.NotifiedStore = strings.ToLower(c.NotifiedStore)
	default:
		c.NotifiedStore = def.NotifiedStore
	}
	if c.LLM.Model == "" {
		c.LLM.Model = def.LLM.Model
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = def.LLM.APIKeyEnv
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Feed) == "" {
		return apperrors.NewInvalidConfig("feed is empty")
	}
	if _, err := c.Location(); err != nil {
		return apperrors.NewInvalidConfig(fmt.Sprintf("timezone %q: %v", c.Timezone, err))
	}
	if _, _, err := c.DailyClock(); err != nil {
		return apperrors.NewInvalidConfig(err.Error())
	}
	if c.EventLead.Min > c.EventLead.Max {
		return apperrors.NewInvalidConfig(fmt.Sprintf("event_lead_minutes: min %d > max %d", c.EventLead.Min, c.EventLead.Max))
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		return apperrors.NewInvalidConfig("basic_auth needs both username and password")
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// DailyClock parses DailyAt.
func (c *Config) DailyClock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.DailyAt))
	if err != nil {
		return 0, 0, fmt.Errorf("daily_at %q: want HH:MM", c.DailyAt)
	}
	return t.Hour(), t.Minute(), nil
}

// WebPushEnabled reports whether push delivery is usable.
func (c *Config) WebPushEnabled() bool {
	w := c.WebPush
	return w != nil && w.VAPIDPrivateKey != "" && w.VAPIDPublicKey != "" && len(w.Subscriptions) > 0
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperrors.NewInvalidConfig(fmt.Sprintf("parse %s: %v", path, err))
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".studycal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
