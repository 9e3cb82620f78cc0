package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	appLog "ttagenda/internal/log"
	"ttagenda/internal/model"
	"ttagenda/internal/schedule"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the admin API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// StoreConfig selects the repository implementation.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "memory".
	Driver string `yaml:"driver" json:"driver"`
	// Path is the SQLite database file.
	Path string `yaml:"path" json:"path"`
	// Seed is an optional YAML seed applied on start.
	Seed string `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// LogConfig controls the level and optional rotating file output.
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// UpcomingConfig bounds the upcoming-sessions list.
type UpcomingConfig struct {
	Limit       int `yaml:"limit" json:"limit"`
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
}

// CaptureConfig drives the periodic headless screenshot of the live board.
type CaptureConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	URL     string `yaml:"url" json:"url"`
	Output  string `yaml:"output" json:"output"`
	// Refresh is a cron-style schedule string.
	Refresh string `yaml:"refresh" json:"refresh"`
	Width   int    `yaml:"width" json:"width"`
	Height  int    `yaml:"height" json:"height"`
}

// KindConfig declares the behavior of one activity kind.
type KindConfig struct {
	// Layout is "team", "individual" or "group".
	Layout     string `yaml:"layout" json:"layout"`
	PreSession bool   `yaml:"pre_session" json:"pre_session"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the board and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone sessions are scheduled in (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a robfig/cron schedule for the live snapshot refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// SendTimeoutSeconds bounds a single push to one live subscriber.
	SendTimeoutSeconds int `yaml:"send_timeout_seconds" json:"send_timeout_seconds"`

	// WSToken, if set, is required on live channel connections.
	WSToken string `yaml:"ws_token,omitempty" json:"-"`

	// Positions is the full list of position codes a team activity covers.
	Positions []string `yaml:"positions" json:"positions"`

	// ActivityKinds adds to or overrides the built-in kinds.
	ActivityKinds map[string]KindConfig `yaml:"activity_kinds,omitempty" json:"activity_kinds,omitempty"`

	Store    StoreConfig    `yaml:"store" json:"store"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Upcoming UpcomingConfig `yaml:"upcoming" json:"upcoming"`
	Capture  CaptureConfig  `yaml:"capture" json:"capture"`

	// BasicAuth, if non-nil, protects mutating endpoints.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"-"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:             "127.0.0.1:8080",
		Timezone:           "Europe/Berlin",
		RefreshCron:        "@every 30s",
		SendTimeoutSeconds: 5,
		Positions:          append([]string(nil), schedule.DefaultPositions...),
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "/var/lib/ttagenda/agenda.db",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Upcoming: UpcomingConfig{Limit: 3, HorizonDays: 14},
		Capture: CaptureConfig{
			URL:     "http://127.0.0.1:8080/",
			Output:  "/var/lib/ttagenda/board.png",
			Refresh: "*/5 * * * *",
			Width:   1280,
			Height:  720,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.SendTimeoutSeconds <= 0 {
		c.SendTimeoutSeconds = def.SendTimeoutSeconds
	}
	if len(c.Positions) == 0 {
		c.Positions = def.Positions
	}

	switch c.Store.Driver {
	case "sqlite", "memory":
	case "":
		c.Store.Driver = "sqlite"
	default:
		appLog.Warn("config: unknown store driver, using sqlite", "driver", c.Store.Driver)
		c.Store.Driver = "sqlite"
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = def.Log.MaxSizeMB
	}

	if c.Upcoming.Limit <= 0 {
		c.Upcoming.Limit = def.Upcoming.Limit
	}
	if c.Upcoming.HorizonDays <= 0 {
		c.Upcoming.HorizonDays = def.Upcoming.HorizonDays
	}

	if c.Capture.URL == "" {
		c.Capture.URL = def.Capture.URL
	}
	if c.Capture.Output == "" {
		c.Capture.Output = def.Capture.Output
	}
	if c.Capture.Refresh == "" {
		c.Capture.Refresh = def.Capture.Refresh
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = def.Capture.Width
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = def.Capture.Height
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SendTimeout returns SendTimeoutSeconds as a duration.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// Kinds returns the built-in kind table with configured kinds merged over it.
func (c *Config) Kinds() (model.KindTable, error) {
	extra := make(model.KindTable, len(c.ActivityKinds))
	for name, kc := range c.ActivityKinds {
		layout, err := model.ParseLayout(kc.Layout)
		if err != nil {
			return nil, fmt.Errorf("activity_kinds.%s: %w", name, err)
		}
		extra[model.ActivityKind(name)] = model.Behavior{Layout: layout, PreSession: kc.PreSession}
	}
	return model.DefaultKinds().With(extra), nil
}

// envOverrides maps environment variables onto config fields.
var envOverrides = []struct {
	key   string
	apply func(*Config, string)
}{
	{"TTAGENDA_LISTEN", func(c *Config, v string) { c.Listen = v }},
	{"TTAGENDA_TIMEZONE", func(c *Config, v string) { c.Timezone = v }},
	{"TTAGENDA_WS_TOKEN", func(c *Config, v string) { c.WSToken = v }},
	{"TTAGENDA_DB_PATH", func(c *Config, v string) { c.Store.Path = v }},
	{"TTAGENDA_LOG_LEVEL", func(c *Config, v string) { c.Log.Level = v }},
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process
// environment without overwriting variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from TTAGENDA_* environment variables.
func (c *Config) ApplyEnv() {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.key); ok && strings.TrimSpace(v) != "" {
			o.apply(c, strings.TrimSpace(v))
		}
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
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
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
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

	tmp, err := os.CreateTemp(dir, ".ttagenda-config-*.tmp")
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
