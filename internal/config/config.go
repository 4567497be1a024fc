package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"sectograph/internal/dial"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	DefaultListen      = "127.0.0.1:8080"
	DefaultTimezone    = "Local"
	DefaultTickSeconds = 10
	DefaultCacheDir    = "./var/ics-cache"
)

// Entity describes a single calendar source.
//
// In YAML it is either a bare string, which names a Home Assistant calendar
// entity, or a mapping with an ICS URL:
//
//	entities:
//	  - calendar.family
//	  - id: work
//	    name: Work
//	    url: https://example.com/work.ics
type Entity struct {
	// ID is the Home Assistant entity_id, or an internal identifier for ICS
	// sources used for logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// URL, when set, makes this an ICS subscription.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
}

// IsICS reports whether the entity is served by an ICS feed.
func (e Entity) IsICS() bool { return e.URL != "" }

// Key identifies the entity in logs and results.
func (e Entity) Key() string {
	switch {
	case e.ID != "":
		return e.ID
	case e.Name != "":
		return e.Name
	default:
		return e.URL
	}
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (e *Entity) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.ID = node.Value
		return nil
	}
	type plain Entity
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*e = Entity(p)
	return nil
}

// MarshalYAML writes plain Home Assistant entities back in scalar form.
func (e Entity) MarshalYAML() (any, error) {
	if e.URL == "" && e.Name == "" {
		return e.ID, nil
	}
	type plain Entity
	return plain(e), nil
}

// HomeAssistantConfig holds the websocket API endpoint and a long-lived
// access token.
type HomeAssistantConfig struct {
	// URL is the Home Assistant base URL, e.g. "http://homeassistant.local:8123".
	URL   string `yaml:"url" json:"url"`
	Token string `yaml:"token" json:"-"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the dial page and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone the dial is drawn in. "Local" uses the
	// host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Entities is the list of calendar sources. Required.
	Entities []Entity `yaml:"entities" json:"entities"`

	// HideFullDayEvents drops full-day events instead of showing badges.
	HideFullDayEvents bool `yaml:"hide_full_day_events" json:"hide_full_day_events"`

	// FullDayEncoding selects how all-day events are recognized:
	//   - "timestamp" (default): 24h or longer
	//   - "wallclock": 00:00:00 on one date to 23:59:00 on a later date
	FullDayEncoding string `yaml:"full_day_encoding" json:"full_day_encoding"`

	// ClockLabel selects the weekday style of the centre readout:
	// "short" (default) or "letter".
	ClockLabel string `yaml:"clock_label" json:"clock_label"`

	// TickSeconds is the period of the clock refresh.
	TickSeconds int `yaml:"tick_seconds" json:"tick_seconds"`

	// ReloadCron, if set, is a cron schedule (e.g. "5 0 * * *") on which
	// events are refetched and the day window recomputed. Empty means events
	// are fetched once per session and only reloaded on request.
	ReloadCron string `yaml:"reload_cron,omitempty" json:"reload_cron,omitempty"`

	// CacheDir is where ICS bodies and HTTP cache metadata are stored.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// HomeAssistant is required when any entity is not an ICS URL.
	HomeAssistant *HomeAssistantConfig `yaml:"home_assistant,omitempty" json:"home_assistant,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// ConfigurationError reports a configuration that cannot be used. It is
// fatal: the dial never starts with one.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          DefaultListen,
		Timezone:        DefaultTimezone,
		Entities:        []Entity{},
		FullDayEncoding: string(dial.EncodingTimestamp),
		ClockLabel:      string(dial.LabelShort),
		TickSeconds:     DefaultTickSeconds,
		CacheDir:        DefaultCacheDir,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.FullDayEncoding == "" {
		c.FullDayEncoding = string(dial.EncodingTimestamp)
	}
	if c.ClockLabel == "" {
		c.ClockLabel = string(dial.LabelShort)
	}
	if c.TickSeconds <= 0 {
		c.TickSeconds = DefaultTickSeconds
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.Entities == nil {
		c.Entities = []Entity{}
	}
}

// Validate returns a *ConfigurationError describing the first problem found.
func Validate(c *Config) error {
	if c == nil {
		return &ConfigurationError{Field: "config", Reason: "is nil"}
	}
	if len(c.Entities) == 0 {
		return &ConfigurationError{Field: "entities", Reason: "you need to define entities"}
	}

	needsHass := false
	for i, e := range c.Entities {
		if e.Key() == "" {
			return &ConfigurationError{Field: fmt.Sprintf("entities[%d]", i), Reason: "id or url is required"}
		}
		if !e.IsICS() {
			needsHass = true
		}
	}
	if needsHass && (c.HomeAssistant == nil || c.HomeAssistant.URL == "" || c.HomeAssistant.Token == "") {
		return &ConfigurationError{Field: "home_assistant", Reason: "url and token are required for calendar entities"}
	}

	if _, err := dial.ParseEncoding(c.FullDayEncoding); err != nil {
		return &ConfigurationError{Field: "full_day_encoding", Reason: err.Error()}
	}
	if _, err := dial.ParseLabelStyle(c.ClockLabel); err != nil {
		return &ConfigurationError{Field: "clock_label", Reason: err.Error()}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return &ConfigurationError{Field: "timezone", Reason: err.Error()}
	}
	if c.ReloadCron != "" {
		if _, err := cron.ParseStandard(c.ReloadCron); err != nil {
			return &ConfigurationError{Field: "reload_cron", Reason: err.Error()}
		}
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Strategy returns the classifier strategy for FullDayEncoding.
func (c *Config) Strategy() dial.Strategy {
	enc, err := dial.ParseEncoding(c.FullDayEncoding)
	if err != nil {
		enc = dial.EncodingTimestamp
	}
	return dial.StrategyFor(enc)
}

// LabelStyle returns the parsed ClockLabel.
func (c *Config) LabelStyle() dial.LabelStyle {
	s, err := dial.ParseLabelStyle(c.ClockLabel)
	if err != nil {
		return dial.LabelShort
	}
	return s
}

// Tick returns the clock refresh period.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config together with the validation error, since
//     the default has no entities
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
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
			return cfg, Validate(cfg)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	if err := Validate(&cfg); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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

	tmp, err := os.CreateTemp(dir, ".sectograph-config-*.tmp")
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
