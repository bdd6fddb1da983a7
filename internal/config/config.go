// Package config loads steward's settings from steward.yaml with
// STEWARD_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	// VaultPath is the root of the markdown vault.
	VaultPath string `mapstructure:"vault_path"`
	// IndexPath is the SQLite index file. Defaults to .steward/index.db
	// inside the vault.
	IndexPath string `mapstructure:"index_path"`
	// Timezone for schedules, IANA name.
	Timezone string `mapstructure:"timezone"`

	Calendar  CalendarConfig  `mapstructure:"calendar"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Assist    AssistConfig    `mapstructure:"assist"`
	Session   SessionConfig   `mapstructure:"session"`
	Log       LogConfig       `mapstructure:"log"`
}

// CalendarConfig configures time blocking. The calendar file lives
// alongside the index; an empty File with Enabled set defaults to
// .steward/calendar.json inside the vault.
type CalendarConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file"`
}

// DashboardConfig configures the local web surface.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// MirrorConfig configures the git mirror.
type MirrorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Remote   string        `mapstructure:"remote"`
	Branch   string        `mapstructure:"branch"`
	Interval time.Duration `mapstructure:"interval"`
}

// NotifyConfig configures ntfy delivery.
type NotifyConfig struct {
	ServerURL   string `mapstructure:"server_url"`
	Topic       string `mapstructure:"topic"`
	AccessToken string `mapstructure:"access_token"`
}

// ScheduleConfig configures the recurring notifications.
type ScheduleConfig struct {
	MorningCheckin  string        `mapstructure:"morning_checkin"`
	EveningReview   string        `mapstructure:"evening_review"`
	CheckinInterval time.Duration `mapstructure:"checkin_interval"`
	WorkStartHour   int           `mapstructure:"work_start_hour"`
	WorkEndHour     int           `mapstructure:"work_end_hour"`
	// EscalationDelays are the reminder waits: one per escalation step
	// (default→high, high→urgent) plus the final wait before an
	// unacknowledged notification lapses.
	EscalationDelays []time.Duration `mapstructure:"escalation_delays"`
}

// AssistConfig configures the language model client.
type AssistConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// SessionConfig bounds conversational sessions.
type SessionConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	MaxAge         time.Duration `mapstructure:"max_age"`
	MessageCeiling int           `mapstructure:"message_ceiling"`
}

// LogConfig configures file logging.
type LogConfig struct {
	// File is the log file path; empty means stderr only.
	File string `mapstructure:"file"`
	// MaxSizeMB rotates the file when it grows past this.
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		VaultPath: filepath.Join(home, "vault"),
		Timezone:  "Local",
		Dashboard: DashboardConfig{Enabled: true, Port: 8765},
		Mirror:    MirrorConfig{Remote: "origin", Branch: "main", Interval: 5 * time.Minute},
		Notify:    NotifyConfig{ServerURL: "https://ntfy.sh"},
		Schedule: ScheduleConfig{
			MorningCheckin:  "07:00",
			EveningReview:   "21:30",
			CheckinInterval:  2 * time.Hour,
			WorkStartHour:    9,
			WorkEndHour:      17,
			EscalationDelays: []time.Duration{5 * time.Minute, 10 * time.Minute, 15 * time.Minute},
		},
		Assist: AssistConfig{Model: "claude-haiku-4-5-20251001"},
		Session: SessionConfig{
			TTL:            30 * time.Minute,
			MaxAge:         2 * time.Hour,
			MessageCeiling: 5,
		},
		Log: LogConfig{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 30},
	}
}

// Load reads steward.yaml from path (a file, or a directory containing
// it; empty checks the working directory then ~/.config/steward) and
// applies STEWARD_* environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("steward")
	v.SetConfigType("yaml")

	explicitFile := false
	switch {
	case path == "":
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "steward"))
		}
	case isDir(path):
		v.AddConfigPath(path)
	default:
		v.SetConfigFile(path)
		explicitFile = true
	}

	v.SetEnvPrefix("STEWARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	// A search path without steward.yaml just means defaults; only a
	// file named outright must exist.
	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if explicitFile || !notFound {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(cfg.VaultPath, ".steward", "index.db")
	}
	if cfg.Calendar.Enabled && cfg.Calendar.File == "" {
		cfg.Calendar.File = filepath.Join(cfg.VaultPath, ".steward", "calendar.json")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.VaultPath == "" {
		return fmt.Errorf("vault_path cannot be empty")
	}
	if c.Timezone != "" && c.Timezone != "Local" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	for name, hhmm := range map[string]string{
		"morning_checkin": c.Schedule.MorningCheckin,
		"evening_review":  c.Schedule.EveningReview,
	} {
		if _, err := time.Parse("15:04", hhmm); err != nil {
			return fmt.Errorf("invalid %s time %q: %w", name, hhmm, err)
		}
	}
	if c.Schedule.WorkStartHour < 0 || c.Schedule.WorkEndHour > 23 ||
		c.Schedule.WorkStartHour >= c.Schedule.WorkEndHour {
		return fmt.Errorf("invalid work hours %d-%d", c.Schedule.WorkStartHour, c.Schedule.WorkEndHour)
	}
	if n := len(c.Schedule.EscalationDelays); n != 0 && n != 3 {
		return fmt.Errorf("escalation_delays needs 3 entries (two reminder waits plus the lapse wait), got %d", n)
	}
	if c.Session.MessageCeiling < 1 {
		return fmt.Errorf("message_ceiling must be at least 1")
	}
	if c.Mirror.Enabled && c.Mirror.Remote == "" {
		return fmt.Errorf("mirror.remote cannot be empty when the mirror is enabled")
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("vault_path", d.VaultPath)
	v.SetDefault("timezone", d.Timezone)
	v.SetDefault("calendar.enabled", d.Calendar.Enabled)
	v.SetDefault("calendar.file", d.Calendar.File)
	v.SetDefault("dashboard.enabled", d.Dashboard.Enabled)
	v.SetDefault("dashboard.port", d.Dashboard.Port)
	v.SetDefault("mirror.enabled", d.Mirror.Enabled)
	v.SetDefault("mirror.remote", d.Mirror.Remote)
	v.SetDefault("mirror.branch", d.Mirror.Branch)
	v.SetDefault("mirror.interval", d.Mirror.Interval)
	v.SetDefault("notify.server_url", d.Notify.ServerURL)
	v.SetDefault("notify.topic", d.Notify.Topic)
	v.SetDefault("notify.access_token", d.Notify.AccessToken)
	v.SetDefault("schedule.morning_checkin", d.Schedule.MorningCheckin)
	v.SetDefault("schedule.evening_review", d.Schedule.EveningReview)
	v.SetDefault("schedule.checkin_interval", d.Schedule.CheckinInterval)
	v.SetDefault("schedule.work_start_hour", d.Schedule.WorkStartHour)
	v.SetDefault("schedule.work_end_hour", d.Schedule.WorkEndHour)
	v.SetDefault("schedule.escalation_delays", d.Schedule.EscalationDelays)
	v.SetDefault("assist.api_key", d.Assist.APIKey)
	v.SetDefault("assist.model", d.Assist.Model)
	v.SetDefault("session.ttl", d.Session.TTL)
	v.SetDefault("session.max_age", d.Session.MaxAge)
	v.SetDefault("session.message_ceiling", d.Session.MessageCeiling)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
