package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Point at an empty directory so no real config file leaks in.
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Dashboard.Port != 8765 {
		t.Errorf("Port = %d, want 8765", cfg.Dashboard.Port)
	}
	if cfg.Session.MessageCeiling != 5 {
		t.Errorf("MessageCeiling = %d, want 5", cfg.Session.MessageCeiling)
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Errorf("TTL = %v, want 30m", cfg.Session.TTL)
	}
	if cfg.Notify.ServerURL != "https://ntfy.sh" {
		t.Errorf("ServerURL = %q", cfg.Notify.ServerURL)
	}
	if cfg.IndexPath != filepath.Join(cfg.VaultPath, ".steward", "index.db") {
		t.Errorf("IndexPath = %q", cfg.IndexPath)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	content := `vault_path: /srv/vault
timezone: UTC
dashboard:
  port: 9000
session:
  message_ceiling: 3
  ttl: 10m
schedule:
  morning_checkin: "06:30"
`
	if err := os.WriteFile(filepath.Join(dir, "steward.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.VaultPath != "/srv/vault" {
		t.Errorf("VaultPath = %q", cfg.VaultPath)
	}
	if cfg.Dashboard.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Dashboard.Port)
	}
	if cfg.Session.MessageCeiling != 3 || cfg.Session.TTL != 10*time.Minute {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Schedule.MorningCheckin != "06:30" {
		t.Errorf("MorningCheckin = %q", cfg.Schedule.MorningCheckin)
	}
	// Untouched keys keep their defaults.
	if cfg.Schedule.EveningReview != "21:30" {
		t.Errorf("EveningReview = %q, want default", cfg.Schedule.EveningReview)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STEWARD_DASHBOARD_PORT", "7777")
	t.Setenv("STEWARD_NOTIFY_TOPIC", "my-topic")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Dashboard.Port != 7777 {
		t.Errorf("Port = %d, want env override 7777", cfg.Dashboard.Port)
	}
	if cfg.Notify.Topic != "my-topic" {
		t.Errorf("Topic = %q", cfg.Notify.Topic)
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() succeeded on a missing explicit path")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"empty vault", func(c *Config) { c.VaultPath = "" }, false},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, false},
		{"bad checkin time", func(c *Config) { c.Schedule.MorningCheckin = "7am" }, false},
		{"inverted work hours", func(c *Config) { c.Schedule.WorkStartHour = 18; c.Schedule.WorkEndHour = 9 }, false},
		{"zero ceiling", func(c *Config) { c.Session.MessageCeiling = 0 }, false},
		{"short escalation ladder", func(c *Config) {
			c.Schedule.EscalationDelays = []time.Duration{5 * time.Minute, 10 * time.Minute}
		}, false},
		{"no escalation override", func(c *Config) { c.Schedule.EscalationDelays = nil }, true},
		{"mirror without remote", func(c *Config) { c.Mirror.Enabled = true; c.Mirror.Remote = "" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("Validate() failed: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("Validate() passed, want error")
			}
		})
	}
}

func TestLocation(t *testing.T) {
	cfg := Default()
	cfg.Timezone = "UTC"
	if cfg.Location() != time.UTC {
		t.Errorf("Location() = %v, want UTC", cfg.Location())
	}
	cfg.Timezone = "Local"
	if cfg.Location() != time.Local {
		t.Errorf("Location() = %v, want Local", cfg.Location())
	}
}
