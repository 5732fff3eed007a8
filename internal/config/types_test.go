package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		DataDir:  "/data",
		Timezone: "Asia/Jakarta",
		Destinations: []Destination{
			{ID: "morning", Token: "123:abc", ChatID: "-100200300", Enabled: true, TriggerTime: "09:00"},
		},
	}
}

func TestValidateOK(t *testing.T) {
	t.Parallel()
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"missing data_dir", func(c *Config) { c.DataDir = " " }, "data_dir"},
		{"bad global zone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"missing id", func(c *Config) { c.Destinations[0].ID = "" }, "id is required"},
		{"missing token", func(c *Config) { c.Destinations[0].Token = "" }, "token"},
		{"missing chat", func(c *Config) { c.Destinations[0].ChatID = "" }, "chat_id"},
		{"bad trigger time", func(c *Config) { c.Destinations[0].TriggerTime = "9am" }, "trigger_time"},
		{"bad dest zone", func(c *Config) { c.Destinations[0].Timezone = "Nowhere" }, "timezone"},
		{"duplicate id", func(c *Config) {
			c.Destinations = append(c.Destinations, c.Destinations[0])
		}, "duplicate"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantSub)
			}
		})
	}
}

func TestEffectiveTriggerTime(t *testing.T) {
	t.Parallel()
	if got := (Destination{}).EffectiveTriggerTime(); got != "09:00" {
		t.Fatalf("default = %q, want 09:00", got)
	}
	if got := (Destination{TriggerTime: " 18:30 "}).EffectiveTriggerTime(); got != "18:30" {
		t.Fatalf("got %q", got)
	}
}

func TestEffectiveTimezone(t *testing.T) {
	t.Parallel()
	if got := (Destination{Timezone: "Europe/Berlin"}).EffectiveTimezone("Asia/Jakarta"); got != "Europe/Berlin" {
		t.Fatalf("got %q", got)
	}
	if got := (Destination{}).EffectiveTimezone("Asia/Jakarta"); got != "Asia/Jakarta" {
		t.Fatalf("got %q", got)
	}
	if got := (Destination{}).EffectiveTimezone(""); got != "UTC" {
		t.Fatalf("got %q", got)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := ParseHHMM("23:15")
	if err != nil {
		t.Fatalf("ParseHHMM error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}

	for _, bad := range []string{"24:00", "10:60", "1000", "", "aa:bb"} {
		if _, _, err := ParseHHMM(bad); err == nil {
			t.Fatalf("ParseHHMM(%q) expected error", bad)
		}
	}
}
