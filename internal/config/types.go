package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// DataDir is the root for schedule files and audio sources.
	// Schedule row paths resolve as DataDir/<path>/<track name>.
	DataDir string `json:"data_dir"`

	// Timezone is the default IANA zone for destinations that don't set their own.
	Timezone string `json:"timezone,omitempty"`

	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Cache     CacheConfig     `json:"cache"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Dispatch  DispatchConfig  `json:"dispatch,omitempty"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`

	Destinations []Destination `json:"destinations"`
}

// Destination is one configured delivery target: a bot token plus a chat,
// fired once a day at TriggerTime in its zone.
type Destination struct {
	ID      string `json:"id"`
	Token   string `json:"token"`
	ChatID  string `json:"chat_id"`
	Enabled bool   `json:"enabled"`

	// TriggerTime is 24-hour "HH:MM" local to Timezone. Default "09:00".
	TriggerTime string `json:"trigger_time,omitempty"`

	// Timezone is an IANA zone name. Empty means the global default.
	Timezone string `json:"timezone,omitempty"`

	// Schedules pins an ordered subset of schedule files (by name, relative
	// to DataDir). Empty means all schedule*.csv files in lexical order.
	Schedules []string `json:"schedules,omitempty"`

	CreatedAt string `json:"created_at,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// StorageConfig controls the run-state persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./audiocast.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// CacheConfig controls the audio conversion cache.
//
// All durations are Go duration strings (e.g. "30s", "5m").
type CacheConfig struct {
	Dir        string `json:"dir,omitempty"`         // default: <data_dir>/.audio_cache
	FFmpegPath string `json:"ffmpeg_path,omitempty"` // default: "ffmpeg" from PATH
	Bitrate    string `json:"bitrate,omitempty"`     // default: "128k"
	Timeout    string `json:"timeout,omitempty"`     // per-transcode; default: "5m"
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
}

// DispatchConfig controls delivery pacing.
type DispatchConfig struct {
	// RatePerSec caps voice sends per destination per second. Default 1.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// SendTimeout is the per-send API timeout. Default "30s".
	SendTimeout string `json:"send_timeout,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// Validate checks the parts of the config the engine cannot run without.
// It is also installed as the watcher's pre-publish validator.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone: unknown zone %q", tz)
		}
	}
	seen := make(map[string]struct{}, len(c.Destinations))
	for i, d := range c.Destinations {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return fmt.Errorf("destinations[%d]: id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("destinations[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(d.Token) == "" {
			return fmt.Errorf("destination %q: token is required", id)
		}
		if strings.TrimSpace(d.ChatID) == "" {
			return fmt.Errorf("destination %q: chat_id is required", id)
		}
		if _, _, err := ParseHHMM(d.EffectiveTriggerTime()); err != nil {
			return fmt.Errorf("destination %q: trigger_time: %w", id, err)
		}
		if tz := strings.TrimSpace(d.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("destination %q: unknown timezone %q", id, tz)
			}
		}
	}
	return nil
}

// EffectiveTriggerTime returns the configured trigger time or the default.
func (d Destination) EffectiveTriggerTime() string {
	if strings.TrimSpace(d.TriggerTime) == "" {
		return "09:00"
	}
	return strings.TrimSpace(d.TriggerTime)
}

// EffectiveTimezone resolves the destination zone against the global default.
// Empty everywhere means UTC.
func (d Destination) EffectiveTimezone(global string) string {
	if tz := strings.TrimSpace(d.Timezone); tz != "" {
		return tz
	}
	if tz := strings.TrimSpace(global); tz != "" {
		return tz
	}
	return "UTC"
}

// ParseHHMM parses a 24-hour "HH:MM" wall-clock time.
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
