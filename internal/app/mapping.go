package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"audiocast/internal/config"
	"audiocast/internal/dispatch"
	"audiocast/internal/observability/pprof"
	"audiocast/internal/state"
	"audiocast/internal/transport/telegram"
	logx "audiocast/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    cfg.Logging.File.Enabled,
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAgeDays: cfg.Logging.File.MaxAgeDays,
		},
	}
}

func mapStateConfig(cfg *config.Config) (state.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = filepath.Join(cfg.DataDir, "audiocast_state.db")
		if driver == "file" {
			path = filepath.Join(cfg.DataDir, "audiocast_state.json")
		}
	}
	switch driver {
	case "", "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return state.Config{}, err
		}
		return state.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "file":
		return state.Config{Driver: "file", Path: path}, nil
	default:
		return state.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSenderConfig(cfg *config.Config) (telegram.Config, error) {
	sendTimeout, err := config.ParseDurationOrDefault("dispatch.send_timeout", cfg.Dispatch.SendTimeout, 30*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{SendTimeout: sendTimeout}, nil
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{RatePerSec: cfg.Dispatch.RatePerSec}
}

func mapCacheDir(cfg *config.Config) string {
	if dir := strings.TrimSpace(cfg.Cache.Dir); dir != "" {
		return dir
	}
	return filepath.Join(cfg.DataDir, ".audio_cache")
}

func mapTranscodeTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("cache.timeout", cfg.Cache.Timeout, 5*time.Minute)
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	return pprof.Config{
		Enabled:       cfg.Pprof.Enabled,
		Addr:          cfg.Pprof.Addr,
		Token:         cfg.Pprof.Token,
		AllowInsecure: cfg.Pprof.AllowInsecure,
	}
}
