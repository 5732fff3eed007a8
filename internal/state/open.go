package state

import (
	"context"
	"errors"
	"strings"

	logx "audiocast/pkg/logx"
)

// Store is the persistence API for per-destination run state.
//
// Load is called once at startup; after that the dispatcher's in-memory view
// is the source of truth and every mutation is flushed through Put before
// the delivery attempt returns.
type Store interface {
	Load(ctx context.Context) (map[string]RunState, error)
	Put(ctx context.Context, st RunState) error
	Close() error
}

// Open initializes the configured store. An empty driver defaults to sqlite.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
