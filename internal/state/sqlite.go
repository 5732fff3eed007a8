package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "audiocast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Load(ctx context.Context) (map[string]RunState, error) {
	states := make(map[string]RunState)

	rows, err := s.db.QueryContext(ctx,
		`SELECT destination_id, last_run_at, last_item_path, last_status, last_error, consecutive_failures
		 FROM run_state`)
	if err != nil {
		s.log.Warn("run state unreadable; starting empty", logx.Err(err))
		return states, nil
	}
	defer rows.Close()

	for rows.Next() {
		var (
			st      RunState
			runAt   sql.NullString
			item    sql.NullString
			status  sql.NullString
			lastErr sql.NullString
		)
		if err := rows.Scan(&st.DestinationID, &runAt, &item, &status, &lastErr, &st.ConsecutiveFailures); err != nil {
			s.log.Warn("run state row corrupt; skipping", logx.Err(err))
			continue
		}
		if runAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, runAt.String); err == nil {
				st.LastRunAt = t
			}
		}
		st.LastItemPath = item.String
		st.LastStatus = Status(status.String)
		if st.LastStatus == "" {
			st.LastStatus = StatusNone
		}
		st.LastError = lastErr.String
		states[st.DestinationID] = st
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("run state scan aborted", logx.Err(err))
	}
	return states, nil
}

func (s *sqliteStore) Put(ctx context.Context, st RunState) error {
	var runAt any
	if !st.LastRunAt.IsZero() {
		runAt = st.LastRunAt.Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_state(destination_id, last_run_at, last_item_path, last_status, last_error, consecutive_failures)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(destination_id) DO UPDATE SET
		   last_run_at=excluded.last_run_at,
		   last_item_path=excluded.last_item_path,
		   last_status=excluded.last_status,
		   last_error=excluded.last_error,
		   consecutive_failures=excluded.consecutive_failures`,
		st.DestinationID, runAt, nullStr(st.LastItemPath), string(st.LastStatus), nullStr(st.LastError), st.ConsecutiveFailures)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
