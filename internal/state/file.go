package state

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "audiocast/pkg/logx"
)

// fileStore keeps all run states in one JSON snapshot. Every Put rewrites
// the snapshot through a temp file + rename so a crash mid-write can never
// leave a truncated state file behind.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	states map[string]RunState
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Load(ctx context.Context) (map[string]RunState, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make(map[string]RunState)
	b, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// first run
	case err != nil:
		s.log.Warn("state file unreadable; starting empty", logx.String("path", s.path), logx.Err(err))
	default:
		if err := json.Unmarshal(b, &states); err != nil {
			s.log.Warn("state file corrupt; starting empty", logx.String("path", s.path), logx.Err(err))
			states = make(map[string]RunState)
		}
	}
	s.states = states

	out := make(map[string]RunState, len(states))
	for k, v := range states {
		out[k] = v
	}
	return out, nil
}

func (s *fileStore) Put(ctx context.Context, st RunState) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.states == nil {
		s.states = make(map[string]RunState)
	}
	s.states[st.DestinationID] = st
	return s.writeLocked()
}

func (s *fileStore) writeLocked() error {
	b, err := json.MarshalIndent(s.states, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Close() error { return nil }
