// Package trigger maintains one recurring timezone-aware daily trigger per
// enabled destination. Next-fire instants are computed by cron in the
// destination's own zone, so a DST transition shifts the UTC instant while
// the local wall-clock time stays put.
package trigger

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"audiocast/internal/config"
	logx "audiocast/pkg/logx"
)

// FireFunc runs one destination's daily cycle (resolve + dispatch). Errors
// are the runner's to capture into run state; the scheduler only logs.
type FireFunc func(ctx context.Context, dest config.Destination)

// Upcoming describes one scheduled fire.
type Upcoming struct {
	DestinationID string    `json:"destination_id"`
	At            time.Time `json:"at"`
	Spec          string    `json:"spec"`
}

type job struct {
	def   config.Destination
	spec  string
	entry cron.EntryID
}

type Service struct {
	log  logx.Logger
	fire FireFunc

	mu      sync.Mutex
	c       *cron.Cron
	jobs    map[string]job
	baseCtx context.Context
}

func New(fire FireFunc, log logx.Logger) *Service {
	return &Service{
		log:  log,
		fire: fire,
		jobs: make(map[string]job),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.baseCtx = ctx
	s.c = cron.New()

	// Re-register jobs surviving a restart cycle.
	for id, j := range s.jobs {
		entry, err := s.addLocked(j.def, j.spec)
		if err != nil {
			s.log.Error("job re-register failed", logx.String("dest", id), logx.Err(err))
			delete(s.jobs, id)
			continue
		}
		j.entry = entry
		s.jobs[id] = j
	}

	s.c.Start()
	s.log.Info("trigger scheduler started", logx.Int("jobs", len(s.jobs)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	stopCtx := s.c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.log.Warn("trigger stop cancelled; jobs may still be running")
	}
	s.c = nil
	s.log.Info("trigger scheduler stopped")
}

// Reload atomically replaces the job set from the given configuration.
// Jobs whose definition is unchanged keep their cron entry: no needless
// rescheduling, no re-fire. globalTZ backs destinations without a zone.
func (s *Service) Reload(globalTZ string, dests []config.Destination) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		// Not started yet: remember definitions for Start().
		s.jobs = make(map[string]job)
		for _, d := range dests {
			if !d.Enabled {
				continue
			}
			spec, err := cronSpec(d, globalTZ)
			if err != nil {
				s.log.Error("destination skipped", logx.String("dest", d.ID), logx.Err(err))
				continue
			}
			s.jobs[d.ID] = job{def: d, spec: spec}
		}
		return
	}

	want := make(map[string]config.Destination, len(dests))
	for _, d := range dests {
		if d.Enabled {
			want[d.ID] = d
		}
	}

	// Remove jobs for deleted/disabled destinations.
	for id, j := range s.jobs {
		if _, keep := want[id]; !keep {
			s.c.Remove(j.entry)
			delete(s.jobs, id)
			s.log.Info("trigger removed", logx.String("dest", id))
		}
	}

	// Add new ones, replace changed ones.
	for id, d := range want {
		spec, err := cronSpec(d, globalTZ)
		if err != nil {
			s.log.Error("destination skipped", logx.String("dest", id), logx.Err(err))
			continue
		}
		if existing, ok := s.jobs[id]; ok {
			if existing.spec == spec && sameDefinition(existing.def, d) {
				continue
			}
			s.c.Remove(existing.entry)
		}
		entry, err := s.addLocked(d, spec)
		if err != nil {
			s.log.Error("trigger add failed", logx.String("dest", id), logx.Err(err))
			delete(s.jobs, id)
			continue
		}
		s.jobs[id] = job{def: d, spec: spec, entry: entry}
		s.log.Info("trigger scheduled",
			logx.String("dest", id),
			logx.String("at", d.EffectiveTriggerTime()),
			logx.String("tz", d.EffectiveTimezone(globalTZ)))
	}
}

func (s *Service) addLocked(d config.Destination, spec string) (cron.EntryID, error) {
	return s.c.AddFunc(spec, func() {
		s.runOne(d)
	})
}

// runOne guards a single fire. A panicking dispatch must never take down
// the cron runner or other destinations' jobs.
func (s *Service) runOne(d config.Destination) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("fire panicked",
				logx.String("dest", d.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	s.fire(ctx, d)
}

// Upcoming lists the next fire per scheduled destination, soonest first.
func (s *Service) Upcoming() []Upcoming {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil
	}
	out := make([]Upcoming, 0, len(s.jobs))
	for id, j := range s.jobs {
		e := s.c.Entry(j.entry)
		if !e.Valid() {
			continue
		}
		out = append(out, Upcoming{DestinationID: id, At: e.Next, Spec: j.spec})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].At.Before(out[k].At) })
	return out
}

// cronSpec builds the daily spec for a destination, pinned to its zone.
// Cron resolves CRON_TZ per occurrence, which is what makes DST behave.
func cronSpec(d config.Destination, globalTZ string) (string, error) {
	h, m, err := config.ParseHHMM(d.EffectiveTriggerTime())
	if err != nil {
		return "", err
	}
	tz := d.EffectiveTimezone(globalTZ)
	if _, err := time.LoadLocation(tz); err != nil {
		return "", fmt.Errorf("unknown timezone %q", tz)
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", tz, m, h), nil
}

// sameDefinition ignores fields the scheduler doesn't act on (created_at),
// but treats anything affecting a fire — token, chat, schedule list — as a
// definition change so the closure is rebuilt with fresh values.
func sameDefinition(a, b config.Destination) bool {
	if a.ID != b.ID || a.Token != b.Token || a.ChatID != b.ChatID || a.Enabled != b.Enabled {
		return false
	}
	if a.TriggerTime != b.TriggerTime || a.Timezone != b.Timezone {
		return false
	}
	if len(a.Schedules) != len(b.Schedules) {
		return false
	}
	for i := range a.Schedules {
		if a.Schedules[i] != b.Schedules[i] {
			return false
		}
	}
	return true
}
