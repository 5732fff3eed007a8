// Package control is the boundary the API/dashboard layer talks to. Every
// operation returns a structured result or error and never lets a panic or
// internal error kind leak past the facade. Manual sends share the
// dispatcher with the automatic daily trigger, so the per-destination lock
// decides races: second caller gets a busy error, nobody queues.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"audiocast/internal/config"
	"audiocast/internal/convert"
	"audiocast/internal/dispatch"
	"audiocast/internal/schedule"
	"audiocast/internal/state"
	"audiocast/internal/transport"
	"audiocast/internal/trigger"
	logx "audiocast/pkg/logx"
)

var (
	// ErrNoDestination means the id is not in the current configuration.
	ErrNoDestination = errors.New("no configured destination")
	// ErrNoPriorItem means resend was asked before anything was delivered.
	ErrNoPriorItem = errors.New("no prior item to resend")
)

const dateLayout = "2006-01-02"

type Engine struct {
	cfgm       *config.ConfigManager
	resolver   *schedule.Resolver
	dispatcher *dispatch.Dispatcher
	triggers   *trigger.Service
	cache      *convert.Cache
	sender     transport.Sender
	log        logx.Logger

	// applyConfig re-applies a freshly loaded config to live services.
	// Installed by the app during wiring.
	applyConfig func(cfg *config.Config)
}

func New(
	cfgm *config.ConfigManager,
	resolver *schedule.Resolver,
	dispatcher *dispatch.Dispatcher,
	triggers *trigger.Service,
	cache *convert.Cache,
	sender transport.Sender,
	log logx.Logger,
) *Engine {
	return &Engine{
		cfgm:       cfgm,
		resolver:   resolver,
		dispatcher: dispatcher,
		triggers:   triggers,
		cache:      cache,
		sender:     sender,
		log:        log,
	}
}

// SetApplyFunc installs the app's config application hook used by ReloadConfig.
func (e *Engine) SetApplyFunc(fn func(cfg *config.Config)) { e.applyConfig = fn }

// RunScheduled is the automatic daily cycle for one destination: today's
// due items in the destination's zone, resolved and dispatched. It is the
// trigger scheduler's FireFunc. Failures land in run state, never escape.
func (e *Engine) RunScheduled(ctx context.Context, dest config.Destination) {
	cfg := e.cfgm.Get()
	globalTZ := ""
	if cfg != nil {
		globalTZ = cfg.Timezone
	}
	loc, err := time.LoadLocation(dest.EffectiveTimezone(globalTZ))
	if err != nil {
		e.dispatcher.RecordFailure(dest.ID, err)
		return
	}
	today := time.Now().In(loc)

	items, _, err := e.resolver.Resolve(ctx, today, dest.Schedules)
	if err != nil {
		e.log.Error("schedule resolution failed",
			logx.String("dest", dest.ID), logx.Err(err))
		e.dispatcher.RecordFailure(dest.ID, err)
		return
	}
	if len(items) == 0 {
		e.log.Info("nothing due today",
			logx.String("dest", dest.ID),
			logx.String("date", today.Format(dateLayout)))
		return
	}

	if _, err := e.dispatcher.Run(ctx, dest, items, dispatch.TriggerAuto); err != nil {
		// Busy means a manual run holds the lock; today's automatic fire is
		// skipped rather than queued, tomorrow's is independent.
		e.log.Warn("automatic dispatch not run", logx.String("dest", dest.ID), logx.Err(err))
	}
}

// SendByDate delivers every due item for the given date (YYYY-MM-DD).
func (e *Engine) SendByDate(ctx context.Context, destinationID, date string) (dispatch.Report, error) {
	dest, err := e.destination(destinationID)
	if err != nil {
		return dispatch.Report{}, err
	}
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return dispatch.Report{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}

	items, _, err := e.resolver.Resolve(ctx, day, dest.Schedules)
	if err != nil {
		return dispatch.Report{}, err
	}
	return e.dispatcher.Run(ctx, dest, items, dispatch.TriggerManual)
}

// SendItem delivers one explicit file to a destination.
func (e *Engine) SendItem(ctx context.Context, destinationID, path string) (dispatch.Report, error) {
	dest, err := e.destination(destinationID)
	if err != nil {
		return dispatch.Report{}, err
	}
	return e.dispatcher.Run(ctx, dest, []string{path}, dispatch.TriggerManual)
}

// ResendLast re-delivers the destination's last successfully sent item.
func (e *Engine) ResendLast(ctx context.Context, destinationID string) (dispatch.Report, error) {
	dest, err := e.destination(destinationID)
	if err != nil {
		return dispatch.Report{}, err
	}
	st, ok := e.dispatcher.State(destinationID)
	if !ok || st.LastItemPath == "" {
		return dispatch.Report{}, ErrNoPriorItem
	}
	return e.dispatcher.Run(ctx, dest, []string{st.LastItemPath}, dispatch.TriggerResend)
}

// State returns the run state for one configured destination. Destinations
// that never ran report a zero state, not an error.
func (e *Engine) State(destinationID string) (state.RunState, error) {
	if _, err := e.destination(destinationID); err != nil {
		return state.RunState{}, err
	}
	st, ok := e.dispatcher.State(destinationID)
	if !ok {
		return state.RunState{DestinationID: destinationID, LastStatus: state.StatusNone}, nil
	}
	return st, nil
}

// AllStates returns run state for every configured destination.
func (e *Engine) AllStates() map[string]state.RunState {
	states := e.dispatcher.States()
	out := make(map[string]state.RunState, len(states))

	cfg := e.cfgm.Get()
	if cfg != nil {
		for _, d := range cfg.Destinations {
			if st, ok := states[d.ID]; ok {
				out[d.ID] = st
			} else {
				out[d.ID] = state.RunState{DestinationID: d.ID, LastStatus: state.StatusNone}
			}
		}
	}
	return out
}

// ReloadConfig re-reads the config file and applies it to live services
// (trigger set, logging, destination snapshot), same as a watcher-driven
// reload but synchronous.
func (e *Engine) ReloadConfig(ctx context.Context) error {
	_ = ctx
	cfg, err := e.cfgm.Parse()
	if err != nil {
		return fmt.Errorf("config parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	e.cfgm.Commit(cfg)
	if e.applyConfig != nil {
		e.applyConfig(cfg)
	}
	return nil
}

// UpcomingTriggers lists the next automatic fire per destination.
func (e *Engine) UpcomingTriggers() []trigger.Upcoming {
	return e.triggers.Upcoming()
}

// TestConnection validates a destination's bot token against the platform.
func (e *Engine) TestConnection(ctx context.Context, destinationID string) error {
	dest, err := e.destination(destinationID)
	if err != nil {
		return err
	}
	return e.sender.TestConnection(ctx, dest.Token)
}

// VerifyScheduleFiles reports existence of every file the schedule references.
func (e *Engine) VerifyScheduleFiles(ctx context.Context) (map[string]bool, error) {
	return e.resolver.VerifyFiles(ctx)
}

// CacheStats reports conversion cache occupancy.
func (e *Engine) CacheStats() (convert.Stats, error) { return e.cache.Stats() }

// ClearCache drops every cached artifact; next delivery re-transcodes.
func (e *Engine) ClearCache() error { return e.cache.Clear() }

func (e *Engine) destination(id string) (config.Destination, error) {
	cfg := e.cfgm.Get()
	if cfg == nil {
		return config.Destination{}, ErrNoDestination
	}
	for _, d := range cfg.Destinations {
		if d.ID == id {
			return d, nil
		}
	}
	return config.Destination{}, fmt.Errorf("%w: %s", ErrNoDestination, id)
}
