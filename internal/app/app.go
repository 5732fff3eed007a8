// Package app wires the engine together: config manager, logging, state
// store, transport, conversion cache, dispatcher, trigger scheduler and the
// control facade. Start spins the watchers up, Stop unwinds them in order.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"

	"audiocast/internal/config"
	"audiocast/internal/control"
	"audiocast/internal/convert"
	"audiocast/internal/dispatch"
	"audiocast/internal/eventbus"
	"audiocast/internal/observability/pprof"
	"audiocast/internal/runtime/supervisor"
	"audiocast/internal/schedule"
	"audiocast/internal/state"
	"audiocast/internal/transport/telegram"
	"audiocast/internal/trigger"
	logx "audiocast/pkg/logx"
)

// StopReason tags a shutdown with its cause for the final log line.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store      state.Store
	stCfg      state.Config
	bus        eventbus.Bus
	sender     *telegram.Sender
	cache      *convert.Cache
	dispatcher *dispatch.Dispatcher
	triggers   *trigger.Service
	pprof      *pprof.Service

	ctrl *control.Engine
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	stCfg, err := mapStateConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := state.Open(stCfg, log.With(logx.String("comp", "state")))
	if err != nil {
		return nil, err
	}
	log.Info("state store opened", logx.String("driver", stCfg.Driver), logx.String("path", stCfg.Path))

	senderCfg, err := mapSenderConfig(cfg)
	if err != nil {
		return nil, err
	}
	sender := telegram.New(senderCfg, log.With(logx.String("comp", "telegram")))

	transcodeTimeout, err := mapTranscodeTimeout(cfg)
	if err != nil {
		return nil, err
	}
	trans := convert.NewFFmpeg(cfg.Cache.FFmpegPath, cfg.Cache.Bitrate, transcodeTimeout,
		log.With(logx.String("comp", "ffmpeg")))
	cache, err := convert.NewCache(mapCacheDir(cfg), trans, log.With(logx.String("comp", "cache")))
	if err != nil {
		return nil, err
	}

	fs := afero.NewOsFs()
	source := schedule.NewFileSource(fs, cfg.DataDir, log.With(logx.String("comp", "schedule")))
	resolver := schedule.NewResolver(source, fs, cfg.DataDir, log.With(logx.String("comp", "schedule")))

	bus := eventbus.New()
	dispatcher := dispatch.New(mapDispatchConfig(cfg), cache, sender, store,
		log.With(logx.String("comp", "dispatch")), bus)

	a := &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		store:      store,
		stCfg:      stCfg,
		bus:        bus,
		sender:     sender,
		cache:      cache,
		dispatcher: dispatcher,
		pprof:      pprof.New(mapPprofConfig(cfg), log.With(logx.String("comp", "pprof"))),
	}

	// The trigger scheduler fires into the control facade, which in turn is
	// handed the scheduler for the upcoming-triggers view. Breaking the cycle
	// through the App keeps both constructors plain.
	a.triggers = trigger.New(func(ctx context.Context, dest config.Destination) {
		a.ctrl.RunScheduled(ctx, dest)
	}, log.With(logx.String("comp", "trigger")))

	a.ctrl = control.New(cfgm, resolver, dispatcher, a.triggers, cache, sender,
		log.With(logx.String("comp", "control")))
	a.ctrl.SetApplyFunc(func(cfg *config.Config) { a.applyConfig(context.Background(), cfg) })

	return a, nil
}

// Control exposes the operation facade for the command layer.
func (a *App) Control() *control.Engine { return a.ctrl }

// Done is closed when the app run context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		// Reject a hot-reload with unparseable durations before it lands.
		if _, err := mapStateConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSenderConfig(cfg); err != nil {
			return err
		}
		if _, err := mapTranscodeTimeout(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.dispatcher.LoadStates(a.sup.Context()); err != nil {
		return fmt.Errorf("load run states: %w", err)
	}

	cfg := a.cfgm.Get()
	if cfg.Scheduler.Enabled {
		a.triggers.Reload(cfg.Timezone, cfg.Destinations)
	}
	a.triggers.Start(a.sup.Context())
	a.pprof.Start(a.sup.Context())

	// Debug-log engine events (components can also subscribe themselves).
	events, unsubEvents := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsubEvents()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs, changedDests := config.SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
					if len(changedDests) > 0 {
						a.log.Debug("destination changes detected", logx.Any("destinations", changedDests))
					}
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				lastApplied = newCfg

				a.applyConfig(c, newCfg)

				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a committed config into the live services. Called from
// the reload fan-out and from control.ReloadConfig.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))

	if cfg.Scheduler.Enabled {
		a.triggers.Reload(cfg.Timezone, cfg.Destinations)
	} else {
		a.triggers.Reload(cfg.Timezone, nil)
	}

	a.pprof.Reconfigure(ctx, mapPprofConfig(cfg))

	// The state store and cache transcoder are bound at startup.
	if nc, err := mapStateConfig(cfg); err == nil && nc != a.stCfg {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so in-flight dispatch finishes its current
	// item and background loops start unwinding.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("triggers", 3*time.Second, func(c context.Context) error { a.triggers.Stop(c); return nil })
	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("state", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Stop(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
