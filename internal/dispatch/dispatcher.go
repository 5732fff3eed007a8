// Package dispatch delivers a batch of due audio items to one destination.
//
// A batch runs strictly in resolver order with no intra-destination
// parallelism; different destinations may dispatch concurrently. The
// per-destination lock is the only thing serializing automatic and manual
// triggers, so every path into delivery goes through Run.
package dispatch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"audiocast/internal/config"
	"audiocast/internal/convert"
	"audiocast/internal/eventbus"
	"audiocast/internal/state"
	"audiocast/internal/transport"
	logx "audiocast/pkg/logx"
)

type Config struct {
	// RatePerSec caps sends per destination per second. Default 1, matching
	// Telegram's tolerance for media messages to one chat.
	RatePerSec int
}

type Dispatcher struct {
	cfg    Config
	cache  *convert.Cache
	sender transport.Sender
	store  state.Store
	log    logx.Logger
	bus    eventbus.Bus // optional

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	limiters map[string]*rate.Limiter
	states   map[string]state.RunState
}

func New(cfg Config, cache *convert.Cache, sender transport.Sender, store state.Store, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	return &Dispatcher{
		cfg:      cfg,
		cache:    cache,
		sender:   sender,
		store:    store,
		log:      log,
		bus:      bus,
		locks:    make(map[string]*sync.Mutex),
		limiters: make(map[string]*rate.Limiter),
		states:   make(map[string]state.RunState),
	}
}

// LoadStates restores persisted run state. Called once at startup; from then
// on the in-memory map is authoritative and flushed on every mutation.
func (d *Dispatcher) LoadStates(ctx context.Context) error {
	states, err := d.store.Load(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.states = states
	d.mu.Unlock()
	d.log.Info("run state loaded", logx.Int("destinations", len(states)))
	return nil
}

// State returns the run state for one destination.
func (d *Dispatcher) State(destinationID string) (state.RunState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[destinationID]
	return st, ok
}

// States returns a copy of all run states.
func (d *Dispatcher) States() map[string]state.RunState {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]state.RunState, len(d.states))
	for k, v := range d.states {
		out[k] = v
	}
	return out
}

// Run delivers items to dest in order. A second Run for the same destination
// while one is in flight returns ErrBusy. Per-item failures are recorded in
// the report and in run state; they never abort the rest of the batch.
func (d *Dispatcher) Run(ctx context.Context, dest config.Destination, items []string, trig Trigger) (Report, error) {
	lock := d.lockFor(dest.ID)
	if !lock.TryLock() {
		return Report{}, ErrBusy
	}
	defer lock.Unlock()

	rep := Report{
		BatchID:       uuid.NewString(),
		DestinationID: dest.ID,
		Trigger:       trig,
		StartedAt:     time.Now(),
		Items:         make([]ItemResult, 0, len(items)),
	}
	log := d.log.With(
		logx.String("dest", dest.ID),
		logx.String("batch", rep.BatchID),
		logx.String("trigger", string(trig)))

	log.Info("dispatch started", logx.Int("items", len(items)))
	d.publish(eventbus.TypeDispatchStarted, map[string]any{
		"destination": dest.ID, "batch": rep.BatchID, "trigger": string(trig), "items": len(items),
	})

	limiter := d.limiterFor(dest.ID)
	for _, item := range items {
		// Finish the current item on shutdown, then halt; remaining items
		// are left for the next trigger.
		if err := ctx.Err(); err != nil {
			log.Warn("dispatch interrupted", logx.Err(err), logx.Int("delivered", len(rep.Items)))
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		err := d.deliverOne(ctx, dest, item)
		d.recordAttempt(dest.ID, item, err)
		if err != nil {
			log.Warn("item failed", logx.String("item", item), logx.Err(err))
			rep.Items = append(rep.Items, ItemResult{Path: item, Status: ItemFailed, Error: err.Error()})
			rep.Failed++
			continue
		}
		log.Info("item sent", logx.String("item", item))
		rep.Items = append(rep.Items, ItemResult{Path: item, Status: ItemSent})
		rep.Sent++
	}

	rep.Duration = time.Since(rep.StartedAt)
	d.publish(eventbus.TypeDispatchFinished, map[string]any{
		"destination": dest.ID, "batch": rep.BatchID, "sent": rep.Sent, "failed": rep.Failed,
	})
	log.Info("dispatch finished",
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Duration))
	return rep, nil
}

func (d *Dispatcher) deliverOne(ctx context.Context, dest config.Destination, item string) error {
	artifact, err := d.cache.Artifact(ctx, item)
	if err != nil {
		return err
	}
	voice := transport.Voice{
		Path:    artifact,
		Caption: "Scheduled: " + filepath.Base(item),
	}
	return d.sender.SendVoice(ctx, dest.Token, dest.ChatID, voice)
}

// recordAttempt updates in-memory run state and flushes it synchronously.
// LastItemPath tracks the last successfully delivered item (resend target),
// so it is only advanced on success.
func (d *Dispatcher) recordAttempt(destinationID, item string, attemptErr error) {
	if attemptErr != nil {
		d.recordFailureState(destinationID, attemptErr)
		return
	}

	d.mu.Lock()
	st, ok := d.states[destinationID]
	if !ok {
		st = state.RunState{DestinationID: destinationID}
	}
	st.LastRunAt = time.Now()
	st.LastItemPath = item
	st.LastStatus = state.StatusSuccess
	st.LastError = ""
	st.ConsecutiveFailures = 0
	d.states[destinationID] = st
	d.mu.Unlock()

	d.persist(st)
}

// RecordFailure captures a destination-level failure (schedule unreadable,
// no valid config) that happened before any item could be attempted. State
// mutation stays funneled through the dispatcher.
func (d *Dispatcher) RecordFailure(destinationID string, err error) {
	d.recordFailureState(destinationID, err)
}

func (d *Dispatcher) recordFailureState(destinationID string, attemptErr error) {
	d.mu.Lock()
	st, ok := d.states[destinationID]
	if !ok {
		st = state.RunState{DestinationID: destinationID, LastStatus: state.StatusNone}
	}
	st.LastRunAt = time.Now()
	st.LastStatus = state.StatusFailure
	st.LastError = attemptErr.Error()
	st.ConsecutiveFailures++
	d.states[destinationID] = st
	d.mu.Unlock()

	d.persist(st)
}

// persist flushes one state record. Durability over throughput: this runs
// synchronously after every attempt, before the next item starts.
func (d *Dispatcher) persist(st state.RunState) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.Put(ctx, st); err != nil {
		d.log.Error("run state persist failed", logx.String("dest", st.DestinationID), logx.Err(err))
	}
	d.publish(eventbus.TypeStateChanged, map[string]any{
		"destination": st.DestinationID, "status": string(st.LastStatus),
	})
}

func (d *Dispatcher) publish(typ string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (d *Dispatcher) lockFor(destinationID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[destinationID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[destinationID] = l
	}
	return l
}

func (d *Dispatcher) limiterFor(destinationID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[destinationID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.cfg.RatePerSec), 1)
		d.limiters[destinationID] = l
	}
	return l
}
