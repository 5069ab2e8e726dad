package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kalambet/briefly/internal/feature"
	"github.com/kalambet/briefly/internal/poll"
)

// WatcherConfig holds the timing knobs for background session tracking.
type WatcherConfig struct {
	Interval time.Duration
	Budget   time.Duration
	Slots    int64
}

// DefaultWatcherConfig returns the production watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Interval: 10 * time.Second,
		Budget:   10 * time.Minute,
		Slots:    8,
	}
}

// Watcher keeps polling sessions whose synchronous budget elapsed and
// persists their results when they eventually complete. Capacity is
// bounded; sessions beyond the slot limit are dropped with a warning.
type Watcher struct {
	gw     Gateway
	store  ResultStore
	clk    poll.Clock
	cfg    WatcherConfig
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewWatcher creates a Watcher with cfg.Slots concurrent trackers.
func NewWatcher(gw Gateway, store ResultStore, clk poll.Clock, cfg WatcherConfig) *Watcher {
	if clk == nil {
		clk = poll.RealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		gw:     gw,
		store:  store,
		clk:    clk,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.Slots),
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default(),
	}
}

// Track hands a still-running session to a background tracker. When all
// slots are busy the session is dropped; its result is lost unless the
// agent finishes and the client re-queries history later.
func (w *Watcher) Track(f feature.Feature, topic string, params feature.Params, requestKey, handle string) {
	if !w.sem.TryAcquire(1) {
		w.logger.Warn("watcher at capacity, dropping session", "session", handle, "topic", topic)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)
		w.track(f, topic, params, requestKey, handle)
	}()
}

func (w *Watcher) track(f feature.Feature, topic string, params feature.Params, requestKey, handle string) {
	o := &Orchestrator{gw: w.gw, store: w.store, clk: w.clk, logger: w.logger}

	var payload []byte
	deadline := w.clk.Now().Add(w.cfg.Budget)
	outcome := poll.Until(w.ctx, w.clk, deadline, w.cfg.Interval, func(ctx context.Context) bool {
		p, ok := o.probe(ctx, handle, f.MarkerKey)
		if ok {
			payload = p
		}
		return ok
	})

	if outcome != poll.Completed {
		w.logger.Warn("abandoning session", "session", handle, "topic", topic, "budget", w.cfg.Budget)
		return
	}

	id := o.persist(f.Name, topic, params, requestKey, payload)
	w.logger.Info("late result persisted", "session", handle, "topic", topic, "result_id", id)
}

// Close cancels all trackers and waits for them to exit.
func (w *Watcher) Close() {
	w.cancel()
	w.wg.Wait()
}

// Wait blocks until all currently tracked sessions finish. Used by tests.
func (w *Watcher) Wait() {
	w.wg.Wait()
}
