package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/storage"
)

// DefaultSweepInterval is how often expired records are removed
const DefaultSweepInterval = time.Minute

// Sweeper periodically removes expired codes and tokens from a store. It
// only bounds memory; every read path checks expiry on its own.
type Sweeper struct {
	store    storage.Sweeper
	interval time.Duration
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
	now      func() time.Time
	grace    time.Duration

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool
	mu       sync.Mutex
}

// NewSweeper creates a sweeper. A non-positive interval uses DefaultSweepInterval.
func NewSweeper(store storage.Sweeper, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// SetMetrics sets the metrics that record sweep removals
func (sw *Sweeper) SetMetrics(m *instrumentation.Metrics) {
	sw.metrics = m
}

// SetGracePeriod keeps records alive for d past their expiry, matching the
// server's ClockSkewGracePeriod.
func (sw *Sweeper) SetGracePeriod(d time.Duration) {
	sw.grace = d
}

// SetClock replaces the time source. Intended for tests.
func (sw *Sweeper) SetClock(now func() time.Time) {
	sw.now = now
}

// Start launches the background sweep loop. Calling Start twice is a no-op.
func (sw *Sweeper) Start() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.started {
		return
	}
	sw.started = true

	go sw.loop()
	sw.logger.Info("Started expiry sweeper", "interval", sw.interval)
}

func (sw *Sweeper) loop() {
	defer close(sw.doneCh)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.SweepOnce(context.Background())
		case <-sw.stopCh:
			return
		}
	}
}

// SweepOnce runs a single sweep and returns what it removed.
func (sw *Sweeper) SweepOnce(ctx context.Context) storage.SweepResult {
	result, err := sw.store.Sweep(ctx, security.ExpiryReference(sw.now(), sw.grace))
	if err != nil {
		sw.logger.Error("Expiry sweep failed", "error", err)
		return result
	}

	sw.metrics.RecordSweep(ctx, result.Codes, result.AccessTokens, result.RefreshTokens)
	if result.Total() > 0 {
		sw.logger.Debug("Swept expired records",
			"codes", result.Codes,
			"access_tokens", result.AccessTokens,
			"refresh_tokens", result.RefreshTokens)
	}
	return result
}

// Stop ends the sweep loop and waits for it to exit. Safe to call more than
// once and before Start.
func (sw *Sweeper) Stop() {
	sw.stopOnce.Do(func() {
		close(sw.stopCh)
		sw.mu.Lock()
		started := sw.started
		sw.mu.Unlock()
		if started {
			<-sw.doneCh
		}
	})
}
