// Package checkpointid provides an in-memory coordinator.CheckpointIDCounter:
// a monotonically increasing checkpoint id, advanced on a fixed interval
// by a background ticker.
package checkpointid

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is how often the counter advances absent an explicit
// interval, matching the cadence a small streaming job typically
// checkpoints at.
const DefaultInterval = 10 * time.Second

// Counter implements coordinator.CheckpointIDCounter. current starts at
// 0 (no checkpoint completed yet); GetCurrent reports the last
// completed checkpoint id, not the one in flight.
type Counter struct {
	current  int64 // atomic
	interval time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New constructs a counter that has not yet started advancing; call Run
// to begin the background ticker. log may be nil.
func New(interval time.Duration, log *zap.Logger) *Counter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Counter{interval: interval, log: log}
}

// GetCurrent returns the id of the most recently completed checkpoint.
func (c *Counter) GetCurrent() int64 {
	return atomic.LoadInt64(&c.current)
}

// Advance bumps the counter by one and returns the new value. Exposed
// directly so a real checkpoint-coordination subsystem, once one exists,
// can drive this from actual checkpoint completion instead of the
// built-in ticker.
func (c *Counter) Advance() int64 {
	return atomic.AddInt64(&c.current, 1)
}

// Run starts the background ticker advancing the counter every interval,
// until ctx is canceled. Calling Run twice without an intervening Stop
// is a programming error the caller is expected not to make; Run panics
// rather than silently leaking the first ticker.
func (c *Counter) Run(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		panic("checkpointid: Run called while already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	ticker := time.NewTicker(c.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				id := c.Advance()
				c.log.Debug("checkpoint id advanced", zap.Int64("checkpoint_id", id))
			}
		}
	}()
}

// Stop halts the background ticker. A no-op if Run was never called.
func (c *Counter) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}
