// Package session holds the per-session runtime control state shared
// between the outgoing/incoming pipelines and the service facade: pause
// signaling, cancellation, and rate-limited progress snapshots.
package session

import (
	"context"
	"sync"
	"time"
)

// Control is one running session's cooperative control surface: a
// watch-channel-style paused flag, an atomic-equivalent canceled flag, and
// emit-rate-limiting state.
type Control struct {
	sessionID string

	mu      sync.Mutex
	paused  bool
	pauseCh chan struct{} // closed and replaced whenever Resume is called

	canceled sync.Once
	cancelCh chan struct{}

	emitMu       sync.Mutex
	lastEmitAtMS int64
	lastSpeedBPS float64
}

// NewControl creates a running session's control block, inserted into the
// Registry when the session starts and removed on terminal transition.
func NewControl(sessionID string) *Control {
	return &Control{
		sessionID: sessionID,
		pauseCh:   make(chan struct{}),
		cancelCh:  make(chan struct{}),
	}
}

// Pause marks the session paused; pipelines block in WaitWhilePaused until
// Resume is called.
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume releases any goroutine blocked in WaitWhilePaused.
func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	close(c.pauseCh)
	c.pauseCh = make(chan struct{})
}

// IsPaused reports the current paused state.
func (c *Control) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// WaitWhilePaused blocks until the session is resumed, canceled, or ctx is
// done. Pipelines call it at the top of each loop iteration.
func (c *Control) WaitWhilePaused(ctx context.Context) error {
	for {
		c.mu.Lock()
		paused := c.paused
		ch := c.pauseCh
		c.mu.Unlock()
		if !paused {
			return nil
		}
		select {
		case <-ch:
			continue
		case <-c.cancelCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Cancel sets the canceled flag and wakes anything blocked in
// WaitWhilePaused.
func (c *Control) Cancel() {
	c.canceled.Do(func() { close(c.cancelCh) })
}

// Canceled reports whether Cancel has been called.
func (c *Control) Canceled() bool {
	select {
	case <-c.cancelCh:
		return true
	default:
		return false
	}
}

// ShouldEmit implements the one-per-event_emit_interval_ms rate limit.
// terminal is true for terminal-transition snapshots, which are always
// emitted regardless of the interval.
func (c *Control) ShouldEmit(now time.Time, intervalMS int64, terminal bool) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	nowMS := now.UnixMilli()
	if terminal || nowMS-c.lastEmitAtMS >= intervalMS {
		c.lastEmitAtMS = nowMS
		return true
	}
	return false
}

// RecordSpeed stores the most recently observed non-zero transfer speed so
// cancellation never resets avg_speed_bps to zero.
func (c *Control) RecordSpeed(bps float64) {
	if bps <= 0 {
		return
	}
	c.emitMu.Lock()
	c.lastSpeedBPS = bps
	c.emitMu.Unlock()
}

// LastSpeedBPS returns the last non-zero speed recorded via RecordSpeed.
func (c *Control) LastSpeedBPS() float64 {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	return c.lastSpeedBPS
}
