package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/strazto/jellyfin/internal/logger"
)

// DefaultQuiescenceWindow is how long the coordinator waits after the first
// trigger before refreshing.
const DefaultQuiescenceWindow = 2 * time.Second

type coordinatorState int

const (
	stateIdle coordinatorState = iota
	statePendingRefresh
)

// refreshFunc performs one refresh. full requests a configuration reload.
type refreshFunc func(full bool) (*Snapshot, error)

// Coordinator debounces change triggers into single refreshes. The first
// trigger arms a timer and the coordinator stays pending until the refresh it
// leads to has completed; every trigger in between is absorbed. A config
// trigger absorbed before the timer fires still upgrades the refresh to full.
// Every refresh produces exactly one ChangeEvent, whether it succeeded or not.
type Coordinator struct {
	mu          sync.Mutex
	state       coordinatorState
	pendingFull bool
	reason      string
	running     bool
	stopped     bool
	timer       *clock.Timer

	clock   clock.Clock
	window  time.Duration
	refresh refreshFunc
	emit    func(ChangeEvent)
}

func newCoordinator(clk clock.Clock, window time.Duration, refresh refreshFunc, emit func(ChangeEvent)) *Coordinator {
	if window <= 0 {
		window = DefaultQuiescenceWindow
	}
	return &Coordinator{
		clock:   clk,
		window:  window,
		refresh: refresh,
		emit:    emit,
	}
}

// NetworkChanged schedules a light refresh.
func (c *Coordinator) NetworkChanged(reason string) {
	c.trigger(false, reason)
}

// ConfigChanged schedules a full refresh.
func (c *Coordinator) ConfigChanged(reason string) {
	c.trigger(true, reason)
}

// Pending reports whether a refresh is scheduled or running.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == statePendingRefresh
}

func (c *Coordinator) trigger(full bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || c.running {
		return
	}
	if full {
		c.pendingFull = true
	}
	if c.state == statePendingRefresh {
		return
	}
	c.state = statePendingRefresh
	c.reason = reason
	c.timer = c.clock.AfterFunc(c.window, c.fire)
}

func (c *Coordinator) fire() {
	c.mu.Lock()
	if c.stopped || c.state != statePendingRefresh || c.running {
		c.mu.Unlock()
		return
	}
	full := c.pendingFull
	reason := c.reason
	c.pendingFull = false
	c.timer = nil
	c.running = true
	c.mu.Unlock()

	ev := c.run(full, reason)

	c.mu.Lock()
	c.running = false
	c.state = stateIdle
	c.mu.Unlock()

	c.emit(ev)
}

// run never panics.
func (c *Coordinator) run(full bool, reason string) (ev ChangeEvent) {
	ev = ChangeEvent{Reason: reason, Full: full}
	defer func() {
		if r := recover(); r != nil {
			ev.Err = fmt.Errorf("network refresh panicked: %v", r)
			ev.Snapshot = nil
			logger.WithField("reason", reason).Error(ev.Err.Error())
		}
	}()

	snap, err := c.refresh(full)
	ev.Snapshot = snap
	ev.Err = err
	if snap != nil {
		ev.Generation = snap.Generation
	}
	if err != nil {
		logger.WithField("reason", reason).WithError(err).Warn("Network refresh completed with errors")
	}
	return ev
}

// Stop cancels a scheduled refresh. A running refresh completes and still
// emits its event.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.state = stateIdle
}
