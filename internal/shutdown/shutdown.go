// Package shutdown runs prioritized teardown hooks when the process is asked to stop.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/strazto/jellyfin/internal/logger"
)

// Hook is a teardown step
type Hook func(ctx context.Context) error

// Priority orders hooks; lower values run first
type Priority int

const (
	// PriorityCritical stops accepting new work (HTTP listener)
	PriorityCritical Priority = 0
	// PriorityHigh stops producers (change monitor, coordinator)
	PriorityHigh Priority = 1
	// PriorityNormal releases resources (storage, config watcher)
	PriorityNormal Priority = 2
	// PriorityLow flushes logs
	PriorityLow Priority = 3
)

type registeredHook struct {
	name     string
	hook     Hook
	priority Priority
}

// Manager coordinates graceful shutdown
type Manager struct {
	mu       sync.Mutex
	hooks    []registeredHook
	timeout  time.Duration
	signals  []os.Signal
	sigChan  chan os.Signal
	stopChan chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	started  bool
	shutdown bool
	err      error
}

// NewManager creates a shutdown manager giving each hook at most timeout
func NewManager(timeout time.Duration) *Manager {
	return &Manager{
		timeout:  timeout,
		signals:  []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT},
		sigChan:  make(chan os.Signal, 1),
		stopChan: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Register adds a named hook
func (m *Manager) Register(name string, hook Hook, priority Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = append(m.hooks, registeredHook{name: name, hook: hook, priority: priority})
	logger.Debugf("Registered shutdown hook: %s (priority: %d)", name, priority)
}

// Start begins listening for termination signals
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	signal.Notify(m.sigChan, m.signals...)

	m.wg.Add(1)
	go m.waitForShutdown()
}

func (m *Manager) waitForShutdown() {
	defer m.wg.Done()
	defer signal.Stop(m.sigChan)

	select {
	case sig := <-m.sigChan:
		logger.Infof("Received signal %v, shutting down", sig)
	case <-m.stopChan:
		logger.Info("Shutdown requested")
	}
	m.performShutdown()
}

// performShutdown runs every hook once, in priority order
func (m *Manager) performShutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	hooks := make([]registeredHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	logger.Info("Starting graceful shutdown")

	sort.SliceStable(hooks, func(i, j int) bool {
		return hooks[i].priority < hooks[j].priority
	})

	var errs error
	for _, h := range hooks {
		errs = multierr.Append(errs, m.runHook(h))
	}

	m.mu.Lock()
	m.err = errs
	m.mu.Unlock()

	if errs != nil {
		logger.WithError(errs).Warn("Graceful shutdown finished with errors")
	} else {
		logger.Info("Graceful shutdown complete")
	}
	close(m.done)
}

func (m *Manager) runHook(h registeredHook) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	logger.Debugf("Running shutdown hook: %s", h.name)

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &hookPanic{name: h.name, value: r}
			}
		}()
		done <- h.hook(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Errorf("Shutdown hook %s failed: %v", h.name, err)
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Errorf("Shutdown hook %s timed out after %v", h.name, m.timeout)
		return ctx.Err()
	}
}

// Stop triggers shutdown programmatically. It is a no-op before Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return
	}

	select {
	case m.stopChan <- struct{}{}:
	default:
	}
}

// Done is closed once all hooks have run
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until shutdown is complete and returns the combined hook errors
func (m *Manager) Wait() error {
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

type hookPanic struct {
	name  string
	value interface{}
}

func (p *hookPanic) Error() string {
	return fmt.Sprintf("shutdown hook %s panicked: %v", p.name, p.value)
}
