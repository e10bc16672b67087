// Package netmon watches the operating system for network address and
// adapter availability changes and forwards them to subscribers.
package netmon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/strazto/jellyfin/internal/logger"
)

// ChangeType classifies an OS network notification.
type ChangeType int

const (
	// AddressChanged fires when an address is added to or removed from an adapter.
	AddressChanged ChangeType = iota
	// AvailabilityChanged fires when an adapter appears, disappears or changes state.
	AvailabilityChanged
)

// String returns the change type name
func (t ChangeType) String() string {
	if t == AvailabilityChanged {
		return "availability_changed"
	}
	return "address_changed"
}

// Event is one OS network notification.
type Event struct {
	Type      ChangeType `json:"type"`
	Interface string     `json:"interface,omitempty"`
	Index     int        `json:"index,omitempty"`
	Time      time.Time  `json:"time"`
}

// Notifier produces events until ctx is done. A notifier that cannot run on
// this host returns an error and the monitor falls back to polling.
type Notifier interface {
	Name() string
	Run(ctx context.Context, emit func(Event)) error
}

// Config configures a Monitor.
type Config struct {
	// Notifier overrides the platform notifier
	Notifier Notifier
	// PollInterval is used by the polling fallback, default 5s
	PollInterval time.Duration
	Clock        clock.Clock
	Logger       *logger.Logger
}

// Monitor runs a notifier and dispatches its events.
type Monitor struct {
	notifier Notifier
	fallback Notifier

	mu        sync.RWMutex
	running   bool
	active    string
	handlers  map[uint64]func(Event)
	nextID    uint64
	lastEvent time.Time
	events    int

	cancel context.CancelFunc
	wg     sync.WaitGroup
	clock  clock.Clock
	log    *logger.Logger
}

// New creates a monitor. Start must be called before events flow.
func New(cfg *Config) *Monitor {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	m := &Monitor{
		notifier: cfg.Notifier,
		fallback: NewPollingNotifier(cfg.PollInterval, cfg.Clock, nil),
		handlers: make(map[uint64]func(Event)),
		clock:    cfg.Clock,
		log:      cfg.Logger,
	}
	if m.notifier == nil {
		m.notifier = platformNotifier()
	}
	return m
}

// Start launches the notifier in the background.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("network monitor already running")
	}
	m.running = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.run(ctx)
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	m.setActive(m.notifier.Name())
	m.log.Infof("Network monitor started (%s)", m.notifier.Name())

	err := m.notifier.Run(ctx, m.dispatch)
	if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return
	}

	m.log.Warnf("Network notifier %s failed, falling back to %s: %v", m.notifier.Name(), m.fallback.Name(), err)
	m.setActive(m.fallback.Name())
	if err := m.fallback.Run(ctx, m.dispatch); err != nil && ctx.Err() == nil {
		m.log.Errorf("Network polling stopped: %v", err)
	}
}

func (m *Monitor) setActive(name string) {
	m.mu.Lock()
	m.active = name
	m.mu.Unlock()
}

// Subscribe registers fn for every event. The returned function removes it.
func (m *Monitor) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.handlers, id)
			m.mu.Unlock()
		})
	}
}

func (m *Monitor) dispatch(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = m.clock.Now()
	}

	m.mu.Lock()
	m.lastEvent = ev.Time
	m.events++
	handlers := make([]func(Event), 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	m.log.Debugf("Network change: %s %s #%d", ev.Type, ev.Interface, ev.Index)
	for _, h := range handlers {
		h(ev)
	}
}

// Stop cancels the notifier and waits for it to exit.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.log.Infof("Network monitor stopped")
	return nil
}

// IsRunning returns whether the monitor is running
func (m *Monitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// GetStats returns monitor statistics
func (m *Monitor) GetStats() *Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return &Stats{
		Running:     m.running,
		Notifier:    m.active,
		Subscribers: len(m.handlers),
		EventCount:  m.events,
		LastEvent:   m.lastEvent,
	}
}

// Stats represents monitor statistics
type Stats struct {
	Running     bool      `json:"running"`
	Notifier    string    `json:"notifier"`
	Subscribers int       `json:"subscribers"`
	EventCount  int       `json:"eventCount"`
	LastEvent   time.Time `json:"lastEvent"`
}
