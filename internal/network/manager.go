package network

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/strazto/jellyfin/internal/config"
	"github.com/strazto/jellyfin/internal/logger"
	"github.com/strazto/jellyfin/internal/netmon"
	"github.com/strazto/jellyfin/internal/netutil"
)

// ConfigProvider supplies the current network configuration.
type ConfigProvider interface {
	GetNetwork() config.NetworkConfig
}

// ConfigSubscriber delivers configuration change notifications by section key.
type ConfigSubscriber interface {
	Subscribe(key string, handler func(key string)) func()
}

// ChangeNotifier delivers OS network change notifications.
type ChangeNotifier interface {
	Subscribe(func(netmon.Event)) func()
}

// Options configures a Manager. The zero value uses the operating system.
type Options struct {
	// Source enumerates adapters; defaults to SystemSource
	Source InterfaceSource
	// MockInterfaces replaces the OS scan with "addr/len,index,name|..."
	MockInterfaces string
	// IPv6Supported probes OS IPv6 support; defaults to netutil.SupportsIPv6
	IPv6Supported func() bool
	Clock         clock.Clock
	Resolver      netutil.HostResolver
	// QuiescenceWindow defaults to DefaultQuiescenceWindow
	QuiescenceWindow time.Duration
}

// ChangeEvent is published after every coordinated refresh.
type ChangeEvent struct {
	Generation uuid.UUID `json:"generation"`
	Reason     string    `json:"reason"`
	Full       bool      `json:"full"`
	Err        error     `json:"-"`
	Snapshot   *Snapshot `json:"-"`
}

const subscriberBuffer = 16

// Manager owns the published snapshot and the refresh pipeline.
type Manager struct {
	cfg           ConfigProvider
	source        InterfaceSource
	mock          string
	ipv6Supported func() bool
	clock         clock.Clock
	resolver      netutil.HostResolver

	snapshot atomic.Pointer[Snapshot]
	initMu   sync.Mutex
	closed   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	coordinator *Coordinator

	subMu       sync.Mutex
	subscribers map[uint64]chan ChangeEvent
	nextSubID   uint64
	unwatch     []func()
	closeOnce   sync.Once
}

// NewManager builds the initial snapshot synchronously. Errors in the
// configuration are logged; the manager always starts with a usable snapshot.
func NewManager(cfg ConfigProvider, opts Options) *Manager {
	if opts.Source == nil {
		opts.Source = SystemSource{}
	}
	if opts.IPv6Supported == nil {
		opts.IPv6Supported = netutil.SupportsIPv6
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Resolver == nil {
		opts.Resolver = netutil.DefaultResolver
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:           cfg,
		source:        opts.Source,
		mock:          strings.TrimSpace(opts.MockInterfaces),
		ipv6Supported: opts.IPv6Supported,
		clock:         opts.Clock,
		resolver:      opts.Resolver,
		ctx:           ctx,
		cancel:        cancel,
		subscribers:   make(map[uint64]chan ChangeEvent),
	}
	m.coordinator = newCoordinator(opts.Clock, opts.QuiescenceWindow, m.coordinatedRefresh, m.publishEvent)

	if _, err := m.refresh(true); err != nil {
		logger.WithError(err).Warn("Initial network configuration has errors")
	}
	return m
}

// Watch connects the manager to configuration and OS change sources.
// Either may be nil.
func (m *Manager) Watch(cfg ConfigSubscriber, mon ChangeNotifier) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if m.closed.Load() {
		return
	}
	if cfg != nil {
		m.unwatch = append(m.unwatch, cfg.Subscribe(config.SectionNetwork, func(key string) {
			m.coordinator.ConfigChanged("config:" + key)
		}))
	}
	if mon != nil {
		m.unwatch = append(m.unwatch, mon.Subscribe(func(ev netmon.Event) {
			m.coordinator.NetworkChanged(ev.Type.String())
		}))
	}
}

// Coordinator returns the change coordinator.
func (m *Manager) Coordinator() *Coordinator {
	return m.coordinator
}

// UpdateSettings re-reads the configuration and rebuilds everything
// synchronously. No ChangeEvent is published.
func (m *Manager) UpdateSettings() error {
	_, err := m.refresh(true)
	return err
}

// Snapshot returns the current snapshot. It never returns nil.
func (m *Manager) Snapshot() *Snapshot {
	return m.snapshot.Load()
}

// Subscribe returns a channel receiving every ChangeEvent and a function that
// cancels the subscription. Slow subscribers miss events rather than block.
func (m *Manager) Subscribe() (<-chan ChangeEvent, func()) {
	ch := make(chan ChangeEvent, subscriberBuffer)

	m.subMu.Lock()
	if m.closed.Load() {
		m.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = ch
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if c, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(c)
		}
	}
}

// Close detaches from change sources, stops pending refreshes and closes
// subscriber channels. A refresh already running finishes without publishing.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.coordinator.Stop()
		m.cancel()

		m.subMu.Lock()
		for _, fn := range m.unwatch {
			fn()
		}
		m.unwatch = nil
		for id, ch := range m.subscribers {
			close(ch)
			delete(m.subscribers, id)
		}
		m.subMu.Unlock()
	})
	return nil
}

func (m *Manager) publishEvent(ev ChangeEvent) {
	if ev.Generation == uuid.Nil {
		if snap := m.snapshot.Load(); snap != nil {
			ev.Generation = snap.Generation
		}
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.closed.Load() {
		return
	}
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			logger.WithField("generation", ev.Generation.String()).Warn("Network change subscriber is full, dropping event")
		}
	}
}

// coordinatedRefresh reloads configuration fully when asked or when IPv6 is
// configured but the OS cannot provide it.
func (m *Manager) coordinatedRefresh(full bool) (*Snapshot, error) {
	if !full {
		cfg := m.cfg.GetNetwork()
		full = cfg.EnableIPv6 && !m.ipv6Supported()
	}
	return m.refresh(full)
}

// families returns the effective address families.
func (m *Manager) families(cfg config.NetworkConfig) (ipv4, ipv6 bool) {
	ipv4 = cfg.EnableIPv4
	ipv6 = cfg.EnableIPv6
	if ipv6 && !m.ipv6Supported() {
		logger.Warnf("IPv6 is enabled but not supported by the operating system, disabling IPv6")
		ipv6 = false
	}
	if !ipv4 && !ipv6 {
		logger.Warnf("No address family available, enabling IPv4")
		ipv4 = true
	}
	return ipv4, ipv6
}

// refresh builds and publishes a new snapshot. A light refresh rescans
// interfaces and recomputes LAN and bind sets but keeps the previous override
// table and remote filter.
func (m *Manager) refresh(full bool) (*Snapshot, error) {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.closed.Load() {
		return nil, ErrClosed
	}

	var errs error
	cfg := m.cfg.GetNetwork()
	ipv4, ipv6 := m.families(cfg)

	state := State{
		IPv4Enabled:           ipv4,
		IPv6Enabled:           ipv6,
		ExplicitBind:          len(nonBlank(cfg.LocalNetworkAddresses)) > 0,
		EnableRemoteAccess:    cfg.EnableRemoteAccess,
		RemoteFilterBlacklist: cfg.IsRemoteIPFilterBlacklist,
		TrustAllIPv6:          cfg.TrustAllIPv6Interfaces,
	}
	state.Interfaces, state.MACAddresses = m.scan(ipv4, ipv6)
	state.LANSubnets, state.ExcludedSubnets = lanSubnets(cfg, ipv4, ipv6)
	state.BindInterfaces = enforceBindSettings(state.Interfaces, cfg, ipv4, ipv6)

	prev := m.snapshot.Load()
	if full || prev == nil {
		overrides, err := parseOverrides(cfg.PublishedServerURIBySubnet, state.LANSubnets, state.Interfaces)
		if err != nil {
			logger.WithError(err).Error("Invalid published server URI entries, no overrides applied")
			errs = multierr.Append(errs, fmt.Errorf("invalid published server overrides: %w", err))
		}
		state.Overrides = overrides

		filter, err := parseRemoteFilter(cfg.RemoteIPFilter)
		if err != nil {
			logger.WithError(err).Warn("Ignoring invalid remote IP filter entries")
			errs = multierr.Append(errs, fmt.Errorf("invalid remote IP filter: %w", err))
		}
		state.RemoteFilter = filter
	} else {
		state.Overrides = prev.Overrides
		state.RemoteFilter = prev.RemoteFilter
	}

	snap := newSnapshot(state, m.clock.Now())
	if m.closed.Load() {
		return nil, ErrClosed
	}
	m.snapshot.Store(snap)
	logNetworkInfo(snap, full)
	return snap, errs
}

func (m *Manager) scan(ipv4, ipv6 bool) ([]InterfaceAddress, []string) {
	if m.mock == "" {
		return scanInterfaces(m.ctx, m.source, ipv4, ipv6)
	}

	var ifaces []InterfaceAddress
	for _, iface := range ParseMockInterfaces(m.mock) {
		if netutil.FamilyEnabled(iface.Address, ipv4, ipv6) {
			ifaces = append(ifaces, iface)
		}
	}
	if len(ifaces) == 0 {
		ifaces = loopbackFallback(ipv4, ipv6)
	}
	return ifaces, nil
}

func logNetworkInfo(snap *Snapshot, full bool) {
	logger.WithFields(map[string]interface{}{
		"generation": snap.Generation.String(),
		"full":       full,
		"ipv4":       snap.IPv4Enabled,
		"ipv6":       snap.IPv6Enabled,
		"lan":        joinPrefixes(snap.LANSubnets),
		"excluded":   joinPrefixes(snap.ExcludedSubnets),
		"interfaces": joinInterfaces(snap.Interfaces),
		"bind":       joinInterfaces(snap.BindInterfaces),
	}).Info("Network information")

	if len(snap.Overrides) > 0 {
		parts := make([]string, 0, len(snap.Overrides))
		for _, r := range snap.Overrides {
			parts = append(parts, r.Key()+"="+r.Replacement)
		}
		logger.WithField("overrides", strings.Join(parts, ", ")).Debug("Published server overrides")
	}
	if len(snap.RemoteFilter) > 0 {
		mode := "allow"
		if snap.RemoteFilterBlacklist {
			mode = "deny"
		}
		logger.WithFields(map[string]interface{}{
			"filter": joinPrefixes(snap.RemoteFilter),
			"mode":   mode,
		}).Debug("Remote IP filter")
	}
}

func joinPrefixes(list []netip.Prefix) string {
	parts := make([]string, 0, len(list))
	for _, p := range list {
		parts = append(parts, p.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func joinInterfaces(list []InterfaceAddress) string {
	parts := make([]string, 0, len(list))
	for _, iface := range list {
		parts = append(parts, iface.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func nonBlank(list []string) []string {
	var out []string
	for _, s := range list {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// ResolveBindAddress returns the address to advertise to peer. See
// State.ResolveBindAddress.
func (m *Manager) ResolveBindAddress(peer netip.Addr, skipOverrides bool) (string, *int) {
	return m.Snapshot().ResolveBindAddress(peer, skipOverrides)
}

// ResolveBindAddressString resolves host (an address or name) and answers for
// its first address. An empty or unresolvable host means no specific peer.
func (m *Manager) ResolveBindAddressString(ctx context.Context, host string) (string, *int) {
	snap := m.Snapshot()
	return snap.ResolveBindAddress(m.firstAddress(ctx, snap, host), false)
}

// ResolveBindAddressForRequest answers for the host the request was sent to.
// When no override supplies a port the request's port is returned.
func (m *Manager) ResolveBindAddressForRequest(r *http.Request) (string, *int) {
	host := r.Host
	var reqPort *int
	if h, p, err := net.SplitHostPort(r.Host); err == nil {
		host = h
		if n, err := strconv.Atoi(p); err == nil {
			reqPort = &n
		}
	}

	address, port := m.ResolveBindAddressString(r.Context(), host)
	if port == nil {
		port = reqPort
	}
	return address, port
}

func (m *Manager) firstAddress(ctx context.Context, snap *Snapshot, host string) netip.Addr {
	if strings.TrimSpace(host) == "" {
		return netip.Addr{}
	}
	addrs, err := netutil.ParseHostWith(ctx, m.resolver, host, snap.IPv4Enabled, snap.IPv6Enabled)
	if err != nil || len(addrs) == 0 {
		logger.WithField("host", host).Debugf("Cannot resolve host, treating as unknown peer: %v", err)
		return netip.Addr{}
	}
	return addrs[0]
}

// AllBindInterfaces returns the bind interfaces or the any-address entries.
func (m *Manager) AllBindInterfaces(individual bool) []InterfaceAddress {
	return m.Snapshot().AllBindInterfaces(individual)
}

// InternalBindAddresses returns the bind interfaces inside the LAN.
func (m *Manager) InternalBindAddresses() []InterfaceAddress {
	return m.Snapshot().InternalBindAddresses()
}

// Loopbacks returns the loopback entries of the enabled families.
func (m *Manager) Loopbacks() []InterfaceAddress {
	return m.Snapshot().Loopbacks()
}

// MACAddresses returns the physical addresses of the scanned adapters.
func (m *Manager) MACAddresses() []string {
	macs := m.Snapshot().MACAddresses
	out := make([]string, len(macs))
	copy(out, macs)
	return out
}

// TryResolveAdapterName returns the bind addresses of the named adapter.
func (m *Manager) TryResolveAdapterName(name string) ([]InterfaceAddress, bool) {
	return m.Snapshot().TryResolveAdapterName(name)
}

// IsLocal reports whether addr is inside the LAN.
func (m *Manager) IsLocal(addr netip.Addr) bool {
	return m.Snapshot().IsLocal(addr)
}

// IsLocalString reports whether any address host resolves to is inside the LAN.
func (m *Manager) IsLocalString(ctx context.Context, host string) bool {
	snap := m.Snapshot()
	addrs, err := netutil.ParseHostWith(ctx, m.resolver, host, snap.IPv4Enabled, snap.IPv6Enabled)
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if snap.IsLocal(addr) {
			return true
		}
	}
	return false
}

// IsRemoteAllowed reports whether peer may access the server.
func (m *Manager) IsRemoteAllowed(peer netip.Addr) bool {
	return m.Snapshot().IsRemoteAllowed(peer)
}
