package network

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strazto/jellyfin/internal/config"
)

func iface(t *testing.T, cidr, name string, index int) InterfaceAddress {
	t.Helper()
	p := netip.MustParsePrefix(cidr)
	i, err := NewInterfaceAddress(p.Addr(), p.Bits(), name, index)
	require.NoError(t, err)
	return i
}

func prefixes(list ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(list))
	for _, s := range list {
		out = append(out, netip.MustParsePrefix(s))
	}
	return out
}

func addr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

func adapter(name string, index int, addrs ...string) Adapter {
	return Adapter{
		Name:         name,
		Index:        index,
		HardwareAddr: fmt.Sprintf("00:11:22:33:44:%02x", index),
		Up:           true,
		Multicast:    true,
		Addrs:        addrs,
	}
}

// staticConfig is a mutable ConfigProvider.
type staticConfig struct {
	mu  sync.Mutex
	cfg config.NetworkConfig
}

func newStaticConfig(fn func(*config.NetworkConfig)) *staticConfig {
	cfg := config.DefaultNetworkConfig()
	if fn != nil {
		fn(&cfg)
	}
	return &staticConfig{cfg: cfg}
}

func (s *staticConfig) GetNetwork() config.NetworkConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

func (s *staticConfig) update(fn func(*config.NetworkConfig)) {
	s.mu.Lock()
	fn(&s.cfg)
	s.mu.Unlock()
}

// switchSource serves adapters that tests can replace, fail or block.
type switchSource struct {
	mu       sync.Mutex
	adapters []Adapter
	err      error
	panicMsg string
	gate     chan struct{}
	entered  chan struct{}
}

func newSwitchSource(adapters ...Adapter) *switchSource {
	return &switchSource{adapters: adapters}
}

func (s *switchSource) Adapters(ctx context.Context) ([]Adapter, error) {
	s.mu.Lock()
	gate, entered := s.gate, s.entered
	adapters, err, panicMsg := s.adapters, s.err, s.panicMsg
	s.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}
	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([]Adapter, len(adapters))
	copy(out, adapters)
	return out, err
}

func (s *switchSource) set(adapters ...Adapter) {
	s.mu.Lock()
	s.adapters = adapters
	s.mu.Unlock()
}

type fakeResolver map[string][]netip.Addr

func (f fakeResolver) LookupNetIP(_ context.Context, _ string, host string) ([]netip.Addr, error) {
	addrs, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	out := make([]netip.Addr, len(addrs))
	copy(out, addrs)
	return out, nil
}
