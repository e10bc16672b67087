package network

import (
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strazto/jellyfin/internal/netutil"
)

// State is the content of a snapshot. Two refreshes over identical
// configuration and interfaces produce equal States.
type State struct {
	IPv4Enabled bool `json:"ipv4Enabled"`
	IPv6Enabled bool `json:"ipv6Enabled"`

	// Interfaces is the raw scan; BindInterfaces the enforced bind set.
	Interfaces     []InterfaceAddress `json:"interfaces"`
	BindInterfaces []InterfaceAddress `json:"bindInterfaces"`
	ExplicitBind   bool               `json:"explicitBind"`
	MACAddresses   []string           `json:"macAddresses"`

	LANSubnets      []netip.Prefix `json:"lanSubnets"`
	ExcludedSubnets []netip.Prefix `json:"excludedSubnets"`

	// Overrides are kept in match precedence order.
	Overrides []OverrideRule `json:"overrides"`

	RemoteFilter          []netip.Prefix `json:"remoteFilter"`
	RemoteFilterBlacklist bool           `json:"remoteFilterBlacklist"`
	EnableRemoteAccess    bool           `json:"enableRemoteAccess"`
	TrustAllIPv6          bool           `json:"trustAllIPv6"`
}

// Snapshot is one published, immutable State. Never modify a Snapshot or the
// slices it holds; build a new one instead.
type Snapshot struct {
	State
	Generation uuid.UUID `json:"generation"`
	CreatedAt  time.Time `json:"createdAt"`
}

func newSnapshot(state State, now time.Time) *Snapshot {
	return &Snapshot{
		State:      state,
		Generation: uuid.New(),
		CreatedAt:  now,
	}
}

// IsLocal reports whether addr is loopback, an IPv6 address while all IPv6 is
// trusted, or inside a LAN subnet and no excluded subnet.
func (s *State) IsLocal(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	if s.TrustAllIPv6 && addr.Is6() {
		return true
	}
	if addr.IsLoopback() {
		return true
	}
	return netutil.ContainedInAny(s.LANSubnets, addr) && !netutil.ContainedInAny(s.ExcludedSubnets, addr)
}

// IsRemoteAllowed decides whether peer may use the server remotely.
// Local peers are always allowed. With remote access disabled nothing else
// is. Otherwise a configured filter acts as allow-list or deny-list.
func (s *State) IsRemoteAllowed(peer netip.Addr) bool {
	if !peer.IsValid() {
		return false
	}
	local := s.IsLocal(peer)
	if !s.EnableRemoteAccess {
		return local
	}
	if local || len(s.RemoteFilter) == 0 {
		return true
	}
	matched := netutil.ContainedInAny(s.RemoteFilter, peer)
	if s.RemoteFilterBlacklist {
		return !matched
	}
	return matched
}

// Loopbacks returns the loopback entries of the enabled families.
func (s *State) Loopbacks() []InterfaceAddress {
	var result []InterfaceAddress
	if s.IPv4Enabled {
		result = append(result, loopbackInterface(false))
	}
	if s.IPv6Enabled {
		result = append(result, loopbackInterface(true))
	}
	return result
}

// AllBindInterfaces returns the bind set. Without an explicit bind
// configuration, and unless individual is set, the any-address entries of
// the enabled families are returned instead so callers listen everywhere.
func (s *State) AllBindInterfaces(individual bool) []InterfaceAddress {
	if individual || (s.ExplicitBind && len(s.BindInterfaces) > 0) {
		return cloneInterfaces(s.BindInterfaces)
	}
	var result []InterfaceAddress
	if s.IPv4Enabled {
		result = append(result, anyInterface(false))
	}
	if s.IPv6Enabled {
		result = append(result, anyInterface(true))
	}
	return result
}

// InternalBindAddresses returns the local bind interfaces by adapter index.
func (s *State) InternalBindAddresses() []InterfaceAddress {
	var result []InterfaceAddress
	for _, iface := range s.BindInterfaces {
		if s.IsLocal(iface.Address) {
			result = append(result, iface)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].AdapterIndex < result[j].AdapterIndex
	})
	return result
}

// TryResolveAdapterName returns the bind addresses of the named adapter
// (case-insensitive) by adapter index.
func (s *State) TryResolveAdapterName(name string) ([]InterfaceAddress, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	var result []InterfaceAddress
	for _, iface := range s.BindInterfaces {
		if !strings.EqualFold(iface.AdapterName, name) {
			continue
		}
		if !netutil.FamilyEnabled(iface.Address, s.IPv4Enabled, s.IPv6Enabled) {
			continue
		}
		result = append(result, iface)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].AdapterIndex < result[j].AdapterIndex
	})
	return result, len(result) > 0
}

func cloneInterfaces(in []InterfaceAddress) []InterfaceAddress {
	if in == nil {
		return nil
	}
	out := make([]InterfaceAddress, len(in))
	copy(out, in)
	return out
}
