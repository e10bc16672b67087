package network

import (
	"net/netip"
	"sort"

	"github.com/strazto/jellyfin/internal/netutil"
)

// ResolveBindAddress returns the local address to bind to or advertise for
// peer, plus a port when an override rule supplied one. An invalid peer means
// no specific requester. The result is never empty.
//
// Order of decision: override rules (unless skipOverrides), the bind set
// filtered by the peer's side of the LAN boundary, any raw non-LAN interface
// for external peers, then the best non-loopback bind interface, and finally
// the loopback literal.
func (s *State) ResolveBindAddress(peer netip.Addr, skipOverrides bool) (string, *int) {
	isExternal := false
	if peer.IsValid() {
		peer = peer.Unmap()
		isExternal = !s.inLAN(peer)

		if !skipOverrides {
			if host, port, ok := s.matchOverride(peer, isExternal); ok {
				return host, port
			}
		}
	}

	if iface, ok := s.matchBindInterface(peer, isExternal); ok {
		return netutil.FormatAddress(iface.Address), nil
	}

	if isExternal {
		if iface, ok := s.matchExternalInterface(peer); ok {
			return netutil.FormatAddress(iface.Address), nil
		}
	}

	return s.fallbackAddress(peer), nil
}

// matchOverride returns the first rule in precedence order that applies.
func (s *State) matchOverride(peer netip.Addr, isExternal bool) (string, *int, bool) {
	for _, rule := range s.Overrides {
		if rule.Matches(peer, isExternal) {
			host, port := netutil.SplitHostPortOptional(rule.Replacement)
			return host, port, true
		}
	}
	return "", nil, false
}

// matchBindInterface picks from the bind interfaces on the peer's side of the
// LAN boundary. Loopback entries only qualify for peers inside them.
func (s *State) matchBindInterface(peer netip.Addr, isExternal bool) (InterfaceAddress, bool) {
	bind := s.BindInterfaces
	if len(bind) == 1 && bind[0].Address.IsUnspecified() {
		return InterfaceAddress{}, false
	}

	var candidates []InterfaceAddress
	for _, iface := range bind {
		if iface.Address.IsUnspecified() {
			continue
		}
		if s.inLAN(iface.Address) == isExternal {
			continue
		}
		if iface.IsLoopback() && !(peer.IsValid() && netutil.SubnetContains(iface.Subnet, peer)) {
			continue
		}
		candidates = append(candidates, iface)
	}
	return preferred(candidates, peer)
}

// matchExternalInterface picks from every scanned interface outside the LAN.
func (s *State) matchExternalInterface(peer netip.Addr) (InterfaceAddress, bool) {
	var candidates []InterfaceAddress
	for _, iface := range s.Interfaces {
		if iface.Address.IsUnspecified() || s.inLAN(iface.Address) {
			continue
		}
		candidates = append(candidates, iface)
	}
	return preferred(candidates, peer)
}

// fallbackAddress orders the non-loopback bind interfaces LAN first, then by
// adapter index, preferring one whose subnet holds peer.
func (s *State) fallbackAddress(peer netip.Addr) string {
	var candidates []InterfaceAddress
	for _, iface := range s.BindInterfaces {
		if iface.IsLoopback() || iface.Address.IsUnspecified() {
			continue
		}
		candidates = append(candidates, iface)
	}
	if len(candidates) == 0 {
		return s.loopbackLiteral()
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		li, lj := s.inLAN(candidates[i].Address), s.inLAN(candidates[j].Address)
		if li != lj {
			return li
		}
		return candidates[i].AdapterIndex < candidates[j].AdapterIndex
	})

	if peer.IsValid() {
		for _, iface := range candidates {
			if netutil.SubnetContains(iface.Subnet, peer) {
				return netutil.FormatAddress(iface.Address)
			}
		}
	}
	return netutil.FormatAddress(candidates[0].Address)
}

// loopbackLiteral is 127.0.0.1 when only IPv4 is enabled, else ::1. Unlike
// interface results it is never bracketed.
func (s *State) loopbackLiteral() string {
	if s.IPv4Enabled && !s.IPv6Enabled {
		return netutil.IPv4LoopbackHost.Addr().String()
	}
	return netutil.IPv6LoopbackHost.Addr().String()
}

// inLAN reports plain LAN-subnet membership. Unlike IsLocal it consults
// LANSubnets only.
func (s *State) inLAN(addr netip.Addr) bool {
	return netutil.ContainedInAny(s.LANSubnets, addr.Unmap())
}

// preferred orders candidates by: subnet holds peer, not loopback, lowest
// adapter index; and returns the first.
func preferred(candidates []InterfaceAddress, peer netip.Addr) (InterfaceAddress, bool) {
	if len(candidates) == 0 {
		return InterfaceAddress{}, false
	}
	sorted := cloneInterfaces(candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if peer.IsValid() {
			ca, cb := netutil.SubnetContains(a.Subnet, peer), netutil.SubnetContains(b.Subnet, peer)
			if ca != cb {
				return ca
			}
		}
		la, lb := a.IsLoopback(), b.IsLoopback()
		if la != lb {
			return lb
		}
		return a.AdapterIndex < b.AdapterIndex
	})
	return sorted[0], true
}
