// Package network discovers local interfaces, classifies addresses as LAN or
// WAN and answers which local address the server should bind to or advertise
// for a given peer.
//
// All derived state lives in an immutable Snapshot published through an
// atomic pointer. Queries read the current snapshot without locking; a refresh
// builds a complete new snapshot and swaps it in.
package network

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/strazto/jellyfin/internal/netutil"
)

// NeutralIndex is the adapter index of synthetic and configured entries.
const NeutralIndex = 0

// ErrClosed is returned by operations on a closed Manager.
var ErrClosed = errors.New("network manager closed")

// InterfaceAddress is one discovered or configured local address.
// Address is always inside Subnet.
type InterfaceAddress struct {
	Address      netip.Addr   `json:"address"`
	Subnet       netip.Prefix `json:"subnet"`
	AdapterName  string       `json:"adapterName"`
	AdapterIndex int          `json:"adapterIndex"`
}

// NewInterfaceAddress builds an entry for addr inside its network of the
// given prefix length. IPv4-mapped addresses are unmapped.
func NewInterfaceAddress(addr netip.Addr, bits int, adapterName string, adapterIndex int) (InterfaceAddress, error) {
	if !addr.IsValid() {
		return InterfaceAddress{}, fmt.Errorf("invalid interface address")
	}
	if addr.Is4In6() {
		addr = addr.Unmap()
		if bits >= 96 {
			bits -= 96
		}
	}
	subnet, err := addr.WithZone("").Prefix(bits)
	if err != nil {
		return InterfaceAddress{}, fmt.Errorf("invalid prefix length %d for %s: %w", bits, addr, err)
	}
	return InterfaceAddress{
		Address:      addr,
		Subnet:       subnet,
		AdapterName:  adapterName,
		AdapterIndex: adapterIndex,
	}, nil
}

// loopbackInterface returns the synthetic loopback entry of one family.
func loopbackInterface(ipv6 bool) InterfaceAddress {
	p := netutil.IPv4LoopbackHost
	if ipv6 {
		p = netutil.IPv6LoopbackHost
	}
	iface, _ := NewInterfaceAddress(p.Addr(), p.Bits(), "", NeutralIndex)
	return iface
}

// anyInterface returns the any-address sentinel entry of one family.
func anyInterface(ipv6 bool) InterfaceAddress {
	p := netutil.IPv4Any
	if ipv6 {
		p = netutil.IPv6Any
	}
	iface, _ := NewInterfaceAddress(p.Addr(), p.Bits(), "", NeutralIndex)
	return iface
}

// IsLoopback reports whether the address is a loopback address.
func (i InterfaceAddress) IsLoopback() bool {
	return netutil.IsLoopback(i.Address)
}

// IsIPv4 reports whether the address is IPv4.
func (i InterfaceAddress) IsIPv4() bool {
	return netutil.IsIPv4(i.Address)
}

// String returns "address/bits [name #index]".
func (i InterfaceAddress) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%d", i.Address.WithZone(""), i.Subnet.Bits())
	if i.AdapterName != "" {
		fmt.Fprintf(&b, " [%s #%d]", i.AdapterName, i.AdapterIndex)
	}
	return b.String()
}

// OverrideKind tells how an override rule is matched against a peer.
type OverrideKind int

const (
	// OverrideSubnet matches peers inside Subnet.
	OverrideSubnet OverrideKind = iota
	// OverrideExternal matches non-LAN peers of Subnet's family.
	OverrideExternal
	// OverrideAll matches every peer.
	OverrideAll
)

// String returns the configuration keyword of the kind.
func (k OverrideKind) String() string {
	switch k {
	case OverrideExternal:
		return "external"
	case OverrideAll:
		return "all"
	default:
		return "subnet"
	}
}

// MarshalText renders the kind as its keyword.
func (k OverrideKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// broadcastSentinel keys "all" rules.
var broadcastSentinel = netip.MustParsePrefix("255.255.255.255/32")

// OverrideRule maps peers to a replacement "host[:port]".
type OverrideRule struct {
	Kind        OverrideKind `json:"kind"`
	Subnet      netip.Prefix `json:"subnet"`
	Replacement string       `json:"replacement"`
}

// IsWildcard reports whether the rule is keyed by a sentinel rather than a
// real subnet.
func (r OverrideRule) IsWildcard() bool {
	return r.Kind != OverrideSubnet
}

// Matches reports whether the rule applies to peer.
func (r OverrideRule) Matches(peer netip.Addr, isExternal bool) bool {
	switch r.Kind {
	case OverrideAll:
		return true
	case OverrideExternal:
		return isExternal && netutil.SubnetContains(r.Subnet, peer)
	default:
		return netutil.SubnetContains(r.Subnet, peer)
	}
}

// Key returns the map-style key the rule is published under.
func (r OverrideRule) Key() string {
	if r.Kind == OverrideSubnet {
		return r.Subnet.String()
	}
	return r.Kind.String() + ":" + r.Subnet.String()
}
