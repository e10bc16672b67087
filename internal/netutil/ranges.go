package netutil

import (
	"net"
	"net/netip"
)

// Well-known networks.
var (
	IPv4Any      = netip.MustParsePrefix("0.0.0.0/0")
	IPv6Any      = netip.MustParsePrefix("::/0")
	IPv4Loopback = netip.MustParsePrefix("127.0.0.0/8")
	IPv6Loopback = netip.MustParsePrefix("::1/128")

	IPv4Private10  = netip.MustParsePrefix("10.0.0.0/8")
	IPv4Private172 = netip.MustParsePrefix("172.16.0.0/12")
	IPv4Private192 = netip.MustParsePrefix("192.168.0.0/16")

	IPv6LinkLocal   = netip.MustParsePrefix("fe80::/10")
	IPv6UniqueLocal = netip.MustParsePrefix("fc00::/7")

	// Loopback interface prefixes synthesized when nothing else is available.
	IPv4LoopbackHost = netip.MustParsePrefix("127.0.0.1/8")
	IPv6LoopbackHost = netip.MustParsePrefix("::1/128")
)

// DefaultLANSubnets returns the private ranges treated as local when no LAN
// subnets are configured, for the enabled families only.
func DefaultLANSubnets(ipv4, ipv6 bool) []netip.Prefix {
	var result []netip.Prefix
	if ipv6 {
		result = append(result, IPv6Loopback, IPv6LinkLocal, IPv6UniqueLocal)
	}
	if ipv4 {
		result = append(result, IPv4Loopback, IPv4Private10, IPv4Private172, IPv4Private192)
	}
	return result
}

// IsAnySentinel reports whether p is one of the any-address networks.
func IsAnySentinel(p netip.Prefix) bool {
	return p == IPv4Any || p == IPv6Any
}

// SupportsIPv6 reports whether the host can open an IPv6 socket.
// The probe runs every call since IPv6 can be enabled or removed at runtime.
func SupportsIPv6() bool {
	ln, err := net.Listen("tcp6", "[::1]:0")
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
