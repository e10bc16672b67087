package netutil

import (
	"context"
	"net"
	"net/netip"
	"strings"
)

// HostResolver looks up the addresses of a host name.
// *net.Resolver satisfies it.
type HostResolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// DefaultResolver is the resolver used by ParseHost.
var DefaultResolver HostResolver = net.DefaultResolver

// ParseHost resolves text into the addresses it names, keeping only the enabled
// families. Accepted forms are IPv4 and IPv6 literals, "[v6]" and "[v6]:port",
// "v4:port", "addr/len" and DNS host names with an optional ":port".
func ParseHost(ctx context.Context, text string, ipv4, ipv6 bool) ([]netip.Addr, error) {
	return ParseHostWith(ctx, DefaultResolver, text, ipv4, ipv6)
}

// ParseHostWith is ParseHost with an explicit resolver.
func ParseHostWith(ctx context.Context, r HostResolver, text string, ipv4, ipv6 bool) ([]netip.Addr, error) {
	host := strings.TrimSpace(text)
	if host == "" {
		return nil, &ParseError{Input: text, Reason: "empty value"}
	}

	if strings.HasPrefix(host, "[") {
		end := strings.IndexByte(host, ']')
		if end < 0 {
			return nil, &ParseError{Input: text, Reason: "unterminated bracket"}
		}
		host = host[1:end]
		addr, err := netip.ParseAddr(host)
		if err != nil || !addr.Is6() {
			return nil, &ParseError{Input: text, Reason: "invalid IPv6 literal"}
		}
		return filterFamily(text, []netip.Addr{addr.WithZone("")}, ipv4, ipv6)
	}

	// "addr/len" or a plain literal
	if p, err := ParseSubnet(host); err == nil {
		return filterFamily(text, []netip.Addr{p.Addr()}, ipv4, ipv6)
	}

	parts := strings.Split(host, ":")
	switch {
	case len(parts) == 2:
		// v4:port or name:port
		host = parts[0]
		if addr, err := netip.ParseAddr(host); err == nil {
			return filterFamily(text, []netip.Addr{addr}, ipv4, ipv6)
		}
	case len(parts) > 2:
		// colons without a parsable IPv6 literal
		if addr, err := netip.ParseAddr(host); err == nil {
			return filterFamily(text, []netip.Addr{addr.WithZone("")}, ipv4, ipv6)
		}
		return nil, &ParseError{Input: text, Reason: "invalid IPv6 literal"}
	}

	if !IsHostName(host) {
		return nil, &ParseError{Input: text, Reason: "not an address or host name"}
	}
	if r == nil {
		r = DefaultResolver
	}
	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, &ParseError{Input: text, Reason: "lookup failed: " + err.Error()}
	}
	for i := range addrs {
		addrs[i] = addrs[i].Unmap().WithZone("")
	}
	return filterFamily(text, addrs, ipv4, ipv6)
}

func filterFamily(input string, addrs []netip.Addr, ipv4, ipv6 bool) ([]netip.Addr, error) {
	result := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		a = a.Unmap()
		if FamilyEnabled(a, ipv4, ipv6) {
			result = append(result, a)
		}
	}
	if len(result) == 0 {
		return nil, &ParseError{Input: input, Reason: "no address of an enabled family"}
	}
	return result, nil
}

// IsHostName reports whether name is a syntactically valid DNS name: labels of
// letters, digits and hyphens, at most 63 bytes each and 253 in total, with a
// final label that is not purely numeric. A single trailing dot is allowed.
func IsHostName(name string) bool {
	name = strings.TrimSuffix(name, ".")
	if name == "" || len(name) > 253 {
		return false
	}
	labels := strings.Split(name, ".")
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			default:
				return false
			}
		}
	}
	last := labels[len(labels)-1]
	return strings.Trim(last, "0123456789") != ""
}
