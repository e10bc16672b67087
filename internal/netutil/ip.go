// Package netutil provides address and subnet helpers shared by the network engine.
// Everything here is a pure function over net/netip values.
package netutil

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// ParseError reports an address, subnet or host string that could not be used.
type ParseError struct {
	Input  string
	Reason string
}

// Error returns a formatted error message
func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %q: %s", e.Input, e.Reason)
}

// ParseSubnet parses "addr/len", "addr/dotted-mask" or a bare address.
// A bare address yields a host prefix (/32 or /128) except for the unspecified
// addresses, which yield 0.0.0.0/0 and ::/0.
//
// The returned prefix keeps the host bits of the address; use Masked() for the
// network itself.
func ParseSubnet(text string) (netip.Prefix, error) {
	return parseSubnet(text, false)
}

// ParseSubnetNegated parses an exclusion entry ("!addr/len"). Entries without
// the "!" marker are rejected.
func ParseSubnetNegated(text string) (netip.Prefix, error) {
	return parseSubnet(text, true)
}

func parseSubnet(text string, negated bool) (netip.Prefix, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return netip.Prefix{}, &ParseError{Input: text, Reason: "empty value"}
	}

	excluded := strings.HasPrefix(s, "!")
	if negated != excluded {
		if negated {
			return netip.Prefix{}, &ParseError{Input: text, Reason: "not an exclusion entry"}
		}
		return netip.Prefix{}, &ParseError{Input: text, Reason: "exclusion entry"}
	}
	if excluded {
		s = strings.TrimSpace(s[1:])
	}

	addrPart, lenPart, hasLen := strings.Cut(s, "/")
	addr, err := netip.ParseAddr(strings.TrimSpace(addrPart))
	if err != nil {
		return netip.Prefix{}, &ParseError{Input: text, Reason: "invalid address"}
	}
	addr = addr.WithZone("")

	if !hasLen {
		if addr.Is4In6() {
			addr = addr.Unmap()
		}
		if addr.IsUnspecified() {
			return netip.PrefixFrom(addr, 0), nil
		}
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}

	lenPart = strings.TrimSpace(lenPart)
	bits, err := strconv.Atoi(lenPart)
	if err != nil {
		mask, merr := netip.ParseAddr(lenPart)
		if merr != nil {
			return netip.Prefix{}, &ParseError{Input: text, Reason: "invalid prefix length"}
		}
		bits, err = MaskToPrefixLength(mask)
		if err != nil {
			return netip.Prefix{}, &ParseError{Input: text, Reason: err.Error()}
		}
	}

	if addr.Is4In6() && bits >= 96 {
		addr = addr.Unmap()
		bits -= 96
	}

	p := netip.PrefixFrom(addr, bits)
	if !p.IsValid() {
		return netip.Prefix{}, &ParseError{Input: text, Reason: "prefix length out of range"}
	}
	return p, nil
}

// MaskToPrefixLength converts a dotted netmask such as 255.255.240.0 into its
// prefix length. Non-contiguous masks are rejected.
func MaskToPrefixLength(mask netip.Addr) (int, error) {
	ones, bits := net.IPMask(mask.AsSlice()).Size()
	if bits == 0 {
		return 0, fmt.Errorf("non-contiguous netmask %s", mask)
	}
	return ones, nil
}

// ParseSubnets parses every entry of list and returns the masked networks that
// parsed. With negated set only "!" entries are considered; otherwise "!"
// entries are ignored. Blank entries are skipped silently. The returned error
// aggregates every rejected entry; the successfully parsed subnets are still
// returned alongside it.
func ParseSubnets(list []string, negated bool) ([]netip.Prefix, error) {
	var (
		result []netip.Prefix
		errs   error
	)
	for _, entry := range list {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "!") != negated {
			continue
		}
		p, err := parseSubnet(trimmed, negated)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		result = append(result, p.Masked())
	}
	return result, errs
}

// SubnetContains reports whether addr is inside subnet. IPv4-mapped IPv6
// addresses are compared as IPv4 and families never match across.
func SubnetContains(subnet netip.Prefix, addr netip.Addr) bool {
	if !subnet.IsValid() || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap().WithZone("")
	if subnet.Addr().Is4() != addr.Is4() {
		return false
	}
	return subnet.Contains(addr)
}

// ContainedInAny reports whether addr is inside at least one of subnets.
func ContainedInAny(subnets []netip.Prefix, addr netip.Addr) bool {
	for _, s := range subnets {
		if SubnetContains(s, addr) {
			return true
		}
	}
	return false
}

// FormatAddress returns the textual form used for every outward-facing result.
// IPv6 addresses lose their zone and are wrapped in brackets so they can be
// placed in a URL as-is.
func FormatAddress(addr netip.Addr) string {
	if !addr.IsValid() {
		return ""
	}
	addr = addr.Unmap()
	if addr.Is6() {
		return "[" + addr.WithZone("").String() + "]"
	}
	return addr.String()
}

// SplitHostPortOptional splits a trailing ":port" from value when one is present
// and numeric. Without a valid port the trimmed value is returned unchanged.
func SplitHostPortOptional(value string) (string, *int) {
	v := strings.TrimSpace(value)
	host, portStr, err := net.SplitHostPort(v)
	if err != nil {
		return v, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return v, nil
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return host, &port
}

// IsIPv4 reports whether addr is IPv4 (including IPv4-mapped IPv6).
func IsIPv4(addr netip.Addr) bool {
	return addr.IsValid() && addr.Unmap().Is4()
}

// IsLoopback reports whether addr is a loopback address of either family.
func IsLoopback(addr netip.Addr) bool {
	return addr.IsValid() && addr.Unmap().IsLoopback()
}

// FamilyEnabled reports whether addr belongs to one of the enabled families.
func FamilyEnabled(addr netip.Addr, ipv4, ipv6 bool) bool {
	if IsIPv4(addr) {
		return ipv4
	}
	return ipv6 && addr.IsValid()
}
