package network

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"go.uber.org/multierr"

	"github.com/strazto/jellyfin/internal/logger"
	"github.com/strazto/jellyfin/internal/netutil"
)

// scanInterfaces enumerates source and builds the raw interface list and MAC
// list. Adapters must be up and multicast capable. A failed scan or an empty
// result falls back to the loopback entries of the enabled families.
func scanInterfaces(ctx context.Context, source InterfaceSource, ipv4, ipv6 bool) ([]InterfaceAddress, []string) {
	adapters, err := source.Adapters(ctx)
	if err != nil {
		logger.WithError(err).Error("Error obtaining network interfaces, falling back to loopback")
		adapters = nil
	}

	ifaces, macs := buildInterfaces(adapters, ipv4, ipv6)
	if len(ifaces) == 0 {
		logger.Warnf("No usable network interfaces found, using loopback")
		ifaces = loopbackFallback(ipv4, ipv6)
	}
	return ifaces, macs
}

// buildInterfaces converts adapters into interface entries. A failure inside
// one adapter is logged and only that adapter's bad data is skipped.
func buildInterfaces(adapters []Adapter, ipv4, ipv6 bool) ([]InterfaceAddress, []string) {
	var (
		ifaces []InterfaceAddress
		macs   []string
		seen   = make(map[string]struct{})
	)

	for _, adapter := range adapters {
		if !adapter.Up || !adapter.Multicast {
			continue
		}

		entries, mac, err := adapterEntries(adapter, ipv4, ipv6)
		if err != nil {
			logger.WithField("adapter", adapter.Name).WithError(err).Error("Error reading network adapter")
		}
		if mac != "" {
			if _, dup := seen[mac]; !dup {
				seen[mac] = struct{}{}
				macs = append(macs, mac)
			}
		}
		ifaces = append(ifaces, entries...)
	}
	return ifaces, macs
}

// adapterEntries extracts the MAC and the enabled-family unicast addresses of
// one adapter. Panics are turned into errors so one adapter cannot abort the
// scan.
func adapterEntries(adapter Adapter, ipv4, ipv6 bool) (entries []InterfaceAddress, mac string, err error) {
	defer func() {
		if r := recover(); r != nil {
			entries, mac = nil, ""
			err = fmt.Errorf("panic while reading adapter: %v", r)
		}
	}()

	if !adapter.Loopback {
		mac = normalizeMAC(adapter.HardwareAddr)
	}

	for _, raw := range adapter.Addrs {
		prefix, perr := netip.ParsePrefix(strings.TrimSpace(raw))
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("address %q: %w", raw, perr))
			continue
		}
		addr := prefix.Addr()
		if !isUnicast(addr) || !netutil.FamilyEnabled(addr, ipv4, ipv6) {
			continue
		}
		iface, ierr := NewInterfaceAddress(addr, prefix.Bits(), adapter.Name, adapter.Index)
		if ierr != nil {
			err = multierr.Append(err, ierr)
			continue
		}
		entries = append(entries, iface)
	}
	return entries, mac, err
}

func isUnicast(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsValid() &&
		!addr.IsUnspecified() &&
		!addr.IsMulticast() &&
		addr != netip.AddrFrom4([4]byte{255, 255, 255, 255})
}

// normalizeMAC returns the canonical colon form or "" for missing and all-zero
// addresses.
func normalizeMAC(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	hw, err := net.ParseMAC(value)
	if err != nil || len(hw) == 0 {
		return ""
	}
	for _, b := range hw {
		if b != 0 {
			return strings.ToUpper(hw.String())
		}
	}
	return ""
}

// loopbackFallback synthesizes 127.0.0.1/8 and ::1/128 for enabled families.
func loopbackFallback(ipv4, ipv6 bool) []InterfaceAddress {
	var result []InterfaceAddress
	if ipv4 {
		result = append(result, loopbackInterface(false))
	}
	if ipv6 {
		result = append(result, loopbackInterface(true))
	}
	return result
}
