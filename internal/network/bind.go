package network

import (
	"net/netip"
	"strings"

	"github.com/strazto/jellyfin/internal/config"
	"github.com/strazto/jellyfin/internal/logger"
	"github.com/strazto/jellyfin/internal/netutil"
)

// enforceBindSettings derives the bind set from the raw interface list.
// The raw list is never modified.
func enforceBindSettings(raw []InterfaceAddress, cfg config.NetworkConfig, ipv4, ipv6 bool) []InterfaceAddress {
	bind := cloneInterfaces(raw)

	if entries := nonBlank(cfg.LocalNetworkAddresses); len(entries) > 0 {
		bind = restrictToAddresses(bind, raw, entries, ipv4, ipv6)
	}

	if cfg.IgnoreVirtualInterfaces {
		bind = dropVirtual(bind, cfg.VirtualInterfaceNames)
	}

	result := make([]InterfaceAddress, 0, len(bind))
	seen := make(map[netip.Addr]struct{}, len(bind))
	for _, iface := range bind {
		if !netutil.FamilyEnabled(iface.Address, ipv4, ipv6) {
			continue
		}
		key := iface.Address.WithZone("")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, iface)
	}
	return result
}

// restrictToAddresses keeps the interfaces whose address was requested, either
// literally or through the name of its adapter. Requested loopback addresses
// missing from the scan are synthesized.
func restrictToAddresses(bind, raw []InterfaceAddress, entries []string, ipv4, ipv6 bool) []InterfaceAddress {
	wanted := make(map[netip.Addr]struct{})
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if p, err := netutil.ParseSubnet(entry); err == nil {
			wanted[p.Addr().Unmap()] = struct{}{}
			continue
		}
		found := false
		for _, iface := range raw {
			if strings.EqualFold(iface.AdapterName, entry) {
				wanted[iface.Address.WithZone("")] = struct{}{}
				found = true
			}
		}
		if !found {
			logger.WithField("entry", entry).Warn("Bind address matches no address or adapter, ignoring")
		}
	}

	var result []InterfaceAddress
	for _, iface := range bind {
		if _, ok := wanted[iface.Address.WithZone("")]; ok {
			result = append(result, iface)
		}
	}

	for _, v6 := range []bool{false, true} {
		lo := loopbackInterface(v6)
		if _, ok := wanted[lo.Address]; !ok {
			continue
		}
		if !netutil.FamilyEnabled(lo.Address, ipv4, ipv6) || containsAddress(result, lo.Address) {
			continue
		}
		result = append(result, lo)
	}
	return result
}

// dropVirtual removes interfaces whose adapter name starts with one of the
// virtual prefixes. Wildcards are stripped and matching ignores case.
func dropVirtual(bind []InterfaceAddress, names []string) []InterfaceAddress {
	var prefixes []string
	for _, name := range names {
		p := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(name, "*", "")))
		if p != "" {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		return bind
	}

	result := bind[:0:0]
	for _, iface := range bind {
		name := strings.ToLower(iface.AdapterName)
		virtual := false
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				virtual = true
				break
			}
		}
		if !virtual {
			result = append(result, iface)
		}
	}
	return result
}

func containsAddress(list []InterfaceAddress, addr netip.Addr) bool {
	for _, iface := range list {
		if iface.Address == addr {
			return true
		}
	}
	return false
}
