package network

import (
	"net/netip"
	"strings"

	"go.uber.org/multierr"

	"github.com/strazto/jellyfin/internal/netutil"
)

// parseRemoteFilter converts the remote IP filter into subnets. Entries with a
// "/" are subnets; bare addresses become host prefixes. An empty list or a
// blank first entry means no filter. Invalid entries are dropped and reported.
func parseRemoteFilter(entries []string) ([]netip.Prefix, error) {
	if len(entries) == 0 || strings.TrimSpace(entries[0]) == "" {
		return nil, nil
	}

	var (
		result []netip.Prefix
		errs   error
	)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netutil.ParseSubnet(entry)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			result = append(result, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			errs = multierr.Append(errs, &netutil.ParseError{Input: entry, Reason: "invalid address"})
			continue
		}
		addr = addr.Unmap().WithZone("")
		result = append(result, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return result, errs
}
