package network

import (
	"net/netip"
	"strings"

	"go.uber.org/multierr"

	"github.com/strazto/jellyfin/internal/config"
	"github.com/strazto/jellyfin/internal/logger"
	"github.com/strazto/jellyfin/internal/netutil"
)

// lanSubnets returns the LAN subnets and the excluded subnets for cfg.
// Configured LAN entries of disabled families are dropped; when nothing usable
// remains the well-known private ranges of the enabled families are used.
// Excluded subnets are never merged into the LAN list, only subtracted when
// classifying.
func lanSubnets(cfg config.NetworkConfig, ipv4, ipv6 bool) (lan, excluded []netip.Prefix) {
	parsed, err := netutil.ParseSubnets(cfg.LocalNetworkSubnets, false)
	for _, p := range parsed {
		if netutil.FamilyEnabled(p.Addr(), ipv4, ipv6) {
			lan = append(lan, p)
		}
	}
	if len(lan) == 0 {
		lan = netutil.DefaultLANSubnets(ipv4, ipv6)
	}

	negated, nerr := netutil.ParseSubnets(cfg.LocalNetworkSubnets, true)
	excluded = append(excluded, negated...)
	extra, xerr := parseExcluded(cfg.ExcludedSubnets)
	excluded = append(excluded, extra...)

	if err = multierr.Combine(err, nerr, xerr); err != nil {
		logger.WithError(err).Warn("Ignoring invalid LAN subnet entries")
	}
	return lan, excluded
}

// parseExcluded accepts entries with or without the "!" marker.
func parseExcluded(list []string) ([]netip.Prefix, error) {
	var (
		result []netip.Prefix
		errs   error
	)
	for _, entry := range list {
		s := strings.TrimSpace(entry)
		s = strings.TrimSpace(strings.TrimPrefix(s, "!"))
		if s == "" {
			continue
		}
		p, err := netutil.ParseSubnet(s)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		result = append(result, p.Masked())
	}
	return result, errs
}
