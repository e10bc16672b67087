package network

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/strazto/jellyfin/internal/logger"
	"github.com/strazto/jellyfin/internal/netutil"
)

// Override keys with special meaning.
const (
	overrideKeyAll      = "all"
	overrideKeyExternal = "external"
	overrideKeyInternal = "internal"
)

// parseOverrides builds the override table from "key=replacement" entries.
//
// A malformed entry makes the whole table invalid: the returned table is empty
// and the error lists every malformed entry. Keys that are neither a keyword,
// a subnet nor a known adapter name are logged and skipped. A later entry for
// the same key replaces the earlier one.
func parseOverrides(entries []string, lan []netip.Prefix, ifaces []InterfaceAddress) ([]OverrideRule, error) {
	var (
		rules []OverrideRule
		index = make(map[string]int)
		errs  error
	)

	add := func(rule OverrideRule) {
		if i, ok := index[rule.Key()]; ok {
			rules[i] = rule
			return
		}
		index[rule.Key()] = len(rules)
		rules = append(rules, rule)
	}

	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		parts := strings.Split(entry, "=")
		if len(parts) != 2 {
			errs = multierr.Append(errs, fmt.Errorf("override %q: expected key=value", entry))
			continue
		}
		key := strings.TrimSpace(parts[0])
		replacement := strings.TrimSpace(parts[1])
		if key == "" || replacement == "" {
			errs = multierr.Append(errs, fmt.Errorf("override %q: empty key or value", entry))
			continue
		}

		switch strings.ToLower(key) {
		case overrideKeyAll:
			add(OverrideRule{Kind: OverrideAll, Subnet: broadcastSentinel, Replacement: replacement})
		case overrideKeyExternal:
			add(OverrideRule{Kind: OverrideExternal, Subnet: netutil.IPv4Any, Replacement: replacement})
			add(OverrideRule{Kind: OverrideExternal, Subnet: netutil.IPv6Any, Replacement: replacement})
		case overrideKeyInternal:
			for _, subnet := range lan {
				add(OverrideRule{Kind: OverrideSubnet, Subnet: subnet, Replacement: replacement})
			}
		default:
			if p, err := netutil.ParseSubnet(key); err == nil {
				add(OverrideRule{Kind: OverrideSubnet, Subnet: p.Masked(), Replacement: replacement})
				continue
			}
			matched := false
			for _, iface := range ifaces {
				if strings.EqualFold(iface.AdapterName, key) {
					add(OverrideRule{Kind: OverrideSubnet, Subnet: iface.Subnet, Replacement: replacement})
					matched = true
				}
			}
			if !matched {
				logger.WithField("key", key).Warn("Unknown override key, skipping")
			}
		}
	}

	if errs != nil {
		return nil, errs
	}
	sortOverrides(rules)
	return rules, nil
}

// sortOverrides orders rules for matching: subnet rules by descending prefix
// length, then external rules, then the catch-all.
func sortOverrides(rules []OverrideRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Kind == OverrideSubnet {
			return a.Subnet.Bits() > b.Subnet.Bits()
		}
		return false
	})
}

// OverrideTable returns the override rules keyed by OverrideRule.Key.
func (s *State) OverrideTable() map[string]string {
	table := make(map[string]string, len(s.Overrides))
	for _, r := range s.Overrides {
		table[r.Key()] = r.Replacement
	}
	return table
}
