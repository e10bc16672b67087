package network

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/strazto/jellyfin/internal/logger"
)

// Adapter is one operating-system network adapter as reported by an
// InterfaceSource.
type Adapter struct {
	Name         string
	Index        int
	HardwareAddr string
	Up           bool
	Loopback     bool
	Multicast    bool
	// Addrs holds "address/prefixLen" strings
	Addrs []string
}

// InterfaceSource enumerates the host's network adapters.
type InterfaceSource interface {
	Adapters(ctx context.Context) ([]Adapter, error)
}

// SystemSource reads adapters from the operating system through gopsutil.
type SystemSource struct{}

// Adapters implements InterfaceSource.
func (SystemSource) Adapters(ctx context.Context) ([]Adapter, error) {
	stats, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}

	adapters := make([]Adapter, 0, len(stats))
	for _, st := range stats {
		a := Adapter{
			Name:         st.Name,
			Index:        st.Index,
			HardwareAddr: st.HardwareAddr,
		}
		for _, flag := range st.Flags {
			switch strings.ToLower(flag) {
			case "up":
				a.Up = true
			case "loopback":
				a.Loopback = true
			case "multicast":
				a.Multicast = true
			}
		}
		for _, addr := range st.Addrs {
			a.Addrs = append(a.Addrs, addr.Addr)
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// StaticSource returns a fixed adapter list.
type StaticSource []Adapter

// Adapters implements InterfaceSource.
func (s StaticSource) Adapters(context.Context) ([]Adapter, error) {
	out := make([]Adapter, len(s))
	copy(out, s)
	return out, nil
}

// ParseMockInterfaces decodes the test-injection literal
// "address/prefixLen,adapterIndex,adapterName|..." into interface entries.
// A negative index marks a gateway by convention. Unparsable entries are
// logged and skipped.
func ParseMockInterfaces(literal string) []InterfaceAddress {
	var result []InterfaceAddress
	for _, entry := range strings.Split(literal, "|") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		iface, err := parseMockEntry(entry)
		if err != nil {
			logger.WithField("entry", entry).WithError(err).Warn("Skipping unparsable mock interface")
			continue
		}
		result = append(result, iface)
	}
	return result
}

func parseMockEntry(entry string) (InterfaceAddress, error) {
	parts := strings.Split(entry, ",")
	if len(parts) != 3 {
		return InterfaceAddress{}, fmt.Errorf("expected address/prefix,index,name")
	}
	prefix, err := netip.ParsePrefix(strings.TrimSpace(parts[0]))
	if err != nil {
		return InterfaceAddress{}, fmt.Errorf("invalid address: %w", err)
	}
	index, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return InterfaceAddress{}, fmt.Errorf("invalid adapter index: %w", err)
	}
	return NewInterfaceAddress(prefix.Addr(), prefix.Bits(), strings.TrimSpace(parts[2]), index)
}
