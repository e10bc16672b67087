package netmon

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// Lister returns the current adapter table.
type Lister func(ctx context.Context) (psnet.InterfaceStatList, error)

// PollingNotifier compares the adapter table on every tick and reports the
// differences. It works on every platform gopsutil supports.
type PollingNotifier struct {
	interval time.Duration
	clock    clock.Clock
	list     Lister
}

// NewPollingNotifier creates a polling notifier. A nil lister reads the OS.
func NewPollingNotifier(interval time.Duration, clk clock.Clock, list Lister) *PollingNotifier {
	if clk == nil {
		clk = clock.New()
	}
	if list == nil {
		list = psnet.InterfacesWithContext
	}
	return &PollingNotifier{interval: interval, clock: clk, list: list}
}

// Name implements Notifier.
func (p *PollingNotifier) Name() string { return "polling" }

// Run implements Notifier.
func (p *PollingNotifier) Run(ctx context.Context, emit func(Event)) error {
	prev, err := p.fingerprint(ctx)
	if err != nil {
		return err
	}

	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur, err := p.fingerprint(ctx)
			if err != nil {
				// transient; compare again on the next tick
				continue
			}
			now := p.clock.Now()
			for _, ev := range diffAdapters(prev, cur) {
				ev.Time = now
				emit(ev)
			}
			prev = cur
		}
	}
}

type adapterState struct {
	index int
	up    bool
	addrs string
}

func (p *PollingNotifier) fingerprint(ctx context.Context) (map[string]adapterState, error) {
	stats, err := p.list(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[string]adapterState, len(stats))
	for _, st := range stats {
		addrs := make([]string, 0, len(st.Addrs))
		for _, a := range st.Addrs {
			addrs = append(addrs, a.Addr)
		}
		sort.Strings(addrs)

		up := false
		for _, f := range st.Flags {
			if strings.EqualFold(f, "up") {
				up = true
				break
			}
		}
		result[st.Name] = adapterState{index: st.Index, up: up, addrs: strings.Join(addrs, ",")}
	}
	return result, nil
}

// diffAdapters reports one event per adapter that appeared, disappeared,
// changed state or changed addresses, sorted by adapter name.
func diffAdapters(prev, cur map[string]adapterState) []Event {
	var events []Event
	for name, c := range cur {
		p, ok := prev[name]
		switch {
		case !ok || p.up != c.up:
			events = append(events, Event{Type: AvailabilityChanged, Interface: name, Index: c.index})
		case p.addrs != c.addrs:
			events = append(events, Event{Type: AddressChanged, Interface: name, Index: c.index})
		}
	}
	for name, p := range prev {
		if _, ok := cur[name]; !ok {
			events = append(events, Event{Type: AvailabilityChanged, Interface: name, Index: p.index})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Interface < events[j].Interface })
	return events
}
