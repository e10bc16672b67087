package netmon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	name   string
	err    error
	events chan Event
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Run(ctx context.Context, emit func(Event)) error {
	if f.err != nil {
		return f.err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-f.events:
			emit(ev)
		}
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestMonitorDispatch(t *testing.T) {
	fake := &fakeNotifier{name: "fake", events: make(chan Event)}
	clk := clock.NewMock()
	m := New(&Config{Notifier: fake, Clock: clk})

	rec := &recorder{}
	unsubscribe := m.Subscribe(rec.add)

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()), "second start must fail")
	assert.True(t, m.IsRunning())

	fake.events <- Event{Type: AddressChanged, Index: 2}
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	assert.Equal(t, AddressChanged, rec.events[0].Type)
	assert.Equal(t, clk.Now(), rec.events[0].Time, "zero time is stamped by the monitor clock")
	rec.mu.Unlock()

	unsubscribe()
	fake.events <- Event{Type: AvailabilityChanged}
	require.Eventually(t, func() bool { return m.GetStats().EventCount == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.len())

	stats := m.GetStats()
	assert.Equal(t, "fake", stats.Notifier)
	assert.Equal(t, 0, stats.Subscribers)

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
	require.NoError(t, m.Stop())
}

func TestMonitorFallsBackToPolling(t *testing.T) {
	fake := &fakeNotifier{name: "broken", err: errors.New("no netlink")}
	m := New(&Config{Notifier: fake, Clock: clock.NewMock()})
	m.fallback = NewPollingNotifier(time.Second, clock.NewMock(), func(context.Context) (psnet.InterfaceStatList, error) {
		return nil, nil
	})

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool { return m.GetStats().Notifier == "polling" }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Stop())
}

func TestDiffAdapters(t *testing.T) {
	prev := map[string]adapterState{
		"eth0":  {index: 2, up: true, addrs: "192.168.1.10/24"},
		"eth1":  {index: 3, up: true, addrs: "10.0.0.2/8"},
		"wlan0": {index: 4, up: true},
	}
	cur := map[string]adapterState{
		"eth0":   {index: 2, up: true, addrs: "192.168.1.11/24"},
		"eth1":   {index: 3, up: false, addrs: "10.0.0.2/8"},
		"docker": {index: 5, up: true},
	}

	events := diffAdapters(prev, cur)
	require.Len(t, events, 4)

	assert.Equal(t, Event{Type: AvailabilityChanged, Interface: "docker", Index: 5}, events[0])
	assert.Equal(t, Event{Type: AddressChanged, Interface: "eth0", Index: 2}, events[1])
	assert.Equal(t, Event{Type: AvailabilityChanged, Interface: "eth1", Index: 3}, events[2])
	assert.Equal(t, Event{Type: AvailabilityChanged, Interface: "wlan0", Index: 4}, events[3])

	assert.Empty(t, diffAdapters(cur, cur))
}

func TestPollingNotifierRun(t *testing.T) {
	var (
		mu    sync.Mutex
		addrs = []string{"192.168.1.10/24"}
	)
	list := func(context.Context) (psnet.InterfaceStatList, error) {
		mu.Lock()
		defer mu.Unlock()
		st := psnet.InterfaceStat{Index: 2, Name: "eth0", Flags: []string{"up", "multicast"}}
		for _, a := range addrs {
			st.Addrs = append(st.Addrs, psnet.InterfaceAddr{Addr: a})
		}
		return psnet.InterfaceStatList{st}, nil
	}

	clk := clock.NewMock()
	p := NewPollingNotifier(time.Second, clk, list)
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, rec.add) }()

	// let Run take its first fingerprint and register the ticker
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	addrs = append(addrs, "fe80::1/64")
	mu.Unlock()

	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		return rec.len() >= 1
	}, time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	assert.Equal(t, AddressChanged, rec.events[0].Type)
	assert.Equal(t, "eth0", rec.events[0].Interface)
	rec.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("polling notifier did not stop")
	}
}

func TestChangeTypeString(t *testing.T) {
	assert.Equal(t, "address_changed", AddressChanged.String())
	assert.Equal(t, "availability_changed", AvailabilityChanged.String())
}
