package network

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInterfaces(t *testing.T) {
	lo := adapter("lo", 1, "127.0.0.1/8", "::1/128")
	lo.Loopback = true
	lo.HardwareAddr = ""

	eth := adapter("eth0", 2, "192.168.1.10/24", "fe80::1%eth0/64", "224.0.0.1/32", "garbage")
	down := adapter("eth1", 3, "10.0.0.2/8")
	down.Up = false
	noMulticast := adapter("tun0", 4, "10.8.0.1/24")
	noMulticast.Multicast = false
	nullMAC := adapter("wg0", 5, "172.16.0.1/12")
	nullMAC.HardwareAddr = "00:00:00:00:00:00"

	ifaces, macs := buildInterfaces([]Adapter{lo, eth, down, noMulticast, nullMAC}, true, false)

	require.Len(t, ifaces, 3)
	assert.Equal(t, iface(t, "127.0.0.1/8", "lo", 1), ifaces[0])
	assert.Equal(t, iface(t, "192.168.1.10/24", "eth0", 2), ifaces[1])
	assert.Equal(t, iface(t, "172.16.0.1/12", "wg0", 5), ifaces[2])
	assert.Equal(t, "192.168.1.0/24", ifaces[1].Subnet.String())

	assert.Equal(t, []string{"00:11:22:33:44:02"}, macs)
}

func TestBuildInterfacesIPv6(t *testing.T) {
	eth := adapter("eth0", 2, "192.168.1.10/24", "2001:db8::10/64")

	ifaces, _ := buildInterfaces([]Adapter{eth}, false, true)
	require.Len(t, ifaces, 1)
	assert.Equal(t, "2001:db8::/64", ifaces[0].Subnet.String())
}

func TestScanInterfacesFallback(t *testing.T) {
	t.Run("scan error", func(t *testing.T) {
		src := newSwitchSource()
		src.err = errors.New("boom")

		ifaces, macs := scanInterfaces(context.Background(), src, true, false)
		assert.Equal(t, []InterfaceAddress{iface(t, "127.0.0.1/8", "", NeutralIndex)}, ifaces)
		assert.Empty(t, macs)
	})

	t.Run("nothing usable", func(t *testing.T) {
		src := newSwitchSource(adapter("eth0", 2, "192.168.1.10/24"))

		ifaces, _ := scanInterfaces(context.Background(), src, false, true)
		assert.Equal(t, []InterfaceAddress{iface(t, "::1/128", "", NeutralIndex)}, ifaces)
	})

	t.Run("both families", func(t *testing.T) {
		ifaces, _ := scanInterfaces(context.Background(), newSwitchSource(), true, true)
		require.Len(t, ifaces, 2)
		assert.True(t, ifaces[0].IsIPv4())
		assert.False(t, ifaces[1].IsIPv4())
	})
}

func TestParseMockInterfaces(t *testing.T) {
	got := ParseMockInterfaces("192.168.1.208/24,-16,eth16| 200.200.200.200/24,11,eth11 |bad|10.0.0.1/8,x,eth0||fe80::1/64,3,eth3")

	require.Len(t, got, 3)
	assert.Equal(t, iface(t, "192.168.1.208/24", "eth16", -16), got[0])
	assert.Equal(t, iface(t, "200.200.200.200/24", "eth11", 11), got[1])
	assert.Equal(t, iface(t, "fe80::1/64", "eth3", 3), got[2])

	assert.Empty(t, ParseMockInterfaces(""))
}

func TestNormalizeMAC(t *testing.T) {
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", normalizeMAC("aa:bb:cc:dd:ee:ff"))
	assert.Equal(t, "", normalizeMAC("00:00:00:00:00:00"))
	assert.Equal(t, "", normalizeMAC(""))
	assert.Equal(t, "", normalizeMAC("not-a-mac"))
}
