// Package netutil provides unit tests for address helpers
package netutil

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubnet(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "cidr", input: "192.168.1.0/24", want: "192.168.1.0/24"},
		{name: "cidr keeps host bits", input: "10.0.0.5/8", want: "10.0.0.5/8"},
		{name: "dotted mask", input: "172.16.5.4/255.255.0.0", want: "172.16.5.4/16"},
		{name: "bare ipv4", input: "10.1.2.3", want: "10.1.2.3/32"},
		{name: "bare ipv6", input: "fd00::1", want: "fd00::1/128"},
		{name: "ipv6 cidr", input: "fe80::/10", want: "fe80::/10"},
		{name: "ipv4 any", input: "0.0.0.0", want: "0.0.0.0/0"},
		{name: "ipv6 any", input: "::", want: "::/0"},
		{name: "mapped", input: "::ffff:10.0.0.1/104", want: "10.0.0.1/8"},
		{name: "whitespace", input: "  10.0.0.0/8 ", want: "10.0.0.0/8"},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "not-an-ip", wantErr: true},
		{name: "bad length", input: "10.0.0.0/33", wantErr: true},
		{name: "bad mask", input: "10.0.0.0/255.0.255.0", wantErr: true},
		{name: "exclusion rejected", input: "!10.0.0.0/8", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSubnet(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				var perr *ParseError
				assert.True(t, errors.As(err, &perr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseSubnetNegated(t *testing.T) {
	p, err := ParseSubnetNegated("!192.168.5.0/24")
	require.NoError(t, err)
	assert.Equal(t, "192.168.5.0/24", p.String())

	_, err = ParseSubnetNegated("192.168.5.0/24")
	assert.Error(t, err)
}

func TestParseSubnets(t *testing.T) {
	list := []string{"10.0.0.0/8", "", "!10.1.0.0/16", "bogus", "192.168.1.7/24"}

	subnets, err := ParseSubnets(list, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
	require.Len(t, subnets, 2)
	assert.Equal(t, "10.0.0.0/8", subnets[0].String())
	assert.Equal(t, "192.168.1.0/24", subnets[1].String(), "results are masked")

	excluded, err := ParseSubnets(list, true)
	require.NoError(t, err)
	require.Len(t, excluded, 1)
	assert.Equal(t, "10.1.0.0/16", excluded[0].String())
}

func TestSubnetContains(t *testing.T) {
	lan := netip.MustParsePrefix("10.0.0.0/8")

	assert.True(t, SubnetContains(lan, netip.MustParseAddr("10.4.5.6")))
	assert.True(t, SubnetContains(lan, netip.MustParseAddr("::ffff:10.4.5.6")))
	assert.False(t, SubnetContains(lan, netip.MustParseAddr("11.0.0.1")))
	assert.False(t, SubnetContains(IPv6Any, netip.MustParseAddr("10.0.0.1")), "families never match")
	assert.False(t, SubnetContains(IPv4Any, netip.MustParseAddr("::1")))
	assert.False(t, SubnetContains(lan, netip.Addr{}))
	assert.True(t, SubnetContains(IPv6LinkLocal, netip.MustParseAddr("fe80::1%eth0")))
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "192.168.1.1", FormatAddress(netip.MustParseAddr("192.168.1.1")))
	assert.Equal(t, "[fe80::1]", FormatAddress(netip.MustParseAddr("fe80::1%eth0")))
	assert.Equal(t, "[::1]", FormatAddress(netip.IPv6Loopback()))
	assert.Equal(t, "10.0.0.1", FormatAddress(netip.MustParseAddr("::ffff:10.0.0.1")))
	assert.Equal(t, "", FormatAddress(netip.Addr{}))
}

func TestSplitHostPortOptional(t *testing.T) {
	tests := []struct {
		input    string
		wantHost string
		wantPort int
		hasPort  bool
	}{
		{input: "myhost.local", wantHost: "myhost.local"},
		{input: "myhost.local:8920", wantHost: "myhost.local", wantPort: 8920, hasPort: true},
		{input: "10.0.0.1:80", wantHost: "10.0.0.1", wantPort: 80, hasPort: true},
		{input: "[fd00::1]:8096", wantHost: "[fd00::1]", wantPort: 8096, hasPort: true},
		{input: "http://example.com", wantHost: "http://example.com"},
		{input: "host:notaport", wantHost: "host:notaport"},
		{input: "host:70000", wantHost: "host:70000"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			host, port := SplitHostPortOptional(tt.input)
			assert.Equal(t, tt.wantHost, host)
			if !tt.hasPort {
				assert.Nil(t, port)
				return
			}
			require.NotNil(t, port)
			assert.Equal(t, tt.wantPort, *port)
		})
	}
}

type fakeResolver map[string][]netip.Addr

func (f fakeResolver) LookupNetIP(_ context.Context, _ string, host string) ([]netip.Addr, error) {
	addrs, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	out := make([]netip.Addr, len(addrs))
	copy(out, addrs)
	return out, nil
}

func TestParseHost(t *testing.T) {
	resolver := fakeResolver{
		"media.example.com": {netip.MustParseAddr("203.0.113.7"), netip.MustParseAddr("2001:db8::7")},
		"v6only.example":    {netip.MustParseAddr("2001:db8::9")},
	}
	ctx := context.Background()

	tests := []struct {
		name    string
		input   string
		ipv4    bool
		ipv6    bool
		want    []string
		wantErr bool
	}{
		{name: "ipv4 literal", input: "10.0.0.1", ipv4: true, want: []string{"10.0.0.1"}},
		{name: "ipv4 with port", input: "10.0.0.1:8096", ipv4: true, want: []string{"10.0.0.1"}},
		{name: "ipv4 cidr", input: "10.0.0.1/24", ipv4: true, want: []string{"10.0.0.1"}},
		{name: "ipv6 literal", input: "fd00::5", ipv6: true, want: []string{"fd00::5"}},
		{name: "bracketed ipv6 with port", input: "[fd00::5]:8096", ipv6: true, want: []string{"fd00::5"}},
		{name: "ipv6 filtered", input: "fd00::5", ipv4: true, wantErr: true},
		{name: "ipv4 filtered", input: "10.0.0.1", ipv6: true, wantErr: true},
		{name: "host name both families", input: "media.example.com", ipv4: true, ipv6: true, want: []string{"203.0.113.7", "2001:db8::7"}},
		{name: "host name with port", input: "media.example.com:443", ipv4: true, want: []string{"203.0.113.7"}},
		{name: "host name wrong family", input: "v6only.example", ipv4: true, wantErr: true},
		{name: "unknown host", input: "missing.example", ipv4: true, wantErr: true},
		{name: "invalid name", input: "bad_name!", ipv4: true, wantErr: true},
		{name: "broken ipv6", input: "fd00::zz::1", ipv6: true, wantErr: true},
		{name: "empty", input: " ", ipv4: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHostWith(ctx, resolver, tt.input, tt.ipv4, tt.ipv6)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			strs := make([]string, 0, len(got))
			for _, a := range got {
				strs = append(strs, a.String())
			}
			assert.Equal(t, tt.want, strs)
		})
	}
}

func TestIsHostName(t *testing.T) {
	assert.True(t, IsHostName("localhost"))
	assert.True(t, IsHostName("myhost.local"))
	assert.True(t, IsHostName("a-b.example.com."))
	assert.False(t, IsHostName("1.2.3"))
	assert.False(t, IsHostName("-bad.example"))
	assert.False(t, IsHostName("under_score.example"))
	assert.False(t, IsHostName(""))
}

func TestDefaultLANSubnets(t *testing.T) {
	assert.Len(t, DefaultLANSubnets(true, false), 4)
	assert.Len(t, DefaultLANSubnets(false, true), 3)
	assert.Len(t, DefaultLANSubnets(true, true), 7)
	assert.Empty(t, DefaultLANSubnets(false, false))
}
