//go:build linux

package netmon

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func netlinkMessage(msgType uint16, payload []byte) []byte {
	length := unix.NLMSG_HDRLEN + len(payload)
	aligned := (length + unix.NLMSG_ALIGNTO - 1) &^ (unix.NLMSG_ALIGNTO - 1)
	b := make([]byte, aligned)
	binary.NativeEndian.PutUint32(b[0:4], uint32(length))
	binary.NativeEndian.PutUint16(b[4:6], msgType)
	copy(b[unix.NLMSG_HDRLEN:], payload)
	return b
}

func TestParseNetlinkMessages(t *testing.T) {
	link := make([]byte, unix.SizeofIfInfomsg)
	binary.NativeEndian.PutUint32(link[4:8], 3)

	addr := make([]byte, unix.SizeofIfAddrmsg+3)
	binary.NativeEndian.PutUint32(addr[4:8], 7)

	var datagram []byte
	datagram = append(datagram, netlinkMessage(unix.RTM_NEWLINK, link)...)
	datagram = append(datagram, netlinkMessage(unix.RTM_DELADDR, addr)...)
	datagram = append(datagram, netlinkMessage(unix.RTM_NEWROUTE, make([]byte, 12))...)

	events := parseNetlinkMessages(datagram)
	assert.Equal(t, []Event{
		{Type: AvailabilityChanged, Index: 3},
		{Type: AddressChanged, Index: 7},
	}, events)
}

func TestParseNetlinkMessagesTruncated(t *testing.T) {
	msg := netlinkMessage(unix.RTM_NEWADDR, make([]byte, unix.SizeofIfAddrmsg))
	binary.NativeEndian.PutUint32(msg[0:4], uint32(len(msg)+64))

	assert.Empty(t, parseNetlinkMessages(msg))
	assert.Empty(t, parseNetlinkMessages(msg[:4]))
}
