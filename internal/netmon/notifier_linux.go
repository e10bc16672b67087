//go:build linux

package netmon

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

func platformNotifier() Notifier {
	return &NetlinkNotifier{}
}

// NetlinkNotifier listens on a NETLINK_ROUTE socket for link and address
// messages.
type NetlinkNotifier struct{}

// Name implements Notifier.
func (n *NetlinkNotifier) Name() string { return "netlink" }

// Run implements Notifier.
func (n *NetlinkNotifier) Run(ctx context.Context, emit func(Event)) error {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_ROUTE)
	if err != nil {
		return fmt.Errorf("failed to open netlink socket: %w", err)
	}
	defer unix.Close(fd)

	sa := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: unix.RTMGRP_LINK | unix.RTMGRP_IPV4_IFADDR | unix.RTMGRP_IPV6_IFADDR,
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fmt.Errorf("failed to bind netlink socket: %w", err)
	}

	// wake up every second to observe ctx
	tv := unix.Timeval{Sec: 1}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fmt.Errorf("failed to set netlink receive timeout: %w", err)
	}

	buf := make([]byte, 1<<16)
	for {
		if ctx.Err() != nil {
			return nil
		}
		nr, _, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("netlink receive failed: %w", err)
		}
		if nr < unix.NLMSG_HDRLEN {
			continue
		}
		now := time.Now()
		for _, ev := range parseNetlinkMessages(buf[:nr]) {
			ev.Time = now
			emit(ev)
		}
	}
}

// parseNetlinkMessages decodes the link and address messages of one datagram.
// Truncated messages end the walk.
func parseNetlinkMessages(b []byte) []Event {
	var events []Event
	for len(b) >= unix.NLMSG_HDRLEN {
		length := int(binary.NativeEndian.Uint32(b[0:4]))
		msgType := binary.NativeEndian.Uint16(b[4:6])
		if length < unix.NLMSG_HDRLEN || length > len(b) {
			break
		}
		payload := b[unix.NLMSG_HDRLEN:length]

		switch msgType {
		case unix.RTM_NEWLINK, unix.RTM_DELLINK:
			if len(payload) >= unix.SizeofIfInfomsg {
				index := int(int32(binary.NativeEndian.Uint32(payload[4:8])))
				events = append(events, Event{Type: AvailabilityChanged, Index: index})
			}
		case unix.RTM_NEWADDR, unix.RTM_DELADDR:
			if len(payload) >= unix.SizeofIfAddrmsg {
				index := int(binary.NativeEndian.Uint32(payload[4:8]))
				events = append(events, Event{Type: AddressChanged, Index: index})
			}
		}

		aligned := (length + unix.NLMSG_ALIGNTO - 1) &^ (unix.NLMSG_ALIGNTO - 1)
		if aligned > len(b) {
			break
		}
		b = b[aligned:]
	}
	return events
}
