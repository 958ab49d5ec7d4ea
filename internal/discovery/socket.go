// Package discovery implements the broadcaster (C3) and discovery listener
// (C4): periodic UDP heartbeats and the liveness sweeper that keeps the
// peer table current.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrPortReuseUnsupported is returned by listenShared when the platform
// cannot give two processes the same UDP port. Per §9's design notes, this
// must fail fast and explicitly rather than silently stealing datagrams
// from another node already running on the host.
var ErrPortReuseUnsupported = errors.New("discovery: platform does not support UDP port reuse")

// listenShared binds the broadcast port with SO_REUSEADDR and SO_REUSEPORT
// enabled, so multiple wisp nodes can coexist on a single host, following
// the net.ListenConfig.Control pattern used for kernel-level UDP load
// balancing in the pack's DNS server reference.
func listenShared(ctx context.Context, port uint16) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			ctrlErr := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					sockErr = err
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					sockErr = fmt.Errorf("%w: %v", ErrPortReuseUnsupported, err)
				}
			})
			if ctrlErr != nil {
				return ctrlErr
			}
			return sockErr
		},
	}

	addr := fmt.Sprintf(":%d", port)
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: bind broadcast port %d: %w", port, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("discovery: unexpected packet conn type %T", pc)
	}
	return conn, nil
}

// dialBroadcast opens an unconnected UDP socket with SO_BROADCAST enabled.
// Datagrams are sent with WriteToUDP against the limited-broadcast address
// on each tick rather than "connecting" the socket, since the destination
// never changes but the source port must stay ephemeral and distinct from
// the shared listener's socket.
func dialBroadcast() (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("discovery: open broadcast socket: %w", err)
	}

	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, err
	}

	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}); err != nil {
		conn.Close()
		return nil, err
	}
	if sockErr != nil {
		conn.Close()
		return nil, fmt.Errorf("discovery: enable SO_BROADCAST: %w", sockErr)
	}

	return conn, nil
}
