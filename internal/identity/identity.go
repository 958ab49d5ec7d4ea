// Package identity derives this node's stable (name, ip, port, os) tuple
// at startup. The identity is computed once and never mutated afterward.
package identity

import (
	"fmt"
	"net"
	"runtime"
	"strings"
)

// probeAddr is a TEST-NET-3 address (RFC 5737) reserved for documentation
// and never routed. Dialing UDP to it never sends a packet onto the wire —
// it only forces the kernel to pick a local source address for the route
// that would be used, which is exactly what LocalIPv4 needs.
const probeAddr = "203.0.113.1:1"

// Identity is a peer's immutable self-description, broadcast in every
// HEARTBEAT.
type Identity struct {
	Name string
	IP   string
	Port int
	OS   string
}

// String renders "name@ip:port".
func (id Identity) String() string {
	return fmt.Sprintf("%s@%s:%d", id.Name, id.IP, id.Port)
}

// LocalIPv4 determines this host's outbound IPv4 address without sending
// any traffic, per §4.1: open an ephemeral UDP socket "connected" to a
// non-routable address and read the chosen source address.
func LocalIPv4() (string, error) {
	conn, err := net.Dial("udp4", probeAddr)
	if err != nil {
		return "", fmt.Errorf("identity: determine local address: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("identity: unexpected local addr type %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}

// New derives this node's identity. If name is empty, it defaults to
// node_<last-octet-of-ip>_<port>.
func New(name string, port int) (Identity, error) {
	ip, err := LocalIPv4()
	if err != nil {
		return Identity{}, err
	}

	if name == "" {
		name = defaultName(ip, port)
	}

	return Identity{Name: name, IP: ip, Port: port, OS: runtime.GOOS}, nil
}

func defaultName(ip string, port int) string {
	octets := strings.Split(ip, ".")
	lastOctet := ip
	if len(octets) == 4 {
		lastOctet = octets[3]
	}
	return fmt.Sprintf("node_%s_%d", lastOctet, port)
}
