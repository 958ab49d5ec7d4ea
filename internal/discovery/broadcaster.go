package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/arnshah/wisp/internal/config"
	"github.com/arnshah/wisp/internal/identity"
	"github.com/arnshah/wisp/internal/wire"
)

// Broadcaster periodically emits a HEARTBEAT datagram announcing this
// node's identity on the broadcast domain (C3).
type Broadcaster struct {
	log  *slog.Logger
	self identity.Identity
	port uint16

	conn *net.UDPConn
	raddr *net.UDPAddr

	failures atomic.Uint64
}

// NewBroadcaster opens the outbound broadcast socket. The socket is
// distinct from the shared listener socket opened by NewListener.
func NewBroadcaster(self identity.Identity, port uint16, log *slog.Logger) (*Broadcaster, error) {
	conn, err := dialBroadcast()
	if err != nil {
		return nil, err
	}

	raddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("255.255.255.255:%d", port))
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Broadcaster{
		log:   log.With("component", "broadcaster"),
		self:  self,
		port:  port,
		conn:  conn,
		raddr: raddr,
	}, nil
}

// Run sends one HEARTBEAT every config.Load().HeartbeatInterval until ctx
// is cancelled. A single failed send is logged and swallowed; the loop
// always continues (§4.3).
func (b *Broadcaster) Run(ctx context.Context) error {
	defer b.conn.Close()

	ticker := time.NewTicker(config.Load().HeartbeatInterval)
	defer ticker.Stop()

	b.send()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.send()
		}
	}
}

func (b *Broadcaster) send() {
	frame, err := wire.EncodeFrame(wire.Heartbeat{
		Name: b.self.Name,
		IP:   b.self.IP,
		Port: b.self.Port,
		OS:   b.self.OS,
	})
	if err != nil {
		b.log.Error("encode heartbeat failed", "error", err.Error())
		b.failures.Add(1)
		return
	}

	if _, err := b.conn.WriteToUDP(frame, b.raddr); err != nil {
		b.log.Warn("heartbeat send failed", "error", err.Error())
		b.failures.Add(1)
		return
	}
}

// Failures returns the number of heartbeats that failed to send.
func (b *Broadcaster) Failures() uint64 { return b.failures.Load() }
