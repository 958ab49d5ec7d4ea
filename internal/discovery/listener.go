package discovery

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/arnshah/wisp/internal/config"
	"github.com/arnshah/wisp/internal/identity"
	"github.com/arnshah/wisp/internal/peertable"
	"github.com/arnshah/wisp/internal/wire"
)

const maxDatagramBytes = 2048

// Listener implements the discovery listener (C4): it receives HEARTBEAT
// datagrams, filters self-echoes, and keeps the peer table current via a
// background sweeper.
type Listener struct {
	log   *slog.Logger
	self  identity.Identity
	table *peertable.Table

	conn *net.UDPConn

	// lastTraffic is the UnixNano of the last datagram seen, written from
	// Run's receive loop and read from SweepLoop — two independent
	// goroutines — so it is accessed only through atomic ops, the same way
	// Broadcaster.failures guards its cross-goroutine counter.
	lastTraffic   atomic.Int64
	warnedSilence bool
}

// NewListener binds the shared broadcast port (SO_REUSEADDR/SO_REUSEPORT)
// and returns a Listener ready to Run.
func NewListener(self identity.Identity, table *peertable.Table, port uint16, log *slog.Logger) (*Listener, error) {
	conn, err := listenShared(context.Background(), port)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		log:   log.With("component", "discovery-listener"),
		self:  self,
		table: table,
		conn:  conn,
	}
	l.lastTraffic.Store(time.Now().UnixNano())
	return l, nil
}

// Run receives datagrams until ctx is cancelled or the socket is closed.
func (l *Listener) Run(ctx context.Context) error {
	defer l.conn.Close()

	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, maxDatagramBytes)

	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.log.Warn("udp read failed", "error", err.Error())
			continue
		}

		l.lastTraffic.Store(time.Now().UnixNano())
		l.handleDatagram(buf[:n])
	}
}

func (l *Listener) handleDatagram(b []byte) {
	msg, err := wire.DecodeFrame(b)
	if err != nil {
		l.log.Debug("dropping malformed datagram", "error", err.Error())
		return
	}

	hb, ok := msg.(wire.Heartbeat)
	if !ok {
		l.log.Debug("dropping non-heartbeat datagram on broadcast port")
		return
	}

	id := identity.Identity{Name: hb.Name, IP: hb.IP, Port: hb.Port, OS: hb.OS}
	l.table.Upsert(id, time.Now())
}

// SweepLoop wakes every config.Load().SweepInterval and evicts peers whose
// last_seen exceeds config.Load().PeerTTL. It also implements the §9
// "silence watchdog": if no datagram (including our own heartbeat, which
// the kernel loops back to this same socket on some platforms) has been
// observed for SilenceWarnAfter, it logs a one-shot warning that the
// broadcast port may be firewalled.
func (l *Listener) SweepLoop(ctx context.Context) error {
	cfg := config.Load()
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := time.Now()
			removed := l.table.Sweep(now, config.Load().PeerTTL)
			if removed > 0 {
				l.log.Debug("swept expired peers", "removed", removed)
			}

			lastTraffic := time.Unix(0, l.lastTraffic.Load())
			if !l.warnedSilence && now.Sub(lastTraffic) > config.Load().SilenceWarnAfter {
				l.warnedSilence = true
				l.log.Warn(
					"no discovery traffic observed; broadcast port may be firewalled",
					"port", l.conn.LocalAddr(),
					"silence", now.Sub(lastTraffic).String(),
				)
			}
		}
	}
}
