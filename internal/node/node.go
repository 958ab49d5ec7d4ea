// Package node implements the Lifecycle component (C9): it wires identity,
// the peer table, discovery, the transfer acceptor, and the confirmation
// bridge into one supervised group of goroutines, and exposes the hook
// surface a CLI or other frontend drives the node through.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arnshah/wisp/internal/config"
	"github.com/arnshah/wisp/internal/confirm"
	"github.com/arnshah/wisp/internal/discovery"
	"github.com/arnshah/wisp/internal/identity"
	"github.com/arnshah/wisp/internal/peertable"
	"github.com/arnshah/wisp/internal/transfer"
)

// Node owns every long-lived goroutine a running wisp instance needs.
type Node struct {
	log  *slog.Logger
	self identity.Identity

	table    *peertable.Table
	bridge   *confirm.Bridge
	acceptor *transfer.Acceptor
	listener *discovery.Listener
	bcaster  *discovery.Broadcaster
	sender   *transfer.Sender

	progress chan transfer.ProgressEvent

	cancel context.CancelFunc
	done   chan struct{}
}

// New derives this node's identity, binds the transfer listener and the
// shared discovery port, and constructs every component — but does not
// start any goroutines. Call Run to start the node.
func New(name string, log *slog.Logger) (*Node, error) {
	cfg := config.Load()

	bridge := confirm.New(cfg.ConfirmTimeout, cfg.ConfirmQueueSize)
	progress := make(chan transfer.ProgressEvent, 64)

	acceptor, err := transfer.NewAcceptor(cfg.TransferPortBase, cfg.DownloadDir, bridge, progress, log)
	if err != nil {
		return nil, fmt.Errorf("node: start transfer acceptor: %w", err)
	}

	self, err := identity.New(name, int(acceptor.Port()))
	if err != nil {
		return nil, fmt.Errorf("node: build identity: %w", err)
	}

	selfEP, err := netip.ParseAddrPort(fmt.Sprintf("%s:%d", self.IP, self.Port))
	if err != nil {
		return nil, fmt.Errorf("node: parse self endpoint: %w", err)
	}
	table := peertable.New(selfEP)

	dlistener, err := discovery.NewListener(self, table, cfg.BroadcastPort, log)
	if err != nil {
		return nil, fmt.Errorf("node: start discovery listener: %w", err)
	}

	bcaster, err := discovery.NewBroadcaster(self, cfg.BroadcastPort, log)
	if err != nil {
		return nil, fmt.Errorf("node: start broadcaster: %w", err)
	}

	return &Node{
		log:      log.With("node", self.Name),
		self:     self,
		table:    table,
		bridge:   bridge,
		acceptor: acceptor,
		listener: dlistener,
		bcaster:  bcaster,
		sender:   transfer.NewSender(progress, log),
		progress: progress,
		done:     make(chan struct{}),
	}, nil
}

// Identity returns this node's own derived identity.
func (n *Node) Identity() identity.Identity { return n.self }

// Run starts every component goroutine and blocks until ctx is cancelled,
// Stop is called, or any component returns an error — whichever comes
// first. It always returns after every goroutine has exited.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	defer close(n.done)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return n.bcaster.Run(gctx) })
	g.Go(func() error { return n.listener.Run(gctx) })
	g.Go(func() error { return n.listener.SweepLoop(gctx) })
	g.Go(func() error { return n.acceptor.Run(gctx) })

	n.log.Info("node running",
		"name", n.self.Name, "ip", n.self.IP, "transfer_port", n.self.Port)

	err := g.Wait()
	cancel()
	return err
}

// Stop cancels the node's context and waits up to the deadline on ctx for
// every goroutine to exit. Goroutines that overrun the deadline are logged
// rather than force-terminated — Go has no such primitive.
func (n *Node) Stop(ctx context.Context) error {
	if n.cancel == nil {
		return nil
	}
	n.cancel()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		n.log.Warn("goroutine did not exit before shutdown deadline")
		return ctx.Err()
	}
}

// PeersSnapshot returns every currently live peer.
func (n *Node) PeersSnapshot() []peertable.Record {
	return n.table.Snapshot()
}

// SubmitSend resolves target (a peer name or an "ip:port" endpoint) and
// sends the file at path to it, blocking until the transfer completes or
// fails. An unknown or ambiguous peer name is rejected rather than guessed
// at, per §7/§9's error taxonomy — it never falls through to dialing the
// name verbatim.
func (n *Node) SubmitSend(ctx context.Context, target, path string) (*transfer.SendResult, error) {
	if _, err := netip.ParseAddrPort(target); err == nil {
		return n.sender.Send(target, path)
	}

	id, err := n.table.LookupByName(target)
	if err != nil {
		return nil, fmt.Errorf("node: resolve send target %q: %w", target, err)
	}
	return n.sender.Send(fmt.Sprintf("%s:%d", id.IP, id.Port), path)
}

// Confirmations returns the channel new inbound offers are published on.
func (n *Node) Confirmations() <-chan *confirm.PendingOffer {
	return n.bridge.Offers()
}

// Progress returns the channel streaming progress events, send and
// receive alike, are published on.
func (n *Node) Progress() <-chan transfer.ProgressEvent {
	return n.progress
}

// ShutdownGrace is the default deadline a frontend should pass to Stop.
const ShutdownGrace = 5 * time.Second
