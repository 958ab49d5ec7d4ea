// Package confirm implements the Confirmation Bridge (C8): the handoff
// point between an inbound FILE_OFFER and whatever decides to accept or
// reject it (a human operator, or an auto-policy in tests). It decouples
// the transfer acceptor's goroutine from that decision so the acceptor
// never blocks on anything but a channel receive.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"
)

// Verdict is the resolution of a pending offer.
type Verdict int

const (
	Reject Verdict = iota
	Accept
)

// Offer describes an inbound file transfer proposal awaiting a verdict.
type Offer struct {
	From     netip.AddrPort
	Filename string
	Size     int64
	MD5      string
}

// PendingOffer pairs an Offer with the promise its verdict will be
// delivered on. Only the first call to Resolve takes effect.
type PendingOffer struct {
	Offer Offer

	verdict  chan Verdict
	resolved chan struct{}
	once     sync.Once
}

// Resolve delivers v to whoever is waiting in Bridge.Request. Safe to call
// at most effectively once; subsequent calls are no-ops.
func (p *PendingOffer) Resolve(v Verdict) {
	p.once.Do(func() {
		p.verdict <- v
		close(p.resolved)
	})
}

// ErrQueueFull is returned by Request when the bridge already holds
// queueSize offers that no consumer has taken from Offers() yet.
var ErrQueueFull = errors.New("confirm: pending offer queue is full")

// Bridge is the Confirmation Bridge: a bounded queue of offers awaiting a
// verdict, plus a synchronous request/response call for the acceptor.
type Bridge struct {
	timeout time.Duration

	mu      sync.Mutex
	pending []*PendingOffer

	submit chan *PendingOffer
}

// New constructs a Bridge. timeout bounds how long Request waits for a
// verdict before auto-rejecting (§4.8).
func New(timeout time.Duration, queueSize int) *Bridge {
	return &Bridge{
		timeout: timeout,
		submit:  make(chan *PendingOffer, queueSize),
	}
}

// Request submits offer and blocks until a consumer of Offers() resolves it,
// ctx is cancelled, or timeout elapses — whichever comes first. A timeout
// or cancellation resolves to Reject, matching "no answer means no" (§4.8).
func (b *Bridge) Request(ctx context.Context, offer Offer) (Verdict, error) {
	p := &PendingOffer{
		Offer:    offer,
		verdict:  make(chan Verdict, 1),
		resolved: make(chan struct{}),
	}

	select {
	case b.submit <- p:
	default:
		return Reject, ErrQueueFull
	}

	b.mu.Lock()
	b.pending = append(b.pending, p)
	b.mu.Unlock()
	defer b.forget(p)

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case v := <-p.verdict:
		return v, nil
	case <-timer.C:
		p.Resolve(Reject)
		return Reject, fmt.Errorf("confirm: no verdict within %s, auto-rejected", b.timeout)
	case <-ctx.Done():
		p.Resolve(Reject)
		return Reject, ctx.Err()
	}
}

func (b *Bridge) forget(p *PendingOffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cand := range b.pending {
		if cand == p {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return
		}
	}
}

// Offers returns the channel new pending offers are published on. A
// consumer (e.g. the CLI) ranges over it, presents each offer to the
// operator, and calls PendingOffer.Resolve with the decision.
func (b *Bridge) Offers() <-chan *PendingOffer {
	return b.submit
}

// Pending returns a snapshot of offers still awaiting a verdict.
func (b *Bridge) Pending() []*PendingOffer {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*PendingOffer, len(b.pending))
	copy(out, b.pending)
	return out
}
