// Package peertable implements the thread-safe mapping from peer identity
// to last-seen timestamp, keyed by (ip, port) as required by §3's data
// model — never by name, since names are not guaranteed unique.
package peertable

import (
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/arnshah/wisp/internal/identity"
)

var (
	// ErrNotFound is returned by a lookup that matches no record.
	ErrNotFound = errors.New("peertable: no such peer")

	// ErrAmbiguousName is returned by LookupByName when two distinct
	// (ip, port) endpoints share the same name. The caller must reject
	// the command rather than pick one arbitrarily (see §9's Open
	// Questions).
	ErrAmbiguousName = errors.New("peertable: name is ambiguous")
)

// Record is a Peer Identity plus the monotonic last-seen timestamp that
// governs its eviction.
type Record struct {
	Identity identity.Identity
	LastSeen time.Time
}

// Table is the exclusive owner of the peer set. All access goes through
// its synchronized operations; a single mutex is held only for the
// duration of each individual call.
type Table struct {
	self netip.AddrPort

	mu    sync.RWMutex
	peers map[netip.AddrPort]*Record
}

// New constructs an empty table. self is this node's own (ip, port); it is
// never permitted to appear as a key, even if a loopback heartbeat of our
// own making is handed to Upsert.
func New(self netip.AddrPort) *Table {
	return &Table{
		self:  self,
		peers: make(map[netip.AddrPort]*Record),
	}
}

func endpoint(id identity.Identity) (netip.AddrPort, bool) {
	addr, err := netip.ParseAddr(id.IP)
	if err != nil {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr, uint16(id.Port)), true
}

// Upsert inserts a new record or bumps last_seen for an existing one keyed
// by (ip, port). It is a no-op if id's endpoint is malformed or equals this
// node's own endpoint.
func (t *Table) Upsert(id identity.Identity, now time.Time) {
	ep, ok := endpoint(id)
	if !ok || ep == t.self {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.peers[ep]
	if !exists {
		t.peers[ep] = &Record{Identity: id, LastSeen: now}
		return
	}
	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
	rec.Identity = id
}

// Snapshot returns a consistent, owned point-in-time copy; order is
// unspecified. Callers traverse it without holding the table's lock.
func (t *Table) Snapshot() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0, len(t.peers))
	for _, rec := range t.peers {
		out = append(out, *rec)
	}
	return out
}

// LookupByName performs a case-sensitive exact match. It returns
// ErrAmbiguousName if two distinct endpoints share name, and ErrNotFound if
// none do.
func (t *Table) LookupByName(name string) (identity.Identity, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var (
		found identity.Identity
		count int
	)
	for _, rec := range t.peers {
		if rec.Identity.Name == name {
			found = rec.Identity
			count++
			if count > 1 {
				return identity.Identity{}, ErrAmbiguousName
			}
		}
	}
	if count == 0 {
		return identity.Identity{}, ErrNotFound
	}
	return found, nil
}

// LookupByEndpoint returns the identity registered at (ip, port).
func (t *Table) LookupByEndpoint(ep netip.AddrPort) (identity.Identity, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.peers[ep]
	if !ok {
		return identity.Identity{}, ErrNotFound
	}
	return rec.Identity, nil
}

// Sweep removes every entry whose last_seen is older than ttl relative to
// now. It is safe to call concurrently with Upsert.
func (t *Table) Sweep(now time.Time, ttl time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for ep, rec := range t.peers {
		if now.Sub(rec.LastSeen) > ttl {
			delete(t.peers, ep)
			removed++
		}
	}
	return removed
}

// Len reports the current number of tracked peers.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}
