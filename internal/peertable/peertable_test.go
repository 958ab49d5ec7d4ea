package peertable

import (
	"net/netip"
	"testing"
	"time"

	"github.com/arnshah/wisp/internal/identity"
)

func mustAddrPort(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		t.Fatalf("ParseAddrPort(%q): %v", s, err)
	}
	return ap
}

func TestUpsertInsertsAndBumpsLastSeen(t *testing.T) {
	self := mustAddrPort(t, "10.0.0.1:12000")
	table := New(self)

	id := identity.Identity{Name: "a", IP: "10.0.0.2", Port: 12000, OS: "linux"}
	t0 := time.Now()
	table.Upsert(id, t0)

	snap := table.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("len(snapshot) = %d, want 1", len(snap))
	}
	if !snap[0].LastSeen.Equal(t0) {
		t.Fatalf("LastSeen = %v, want %v", snap[0].LastSeen, t0)
	}

	t1 := t0.Add(time.Second)
	table.Upsert(id, t1)

	snap = table.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("len(snapshot) after re-upsert = %d, want 1 (same endpoint)", len(snap))
	}
	if !snap[0].LastSeen.Equal(t1) {
		t.Fatalf("LastSeen after bump = %v, want %v", snap[0].LastSeen, t1)
	}
}

func TestUpsertNeverInsertsSelf(t *testing.T) {
	self := mustAddrPort(t, "10.0.0.1:12000")
	table := New(self)

	table.Upsert(identity.Identity{Name: "me", IP: "10.0.0.1", Port: 12000, OS: "linux"}, time.Now())

	if table.Len() != 0 {
		t.Fatalf("Len = %d, want 0: self must never be inserted", table.Len())
	}
}

func TestUpsertKeyIsEndpointNotName(t *testing.T) {
	self := mustAddrPort(t, "10.0.0.1:12000")
	table := New(self)

	now := time.Now()
	table.Upsert(identity.Identity{Name: "dup", IP: "10.0.0.2", Port: 12000, OS: "linux"}, now)
	table.Upsert(identity.Identity{Name: "dup", IP: "10.0.0.3", Port: 12000, OS: "linux"}, now)

	if table.Len() != 2 {
		t.Fatalf("Len = %d, want 2: distinct endpoints with equal names must both exist", table.Len())
	}

	if _, err := table.LookupByName("dup"); err != ErrAmbiguousName {
		t.Fatalf("LookupByName(dup) = %v, want ErrAmbiguousName", err)
	}
}

func TestLookupByNameNotFound(t *testing.T) {
	table := New(mustAddrPort(t, "10.0.0.1:12000"))
	if _, err := table.LookupByName("nope"); err != ErrNotFound {
		t.Fatalf("LookupByName = %v, want ErrNotFound", err)
	}
}

func TestSweepRemovesExpiredOnly(t *testing.T) {
	table := New(mustAddrPort(t, "10.0.0.1:12000"))

	now := time.Now()
	table.Upsert(identity.Identity{Name: "stale", IP: "10.0.0.2", Port: 12000}, now.Add(-2*time.Minute))
	table.Upsert(identity.Identity{Name: "fresh", IP: "10.0.0.3", Port: 12000}, now)

	removed := table.Sweep(now, 60*time.Second)
	if removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}

	snap := table.Snapshot()
	if len(snap) != 1 || snap[0].Identity.Name != "fresh" {
		t.Fatalf("survivors = %+v, want only 'fresh'", snap)
	}
}

func TestSweepConcurrentWithUpsert(t *testing.T) {
	table := New(mustAddrPort(t, "10.0.0.1:12000"))
	now := time.Now()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			table.Upsert(identity.Identity{Name: "x", IP: "10.0.0.2", Port: 12000}, now)
		}
	}()

	for i := 0; i < 1000; i++ {
		table.Sweep(now, 60*time.Second)
	}
	<-done
}
