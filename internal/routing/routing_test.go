package routing

import (
	"net"
	"testing"
	"time"

	"github.com/deb2000-sudo/wraithgo/pkg/protocol"
)

func testCID(b byte) protocol.ConnectionID {
	var cid protocol.ConnectionID
	for i := range cid {
		cid[i] = b
	}
	return cid
}

func TestInsertAndLookup(t *testing.T) {
	table := NewTable()
	cid := testCID(1)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}

	table.Insert(cid, "session-a", addr)

	e, ok := table.Lookup(cid)
	if !ok {
		t.Fatalf("expected entry to be found")
	}
	if e.Session != "session-a" {
		t.Fatalf("unexpected session: %v", e.Session)
	}
	if table.Len() != 1 {
		t.Fatalf("expected length 1, got %d", table.Len())
	}
}

func TestRemove(t *testing.T) {
	table := NewTable()
	cid := testCID(2)
	table.Insert(cid, "s", nil)
	table.Remove(cid)

	if _, ok := table.Lookup(cid); ok {
		t.Fatalf("expected entry removed")
	}
}

func TestRecordIngressEgress(t *testing.T) {
	table := NewTable()
	cid := testCID(3)
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1234}
	table.Insert(cid, "s", nil)

	table.RecordIngress(cid, addr, 100)
	table.RecordEgress(cid, 50)

	e, _ := table.Lookup(cid)
	if e.PacketsIn != 1 || e.BytesIn != 100 {
		t.Fatalf("unexpected ingress stats: %+v", e)
	}
	if e.PacketsOut != 1 || e.BytesOut != 50 {
		t.Fatalf("unexpected egress stats: %+v", e)
	}
	if e.RemoteAddr != addr {
		t.Fatalf("expected remote addr updated on ingress")
	}
}

func TestUpdateRemoteAddr(t *testing.T) {
	table := NewTable()
	cid := testCID(4)
	table.Insert(cid, "s", nil)

	newAddr := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 4321}
	if !table.UpdateRemoteAddr(cid, newAddr) {
		t.Fatalf("expected update to succeed for known cid")
	}

	e, _ := table.Lookup(cid)
	if e.RemoteAddr != newAddr {
		t.Fatalf("expected remote addr updated")
	}

	if table.UpdateRemoteAddr(testCID(99), newAddr) {
		t.Fatalf("expected update to fail for unknown cid")
	}
}

func TestIdle(t *testing.T) {
	table := NewTable()
	cid := testCID(5)
	e := table.Insert(cid, "s", nil)
	e.LastSeen = time.Now().Add(-time.Hour)

	idle := table.Idle(time.Minute)
	if len(idle) != 1 || idle[0] != cid {
		t.Fatalf("expected cid to be reported idle: %+v", idle)
	}
}

func TestStatsCountsHitsAndMisses(t *testing.T) {
	table := NewTable()
	cid := testCID(8)
	table.Insert(cid, "s", nil)

	table.Lookup(cid)
	table.Lookup(cid)
	table.Lookup(testCID(99))

	stats := table.Stats()
	if stats.Total != 3 {
		t.Fatalf("expected 3 total lookups, got %d", stats.Total)
	}
	if stats.Successful != 2 {
		t.Fatalf("expected 2 successful lookups, got %d", stats.Successful)
	}
	if stats.Failed != 1 {
		t.Fatalf("expected 1 failed lookup, got %d", stats.Failed)
	}
}

func TestSnapshot(t *testing.T) {
	table := NewTable()
	table.Insert(testCID(6), "a", nil)
	table.Insert(testCID(7), "b", nil)

	snap := table.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
}
