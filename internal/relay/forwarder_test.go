package relay

import (
	"net"
	"testing"
	"time"
)

func TestForwarderRelaysBetweenPeers(t *testing.T) {
	connA, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen peer A: %v", err)
	}
	defer connA.Close()
	connB, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen peer B: %v", err)
	}
	defer connB.Close()

	fwd, err := NewForwarder("127.0.0.1:0", connA.LocalAddr().String(), connB.LocalAddr().String(), "test")
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}
	fwd.Start()
	defer fwd.Close()

	relayAddr := fwd.conn.LocalAddr().(*net.UDPAddr)

	if _, err := connA.WriteToUDP([]byte("hello-from-a"), relayAddr); err != nil {
		t.Fatalf("write from A: %v", err)
	}

	connB.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := connB.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read at B: %v", err)
	}
	if got := string(buf[:n]); got != "hello-from-a" {
		t.Fatalf("got %q, want hello-from-a", got)
	}

	if _, err := connB.WriteToUDP([]byte("hello-from-b"), relayAddr); err != nil {
		t.Fatalf("write from B: %v", err)
	}
	connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err = connA.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read at A: %v", err)
	}
	if got := string(buf[:n]); got != "hello-from-b" {
		t.Fatalf("got %q, want hello-from-b", got)
	}
}

func TestDestinationForUnknownSourceIsNil(t *testing.T) {
	f := &Forwarder{
		PeerA:   &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1},
		PeerB:   &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 2},
		learned: make(map[string]*net.UDPAddr),
	}
	other := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 3), Port: 3}
	if dest := f.destinationFor(other); dest != nil {
		t.Fatalf("expected nil destination for unknown source, got %v", dest)
	}
}
