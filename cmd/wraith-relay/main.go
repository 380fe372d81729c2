// Command wraith-relay forwards raw datagrams between two fixed peer
// addresses when they cannot reach each other directly. It never inspects
// or decrypts the datagrams it forwards: like the optional obfuscation
// filter, a relay hop is a byte-level transparent passthrough, so both
// sides' end-to-end Noise session remains untouched.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/mitchellh/colorstring"

	"github.com/deb2000-sudo/wraithgo/internal/relay"
)

func main() {
	listenAddr := flag.String("listen", "0.0.0.0:9100", "local address to bind")
	peerA := flag.String("peer-a", "", "first peer address (host:port)")
	peerB := flag.String("peer-b", "", "second peer address (host:port)")
	relayID := flag.String("id", "relay", "identifier logged with heartbeats")
	flag.Parse()

	if *peerA == "" || *peerB == "" {
		flag.Usage()
		log.Fatal("both -peer-a and -peer-b are required")
	}

	fwd, err := relay.NewForwarder(*listenAddr, *peerA, *peerB, *relayID)
	if err != nil {
		log.Fatalf("start relay: %v", err)
	}
	fwd.Start()
	defer fwd.Close()

	colorstring.Printf("[green]relaying[reset] on %s between %s and %s\n", *listenAddr, *peerA, *peerB)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt
	colorstring.Println("[yellow]interrupt received, closing[reset]")
}
