// Command wraith-send transfers a single file to a listening wraith-receive
// peer over an encrypted, connection-ID-routed UDP session.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"

	"github.com/deb2000-sudo/wraithgo/internal/congestion"
	"github.com/deb2000-sudo/wraithgo/internal/health"
	"github.com/deb2000-sudo/wraithgo/internal/identity"
	"github.com/deb2000-sudo/wraithgo/internal/ratelimit"
	"github.com/deb2000-sudo/wraithgo/internal/reputation"
	"github.com/deb2000-sudo/wraithgo/internal/resume"
	"github.com/deb2000-sudo/wraithgo/internal/routing"
	"github.com/deb2000-sudo/wraithgo/internal/session"
	"github.com/deb2000-sudo/wraithgo/internal/telemetry"
	"github.com/deb2000-sudo/wraithgo/internal/transfer"
	"github.com/deb2000-sudo/wraithgo/internal/transport"
	"github.com/deb2000-sudo/wraithgo/pkg/protocol"
	"github.com/deb2000-sudo/wraithgo/pkg/utils"
)

func main() {
	filePath := flag.String("file", "", "input file path")
	peerAddr := flag.String("peer", "", "receiver address (host:port)")
	localAddr := flag.String("local", "0.0.0.0:0", "local address to bind")
	chunkSize := flag.Int64("chunk-size", protocol.MaxFramePayload, "chunk size in bytes (must not exceed the max frame payload)")
	handshakeTimeout := flag.Duration("handshake-timeout", 5*time.Second, "handshake timeout")
	resumeDir := flag.String("resume-dir", ".wraith-resume", "directory to persist resumable transfer state in")
	flag.Parse()

	if *filePath == "" || *peerAddr == "" {
		flag.Usage()
		os.Exit(1)
	}

	if *chunkSize > protocol.MaxFramePayload {
		log.Fatalf("chunk-size %d exceeds max frame payload %d", *chunkSize, protocol.MaxFramePayload)
	}

	if _, err := os.Stat(*filePath); err != nil {
		log.Fatalf("stat input file: %v", err)
	}

	runID := uuid.NewString()
	log.SetPrefix("[" + runID[:8] + "] ")

	id, err := identity.NewNodeIdentity()
	if err != nil {
		log.Fatalf("generate node identity: %v", err)
	}

	table := routing.NewTable()
	sessions := session.NewManager(table)
	limiter := ratelimit.New(ratelimit.DefaultConfig())
	rep := reputation.New(reputation.DefaultConfig())

	ep, err := transport.New(*localAddr, table, sessions, limiter, rep, id)
	if err != nil {
		log.Fatalf("open endpoint: %v", err)
	}
	defer ep.Close()

	go ep.Serve()

	stopHealth := make(chan struct{})
	defer close(stopHealth)
	go health.NewLoop(sessions, 30*time.Second, 5*time.Second).Run(stopHealth)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		colorstring.Println("[yellow]interrupt received, closing[reset]")
		ep.Close()
		os.Exit(1)
	}()

	remote, err := net.ResolveUDPAddr("udp", *peerAddr)
	if err != nil {
		log.Fatalf("resolve peer address: %v", err)
	}

	hc := transport.NewHandshakeCoordinator(ep, id)
	ctx, cancel := context.WithTimeout(context.Background(), *handshakeTimeout)
	defer cancel()

	peer, err := hc.Connect(ctx, remote)
	if err != nil {
		log.Fatalf("handshake with %s: %v", *peerAddr, err)
	}
	colorstring.Printf("[green]session established[reset] with %s\n", *peerAddr)

	resumeStore, err := resume.New(*resumeDir, 64)
	if err != nil {
		log.Fatalf("open resume store: %v", err)
	}
	mgr := transfer.NewManagerWithResume(resumeStore)
	ts, err := mgr.StartSend(*filePath, peer, *chunkSize)
	if err != nil {
		log.Fatalf("start send: %v", err)
	}
	log.Printf("sending %s (%s) in %d chunks", *filePath, utils.HumanBytes(ts.FileSize), ts.TotalChunks)

	bar := progressbar.NewOptions64(
		ts.FileSize,
		progressbar.OptionSetDescription("sending"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	cc := congestion.New()
	tel := telemetry.NewCollector(time.Now())

	done := make(chan error, 1)
	go func() { done <- mgr.PumpSend(ts, cc) }()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var lastSent int64
	for {
		select {
		case err := <-done:
			if err != nil {
				log.Fatalf("send failed: %v", err)
			}
			bar.Finish()
			colorstring.Println("[green]transfer complete[reset]")
			log.Printf("throughput %.2f Mbps, last rtt %.1fms", tel.BandwidthMbps(), tel.LatencyMs())
			return
		case <-ticker.C:
			frac, total := ts.Progress()
			sent := int64(frac * float64(total))
			bar.Set64(sent)
			if delta := sent - lastSent; delta > 0 {
				tel.RecordBytesSent(uint64(delta))
				lastSent = sent
			}
			tel.RecordRTT(cc.Snapshot().MinRTT)
		}
	}
}
