// Command wraith-receive listens for incoming wraith-send connections and
// writes any completed transfer into a destination directory.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"

	"github.com/deb2000-sudo/wraithgo/internal/health"
	"github.com/deb2000-sudo/wraithgo/internal/identity"
	"github.com/deb2000-sudo/wraithgo/internal/ratelimit"
	"github.com/deb2000-sudo/wraithgo/internal/reputation"
	"github.com/deb2000-sudo/wraithgo/internal/resume"
	"github.com/deb2000-sudo/wraithgo/internal/routing"
	"github.com/deb2000-sudo/wraithgo/internal/session"
	"github.com/deb2000-sudo/wraithgo/internal/transfer"
	"github.com/deb2000-sudo/wraithgo/internal/transport"
	"github.com/deb2000-sudo/wraithgo/pkg/protocol"
	"github.com/deb2000-sudo/wraithgo/pkg/utils"
)

func main() {
	localAddr := flag.String("local", "0.0.0.0:9000", "local address to bind")
	destDir := flag.String("dest-dir", ".", "directory to write received files into")
	resumeDir := flag.String("resume-dir", ".wraith-resume", "directory to persist resumable transfer state in")
	flag.Parse()

	if err := os.MkdirAll(*destDir, 0o755); err != nil {
		log.Fatalf("create destination directory: %v", err)
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

	resumeStore, err := resume.New(*resumeDir, 64)
	if err != nil {
		log.Fatalf("open resume store: %v", err)
	}
	mgr := transfer.NewManagerWithResume(resumeStore)

	var barsMu sync.Mutex
	bars := make(map[uint16]*progressbar.ProgressBar)

	ep.OnFrame = func(s *session.Session, f *protocol.Frame) {
		switch f.Type {
		case protocol.FrameTypeStreamOpen:
			ts, err := mgr.HandleStreamOpen(f.Payload, *destDir, s)
			if err != nil {
				log.Printf("stream open from %s: %v", s.RemoteAddr, err)
				return
			}
			log.Printf("receiving %s (%s) in %d chunks", ts.Path, utils.HumanBytes(ts.FileSize), ts.TotalChunks)
			bar := progressbar.NewOptions64(
				ts.FileSize,
				progressbar.OptionSetDescription("receiving "+ts.Path),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetWidth(15),
				progressbar.OptionThrottle(100*time.Millisecond),
				progressbar.OptionShowCount(),
			)
			barsMu.Lock()
			bars[ts.StreamID] = bar
			barsMu.Unlock()

		case protocol.FrameTypeData:
			complete, err := mgr.HandleData(f)
			if err != nil {
				log.Printf("data frame on stream %d: %v", f.StreamID, err)
				return
			}
			barsMu.Lock()
			bar := bars[f.StreamID]
			barsMu.Unlock()
			if bar != nil {
				bar.Add(len(f.Payload))
			}
			if complete {
				if bar != nil {
					bar.Finish()
				}
				colorstring.Printf("[green]transfer complete on stream %d[reset]\n", f.StreamID)
			}

		case protocol.FrameTypeStreamClose:
			// the reassembler already finalized on the last Data frame;
			// nothing further to do here.
		}
	}

	hc := transport.NewHandshakeCoordinator(ep, id)
	hc.OnEstablished = func(s *session.Session) {
		colorstring.Printf("[green]peer connected[reset] %s\n", s.RemoteAddr)
	}

	go ep.Serve()

	stopHealth := make(chan struct{})
	defer close(stopHealth)
	go health.NewLoop(sessions, 30*time.Second, 5*time.Second).Run(stopHealth)

	colorstring.Printf("[green]listening[reset] on %s, writing to %s\n", *localAddr, *destDir)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt
	colorstring.Println("[yellow]interrupt received, closing[reset]")
}
