// Command quicoreclient dials a quicoreserver over UDP, writes one
// message on a new stream, and prints back whatever the server echoes
// (client half of the teacher's in-memory main.go demo, wired through
// a real socket and an optional on-disk resumption cache).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"

	quicore "github.com/nitishtalasu/msquic"
	"github.com/nitishtalasu/msquic/config"
	"github.com/nitishtalasu/msquic/datapath"
	"github.com/nitishtalasu/msquic/sessioncache"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:4433", "UDP address of the quicoreserver to dial")
	localAddr := flag.String("listen", "127.0.0.1:0", "local UDP address to bind")
	message := flag.String("message", "hello from quicoreclient", "message to send")
	configPath := flag.String("config", "", "optional TOML config file (see config package)")
	cachePath := flag.String("session-cache", "", "optional resumption ticket cache file (see sessioncache package)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("quicoreclient: loading config: %v", err)
		}
		cfg = loaded
	}

	peer, err := net.ResolveUDPAddr("udp", *serverAddr)
	if err != nil {
		log.Fatalf("quicoreclient: resolving %s: %v", *serverAddr, err)
	}
	transport, err := datapath.NewUDPTransport(*localAddr, peer)
	if err != nil {
		log.Fatalf("quicoreclient: binding %s: %v", *localAddr, err)
	}

	conn, err := quicore.NewConnection(transport, true, nil)
	if err != nil {
		log.Fatalf("quicoreclient: %v", err)
	}
	if err := conn.SetParam(quicore.ParamIdleTimeout, cfg.IdleTimeout); err != nil {
		log.Printf("quicoreclient: applying idle timeout: %v", err)
	}

	if *cachePath != "" {
		cache, err := sessioncache.Open(*cachePath)
		if err != nil {
			log.Fatalf("quicoreclient: opening session cache: %v", err)
		}
		defer cache.Close()
		conn.UseResumptionCache(cache, *serverAddr)
		if ticket, ok := cache.Get(*serverAddr); ok {
			log.Printf("quicoreclient: found cached resumption ticket (%d bytes) for %s", len(ticket), *serverAddr)
		}
	}

	ctx := context.Background()
	runErrs := make(chan error, 1)
	go func() { runErrs <- conn.Run(ctx) }()

	stream, err := conn.OpenStream(ctx)
	if err != nil {
		log.Fatalf("quicoreclient: opening stream: %v", err)
	}
	if _, err := stream.Write([]byte(*message)); err != nil {
		log.Fatalf("quicoreclient: writing: %v", err)
	}
	if err := stream.Close(); err != nil {
		log.Fatalf("quicoreclient: closing stream: %v", err)
	}

	reply, err := io.ReadAll(stream)
	if err != nil {
		log.Fatalf("quicoreclient: reading reply: %v", err)
	}
	fmt.Printf("server replied: %q\n", string(reply))

	if n, err := conn.GetResumptionState(nil); err == nil && n > 0 {
		buf := make([]byte, n)
		if _, err := conn.GetResumptionState(buf); err != nil {
			log.Printf("quicoreclient: fetching resumption ticket: %v", err)
		}
	}

	conn.Close(nil)
	<-runErrs
}
