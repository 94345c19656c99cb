// Command quicoreserver runs one server-side connection over a real
// UDP socket, accepting streams and echoing whatever it reads back to
// the client (the teacher's main.go demo, split out of the in-memory
// pair and onto datapath.NewUDPTransport).
package main

import (
	"context"
	"flag"
	"io"
	"log"

	quicore "github.com/nitishtalasu/msquic"
	"github.com/nitishtalasu/msquic/config"
	"github.com/nitishtalasu/msquic/datapath"
)

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:4433", "UDP address to listen on")
	configPath := flag.String("config", "", "optional TOML config file (see config package)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("quicoreserver: loading config: %v", err)
		}
		cfg = loaded
	}

	transport, err := datapath.NewUDPTransport(*listenAddr, nil)
	if err != nil {
		log.Fatalf("quicoreserver: binding %s: %v", *listenAddr, err)
	}

	conn, err := quicore.NewConnection(transport, false, nil)
	if err != nil {
		log.Fatalf("quicoreserver: %v", err)
	}
	if err := conn.SetParam(quicore.ParamIdleTimeout, cfg.IdleTimeout); err != nil {
		log.Printf("quicoreserver: applying idle timeout: %v", err)
	}
	if err := conn.SetParam(quicore.ParamKeepAliveInterval, cfg.KeepAliveInterval); err != nil {
		log.Printf("quicoreserver: applying keep-alive interval: %v", err)
	}

	ctx := context.Background()
	runErrs := make(chan error, 1)
	go func() { runErrs <- conn.Run(ctx) }()

	log.Printf("quicoreserver: listening on %s", *listenAddr)
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			log.Printf("quicoreserver: accept: %v", err)
			break
		}
		go echo(stream)
	}

	if err := <-runErrs; err != nil && err != context.Canceled {
		log.Printf("quicoreserver: connection exited: %v", err)
	}
}

func echo(rw io.ReadWriteCloser) {
	defer rw.Close()
	data, err := io.ReadAll(rw)
	if err != nil {
		log.Printf("quicoreserver: reading stream: %v", err)
		return
	}
	if _, err := rw.Write(data); err != nil {
		log.Printf("quicoreserver: writing stream: %v", err)
	}
}
