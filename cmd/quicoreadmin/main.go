// Command quicoreadmin is quicoreserver's monitoring sibling: the same
// UDP server connection, plus a gorilla/mux HTTP surface exposing its
// live parameters at /stats and /params/{name} for operators (spec
// §4.9's parameter-get surface, read-only here).
package main

import (
	"context"
	"flag"
	"io"
	"log"

	quicore "github.com/nitishtalasu/msquic"
	"github.com/nitishtalasu/msquic/admin"
	"github.com/nitishtalasu/msquic/config"
	"github.com/nitishtalasu/msquic/datapath"
)

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:4434", "UDP address to listen on")
	configPath := flag.String("config", "", "optional TOML config file (see config package)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("quicoreadmin: loading config: %v", err)
		}
		cfg = loaded
	}

	transport, err := datapath.NewUDPTransport(*listenAddr, nil)
	if err != nil {
		log.Fatalf("quicoreadmin: binding %s: %v", *listenAddr, err)
	}

	conn, err := quicore.NewConnection(transport, false, nil)
	if err != nil {
		log.Fatalf("quicoreadmin: %v", err)
	}
	if err := conn.SetParam(quicore.ParamIdleTimeout, cfg.IdleTimeout); err != nil {
		log.Printf("quicoreadmin: applying idle timeout: %v", err)
	}

	adminServer := admin.NewServer(cfg.AdminAddr, conn)
	go func() {
		log.Printf("quicoreadmin: stats surface on http://%s", cfg.AdminAddr)
		if err := adminServer.ListenAndServe(); err != nil {
			log.Printf("quicoreadmin: admin server exited: %v", err)
		}
	}()

	ctx := context.Background()
	runErrs := make(chan error, 1)
	go func() { runErrs <- conn.Run(ctx) }()

	log.Printf("quicoreadmin: listening on %s", *listenAddr)
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			log.Printf("quicoreadmin: accept: %v", err)
			break
		}
		go echo(stream)
	}

	_ = adminServer.Shutdown(ctx)
	if err := <-runErrs; err != nil && err != context.Canceled {
		log.Printf("quicoreadmin: connection exited: %v", err)
	}
}

func echo(rw io.ReadWriteCloser) {
	defer rw.Close()
	data, err := io.ReadAll(rw)
	if err != nil {
		log.Printf("quicoreadmin: reading stream: %v", err)
		return
	}
	if _, err := rw.Write(data); err != nil {
		log.Printf("quicoreadmin: writing stream: %v", err)
	}
}
