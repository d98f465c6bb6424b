package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"boltchat/pkg/server"
	"boltchat/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	host := flag.String("host", "", "listen host (overrides config)")
	port := flag.Int("port", 0, "listen port (overrides config)")
	dbPath := flag.String("db", "", "database path (overrides config)")
	backend := flag.String("backend", "", "store backend: sqlite or memory (overrides config)")
	codec := flag.String("codec", "", "wire codec: json or compact (overrides config)")
	httpAddr := flag.String("http", "", "HTTP listen address for /healthz and /metrics (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "port":
			cfg.Port = *port
		case "db":
			cfg.Database.Path = *dbPath
		case "backend":
			cfg.Database.Backend = *backend
		case "codec":
			cfg.Codec = *codec
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "debug":
			cfg.Debug = *debug
		}
	})

	st, err := store.Open(cfg.Database.Backend, cfg.Database.Path)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	srv, err := server.New(cfg, st)
	if err != nil {
		log.Fatalf("server: %v", err)
	}
	if err := srv.Start(); err != nil {
		log.Fatalf("start: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("shutting down")
	srv.Stop()
}
