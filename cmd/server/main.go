package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tensei-bridge/backend/internal/bridge"
	"github.com/tensei-bridge/backend/internal/config"
	"github.com/tensei-bridge/backend/internal/orchestrator"
	"github.com/tensei-bridge/backend/internal/server"
	"github.com/tensei-bridge/backend/internal/session"
	"github.com/tensei-bridge/backend/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	offline := flag.Bool("offline", false, "Force offline mode (never contact the migration service)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if os.IsNotExist(err) {
		log.Printf("No config file at %s, using defaults", *configPath)
		cfg = config.Default()
	} else if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *offline {
		cfg.Bridge.Offline = true
		cfg.Bridge.URL = ""
	}

	var live bridge.Client
	var pinger server.Pinger
	if cfg.Bridge.URL != "" {
		httpClient := bridge.NewHTTPClient(cfg.Bridge.URL, cfg.Bridge.RequestTimeout)
		live = httpClient
		pinger = httpClient
		log.Printf("Migration service: %s", cfg.Bridge.URL)
	}
	if cfg.Bridge.Offline {
		log.Println("Offline fallback enabled: unreachable service synthesizes demo sessions")
	}

	var broadcaster *ws.Broadcaster
	manager := orchestrator.NewManager(cfg, live, func(st *session.State) {
		broadcaster.QueueUpdate(st)
		if st.Step == session.StepComplete {
			broadcaster.AnnounceCompletion(st.ID, st.ResultAsset)
		}
	})
	broadcaster = ws.NewBroadcaster(manager, cfg.Server.BroadcastThrottle, cfg.Server.SnapshotInterval, cfg.Server.MaxWSConnections)

	srv := server.NewServer(cfg, manager, broadcaster, pinger)

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		manager.Close()
		broadcaster.Stop()
		os.Exit(0)
	}()

	if err := server.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
