// Package main provides the draftpad agent: a localhost daemon that owns
// autosave scheduling, the local snapshot cache and reconnect sync for
// editor frontends speaking REST/WebSocket.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kimhsiao/draftpad/cmd/agent/handlers"
	"github.com/kimhsiao/draftpad/internal/autosave"
	"github.com/kimhsiao/draftpad/internal/cache"
	"github.com/kimhsiao/draftpad/internal/config"
	"github.com/kimhsiao/draftpad/internal/connectivity"
	"github.com/kimhsiao/draftpad/internal/db"
	"github.com/kimhsiao/draftpad/internal/logging"
	"github.com/kimhsiao/draftpad/internal/remote"
)

func main() {
	configPath := flag.String("config", "", "path to the agent YAML config")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	logging.Init(os.Stderr, level)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadConfigFile(*configPath)
		if err != nil {
			logging.Error("Failed to load config file", err, map[string]interface{}{"path": *configPath})
			os.Exit(1)
		}
		cfg = loaded
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		logging.Error("Failed to open local database", err, map[string]interface{}{"data_dir": cfg.DataDir})
		os.Exit(1)
	}
	defer database.Close()

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		logging.Error("Failed to run migrations", err)
		os.Exit(1)
	}

	monitor := connectivity.NewMonitor()
	store := remote.NewHTTPStore(&remote.HTTPConfig{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
	})
	localCache := cache.NewStore(database.DB)

	hub := NewWSHub()
	monitor.Subscribe(hub.BroadcastConnectivity)

	registry := NewRegistry(store, localCache, monitor, &autosave.Config{
		AutoSaveInterval: cfg.AutoSave.Interval,
		DebounceDelay:    cfg.AutoSave.Debounce,
		RequeueDelay:     cfg.AutoSave.RequeueDelay,
		Enabled:          !cfg.AutoSave.Disabled,
	}, hub)
	defer registry.StopAll()

	probeCtx, cancelProbe := context.WithCancel(context.Background())
	defer cancelProbe()
	if cfg.Connectivity.ProbeURL != "" {
		go monitor.Probe(probeCtx, cfg.Connectivity.ProbeURL, cfg.Connectivity.ProbeInterval)
	}

	draftHandler := handlers.NewDraftHandler(registry)
	syncHandler := handlers.NewSyncHandler(monitor, localCache, registry.TriggerSync)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", handleHealth)
	mux.HandleFunc("/api/drafts/save", draftHandler.Save)
	mux.HandleFunc("/api/drafts/force-save", draftHandler.ForceSave)
	mux.HandleFunc("/api/drafts/load", draftHandler.Load)
	mux.HandleFunc("/api/drafts/discard", draftHandler.Discard)
	mux.HandleFunc("/api/drafts/status", draftHandler.Status)
	mux.HandleFunc("/api/sync/status", syncHandler.Status)
	mux.HandleFunc("/api/sync/trigger", syncHandler.Trigger)
	mux.HandleFunc("/ws", HandleWebSocket(hub))

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logging.Info("Shutting down")
		server.Shutdown(context.Background())
	}()

	logging.Info("Draftpad agent listening", map[string]interface{}{
		"addr":     cfg.ListenAddr,
		"data_dir": cfg.DataDir,
	})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("Server failed", err)
		os.Exit(1)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","service":"draftpad-agent"}`))
}
