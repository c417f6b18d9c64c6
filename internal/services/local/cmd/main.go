package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bivalvia-project/bivalvia/internal/services/dashboard"
	"github.com/bivalvia-project/bivalvia/internal/services/local"
	"github.com/bivalvia-project/bivalvia/internal/services/relay"
	"github.com/bivalvia-project/bivalvia/internal/storage"
	"github.com/bivalvia-project/bivalvia/pkg/config"
	"github.com/bivalvia-project/bivalvia/pkg/wsgroup"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional, env vars override)")
	seed := flag.Bool("seed", false, "create a demo sector when the store is empty")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if cfg.Environment != config.EnvLocal {
		log.Fatalf("this binary runs the local role, got environment=%s (set ENVIRONMENT=local)", cfg.Environment)
	}

	store, err := storage.Open(cfg)
	if err != nil {
		log.Fatalf("store open failed: %v", err)
	}
	defer store.Close()

	if *seed {
		if sec, err := store.SeedDemo(ctx); err != nil {
			log.Fatalf("seed failed: %v", err)
		} else if sec != nil {
			log.Printf("seeded demo sector %d (%s)", sec.ID, sec.Nombre)
		}
	}

	if ok, err := store.SectorExists(ctx, cfg.LocalSectorID); err != nil {
		log.Fatalf("sector check failed: %v", err)
	} else if !ok {
		log.Fatalf("sector %d not found in local store (run with -seed or create it via the API)", cfg.LocalSectorID)
	}

	relayClient := relay.NewClient(relay.Config{
		URL:                  cfg.WebSocketURL(),
		APIKey:               cfg.Cloud.APIKey,
		ReconnectInterval:    cfg.Relay.ReconnectInterval.Std(),
		MaxReconnectAttempts: cfg.Relay.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.Relay.HeartbeatInterval.Std(),
		HeartbeatTimeout:     cfg.Relay.HeartbeatTimeout.Std(),
		AckTimeout:           cfg.Relay.AckTimeout.Std(),
	})

	var fallback *local.RestFallback
	if cfg.Cloud.APIURL != "" {
		fallback = local.NewRestFallback(cfg.Cloud.APIURL, cfg.Cloud.APIKey, 10*time.Second)
	}

	registry := wsgroup.NewRegistry()
	sessions := dashboard.NewSessionStore(cfg.AdminUser, cfg.AdminPassword, 0)
	fanout := dashboard.NewFanout(registry, sessions)
	api := dashboard.NewAPI(store, nil, fanout, sessions, config.EnvLocal)

	source := local.NewSimulator(time.Now().UnixNano())
	svc := local.NewService(source, store, relayClient, fallback, registry, cfg.LocalSectorID, cfg.ReadInterval.Std())
	go svc.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("local node listening on :%s (sector %d, relaying to %s)",
			cfg.HTTPPort, cfg.LocalSectorID, cfg.WebSocketURL())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	stop()

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	log.Println("local node: shutdown complete")
}
