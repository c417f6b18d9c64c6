package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/bivalvia-project/bivalvia/internal/services/dashboard"
	"github.com/bivalvia-project/bivalvia/internal/services/ingest"
	"github.com/bivalvia-project/bivalvia/internal/storage"
	"github.com/bivalvia-project/bivalvia/pkg/config"
	"github.com/bivalvia-project/bivalvia/pkg/mqttbridge"
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
	if cfg.Environment != config.EnvCloud {
		log.Fatalf("this binary runs the cloud role, got environment=%s (set ENVIRONMENT=cloud)", cfg.Environment)
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

	registry := wsgroup.NewRegistry()

	// Optional MQTT bridge: only needed when several cloud processes share
	// the broadcast load.
	if cfg.MQTT.Enabled {
		client, err := mqttbridge.NewConn(&mqttbridge.Config{
			Host:     cfg.MQTT.Host,
			Port:     cfg.MQTT.Port,
			User:     cfg.MQTT.User,
			Password: cfg.MQTT.Password,
			ClientID: cfg.MQTT.ClientID,
		}, ctx)
		if err != nil {
			log.Fatalf("mqtt bridge connect failed: %v", err)
		}
		bridge := mqttbridge.New(client, registry)
		if err := bridge.Start(ctx); err != nil {
			log.Fatalf("mqtt bridge subscribe failed: %v", err)
		}
		registry.SetBridge(bridge)
		log.Printf("broadcast bridge active via %s:%d", cfg.MQTT.Host, cfg.MQTT.Port)
	}

	var mirror *ingest.Mirror
	if cfg.Influx.Enabled {
		influxClient := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		defer influxClient.Close()
		mirror = ingest.NewMirror(influxClient, cfg.Influx.Org, cfg.Influx.Bucket)
		log.Printf("influx mirror active -> %s bucket=%s", cfg.Influx.URL, cfg.Influx.Bucket)
	}

	gateway := ingest.NewGateway(store, registry, cfg.Cloud.APIKey, mirror)
	sessions := dashboard.NewSessionStore(cfg.AdminUser, cfg.AdminPassword, 0)
	fanout := dashboard.NewFanout(registry, sessions)
	api := dashboard.NewAPI(store, gateway, fanout, sessions, config.EnvCloud)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("cloud node listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	stop()

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	log.Println("cloud node: shutdown complete")
}
