package local

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/bivalvia-project/bivalvia/internal/services/ingest"
	"github.com/bivalvia-project/bivalvia/internal/services/relay"
	"github.com/bivalvia-project/bivalvia/internal/storage"
	"github.com/bivalvia-project/bivalvia/pkg/wsgroup"
)

// Service is the local node's main loop: poll the reading source, persist
// to the local store, and relay to the cloud. The two writes are
// independent paths; either may fail without affecting the other, and
// there is no replay of cloud writes missed while disconnected.
type Service struct {
	source   ReadingSource
	store    *storage.Store
	relay    *relay.Client
	fallback *RestFallback     // optional
	registry *wsgroup.Registry // local dashboards get live data too

	sectorID int
	interval time.Duration
}

func NewService(source ReadingSource, store *storage.Store, rc *relay.Client, fallback *RestFallback, registry *wsgroup.Registry, sectorID int, interval time.Duration) *Service {
	return &Service{
		source:   source,
		store:    store,
		relay:    rc,
		fallback: fallback,
		registry: registry,
		sectorID: sectorID,
		interval: interval,
	}
}

// Run blocks until ctx ends. The relay maintenance loop runs alongside the
// read loop; both share the relay client through its own locking.
func (s *Service) Run(ctx context.Context) {
	go func() {
		if err := s.relay.MaintainConnection(ctx); err != nil {
			log.Printf("local: relay supervision ended: %v", err)
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.relay.Disconnect()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	reading, err := s.source.Read(ctx)
	if err != nil {
		log.Printf("local: reading source error: %v", err)
		return
	}

	now := time.Now().UTC()
	reading.SectorID = s.sectorID
	reading.MarcaTiempo = now.Format(time.RFC3339)

	// Local store first: readings survive here even when the cloud path is
	// down for the whole outage.
	if saved, err := s.store.SaveReading(ctx, reading, now); err != nil {
		log.Printf("local: local store write failed: %v", err)
	} else {
		log.Printf("local: stored %d measurement(s) for sector %d", saved, s.sectorID)
	}

	if s.registry != nil {
		if raw, err := json.Marshal(reading); err == nil {
			ingest.BroadcastRaw(s.registry, s.sectorID, raw)
		}
	}

	if err := s.relay.SendReading(ctx, reading); err != nil {
		log.Printf("local: relay send failed: %v", err)
		if !errors.Is(err, relay.ErrAuthRejected) && s.fallback != nil {
			if err := s.fallback.Send(ctx, reading); err != nil {
				log.Printf("local: rest fallback failed too: %v", err)
			} else {
				log.Printf("local: delivered via rest fallback")
			}
		}
	}
}
