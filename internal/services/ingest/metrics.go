package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readingsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bivalvia_ingest_readings_received_total",
		Help: "Readings received on the sensor channel, valid or not.",
	})
	readingsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bivalvia_ingest_readings_rejected_total",
		Help: "Readings rejected by validation, by reason.",
	}, []string{"reason"})
	recordsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bivalvia_ingest_records_persisted_total",
		Help: "Individual measurement rows written to the store.",
	})
	broadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bivalvia_ingest_broadcasts_total",
		Help: "Sector group publishes triggered by ingested readings.",
	})
	relayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bivalvia_ingest_relay_connections",
		Help: "Currently open relay connections.",
	})
)
