package ingest

import (
	"log"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/bivalvia-project/bivalvia/internal/model/messages"
)

// Mirror duplicates accepted readings into InfluxDB for ad-hoc time-series
// exploration. It is optional and strictly best-effort: the relational store
// remains the system of record and a mirror failure never blocks an ack.
type Mirror struct {
	api     api.WriteAPI
	mu      sync.RWMutex
	lastErr time.Time
}

// NewMirror wraps the async write API and drains its error channel so write
// failures surface in the log and in LastErrorAge.
func NewMirror(client influxdb2.Client, org, bucket string) *Mirror {
	w := client.WriteAPI(org, bucket)
	m := &Mirror{
		api:     w,
		lastErr: time.Now().Add(-24 * time.Hour),
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				m.mu.Lock()
				m.lastErr = time.Now()
				m.mu.Unlock()
				log.Printf("ingest: influx mirror write error: %v", err)
			}
		}
	}()
	return m
}

// LastErrorAge reports how long the mirror has been writing cleanly.
func (m *Mirror) LastErrorAge() time.Duration {
	if m == nil {
		return 99999 * time.Hour
	}
	m.mu.RLock()
	t := m.lastErr
	m.mu.RUnlock()
	return time.Since(t)
}

// Record queues one point carrying every present measurement as a field.
func (m *Mirror) Record(r *messages.Reading, ts time.Time) {
	if m == nil {
		return
	}
	fields := map[string]interface{}{}
	for _, k := range messages.Kinds {
		if r.Present(k) {
			fields[string(k)] = *r.Value(k)
		}
	}
	if len(fields) == 0 {
		return
	}
	tags := map[string]string{"sector_id": strconv.Itoa(r.SectorID)}
	m.api.WritePoint(influxdb2.NewPoint("lectura", tags, fields, ts))
}
