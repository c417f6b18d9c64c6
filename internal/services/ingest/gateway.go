package ingest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bivalvia-project/bivalvia/internal/model/messages"
	"github.com/bivalvia-project/bivalvia/internal/storage"
	"github.com/bivalvia-project/bivalvia/pkg/wsgroup"
)

// CloseCodeUnauthorized is the application close code for a bad or missing
// credential, on both the sensor and the dashboard channel.
const CloseCodeUnauthorized = 4003

// Gateway terminates relay connections from local nodes: it authenticates
// the channel with the shared secret, persists each reading and republishes
// it to the sector's broadcast group.
type Gateway struct {
	store    *storage.Store
	registry *wsgroup.Registry
	apiKey   string
	mirror   *Mirror // optional, nil when the influx mirror is disabled

	upgrader websocket.Upgrader
}

func NewGateway(store *storage.Store, registry *wsgroup.Registry, apiKey string, mirror *Mirror) *Gateway {
	return &Gateway{
		store:    store,
		registry: registry,
		apiKey:   apiKey,
		mirror:   mirror,
		upgrader: websocket.Upgrader{
			// Relay clients are not browsers; origin checks add nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (g *Gateway) tokenValid(token string) bool {
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(g.apiKey)) == 1
}

// HandleSensores serves GET /ws/sensores/. Credential comes as the token
// query parameter; an invalid one is closed with 4003 before any reading is
// accepted.
func (g *Gateway) HandleSensores(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ingest: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	if !g.tokenValid(token) {
		log.Printf("ingest: rejecting relay connection, invalid or missing token")
		msg := websocket.FormatCloseMessage(CloseCodeUnauthorized, "token invalido")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
		return
	}

	log.Printf("ingest: relay connected from %s", r.RemoteAddr)
	relayConnections.Inc()
	defer relayConnections.Dec()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Printf("ingest: relay disconnected: %v", err)
			return
		}

		ack := g.processReading(r.Context(), raw)
		if err := conn.WriteJSON(ack); err != nil {
			log.Printf("ingest: ack write failed: %v", err)
			return
		}
	}
}

// processReading runs the per-message pipeline: parse, validate, persist per
// kind, broadcast verbatim, acknowledge. Validation failures keep the
// connection open; only the offending reading is refused.
func (g *Gateway) processReading(ctx context.Context, raw []byte) messages.Ack {
	readingsReceived.Inc()

	var reading messages.Reading
	if err := json.Unmarshal(raw, &reading); err != nil {
		readingsRejected.WithLabelValues("malformed").Inc()
		return messages.Ack{Error: fmt.Sprintf("JSON inválido: %v", err)}
	}

	if reading.SectorID <= 0 {
		readingsRejected.WithLabelValues("missing_sector").Inc()
		return messages.Ack{Error: "Falta sector_id"}
	}

	ts := reading.Timestamp(time.Now())

	saved, err := g.store.SaveReading(ctx, &reading, ts)
	if err != nil {
		if errors.Is(err, storage.ErrSectorNotFound) {
			readingsRejected.WithLabelValues("unknown_sector").Inc()
			return messages.ErrorAck(fmt.Sprintf("Sector %d no existe", reading.SectorID))
		}
		log.Printf("ingest: persistence failure: %v", err)
		return messages.ErrorAck("Error al guardar datos")
	}
	recordsPersisted.Add(float64(saved))

	g.mirror.Record(&reading, ts)

	// Broadcast the original payload verbatim, not the persisted rows, so
	// dashboards see exactly what the local node sent.
	g.Broadcast(reading.SectorID, raw)

	return messages.SuccessAck(fmt.Sprintf("Datos guardados (%d) y broadcast realizado", saved))
}

// Broadcast publishes a raw reading payload to the sector's group, tagged as
// a sensor update so the fan-out side can dispatch on it. The REST ingest
// path shares this with the websocket path.
func (g *Gateway) Broadcast(sectorID int, raw []byte) {
	BroadcastRaw(g.registry, sectorID, raw)
	broadcastsSent.Inc()
}

// BroadcastRaw wraps a raw reading payload in the sensor-update envelope and
// publishes it. The local node uses this directly so its own dashboards get
// live data without going through the cloud.
func BroadcastRaw(registry *wsgroup.Registry, sectorID int, raw []byte) {
	env, err := json.Marshal(messages.GroupMessage{
		Type: messages.TypeSensorUpdate,
		Data: raw,
	})
	if err != nil {
		log.Printf("ingest: broadcast marshal failed: %v", err)
		return
	}
	registry.Publish(messages.SectorGroup(sectorID), env)
}
