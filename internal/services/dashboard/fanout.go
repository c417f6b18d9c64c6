package dashboard

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bivalvia-project/bivalvia/internal/model/messages"
	"github.com/bivalvia-project/bivalvia/internal/services/ingest"
	"github.com/bivalvia-project/bivalvia/pkg/wsgroup"
)

// Fanout pushes live sector updates to authenticated browser sessions. Each
// connection subscribes to exactly one sector's broadcast group, taken from
// the URL path, and receives every reading published for it verbatim.
type Fanout struct {
	registry *wsgroup.Registry
	sessions *SessionStore

	upgrader websocket.Upgrader
}

func NewFanout(registry *wsgroup.Registry, sessions *SessionStore) *Fanout {
	return &Fanout{
		registry: registry,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleDashboard serves GET /ws/dashboard/{sector_id}/. Authentication is
// the browser's existing session cookie; an anonymous connection is closed
// with 4003 before joining any group.
func (f *Fanout) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	sectorID, err := strconv.Atoi(r.PathValue("sector_id"))
	if err != nil || sectorID <= 0 {
		http.Error(w, "sector inválido", http.StatusBadRequest)
		return
	}

	user, authed := f.sessions.User(r)

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("dashboard: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	if !authed {
		log.Printf("dashboard: unauthenticated connection for sector %d refused", sectorID)
		msg := websocket.FormatCloseMessage(ingest.CloseCodeUnauthorized, "no autenticado")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
		return
	}

	group := messages.SectorGroup(sectorID)
	sess := wsgroup.NewSession(32)
	f.registry.Join(group, sess)
	// Leave runs on every exit path, error or not, so the group never keeps
	// a dead subscriber.
	defer f.registry.Leave(group, sess)

	log.Printf("dashboard: session %s joined %s (user %s)", sess.ID(), group, user)

	welcome := messages.DashboardFrame{
		Type:     messages.TypeConnectionEstablished,
		Message:  fmt.Sprintf("Conectado al sector %d", sectorID),
		SectorID: sectorID,
	}
	if err := conn.WriteJSON(welcome); err != nil {
		return
	}

	// Reads only detect disconnects and log whatever the browser sends;
	// browser-to-server commands are reserved for later.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			log.Printf("dashboard: message from browser on %s ignored: %s", group, raw)
		}
	}()

	for {
		select {
		case <-done:
			return
		case payload, ok := <-sess.Outbound():
			if !ok {
				return
			}
			var env messages.GroupMessage
			if err := json.Unmarshal(payload, &env); err != nil {
				log.Printf("dashboard: bad group payload on %s: %v", group, err)
				continue
			}
			if env.Type != messages.TypeSensorUpdate {
				continue
			}
			frame := messages.DashboardFrame{
				Type: messages.TypeSensorData,
				Data: env.Data,
			}
			if err := conn.WriteJSON(frame); err != nil {
				log.Printf("dashboard: write to %s failed: %v", sess.ID(), err)
				return
			}
		}
	}
}
