package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bivalvia-project/bivalvia/internal/model/entities"
	"github.com/bivalvia-project/bivalvia/internal/model/messages"
	"github.com/bivalvia-project/bivalvia/internal/services/ingest"
	"github.com/bivalvia-project/bivalvia/internal/storage"
	"github.com/bivalvia-project/bivalvia/pkg/config"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// API is the cloud node's HTTP surface: sector/zone CRUD, history browsing
// and export, the two websocket endpoints and the REST ingest fallback.
type API struct {
	store    *storage.Store
	gateway  *ingest.Gateway
	fanout   *Fanout
	sessions *SessionStore
	env      config.Environment
}

func NewAPI(store *storage.Store, gateway *ingest.Gateway, fanout *Fanout, sessions *SessionStore, env config.Environment) *API {
	return &API{store: store, gateway: gateway, fanout: fanout, sessions: sessions, env: env}
}

// Mux builds the full route table.
func (a *API) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("GET /readyz", a.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/test/", ingest.HandleTest(string(a.env)))

	mux.HandleFunc("POST /api/login", a.sessions.HandleLogin)
	mux.HandleFunc("POST /api/logout", a.sessions.HandleLogout)

	mux.HandleFunc("GET /api/sectores/", a.sessions.Require(a.handleListSectores))
	mux.HandleFunc("POST /api/sectores/", a.sessions.Require(a.handleCreateSector))
	mux.HandleFunc("GET /api/sectores/{id}/", a.sessions.Require(a.handleGetSector))
	mux.HandleFunc("GET /api/sectores/{id}/zonas/", a.sessions.Require(a.handleListZonas))
	mux.HandleFunc("POST /api/sectores/{id}/zonas/", a.sessions.Require(a.handleCreateZona))
	mux.HandleFunc("GET /api/sectores/{id}/historial", a.sessions.Require(a.handleHistorial))
	mux.HandleFunc("GET /api/sectores/{id}/historial.csv", a.sessions.Require(a.handleHistorialCSV))

	// Ingest surfaces exist only on the cloud twin; the local node serves
	// its own dashboard directly from the local store.
	if a.env == config.EnvCloud {
		mux.HandleFunc("POST /api/lecturas/", a.gateway.HandleRecibirLectura)
		mux.HandleFunc("GET /ws/sensores/", a.gateway.HandleSensores)
	}
	mux.HandleFunc("GET /ws/dashboard/{sector_id}/", a.fanout.HandleDashboard)

	return mux
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	ready := a.store.Ping(ctx) == nil
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]bool{"ready": ready})
}

func (a *API) handleListSectores(w http.ResponseWriter, r *http.Request) {
	sectores, err := a.store.ListSectors(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sectores)
}

func (a *API) handleCreateSector(w http.ResponseWriter, r *http.Request) {
	var sec entities.Sector
	if err := json.NewDecoder(r.Body).Decode(&sec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cuerpo inválido"})
		return
	}
	sec.ID = 0
	if err := a.store.CreateSector(r.Context(), &sec); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, sec)
}

func sectorID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("sector inválido")
	}
	return id, nil
}

func (a *API) handleGetSector(w http.ResponseWriter, r *http.Request) {
	id, err := sectorID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	sec, err := a.store.GetSector(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrSectorNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("Sector %d no existe", id)})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sec)
}

func (a *API) handleListZonas(w http.ResponseWriter, r *http.Request) {
	id, err := sectorID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	zonas, err := a.store.ListZonas(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, zonas)
}

func (a *API) handleCreateZona(w http.ResponseWriter, r *http.Request) {
	id, err := sectorID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var z entities.Zona
	if err := json.NewDecoder(r.Body).Decode(&z); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cuerpo inválido"})
		return
	}
	z.ID = 0
	z.SectorID = id
	if err := a.store.CreateZona(r.Context(), &z); err != nil {
		if errors.Is(err, storage.ErrSectorNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("Sector %d no existe", id)})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, z)
}

// historyArgs parses ?tipo=&desde=&hasta= with temperatura as default kind.
func historyArgs(r *http.Request) (messages.Kind, time.Time, time.Time, error) {
	q := r.URL.Query()

	kind := messages.Kind(q.Get("tipo"))
	if kind == "" {
		kind = messages.KindTemperatura
	}
	valid := false
	for _, k := range messages.Kinds {
		if k == kind {
			valid = true
			break
		}
	}
	if !valid {
		return "", time.Time{}, time.Time{}, fmt.Errorf("tipo desconocido: %s", kind)
	}

	var desde, hasta time.Time
	if s := q.Get("desde"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return "", time.Time{}, time.Time{}, fmt.Errorf("desde inválido")
		}
		desde = t
	}
	if s := q.Get("hasta"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return "", time.Time{}, time.Time{}, fmt.Errorf("hasta inválido")
		}
		hasta = t
	}
	return kind, desde, hasta, nil
}

func (a *API) handleHistorial(w http.ResponseWriter, r *http.Request) {
	id, err := sectorID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	kind, desde, hasta, err := historyArgs(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	points, err := a.store.History(r.Context(), id, kind, desde, hasta)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sector_id": id,
		"tipo":      kind,
		"lecturas":  points,
	})
}

func (a *API) handleHistorialCSV(w http.ResponseWriter, r *http.Request) {
	id, err := sectorID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	kind, desde, hasta, err := historyArgs(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=sector_%d_%s.csv", id, kind))
	if err := a.store.ExportHistoryCSV(r.Context(), w, id, kind, desde, hasta); err != nil {
		// Headers are already out; log and cut the stream short.
		log.Printf("dashboard: csv export for sector %d failed: %v", id, err)
	}
}
