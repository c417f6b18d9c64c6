package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/bivalvia-project/bivalvia/internal/model/messages"
	"github.com/bivalvia-project/bivalvia/internal/storage"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleRecibirLectura serves POST /api/lecturas/, the REST fallback the
// local node uses when the websocket link is down for good. Same pipeline
// as the websocket path, authenticated by the X-API-Key header instead of
// the channel.
func (g *Gateway) HandleRecibirLectura(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "método no permitido"})
		return
	}
	if !g.tokenValid(r.Header.Get("X-API-Key")) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "API Key inválida"})
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cuerpo ilegible"})
		return
	}

	var reading messages.Reading
	if err := json.Unmarshal(raw, &reading); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("JSON inválido: %v", err)})
		return
	}
	if reading.SectorID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Falta sector_id"})
		return
	}

	ts := reading.Timestamp(time.Now())
	saved, err := g.store.SaveReading(r.Context(), &reading, ts)
	if err != nil {
		if errors.Is(err, storage.ErrSectorNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("Sector %d no existe", reading.SectorID)})
			return
		}
		log.Printf("ingest: rest persistence failure: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error al guardar datos"})
		return
	}
	recordsPersisted.Add(float64(saved))
	g.mirror.Record(&reading, ts)
	g.Broadcast(reading.SectorID, raw)

	writeJSON(w, http.StatusCreated, messages.SuccessAck("Lectura guardada correctamente"))
}

// HandleTest serves GET /api/test/, a liveness probe the local node and
// operators can hit to confirm the API answers.
func HandleTest(environment string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"mensaje":   "API funcionando correctamente",
			"entorno":   environment,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
