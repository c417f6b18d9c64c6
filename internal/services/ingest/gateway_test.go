package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bivalvia-project/bivalvia/internal/model/entities"
	"github.com/bivalvia-project/bivalvia/internal/model/messages"
	"github.com/bivalvia-project/bivalvia/internal/storage"
	"github.com/bivalvia-project/bivalvia/pkg/wsgroup"
)

const testKey = "secreto-de-prueba"

func newTestGateway(t *testing.T) (*Gateway, *storage.Store, *wsgroup.Registry, int) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := storage.New(db)
	require.NoError(t, store.Migrate())

	sec := &entities.Sector{Nombre: "Sector prueba"}
	require.NoError(t, store.CreateSector(context.Background(), sec))

	registry := wsgroup.NewRegistry()
	return NewGateway(store, registry, testKey, nil), store, registry, sec.ID
}

func dialSensores(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sensores/"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readAck(t *testing.T, conn *websocket.Conn) messages.Ack {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ack messages.Ack
	require.NoError(t, conn.ReadJSON(&ack))
	return ack
}

func TestSensoresRejectsBadToken(t *testing.T) {
	g, store, _, sectorID := newTestGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(g.HandleSensores))
	defer srv.Close()

	conn := dialSensores(t, srv, "token-incorrecto")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, CloseCodeUnauthorized),
		"expected close %d, got: %v", CloseCodeUnauthorized, err)

	counts, err := store.CountByKind(context.Background(), sectorID)
	require.NoError(t, err)
	for _, n := range counts {
		assert.Zero(t, n)
	}
}

func TestSensoresAcceptsAndBroadcasts(t *testing.T) {
	g, store, registry, sectorID := newTestGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(g.HandleSensores))
	defer srv.Close()

	sub := wsgroup.NewSession(4)
	registry.Join(messages.SectorGroup(sectorID), sub)
	defer registry.Leave(messages.SectorGroup(sectorID), sub)

	conn := dialSensores(t, srv, testKey)

	temp, sal := 22.5, 31.0
	payload, err := json.Marshal(messages.Reading{
		SectorID: sectorID, Temperatura: &temp, Salinidad: &sal,
		MarcaTiempo: "2026-03-01T12:00:00Z",
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

	ack := readAck(t, conn)
	assert.Equal(t, "success", ack.Status)
	assert.Contains(t, ack.Mensaje, "Datos guardados (2)")

	counts, err := store.CountByKind(context.Background(), sectorID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[messages.KindTemperatura])
	assert.Equal(t, int64(1), counts[messages.KindSalinidad])

	select {
	case frame := <-sub.Outbound():
		var env messages.GroupMessage
		require.NoError(t, json.Unmarshal(frame, &env))
		assert.Equal(t, messages.TypeSensorUpdate, env.Type)
		assert.JSONEq(t, string(payload), string(env.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestSensoresUnknownSectorKeepsConnection(t *testing.T) {
	g, _, registry, sectorID := newTestGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(g.HandleSensores))
	defer srv.Close()

	sub := wsgroup.NewSession(4)
	registry.Join(messages.SectorGroup(9999), sub)
	defer registry.Leave(messages.SectorGroup(9999), sub)

	conn := dialSensores(t, srv, testKey)

	temp := 20.0
	bad, _ := json.Marshal(messages.Reading{SectorID: 9999, Temperatura: &temp})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, bad))

	ack := readAck(t, conn)
	assert.Equal(t, "error", ack.Status)
	assert.Contains(t, ack.Mensaje, "Sector 9999 no existe")

	select {
	case <-sub.Outbound():
		t.Fatal("rejected reading must not be broadcast")
	default:
	}

	// Connection survives a per-reading failure: the next good one works.
	good, _ := json.Marshal(messages.Reading{SectorID: sectorID, Temperatura: &temp})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, good))
	assert.Equal(t, "success", readAck(t, conn).Status)
}

func TestSensoresMalformedJSON(t *testing.T) {
	g, _, _, sectorID := newTestGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(g.HandleSensores))
	defer srv.Close()

	conn := dialSensores(t, srv, testKey)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{no es json")))
	ack := readAck(t, conn)
	assert.Contains(t, ack.Error, "JSON inválido")

	temp := 20.0
	good, _ := json.Marshal(messages.Reading{SectorID: sectorID, Temperatura: &temp})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, good))
	assert.Equal(t, "success", readAck(t, conn).Status)
}

func TestSensoresMissingSectorID(t *testing.T) {
	g, _, _, _ := newTestGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(g.HandleSensores))
	defer srv.Close()

	conn := dialSensores(t, srv, testKey)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"temperatura": 20}`)))
	ack := readAck(t, conn)
	assert.Equal(t, "Falta sector_id", ack.Error)
}

func TestRecibirLecturaRest(t *testing.T) {
	g, store, _, sectorID := newTestGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(g.HandleRecibirLectura))
	defer srv.Close()

	body := `{"sector_id": ` + strconv.Itoa(sectorID) + `, "ph": 7.6}`

	// Missing key first.
	req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(body))
	req.Header.Set("X-API-Key", testKey)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var ack messages.Ack
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.Equal(t, "success", ack.Status)

	counts, err := store.CountByKind(context.Background(), sectorID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[messages.KindPh])
}
