package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bivalvia-project/bivalvia/internal/model/messages"
	"github.com/bivalvia-project/bivalvia/internal/services/ingest"
	"github.com/bivalvia-project/bivalvia/pkg/wsgroup"
)

func newFanoutServer(t *testing.T) (*httptest.Server, *wsgroup.Registry, *SessionStore) {
	t.Helper()
	registry := wsgroup.NewRegistry()
	sessions := NewSessionStore("admin", "clave", 0)
	f := NewFanout(registry, sessions)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/dashboard/{sector_id}/", f.HandleDashboard)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, registry, sessions
}

func dialDashboard(t *testing.T, srv *httptest.Server, sectorID string, cookie string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/dashboard/" + sectorID + "/"
	var hdr http.Header
	if cookie != "" {
		hdr = http.Header{"Cookie": []string{sessionCookie + "=" + cookie}}
	}
	return websocket.DefaultDialer.Dial(u, hdr)
}

func readFrame(t *testing.T, conn *websocket.Conn) messages.DashboardFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame messages.DashboardFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestDashboardRejectsAnonymous(t *testing.T) {
	srv, registry, _ := newFanoutServer(t)

	conn, _, err := dialDashboard(t, srv, "1", "")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, ingest.CloseCodeUnauthorized),
		"expected close %d, got: %v", ingest.CloseCodeUnauthorized, err)

	assert.Equal(t, 0, registry.Members(messages.SectorGroup(1)),
		"refused connections never join the group")
}

func TestDashboardRejectsBadSector(t *testing.T) {
	srv, _, sessions := newFanoutServer(t)
	cookie := sessions.create("admin")

	_, resp, err := dialDashboard(t, srv, "abc", cookie)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDashboardWelcomeAndLiveData(t *testing.T) {
	srv, registry, sessions := newFanoutServer(t)
	cookie := sessions.create("admin")

	conn, _, err := dialDashboard(t, srv, "1", cookie)
	require.NoError(t, err)
	defer conn.Close()

	welcome := readFrame(t, conn)
	assert.Equal(t, messages.TypeConnectionEstablished, welcome.Type)
	assert.Equal(t, 1, welcome.SectorID)
	assert.Contains(t, welcome.Message, "Conectado al sector 1")

	// The handler joins asynchronously; wait for the membership.
	require.Eventually(t, func() bool {
		return registry.Members(messages.SectorGroup(1)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	reading := []byte(`{"sector_id":1,"temperatura":22.5}`)
	ingest.BroadcastRaw(registry, 1, reading)

	frame := readFrame(t, conn)
	assert.Equal(t, messages.TypeSensorData, frame.Type)
	assert.JSONEq(t, string(reading), string(frame.Data))
}

func TestDashboardSectorsAreIsolated(t *testing.T) {
	srv, registry, sessions := newFanoutServer(t)
	cookie := sessions.create("admin")

	conn, _, err := dialDashboard(t, srv, "1", cookie)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn) // welcome

	require.Eventually(t, func() bool {
		return registry.Members(messages.SectorGroup(1)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ingest.BroadcastRaw(registry, 2, []byte(`{"sector_id":2,"ph":7.0}`))
	ingest.BroadcastRaw(registry, 1, []byte(`{"sector_id":1,"ph":8.0}`))

	frame := readFrame(t, conn)
	var got map[string]any
	require.NoError(t, json.Unmarshal(frame.Data, &got))
	assert.Equal(t, float64(1), got["sector_id"], "only own-sector frames arrive")
}

func TestDashboardIgnoresNonSensorFrames(t *testing.T) {
	srv, registry, sessions := newFanoutServer(t)
	cookie := sessions.create("admin")

	conn, _, err := dialDashboard(t, srv, "1", cookie)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn) // welcome

	require.Eventually(t, func() bool {
		return registry.Members(messages.SectorGroup(1)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	other, _ := json.Marshal(messages.GroupMessage{Type: "presence", Data: []byte(`{}`)})
	registry.Publish(messages.SectorGroup(1), other)
	ingest.BroadcastRaw(registry, 1, []byte(`{"sector_id":1,"turbidez":40}`))

	frame := readFrame(t, conn)
	assert.Equal(t, messages.TypeSensorData, frame.Type, "non-sensor envelopes are skipped")
}

func TestDashboardLeaveOnDisconnect(t *testing.T) {
	srv, registry, sessions := newFanoutServer(t)
	cookie := sessions.create("admin")

	conn, _, err := dialDashboard(t, srv, "3", cookie)
	require.NoError(t, err)
	readFrame(t, conn) // welcome

	require.Eventually(t, func() bool {
		return registry.Members(messages.SectorGroup(3)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return registry.Members(messages.SectorGroup(3)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionStoreLoginLogout(t *testing.T) {
	sessions := NewSessionStore("admin", "clave", 0)

	login := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"admin","password":"clave"}`))
	sessions.HandleLogin(login, req)
	require.Equal(t, http.StatusOK, login.Code)

	var cookie *http.Cookie
	for _, c := range login.Result().Cookies() {
		if c.Name == sessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)

	authed := httptest.NewRequest(http.MethodGet, "/", nil)
	authed.AddCookie(cookie)
	user, ok := sessions.User(authed)
	require.True(t, ok)
	assert.Equal(t, "admin", user)

	logout := httptest.NewRecorder()
	out := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	out.AddCookie(cookie)
	sessions.HandleLogout(logout, out)
	require.Equal(t, http.StatusOK, logout.Code)

	_, ok = sessions.User(authed)
	assert.False(t, ok)
}

func TestSessionStoreRejectsBadPassword(t *testing.T) {
	sessions := NewSessionStore("admin", "clave", 0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"admin","password":"otra"}`))
	sessions.HandleLogin(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}
