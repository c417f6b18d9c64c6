package dashboard

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const sessionCookie = "bivalvia_session"

// SessionStore keeps the logged-in operator sessions in memory. Sessions
// only gate the dashboard surface; losing them on restart just means
// logging in again.
type SessionStore struct {
	mu   sync.Mutex
	byID map[string]session
	ttl  time.Duration
	user string
	pass string
}

type session struct {
	user    string
	expires time.Time
}

func NewSessionStore(user, pass string, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SessionStore{
		byID: make(map[string]session),
		ttl:  ttl,
		user: user,
		pass: pass,
	}
}

func (s *SessionStore) create(user string) string {
	id := uuid.New().String()
	s.mu.Lock()
	s.byID[id] = session{user: user, expires: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return id
}

func (s *SessionStore) destroy(id string) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}

// User resolves the request's session cookie to an authenticated username.
func (s *SessionStore) User(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[c.Value]
	if !ok {
		return "", false
	}
	if time.Now().After(sess.expires) {
		delete(s.byID, c.Value)
		return "", false
	}
	return sess.user, true
}

// HandleLogin serves POST /api/login with a JSON username/password body and
// sets the session cookie on success.
func (s *SessionStore) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cuerpo inválido"})
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(creds.Username), []byte(s.user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(creds.Password), []byte(s.pass)) == 1
	if !userOK || !passOK {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Usuario o contraseña incorrectos"})
		return
	}

	id := s.create(creds.Username)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleLogout clears the session.
func (s *SessionStore) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		s.destroy(c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Require wraps an HTTP handler with the session check.
func (s *SessionStore) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.User(r); !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no autenticado"})
			return
		}
		next(w, r)
	}
}
