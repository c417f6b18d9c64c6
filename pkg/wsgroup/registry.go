package wsgroup

import (
	"log"
	"sync"
)

// Bridge propagates publishes across processes when the registry is not the
// only one (horizontal scaling). Implementations must call the registry's
// local delivery for remote messages themselves.
type Bridge interface {
	// Forward ships a locally-published payload to the other processes.
	Forward(group string, payload []byte) error
}

// Registry maps group keys to the set of currently-subscribed sessions.
// Join, Leave and Publish are safe to call concurrently from independent
// connection handlers; the registry internalizes all synchronization.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]map[string]*Session

	bridge Bridge
}

func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]map[string]*Session)}
}

// SetBridge attaches a cross-process bridge. Call before serving traffic.
func (r *Registry) SetBridge(b Bridge) { r.bridge = b }

// Join adds the session to the named group. Idempotent per session id.
func (r *Registry) Join(group string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.groups[group]
	if !ok {
		members = make(map[string]*Session)
		r.groups[group] = members
	}
	members[s.ID()] = s
}

// Leave removes the session and closes its outbound channel so the owning
// handler unblocks. No-op when the session never joined. Empty groups are
// deleted so the map does not accumulate keys for idle sectors.
func (r *Registry) Leave(group string, s *Session) {
	r.mu.Lock()
	members, ok := r.groups[group]
	if ok {
		delete(members, s.ID())
		if len(members) == 0 {
			delete(r.groups, group)
		}
	}
	r.mu.Unlock()
	s.Close()
}

// Publish delivers payload to every member of group, each independently: a
// slow or closed member only loses its own copy. The payload also goes over
// the bridge, if one is attached, for subscribers on other processes.
func (r *Registry) Publish(group string, payload []byte) {
	r.DeliverLocal(group, payload)

	if r.bridge != nil {
		if err := r.bridge.Forward(group, payload); err != nil {
			log.Printf("wsgroup: bridge forward for %s failed: %v", group, err)
		}
	}
}

// DeliverLocal fans out to this process's members only. Bridges call this
// for messages arriving from other processes, so they do not loop back over
// the wire again.
func (r *Registry) DeliverLocal(group string, payload []byte) {
	r.mu.RLock()
	members := make([]*Session, 0, len(r.groups[group]))
	for _, s := range r.groups[group] {
		members = append(members, s)
	}
	r.mu.RUnlock()

	for _, s := range members {
		if !s.trySend(payload) {
			log.Printf("wsgroup: dropped frame for slow session %s in %s", s.ID(), group)
		}
	}
}

// Members reports the current size of a group (health/debug).
func (r *Registry) Members(group string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[group])
}
