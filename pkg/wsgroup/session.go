package wsgroup

import (
	"sync"

	"github.com/google/uuid"
)

// Session is one subscriber handle. The owning connection handler drains
// Outbound() and writes each payload to its websocket; the registry only
// ever touches the channel, never the socket, so a broken peer cannot stall
// a publish.
type Session struct {
	id  string
	out chan []byte

	closeOnce sync.Once
}

// NewSession creates a handle with a bounded outbound buffer. A full buffer
// means the consumer is too slow; frames published while full are dropped
// for this session only.
func NewSession(buffer int) *Session {
	if buffer <= 0 {
		buffer = 32
	}
	return &Session{
		id:  uuid.New().String(),
		out: make(chan []byte, buffer),
	}
}

func (s *Session) ID() string { return s.id }

// Outbound is the channel the connection handler reads from. It is closed
// by Close, which the registry calls after the last Leave.
func (s *Session) Outbound() <-chan []byte { return s.out }

// trySend enqueues without blocking; reports whether the frame was accepted.
func (s *Session) trySend(payload []byte) bool {
	defer func() {
		// Session closed under a concurrent publish: benign, frame dropped.
		_ = recover()
	}()
	select {
	case s.out <- payload:
		return true
	default:
		return false
	}
}

// Close terminates the outbound channel. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.out) })
}
