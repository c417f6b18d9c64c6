package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/bivalvia-project/bivalvia/internal/model"
)

// State is the relay session's explicit connection state. All mutation goes
// through Client methods under the client mutex; no ambient globals.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

var (
	// ErrAuthRejected means the cloud refused the shared secret. Retrying
	// with the same credential is pointless, so reconnect loops stop on it.
	ErrAuthRejected = errors.New("relay: credential rejected by cloud")
	// ErrMaxReconnects reports permanent failure of the maintenance loop.
	ErrMaxReconnects = errors.New("relay: max reconnect attempts reached")
	// ErrNotConnected means a send was attempted and the one inline connect
	// before it also failed.
	ErrNotConnected = errors.New("relay: not connected")
)

// closeCodeUnauthorized is the application close code the cloud uses to
// reject a bad credential after the upgrade.
const closeCodeUnauthorized = 4003

// Config tunes the persistent outbound link. Zero durations get defaults.
type Config struct {
	URL    string // ingest endpoint, e.g. wss://cloud/ws/sensores/
	APIKey string

	ReconnectInterval    time.Duration // default 5s
	MaxReconnectAttempts int           // default 10
	HeartbeatInterval    time.Duration // default 30s
	HeartbeatTimeout     time.Duration // default 10s
	AckTimeout           time.Duration // default 5s

	// AuthProbeTimeout bounds the post-dial wait for a rejection close
	// frame. The cloud closes rejected connections immediately, so a quiet
	// socket past this window means we were accepted.
	AuthProbeTimeout time.Duration // default 500ms
}

func (c *Config) defaults() {
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 5 * time.Second
	}
	if c.AuthProbeTimeout == 0 {
		c.AuthProbeTimeout = 500 * time.Millisecond
	}
}

// Client maintains at most one authenticated connection to the cloud ingest
// gateway and forwards readings over it. Methods are safe for concurrent
// use; reads are owned by a single pump goroutine per connection.
type Client struct {
	cfg Config

	// connectMu serializes Connect so the maintenance loop and an inline
	// reconnect from SendReading never dial two connections at once.
	connectMu sync.Mutex

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	writeMu sync.Mutex

	acks  chan model.Ack
	pongs chan struct{}

	hbCancel context.CancelFunc
}

func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{cfg: cfg}
}

// StateNow returns the current connection state.
func (c *Client) StateNow() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) dialURL() string {
	u := c.cfg.URL
	q := url.Values{}
	q.Set("token", c.cfg.APIKey)
	return u + "?" + q.Encode()
}

// Connect establishes the authenticated connection and starts the read pump
// and heartbeat. Idempotent when already connected; concurrent callers are
// serialized, so at most one dial is ever in flight. Network errors come back
// as plain errors; a rejected credential comes back as ErrAuthRejected.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, c.dialURL(), nil)
	if err != nil {
		c.setDisconnected(nil)
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			log.Printf("relay: authentication rejected (HTTP %d)", resp.StatusCode)
			return ErrAuthRejected
		}
		return fmt.Errorf("relay: connect failed: %w", err)
	}

	acks := make(chan model.Ack, 4)
	pongs := make(chan struct{}, 1)
	readFail := make(chan error, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pongs <- struct{}{}:
		default:
		}
		return nil
	})

	// The pump owns all reads for the connection's whole life, deadline-free.
	go c.readPump(conn, acks, readFail)

	// The gateway drops bad credentials right after the upgrade with close
	// code 4003, which surfaces as the pump's first read error. Silence for
	// the probe window means accepted, with the pump still healthy.
	select {
	case err := <-readFail:
		_ = conn.Close()
		c.setDisconnected(nil)
		if websocket.IsCloseError(err, closeCodeUnauthorized) {
			log.Printf("relay: authentication rejected (close %d)", closeCodeUnauthorized)
			return ErrAuthRejected
		}
		return fmt.Errorf("relay: connect failed: %w", err)
	case <-ctx.Done():
		_ = conn.Close()
		c.setDisconnected(nil)
		return ctx.Err()
	case <-time.After(c.cfg.AuthProbeTimeout):
	}

	hbCtx, hbCancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.acks = acks
	c.pongs = pongs
	c.hbCancel = hbCancel
	c.state = StateConnected
	c.mu.Unlock()

	go c.heartbeat(hbCtx, conn, pongs)

	log.Printf("relay: connected to cloud")
	return nil
}

// readPump is the sole reader for one connection. Acks are routed to the
// waiting sender; the first read error goes to fail (Connect's auth probe
// listens there) and flips the session to disconnected.
func (c *Client) readPump(conn *websocket.Conn, acks chan<- model.Ack, fail chan<- error) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case fail <- err:
			default:
			}
			c.setDisconnected(conn)
			return
		}
		var ack model.Ack
		if err := json.Unmarshal(raw, &ack); err != nil {
			log.Printf("relay: unparseable reply from cloud: %v", err)
			continue
		}
		select {
		case acks <- ack:
		default:
			// Nobody waiting (ack arrived after a timeout); drop it.
		}
	}
}

// heartbeat pings the cloud on a fixed interval and expects a pong within
// the timeout. A missed pong marks the session disconnected and stops the
// loop; the maintenance loop takes over from there.
func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn, pongs <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.HeartbeatTimeout))
			c.writeMu.Unlock()
			if err != nil {
				log.Printf("relay: heartbeat ping failed: %v", err)
				c.setDisconnected(conn)
				return
			}
			select {
			case <-pongs:
			case <-time.After(c.cfg.HeartbeatTimeout):
				log.Printf("relay: heartbeat pong missing, marking link down")
				c.setDisconnected(conn)
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// setDisconnected closes the given connection (when it is still the current
// one) and resets state. Safe to call from any goroutine, repeatedly.
func (c *Client) setDisconnected(conn *websocket.Conn) {
	c.mu.Lock()
	if conn != nil && c.conn != conn {
		c.mu.Unlock()
		return // an older connection's goroutine, current link already replaced
	}
	if c.hbCancel != nil {
		c.hbCancel()
		c.hbCancel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()
}

// Disconnect cancels the heartbeat and closes the connection. Idempotent:
// calling it twice leaves the session disconnected with no error.
func (c *Client) Disconnect() {
	c.setDisconnected(nil)
}

// SendReading serializes the reading and forwards it to the cloud. When the
// session is down it tries one Connect first. The reply wait is bounded by
// AckTimeout and its expiry is NOT a failure: the reading was already
// transmitted and the cloud write may well have succeeded, so the call
// reports best-effort success. A closed connection during send is a real
// failure and flips the session to disconnected.
func (c *Client) SendReading(ctx context.Context, r *model.Reading) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		log.Printf("relay: link down, attempting inline reconnect")
		if err := c.Connect(ctx); err != nil {
			// Both sentinels stay matchable: callers branch on
			// ErrAuthRejected to decide whether a fallback is worth trying.
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		c.mu.Lock()
		conn = c.conn
		c.mu.Unlock()
		if conn == nil {
			return ErrNotConnected
		}
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("relay: marshal reading: %w", err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.setDisconnected(conn)
		return fmt.Errorf("relay: send failed: %w", err)
	}
	log.Printf("relay: reading sent, sector=%d", r.SectorID)

	c.mu.Lock()
	acks := c.acks
	c.mu.Unlock()

	select {
	case ack := <-acks:
		if ack.Error != "" || ack.Status == "error" {
			// The cloud rejected the reading (validation). The channel is
			// fine, so this is logged, not escalated.
			log.Printf("relay: cloud rejected reading: %+v", ack)
		}
		return nil
	case <-time.After(c.cfg.AckTimeout):
		log.Printf("relay: ack timeout, assuming delivered")
		return nil
	case <-ctx.Done():
		return nil
	}
}

// MaintainConnection supervises the link until ctx ends. While disconnected
// it retries Connect at the fixed reconnect interval, giving up with
// ErrMaxReconnects after MaxReconnectAttempts consecutive failures. Every
// successful reconnect starts the count from zero for the next outage. A
// rejected credential stops retrying immediately: the same secret will not
// start working on its own.
func (c *Client) MaintainConnection(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if c.StateNow() == StateConnected {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		bo := backoff.WithContext(
			backoff.WithMaxRetries(
				backoff.NewConstantBackOff(c.cfg.ReconnectInterval),
				uint64(c.cfg.MaxReconnectAttempts-1),
			), ctx)

		attempt := 0
		err := backoff.Retry(func() error {
			attempt++
			log.Printf("relay: reconnect attempt %d/%d", attempt, c.cfg.MaxReconnectAttempts)
			err := c.Connect(ctx)
			if errors.Is(err, ErrAuthRejected) {
				return backoff.Permanent(err)
			}
			return err
		}, bo)

		if err == nil {
			log.Printf("relay: reconnected after %d attempt(s)", attempt)
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrAuthRejected) {
			return err
		}
		log.Printf("relay: giving up after %d attempts", c.cfg.MaxReconnectAttempts)
		return ErrMaxReconnects
	}
}
