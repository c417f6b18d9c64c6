package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bivalvia-project/bivalvia/internal/model"
)

// RestFallback delivers a reading over the cloud's REST ingest endpoint
// when the websocket link is down. A circuit breaker keeps a dead cloud
// from soaking every tick in connect timeouts.
type RestFallback struct {
	base    string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewRestFallback(baseURL, apiKey string, timeout time.Duration) *RestFallback {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RestFallback{
		base:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "cloud-rest",
			Interval: 60 * time.Second,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Send posts one reading to /api/lecturas/.
func (f *RestFallback) Send(ctx context.Context, r *model.Reading) error {
	if f == nil || f.base == "" {
		return fmt.Errorf("rest fallback not configured")
	}
	_, err := f.breaker.Execute(func() (any, error) {
		payload, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			f.base+"/api/lecturas/", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", f.apiKey)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("cloud rest status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
