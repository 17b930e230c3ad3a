// Package health provides Kubernetes-style liveness and readiness probes.
//
// Registered checks run periodically in the background. Failure and success
// thresholds keep a single flaky probe from toggling the service state: a
// check flips to unhealthy only after failing consecutively several times,
// and back to healthy after succeeding.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one component, returning nil when it is healthy.
type CheckFunc func(ctx context.Context) error

const (
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 1
)

type kind int

const (
	liveness kind = iota
	readiness
)

// check is one registered probe plus its runtime state. State fields are
// guarded by the owning Health's mutex; the ticker goroutine and HTTP
// handlers both go through it.
type check struct {
	name    string
	kind    kind
	timeout time.Duration
	fn      CheckFunc

	healthy bool
	lastErr error
	fails   int
	oks     int
}

// Health tracks liveness and readiness checks for a service.
type Health struct {
	ready atomic.Bool

	mu     sync.Mutex
	checks []*check
	cancel context.CancelFunc
}

// New creates a Health in the not-ready state; call SetReady(true) after
// initialization finishes.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that decides whether the process is
// alive at all, such as a goroutine count ceiling.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.add(name, liveness, timeout, fn)
}

// AddReadinessCheck registers a check that decides whether the service can
// take traffic, such as database connectivity.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.add(name, readiness, timeout, fn)
}

func (h *Health) add(name string, k kind, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, &check{
		name:    name,
		kind:    k,
		timeout: timeout,
		fn:      fn,
		healthy: true, // assume healthy until proven otherwise
	})
}

// Start launches one goroutine per registered check, each probing at the
// given interval until the context is cancelled or Stop is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := make([]*check, len(h.checks))
	copy(checks, h.checks)
	h.mu.Unlock()

	for _, c := range checks {
		go h.loop(ctx, c, interval)
	}
}

func (h *Health) loop(ctx context.Context, c *check, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.probe(ctx, c)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probe(ctx, c)
		}
	}
}

// probe runs a check once and applies the thresholds.
func (h *Health) probe(ctx context.Context, c *check) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	c.lastErr = err
	if err != nil {
		c.oks = 0
		c.fails++
		if c.fails >= defaultFailureThreshold {
			c.healthy = false
		}
		return
	}
	c.fails = 0
	c.oks++
	if c.oks >= defaultSuccessThreshold {
		c.healthy = true
	}
}

// SetReady flips the manual readiness gate. Graceful shutdown sets it to
// false first so load balancers drain before the listener closes.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service was marked ready and every readiness
// check is passing.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	return len(h.failures(readiness)) == 0
}

// Stop cancels the background probe goroutines. Safe to call repeatedly.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *Health) failures(k kind) map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]string)
	for _, c := range h.checks {
		if c.kind != k || c.healthy {
			continue
		}
		if c.lastErr != nil {
			out[c.name] = c.lastErr.Error()
		} else {
			out[c.name] = "check is unhealthy"
		}
	}
	return out
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while liveness checks pass, 503 with the
// failing checks otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(liveness))
}

// ReadyEndpoint serves /readyz: 200 when the service is marked ready and
// readiness checks pass, 503 with details otherwise.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	fails := h.failures(readiness)
	if !h.ready.Load() {
		fails["_readiness"] = "service is not ready"
	}
	writeStatus(w, fails)
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failures
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
