// Package health provides Kubernetes-style liveness and readiness probes.
//
// Registered checks run on a shared ticker goroutine. A check flips to
// unhealthy after failureThreshold consecutive failures and recovers after a
// single success, which keeps flapping dependencies from bouncing the probe
// endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc reports nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

const failureThreshold = 3

type probeKind int

const (
	liveness probeKind = iota
	readiness
)

// probe holds one registered check and its state. The fails counter is only
// touched by the ticker goroutine; healthy and lastErr are shared with the
// HTTP handlers and use atomics.
type probe struct {
	name    string
	kind    probeKind
	timeout time.Duration
	check   CheckFunc

	healthy atomic.Bool
	lastErr atomic.Pointer[error]
	fails   int
}

func (p *probe) run(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(checkCtx)
	p.lastErr.Store(&err)

	if err != nil {
		p.fails++
		if p.fails >= failureThreshold {
			p.healthy.Store(false)
		}
		return
	}
	p.fails = 0
	p.healthy.Store(true)
}

func (p *probe) failure() (string, bool) {
	if p.healthy.Load() {
		return "", false
	}
	if e := p.lastErr.Load(); e != nil && *e != nil {
		return (*e).Error(), true
	}
	return "check is unhealthy", true
}

// Health manages liveness and readiness checks for a service.
type Health struct {
	ready atomic.Bool

	// mu guards probes and cancel. Registration happens before Start; the
	// HTTP handlers only take short read locks.
	mu     sync.RWMutex
	probes []*probe
	cancel context.CancelFunc
}

// New creates a Health instance. The service starts not ready; call
// SetReady(true) once initialization completes.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that decides whether the process is
// alive (goroutine count, deadlock detection, and so on).
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.add(&probe{name: name, kind: liveness, timeout: timeout, check: check})
}

// AddReadinessCheck registers a check that decides whether the service may
// receive traffic (database connectivity, dependency availability).
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.add(&probe{name: name, kind: readiness, timeout: timeout, check: check})
}

func (h *Health) add(p *probe) {
	p.healthy.Store(true) // assume healthy until proven otherwise

	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, p)
}

// Start runs all registered checks on one background goroutine at the given
// interval. Call after registration is complete.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := make([]*probe, len(h.probes))
	copy(probes, h.probes)
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		runAll := func() {
			for _, p := range probes {
				p.run(ctx)
			}
		}
		runAll()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runAll()
			}
		}
	}()
}

// SetReady flips the manual readiness gate. Set false during graceful
// shutdown to stop receiving new traffic.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service was marked ready and all readiness
// checks pass.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, p := range h.snapshot(readiness) {
		if _, failed := p.failure(); failed {
			return false
		}
	}
	return true
}

// Stop cancels the background check goroutine. Safe to call repeatedly.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *Health) snapshot(kind probeKind) []*probe {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*probe, 0, len(h.probes))
	for _, p := range h.probes {
		if p.kind == kind {
			out = append(out, p)
		}
	}
	return out
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 when all liveness checks pass, 503 with
// per-check failure details otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, h.collectFailures(liveness))
}

// ReadyEndpoint serves /readyz: 200 when the service is marked ready and all
// readiness checks pass, 503 with details otherwise.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.collectFailures(readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeResponse(w, failures)
}

func (h *Health) collectFailures(kind probeKind) map[string]string {
	failures := make(map[string]string)
	for _, p := range h.snapshot(kind) {
		if msg, failed := p.failure(); failed {
			failures[p.name] = msg
		}
	}
	return failures
}

func writeResponse(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := statusResponse{Status: "ok"}
	status := http.StatusOK
	if len(failures) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failures
		status = http.StatusServiceUnavailable
	}

	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
