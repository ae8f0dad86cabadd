// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
)

// checkTimeout bounds a full readiness pass.
const checkTimeout = 5 * time.Second

// Status represents a health check result.
type Status struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Leader    bool              `json:"leader"`
	Timestamp string            `json:"timestamp"`
}

// Checker defines a named health check function.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler provides HTTP health check endpoints.
type Handler struct {
	mu       sync.RWMutex
	ready    bool
	leader   bool
	checkers []Checker
	clock    clock.Clock
}

// NewHandler creates a new health handler with the given checkers.
func NewHandler(clk clock.Clock, checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, clock: clk}
}

// SetReady marks the service as ready to receive traffic.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// SetLeader records whether this replica currently runs the scheduler.
func (h *Handler) SetLeader(leader bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leader = leader
}

// Mount registers /healthz and /readyz on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/healthz", h.LivenessHandler())
	r.Get("/readyz", h.ReadinessHandler())
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, h.status("ok", nil))
	}
}

// ReadinessHandler returns HTTP 200 if the service is ready and every
// checker passes.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		ready := h.ready
		h.mu.RUnlock()

		if !ready {
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, h.status("not_ready", nil))
			return
		}

		checks, ok := h.runChecks(r.Context())
		if !ok {
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, h.status("not_ready", checks))
			return
		}
		render.JSON(w, r, h.status("ready", checks))
	}
}

// runChecks runs every checker concurrently under checkTimeout.
func (h *Handler) runChecks(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	results := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.Check(ctx)
		}()
	}
	wg.Wait()

	checks := make(map[string]string, len(h.checkers))
	ok := true
	for i, c := range h.checkers {
		if results[i] != nil {
			checks[c.Name] = results[i].Error()
			ok = false
			continue
		}
		checks[c.Name] = "ok"
	}
	return checks, ok
}

func (h *Handler) status(s string, checks map[string]string) Status {
	h.mu.RLock()
	leader := h.leader
	h.mu.RUnlock()
	return Status{
		Status:    s,
		Checks:    checks,
		Leader:    leader,
		Timestamp: h.clock.Now().UTC().Format(time.RFC3339),
	}
}
