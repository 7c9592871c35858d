// Package health serves the liveness and readiness probes of the ops
// endpoint.
//
//   - /healthz — liveness; a process that can answer HTTP is alive.
//   - /readyz  — readiness; 200 only while every registered [Checker]
//     passes. The voice pipeline is only as ready as its speech backends, so
//     orchestrators should gate traffic on this one.
//
// Bodies are JSON objects with a top-level "status" ("ok" or "fail") and a
// "checks" map naming each probe's outcome. Checks run concurrently with a
// shared per-check timeout, so a wedged backend delays the probe by one
// timeout, not one per checker.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/parlo/internal/session"
	"github.com/MrWong99/parlo/pkg/provider/tts"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is one named readiness probe. Check returns nil while the
// dependency is healthy and must respect ctx.
type Checker struct {
	// Name keys the probe's outcome in the JSON response, e.g. "tts" or
	// "registry".
	Name string

	Check func(ctx context.Context) error
}

// RegistryChecker probes that the session registry answers. The registry
// sits on every connect and disconnect path; a wedged registry lock means
// the server accepts sockets it can never serve.
func RegistryChecker(reg *session.Registry) Checker {
	return Checker{
		Name: "registry",
		Check: func(ctx context.Context) error {
			done := make(chan int, 1)
			go func() { done <- reg.Len() }()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("registry lookup stuck: %w", ctx.Err())
			}
		},
	}
}

// VoicesChecker probes a synthesiser by fetching its voice catalogue, the
// cheapest authenticated round trip the TTS surface offers.
func VoicesChecker(name string, p tts.Provider) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if _, err := p.ListVoices(ctx); err != nil {
				return fmt.Errorf("list voices: %w", err)
			}
			return nil
		},
	}
}

// result is the JSON body of both probes.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction; Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a Handler evaluating the given checkers on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker concurrently, each under its own timeout, and
// answers 200 only when all pass. Failures carry the checker's error text in
// the checks map and turn the status code into 503.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make([]string, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			if err := c.Check(ctx); err != nil {
				checks[i] = "fail: " + err.Error()
			} else {
				checks[i] = "ok"
			}
		}()
	}
	wg.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(checks))}
	status := http.StatusOK
	for i, outcome := range checks {
		res.Checks[h.checkers[i].Name] = outcome
		if outcome != "ok" {
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, res)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status, falling back to a plain 500 if
// encoding fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
