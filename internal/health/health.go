// Package health serves the gateway's status, liveness and readiness
// endpoints:
//
//   - GET /        reports {"status":"running","model":...}.
//   - GET /healthz liveness; 200 while the process can serve HTTP.
//   - GET /readyz  readiness; 200 only when every [Checker] passes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is satisfied by dependencies with a connectivity probe, such as the
// inference backend (Ready) or the archive (Ping).
type Pinger func(ctx context.Context) error

// CheckerFor wraps a probe as a [Checker].
func CheckerFor(name string, probe Pinger) Checker {
	return Checker{Name: name, Check: probe}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type statusResult struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// Handler serves the health endpoints. The checker list is fixed at
// construction.
type Handler struct {
	model    string
	checkers []Checker
}

// New creates a [Handler] reporting model on GET / and evaluating checkers on
// each /readyz request.
func New(model string, checkers ...Checker) *Handler {
	return &Handler{model: model, checkers: append([]Checker(nil), checkers...)}
}

// Status reports that the gateway is running and which model it fronts.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResult{Status: "running", Model: h.model})
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker concurrently, each with a [checkTimeout]
// deadline, and returns 503 when any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds GET /, /healthz and /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Status)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
