// Package health provides HTTP health check handlers.
//
// The package exposes three endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//   - /api/health: the composite status report served to the dashboard:
//     database reachability, live session and connection counts, version,
//     and uptime.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "database").
	// It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Snapshot carries the live counts for the composite report.
type Snapshot struct {
	ActiveSessions int
	ActiveTeachers int
	ActiveStudents int
}

// result is the JSON response body for the probe endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// report is the JSON response body for /api/health.
type report struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	Database       string `json:"database"`
	ActiveSessions int    `json:"activeSessions"`
	ActiveTeachers int    `json:"activeTeachers"`
	ActiveStudents int    `json:"activeStudents"`
	Uptime         string `json:"uptime"`
}

// Handler serves the health endpoints. Safe for concurrent use; the checker
// list is fixed at construction time.
type Handler struct {
	version  string
	started  time.Time
	stats    func() Snapshot
	database func(ctx context.Context) error
	checkers []Checker
}

// New creates a [Handler]. stats supplies the live counts for the composite
// report; database probes the store and may be nil when the relay runs
// without one. The checkers back /readyz and are evaluated sequentially in
// the order provided.
func New(version string, stats func() Snapshot, database func(ctx context.Context) error, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{
		version:  version,
		started:  time.Now(),
		stats:    stats,
		database: database,
		checkers: c,
	}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Report serves the composite /api/health status. The endpoint stays 200 as
// long as the process serves requests; a broken database is reported in the
// body, because the relay keeps relaying without one.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	rep := report{
		Status:   "ok",
		Version:  h.version,
		Database: "not configured",
		Uptime:   time.Since(h.started).Round(time.Second).String(),
	}
	if h.stats != nil {
		snap := h.stats()
		rep.ActiveSessions = snap.ActiveSessions
		rep.ActiveTeachers = snap.ActiveTeachers
		rep.ActiveStudents = snap.ActiveStudents
	}
	if h.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()
		if err := h.database(ctx); err != nil {
			rep.Database = "error: " + err.Error()
			rep.Status = "degraded"
		} else {
			rep.Database = "connected"
		}
	}
	writeJSON(w, http.StatusOK, rep)
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /api/health", h.Report)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
