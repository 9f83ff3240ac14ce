// Package health provides liveness and readiness checks for the operational
// HTTP surface.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Check is a named readiness check
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Checker aggregates readiness checks. Liveness is unconditional: the process
// answering at all is the liveness signal.
type Checker struct {
	mu     sync.RWMutex
	checks []Check
}

// NewChecker creates an empty checker
func NewChecker() *Checker {
	return &Checker{}
}

// AddReadinessCheck registers a named readiness check
func (c *Checker) AddReadinessCheck(name string, probe func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, Check{Name: name, Probe: probe})
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status string        `json:"status"`
	Checks []checkResult `json:"checks"`
}

// HandleLive answers liveness probes
func (c *Checker) HandleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "UP"})
}

// HandleReady answers readiness probes, running every registered check
func (c *Checker) HandleReady(w http.ResponseWriter, r *http.Request) {
	c.handleChecks(w, r)
}

// HandleHealth is the combined health endpoint
func (c *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	c.handleChecks(w, r)
}

func (c *Checker) handleChecks(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	checks := make([]Check, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	resp := healthResponse{Status: "UP", Checks: make([]checkResult, 0, len(checks))}
	for _, check := range checks {
		result := checkResult{Name: check.Name, Status: "UP"}
		if err := check.Probe(ctx); err != nil {
			log.Warn().Err(err).Str("check", check.Name).Msg("Readiness check failed")
			result.Status = "DOWN"
			result.Error = err.Error()
			resp.Status = "DOWN"
		}
		resp.Checks = append(resp.Checks, result)
	}

	status := http.StatusOK
	if resp.Status == "DOWN" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode health response")
	}
}
