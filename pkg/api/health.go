package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/migrationdriver/pkg/metrics"
	"github.com/cuemby/migrationdriver/pkg/migration"
)

// HealthServer provides HTTP health check endpoints over the driver's
// current state, adapted from the teacher's raft-leadership health checks
// to the driver's own DriverState projection.
type HealthServer struct {
	driver  *migration.Driver
	version string
	mux     *http.ServeMux
}

// NewHealthServer creates a new health check HTTP server for a driver.
func NewHealthServer(d *migration.Driver, version string) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		driver:  d,
		version: version,
		mux:     mux,
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.HandleFunc("/state", hs.stateHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start starts the health check HTTP server.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint: a liveness check that
// returns 200 as long as the process and its event loop are alive.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   hs.version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler implements the /ready endpoint: ready means the driver has
// progressed out of UNINITIALIZED and is not stuck in INACTIVE.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.driver != nil {
		state := hs.driver.CurrentState()
		checks["driver_state"] = string(state)
		switch state {
		case migration.StateUninitialized:
			ready = false
			message = "driver has not yet recovered its migration state from LegacyStore"
		case migration.StateInactive:
			ready = false
			message = "driver is inactive (not the legacy controller, or migration not configured)"
		}
	} else {
		checks["driver_state"] = "not initialized"
		ready = false
		message = "driver not initialized"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// StateResponse is the read-only projection of the driver's state machine
// exposed over /state, for operators watching a migration in progress.
type StateResponse struct {
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// stateHandler implements the /state endpoint: a read-only projection of
// the driver's DriverState, the HTTP-visible form of the same
// currentState() hook the driver exposes for tests.
func (hs *HealthServer) stateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := StateResponse{
		Timestamp: time.Now(),
	}
	if hs.driver != nil {
		response.State = string(hs.driver.CurrentState())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// GetHandler returns the HTTP handler for embedding in other servers.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
