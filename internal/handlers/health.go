package handlers

import (
	"context"
	"net/http"
	"time"
)

const ServiceName = "Bitespeed Identity Reconciliation"

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the service banner and liveness probe.
type HealthHandler struct {
	store   Pinger
	version string
	started time.Time
	now     func() time.Time
}

func NewHealthHandler(store Pinger, version string) *HealthHandler {
	return &HealthHandler{
		store:   store,
		version: version,
		started: time.Now(),
		now:     time.Now,
	}
}

// Info describes the service.
func (h *HealthHandler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   ServiceName,
		"version":   h.version,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// Health reports healthy while the store answers a ping within two seconds.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"uptime":    h.now().Sub(h.started).Seconds(),
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}
