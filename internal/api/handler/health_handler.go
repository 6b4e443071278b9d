package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger is satisfied by the PostgreSQL store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness probe endpoint.
type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler { return &HealthHandler{db: db} }

// Health handles GET /health
//
// @Summary  Liveness probe, including database reachability
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]string
// @Failure  503  {object}  map[string]string
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}
