package handler

import (
	"context"
	"net/http"

	"github.com/notifyhub/newsletter-delivery/internal/domain"
)

// TaskCounter is satisfied by repository.DeliveryRepository.
type TaskCounter interface {
	CountByStatus(ctx context.Context) (domain.DeliveryCounts, error)
}

// StatsHandler serves a human-readable JSON snapshot of the outbox.
// Raw Prometheus metrics are available at /metrics via promhttp and are
// separate from this endpoint.
type StatsHandler struct {
	counter TaskCounter
}

func NewStatsHandler(counter TaskCounter) *StatsHandler {
	return &StatsHandler{counter: counter}
}

// GetStats handles GET /api/v1/deliveries/stats
//
// @Summary  Delivery task counts by status
// @Tags     deliveries
// @Produce  json
// @Success  200  {object}  domain.DeliveryCounts
// @Router   /api/v1/deliveries/stats [get]
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.counter.CountByStatus(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deliveries": counts})
}
