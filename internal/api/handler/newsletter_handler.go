package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/newsletter-delivery/internal/api/middleware"
	"github.com/notifyhub/newsletter-delivery/internal/auth"
	"github.com/notifyhub/newsletter-delivery/internal/domain"
	"github.com/notifyhub/newsletter-delivery/internal/service"
)

// NewsletterHandler serves issue publication and inspection.
type NewsletterHandler struct {
	svc    *service.PublishService
	logger *zap.Logger
}

func NewNewsletterHandler(svc *service.PublishService, logger *zap.Logger) *NewsletterHandler {
	return &NewsletterHandler{svc: svc, logger: logger}
}

// Publish handles POST /newsletters
//
// @Summary     Publish a newsletter issue to every confirmed subscriber
// @Tags        newsletters
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header    string                true  "Client-generated key, one per logical publish"
// @Param       body             body      domain.PublishRequest true  "Issue content"
// @Success     201              {object}  domain.PublishResult  "Created, or the stored response of an earlier request with the same key"
// @Failure     400              {object}  map[string]string
// @Failure     401              {object}  map[string]string
// @Failure     409              {object}  map[string]string     "Same key still in flight, retry later"
// @Router      /newsletters [post]
func (h *NewsletterHandler) Publish(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		mapError(w, domain.ErrUnauthorized)
		return
	}

	var req domain.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := h.svc.Publish(r.Context(), userID, r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		h.logger.Warn("publish failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	respondStored(w, resp)
}

// GetIssue handles GET /newsletters/{id}
//
// @Summary  Get an issue with its delivery counts
// @Tags     newsletters
// @Produce  json
// @Param    id   path      string  true  "Issue UUID"
// @Success  200  {object}  domain.IssueReport
// @Failure  404  {object}  map[string]string
// @Router   /newsletters/{id} [get]
func (h *NewsletterHandler) GetIssue(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid issue id")
		return
	}

	report, err := h.svc.GetIssueReport(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
