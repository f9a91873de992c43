package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pratik-mahalle/threatwatch/internal/api/dto"
	"github.com/pratik-mahalle/threatwatch/internal/api/middleware"
	"github.com/pratik-mahalle/threatwatch/internal/domain/notification"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/utils"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/validator"
)

type NotificationHandler struct {
	service   notification.Service
	logger    *logger.Logger
	validator *validator.Validator
}

func NewNotificationHandler(service notification.Service, log *logger.Logger, val *validator.Validator) *NotificationHandler {
	return &NotificationHandler{service: service, logger: log, validator: val}
}

// List returns notifications, newest first. Filters: ?kind, ?severity,
// ?indicator_id and ?unacknowledged=true.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := utils.ParsePaginationParams(r)

	unacked, _ := strconv.ParseBool(q.Get("unacknowledged"))
	filter := notification.Filter{
		Kind:               notification.Kind(q.Get("kind")),
		IndicatorID:        q.Get("indicator_id"),
		Severity:           notification.Severity(q.Get("severity")),
		UnacknowledgedOnly: unacked,
	}

	items, total, err := h.service.List(r.Context(), filter, p.PageSize, p.Offset)
	if err != nil {
		writeErr(w, h.logger, err, "Failed to list notifications")
		return
	}
	if items == nil {
		items = []*notification.ThreatNotification{}
	}
	utils.WriteSuccess(w, http.StatusOK, utils.NewPaginatedResponse(items, p.Page, p.PageSize, total))
}

// Get returns one notification
func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, h.logger, err, "Failed to get notification")
		return
	}
	utils.WriteSuccess(w, http.StatusOK, n)
}

// Acknowledge marks a notification handled. Once acknowledged, a later
// threshold crossing for the same indicator raises a fresh notification.
func (h *NotificationHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var req dto.AcknowledgeRequest
	if !decodeAndValidate(w, r, h.validator, &req, true) {
		return
	}
	by := req.By
	if by == "" {
		by = middleware.GetActor(r)
	}
	if by == "" {
		utils.WriteError(w, errors.BadRequest("Acknowledging user is required (body field by or X-Actor header)"))
		return
	}

	n, err := h.service.Acknowledge(r.Context(), chi.URLParam(r, "id"), by)
	if err != nil {
		writeErr(w, h.logger, err, "Failed to acknowledge notification")
		return
	}
	utils.WriteSuccess(w, http.StatusOK, n)
}
