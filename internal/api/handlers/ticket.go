package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pratik-mahalle/threatwatch/internal/api/dto"
	"github.com/pratik-mahalle/threatwatch/internal/domain/ticket"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/utils"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/validator"
)

type TicketHandler struct {
	service   ticket.Service
	logger    *logger.Logger
	validator *validator.Validator
	now       func() time.Time
}

func NewTicketHandler(service ticket.Service, log *logger.Logger, val *validator.Validator) *TicketHandler {
	return &TicketHandler{
		service:   service,
		logger:    log,
		validator: val,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (h *TicketHandler) view(t *ticket.Ticket) dto.TicketDTO {
	return dto.TicketDTO{Ticket: *t, Overdue: t.Overdue(h.now())}
}

// List returns tickets filtered by ?status and ?escalated
func (h *TicketHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := utils.ParsePaginationParams(r)

	filter := ticket.Filter{Status: ticket.Status(q.Get("status"))}
	if filter.Status != "" && !filter.Status.IsValid() {
		utils.WriteError(w, errors.BadRequest("Unknown ticket status"))
		return
	}
	if raw := q.Get("escalated"); raw != "" {
		escalated, err := strconv.ParseBool(raw)
		if err != nil {
			utils.WriteError(w, errors.BadRequest("escalated must be true or false"))
			return
		}
		filter.Escalated = &escalated
	}

	items, total, err := h.service.List(r.Context(), filter, p.PageSize, p.Offset)
	if err != nil {
		writeErr(w, h.logger, err, "Failed to list tickets")
		return
	}

	out := make([]dto.TicketDTO, len(items))
	for i, t := range items {
		out[i] = h.view(t)
	}
	utils.WriteSuccess(w, http.StatusOK, utils.NewPaginatedResponse(out, p.Page, p.PageSize, total))
}

// Get returns one ticket
func (h *TicketHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, h.logger, err, "Failed to get ticket")
		return
	}
	utils.WriteSuccess(w, http.StatusOK, h.view(t))
}

// UpdateStatus moves a ticket through its workflow. The SLA deadline is not
// affected.
func (h *TicketHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateTicketStatusRequest
	if !decodeAndValidate(w, r, h.validator, &req, false) {
		return
	}

	t, err := h.service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), ticket.Status(req.Status))
	if err != nil {
		writeErr(w, h.logger, err, "Failed to update ticket")
		return
	}
	utils.WriteSuccess(w, http.StatusOK, h.view(t))
}

// Reprioritize changes the priority and recomputes the deadline from the
// ticket's creation time
func (h *TicketHandler) Reprioritize(w http.ResponseWriter, r *http.Request) {
	var req dto.ReprioritizeRequest
	if !decodeAndValidate(w, r, h.validator, &req, false) {
		return
	}

	t, err := h.service.Reprioritize(r.Context(), chi.URLParam(r, "id"), req.Priority)
	if err != nil {
		writeErr(w, h.logger, err, "Failed to reprioritize ticket")
		return
	}
	utils.WriteSuccess(w, http.StatusOK, h.view(t))
}
