package handlers

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pratik-mahalle/threatwatch/internal/api/dto"
	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/utils"
)

// IndicatorScorer computes an indicator's score and priority rank
type IndicatorScorer interface {
	Value(ind *indicator.Indicator) float64
	Rank(value float64) int
}

func scoredIndicator(s IndicatorScorer, ind *indicator.Indicator) dto.IndicatorDTO {
	v := s.Value(ind)
	return dto.FromIndicator(ind, v, s.Rank(v))
}

// IndicatorHandler serves the correlated indicator store. It is read-only:
// indicators change only through ingestion.
type IndicatorHandler struct {
	repo   indicator.Repository
	pulses indicator.PulseRepository
	scores IndicatorScorer
	logger *logger.Logger
}

func NewIndicatorHandler(repo indicator.Repository, pulses indicator.PulseRepository, scores IndicatorScorer, log *logger.Logger) *IndicatorHandler {
	return &IndicatorHandler{repo: repo, pulses: pulses, scores: scores, logger: log}
}

// List returns indicators filtered by ?type, ?source_id and ?max_reputation
func (h *IndicatorHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := utils.ParsePaginationParams(r)

	filter := indicator.Filter{
		Type:     indicator.Type(q.Get("type")),
		SourceID: q.Get("source_id"),
	}
	if filter.Type != "" && !filter.Type.IsValid() {
		utils.WriteError(w, errors.BadRequest("Unknown indicator type"))
		return
	}
	if raw := q.Get("max_reputation"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			utils.WriteError(w, errors.BadRequest("max_reputation must be an integer"))
			return
		}
		filter.MaxReputation = &v
	}

	items, err := h.repo.List(r.Context(), filter, p.PageSize, p.Offset)
	if err != nil {
		writeErr(w, h.logger, err, "Failed to list indicators")
		return
	}

	// Count is unfiltered; for filtered pages report what is known to exist
	total := int64(p.Offset + len(items))
	if filter == (indicator.Filter{}) {
		if total, err = h.repo.Count(r.Context()); err != nil {
			writeErr(w, h.logger, err, "Failed to count indicators")
			return
		}
	} else if len(items) == p.PageSize {
		total++
	}

	out := make([]dto.IndicatorDTO, len(items))
	for i, ind := range items {
		out[i] = scoredIndicator(h.scores, ind)
	}
	utils.WriteSuccess(w, http.StatusOK, utils.NewPaginatedResponse(out, p.Page, p.PageSize, total))
}

// Get returns the indicator for /{type}/{value}. The value is the rest of the
// path, so URLs need no escaping beyond the usual. It is canonicalized first,
// so any spelling of the same observable resolves to one record.
func (h *IndicatorHandler) Get(w http.ResponseWriter, r *http.Request) {
	value := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		// chi matched against the escaped path
		if v, err := url.PathUnescape(value); err == nil {
			value = v
		}
	}
	if value == "" {
		utils.WriteError(w, errors.BadRequest("Indicator value is required"))
		return
	}

	key, err := indicator.NewKey(indicator.Type(chi.URLParam(r, "type")), value)
	if err != nil {
		utils.WriteError(w, errors.BadRequest(err.Error()))
		return
	}

	ind, err := h.repo.GetByKey(r.Context(), key)
	if err != nil {
		writeErr(w, h.logger, err, "Failed to get indicator")
		return
	}
	if ind == nil {
		utils.WriteError(w, errors.NotFound("indicator"))
		return
	}
	utils.WriteSuccess(w, http.StatusOK, scoredIndicator(h.scores, ind))
}

// ListPulses returns the campaign groupings a source reported
func (h *IndicatorHandler) ListPulses(w http.ResponseWriter, r *http.Request) {
	p := utils.ParsePaginationParams(r)
	pulses, err := h.pulses.ListBySource(r.Context(), chi.URLParam(r, "id"), p.PageSize)
	if err != nil {
		writeErr(w, h.logger, err, "Failed to list pulses")
		return
	}
	if pulses == nil {
		pulses = []*indicator.Pulse{}
	}
	utils.WriteSuccess(w, http.StatusOK, pulses)
}
