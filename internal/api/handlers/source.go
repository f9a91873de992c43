package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pratik-mahalle/threatwatch/internal/api/dto"
	"github.com/pratik-mahalle/threatwatch/internal/api/middleware"
	"github.com/pratik-mahalle/threatwatch/internal/domain/indicator"
	"github.com/pratik-mahalle/threatwatch/internal/domain/source"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/utils"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/validator"
	"github.com/pratik-mahalle/threatwatch/internal/worker"
)

// SourceRunner polls one source out of schedule
type SourceRunner interface {
	RunSource(ctx context.Context, src *source.Source) worker.Outcome
}

// IntelQuerier runs ad hoc queries against a source
type IntelQuerier interface {
	Lookup(ctx context.Context, src *source.Source, kind indicator.Type, value string) (*indicator.Indicator, error)
	Search(ctx context.Context, src *source.Source, query string) ([]indicator.Observation, error)
}

// ProviderChecker reports whether an adapter exists for a provider key
type ProviderChecker interface {
	Supports(provider string) bool
}

type SourceHandler struct {
	service   source.Service
	runner    SourceRunner
	intel     IntelQuerier
	providers ProviderChecker
	scores    IndicatorScorer
	logger    *logger.Logger
	validator *validator.Validator
}

func NewSourceHandler(
	service source.Service,
	runner SourceRunner,
	intel IntelQuerier,
	providers ProviderChecker,
	scores IndicatorScorer,
	log *logger.Logger,
	val *validator.Validator,
) *SourceHandler {
	return &SourceHandler{
		service:   service,
		runner:    runner,
		intel:     intel,
		providers: providers,
		scores:    scores,
		logger:    log,
		validator: val,
	}
}

// List returns registered sources. ?enabled=true limits the list to enabled ones.
func (h *SourceHandler) List(w http.ResponseWriter, r *http.Request) {
	enabledOnly, _ := strconv.ParseBool(r.URL.Query().Get("enabled"))

	sources, err := h.service.List(r.Context(), enabledOnly)
	if err != nil {
		writeErr(w, h.logger, err, "Failed to list sources")
		return
	}

	out := make([]dto.SourceDTO, len(sources))
	for i, s := range sources {
		out[i] = dto.FromSource(s)
	}
	utils.WriteSuccess(w, http.StatusOK, out)
}

// Get returns one source
func (h *SourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	src, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, h.logger, err, "Failed to get source")
		return
	}
	utils.WriteSuccess(w, http.StatusOK, dto.FromSource(src))
}

// Create registers a source
func (h *SourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateSourceRequest
	if !decodeAndValidate(w, r, h.validator, &req, false) {
		return
	}
	if h.providers != nil && !h.providers.Supports(req.Provider) {
		utils.WriteError(w, errors.BadRequest("Unknown provider "+req.Provider))
		return
	}

	src := req.ToSource()
	if _, err := h.service.Register(r.Context(), src); err != nil {
		writeErr(w, h.logger, err, "Failed to register source")
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, dto.FromSource(src))
}

// Update changes a source's schedule, weight or connection settings
func (h *SourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateSourceRequest
	if !decodeAndValidate(w, r, h.validator, &req, false) {
		return
	}
	settings := req.Settings()
	if settings.Empty() {
		utils.WriteError(w, errors.BadRequest("Nothing to update"))
		return
	}

	src, err := h.service.UpdateSettings(r.Context(), chi.URLParam(r, "id"), settings)
	if err != nil {
		writeErr(w, h.logger, err, "Failed to update source")
		return
	}
	utils.WriteSuccess(w, http.StatusOK, dto.FromSource(src))
}

// Disable stops scheduling a source
func (h *SourceHandler) Disable(w http.ResponseWriter, r *http.Request) {
	var req dto.DisableSourceRequest
	if !decodeAndValidate(w, r, h.validator, &req, true) {
		return
	}
	h.setEnabled(w, r, false, req.Reason)
}

// Enable resumes scheduling a source and clears its failure state
func (h *SourceHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true, "")
}

func (h *SourceHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool, reason string) {
	id := chi.URLParam(r, "id")

	var err error
	if enabled {
		err = h.service.Enable(r.Context(), id)
	} else {
		err = h.service.Disable(r.Context(), id, reason)
	}
	if err != nil {
		writeErr(w, h.logger, err, "Failed to update source")
		return
	}

	src, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeErr(w, h.logger, err, "Failed to get source")
		return
	}
	utils.WriteSuccess(w, http.StatusOK, dto.FromSource(src))
}

// Poll runs one source immediately and reports the outcome
func (h *SourceHandler) Poll(w http.ResponseWriter, r *http.Request) {
	src, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, h.logger, err, "Failed to get source")
		return
	}
	if !src.Enabled {
		utils.WriteError(w, errors.Conflict("Source is disabled"))
		return
	}
	middleware.AddLogField(w, "source", src.Name)

	out := h.runner.RunSource(r.Context(), src)
	resp := dto.PollResponse{
		SourceID:      src.ID,
		Records:       out.Result.Records,
		Created:       out.Result.Created,
		Updated:       out.Result.Updated,
		Skipped:       out.Result.Skipped,
		Notifications: out.Result.Notifications,
		NextPoll:      out.Next,
		Scheduled:     out.Keep,
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
		utils.WriteJSON(w, errors.StatusOf(out.Err), utils.SuccessResponse{Success: false, Data: resp})
		return
	}
	utils.WriteSuccess(w, http.StatusOK, resp)
}

// Lookup asks the source about one observable and stores the answer
func (h *SourceHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	var req dto.LookupRequest
	if !decodeAndValidate(w, r, h.validator, &req, false) {
		return
	}
	src, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, h.logger, err, "Failed to get source")
		return
	}

	ind, err := h.intel.Lookup(r.Context(), src, indicator.Type(req.Type), req.Value)
	if err != nil {
		writeErr(w, h.logger, err, "Lookup failed")
		return
	}
	utils.WriteSuccess(w, http.StatusOK, scoredIndicator(h.scores, ind))
}

// Search runs ?q= against the source without storing the hits
func (h *SourceHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		utils.WriteError(w, errors.BadRequest("Query parameter q is required"))
		return
	}
	src, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, h.logger, err, "Failed to get source")
		return
	}

	hits, err := h.intel.Search(r.Context(), src, query)
	if err != nil {
		writeErr(w, h.logger, err, "Search failed")
		return
	}
	out := make([]dto.ObservationDTO, len(hits))
	for i, o := range hits {
		out[i] = dto.FromObservation(o)
	}
	utils.WriteSuccess(w, http.StatusOK, out)
}
