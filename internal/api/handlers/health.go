package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/utils"
)

// QueueReporter exposes the scheduler's queue depth
type QueueReporter interface {
	QueueDepth() int
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db     *sql.DB
	queue  QueueReporter
	logger *logger.Logger
}

// NewHealthHandler creates a new health handler. queue may be nil when the
// scheduler is not running in this process.
func NewHealthHandler(db *sql.DB, queue QueueReporter, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		queue:  queue,
		logger: log,
	}
}

// Healthz handles the liveness probe
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccess(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Readyz handles the readiness probe
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.ErrorWithErr(err, "Database ping failed")
		utils.WriteErrorMessage(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Database connection failed")
		return
	}

	body := map[string]interface{}{
		"status":   "ready",
		"database": "connected",
	}
	if h.queue != nil {
		body["poll_queue_depth"] = h.queue.QueueDepth()
	}
	utils.WriteSuccess(w, http.StatusOK, body)
}
