package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/lossharvest/harvestd/internal/domain"
	"github.com/lossharvest/harvestd/internal/export"
	"github.com/lossharvest/harvestd/internal/service"
)

// HarvestHandler serves the harvest run endpoints: triggering a pass and
// reading back stored opportunities, summaries, and archived exports.
type HarvestHandler struct {
	svc    *service.HarvestService
	blobs  domain.BlobReader // optional; nil disables export download
	logger *slog.Logger
}

// NewHarvestHandler creates a HarvestHandler.
func NewHarvestHandler(svc *service.HarvestService, logger *slog.Logger) *HarvestHandler {
	return &HarvestHandler{svc: svc, logger: logHandler(logger, "harvest")}
}

// WithBlobReader enables the export download endpoint.
func (h *HarvestHandler) WithBlobReader(r domain.BlobReader) *HarvestHandler {
	h.blobs = r
	return h
}

// TriggerRun executes one synchronous harvest pass for a user.
// POST /api/harvest/runs?user_id=...
func (h *HarvestHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	report, err := h.svc.RunPass(r.Context(), userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "harvest pass failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "harvest pass failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"run_id":              report.RunID,
		"summary":             report.Summary,
		"opportunity_count":   len(report.Opportunities),
		"rejected_partitions": len(report.Rejected),
		"missing_prices":      len(report.MissingPrices),
		"missing_estimates":   len(report.MissingEstimates),
	})
}

// ListOpportunities returns a run's opportunities in rank order.
// GET /api/harvest/runs/{id}/opportunities
func (h *HarvestHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	opps, err := h.svc.Opportunities(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load opportunities")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":        runID,
		"opportunities": opps,
	})
}

// GetSummary returns a run's summary.
// GET /api/harvest/runs/{id}/summary
func (h *HarvestHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	sum, err := h.svc.Summary(r.Context(), runID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load summary")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// DownloadExport streams a run's archived CSV export.
// GET /api/harvest/runs/{id}/export
func (h *HarvestHandler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotFound, "exports not configured")
		return
	}
	runID, err := uuid.Parse(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	sum, err := h.svc.Summary(r.Context(), runID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load summary")
		return
	}

	path := export.RunPath(runID, sum.ComputedAt)
	body, err := h.blobs.Get(r.Context(), path)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "export not archived yet")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load export")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+runID.String()+`.csv"`)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "export stream interrupted",
			slog.String("run_id", runID.String()),
			slog.String("error", err.Error()))
	}
}

// GetLatest returns a user's most recent run summary.
// GET /api/harvest/latest?user_id=...
func (h *HarvestHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	sum, err := h.svc.LatestSummary(r.Context(), userID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no runs for user")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load latest run")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
