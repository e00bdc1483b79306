package handlers

import (
	"net/http"
	"strconv"

	"github.com/mrmushfiq/llm0-router/internal/shared/models"
	"github.com/mrmushfiq/llm0-router/internal/usage"
)

// UsageHandler serves usage and cost reporting
type UsageHandler struct {
	tracker *usage.Tracker
}

func NewUsageHandler(tracker *usage.Tracker) *UsageHandler {
	return &UsageHandler{tracker: tracker}
}

func periodParam(w http.ResponseWriter, r *http.Request) (usage.Period, bool) {
	period, err := usage.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, err, nil)
		return "", false
	}
	return period, true
}

func intParam(r *http.Request, name string, defaultValue int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(raw)
}

// HandleSummary handles GET /v1/usage/summary?period=day|week|month
func (h *UsageHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}

	summary, err := h.tracker.GetUsageSummary(r.Context(), UserFromContext(r.Context()), period)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleHistory handles GET /v1/usage/history?limit&offset&tier
func (h *UsageHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		badRequest(w, "limit must be an integer")
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		badRequest(w, "offset must be a non-negative integer")
		return
	}

	var tier models.Tier
	if raw := r.URL.Query().Get("tier"); raw != "" {
		tier, err = models.ParseTier(raw)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
	}

	page, err := h.tracker.GetHistory(r.Context(), UserFromContext(r.Context()), tier, limit, offset)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleCost handles GET /v1/usage/cost?period
func (h *UsageHandler) HandleCost(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}

	breakdown, err := h.tracker.GetCostBreakdown(r.Context(), UserFromContext(r.Context()), period)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

// HandleDailyCosts handles GET /v1/usage/daily-costs?days=1..90
func (h *UsageHandler) HandleDailyCosts(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", 7)
	if err != nil || days < 1 || days > usage.MaxDailyCostDays {
		badRequest(w, "days must be between 1 and "+strconv.Itoa(usage.MaxDailyCostDays))
		return
	}

	costs, err := h.tracker.GetDailyCosts(r.Context(), UserFromContext(r.Context()), days)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "costs": costs})
}

// HandleTaskBreakdown handles GET /v1/usage/task-breakdown?period
func (h *UsageHandler) HandleTaskBreakdown(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}

	tasks, err := h.tracker.GetTaskBreakdown(r.Context(), UserFromContext(r.Context()), period)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": period, "tasks": tasks})
}
