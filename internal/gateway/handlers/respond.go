package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mrmushfiq/llm0-router/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-router/internal/routing"
	"github.com/mrmushfiq/llm0-router/internal/shared/logger"
	"github.com/mrmushfiq/llm0-router/internal/usage"
)

var errChainNotFound = errors.New("chain not found")

type errorBody struct {
	Error       string   `json:"error"`
	Field       string   `json:"field,omitempty"`
	CurrentCost *float64 `json:"current_cost_usd,omitempty"`
	Limit       *float64 `json:"limit_usd,omitempty"`
	FailedStage *int     `json:"failed_stage,omitempty"`
	Partial     any      `json:"partial,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var stageErr *routing.StageError
	switch {
	case errors.Is(err, routing.ErrInvalidConfig), errors.Is(err, usage.ErrInvalidPeriod):
		return http.StatusBadRequest
	case errors.Is(err, routing.ErrUnknownChain), errors.Is(err, errChainNotFound):
		return http.StatusNotFound
	case errors.Is(err, usage.ErrBudgetExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, routing.ErrConfigLoad):
		return http.StatusServiceUnavailable
	case errors.As(err, &stageErr), errors.Is(err, providers.ErrNoProvider):
		return http.StatusBadGateway
	}
	var apiErr *providers.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError renders err with its mapped status. partial is attached for
// chain failures.
func writeError(w http.ResponseWriter, err error, partial any) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var ve *routing.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	var be *usage.BudgetError
	if errors.As(err, &be) {
		body.Error = "Daily cost limit reached. Try again tomorrow or raise your limit."
		body.CurrentCost = &be.CurrentCost
		body.Limit = &be.Limit
	}
	var se *routing.StageError
	if errors.As(err, &se) {
		stage := se.Index + 1
		body.FailedStage = &stage
		body.Partial = partial
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
