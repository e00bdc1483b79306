package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mrmushfiq/llm0-router/internal/gateway/dispatch"
	"github.com/mrmushfiq/llm0-router/internal/shared/logger"
)

type ChatHandler struct {
	dispatcher *dispatch.Dispatcher
}

func NewChatHandler(dispatcher *dispatch.Dispatcher) *ChatHandler {
	return &ChatHandler{dispatcher: dispatcher}
}

// HandleRoute handles POST /v1/route
func (h *ChatHandler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		badRequest(w, "message is required")
		return
	}
	req.UserID = UserFromContext(ctx)

	resp, err := h.dispatcher.Handle(ctx, req)
	if err != nil {
		if dispatch.IsStageFailure(err) {
			logger.Warn("chain failed", "user_id", req.UserID, "error", err)
		}
		writeError(w, err, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
