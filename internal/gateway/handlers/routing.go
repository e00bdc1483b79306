package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/invopop/jsonschema"

	"github.com/mrmushfiq/llm0-router/internal/gateway/dispatch"
	"github.com/mrmushfiq/llm0-router/internal/routing"
	"github.com/mrmushfiq/llm0-router/internal/shared/models"
)

// RoutingHandler serves the per-user routing settings
type RoutingHandler struct {
	configs    *routing.ConfigService
	dispatcher *dispatch.Dispatcher
}

func NewRoutingHandler(configs *routing.ConfigService, dispatcher *dispatch.Dispatcher) *RoutingHandler {
	return &RoutingHandler{configs: configs, dispatcher: dispatcher}
}

// HandleGetSettings handles GET /v1/routing/settings
func (h *RoutingHandler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.GetConfig(r.Context(), UserFromContext(r.Context()))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// HandleUpdateSettings handles PUT /v1/routing/settings
func (h *RoutingHandler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var update models.RoutingSettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	cfg, err := h.configs.UpdateConfig(r.Context(), UserFromContext(r.Context()), update)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// HandleDefaults handles GET /v1/routing/defaults
func (h *RoutingHandler) HandleDefaults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.configs.Catalog())
}

type resetRequest struct {
	Sections []string `json:"sections"`
}

// HandleReset handles POST /v1/routing/reset. An empty body resets every section.
func (h *RoutingHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	if len(req.Sections) == 0 {
		req.Sections = []string{"task_routing", "tool_routing", "patterns", "chains"}
	}

	userID := UserFromContext(r.Context())
	if err := h.configs.Reset(r.Context(), userID, req.Sections); err != nil {
		writeError(w, err, nil)
		return
	}

	cfg, err := h.configs.GetConfig(r.Context(), userID)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type chainView struct {
	Name      string                 `json:"name"`
	Custom    bool                   `json:"custom"`
	Tasks     []string               `json:"tasks,omitempty"`
	Chain     models.ChainDefinition `json:"chain"`
	Overrides bool                   `json:"overrides_default,omitempty"`
}

// HandleListChains handles GET /v1/routing/chains
func (h *RoutingHandler) HandleListChains(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := UserFromContext(ctx)

	custom, err := h.configs.CustomChains(ctx, userID)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	cfg, err := h.configs.GetConfig(ctx, userID)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	defaults := h.configs.Catalog().Chains
	tasks := make(map[string][]string)
	for task, name := range cfg.TaskChains {
		tasks[name] = append(tasks[name], task)
	}

	views := make([]chainView, 0, len(cfg.ChainConfigs))
	for name, def := range cfg.ChainConfigs {
		_, isCustom := custom[name]
		_, isDefault := defaults[name]
		sort.Strings(tasks[name])
		views = append(views, chainView{
			Name:      name,
			Custom:    isCustom,
			Tasks:     tasks[name],
			Chain:     def,
			Overrides: isCustom && isDefault,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })

	writeJSON(w, http.StatusOK, map[string]any{
		"chaining_enabled": cfg.ChainingEnabled,
		"chains":           views,
	})
}

// HandleGetChain handles GET /v1/routing/chains/{name}
func (h *RoutingHandler) HandleGetChain(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.GetConfig(r.Context(), UserFromContext(r.Context()))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	def, err := routing.ResolveChain(cfg, chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

type chainRequest struct {
	Name string `json:"name"`
	models.ChainDefinition
}

// HandleCreateChain handles POST /v1/routing/chains
func (h *RoutingHandler) HandleCreateChain(w http.ResponseWriter, r *http.Request) {
	var req chainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}

	if err := h.configs.SaveChain(r.Context(), UserFromContext(r.Context()), "", req.Name, req.ChainDefinition); err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, chainView{Name: req.Name, Custom: true, Chain: req.ChainDefinition})
}

// HandleUpdateChain handles PUT /v1/routing/chains/{name}. A different name
// in the body renames the user's chain; the same name creates or replaces it.
func (h *RoutingHandler) HandleUpdateChain(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req chainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	oldName := ""
	if req.Name == "" {
		req.Name = name
	} else if req.Name != name {
		oldName = name
	}

	err := h.configs.SaveChain(r.Context(), UserFromContext(r.Context()), oldName, req.Name, req.ChainDefinition)
	if err != nil {
		if errors.Is(err, routing.ErrUnknownChain) {
			err = errChainNotFound
		}
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, chainView{Name: req.Name, Custom: true, Chain: req.ChainDefinition})
}

// HandleDeleteChain handles DELETE /v1/routing/chains/{name}
func (h *RoutingHandler) HandleDeleteChain(w http.ResponseWriter, r *http.Request) {
	err := h.configs.DeleteChain(r.Context(), UserFromContext(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		if errors.Is(err, routing.ErrUnknownChain) {
			err = errChainNotFound
		}
		writeError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTest handles POST /v1/routing/test. Nothing is invoked or recorded.
func (h *RoutingHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	req.UserID = UserFromContext(r.Context())

	plan, err := h.dispatcher.Plan(r.Context(), req)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// HandleSchema handles GET /v1/routing/schema
func (h *RoutingHandler) HandleSchema(w http.ResponseWriter, r *http.Request) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&models.RoutingSettingsUpdate{})
	writeJSON(w, http.StatusOK, schema)
}
