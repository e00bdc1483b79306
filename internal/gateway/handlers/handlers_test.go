package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/llm0-router/internal/gateway/dispatch"
	"github.com/mrmushfiq/llm0-router/internal/routing"
	"github.com/mrmushfiq/llm0-router/internal/shared/database"
	"github.com/mrmushfiq/llm0-router/internal/usage"
)

type fakeInvoker struct {
	mu     sync.Mutex
	calls  int
	failAt int
}

func (f *fakeInvoker) Invoke(_ context.Context, req routing.InvokeRequest) (*routing.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == f.failAt {
		return nil, errors.New("provider unavailable")
	}
	return &routing.Completion{
		Text:         "answer from " + string(req.Tier),
		InputTokens:  1000,
		OutputTokens: 200,
		LatencyMs:    25,
		Model:        "model-" + string(req.Tier),
	}, nil
}

type testServer struct {
	handler http.Handler
	invoker *fakeInvoker
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := database.New("sqlite://" + filepath.Join(t.TempDir(), "router.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	configs := routing.NewConfigService(db, nil)
	tracker := usage.NewTracker(db, configs)
	inv := &fakeInvoker{}
	d := dispatch.New(configs, inv, tracker)

	return &testServer{
		invoker: inv,
		handler: NewRouter(Deps{
			Chat:       NewChatHandler(d),
			Routing:    NewRoutingHandler(configs, d),
			Usage:      NewUsageHandler(tracker),
			Middleware: NewMiddleware(nil, rateLimit),
			Database:   db,
		}),
	}
}

func (s *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserIDHeader, user)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 100)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestUserHeaderRequired(t *testing.T) {
	s := newTestServer(t, 100)
	rec := s.do(t, http.MethodGet, "/v1/routing/settings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, 100)
	rec := s.do(t, http.MethodOptions, "/v1/route", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), UserIDHeader)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestRateLimitFallsBackToLocalLimiter(t *testing.T) {
	s := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodGet, "/v1/routing/defaults", "u1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := s.do(t, http.MethodGet, "/v1/routing/defaults", "u1", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Other users have their own bucket
	rec = s.do(t, http.MethodGet, "/v1/routing/defaults", "u2", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIdleLocalLimitersAreSwept(t *testing.T) {
	m := NewMiddleware(nil, 2)
	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < minSweep-1; i++ {
		exceeded, _ := m.check(ctx, fmt.Sprintf("user-%d", i))
		require.False(t, exceeded)
	}

	// An exhausted user stays tracked while active
	clock = clock.Add(30 * time.Second)
	m.check(ctx, "busy")
	m.check(ctx, "busy")
	exceeded, _ := m.check(ctx, "busy")
	require.True(t, exceeded)

	clock = clock.Add(30 * time.Second)
	m.check(ctx, "newcomer")

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Len(t, m.local, 2)
	require.Contains(t, m.local, "busy")
	// The kept bucket is still partly drained, not reset to the burst
	assert.Less(t, m.local["busy"].lim.TokensAt(clock), 2.0)
}

func TestRouteSingleTier(t *testing.T) {
	s := newTestServer(t, 100)

	rec := s.do(t, http.MethodPost, "/v1/route", "u1", map[string]any{
		"message":   "hi there",
		"task_type": "greeting",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "cheap", body["tier"])
	assert.Equal(t, "task:greeting", body["routing_reason"])
	assert.Equal(t, "answer from cheap", body["response"])
	assert.InDelta(t, 0.0005, body["cost_usd"], 1e-9)
	assert.NotEmpty(t, body["usage_id"])
}

func TestRouteValidation(t *testing.T) {
	s := newTestServer(t, 100)

	rec := s.do(t, http.MethodPost, "/v1/route", "u1", map[string]any{"message": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/route", "u1", map[string]any{"message": "hi", "force_tier": "huge"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, s.invoker.calls)
}

func TestRouteBudgetExceeded(t *testing.T) {
	s := newTestServer(t, 100)

	rec := s.do(t, http.MethodPut, "/v1/routing/settings", "u1", map[string]any{"cost_limit_daily_usd": 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/v1/route", "u1", map[string]any{"message": "hi", "task_type": "greeting"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, 0.0, body["limit_usd"])
	assert.Equal(t, 0.0, body["current_cost_usd"])
	assert.Equal(t, 0, s.invoker.calls)
}

func TestRouteChainFailureReturnsPartial(t *testing.T) {
	s := newTestServer(t, 100)
	s.invoker.failAt = 2

	rec := s.do(t, http.MethodPost, "/v1/route", "u1", map[string]any{
		"message":   "summarize the standup notes",
		"task_type": "meeting_summary",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, 2.0, body["failed_stage"])
	partial, ok := body["partial"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	chain := partial["chain"].(map[string]any)
	assert.Equal(t, routing.ChainTranscribeSummarize, chain["chain_name"])
	assert.Len(t, chain["steps"], 1)
}

func TestSettingsUpdate(t *testing.T) {
	s := newTestServer(t, 100)

	rec := s.do(t, http.MethodPut, "/v1/routing/settings", "u1", map[string]any{
		"task_routing": map[string]string{"greeting": "opus"},
		"prefer_speed": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/v1/routing/settings", "u1", nil)
	body := decode(t, rec)
	assert.Equal(t, "capable", body["task_routing"].(map[string]any)["greeting"])
	assert.Equal(t, true, body["prefer_speed"])

	// Other users keep the defaults
	rec = s.do(t, http.MethodGet, "/v1/routing/settings", "u2", nil)
	body = decode(t, rec)
	assert.Equal(t, "cheap", body["task_routing"].(map[string]any)["greeting"])
}

func TestSettingsUpdateRejected(t *testing.T) {
	s := newTestServer(t, 100)

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"unknown tier", map[string]any{"default_tier": "huge"}, ""},
		{"unknown task", map[string]any{"task_routing": map[string]string{"dance": "cheap"}}, "task_routing.dance"},
		{"bad pattern", map[string]any{"custom_patterns": map[string]any{"capable": []string{"(unclosed"}}}, "custom_patterns.capable[0]"},
		{"negative limit", map[string]any{"cost_limit_daily_usd": -1}, "cost_limit_daily_usd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPut, "/v1/routing/settings", "u1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			if tt.field != "" {
				assert.Equal(t, tt.field, decode(t, rec)["field"])
			}
		})
	}
}

func TestReset(t *testing.T) {
	s := newTestServer(t, 100)

	rec := s.do(t, http.MethodPut, "/v1/routing/settings", "u1", map[string]any{
		"task_routing": map[string]string{"greeting": "capable"},
		"tool_routing": map[string]string{"web_search": "capable"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/routing/reset", "u1", map[string]any{"sections": []string{"task_routing"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "cheap", body["task_routing"].(map[string]any)["greeting"])
	assert.Equal(t, "capable", body["tool_routing"].(map[string]any)["web_search"])

	rec = s.do(t, http.MethodPost, "/v1/routing/reset", "u1", map[string]any{"sections": []string{"everything"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetWithoutBody(t *testing.T) {
	s := newTestServer(t, 100)

	tests := []struct {
		name string
		body io.Reader
	}{
		{"no body", http.NoBody},
		// Unknown length, as with an empty chunked request
		{"empty stream", io.MultiReader()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPut, "/v1/routing/settings", "u1", map[string]any{
				"task_routing":    map[string]string{"greeting": "capable"},
				"custom_patterns": map[string]any{"cheap": []string{"lunch"}},
			})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			req := httptest.NewRequest(http.MethodPost, "/v1/routing/reset", tt.body)
			req.Header.Set(UserIDHeader, "u1")
			if tt.body != http.NoBody {
				req.ContentLength = -1
			}
			rec = httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			body := decode(t, rec)
			assert.Equal(t, "cheap", body["task_routing"].(map[string]any)["greeting"])
			assert.NotContains(t, body["patterns"].(map[string]any)["cheap"], "lunch")
		})
	}
}

func TestChainCRUD(t *testing.T) {
	s := newTestServer(t, 100)

	chain := map[string]any{
		"name": "draft_review_chain",
		"steps": []map[string]string{
			{"tier": "cheap", "purpose": "draft", "prompt_template": "draft_reply"},
			{"tier": "capable", "purpose": "review", "prompt_template": "review_reply"},
		},
	}

	rec := s.do(t, http.MethodPost, "/v1/routing/chains", "u1", chain)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/v1/routing/chains", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	names := map[string]bool{}
	for _, v := range decode(t, rec)["chains"].([]any) {
		view := v.(map[string]any)
		names[view["name"].(string)] = view["custom"].(bool)
	}
	assert.True(t, names["draft_review_chain"])
	custom, ok := names[routing.ChainTranscribeSummarize]
	assert.True(t, ok)
	assert.False(t, custom)

	chain["name"] = "renamed_chain"
	rec = s.do(t, http.MethodPut, "/v1/routing/chains/draft_review_chain", "u1", chain)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/v1/routing/chains/draft_review_chain", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/v1/routing/chains/renamed_chain", "u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPut, "/v1/routing/chains/missing_chain", "u1", chain)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/v1/routing/chains/renamed_chain", "u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/v1/routing/chains/renamed_chain", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/routing/chains", "u1", map[string]any{"name": "empty_chain", "steps": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoutingTestIsDryRun(t *testing.T) {
	s := newTestServer(t, 100)

	rec := s.do(t, http.MethodPost, "/v1/routing/test", "u1", map[string]any{
		"message":   "summarize the meeting",
		"task_type": "meeting_summary",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, true, body["would_chain"])
	assert.Equal(t, routing.ChainTranscribeSummarize, body["chain_name"])
	assert.NotEmpty(t, body["reasoning"])
	assert.Equal(t, 0, s.invoker.calls)

	rec = s.do(t, http.MethodGet, "/v1/usage/summary", "u1", nil)
	totals := decode(t, rec)["totals"].(map[string]any)
	assert.Equal(t, 0.0, totals["requests"])
}

func TestSchema(t *testing.T) {
	s := newTestServer(t, 100)

	rec := s.do(t, http.MethodGet, "/v1/routing/schema", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	props, ok := decode(t, rec)["properties"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	assert.Contains(t, props, "task_routing")
	require.Contains(t, props, "cost_limit_daily_usd")

	limit := props["cost_limit_daily_usd"].(map[string]any)
	assert.Contains(t, limit["description"], "0 blocks every request")
	assert.Equal(t, 0.0, limit["minimum"])
}

func TestUsageEndpoints(t *testing.T) {
	s := newTestServer(t, 100)

	for i := 0; i < 3; i++ {
		rec := s.do(t, http.MethodPost, "/v1/route", "u1", map[string]any{"message": "hi", "task_type": "greeting"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodGet, "/v1/usage/summary?period=week", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	totals := decode(t, rec)["totals"].(map[string]any)
	assert.Equal(t, 3.0, totals["requests"])
	assert.InDelta(t, 0.0015, totals["cost"], 1e-9)

	rec = s.do(t, http.MethodGet, "/v1/usage/history?limit=2", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode(t, rec)
	assert.Len(t, page["items"], 2)
	assert.Equal(t, 3.0, page["total"])

	rec = s.do(t, http.MethodGet, "/v1/usage/history?tier=capable", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, decode(t, rec)["total"])

	rec = s.do(t, http.MethodGet, "/v1/usage/cost?period=month", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.0015, decode(t, rec)["current_period"], 1e-9)

	rec = s.do(t, http.MethodGet, "/v1/usage/daily-costs?days=7", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["costs"], 7)

	rec = s.do(t, http.MethodGet, "/v1/usage/task-breakdown?period=day", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := decode(t, rec)["tasks"].([]any)
	require.Len(t, tasks, 1)
	assert.Equal(t, "greeting", tasks[0].(map[string]any)["task_type"])
}

func TestUsageBadParams(t *testing.T) {
	s := newTestServer(t, 100)

	for _, path := range []string{
		"/v1/usage/summary?period=year",
		"/v1/usage/cost?period=hour",
		"/v1/usage/daily-costs?days=0",
		"/v1/usage/daily-costs?days=91",
		"/v1/usage/history?tier=huge",
		"/v1/usage/history?offset=-1",
	} {
		rec := s.do(t, http.MethodGet, path, "u1", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}
