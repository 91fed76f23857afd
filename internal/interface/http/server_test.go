package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/skillforge/internal/application/command"
	"github.com/alem-hub/skillforge/internal/application/engine"
	"github.com/alem-hub/skillforge/internal/application/eventhandler"
	"github.com/alem-hub/skillforge/internal/application/query"
	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/infrastructure/messaging"
	"github.com/alem-hub/skillforge/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/skillforge/internal/interface/http/handlers"
)

var (
	now = time.Date(2025, 4, 2, 12, 0, 0, 0, time.UTC)
	t0  = now.Add(-24 * time.Hour)
)

type testServer struct {
	t   *testing.T
	srv *Server
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	requests := memory.NewSelfReportRepository()
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	feed := eventhandler.NewOnAchievementHandler(nil, eventhandler.DefaultFeedConfig())
	require.NoError(t, feed.Register(bus))
	eng := engine.New(catalog.New(nil), memory.NewEventLog(), memory.NewSnapshotCache(), memory.NewKeyedLocker(),
		bus, nil, engine.DefaultConfig(), engine.WithClock(func() time.Time { return now }))

	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddInfo("event_bus", func() any { return map[string]int{"published": 3} })

	srv := NewServer(cfg, Dependencies{
		Catalog:                command.NewCatalogHandler(eng, nil),
		SubmitPointEvent:       command.NewSubmitPointEventHandler(eng),
		SubmitSelfReport:       command.NewSubmitSelfReportHandler(eng, requests, nil),
		ResolveSelfReport:      command.NewResolveSelfReportHandler(eng, requests, nil),
		GetUserProgress:        query.NewGetUserProgressHandler(eng),
		GetUserBadges:          query.NewGetUserBadgesHandler(eng),
		GetDependencyStatus:    query.NewGetDependencyStatusHandler(eng),
		GetPointHistory:        query.NewGetPointHistoryHandler(eng),
		ListPendingSelfReports: query.NewListPendingSelfReportsHandler(requests),
		Achievements:           feed,
		HealthChecker:          checker,
	})
	return &testServer{t: t, srv: srv}
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

// ok performs the request and requires the given status.
func (ts *testServer) ok(status int, method, path string, body any) map[string]any {
	ts.t.Helper()
	w := ts.do(method, path, body)
	require.Equal(ts.t, status, w.Code, w.Body.String())
	var out map[string]any
	require.NoError(ts.t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// seed defines project web with subject html: tags (throttled, 2 to complete),
// forms (Approval, requires tags) and honor (HonorSystem).
func (ts *testServer) seed() {
	ts.ok(200, "PUT", "/admin/projects/web", gin.H{
		"name":   "Web",
		"levels": []gin.H{{"level": 1, "min_points": 10}},
	})
	ts.ok(200, "PUT", "/admin/projects/web/subjects/html", gin.H{"name": "HTML"})
	ts.ok(200, "PUT", "/admin/projects/web/subjects/html/skills/tags", gin.H{
		"name":                                   "Tags",
		"point_increment":                        10,
		"num_perform_to_completion":              2,
		"point_increment_interval":               60,
		"num_max_occurrences_increment_interval": 1,
	})
	ts.ok(200, "PUT", "/admin/projects/web/subjects/html/skills/forms", gin.H{
		"point_increment": 20, "num_perform_to_completion": 1, "self_reporting_type": "Approval",
	})
	ts.ok(200, "PUT", "/admin/projects/web/subjects/html/skills/honor", gin.H{
		"point_increment": 5, "num_perform_to_completion": 1, "self_reporting_type": "HonorSystem",
	})
	ts.ok(200, "POST", "/admin/projects/web/dependencies", gin.H{
		"dependent_skill_id": "forms", "prerequisite_skill_id": "tags",
	})
}

func (ts *testServer) event(skill string, at time.Time) *httptest.ResponseRecorder {
	return ts.do("POST", "/api/projects/web/skills/"+skill+"/events", gin.H{
		"user_id": "u1", "timestamp_ms": at.UnixMilli(),
	})
}

func (ts *testServer) completeTags() {
	require.Equal(ts.t, 200, ts.event("tags", t0).Code)
	require.Equal(ts.t, 200, ts.event("tags", t0.Add(2*time.Hour)).Code)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestPointEvent_Outcomes(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.seed()

	w := ts.event("tags", t0)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, true, body["counted"])
	assert.NotEmpty(t, body["event_id"])

	// Same occurrence again is idempotent.
	body = decode(t, ts.event("tags", t0))
	assert.Equal(t, true, body["duplicate"])
	assert.Equal(t, true, body["accepted"])

	// Inside the throttle window: recorded, not counted, still 200.
	w = ts.event("tags", t0.Add(10*time.Minute))
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["accepted"])
	assert.Equal(t, "Throttled", body["reason"])

	// forms requires tags, which is 1 of 2.
	w = ts.event("forms", t0)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["accepted"])
	assert.Equal(t, "SkillLocked", body["reason"])

	w = ts.event("nope", t0)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "UnknownSkill", decode(t, w)["error"])

	w = ts.do("POST", "/api/projects/web/skills/tags/events", gin.H{"timestamp_ms": t0.UnixMilli()})
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "UnknownUser", decode(t, w)["error"])
}

func TestCatalog_Errors(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.seed()

	w := ts.do("POST", "/admin/projects/web/dependencies", gin.H{
		"dependent_skill_id": "tags", "prerequisite_skill_id": "forms",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "CycleDetected", decode(t, w)["error"])

	w = ts.do("PUT", "/admin/projects/web/subjects/html/skills/bad", gin.H{"point_increment": 5})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ConfigError", decode(t, w)["error"])

	w = ts.do("PUT", "/admin/projects/web/subjects/html", "{not json")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidInput", decode(t, w)["error"])

	w = ts.do("PUT", "/admin/projects/web/badges/empty", gin.H{"name": "Empty", "enabled": true})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ConfigError", decode(t, w)["error"])

	before := ts.ok(200, "PUT", "/admin/projects/web", gin.H{"name": "Web"})["catalog_version"].(float64)
	after := ts.ok(200, "PUT", "/admin/projects/web", gin.H{"name": "Web 2"})["catalog_version"].(float64)
	assert.Greater(t, after, before)
}

func TestSelfReport_ApprovalFlow(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.seed()
	ts.completeTags()

	body := ts.ok(http.StatusAccepted, "POST", "/api/projects/web/skills/forms/self-reports", gin.H{"user_id": "u1"})
	id, _ := body["request_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "Pending", body["state"])

	pending := ts.ok(200, "GET", "/api/self-reports/pending?limit=10", nil)
	assert.Len(t, pending["requests"], 1)

	body = ts.ok(200, "POST", "/api/self-reports/"+id+"/resolve", gin.H{"decision": "Approved"})
	assert.Equal(t, "Approved", body["request"].(map[string]any)["state"])
	assert.Equal(t, true, body["ingestion"].(map[string]any)["accepted"])

	w := ts.do("POST", "/api/self-reports/"+id+"/resolve", gin.H{"decision": "Rejected"})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "AlreadyResolved", decode(t, w)["error"])

	pending = ts.ok(200, "GET", "/api/self-reports/pending", nil)
	assert.Empty(t, pending["requests"])

	w = ts.do("POST", "/api/self-reports/missing/resolve", gin.H{"decision": "Approved"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do("POST", "/api/self-reports/"+id+"/resolve", gin.H{"decision": "Maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do("GET", "/api/self-reports/pending?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSelfReport_HonorAndNone(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.seed()

	body := ts.ok(200, "POST", "/api/projects/web/skills/honor/self-reports", gin.H{"user_id": "u1"})
	assert.Equal(t, true, body["accepted"])

	w := ts.do("POST", "/api/projects/web/skills/tags/self-reports", gin.H{"user_id": "u1"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "SelfReportNotAllowed", decode(t, w)["error"])
}

func TestReadModels(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.seed()
	ts.completeTags()

	progress := ts.ok(200, "GET", "/api/users/u1/projects/web/progress", nil)
	assert.Equal(t, float64(20), progress["points"])
	assert.Equal(t, float64(1), progress["level"])
	assert.Len(t, progress["subjects"], 1)

	deps := ts.ok(200, "GET", "/api/users/u1/projects/web/skills/forms/dependencies", nil)
	assert.Equal(t, false, deps["locked"])
	assert.Equal(t, []any{map[string]any{"project_id": "web", "skill_id": "tags"}}, deps["prerequisites"])
	assert.Empty(t, deps["unmet_prerequisites"])

	history := ts.ok(200, "GET", "/api/users/u1/projects/web/history", nil)
	assert.Len(t, history["days"], 1)

	w := ts.do("GET", "/api/users/u1/projects/mobile/progress", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "UnknownProject", decode(t, w)["error"])
}

func TestGlobalBadge(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.seed()

	ts.ok(200, "PUT", "/supervisor/badges/polyglot", gin.H{"name": "Polyglot"})
	ts.ok(200, "POST", "/supervisor/badges/polyglot/skills", gin.H{"project_id": "web", "skill_id": "tags"})
	ts.ok(200, "PUT", "/supervisor/badges/polyglot", gin.H{"name": "Polyglot", "enabled": true})

	badges := ts.ok(200, "GET", "/api/users/u1/badges?project_id=web", nil)
	assert.Empty(t, badges["achieved"])
	require.Len(t, badges["available"], 1)

	ts.completeTags()

	badges = ts.ok(200, "GET", "/api/users/u1/badges", nil)
	achieved := badges["achieved"].([]any)
	require.Len(t, achieved, 1)
	b := achieved[0].(map[string]any)
	assert.Equal(t, "polyglot", b["badge_id"])
	assert.Equal(t, true, b["global"])
	assert.Equal(t, float64(100), b["percent"])

	w := ts.do("POST", "/supervisor/badges/ghost/skills", gin.H{"project_id": "web", "skill_id": "tags"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndRequestID(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do("GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(handlers.RequestIDHeader))
	body := decode(t, w)
	assert.Contains(t, body["info"], "event_bus")

	req := httptest.NewRequest("GET", "/live", nil)
	req.Header.Set(handlers.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(handlers.RequestIDHeader))

	w = ts.do("GET", "/nowhere", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["error"])
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, Config{RateLimitPerMinute: 1, RateLimitBurst: 1})

	assert.Equal(t, http.StatusOK, ts.do("GET", "/live", nil).Code)
	w := ts.do("GET", "/live", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestAchievementFeed(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.seed()

	empty := ts.ok(200, "GET", "/api/users/u1/achievements", nil)
	assert.Empty(t, empty["achievements"])

	ts.completeTags()
	body := ts.ok(200, "GET", "/api/users/u1/achievements", nil)
	feed := body["achievements"].([]any)
	require.GreaterOrEqual(t, len(feed), 2)

	kinds := map[string]bool{}
	for _, raw := range feed {
		entry := raw.(map[string]any)
		kinds[entry["kind"].(string)] = true
		if entry["kind"] == "skill" {
			assert.Equal(t, "tags", entry["skill_id"])
		}
	}
	assert.True(t, kinds["skill"])
	assert.True(t, kinds["level"])

	limited := ts.ok(200, "GET", "/api/users/u1/achievements?limit=1", nil)
	assert.Len(t, limited["achievements"], 1)
	ts.ok(400, "GET", "/api/users/u1/achievements?limit=x", nil)
}
