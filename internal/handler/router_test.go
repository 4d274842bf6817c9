package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"statebridge/internal/config"
	"statebridge/internal/domain"
	"statebridge/internal/engine"
	"statebridge/internal/localstore"
	"statebridge/internal/middleware"
	"statebridge/internal/repository"
	"statebridge/internal/websocket"
	"statebridge/pkg/jwt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "handler-test-secret"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testServer struct {
	t      *testing.T
	router http.Handler
	engine *engine.Engine
}

func testConfig() *config.Config {
	return &config.Config{
		Backend: config.BackendConfig{OperationTimeout: time.Second},
		JWT:     config.JWTConfig{Secret: testSecret, Expiration: time.Minute},
		WebSocket: config.WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			WriteWait:       time.Second,
			PongWait:        time.Minute,
			PingPeriod:      50 * time.Second,
			MaxConnPerUser:  5,
		},
		RateLimit: config.RateLimitConfig{RequestsPerMinute: 30, Enabled: false},
		CORS: config.CORSConfig{
			AllowedOrigins: "*",
			AllowedMethods: "GET,POST,PUT,OPTIONS",
			AllowedHeaders: "Content-Type,Authorization",
		},
		App: config.AppConfig{
			APIEndpoint: "http://localhost:8080/api/v1",
			Environment: "development",
			Version:     "2.3.0",
		},
		Activity:  config.ActivityConfig{FlushInterval: time.Hour, BatchThreshold: 10, RequeueLimit: 10, LocalRingSize: 50},
		Migration: config.MigrationConfig{CodeTTL: time.Hour, HistoryLimit: 5},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()

	eng, err := engine.New(context.Background(), cfg, engine.Options{
		Backend: repository.NewMemoryBackend(),
		Local:   localstore.NewMemoryStore(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close(context.Background()) })

	manager := websocket.NewManager(cfg.WebSocket.MaxConnPerUser, cfg.WebSocket.WriteWait, cfg.WebSocket.PongWait, cfg.WebSocket.PingPeriod)

	return &testServer{
		t:      t,
		router: NewRouter(cfg, eng, manager),
		engine: eng,
	}
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.GenerateToken(userID, time.Minute, testSecret)
	require.NoError(t, err)
	return "Bearer " + token
}

const (
	sessionX = "0b7c2f64-2d7e-4c1e-9a51-6f0d8e3b1a01"
	sessionY = "5d1e9a3c-8b42-4f6a-a7c0-2e9f4b6d8c02"
)

func (s *testServer) do(method, path, auth string, body []byte) (int, envelope) {
	s.t.Helper()
	return s.doSession(method, path, auth, "", body)
}

func (s *testServer) doSession(method, path, auth, session string, body []byte) (int, envelope) {
	s.t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if session != "" {
		req.Header.Set(middleware.SessionHeader, session)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t, testConfig())

	code, env := s.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, string(s.engine.Platform.Type), body["platform"])
}

func TestRouter_PlatformAndConfig(t *testing.T) {
	s := newTestServer(t, testConfig())

	code, env := s.do(http.MethodGet, "/api/v1/platform", "", nil)
	require.Equal(t, http.StatusOK, code)
	var platform map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &platform))
	assert.Equal(t, string(s.engine.Platform.Type), platform["type"])

	code, env = s.do(http.MethodGet, "/api/v1/config", "", nil)
	require.Equal(t, http.StatusOK, code)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &cfg))
	assert.Equal(t, "2.3.0", cfg["version"])

	code, env = s.do(http.MethodPost, "/api/v1/config/load", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"success":false}`, string(env.Data))
}

func TestRouter_InvalidTokenRejected(t *testing.T) {
	s := newTestServer(t, testConfig())

	code, _ := s.do(http.MethodGet, "/api/v1/state", "Bearer not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRouter_StateRoundTrip(t *testing.T) {
	s := newTestServer(t, testConfig())

	code, _ := s.doSession(http.MethodGet, "/api/v1/state", "", sessionX, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.doSession(http.MethodPut, "/api/v1/state", "", sessionX, []byte(`{"state":null}`))
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := s.doSession(http.MethodPut, "/api/v1/state", "", sessionX, []byte(`{"state":{"tasks":[1]}}`))
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"saved":true}`, string(env.Data))

	code, env = s.doSession(http.MethodGet, "/api/v1/state", "", sessionX, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"tasks":[1]}`, string(env.Data))
}

func TestRouter_SessionIssuedWhenMissing(t *testing.T) {
	s := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/platform", nil)
	req.Header.Set(middleware.SessionHeader, "not-a-uuid")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	issued := rec.Header().Get(middleware.SessionHeader)
	assert.NotEmpty(t, issued)
	assert.NotEqual(t, "not-a-uuid", issued)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/platform", nil)
	req.Header.Set(middleware.SessionHeader, sessionX)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, sessionX, rec.Header().Get(middleware.SessionHeader))
}

func TestRouter_AnonymousStateIsPerSession(t *testing.T) {
	s := newTestServer(t, testConfig())

	code, _ := s.doSession(http.MethodPut, "/api/v1/state", "", sessionX, []byte(`{"state":{"secret":"x-private"}}`))
	require.Equal(t, http.StatusOK, code)

	code, _ = s.doSession(http.MethodGet, "/api/v1/state", "", sessionY, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodGet, "/api/v1/state", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.doSession(http.MethodPost, "/api/v1/migration/export", bearer(t, "user-b"), sessionY, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.doSession(http.MethodPost, "/api/v1/migration/export", bearer(t, "user-b"), sessionX, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env := s.doSession(http.MethodGet, "/api/v1/state", "", sessionX, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"secret":"x-private"}`, string(env.Data))
}

func TestRouter_ConfigIsPerIdentity(t *testing.T) {
	s := newTestServer(t, testConfig())
	alice := bearer(t, "user-a")
	bob := bearer(t, "user-b")

	_, err := s.engine.Backend.Configs.Upsert(context.Background(), &domain.ConfigRecord{
		IdentityID: "user-a",
		Config: map[string]any{
			"api_endpoint":       "https://a-private.example",
			"remote_backend_key": "a-secret-key",
		},
	})
	require.NoError(t, err)

	code, env := s.do(http.MethodPost, "/api/v1/config/load", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "a-private.example")

	for _, auth := range []string{bob, ""} {
		code, env = s.do(http.MethodGet, "/api/v1/config", auth, nil)
		require.Equal(t, http.StatusOK, code)
		assert.NotContains(t, string(env.Data), "a-private.example")
		assert.NotContains(t, string(env.Data), "a-secret-key")
	}

	code, _ = s.do(http.MethodPost, "/api/v1/config/save", bob, nil)
	require.Equal(t, http.StatusOK, code)

	saved, err := s.engine.Backend.Configs.Get(context.Background(), "user-b")
	require.NoError(t, err)
	assert.NotEqual(t, "https://a-private.example", saved.Config["api_endpoint"])
	assert.NotEqual(t, "a-secret-key", saved.Config["remote_backend_key"])

	code, env = s.do(http.MethodGet, "/api/v1/config", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "a-secret-key")
}

func TestRouter_Activity(t *testing.T) {
	s := newTestServer(t, testConfig())

	code, _ := s.do(http.MethodPost, "/api/v1/activity", "", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPost, "/api/v1/activity", "", []byte(`{"route":"/projects"}`))
	assert.Equal(t, http.StatusAccepted, code)

	code, _ = s.do(http.MethodPost, "/api/v1/activity", "", []byte(`{"action":"opened","route":"/projects/1"}`))
	assert.Equal(t, http.StatusAccepted, code)

	entries, err := s.engine.Activity.LocalEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "page_view", entries[0].Action)
	assert.Equal(t, "/projects", entries[0].Route)
	assert.Equal(t, "opened", entries[1].Action)
	assert.Equal(t, "/projects/1", entries[1].Route)
}

func TestRouter_ExportAndImportAnonymous(t *testing.T) {
	s := newTestServer(t, testConfig())

	code, _ := s.doSession(http.MethodPost, "/api/v1/migration/export", "", sessionX, nil)
	assert.Equal(t, http.StatusNotFound, code)

	s.doSession(http.MethodPut, "/api/v1/state", "", sessionX, []byte(`{"state":{"doc":1}}`))

	code, env := s.doSession(http.MethodPost, "/api/v1/migration/export", "", sessionX, nil)
	require.Equal(t, http.StatusOK, code)

	var exported struct {
		Package json.RawMessage `json:"package"`
		Code    string          `json:"code"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &exported))
	assert.Empty(t, exported.Code)

	code, _ = s.do(http.MethodPost, "/api/v1/migration/import", "", exported.Package)
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(http.MethodPost, "/api/v1/migration/import", "", []byte(`{"foo":1}`))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.NotEmpty(t, env.Error)
}

func TestRouter_RedeemCode(t *testing.T) {
	s := newTestServer(t, testConfig())
	auth := bearer(t, "user-1")

	code, _ := s.do(http.MethodPut, "/api/v1/state", auth, []byte(`{"state":{"doc":2}}`))
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(http.MethodPost, "/api/v1/migration/export", auth, nil)
	require.Equal(t, http.StatusOK, code)
	var exported struct {
		Code      string     `json:"code"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &exported))
	require.NotEmpty(t, exported.Code)
	assert.NotNil(t, exported.ExpiresAt)

	body := []byte(`{"code":"` + exported.Code + `"}`)
	code, _ = s.do(http.MethodPost, "/api/v1/migration/redeem", auth, body)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(http.MethodPost, "/api/v1/migration/redeem", auth, body)
	assert.Equal(t, http.StatusGone, code)

	code, _ = s.do(http.MethodPost, "/api/v1/migration/redeem", auth, []byte(`{"code":""}`))
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(http.MethodGet, "/api/v1/migration/history", auth, nil)
	require.Equal(t, http.StatusOK, code)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &records))
	assert.Len(t, records, 1)
}

func TestRouter_RedeemRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{RequestsPerMinute: 2, Enabled: true}
	s := newTestServer(t, cfg)

	body := []byte(`{"code":"ABCDEFGH"}`)
	code, _ := s.do(http.MethodPost, "/api/v1/migration/redeem", "", body)
	assert.Equal(t, http.StatusGone, code)
	code, _ = s.do(http.MethodPost, "/api/v1/migration/redeem", "", body)
	assert.Equal(t, http.StatusGone, code)
	code, _ = s.do(http.MethodPost, "/api/v1/migration/redeem", "", body)
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestRouter_RestoreAndHistoryRequireIdentity(t *testing.T) {
	s := newTestServer(t, testConfig())

	code, _ := s.do(http.MethodPost, "/api/v1/migration/restore", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = s.do(http.MethodGet, "/api/v1/migration/history", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	auth := bearer(t, "user-1")
	code, env := s.do(http.MethodPost, "/api/v1/migration/restore", auth, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"restored":true}`, string(env.Data))

	code, env = s.do(http.MethodGet, "/api/v1/migration/history", auth, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Data))

	code, _ = s.do(http.MethodGet, "/api/v1/migration/history?limit=abc", auth, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRouter_WebSocketRequiresToken(t *testing.T) {
	s := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/ws?token=bogus", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
