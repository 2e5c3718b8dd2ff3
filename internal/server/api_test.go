// ABOUTME: End-to-end HTTP tests over httptest covering the dispatch state machine
// ABOUTME: Uses the mock store and a stub chat client; no network or database required

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/gatekeep/internal/auth"
	"github.com/2389/gatekeep/internal/config"
	"github.com/2389/gatekeep/internal/nlq"
	"github.com/2389/gatekeep/internal/ratelimit"
	"github.com/2389/gatekeep/internal/store"
	"github.com/2389/gatekeep/internal/tools"
)

const testSecret = "test-secret-test-secret-test-secret!"

// stubChat returns a fixed completion, or an error when set.
type stubChat struct {
	content string
	err     error
}

func (c *stubChat) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if c.err != nil {
		return openai.ChatCompletionResponse{}, c.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: c.content}},
		},
	}, nil
}

func (c *stubChat) ListModels(_ context.Context) (openai.ModelsList, error) {
	if c.err != nil {
		return openai.ModelsList{}, c.err
	}
	return openai.ModelsList{}, nil
}

// testEnv bundles a fully wired server with its collaborators for assertions.
type testEnv struct {
	server   *Server
	store    *store.MockStore
	verifier *auth.JWTVerifier
	chat     *stubChat
}

// envOption tweaks the default test wiring.
type envOption func(*config.Config)

func withCeiling(n int) envOption {
	return func(cfg *config.Config) { cfg.RateLimit.Ceiling = n }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = ":0"
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.TokenTTL = time.Hour
	cfg.RateLimit.Ceiling = 1000
	cfg.RateLimit.KeyPolicy = "principal"
	cfg.RateLimit.Window = time.Minute
	for _, opt := range opts {
		opt(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := store.NewMockStore()
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	require.NoError(t, err)
	st.SeedCredential(1, "admin", hash)

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	require.NoError(t, err)

	limiter := ratelimit.New(cfg.RateLimit.Ceiling, cfg.RateLimit.Window)
	t.Cleanup(limiter.Close)

	chat := &stubChat{content: "{}"}
	translator := nlq.NewTranslatorWithClient(chat, "test-model", time.Second, logger)

	registry := tools.NewRegistry(logger)
	for _, d := range tools.UserTools(st, translator) {
		require.NoError(t, registry.Register(d))
	}

	return &testEnv{
		server:   New(cfg, logger, st, verifier, limiter, registry, translator),
		store:    st,
		verifier: verifier,
		chat:     chat,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Username: "admin", Password: "password"})
	require.Equal(t, http.StatusOK, rec.Code, "login body: %s", rec.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

// errorEnvelope decodes the structured error response.
func errorEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (kind, message string) {
	t.Helper()
	var envelope struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Kind, envelope.Error.Message
}

func TestLoginAndVerify(t *testing.T) {
	env := newTestEnv(t)

	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/auth/verify", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Valid)
	assert.Equal(t, int64(1), resp.User.ID)
	assert.Equal(t, "admin", resp.User.Username)
}

func TestLoginBadPassword(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Username: "admin", Password: "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	kind, message := errorEnvelope(t, rec)
	assert.Equal(t, KindInvalidCredentials, kind)
	assert.Equal(t, "invalid credentials", message)

	// Unknown user reads identically to a wrong password
	rec = env.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Username: "nobody", Password: "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	kind2, message2 := errorEnvelope(t, rec)
	assert.Equal(t, kind, kind2)
	assert.Equal(t, message, message2)
}

func TestCallToolHappyPath(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodPost, "/tools/call", token, CallToolRequest{
		Name: "insert_user",
		Arguments: map[string]any{
			"username": "test_user",
			"email":    "test@example.com",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodPost, "/tools/call", token, CallToolRequest{Name: "get_users", Arguments: map[string]any{}})
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Users []store.User `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Users, 1)
	assert.Equal(t, "test_user", result.Users[0].Username)
}

func TestCallToolDuplicateUserConflicts(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	call := CallToolRequest{
		Name: "insert_user",
		Arguments: map[string]any{
			"username": "test_user",
			"email":    "test@example.com",
		},
	}

	rec := env.do(t, http.MethodPost, "/tools/call", token, call)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/tools/call", token, call)
	require.Equal(t, http.StatusConflict, rec.Code)
	kind, _ := errorEnvelope(t, rec)
	assert.Equal(t, KindConflict, kind)
}

func TestCallToolRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/tools/call", "", CallToolRequest{Name: "get_users"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	kind, _ := errorEnvelope(t, rec)
	assert.Equal(t, KindMalformed, kind)
}

func TestCallToolExpiredToken(t *testing.T) {
	env := newTestEnv(t)

	// Same secret, negative lifetime: issues tokens that are already expired
	expiredIssuer, err := auth.NewJWTVerifier([]byte(testSecret), -time.Minute)
	require.NoError(t, err)
	token, err := expiredIssuer.Issue(auth.Principal{ID: 1, Username: "admin"})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/tools/call", token, CallToolRequest{Name: "get_users", Arguments: map[string]any{}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	kind, _ := errorEnvelope(t, rec)
	assert.Equal(t, KindExpired, kind)
}

func TestCallToolBadSignature(t *testing.T) {
	env := newTestEnv(t)

	otherIssuer, err := auth.NewJWTVerifier([]byte("another-secret-another-secret-another"), time.Hour)
	require.NoError(t, err)
	token, err := otherIssuer.Issue(auth.Principal{ID: 1, Username: "admin"})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/tools/call", token, CallToolRequest{Name: "get_users", Arguments: map[string]any{}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	kind, _ := errorEnvelope(t, rec)
	assert.Equal(t, KindBadSignature, kind)
}

func TestCallToolUnknownTool(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodPost, "/tools/call", token, CallToolRequest{Name: "drop_database", Arguments: map[string]any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	kind, _ := errorEnvelope(t, rec)
	assert.Equal(t, KindUnknownTool, kind)
}

func TestCallToolInvalidArguments(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	// Missing email and wrong type for username: both fields reported
	rec := env.do(t, http.MethodPost, "/tools/call", token, CallToolRequest{
		Name:      "insert_user",
		Arguments: map[string]any{"username": 42},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope struct {
		Error struct {
			Kind    string `json:"kind"`
			Details []struct {
				Field   string `json:"field"`
				Message string `json:"message"`
			} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, KindInvalidArguments, envelope.Error.Kind)
	assert.GreaterOrEqual(t, len(envelope.Error.Details), 2)
}

func TestQueryWithLLMUnsafeProposalRejected(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	// The model responds to "drop all users" with destructive SQL; the gate
	// refuses and the store never executes anything
	env.chat.content = "DELETE FROM users; --"

	rec := env.do(t, http.MethodPost, "/tools/call", token, CallToolRequest{
		Name:      "query_with_llm",
		Arguments: map[string]any{"query": "drop all users"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	kind, message := errorEnvelope(t, rec)
	assert.Equal(t, KindUnsafeQuery, kind)
	assert.NotContains(t, message, "DELETE")
	assert.Empty(t, env.store.SearchCalls)
}

func TestQueryWithLLMHappyPath(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	env.chat.content = `{"select":["username","email"],"where":[{"column":"username","op":"contains","value":"ali"}],"limit":10}`
	env.store.SearchResults = []map[string]any{{"username": "alice", "email": "alice@example.com"}}

	rec := env.do(t, http.MethodPost, "/tools/call", token, CallToolRequest{
		Name:      "query_with_llm",
		Arguments: map[string]any{"query": "find users named ali"},
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var result struct {
		Count int              `json:"count"`
		Users []map[string]any `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Count)
	require.Len(t, env.store.SearchCalls, 1)
}

func TestQueryWithLLMUpstreamTimeout(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	env.chat.err = context.DeadlineExceeded

	rec := env.do(t, http.MethodPost, "/tools/call", token, CallToolRequest{
		Name:      "query_with_llm",
		Arguments: map[string]any{"query": "anything"},
	})
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	kind, _ := errorEnvelope(t, rec)
	assert.Equal(t, KindUpstreamTimeout, kind)
}

func TestRateLimitCeiling(t *testing.T) {
	env := newTestEnv(t, withCeiling(3))
	token := env.login(t) // consumes one remote-keyed slot, not the principal's

	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodGet, "/tools", token, nil)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := env.do(t, http.MethodGet, "/tools", token, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	kind, _ := errorEnvelope(t, rec)
	assert.Equal(t, KindRateLimitExceeded, kind)

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, 60)
}

func TestRateLimitAppliesWithoutAuth(t *testing.T) {
	env := newTestEnv(t, withCeiling(2))

	// Unauthenticated callers burn the remote-address budget; once it is
	// gone the throttle answers before authentication does
	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/tools/call", "", CallToolRequest{Name: "get_users"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/tools/call", "", CallToolRequest{Name: "get_users"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	kind, _ := errorEnvelope(t, rec)
	assert.Equal(t, KindRateLimitExceeded, kind)
}

func TestListTools(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/tools", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListToolsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tools, 6)

	names := make([]string, 0, len(resp.Tools))
	for _, tool := range resp.Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
		assert.NotEmpty(t, tool.InputSchema)
	}
	assert.Contains(t, names, "insert_user")
	assert.Contains(t, names, "query_with_llm")
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "connected", resp.Database)
}

func TestHealthDatabaseDown(t *testing.T) {
	env := newTestEnv(t)
	env.store.PingErr = errors.New("connection refused")

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "unreachable", resp.Database)
}

func TestHealthLLMDownDegrades(t *testing.T) {
	env := newTestEnv(t)
	env.chat.err = errors.New("connection refused")

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unavailable", resp.LLM)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/tools/call", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = env.do(t, http.MethodPost, "/health", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
