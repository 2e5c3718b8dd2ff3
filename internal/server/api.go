// ABOUTME: HTTP handlers implementing the per-request dispatch state machine.
// ABOUTME: Every request runs auth, throttling, tool resolution, and validation in order.

package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/2389/gatekeep/internal/auth"
)

// LoginRequest is the JSON request body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token string         `json:"token"`
	User  auth.Principal `json:"user"`
}

// VerifyResponse is the JSON response for GET /auth/verify.
type VerifyResponse struct {
	Valid bool           `json:"valid"`
	User  auth.Principal `json:"user"`
}

// ToolSummary is one entry of the GET /tools listing.
type ToolSummary struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	ReadOnly    bool            `json:"read_only"`
}

// ListToolsResponse is the JSON response for GET /tools.
type ListToolsResponse struct {
	Tools []ToolSummary `json:"tools"`
}

// CallToolRequest is the JSON request body for POST /tools/call.
type CallToolRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	LLM      string `json:"llm"`
}

// authenticate verifies the bearer token on a request. A nil principal with
// a non-nil apiError means the Authenticated state failed.
func (s *Server) authenticate(r *http.Request) (*auth.Principal, *apiError) {
	token, errMsg := auth.ExtractBearer(r.Header.Get("Authorization"))
	if errMsg != "" {
		return nil, newAPIError(http.StatusUnauthorized, KindMalformed, errMsg)
	}

	principal, err := s.verifier.Verify(token)
	if err != nil {
		return nil, mapAuthError(err)
	}
	return principal, nil
}

// clientKey derives the throttling key for a request. With the "principal"
// policy an authenticated caller is keyed by identity, everyone else by
// remote address; the "remote" policy always uses the address.
func (s *Server) clientKey(r *http.Request, principal *auth.Principal) string {
	if s.cfg.RateLimit.KeyPolicy == "principal" && principal != nil {
		return fmt.Sprintf("principal:%d", principal.ID)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "remote:" + host
}

// throttle runs the rate-limit check for a request. Rejections carry a
// Retry-After hint equal to the remaining window time.
func (s *Server) throttle(w http.ResponseWriter, r *http.Request, principal *auth.Principal) *apiError {
	ok, retryAfter := s.limiter.Allow(s.clientKey(r, principal))
	if ok {
		return nil
	}
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	e := newAPIError(http.StatusTooManyRequests, KindRateLimitExceeded, "rate limit exceeded")
	e.Details = map[string]any{"retry_after_seconds": seconds}
	return e
}

// handleLogin handles POST /auth/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// Unauthenticated flooding of the login endpoint is still bounded
	if apiErr := s.throttle(w, r, nil); apiErr != nil {
		s.writeError(w, r, apiErr)
		return
	}

	var req LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, newAPIError(http.StatusBadRequest, KindInvalidArguments, "invalid JSON payload"))
		return
	}
	if req.Username == "" || req.Password == "" {
		s.writeError(w, r, newAPIError(http.StatusBadRequest, KindInvalidArguments, "username and password are required"))
		return
	}

	principal, err := s.authn.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		// Uniform message regardless of whether the username exists
		s.writeError(w, r, newAPIError(http.StatusUnauthorized, KindInvalidCredentials, "invalid credentials"))
		return
	}

	token, err := s.verifier.Issue(*principal)
	if err != nil {
		s.logger.Error("issuing token", "error", err)
		s.writeError(w, r, newAPIError(http.StatusInternalServerError, KindInternalFailure, "internal server error"))
		return
	}

	s.writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: *principal})
}

// handleVerify handles GET /auth/verify.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	principal, authErr := s.authenticate(r)
	if apiErr := s.throttle(w, r, principal); apiErr != nil {
		s.writeError(w, r, apiErr)
		return
	}
	if authErr != nil {
		s.writeError(w, r, authErr)
		return
	}

	s.writeJSON(w, http.StatusOK, VerifyResponse{Valid: true, User: *principal})
}

// handleListTools handles GET /tools.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	principal, authErr := s.authenticate(r)
	if apiErr := s.throttle(w, r, principal); apiErr != nil {
		s.writeError(w, r, apiErr)
		return
	}
	if authErr != nil {
		s.writeError(w, r, authErr)
		return
	}

	descriptors := s.registry.List()
	resp := ListToolsResponse{Tools: make([]ToolSummary, 0, len(descriptors))}
	for _, d := range descriptors {
		resp.Tools = append(resp.Tools, ToolSummary{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
			ReadOnly:    d.ReadOnly,
		})
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleCallTool handles POST /tools/call. State transitions run strictly in
// order; any failure is terminal and produces an error response. The throttle
// check runs even when authentication failed, so unauthenticated flooding is
// still bounded, with the rate-limit rejection taking precedence.
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rid := uuid.NewString()
	w.Header().Set("X-Request-ID", rid)
	logger := s.logger.With("request_id", rid)

	// Received -> Authenticated
	principal, authErr := s.authenticate(r)

	// -> Throttled
	if apiErr := s.throttle(w, r, principal); apiErr != nil {
		s.writeError(w, r, apiErr)
		return
	}
	if authErr != nil {
		s.writeError(w, r, authErr)
		return
	}

	var req CallToolRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, newAPIError(http.StatusBadRequest, KindInvalidArguments, "invalid JSON payload"))
		return
	}
	if req.Name == "" {
		s.writeError(w, r, newAPIError(http.StatusBadRequest, KindInvalidArguments, "tool name is required"))
		return
	}

	// -> ToolResolved
	descriptor, err := s.registry.Lookup(req.Name)
	if err != nil {
		s.writeError(w, r, mapToolError(err))
		return
	}

	// -> ArgumentsValidated
	if err := descriptor.ValidateArguments(req.Arguments); err != nil {
		s.writeError(w, r, mapToolError(err))
		return
	}

	// -> [Translated -> Sanitized] -> Executed
	ctx := auth.WithPrincipal(r.Context(), principal)
	result, err := descriptor.Handler(ctx, req.Arguments)
	if err != nil {
		apiErr := mapToolError(err)
		if apiErr.Kind == KindInternalFailure {
			logger.Error("tool execution failed", "tool", req.Name, "error", err)
		} else {
			logger.Info("tool call rejected", "tool", req.Name, "kind", apiErr.Kind)
		}
		s.writeError(w, r, apiErr)
		return
	}

	// -> Responded
	logger.Debug("tool call completed", "tool", req.Name, "principal", principal.Username)
	s.writeJSON(w, http.StatusOK, result)
}

// handleHealth handles GET /health. Unauthenticated and unthrottled, it
// reports reachability of the data store and the language-model collaborator.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{Status: "healthy", Database: "connected", LLM: "connected"}
	status := http.StatusOK

	if err := s.store.Ping(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}

	// A down model degrades the natural-language tool but not the service
	if err := s.translator.Ping(r.Context()); err != nil {
		resp.LLM = "unavailable"
	}

	s.writeJSON(w, status, resp)
}

// decodeBody decodes a bounded JSON request body, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

// writeError writes the structured error envelope.
func (s *Server) writeError(w http.ResponseWriter, _ *http.Request, e *apiError) {
	s.writeJSON(w, e.status, map[string]*apiError{"error": e})
}
