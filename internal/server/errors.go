// ABOUTME: Error taxonomy and the structured error envelope for API responses.
// ABOUTME: Maps internal errors onto stable kinds; internal faults expose no detail.

package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/2389/gatekeep/internal/auth"
	"github.com/2389/gatekeep/internal/nlq"
	"github.com/2389/gatekeep/internal/store"
	"github.com/2389/gatekeep/internal/tools"
)

// Error kinds exposed in the response envelope. Clients dispatch on these;
// the strings are part of the API contract.
const (
	KindInvalidCredentials  = "InvalidCredentials"
	KindExpired             = "Expired"
	KindMalformed           = "Malformed"
	KindBadSignature        = "BadSignature"
	KindRateLimitExceeded   = "RateLimitExceeded"
	KindUnknownTool         = "UnknownTool"
	KindInvalidArguments    = "InvalidArguments"
	KindUnsafeQuery         = "UnsafeQuery"
	KindUpstreamTimeout     = "UpstreamTimeout"
	KindUpstreamUnavailable = "UpstreamUnavailable"
	KindNotFound            = "NotFound"
	KindConflict            = "Conflict"
	KindInternalFailure     = "InternalFailure"
)

// apiError is a terminal dispatch failure ready to be written as a response.
type apiError struct {
	status  int
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func newAPIError(status int, kind, message string) *apiError {
	return &apiError{status: status, Kind: kind, Message: message}
}

// mapToolError translates a tool execution or pipeline error onto the
// taxonomy. Unrecognized errors collapse into InternalFailure with no
// internal detail exposed; the caller logs the original.
func mapToolError(err error) *apiError {
	var argErr *tools.ArgumentError
	switch {
	case errors.As(err, &argErr):
		e := newAPIError(http.StatusBadRequest, KindInvalidArguments, "invalid tool arguments")
		e.Details = argErr.Fields
		return e
	case errors.Is(err, tools.ErrUnknownTool):
		return newAPIError(http.StatusBadRequest, KindUnknownTool, err.Error())
	case errors.Is(err, nlq.ErrUnsafeQuery):
		// The wrapped reason is one of the gate's fixed strings, never model text
		return newAPIError(http.StatusBadRequest, KindUnsafeQuery, err.Error())
	case errors.Is(err, nlq.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusGatewayTimeout, KindUpstreamTimeout, "upstream call timed out")
	case errors.Is(err, nlq.ErrUpstreamUnavailable):
		return newAPIError(http.StatusBadGateway, KindUpstreamUnavailable, "upstream unavailable")
	case errors.Is(err, store.ErrDuplicate):
		return newAPIError(http.StatusConflict, KindConflict, store.ErrDuplicate.Error())
	case errors.Is(err, store.ErrNotFound):
		return newAPIError(http.StatusNotFound, KindNotFound, "user not found")
	case errors.Is(err, store.ErrNoFields):
		return newAPIError(http.StatusBadRequest, KindInvalidArguments, store.ErrNoFields.Error())
	default:
		return newAPIError(http.StatusInternalServerError, KindInternalFailure, "internal server error")
	}
}

// mapAuthError translates a token verification failure onto the taxonomy.
func mapAuthError(err error) *apiError {
	switch {
	case errors.Is(err, auth.ErrExpired):
		return newAPIError(http.StatusUnauthorized, KindExpired, "token expired")
	case errors.Is(err, auth.ErrBadSignature):
		return newAPIError(http.StatusUnauthorized, KindBadSignature, "bad token signature")
	default:
		return newAPIError(http.StatusUnauthorized, KindMalformed, "malformed token")
	}
}
