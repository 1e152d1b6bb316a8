// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tombee/workbench/internal/auth"
	"github.com/tombee/workbench/internal/limiter"
	"github.com/tombee/workbench/internal/log"
	"github.com/tombee/workbench/internal/metrics"
	"github.com/tombee/workbench/internal/secrets"
	"github.com/tombee/workbench/internal/session"
	"github.com/tombee/workbench/internal/tracing"
	wberrors "github.com/tombee/workbench/pkg/errors"
)

// Error codes returned in the "error" field.
const (
	CodeUnauthenticated            = "UNAUTHENTICATED"
	CodeForbidden                  = "FORBIDDEN"
	CodeRateLimited                = "RATE_LIMITED"
	CodeTooManyInFlight            = "TOO_MANY_IN_FLIGHT"
	CodeSessionNotFound            = "SESSION_NOT_FOUND"
	CodeSessionExpired             = "SESSION_EXPIRED"
	CodeQueryRejected              = "QUERY_REJECTED"
	CodeRequestRejected            = "REQUEST_REJECTED"
	CodeInputValidationFailed      = "INPUT_VALIDATION_FAILED"
	CodeInvalidJSON                = "INVALID_JSON"
	CodeBodyTooLarge               = "BODY_TOO_LARGE"
	CodeOpenBaoNotConfigured       = "OPENBAO_NOT_CONFIGURED"
	CodeInternalError              = "INTERNAL_ERROR"
	CodeSessionCookieNotConfigured = "SESSION_COOKIE_NOT_CONFIGURED"
	CodeInvalidSessionKind         = "INVALID_SESSION_KIND"
	CodeProviderMismatch           = "PROVIDER_MISMATCH"
	CodeUnknownProvider            = "UNKNOWN_PROVIDER"
	CodeProviderTokenUnavailable   = "PROVIDER_TOKEN_UNAVAILABLE"
	CodeUpstreamError              = "UPSTREAM_ERROR"
	CodeNotFound                   = "NOT_FOUND"
	CodeMethodNotAllowed           = "METHOD_NOT_ALLOWED"
)

// Reasons attached to FORBIDDEN.
const (
	ReasonOriginNotAllowed           = "ORIGIN_NOT_ALLOWED"
	ReasonMissingProviderRole        = "MISSING_PROVIDER_ROLE"
	ReasonMissingLaunchRole          = "MISSING_LAUNCH_ROLE"
	ReasonMissingGraphQLQueryRole    = "MISSING_GRAPHQL_QUERY_ROLE"
	ReasonMissingGraphQLMutationRole = "MISSING_GRAPHQL_MUTATION_ROLE"
	ReasonMissingRESTReadRole        = "MISSING_REST_READ_ROLE"
	ReasonMissingRESTWriteRole       = "MISSING_REST_WRITE_ROLE"
)

// ReasonInvalidSecretKey is attached to PROVIDER_TOKEN_UNAVAILABLE when the
// initiator id cannot address the secret store.
const ReasonInvalidSecretKey = "INVALID_SECRET_KEY"

// APIError is the JSON error body returned to callers.
type APIError struct {
	Status int    `json:"-"`
	Code   string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Hint   string `json:"hint,omitempty"`

	// RetryAfter sets the Retry-After header on 429 responses.
	RetryAfter time.Duration `json:"-"`
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return e.Code + ": " + e.Reason
	}
	return e.Code
}

func newAPIError(status int, code, reason string) *APIError {
	return &APIError{Status: status, Code: code, Reason: reason}
}

func forbidden(reason string) *APIError {
	return newAPIError(http.StatusForbidden, CodeForbidden, reason)
}

func invalidInput(reason string) *APIError {
	return newAPIError(http.StatusBadRequest, CodeInputValidationFailed, reason)
}

func notFound() *APIError {
	return newAPIError(http.StatusNotFound, CodeNotFound, "")
}

func rateLimited(retryAfter time.Duration) *APIError {
	e := newAPIError(http.StatusTooManyRequests, CodeRateLimited, "")
	e.RetryAfter = retryAfter
	return e
}

// toAPIError maps component errors onto the public taxonomy. Anything it
// does not recognize becomes INTERNAL_ERROR.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var maxBytes *http.MaxBytesError
	var upErr *wberrors.UpstreamError

	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return newAPIError(http.StatusUnauthorized, CodeUnauthenticated, "")
	case errors.Is(err, auth.ErrCookieNotConfigured):
		return &APIError{
			Status: http.StatusInternalServerError,
			Code:   CodeSessionCookieNotConfigured,
			Hint:   "set auth.cookie.secret (WORKBENCH_COOKIE_SECRET) to at least 32 bytes",
		}

	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrForbidden):
		// Foreign sessions are indistinguishable from missing ones.
		return newAPIError(http.StatusNotFound, CodeSessionNotFound, "")
	case errors.Is(err, session.ErrExpired):
		return newAPIError(http.StatusUnauthorized, CodeSessionExpired, "")
	case errors.Is(err, session.ErrMissingProviderRole):
		return forbidden(ReasonMissingProviderRole)
	case errors.Is(err, session.ErrMissingLaunchRole):
		return forbidden(ReasonMissingLaunchRole)
	case errors.Is(err, session.ErrInvalidKind):
		return invalidInput("INVALID_KIND")
	case errors.Is(err, session.ErrInvalidMode):
		return invalidInput("INVALID_MODE")

	case errors.Is(err, limiter.ErrTooManyInFlight):
		return &APIError{
			Status:     http.StatusTooManyRequests,
			Code:       CodeTooManyInFlight,
			RetryAfter: time.Second,
		}

	case errors.Is(err, secrets.ErrNotConfigured):
		return &APIError{
			Status: http.StatusInternalServerError,
			Code:   CodeOpenBaoNotConfigured,
			Hint:   "configure openbao.address (OPENBAO_ADDR) and openbao.token (OPENBAO_TOKEN)",
		}
	case errors.Is(err, secrets.ErrSecretNotFound):
		return &APIError{
			Status: http.StatusFailedDependency,
			Code:   CodeProviderTokenUnavailable,
			Hint:   "store a provider token for this initiator in the secret backend",
		}
	case errors.Is(err, secrets.ErrInvalidKey):
		return &APIError{
			Status: http.StatusFailedDependency,
			Code:   CodeProviderTokenUnavailable,
			Reason: ReasonInvalidSecretKey,
			Hint:   "the initiator id cannot be used as a secret store path; map identities to ids made of [A-Za-z0-9._@-]",
		}

	case errors.As(err, &upErr):
		return newAPIError(http.StatusBadGateway, CodeUpstreamError, upErr.Reason)
	case errors.As(err, &maxBytes):
		return newAPIError(http.StatusRequestEntityTooLarge, CodeBodyTooLarge, "")
	}

	return newAPIError(http.StatusInternalServerError, CodeInternalError, "")
}

// writeAPIError writes e and counts the rejection. 5xx errors are logged
// with their cause; the cause never reaches the response.
func writeAPIError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, e *APIError, cause error) {
	if id := tracing.IDFromContext(r.Context()); id != "" {
		logger = log.WithCorrelationID(logger, id)
	}
	if e.Status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("error_code", e.Code),
			log.Reason(e.Reason),
			log.Error(cause),
		)
	} else {
		logger.DebugContext(r.Context(), "request rejected",
			slog.String("error_code", e.Code),
			log.Reason(e.Reason),
		)
	}
	metrics.RecordRejection(e.Code, e.Reason)

	if e.RetryAfter > 0 {
		secs := int((e.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	writeJSON(w, e.Status, e)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", log.Error(err))
	}
}
