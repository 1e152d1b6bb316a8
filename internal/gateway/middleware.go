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
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/tombee/workbench/internal/metrics"
	"github.com/tombee/workbench/internal/policy"
)

// CORSConfig holds CORS settings for browser callers.
type CORSConfig struct {
	// AllowedMethods for preflight responses.
	// Default: ["GET", "POST", "DELETE", "OPTIONS"]
	AllowedMethods []string

	// AllowedHeaders for preflight responses.
	// Default: ["Content-Type", "Authorization", "X-Workbench-Session", "X-Correlation-ID"]
	AllowedHeaders []string

	// ExposedHeaders visible to browser code.
	ExposedHeaders []string

	// MaxAge in seconds for caching preflight results.
	// Default: 600
	MaxAge int
}

// DefaultCORSConfig returns the gateway's CORS settings.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Workbench-Session", "X-Correlation-ID"},
		ExposedHeaders: []string{"X-Correlation-ID", "Retry-After"},
		MaxAge:         600,
	}
}

// cors emits Access-Control-* headers only for origins the policy allows and
// answers preflight requests under /workbench/. Credentials are allowed so
// the session cookie is sent, which is why wildcards are never accepted.
func cors(pol *policy.SecurityPolicy, cfg CORSConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	exposed := strings.Join(cfg.ExposedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")

			allowed := pol.OriginAllowed(origin)
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				if exposed != "" {
					w.Header().Set("Access-Control-Expose-Headers", exposed)
				}
			}

			if r.Method == http.MethodOptions && strings.HasPrefix(r.URL.Path, "/workbench/") {
				if !allowed {
					writeAPIError(w, r, logger, forbidden(ReasonOriginNotAllowed), nil)
					return
				}
				w.Header().Set("Access-Control-Allow-Methods", methods)
				w.Header().Set("Access-Control-Allow-Headers", headers)
				if cfg.MaxAge > 0 {
					w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// recoverer turns handler panics into INTERNAL_ERROR.
func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.ErrorContext(r.Context(), "handler panic",
					slog.String("panic", fmt.Sprint(rec)),
					slog.String("stack", string(debug.Stack())),
				)
				writeAPIError(w, r, logger, newAPIError(http.StatusInternalServerError, CodeInternalError, ""), nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// securityHeaders applies to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status for per-route metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// handlerFunc is a route handler that reports failures as errors.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// route adapts fn to http.Handler, writing errors through the taxonomy and
// counting requests under the route name.
func (g *Gateway) route(name string, fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		if err := fn(rec, r); err != nil {
			writeAPIError(rec, r, g.logger, toAPIError(err), err)
		}

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordRequest(name, status)
	})
}
