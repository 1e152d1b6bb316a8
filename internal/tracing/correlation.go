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

package tracing

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationID identifies one inbound request across logs and upstream calls.
type CorrelationID string

type correlationKeyType struct{}

var correlationKey = correlationKeyType{}

const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID"
)

// NewCorrelationID generates a random UUID.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

func (c CorrelationID) String() string {
	return string(c)
}

// IsValid reports whether c is a UUID.
func (c CorrelationID) IsValid() bool {
	_, err := uuid.Parse(string(c))
	return err == nil && len(c) == 36
}

// ToContext stores id in ctx.
func ToContext(ctx context.Context, id CorrelationID) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// FromContextOrEmpty returns the id stored in ctx, or "".
func FromContextOrEmpty(ctx context.Context) CorrelationID {
	if id, ok := ctx.Value(correlationKey).(CorrelationID); ok {
		return id
	}
	return ""
}

// IDFromContext is FromContextOrEmpty as a plain string, for log middleware.
func IDFromContext(ctx context.Context) string {
	return FromContextOrEmpty(ctx).String()
}

// fromRequest returns the caller-supplied id when it is a valid UUID.
func fromRequest(r *http.Request) (CorrelationID, bool) {
	for _, h := range []string{HeaderCorrelationID, HeaderRequestID} {
		if v := r.Header.Get(h); v != "" {
			id := CorrelationID(v)
			return id, id.IsValid()
		}
	}
	return "", false
}

// CorrelationMiddleware assigns a correlation id to every request and echoes
// it on the response. Malformed caller ids are replaced, never rejected.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := fromRequest(r)
		if !ok {
			id = NewCorrelationID()
		}
		w.Header().Set(HeaderCorrelationID, id.String())
		next.ServeHTTP(w, r.WithContext(ToContext(r.Context(), id)))
	})
}

// CorrelationRoundTripper forwards the context's correlation id on outbound
// requests.
type CorrelationRoundTripper struct {
	Transport http.RoundTripper
}

func (t *CorrelationRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if id := FromContextOrEmpty(req.Context()); id != "" {
		req = req.Clone(req.Context())
		req.Header.Set(HeaderCorrelationID, id.String())
	}
	transport := t.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return transport.RoundTrip(req)
}
