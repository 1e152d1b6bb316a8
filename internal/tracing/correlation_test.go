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
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationMiddleware(t *testing.T) {
	valid := "8f14e45f-ceea-4e7a-9b2b-1f0c6a3b9e21"

	tests := []struct {
		name     string
		header   string
		value    string
		wantSame bool
	}{
		{"no header", "", "", false},
		{"valid correlation id", HeaderCorrelationID, valid, true},
		{"valid request id", HeaderRequestID, valid, true},
		{"malformed id replaced", HeaderCorrelationID, "<script>", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen CorrelationID
			h := CorrelationMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = FromContextOrEmpty(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.True(t, seen.IsValid())
			assert.Equal(t, seen.String(), rec.Header().Get(HeaderCorrelationID))
			if tt.wantSame {
				assert.Equal(t, tt.value, seen.String())
			} else {
				assert.NotEqual(t, tt.value, seen.String())
			}
		})
	}
}

func TestCorrelationRoundTripper(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(HeaderCorrelationID)
	}))
	defer srv.Close()

	client := &http.Client{Transport: &CorrelationRoundTripper{}}
	id := NewCorrelationID()
	req, err := http.NewRequestWithContext(ToContext(context.Background(), id), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, id.String(), got)
	assert.Empty(t, req.Header.Get(HeaderCorrelationID), "caller's request must not be mutated")
}

func TestIDFromContext(t *testing.T) {
	assert.Empty(t, IDFromContext(context.Background()))
	assert.Equal(t, "x", IDFromContext(ToContext(context.Background(), "x")))
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{})
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_Console(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewProvider(context.Background(), Config{Enabled: true, Exporter: ExporterConsole, Writer: &buf})
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "upstream.call")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "upstream.call")
}

func TestNewProvider_UnknownExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, Exporter: "zipkin"})
	assert.Error(t, err)
}
