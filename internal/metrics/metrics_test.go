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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRequest(t *testing.T) {
	c := requests.WithLabelValues("POST /workbench/sessions", "200")
	before := testutil.ToFloat64(c)

	RecordRequest("POST /workbench/sessions", http.StatusOK)
	RecordRequest("POST /workbench/sessions", http.StatusOK)

	assert.Equal(t, before+2, testutil.ToFloat64(c))
}

func TestRecordRejection(t *testing.T) {
	c := rejections.WithLabelValues("QUERY_REJECTED", "MAX_DEPTH_EXCEEDED")
	before := testutil.ToFloat64(c)

	RecordRejection("QUERY_REJECTED", "MAX_DEPTH_EXCEEDED")

	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestUpstreamStarted(t *testing.T) {
	before := testutil.ToFloat64(upstreamInFlight)

	done := UpstreamStarted()
	assert.Equal(t, before+1, testutil.ToFloat64(upstreamInFlight))
	done()
	assert.Equal(t, before, testutil.ToFloat64(upstreamInFlight))
}

func TestSetActiveSessions(t *testing.T) {
	SetActiveSessions(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(activeSessions))
}

func TestHandler(t *testing.T) {
	ObserveUpstream("github", "graphql", "ok", 120*time.Millisecond)
	RecordAuthFailure()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "workbench_upstream_request_duration_seconds_bucket")
	assert.Contains(t, body, "workbench_auth_failures_total")
}
