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

/*
Package tracing carries correlation ids and OpenTelemetry spans through the
gateway.

# Correlation IDs

Every inbound request gets a correlation id: the caller's X-Correlation-ID
(or X-Request-ID) when it is a valid UUID, a fresh one otherwise. The id is
echoed on the response, attached to log lines and forwarded on upstream
calls.

# Spans

NewProvider builds an SDK tracer provider with one exporter:

	console    - stdout, for development
	otlp       - OTLP over gRPC
	otlp_http  - OTLP over HTTP

When tracing is disabled the provider hands out no-op tracers, so callers
never branch on configuration.
*/
package tracing
