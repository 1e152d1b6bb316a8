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
Package upstream performs the gateway's calls to provider APIs.

The client composes transport layers around a TLS 1.2+ base transport:

  - request logging with sanitized URLs (sensitive query params redacted)
  - User-Agent header injection
  - correlation ID propagation

Redirects are never followed and nothing is retried. Every call runs under a
context deadline, and response bodies are capped. Failures are reported as
*errors.UpstreamError with a stable Reason.

Example usage:

	client, err := upstream.New(upstream.DefaultConfig())
	if err != nil {
	    return err
	}

	resp, err := client.Do(ctx, &upstream.Request{
	    Provider: "github",
	    Kind:     upstream.KindGraphQL,
	    Method:   http.MethodPost,
	    URL:      "https://api.github.com/graphql",
	    Body:     body,
	})
*/
package upstream
