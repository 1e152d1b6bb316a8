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

package upstream

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	wberrors "github.com/tombee/workbench/pkg/errors"
)

// Body encodings reported in RESTResponse.BodyEncoding.
const (
	EncodingNone   = "none"
	EncodingJSON   = "json"
	EncodingText   = "text"
	EncodingBase64 = "base64"
)

// strippedHeaders never reach the browser.
var strippedHeaders = map[string]struct{}{
	"set-cookie":          {},
	"set-cookie2":         {},
	"www-authenticate":    {},
	"authorization":       {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"connection":          {},
	"keep-alive":          {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"content-length":      {},
}

// GraphQLResponse is a provider's GraphQL response envelope.
type GraphQLResponse struct {
	Data       json.RawMessage `json:"data"`
	Errors     json.RawMessage `json:"errors,omitempty"`
	Extensions json.RawMessage `json:"extensions,omitempty"`
}

// DecodeGraphQL parses a GraphQL response body. The body must be a JSON
// object.
func DecodeGraphQL(provider string, resp *Response) (*GraphQLResponse, error) {
	trimmed := bytes.TrimSpace(resp.Body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, invalidResponse(provider, resp.Status, fmt.Errorf("graphql response is not a JSON object"))
	}
	var out GraphQLResponse
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, invalidResponse(provider, resp.Status, err)
	}
	if len(out.Data) == 0 {
		out.Data = json.RawMessage("null")
	}
	return &out, nil
}

// RESTResponse is what the REST proxy returns to the browser.
type RESTResponse struct {
	Status       int               `json:"status"`
	Headers      map[string]string `json:"headers"`
	Body         any               `json:"body"`
	BodyEncoding string            `json:"bodyEncoding"`
}

// NewRESTResponse sanitizes headers and encodes the body of resp.
func NewRESTResponse(resp *Response) *RESTResponse {
	out := &RESTResponse{
		Status:  resp.Status,
		Headers: SanitizeHeaders(resp.Header),
	}
	out.Body, out.BodyEncoding = encodeBody(resp.Header.Get("Content-Type"), resp.Body)
	return out
}

// SanitizeHeaders drops credential and hop-by-hop headers, including any
// named by Connection, and flattens the rest to lowercase keys.
func SanitizeHeaders(h http.Header) map[string]string {
	drop := make(map[string]struct{})
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				drop[strings.ToLower(name)] = struct{}{}
			}
		}
	}

	out := make(map[string]string, len(h))
	for name, values := range h {
		lower := strings.ToLower(name)
		if _, ok := strippedHeaders[lower]; ok {
			continue
		}
		if _, ok := drop[lower]; ok {
			continue
		}
		out[lower] = strings.Join(values, ", ")
	}
	return out
}

func encodeBody(contentType string, body []byte) (any, string) {
	if len(body) == 0 {
		return nil, EncodingNone
	}
	if isJSONContentType(contentType) && json.Valid(body) {
		return json.RawMessage(body), EncodingJSON
	}
	if utf8.Valid(body) {
		return string(body), EncodingText
	}
	return base64.StdEncoding.EncodeToString(body), EncodingBase64
}

func isJSONContentType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func invalidResponse(provider string, status int, cause error) error {
	return &wberrors.UpstreamError{
		Provider:   provider,
		Reason:     ReasonInvalidResponse,
		StatusCode: status,
		Cause:      cause,
	}
}
