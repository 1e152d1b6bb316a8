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
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Request body schemas, compiled once.
var (
	sessionCreateSchema = mustCompileSchema("schemas/session_create.json")
	proxyGraphQLSchema  = mustCompileSchema("schemas/proxy_graphql.json")
	proxyRESTSchema     = mustCompileSchema("schemas/proxy_rest.json")
)

func mustCompileSchema(name string) *gojsonschema.Schema {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("read schema %s: %v", name, err))
	}
	schema, err := gojsonschema.NewSchemaLoader().Compile(gojsonschema.NewBytesLoader(data))
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

// decodeBody reads at most limit bytes, checks them against schema and
// decodes into v.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, schema *gojsonschema.Schema, v any) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return newAPIError(http.StatusRequestEntityTooLarge, CodeBodyTooLarge, "")
		}
		return newAPIError(http.StatusBadRequest, CodeInvalidJSON, "")
	}
	if !json.Valid(data) {
		return newAPIError(http.StatusBadRequest, CodeInvalidJSON, "")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return newAPIError(http.StatusBadRequest, CodeInvalidJSON, "")
	}
	if !result.Valid() {
		return invalidInput(describeSchemaErrors(result.Errors()))
	}

	if err := json.Unmarshal(data, v); err != nil {
		return invalidInput("")
	}
	return nil
}

// describeSchemaErrors names the first offending field, e.g. "kind: must be
// one of the following: \"graphql\", \"openapi\"".
func describeSchemaErrors(errs []gojsonschema.ResultError) string {
	if len(errs) == 0 {
		return ""
	}
	first := errs[0]
	field := first.Field()
	if field == "(root)" {
		field = ""
	}
	desc := first.Description()
	if field == "" {
		return desc
	}
	return strings.TrimPrefix(field, "(root).") + ": " + desc
}
