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

// Package catalog serves the per-provider schema documents shown by launch
// pages: GraphQL introspection results and OpenAPI descriptions.
//
// Documents are embedded in the binary and may be overridden from a directory
// holding <provider>.graphql.json and <provider>.openapi.json files. Every
// document is checked at load time so a broken catalog fails startup rather
// than the first browser request.
package catalog

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

const (
	graphQLSuffix = ".graphql.json"
	openAPISuffix = ".openapi.json"
)

//go:embed schemas/*.json
var embedded embed.FS

// Catalog holds validated schema documents keyed by provider.
type Catalog struct {
	graphql map[string][]byte
	openapi map[string][]byte
}

// Load reads the embedded documents and, when dir is set, overlays the
// documents found there.
func Load(ctx context.Context, dir string) (*Catalog, error) {
	c := &Catalog{
		graphql: make(map[string][]byte),
		openapi: make(map[string][]byte),
	}

	sub, err := fs.Sub(embedded, "schemas")
	if err != nil {
		return nil, err
	}
	if err := c.loadFS(ctx, sub); err != nil {
		return nil, fmt.Errorf("embedded catalog: %w", err)
	}

	if dir != "" {
		if err := c.loadFS(ctx, os.DirFS(dir)); err != nil {
			return nil, fmt.Errorf("catalog dir %s: %w", dir, err)
		}
	}
	return c, nil
}

func (c *Catalog) loadFS(ctx context.Context, fsys fs.FS) error {
	names, err := fs.Glob(fsys, "*.json")
	if err != nil {
		return err
	}
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		switch {
		case strings.HasSuffix(name, graphQLSuffix):
			provider := strings.TrimSuffix(name, graphQLSuffix)
			if err := validateIntrospection(data); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			c.graphql[provider] = data
		case strings.HasSuffix(name, openAPISuffix):
			provider := strings.TrimSuffix(name, openAPISuffix)
			if err := validateOpenAPI(ctx, data); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			c.openapi[provider] = data
		}
	}
	return nil
}

// GraphQLSchema returns the introspection result for provider.
func (c *Catalog) GraphQLSchema(provider string) ([]byte, bool) {
	data, ok := c.graphql[provider]
	return data, ok
}

// OpenAPI returns the OpenAPI document for provider.
func (c *Catalog) OpenAPI(provider string) ([]byte, bool) {
	data, ok := c.openapi[provider]
	return data, ok
}

// Providers lists every provider with at least one document.
func (c *Catalog) Providers() []string {
	seen := make(map[string]struct{})
	for p := range c.graphql {
		seen[p] = struct{}{}
	}
	for p := range c.openapi {
		seen[p] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// validateIntrospection accepts either {"data":{"__schema":...}} or a bare
// {"__schema":...} result.
func validateIntrospection(data []byte) error {
	var doc struct {
		Data *struct {
			Schema json.RawMessage `json:"__schema"`
		} `json:"data"`
		Schema json.RawMessage `json:"__schema"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid introspection JSON: %w", err)
	}
	schema := doc.Schema
	if doc.Data != nil && len(doc.Data.Schema) > 0 {
		schema = doc.Data.Schema
	}
	if len(schema) == 0 || bytes.Equal(schema, []byte("null")) {
		return fmt.Errorf("introspection result has no __schema")
	}

	var s struct {
		QueryType *struct {
			Name string `json:"name"`
		} `json:"queryType"`
		Types []json.RawMessage `json:"types"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return fmt.Errorf("invalid __schema: %w", err)
	}
	if s.QueryType == nil || s.QueryType.Name == "" {
		return fmt.Errorf("__schema has no queryType")
	}
	if len(s.Types) == 0 {
		return fmt.Errorf("__schema has no types")
	}
	return nil
}

func validateOpenAPI(ctx context.Context, data []byte) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	loader.Context = ctx

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("invalid OpenAPI document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return fmt.Errorf("OpenAPI validation failed: %w", err)
	}
	return nil
}
