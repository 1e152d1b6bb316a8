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

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Embedded(t *testing.T) {
	c, err := Load(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, []string{"github", "gitlab", "jira"}, c.Providers())

	_, ok := c.GraphQLSchema("github")
	assert.True(t, ok)
	_, ok = c.GraphQLSchema("jira")
	assert.False(t, ok)

	doc, ok := c.OpenAPI("jira")
	require.True(t, ok)
	assert.Contains(t, string(doc), `"openapi"`)
}

func TestLoad_DirOverrides(t *testing.T) {
	dir := t.TempDir()
	override := `{"__schema":{"queryType":{"name":"Query"},"types":[{"kind":"OBJECT","name":"Query"}]}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "github.graphql.json"), []byte(override), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	c, err := Load(context.Background(), dir)
	require.NoError(t, err)

	got, ok := c.GraphQLSchema("github")
	require.True(t, ok)
	assert.JSONEq(t, override, string(got))
}

func TestLoad_AddsProviderFromDir(t *testing.T) {
	dir := t.TempDir()
	doc := `{
	  "openapi": "3.0.3",
	  "info": {"title": "Linear", "version": "1"},
	  "paths": {"/viewer": {"get": {"responses": {"200": {"description": "OK"}}}}}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "linear.openapi.json"), []byte(doc), 0o600))

	c, err := Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Contains(t, c.Providers(), "linear")
}

func TestLoad_RejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"introspection not json", "github.graphql.json", `{`},
		{"introspection without schema", "github.graphql.json", `{"data":{}}`},
		{"introspection without query type", "github.graphql.json", `{"data":{"__schema":{"types":[{}]}}}`},
		{"openapi not json", "jira.openapi.json", `{"openapi": [`},
		{"openapi missing info", "jira.openapi.json", `{"openapi":"3.0.3","paths":{}}`},
		{"openapi external ref", "jira.openapi.json", `{
		  "openapi": "3.0.3",
		  "info": {"title": "x", "version": "1"},
		  "paths": {"/a": {"get": {"responses": {"200": {"$ref": "https://example.com/r.json"}}}}}
		}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, tt.file), []byte(tt.content), 0o600))

			_, err := Load(context.Background(), dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.file)
		})
	}
}

func TestValidateIntrospection_AcceptsBothShapes(t *testing.T) {
	wrapped := []byte(`{"data":{"__schema":{"queryType":{"name":"Query"},"types":[{}]}}}`)
	bare := []byte(`{"__schema":{"queryType":{"name":"Query"},"types":[{}]}}`)

	assert.NoError(t, validateIntrospection(wrapped))
	assert.NoError(t, validateIntrospection(bare))
}
