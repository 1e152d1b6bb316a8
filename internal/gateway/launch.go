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
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"path"

	"github.com/tombee/workbench/internal/session"
)

// Headers applied to launch pages.
const (
	launchCSP = "default-src 'none'; script-src 'self'; style-src 'self'; img-src 'self' data:; " +
		"font-src 'self'; connect-src 'self'; base-uri 'none'; form-action 'none'; frame-ancestors 'none'"

	// SessionHeader carries the session id on schema and openapi requests.
	SessionHeader = "X-Workbench-Session"
)

//go:embed web/templates/*.html web/assets/*
var webFS embed.FS

var launchTemplate = template.Must(template.ParseFS(webFS, "web/templates/launch.html"))

var assetsFS = mustSub(webFS, "web/assets")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

type launchPage struct {
	Kind      string
	Title     string
	Initiator string
}

var launchTitles = map[session.Kind]string{
	session.KindGraphQL: "GraphQL Explorer",
	session.KindOpenAPI: "REST Explorer",
}

// handleLaunch renders the explorer shell. The session id travels in the URL
// fragment and is read by the page script, so it never reaches the server
// here.
func (g *Gateway) handleLaunch(w http.ResponseWriter, r *http.Request) error {
	kind := session.Kind(r.PathValue("kind"))
	if !kind.Valid() {
		return notFound()
	}

	p, err := g.authenticate(r)
	if err != nil {
		return err
	}
	if err := g.admit(p); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := launchTemplate.Execute(&buf, launchPage{
		Kind:      string(kind),
		Title:     launchTitles[kind],
		Initiator: p.InitiatorID,
	}); err != nil {
		return err
	}

	h := w.Header()
	h.Set("Content-Security-Policy", launchCSP)
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(buf.Bytes())
	return err
}

func (g *Gateway) handleSchema(w http.ResponseWriter, r *http.Request) error {
	return g.serveCatalog(w, r, session.KindGraphQL, g.Catalog.GraphQLSchema)
}

func (g *Gateway) handleOpenAPI(w http.ResponseWriter, r *http.Request) error {
	return g.serveCatalog(w, r, session.KindOpenAPI, g.Catalog.OpenAPI)
}

// serveCatalog returns a schema document for the session's provider.
func (g *Gateway) serveCatalog(w http.ResponseWriter, r *http.Request, kind session.Kind, lookup func(string) ([]byte, bool)) error {
	p, err := g.authenticate(r)
	if err != nil {
		return err
	}
	if err := g.admit(p); err != nil {
		return err
	}

	// The id is only read from the header so it never lands in access logs.
	s, err := g.lookupSession(r, r.Header.Get(SessionHeader), p, kind)
	if err != nil {
		return err
	}
	if s.Provider != r.PathValue("provider") {
		return newAPIError(http.StatusForbidden, CodeProviderMismatch, "")
	}

	doc, ok := lookup(s.Provider)
	if !ok {
		return notFound()
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(doc)
	return err
}

// handleAsset serves embedded static files to any authenticated principal.
func (g *Gateway) handleAsset(w http.ResponseWriter, r *http.Request) error {
	if _, err := g.authenticate(r); err != nil {
		return err
	}
	name := path.Clean(r.PathValue("path"))
	if !fs.ValidPath(name) || name == "." {
		return notFound()
	}
	if _, err := fs.Stat(assetsFS, name); err != nil {
		return notFound()
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFileFS(w, r, assetsFS, name)
	return nil
}
