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

// Package safeurl builds upstream request URLs from a server-configured base
// URL and a caller-supplied path. The caller chooses the path under the base;
// it can never choose the scheme, host or port.
package safeurl

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Rejection reasons.
const (
	ReasonInvalidBaseURL      = "INVALID_BASE_URL"
	ReasonPathRequired        = "PATH_REQUIRED"
	ReasonAbsoluteURL         = "ABSOLUTE_URL_NOT_ALLOWED"
	ReasonInvalidPathEncoding = "INVALID_PATH_ENCODING"
	ReasonEncodedSeparator    = "ENCODED_SEPARATOR_NOT_ALLOWED"
	ReasonBackslash           = "BACKSLASH_NOT_ALLOWED"
	ReasonControlCharacter    = "CONTROL_CHARACTER_NOT_ALLOWED"
	ReasonPathTraversal       = "PATH_TRAVERSAL"
	ReasonQueryInPath         = "QUERY_IN_PATH"
	ReasonEscapesBasePath     = "ESCAPES_BASE_PATH"
	ReasonPathNotAllowed      = "PATH_NOT_ALLOWED"
)

// Result is the outcome of Build. URL is set only when OK is true.
type Result struct {
	OK     bool   `json:"ok"`
	URL    string `json:"url,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func rejected(reason string) Result {
	return Result{Reason: reason}
}

var schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*:`)

// Build joins path under baseURL and appends query. It is a pure function.
func Build(baseURL, path string, query url.Values) Result {
	base, ok := parseBase(baseURL)
	if !ok {
		return rejected(ReasonInvalidBaseURL)
	}

	if strings.TrimSpace(path) == "" {
		return rejected(ReasonPathRequired)
	}
	if hasControl(path) {
		return rejected(ReasonControlCharacter)
	}
	if strings.Contains(path, `\`) {
		return rejected(ReasonBackslash)
	}
	if schemePrefix.MatchString(path) || strings.HasPrefix(path, "//") {
		return rejected(ReasonAbsoluteURL)
	}
	if strings.ContainsAny(path, "?#") {
		return rejected(ReasonQueryInPath)
	}

	lower := strings.ToLower(path)
	if strings.Contains(lower, "%2f") || strings.Contains(lower, "%5c") {
		return rejected(ReasonEncodedSeparator)
	}

	decoded, err := url.PathUnescape(path)
	if err != nil {
		return rejected(ReasonInvalidPathEncoding)
	}
	// a second decoding pass must be a no-op; anything else is double encoding
	if again, err := url.PathUnescape(decoded); err == nil && again != decoded {
		return rejected(ReasonInvalidPathEncoding)
	}
	if hasControl(decoded) {
		return rejected(ReasonControlCharacter)
	}

	for _, seg := range strings.Split(decoded, "/") {
		if seg == "." || seg == ".." {
			return rejected(ReasonPathTraversal)
		}
	}

	basePath := strings.TrimSuffix(base.Path, "/")
	out := &url.URL{
		Scheme: base.Scheme,
		Host:   base.Host,
		Path:   basePath + "/" + strings.TrimPrefix(decoded, "/"),
	}
	if len(query) > 0 {
		out.RawQuery = query.Encode()
	}

	emitted := out.String()
	if !withinBase(emitted, base, basePath) {
		return rejected(ReasonEscapesBasePath)
	}
	return Result{OK: true, URL: emitted}
}

// withinBase re-parses the URL that will be sent and checks it still names
// the base origin and a path under the base path once dot segments are
// resolved.
func withinBase(emitted string, base *url.URL, basePath string) bool {
	u, err := url.Parse(emitted)
	if err != nil {
		return false
	}
	if u.Scheme != base.Scheme || u.Host != base.Host || u.User != nil {
		return false
	}
	if !strings.HasPrefix(u.Path, "/") {
		return false
	}
	return strings.HasPrefix(path.Clean(u.Path)+"/", basePath+"/")
}

func parseBase(raw string) (*url.URL, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, false
	}
	if u.Host == "" || u.User != nil || u.Opaque != "" || u.RawQuery != "" || u.Fragment != "" {
		return nil, false
	}
	return u, true
}

func hasControl(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}

// PathAllowed reports whether path matches one of the doublestar patterns.
// Patterns are written relative to the base URL, e.g. "/repos/*/*/issues/**".
// An empty pattern list allows every path. Invalid patterns never match.
func PathAllowed(patterns []string, path string) bool {
	if len(patterns) == 0 {
		return true
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}
	path = "/" + strings.TrimLeft(path, "/")

	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// ValidPattern reports whether pattern is a usable allowlist pattern.
func ValidPattern(pattern string) bool {
	return strings.HasPrefix(pattern, "/") && doublestar.ValidatePattern(pattern)
}
