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

package firewall

// Limits bounds the shape of an accepted document.
type Limits struct {
	MaxDocumentChars int `yaml:"max_document_chars" json:"maxDocumentChars"`
	MaxDepth         int `yaml:"max_depth" json:"maxDepth"`
	MaxAliases       int `yaml:"max_aliases" json:"maxAliases"`
	MaxSelections    int `yaml:"max_selections" json:"maxSelections"`
	MaxFragments     int `yaml:"max_fragments" json:"maxFragments"`
}

// DevelopmentLimits are generous enough for GraphiQL's own schema explorer.
func DevelopmentLimits() Limits {
	return Limits{
		MaxDocumentChars: 200_000,
		MaxDepth:         20,
		MaxAliases:       5000,
		MaxSelections:    20_000,
		MaxFragments:     1000,
	}
}

// ProductionLimits protect real provider quotas from untrusted operators.
func ProductionLimits() Limits {
	return Limits{
		MaxDocumentChars: 200_000,
		MaxDepth:         12,
		MaxAliases:       50,
		MaxSelections:    2000,
		MaxFragments:     100,
	}
}
