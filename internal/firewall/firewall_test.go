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

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyze(t *testing.T) {
	prod := ProductionLimits()

	tests := []struct {
		name          string
		query         string
		operationName string
		introspection bool
		limits        Limits
		wantOK        bool
		wantReason    string
		wantType      string
	}{
		{
			name:     "simple query",
			query:    `query Viewer { viewer { login } }`,
			limits:   prod,
			wantOK:   true,
			wantType: OperationQuery,
		},
		{
			name:     "shorthand query",
			query:    `{ viewer { login } }`,
			limits:   prod,
			wantOK:   true,
			wantType: OperationQuery,
		},
		{
			name:     "mutation",
			query:    `mutation Star { addStar(input: {starrableId: "1"}) { clientMutationId } }`,
			limits:   prod,
			wantOK:   true,
			wantType: OperationMutation,
		},
		{
			name:       "parse error",
			query:      `query { viewer { login }`,
			limits:     prod,
			wantReason: ReasonParseError,
		},
		{
			name:       "fragments only",
			query:      `fragment F on User { login }`,
			limits:     prod,
			wantReason: ReasonNoOperation,
		},
		{
			name:       "several operations without name",
			query:      `query A { a } query B { b }`,
			limits:     prod,
			wantReason: ReasonOperationNameRequired,
		},
		{
			name:          "several operations with name",
			query:         `query A { a } mutation B { b }`,
			operationName: "B",
			limits:        prod,
			wantOK:        true,
			wantType:      OperationMutation,
		},
		{
			name:          "unknown operation name",
			query:         `query A { a }`,
			operationName: "Missing",
			limits:        prod,
			wantReason:    ReasonOperationNotFound,
		},
		{
			name:       "subscription",
			query:      `subscription S { events { id } }`,
			limits:     prod,
			wantReason: ReasonSubscriptionNotSupported,
			wantType:   OperationSubscription,
		},
		{
			name:       "schema introspection blocked",
			query:      `{ __schema { types { name } } }`,
			limits:     prod,
			wantReason: ReasonIntrospectionDisabled,
			wantType:   OperationQuery,
		},
		{
			name:       "type introspection inside fragment blocked",
			query:      `query Q { ...F } fragment F on Query { __type(name: "User") { name } }`,
			limits:     prod,
			wantReason: ReasonIntrospectionDisabled,
			wantType:   OperationQuery,
		},
		{
			name:          "introspection allowed",
			query:         `{ __schema { types { name } } }`,
			introspection: true,
			limits:        prod,
			wantOK:        true,
			wantType:      OperationQuery,
		},
		{
			name:     "typename is not introspection",
			query:    `{ viewer { __typename login } }`,
			limits:   prod,
			wantOK:   true,
			wantType: OperationQuery,
		},
		{
			name:       "fragment cycle",
			query:      `query Q { ...A } fragment A on Query { ...B } fragment B on Query { ...A }`,
			limits:     prod,
			wantReason: ReasonFragmentCycle,
			wantType:   OperationQuery,
		},
		{
			name:       "unknown fragment",
			query:      `query Q { ...Nope }`,
			limits:     prod,
			wantReason: ReasonUnknownFragment,
			wantType:   OperationQuery,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Analyze(tt.query, tt.operationName, tt.introspection, tt.limits)
			assert.Equal(t, tt.wantOK, v.OK)
			assert.Equal(t, tt.wantReason, v.Reason)
			assert.Equal(t, tt.wantType, v.OperationType)
		})
	}
}

func TestAnalyze_DocumentTooLarge(t *testing.T) {
	limits := ProductionLimits()
	limits.MaxDocumentChars = 10

	v := Analyze(`{ viewer { login } }`, "", false, limits)
	assert.False(t, v.OK)
	assert.Equal(t, ReasonDocumentTooLarge, v.Reason)
}

func TestAnalyze_Depth(t *testing.T) {
	nested := func(depth int) string {
		return strings.Repeat("{ a ", depth) + strings.Repeat("}", depth)
	}

	limits := ProductionLimits()

	// depth 12 fields: the innermost "a" sits at depth 12
	assert.True(t, Analyze(nested(12), "", false, limits).OK)

	v := Analyze(nested(13), "", false, limits)
	assert.False(t, v.OK)
	assert.Equal(t, ReasonMaxDepthExceeded, v.Reason)
}

func TestAnalyze_DepthThroughFragments(t *testing.T) {
	limits := ProductionLimits()
	limits.MaxDepth = 3

	q := `query Q { a { ...F } } fragment F on A { b { c { d } } }`
	v := Analyze(q, "", false, limits)
	assert.False(t, v.OK)
	assert.Equal(t, ReasonMaxDepthExceeded, v.Reason)
}

func TestAnalyze_Aliases(t *testing.T) {
	var b strings.Builder
	b.WriteString("{ ")
	for i := 0; i < 51; i++ {
		fmt.Fprintf(&b, "a%d: viewer { login } ", i)
	}
	b.WriteString("}")

	v := Analyze(b.String(), "", false, ProductionLimits())
	assert.False(t, v.OK)
	assert.Equal(t, ReasonTooManyAliases, v.Reason)

	v = Analyze(b.String(), "", false, DevelopmentLimits())
	assert.True(t, v.OK)
}

func TestAnalyze_SelectionsCountFragmentExpansion(t *testing.T) {
	limits := ProductionLimits()
	limits.MaxSelections = 20

	// F expands to 5 selections and is spread 5 times
	q := `query Q { ...F ...F ...F ...F ...F } fragment F on Query { a b c d e }`
	v := Analyze(q, "", false, limits)
	assert.False(t, v.OK)
	assert.Equal(t, ReasonTooManySelections, v.Reason)

	limits.MaxSelections = 25
	assert.True(t, Analyze(q, "", false, limits).OK)
}

func TestAnalyze_FragmentBombIsBounded(t *testing.T) {
	// each level doubles the expansion; 30 levels would be 2^30 fields
	var b strings.Builder
	b.WriteString("query Q { ...F0 } ")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "fragment F%d on Query { ...F%d ...F%d } ", i, i+1, i+1)
	}
	b.WriteString("fragment F30 on Query { leaf }")

	v := Analyze(b.String(), "", false, ProductionLimits())
	assert.False(t, v.OK)
	assert.Equal(t, ReasonTooManySelections, v.Reason)
}

func TestAnalyze_TooManyFragments(t *testing.T) {
	limits := ProductionLimits()
	limits.MaxFragments = 2

	q := `query Q { ...A } fragment A on Query { a } fragment B on Query { b } fragment C on Query { c }`
	v := Analyze(q, "", false, limits)
	assert.False(t, v.OK)
	assert.Equal(t, ReasonTooManyFragments, v.Reason)
}

func TestAnalyze_Deterministic(t *testing.T) {
	q := `query Q { ...A } fragment A on Query { ...B } fragment B on Query { ...A }`
	first := Analyze(q, "", false, ProductionLimits())
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Analyze(q, "", false, ProductionLimits()))
	}
}
