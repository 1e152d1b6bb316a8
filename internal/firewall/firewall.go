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

// Package firewall statically analyzes GraphQL documents before they are
// forwarded to a provider. It never executes a query and needs no schema;
// its job is to bound document cost, not to validate syntax against a
// provider's types.
package firewall

import (
	"unicode/utf8"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Rejection reasons. These are part of the public error contract.
const (
	ReasonDocumentTooLarge         = "DOCUMENT_TOO_LARGE"
	ReasonParseError               = "PARSE_ERROR"
	ReasonNoOperation              = "NO_OPERATION"
	ReasonOperationNameRequired    = "OPERATION_NAME_REQUIRED"
	ReasonOperationNotFound        = "OPERATION_NOT_FOUND"
	ReasonSubscriptionNotSupported = "SUBSCRIPTION_NOT_SUPPORTED"
	ReasonTooManyFragments         = "TOO_MANY_FRAGMENTS"
	ReasonMaxDepthExceeded         = "MAX_DEPTH_EXCEEDED"
	ReasonTooManyAliases           = "TOO_MANY_ALIASES"
	ReasonTooManySelections        = "TOO_MANY_SELECTIONS"
	ReasonFragmentCycle            = "FRAGMENT_CYCLE"
	ReasonUnknownFragment          = "UNKNOWN_FRAGMENT"
	ReasonIntrospectionDisabled    = "INTROSPECTION_DISABLED"
)

// Operation types reported in a Verdict.
const (
	OperationQuery        = "query"
	OperationMutation     = "mutation"
	OperationSubscription = "subscription"
)

// Verdict is the outcome of analyzing one document.
type Verdict struct {
	OK            bool   `json:"ok"`
	Reason        string `json:"reason,omitempty"`
	OperationType string `json:"operationType,omitempty"`
}

func reject(reason, operationType string) Verdict {
	return Verdict{OK: false, Reason: reason, OperationType: operationType}
}

// Analyze classifies a GraphQL document. It is a pure function of its inputs.
//
// The selected operation and every fragment it reaches are walked once with
// fragment spreads expanded in place, so a fragment reused N times counts N
// times. The walk stops at the first violated limit.
func Analyze(query, operationName string, introspectionAllowed bool, limits Limits) Verdict {
	if utf8.RuneCountInString(query) > limits.MaxDocumentChars {
		return reject(ReasonDocumentTooLarge, "")
	}

	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return reject(ReasonParseError, "")
	}

	op, reason := selectOperation(doc, operationName)
	if op == nil {
		return reject(reason, "")
	}

	opType := string(op.Operation)
	if opType == "" {
		opType = OperationQuery
	}
	if opType == OperationSubscription {
		return reject(ReasonSubscriptionNotSupported, opType)
	}

	if len(doc.Fragments) > limits.MaxFragments {
		return reject(ReasonTooManyFragments, opType)
	}

	w := &walker{
		fragments:            doc.Fragments,
		limits:               limits,
		introspectionAllowed: introspectionAllowed,
		active:               make(map[string]bool),
	}
	w.walk(op.SelectionSet, 1)
	if w.violation != "" {
		return reject(w.violation, opType)
	}

	return Verdict{OK: true, OperationType: opType}
}

func selectOperation(doc *ast.QueryDocument, operationName string) (*ast.OperationDefinition, string) {
	if len(doc.Operations) == 0 {
		return nil, ReasonNoOperation
	}
	if operationName != "" {
		op := doc.Operations.ForName(operationName)
		if op == nil {
			return nil, ReasonOperationNotFound
		}
		return op, ""
	}
	if len(doc.Operations) > 1 {
		return nil, ReasonOperationNameRequired
	}
	return doc.Operations[0], ""
}

// walker accumulates document cost. Counters are checked as they grow so a
// fragment bomb is cut off long before its expansion is materialized.
type walker struct {
	fragments            ast.FragmentDefinitionList
	limits               Limits
	introspectionAllowed bool

	active     map[string]bool
	aliases    int
	selections int
	violation  string
}

func (w *walker) fail(reason string) {
	if w.violation == "" {
		w.violation = reason
	}
}

func (w *walker) walk(set ast.SelectionSet, depth int) {
	for _, sel := range set {
		if w.violation != "" {
			return
		}
		switch s := sel.(type) {
		case *ast.Field:
			w.visitField(s, depth)
		case *ast.InlineFragment:
			w.walk(s.SelectionSet, depth)
		case *ast.FragmentSpread:
			w.visitSpread(s, depth)
		}
	}
}

func (w *walker) visitField(f *ast.Field, depth int) {
	if depth > w.limits.MaxDepth {
		w.fail(ReasonMaxDepthExceeded)
		return
	}

	w.selections++
	if w.selections > w.limits.MaxSelections {
		w.fail(ReasonTooManySelections)
		return
	}

	if f.Alias != "" && f.Alias != f.Name {
		w.aliases++
		if w.aliases > w.limits.MaxAliases {
			w.fail(ReasonTooManyAliases)
			return
		}
	}

	if !w.introspectionAllowed && isIntrospectionField(f.Name) {
		w.fail(ReasonIntrospectionDisabled)
		return
	}

	if len(f.SelectionSet) > 0 {
		w.walk(f.SelectionSet, depth+1)
	}
}

func (w *walker) visitSpread(s *ast.FragmentSpread, depth int) {
	if w.active[s.Name] {
		w.fail(ReasonFragmentCycle)
		return
	}
	def := w.fragments.ForName(s.Name)
	if def == nil {
		w.fail(ReasonUnknownFragment)
		return
	}

	w.active[s.Name] = true
	w.walk(def.SelectionSet, depth)
	delete(w.active, s.Name)
}

// isIntrospectionField reports schema-level introspection. __typename is
// ordinary metadata and stays allowed.
func isIntrospectionField(name string) bool {
	return name == "__schema" || name == "__type"
}
