// Package restriction implements Archon's restriction DSL (DRR — Dynamic
// Restriction Rule language): a non-Turing-complete grammar for
// operator-authored allow/deny rules, its AST, its canonical IR, and the
// canonical IR hash used to detect equivalent rules across sources.
//
// Grammar (spec.md §4.2):
//
//	rule := ("allow" | "deny") <capability_type> ["where" <cond> ("and" <cond>)*]
//	cond := <dotted_field> <op> <literal>
//
// v0.1 supports only the "matches" operator against string glob literals,
// and only fields under the "capability.params." prefix. There are no
// function calls, no arithmetic, and no disjunction within a single rule —
// by construction the grammar below cannot express them.
package restriction

import "github.com/CustodyZero/archon-sub000/pkg/taxonomy"

// Effect is the outcome a rule applies when its conditions match.
type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

// Op is a condition operator. Only "matches" exists in v0.1.
type Op string

const MatchesOp Op = "matches"

// ConditionAST is one parsed "<field> <op> <literal>" clause.
type ConditionAST struct {
	Field string // dotted field, e.g. "capability.params.path"
	Op    Op
	Value string // glob literal
}

// RestrictionAST is the parsed form of one DRR rule, prior to compilation.
// Conditions compose by conjunction (AND) only.
type RestrictionAST struct {
	Effect         Effect
	CapabilityType taxonomy.CapabilityType
	Conditions     []ConditionAST
}

// ParseError carries a source position for operator-facing diagnostics, per
// spec.md §4.2.
type ParseError struct {
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	return e.Message
}
