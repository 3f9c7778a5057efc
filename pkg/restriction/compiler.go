package restriction

import (
	"sort"

	"github.com/CustodyZero/archon-sub000/pkg/canonicalize"
	"github.com/CustodyZero/archon-sub000/pkg/taxonomy"
)

// Condition is the compiled, canonicalized form of a ConditionAST.
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

// CompiledDRR is a structured restriction rule lowered to its canonical
// intermediate representation, plus a stable IR hash. Rule id is excluded
// from the hash so that equivalent rules authored through different paths
// (CLI, proposal, DSL) collide on IRHash (spec.md §4.2).
type CompiledDRR struct {
	ID             string                  `json:"id"`
	CapabilityType taxonomy.CapabilityType `json:"capabilityType"`
	Effect         Effect                  `json:"effect"`
	Conditions     []Condition             `json:"conditions"`
	IRHash         string                  `json:"ir_hash"`
}

// irPayload is the exact shape hashed for IRHash — capabilityType, effect,
// and conditions sorted by (field, op, value), with id deliberately absent.
type irPayload struct {
	CapabilityType taxonomy.CapabilityType `json:"capabilityType"`
	Effect         Effect                  `json:"effect"`
	Conditions     []Condition             `json:"conditions"`
}

// Compile lowers a parsed RestrictionAST to a CompiledDRR with the given
// rule id. Compilation is pure and idempotent: compiling the same AST twice
// yields byte-identical output modulo id.
func Compile(ast *RestrictionAST, id string) (*CompiledDRR, error) {
	conds := make([]Condition, 0, len(ast.Conditions))
	for _, c := range ast.Conditions {
		conds = append(conds, Condition{
			Field: c.Field,
			Op:    string(c.Op),
			Value: c.Value,
		})
	}
	sort.Slice(conds, func(i, j int) bool {
		if conds[i].Field != conds[j].Field {
			return conds[i].Field < conds[j].Field
		}
		if conds[i].Op != conds[j].Op {
			return conds[i].Op < conds[j].Op
		}
		return conds[i].Value < conds[j].Value
	})

	payload := irPayload{
		CapabilityType: ast.CapabilityType,
		Effect:         ast.Effect,
		Conditions:     conds,
	}
	hash, err := canonicalize.Hash(payload)
	if err != nil {
		return nil, err
	}

	return &CompiledDRR{
		ID:             id,
		CapabilityType: ast.CapabilityType,
		Effect:         ast.Effect,
		Conditions:     conds,
		IRHash:         hash,
	}, nil
}

// Matches reports whether action params satisfy every condition of the
// compiled rule (conjunction). fields is the flattened
// "capability.params.*" field namespace, i.e. fields["capability.params.path"].
func (c *CompiledDRR) Matches(fields map[string]string) bool {
	for _, cond := range c.Conditions {
		val, ok := fields[cond.Field]
		if !ok {
			return false
		}
		switch cond.Op {
		case string(MatchesOp):
			if !matchesGeneric(cond.Value, val) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// matchesGeneric tries host-glob semantics first (covers "*.example.com"
// style patterns) and falls back to path-glob semantics, since a condition
// value's shape (path vs. host) is only known by the caller's context, not
// the compiled rule itself.
func matchesGeneric(pattern, value string) bool {
	if hasHostWildcard(pattern) {
		return MatchHost(pattern, value)
	}
	return MatchPath(pattern, value)
}

func hasHostWildcard(pattern string) bool {
	return len(pattern) > 2 && pattern[0] == '*' && pattern[1] == '.' && !containsSlash(pattern)
}

func containsSlash(s string) bool {
	for _, r := range s {
		if r == '/' {
			return true
		}
	}
	return false
}

// FlattenParams converts a capability's params map into the dotted
// "capability.params.*" field namespace CompiledDRR.Matches expects.
func FlattenParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out["capability.params."+k] = v
	}
	return out
}
