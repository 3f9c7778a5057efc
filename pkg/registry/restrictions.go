package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/CustodyZero/archon-sub000/pkg/restriction"
	"github.com/CustodyZero/archon-sub000/pkg/stateio"
	"github.com/CustodyZero/archon-sub000/pkg/taxonomy"
)

const restrictionsFile = "restrictions.json"

// StoredRestriction is the persisted, source-preserving form of one
// structured restriction rule: enough to re-render it to an operator and
// to recompile it deterministically on load.
type StoredRestriction struct {
	ID             string                     `json:"id"`
	CapabilityType string                     `json:"capability_type"`
	Effect         string                     `json:"effect"`
	Conditions     []restriction.ConditionAST `json:"conditions"`
}

// restrictionsDoc is the on-disk shape: the rule list plus the next id
// counter. The counter is monotonic and never recycled, even across
// Clear — spec.md §4.2's requirement that DRR ids remain stable referents
// in audit logs for the lifetime of the install.
type restrictionsDoc struct {
	NextSeq int                 `json:"next_seq"`
	Rules   []StoredRestriction `json:"rules"`
}

// RestrictionRegistry stores structured restriction rules (DRRs) and
// compiles them to the IR the validation engine evaluates against.
type RestrictionRegistry struct {
	mu   sync.RWMutex
	io   stateio.StateIO
	doc  restrictionsDoc
}

// NewRestrictionRegistry returns a RestrictionRegistry backed by io.
func NewRestrictionRegistry(io stateio.StateIO) *RestrictionRegistry {
	return &RestrictionRegistry{io: io}
}

// ApplyPersistedState loads restrictions.json, if present.
func (r *RestrictionRegistry) ApplyPersistedState() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := stateio.ReadJSON(r.io, restrictionsFile, restrictionsDoc{})
	if err != nil {
		return err
	}
	r.doc = doc
	return nil
}

// Add compiles and stores a new rule from a parsed AST, minting the next
// "drr:N" id. Returns the stored record's id.
func (r *RestrictionRegistry) Add(ast *restriction.RestrictionAST) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := fmt.Sprintf("drr:%d", r.doc.NextSeq)
	r.doc.NextSeq++

	stored := StoredRestriction{
		ID:             id,
		CapabilityType: string(ast.CapabilityType),
		Effect:         string(ast.Effect),
		Conditions:     ast.Conditions,
	}
	// Validate compilability before committing.
	if _, err := restriction.Compile(ast, id); err != nil {
		return "", err
	}
	r.doc.Rules = append(r.doc.Rules, stored)

	if err := stateio.WriteJSON(r.io, restrictionsFile, r.doc); err != nil {
		return "", err
	}
	return id, nil
}

// List returns every stored restriction, in the order they were added
// (ascending id sequence).
func (r *RestrictionRegistry) List() []StoredRestriction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StoredRestriction, len(r.doc.Rules))
	copy(out, r.doc.Rules)
	return out
}

// Clear removes every stored rule. The id sequence counter is NOT reset:
// the next Add still mints a fresh, never-before-used id.
func (r *RestrictionRegistry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Rules = nil
	return stateio.WriteJSON(r.io, restrictionsFile, r.doc)
}

// RemoveByType drops every stored rule for capType, leaving rules for every
// other type untouched. Used by proposal application's set_restrictions,
// which replaces rules only for the affected capability types (spec.md
// §4.8), not the whole rule set.
func (r *RestrictionRegistry) RemoveByType(capType taxonomy.CapabilityType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.doc.Rules[:0:0]
	for _, s := range r.doc.Rules {
		if s.CapabilityType != string(capType) {
			kept = append(kept, s)
		}
	}
	r.doc.Rules = kept
	return stateio.WriteJSON(r.io, restrictionsFile, r.doc)
}

// CompileAll compiles every stored rule to its IR form, sorted by id for
// deterministic snapshot inclusion (spec.md §4.5).
func (r *RestrictionRegistry) CompileAll() ([]*restriction.CompiledDRR, error) {
	r.mu.RLock()
	stored := make([]StoredRestriction, len(r.doc.Rules))
	copy(stored, r.doc.Rules)
	r.mu.RUnlock()

	sort.Slice(stored, func(i, j int) bool { return stored[i].ID < stored[j].ID })

	out := make([]*restriction.CompiledDRR, 0, len(stored))
	for _, s := range stored {
		ast := &restriction.RestrictionAST{
			Effect:         restriction.Effect(s.Effect),
			CapabilityType: taxonomy.CapabilityType(s.CapabilityType),
			Conditions:     s.Conditions,
		}
		compiled, err := restriction.Compile(ast, s.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, compiled)
	}
	return out, nil
}
