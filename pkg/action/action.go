// Package action defines CapabilityInstance, the proposed-action shape
// that flows from an agent through the execution gate to the validation
// engine (spec.md §3).
package action

import "github.com/CustodyZero/archon-sub000/pkg/taxonomy"

// CapabilityInstance is one action an agent proposes. It exists only for
// the duration of a single gate call; the only persisted copy is the one
// the gate writes into its decision log entry, alongside the input_hash.
type CapabilityInstance struct {
	ProjectID    string                  `json:"project_id"`
	ModuleID     string                  `json:"module_id"`
	CapabilityID string                  `json:"capability_id"`
	Type         taxonomy.CapabilityType `json:"type"`
	Tier         taxonomy.RiskTier       `json:"tier"`
	Params       map[string]string       `json:"params,omitempty"`
}
