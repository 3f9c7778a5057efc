// Package registry implements the five stateful containers of spec.md §4.4:
// ModuleRegistry, CapabilityRegistry, RestrictionRegistry, AckStore, and
// ResourceConfigStore. Each is scoped to exactly one StateIO — there is no
// ambient, package-level state (spec.md §9's "redesign as explicit
// configuration carried on each registry + a StateIO handle").
package registry

import "github.com/CustodyZero/archon-sub000/pkg/taxonomy"

// CapabilityDescriptor is one capability a module exposes.
type CapabilityDescriptor struct {
	CapabilityID   string                  `json:"capability_id"`
	Type           taxonomy.CapabilityType `json:"type"`
	Tier           taxonomy.RiskTier       `json:"tier"`
	ParamsSchema   map[string]string       `json:"params_schema,omitempty"`
	AckRequired    bool                    `json:"ack_required"`
	DefaultEnabled bool                    `json:"default_enabled"`
	Hazards        []string                `json:"hazards,omitempty"`
}

// ModuleManifest is the signed-equivalent record a module registers with.
type ModuleManifest struct {
	ModuleID              string                 `json:"module_id"`
	Version               string                 `json:"version"`
	Hash                  string                 `json:"hash"`
	CapabilityDescriptors []CapabilityDescriptor `json:"capability_descriptors"`
}

// Confirmation models the "operator has explicitly assented" marker spec.md
// §4.4 and §9 require for mutators that change enablement state. It cannot
// be constructed with Confirmed=true except through Confirm, which is the
// boundary every prompt/approval layer must call through — core mutators
// only ever check Confirmation.Confirmed, never synthesize it themselves.
type Confirmation struct {
	Confirmed  bool
	ApproverID string
}

// Confirm mints a Confirmation token. Call sites upstream of the core (the
// CLI prompt layer, or governance approval) are the only places that
// should call this — a mutator receiving an unconfirmed zero-value
// Confirmation must fail closed.
func Confirm(approverID string) Confirmation {
	return Confirmation{Confirmed: true, ApproverID: approverID}
}
