// Package apply implements governance application (spec.md §4.9, component
// C9): the point where enablement is actually committed, gated by
// typed-acknowledgment and hazard-pair enforcement, and where the
// project-scoped ack epoch advances. Every mutator here is atomic —
// validation runs to completion before any write occurs.
package apply

import (
	"fmt"
	"sort"

	"github.com/CustodyZero/archon-sub000/pkg/idgen"
	"github.com/CustodyZero/archon-sub000/pkg/registry"
	"github.com/CustodyZero/archon-sub000/pkg/taxonomy"
)

// HazardPairKey is an order-insensitive identifier for a hazard pair, so
// {A,B} and {B,A} compare equal (spec.md §4.9 step 3).
type HazardPairKey struct {
	TypeA taxonomy.CapabilityType
	TypeB taxonomy.CapabilityType
}

// NewHazardPairKey normalizes a and b into a canonical, order-independent
// key.
func NewHazardPairKey(a, b taxonomy.CapabilityType) HazardPairKey {
	if a > b {
		a, b = b, a
	}
	return HazardPairKey{TypeA: a, TypeB: b}
}

// EnableCapabilityOptions carries whatever the operator supplied when
// requesting a capability be enabled.
type EnableCapabilityOptions struct {
	TypedAckPhrase       string
	HazardConfirmedPairs []HazardPairKey
}

// ApplyResult is the outcome of one governance-application call.
type ApplyResult struct {
	Applied        bool
	AckEpoch       int
	AckEventID     string
	HazardEventIDs []string
	Error          string
}

func confirmedSet(pairs []HazardPairKey) map[HazardPairKey]bool {
	out := make(map[HazardPairKey]bool, len(pairs))
	for _, p := range pairs {
		out[NewHazardPairKey(p.TypeA, p.TypeB)] = true
	}
	return out
}

// EnableCapability runs the four-step validation order of spec.md §4.9 and,
// only on full success, commits the ack/hazard events and the enablement
// itself. On any error, nothing is written and ackEpoch is left unchanged.
func EnableCapability(
	capType taxonomy.CapabilityType,
	opts EnableCapabilityOptions,
	modules *registry.ModuleRegistry,
	capabilities *registry.CapabilityRegistry,
	acks *registry.AckStore,
	ids *idgen.Generator,
) (ApplyResult, error) {
	currentEpoch, err := acks.Epoch()
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply: read ack epoch: %w", err)
	}

	// Step 1: at least one enabled module declares capType.
	if len(modules.ModulesDeclaring(string(capType))) == 0 {
		return ApplyResult{AckEpoch: currentEpoch, Error: "no enabled module declares type"}, nil
	}

	tier, known := taxonomy.TierOf(capType)
	if !known {
		return ApplyResult{AckEpoch: currentEpoch, Error: "taxonomy_unknown"}, nil
	}

	// Step 2: typed ack, T3 only, byte-exact.
	if taxonomy.TypedAckRequired(tier) {
		expected := taxonomy.BuildExpectedAckPhrase(tier, capType)
		if opts.TypedAckPhrase != expected {
			return ApplyResult{AckEpoch: currentEpoch, Error: "ack_phrase_mismatch"}, nil
		}
	}

	// Step 3: every hazard pair whose partner is already enabled must be
	// explicitly confirmed.
	confirmed := confirmedSet(opts.HazardConfirmedPairs)
	var triggered []taxonomy.HazardPair
	for _, hp := range taxonomy.HazardPairsFor(capType) {
		partner := hp.Partner(capType)
		if !capabilities.IsEnabled(partner) {
			continue
		}
		key := NewHazardPairKey(capType, partner)
		if !confirmed[key] {
			return ApplyResult{
				AckEpoch: currentEpoch,
				Error:    fmt.Sprintf("hazard_unconfirmed: %s<->%s", capType, partner),
			}, nil
		}
		triggered = append(triggered, hp)
	}
	sort.Slice(triggered, func(i, j int) bool { return triggered[i].Partner(capType) < triggered[j].Partner(capType) })

	// Step 4: commit.
	var ackEventID string
	if taxonomy.TypedAckRequired(tier) {
		ackEventID = ids.ULID()
		if err := acks.RecordAck(registry.AckRecord{
			EventID:      ackEventID,
			CapabilityID: string(capType),
			Phrase:       opts.TypedAckPhrase,
		}); err != nil {
			return ApplyResult{}, fmt.Errorf("apply: record ack: %w", err)
		}
	}

	hazardEventIDs := make([]string, 0, len(triggered))
	for _, hp := range triggered {
		eventID := ids.ULID()
		if err := acks.RecordHazardAck(registry.HazardAckRecord{
			EventID:      eventID,
			CapabilityID: string(capType),
			PartnerType:  string(hp.Partner(capType)),
		}); err != nil {
			return ApplyResult{}, fmt.Errorf("apply: record hazard ack: %w", err)
		}
		hazardEventIDs = append(hazardEventIDs, eventID)
	}

	if err := capabilities.EnableType(capType); err != nil {
		return ApplyResult{}, fmt.Errorf("apply: enable capability: %w", err)
	}

	newEpoch, err := acks.Epoch()
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply: read ack epoch after commit: %w", err)
	}

	return ApplyResult{
		Applied:        true,
		AckEpoch:       newEpoch,
		AckEventID:     ackEventID,
		HazardEventIDs: hazardEventIDs,
	}, nil
}

// DisableCapability has no typed-ack or hazard obligations — only enabling
// a capability can trigger a hazard pair or require an acknowledgment, so
// disabling is a direct commit.
func DisableCapability(capType taxonomy.CapabilityType, capabilities *registry.CapabilityRegistry) error {
	return capabilities.DisableType(capType)
}

// EnableModule and DisableModule simply delegate to ModuleRegistry, which
// already enforces the Confirmation contract (spec.md §4.4) — governance
// application adds nothing further for modules.
func EnableModule(moduleID string, confirmation registry.Confirmation, modules *registry.ModuleRegistry) error {
	return modules.Enable(moduleID, confirmation)
}

func DisableModule(moduleID string, confirmation registry.Confirmation, modules *registry.ModuleRegistry) error {
	return modules.Disable(moduleID, confirmation)
}
