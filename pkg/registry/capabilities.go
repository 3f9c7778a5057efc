package registry

import (
	"sort"
	"sync"

	"github.com/CustodyZero/archon-sub000/pkg/stateio"
	"github.com/CustodyZero/archon-sub000/pkg/taxonomy"
)

const enabledCapabilitiesFile = "enabled-capabilities.json"

// CapabilityRegistry holds the enabled CapabilityType set (spec.md §4.4).
// It is a dumb persistence layer: the richer checks — "does an enabled
// module declare this type", typed-ack, hazard-pair confirmation — belong
// to governance application (C9), which calls EnableType/DisableType only
// after those checks pass.
type CapabilityRegistry struct {
	mu      sync.RWMutex
	io      stateio.StateIO
	enabled map[taxonomy.CapabilityType]bool
}

// NewCapabilityRegistry returns a CapabilityRegistry backed by io.
func NewCapabilityRegistry(io stateio.StateIO) *CapabilityRegistry {
	return &CapabilityRegistry{
		io:      io,
		enabled: make(map[taxonomy.CapabilityType]bool),
	}
}

// ApplyPersistedState rehydrates enablement from enabled-capabilities.json.
func (r *CapabilityRegistry) ApplyPersistedState() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	types, err := stateio.ReadJSON(r.io, enabledCapabilitiesFile, []string{})
	if err != nil {
		return err
	}
	r.enabled = make(map[taxonomy.CapabilityType]bool, len(types))
	for _, t := range types {
		r.enabled[taxonomy.CapabilityType(t)] = true
	}
	return nil
}

// EnableType marks capType enabled. Callers (governance application) are
// responsible for any precondition checks; this method performs none.
func (r *CapabilityRegistry) EnableType(capType taxonomy.CapabilityType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled[capType] = true
	return r.persistLocked()
}

// DisableType marks capType disabled.
func (r *CapabilityRegistry) DisableType(capType taxonomy.CapabilityType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled[capType] = false
	return r.persistLocked()
}

func (r *CapabilityRegistry) persistLocked() error {
	var types []string
	for t, on := range r.enabled {
		if on {
			types = append(types, string(t))
		}
	}
	sort.Strings(types)
	return stateio.WriteJSON(r.io, enabledCapabilitiesFile, types)
}

// IsEnabled reports whether capType is currently enabled.
func (r *CapabilityRegistry) IsEnabled(capType taxonomy.CapabilityType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[capType]
}

// ListEnabledCapabilities returns every enabled capability type, as
// strings sorted lexicographically, for direct inclusion in a snapshot
// (spec.md §4.5 rule 2).
func (r *CapabilityRegistry) ListEnabledCapabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var types []string
	for t, on := range r.enabled {
		if on {
			types = append(types, string(t))
		}
	}
	sort.Strings(types)
	return types
}
