package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/CustodyZero/archon-sub000/pkg/stateio"
)

// ErrModuleExists is returned when registering a duplicate module_id.
var ErrModuleExists = errors.New("module already registered")

// ErrModuleNotRegistered is returned when enabling/disabling an unknown module.
var ErrModuleNotRegistered = errors.New("module not registered")

// ErrNotConfirmed is returned when a mutator requiring operator assent
// receives an unconfirmed Confirmation token.
var ErrNotConfirmed = errors.New("operation requires an explicit confirmation")

const enabledModulesFile = "enabled-modules.json"

type moduleEntry struct {
	manifest ModuleManifest
	enabled  bool
}

// ModuleRegistry is the source of truth for registered modules and which
// of them are enabled. Registration happens once per process lifetime;
// enablement persists to enabled-modules.json as a sorted id list.
type ModuleRegistry struct {
	mu      sync.RWMutex
	io      stateio.StateIO
	modules map[string]*moduleEntry
}

// NewModuleRegistry returns a ModuleRegistry backed by io. Call
// ApplyPersistedState after registering manifests to rehydrate enablement
// from disk.
func NewModuleRegistry(io stateio.StateIO) *ModuleRegistry {
	return &ModuleRegistry{
		io:      io,
		modules: make(map[string]*moduleEntry),
	}
}

// Register adds a manifest, starting Disabled. Duplicate module_id fails.
func (r *ModuleRegistry) Register(m ModuleManifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[m.ModuleID]; exists {
		return ErrModuleExists
	}
	r.modules[m.ModuleID] = &moduleEntry{manifest: m, enabled: false}
	return nil
}

// ApplyPersistedState rehydrates enablement from enabled-modules.json for
// every currently-registered module. Call this once after all manifests
// for the process have been registered.
func (r *ModuleRegistry) ApplyPersistedState() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, err := stateio.ReadJSON(r.io, enabledModulesFile, []string{})
	if err != nil {
		return err
	}
	enabled := make(map[string]bool, len(ids))
	for _, id := range ids {
		enabled[id] = true
	}
	for id, entry := range r.modules {
		entry.enabled = enabled[id]
	}
	return nil
}

// Enable marks a registered module enabled, requiring an explicit
// Confirmation (spec.md §4.4).
func (r *ModuleRegistry) Enable(moduleID string, c Confirmation) error {
	return r.setEnabled(moduleID, true, c)
}

// Disable marks a registered module disabled, requiring an explicit
// Confirmation.
func (r *ModuleRegistry) Disable(moduleID string, c Confirmation) error {
	return r.setEnabled(moduleID, false, c)
}

func (r *ModuleRegistry) setEnabled(moduleID string, enabled bool, c Confirmation) error {
	if !c.Confirmed {
		return ErrNotConfirmed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.modules[moduleID]
	if !ok {
		return ErrModuleNotRegistered
	}
	entry.enabled = enabled

	return r.persistLocked()
}

func (r *ModuleRegistry) persistLocked() error {
	var ids []string
	for id, entry := range r.modules {
		if entry.enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return stateio.WriteJSON(r.io, enabledModulesFile, ids)
}

// IsEnabled reports whether moduleID is registered and enabled.
func (r *ModuleRegistry) IsEnabled(moduleID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.modules[moduleID]
	return ok && entry.enabled
}

// EnabledModuleIDs returns every enabled module id, sorted.
func (r *ModuleRegistry) EnabledModuleIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, entry := range r.modules {
		if entry.enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Manifest returns the registered manifest for moduleID, if any.
func (r *ModuleRegistry) Manifest(moduleID string) (ModuleManifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.modules[moduleID]
	if !ok {
		return ModuleManifest{}, false
	}
	return entry.manifest, true
}

// ModulesDeclaring returns the ids of every enabled module whose manifest
// declares a capability of the given type — used by governance application
// to check "at least one enabled module declares type" (spec.md §4.9).
func (r *ModuleRegistry) ModulesDeclaring(capType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, entry := range r.modules {
		if !entry.enabled {
			continue
		}
		for _, cd := range entry.manifest.CapabilityDescriptors {
			if string(cd.Type) == capType {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// EnabledModuleManifests returns the manifests of every enabled module,
// sorted by module_id, for snapshot construction (spec.md §4.5).
func (r *ModuleRegistry) EnabledModuleManifests() []ModuleManifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ModuleManifest
	for _, id := range r.sortedEnabledIDsLocked() {
		out = append(out, r.modules[id].manifest)
	}
	return out
}

func (r *ModuleRegistry) sortedEnabledIDsLocked() []string {
	var ids []string
	for id, entry := range r.modules {
		if entry.enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
