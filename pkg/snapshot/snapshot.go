// Package snapshot implements the Rule Snapshot builder (spec.md §4.5,
// component C5): assembling the effective policy into the one object the
// validation engine ever reads, and hashing it deterministically.
package snapshot

import (
	"sort"

	"github.com/CustodyZero/archon-sub000/pkg/canonicalize"
	"github.com/CustodyZero/archon-sub000/pkg/clock"
	"github.com/CustodyZero/archon-sub000/pkg/registry"
	"github.com/CustodyZero/archon-sub000/pkg/restriction"
)

// EnabledModule is the snapshot-local rendering of a registered module:
// only what the validation engine and operator tooling need, with its
// capability descriptors sorted by capability_id (spec.md §4.5 rule 1).
type EnabledModule struct {
	ModuleID              string                            `json:"module_id"`
	Version               string                            `json:"version"`
	Hash                  string                             `json:"hash"`
	CapabilityDescriptors []registry.CapabilityDescriptor `json:"capability_descriptors"`
}

// RuleSnapshot is the effective policy object (spec.md §3): every field the
// validation engine may consult, canonicalized so that RS_hash is stable
// across equivalent constructions and sensitive to every field the spec
// names in I4.
type RuleSnapshot struct {
	EngineVersion        string                       `json:"engine_version"`
	ProjectID            string                       `json:"project_id"`
	ConstructedAt        string                       `json:"constructed_at"`
	EnabledModules       []EnabledModule              `json:"enabled_modules"`
	EnabledCapabilities  []string                     `json:"enabled_capabilities"`
	DRRCanonical         []*restriction.CompiledDRR   `json:"drr_canonical"`
	ResourceConfig       registry.ResourceConfig      `json:"resource_config"`
	AckEpoch             int                          `json:"ack_epoch"`
	ConfigHash           string                       `json:"config_hash"`
}

// Build assembles a RuleSnapshot per spec.md §4.5's canonicalization rules.
// All inputs are fully materialized by the caller (typically a project's
// registries plus its AckStore.Epoch()); Build performs no I/O of its own.
func Build(
	modules []registry.ModuleManifest,
	enabledCapabilities []string,
	compiledDRRs []*restriction.CompiledDRR,
	engineVersion string,
	configHash string,
	projectID string,
	clk clock.Clock,
	ackEpoch int,
	resourceConfig registry.ResourceConfig,
) RuleSnapshot {
	snap := RuleSnapshot{
		EngineVersion:       engineVersion,
		ProjectID:           projectID,
		ConstructedAt:       clock.ISO8601(clk.Now()),
		EnabledModules:      renderModules(modules),
		EnabledCapabilities: sortedCopy(enabledCapabilities),
		DRRCanonical:        sortedDRRs(compiledDRRs),
		ResourceConfig:      sortedResourceConfig(resourceConfig),
		AckEpoch:            ackEpoch,
		ConfigHash:          configHash,
	}
	return snap
}

func renderModules(modules []registry.ModuleManifest) []EnabledModule {
	out := make([]EnabledModule, 0, len(modules))
	for _, m := range modules {
		descs := append([]registry.CapabilityDescriptor(nil), m.CapabilityDescriptors...)
		sort.Slice(descs, func(i, j int) bool { return descs[i].CapabilityID < descs[j].CapabilityID })
		out = append(out, EnabledModule{
			ModuleID:              m.ModuleID,
			Version:               m.Version,
			Hash:                  m.Hash,
			CapabilityDescriptors: descs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out
}

func sortedCopy(items []string) []string {
	out := append([]string(nil), items...)
	sort.Strings(out)
	return out
}

func sortedDRRs(drrs []*restriction.CompiledDRR) []*restriction.CompiledDRR {
	out := append([]*restriction.CompiledDRR(nil), drrs...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedResourceConfig(cfg registry.ResourceConfig) registry.ResourceConfig {
	roots := append([]registry.FsRoot(nil), cfg.FsRoots...)
	sort.Slice(roots, func(i, j int) bool { return roots[i].ID < roots[j].ID })
	allow := append([]string(nil), cfg.NetAllowlist...)
	sort.Strings(allow)
	return registry.ResourceConfig{
		FsRoots:       roots,
		NetAllowlist:  allow,
		ExecCwdRootID: cfg.ExecCwdRootID,
		SecretsEpoch:  cfg.SecretsEpoch,
	}
}

// Hash returns RS_hash = SHA-256(canonical_json(snapshot)), lowercase hex.
// Because every slice field was sorted during Build, this is stable across
// any input ordering that produced an equivalent snapshot — the property
// spec.md §4.5 requires be tested directly.
func Hash(snap RuleSnapshot) (string, error) {
	return canonicalize.Hash(snap)
}
