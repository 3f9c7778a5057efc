package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CustodyZero/archon-sub000/pkg/clock"
	"github.com/CustodyZero/archon-sub000/pkg/registry"
	"github.com/CustodyZero/archon-sub000/pkg/restriction"
	"github.com/CustodyZero/archon-sub000/pkg/taxonomy"
)

func fixedClock() clock.Clock {
	return clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func sampleModules() []registry.ModuleManifest {
	return []registry.ModuleManifest{
		{
			ModuleID: "fs-module",
			Version:  "1.0.0",
			Hash:     "abc",
			CapabilityDescriptors: []registry.CapabilityDescriptor{
				{CapabilityID: "fs.write", Type: taxonomy.FSWrite, Tier: taxonomy.T1},
				{CapabilityID: "fs.read", Type: taxonomy.FSRead, Tier: taxonomy.T0},
			},
		},
	}
}

func sampleDRRs(t *testing.T) []*restriction.CompiledDRR {
	ast1 := &restriction.RestrictionAST{
		Effect:         restriction.Allow,
		CapabilityType: taxonomy.FSRead,
		Conditions: []restriction.ConditionAST{
			{Field: "capability.params.path", Op: restriction.MatchesOp, Value: "./docs/**"},
		},
	}
	ast2 := &restriction.RestrictionAST{
		Effect:         restriction.Deny,
		CapabilityType: taxonomy.FSWrite,
		Conditions: []restriction.ConditionAST{
			{Field: "capability.params.path", Op: restriction.MatchesOp, Value: "./secrets/**"},
		},
	}
	d1, err := restriction.Compile(ast1, "drr:1")
	require.NoError(t, err)
	d2, err := restriction.Compile(ast2, "drr:0")
	require.NoError(t, err)
	return []*restriction.CompiledDRR{d1, d2}
}

func sampleResourceConfig() registry.ResourceConfig {
	return registry.ResourceConfig{
		FsRoots: []registry.FsRoot{
			{ID: "workspace", Path: "/workspace", Perm: registry.FsRootReadWrite},
			{ID: "docs", Path: "/docs", Perm: registry.FsRootReadOnly},
		},
		NetAllowlist:  []string{"example.com", "api.example.com"},
		ExecCwdRootID: "workspace",
		SecretsEpoch:  0,
	}
}

func TestBuild_DeterministicAcrossInputOrdering(t *testing.T) {
	modules := sampleModules()
	drrs := sampleDRRs(t)
	caps := []string{"fs.write", "fs.read"}
	rc := sampleResourceConfig()

	snapA := Build(modules, caps, drrs, taxonomy.EngineVersion, "cfg-hash", "proj-1", fixedClock(), 3, rc)
	hashA, err := Hash(snapA)
	require.NoError(t, err)

	// Shuffle every ordered input and rebuild: RS_hash must not move.
	reversedModules := []registry.ModuleManifest{modules[0]}
	reversedModules[0].CapabilityDescriptors = []registry.CapabilityDescriptor{
		modules[0].CapabilityDescriptors[1], modules[0].CapabilityDescriptors[0],
	}
	reversedCaps := []string{"fs.read", "fs.write"}
	reversedDRRs := []*restriction.CompiledDRR{drrs[1], drrs[0]}
	reversedRC := registry.ResourceConfig{
		FsRoots:       []registry.FsRoot{rc.FsRoots[1], rc.FsRoots[0]},
		NetAllowlist:  []string{rc.NetAllowlist[1], rc.NetAllowlist[0]},
		ExecCwdRootID: rc.ExecCwdRootID,
		SecretsEpoch:  rc.SecretsEpoch,
	}

	snapB := Build(reversedModules, reversedCaps, reversedDRRs, taxonomy.EngineVersion, "cfg-hash", "proj-1", fixedClock(), 3, reversedRC)
	hashB, err := Hash(snapB)
	require.NoError(t, err)

	require.Equal(t, hashA, hashB)
}

func TestBuild_SensitiveToEveryNamedField(t *testing.T) {
	modules := sampleModules()
	drrs := sampleDRRs(t)
	caps := []string{"fs.write", "fs.read"}
	rc := sampleResourceConfig()

	base := Build(modules, caps, drrs, taxonomy.EngineVersion, "cfg-hash", "proj-1", fixedClock(), 3, rc)
	baseHash, err := Hash(base)
	require.NoError(t, err)

	cases := map[string]RuleSnapshot{
		"engine_version": Build(modules, caps, drrs, "other-version", "cfg-hash", "proj-1", fixedClock(), 3, rc),
		"project_id":     Build(modules, caps, drrs, taxonomy.EngineVersion, "cfg-hash", "proj-2", fixedClock(), 3, rc),
		"config_hash":    Build(modules, caps, drrs, taxonomy.EngineVersion, "other-cfg-hash", "proj-1", fixedClock(), 3, rc),
		"ack_epoch":      Build(modules, caps, drrs, taxonomy.EngineVersion, "cfg-hash", "proj-1", fixedClock(), 4, rc),
		"capabilities":   Build(modules, []string{"fs.read"}, drrs, taxonomy.EngineVersion, "cfg-hash", "proj-1", fixedClock(), 3, rc),
		"drrs":           Build(modules, caps, drrs[:1], taxonomy.EngineVersion, "cfg-hash", "proj-1", fixedClock(), 3, rc),
		"modules":        Build(nil, caps, drrs, taxonomy.EngineVersion, "cfg-hash", "proj-1", fixedClock(), 3, rc),
		"resources":      Build(modules, caps, drrs, taxonomy.EngineVersion, "cfg-hash", "proj-1", fixedClock(), 3, registry.ResourceConfig{}),
	}

	for name, variant := range cases {
		h, err := Hash(variant)
		require.NoError(t, err)
		require.NotEqual(t, baseHash, h, "expected %s to change RS_hash", name)
	}
}

func TestBuild_EmptySnapshotIsStable(t *testing.T) {
	rc := registry.ResourceConfig{}
	snap := Build(nil, nil, nil, taxonomy.EngineVersion, "", "proj-1", fixedClock(), 0, rc)
	require.Empty(t, snap.EnabledModules)
	require.Empty(t, snap.EnabledCapabilities)
	require.Empty(t, snap.DRRCanonical)

	h, err := Hash(snap)
	require.NoError(t, err)
	require.NotEmpty(t, h)
}
