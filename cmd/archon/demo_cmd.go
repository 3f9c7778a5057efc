package main

import (
	"context"
	"fmt"
	"io"

	"github.com/CustodyZero/archon-sub000/pkg/action"
	"github.com/CustodyZero/archon-sub000/pkg/gate"
	"github.com/CustodyZero/archon-sub000/pkg/snapshot"
	"github.com/CustodyZero/archon-sub000/pkg/taxonomy"
)

// demoHandler is the stub handler every demo capability dispatches to: it
// performs no real side effect, only echoes back what it was asked to do,
// so `demo` can exercise the gate end to end without a concrete adapter
// (spec.md §1 scopes concrete adapters out of the core).
func demoHandler(ctx context.Context, a action.CapabilityInstance, adapters gate.Adapters, callCtx gate.AdapterCallContext) (any, error) {
	return map[string]string{
		"handled_by": a.ModuleID + "/" + a.CapabilityID,
		"type":       string(a.Type),
		"params":     fmt.Sprintf("%v", a.Params),
	}, nil
}

// findCapability locates the first builtin module declaring capType,
// returning its module and capability ids.
func findCapability(capType taxonomy.CapabilityType) (moduleID, capabilityID string, ok bool) {
	for _, m := range builtinManifests() {
		for _, cd := range m.CapabilityDescriptors {
			if cd.Type == capType {
				return m.ModuleID, cd.CapabilityID, true
			}
		}
	}
	return "", "", false
}

func demoHandlers() gate.HandlerRegistry {
	handlers := gate.HandlerRegistry{}
	for _, m := range builtinManifests() {
		for _, cd := range m.CapabilityDescriptors {
			handlers[gate.HandlerKey{ModuleID: m.ModuleID, CapabilityID: cd.CapabilityID}] = demoHandler
		}
	}
	return handlers
}

func runDemoCmd(args []string, stdout, stderr io.Writer) int {
	gf := &globalFlags{}
	fs := newFlagSet("demo", gf)
	agentID := fs.String("agent", "demo-agent", "Agent id attributed to the action")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Fprintln(stderr, "Usage: archon demo <capability_type> <path> [flags]")
		return 2
	}
	capType := taxonomy.CapabilityType(rest[0])
	path := rest[1]

	proj, code, ok := projectOrFail(gf, stderr)
	if !ok {
		return code
	}

	moduleID, capabilityID, found := findCapability(capType)
	if !found {
		fmt.Fprintf(stderr, "Error: no builtin module declares capability type %q\n", capType)
		return 2
	}
	tier, _ := taxonomy.TierOf(capType)

	snap, err := proj.buildSnapshot()
	if err != nil {
		fmt.Fprintf(stderr, "Error: build snapshot: %v\n", err)
		return 1
	}
	rsHash, err := snapshot.Hash(snap)
	if err != nil {
		fmt.Fprintf(stderr, "Error: hash snapshot: %v\n", err)
		return 1
	}

	instance := action.CapabilityInstance{
		ProjectID:    proj.ID,
		ModuleID:     moduleID,
		CapabilityID: capabilityID,
		Type:         capType,
		Tier:         tier,
		Params:       map[string]string{"path": path},
	}

	g := gate.New(proj.IO, proj.IDs, proj.Clock, demoHandlers(), gate.Adapters{})
	result, err := g.Run(context.Background(), *agentID, instance, snap, rsHash)
	if err != nil {
		fmt.Fprintf(stderr, "Error: run gate: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "outcome: %s\n", result.Decision.Outcome)
	if len(result.Decision.TriggeredRules) > 0 {
		fmt.Fprintf(stdout, "triggered: %v\n", result.Decision.TriggeredRules)
	}
	if result.Decision.Outcome != "permit" {
		return 1
	}
	if result.DispatchErr != nil {
		fmt.Fprintf(stderr, "dispatch failed: %v\n", result.DispatchErr)
		return 1
	}
	fmt.Fprintf(stdout, "dispatched ok: %v\n", result.DispatchValue)
	return 0
}
