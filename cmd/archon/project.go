package main

import (
	"fmt"
	"time"

	"github.com/CustodyZero/archon-sub000/pkg/clock"
	"github.com/CustodyZero/archon-sub000/pkg/gate"
	"github.com/CustodyZero/archon-sub000/pkg/idgen"
	"github.com/CustodyZero/archon-sub000/pkg/proposal"
	"github.com/CustodyZero/archon-sub000/pkg/registry"
	"github.com/CustodyZero/archon-sub000/pkg/secrets"
	"github.com/CustodyZero/archon-sub000/pkg/snapshot"
	"github.com/CustodyZero/archon-sub000/pkg/stateio"
	"github.com/CustodyZero/archon-sub000/pkg/taxonomy"
)

// builtinManifests is the fixed set of module manifests this CLI ships
// with. spec.md §1 scopes out plugin loading — module manifests are a
// versioned code change, registered fresh into the in-memory
// ModuleRegistry every process start, with only their enablement
// persisted (spec.md §4.4).
func builtinManifests() []registry.ModuleManifest {
	return []registry.ModuleManifest{
		{
			ModuleID: "fs-module",
			Version:  "1.0.0",
			Hash:     "builtin:fs-module",
			CapabilityDescriptors: []registry.CapabilityDescriptor{
				{CapabilityID: "fs.read", Type: taxonomy.FSRead, Tier: taxonomy.T0, DefaultEnabled: true},
				{CapabilityID: "fs.list", Type: taxonomy.FSList, Tier: taxonomy.T0, DefaultEnabled: true},
				{CapabilityID: "fs.watch", Type: taxonomy.FSWatch, Tier: taxonomy.T1},
				{CapabilityID: "fs.write", Type: taxonomy.FSWrite, Tier: taxonomy.T1},
				{CapabilityID: "fs.delete", Type: taxonomy.FSDelete, Tier: taxonomy.T3},
			},
		},
		{
			ModuleID: "net-module",
			Version:  "1.0.0",
			Hash:     "builtin:net-module",
			CapabilityDescriptors: []registry.CapabilityDescriptor{
				{CapabilityID: "net.fetch.http", Type: taxonomy.NetFetchHTTP, Tier: taxonomy.T1},
				{CapabilityID: "net.listen", Type: taxonomy.NetListen, Tier: taxonomy.T2},
				{CapabilityID: "net.socket", Type: taxonomy.NetSocket, Tier: taxonomy.T2},
			},
		},
		{
			ModuleID: "exec-module",
			Version:  "1.0.0",
			Hash:     "builtin:exec-module",
			CapabilityDescriptors: []registry.CapabilityDescriptor{
				{CapabilityID: "exec.run", Type: taxonomy.ExecRun, Tier: taxonomy.T2},
				{CapabilityID: "exec.shell", Type: taxonomy.ExecShell, Tier: taxonomy.T3, AckRequired: true},
				{CapabilityID: "process.kill", Type: taxonomy.ProcessKill, Tier: taxonomy.T2},
				{CapabilityID: "system.privileged_exec", Type: taxonomy.SystemExec, Tier: taxonomy.T3, AckRequired: true},
			},
		},
		{
			ModuleID: "secrets-module",
			Version:  "1.0.0",
			Hash:     "builtin:secrets-module",
			CapabilityDescriptors: []registry.CapabilityDescriptor{
				{CapabilityID: "secrets.use", Type: taxonomy.SecretsUse, Tier: taxonomy.T2},
				{CapabilityID: "secrets.write", Type: taxonomy.SecretsWrite, Tier: taxonomy.T3, AckRequired: true},
			},
		},
		{
			ModuleID: "comms-module",
			Version:  "1.0.0",
			Hash:     "builtin:comms-module",
			CapabilityDescriptors: []registry.CapabilityDescriptor{
				{CapabilityID: "messaging.send", Type: taxonomy.MessagingTx, Tier: taxonomy.T1},
				{CapabilityID: "messaging.receive", Type: taxonomy.MessagingRx, Tier: taxonomy.T0, DefaultEnabled: true},
				{CapabilityID: "ui.prompt", Type: taxonomy.UIPrompt, Tier: taxonomy.T0, DefaultEnabled: true},
				{CapabilityID: "ui.notify", Type: taxonomy.UINotify, Tier: taxonomy.T0, DefaultEnabled: true},
				{CapabilityID: "clipboard.readwrite", Type: taxonomy.ClipboardRW, Tier: taxonomy.T1},
			},
		},
	}
}

// Project bundles one project's fully-wired registries, gate, proposal
// queue, and secrets store — everything a CLI subcommand needs, assembled
// once per invocation from its StateIO.
type Project struct {
	ID           string
	Home         string
	IO           stateio.StateIO
	Clock        clock.Clock
	IDs          *idgen.Generator
	Modules      *registry.ModuleRegistry
	Capabilities *registry.CapabilityRegistry
	Restrictions *registry.RestrictionRegistry
	Resources    *registry.ResourceConfigStore
	Acks         *registry.AckStore
	Secrets      *secrets.Store
	Gate         *gate.Gate
	Queue        *proposal.Queue
}

// openProject wires every registry for projectID under home, rehydrating
// persisted state. The returned Project's registries are ready for
// immediate use by any subcommand.
func openProject(home, projectID string) (*Project, error) {
	projReg := stateio.NewProjectRegistry(home)
	if err := projReg.EnsureMigrated(time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("migrate legacy state: %w", err)
	}

	io, err := stateio.NewFileStateIO(projReg.ProjectDir(projectID))
	if err != nil {
		return nil, fmt.Errorf("open project state: %w", err)
	}

	clk := clock.System{}
	ids := idgen.New()

	modules := registry.NewModuleRegistry(io)
	for _, m := range builtinManifests() {
		if err := modules.Register(m); err != nil {
			return nil, fmt.Errorf("register module %s: %w", m.ModuleID, err)
		}
	}
	if err := modules.ApplyPersistedState(); err != nil {
		return nil, fmt.Errorf("load enabled modules: %w", err)
	}

	caps := registry.NewCapabilityRegistry(io)
	if err := caps.ApplyPersistedState(); err != nil {
		return nil, fmt.Errorf("load enabled capabilities: %w", err)
	}

	restrictions := registry.NewRestrictionRegistry(io)
	if err := restrictions.ApplyPersistedState(); err != nil {
		return nil, fmt.Errorf("load restrictions: %w", err)
	}

	resources := registry.NewResourceConfigStore(io)
	if err := resources.ApplyPersistedState(); err != nil {
		return nil, fmt.Errorf("load resource config: %w", err)
	}

	acks := registry.NewAckStore(io)

	secretsStore := secrets.NewStore(io, home)
	if err := secretsStore.ApplyPersistedState(); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	g := gate.New(io, ids, clk, gate.HandlerRegistry{}, gate.Adapters{})

	queue := proposal.NewQueue(io, ids, clk)
	if err := queue.ApplyPersistedState(); err != nil {
		return nil, fmt.Errorf("load proposals: %w", err)
	}

	return &Project{
		ID:           projectID,
		Home:         home,
		IO:           io,
		Clock:        clk,
		IDs:          ids,
		Modules:      modules,
		Capabilities: caps,
		Restrictions: restrictions,
		Resources:    resources,
		Acks:         acks,
		Secrets:      secretsStore,
		Gate:         g,
		Queue:        queue,
	}, nil
}

// buildSnapshot assembles this project's current RuleSnapshot, the form
// every status/rules/gate-driving subcommand needs.
func (p *Project) buildSnapshot() (snapshot.RuleSnapshot, error) {
	drrs, err := p.Restrictions.CompileAll()
	if err != nil {
		return snapshot.RuleSnapshot{}, fmt.Errorf("compile restrictions: %w", err)
	}
	epoch, err := p.Acks.Epoch()
	if err != nil {
		return snapshot.RuleSnapshot{}, fmt.Errorf("read ack epoch: %w", err)
	}
	snap := snapshot.Build(
		p.Modules.EnabledModuleManifests(),
		p.Capabilities.ListEnabledCapabilities(),
		drrs,
		taxonomy.EngineVersion,
		"", // config_hash: no external config source in this CLI build
		p.ID,
		p.Clock,
		epoch,
		p.Resources.Get(),
	)
	return snap, nil
}

// buildSnapshotHash is the proposal.BuildSnapshotHashFunc closure injected
// into every approveProposal call.
func (p *Project) buildSnapshotHash() (string, error) {
	snap, err := p.buildSnapshot()
	if err != nil {
		return "", err
	}
	return snapshot.Hash(snap)
}

// proposalDeps bundles the dependencies proposal.ApproveProposal needs,
// closing over this Project.
func (p *Project) proposalDeps() proposal.Dependencies {
	return proposal.Dependencies{
		Modules:           p.Modules,
		Capabilities:      p.Capabilities,
		Restrictions:      p.Restrictions,
		Resources:         p.Resources,
		Acks:              p.Acks,
		Secrets:           p.Secrets,
		IDs:               p.IDs,
		BuildSnapshotHash: p.buildSnapshotHash,
	}
}

// resolveProjectID returns the active project if id is empty, otherwise id
// unchanged.
func resolveProjectID(home, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	projReg := stateio.NewProjectRegistry(home)
	if err := projReg.EnsureMigrated(time.Now().UTC()); err != nil {
		return "", err
	}
	active, err := projReg.ActiveProjectID()
	if err != nil {
		return "", err
	}
	if active == "" {
		active = stateio.DefaultProjectID
	}
	return active, nil
}
