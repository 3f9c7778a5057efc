package proposal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CustodyZero/archon-sub000/pkg/apply"
	"github.com/CustodyZero/archon-sub000/pkg/clock"
	"github.com/CustodyZero/archon-sub000/pkg/idgen"
	"github.com/CustodyZero/archon-sub000/pkg/registry"
	"github.com/CustodyZero/archon-sub000/pkg/restriction"
	"github.com/CustodyZero/archon-sub000/pkg/snapshot"
	"github.com/CustodyZero/archon-sub000/pkg/stateio"
	"github.com/CustodyZero/archon-sub000/pkg/taxonomy"
)

type fixture struct {
	queue *Queue
	deps  Dependencies
	io    stateio.StateIO
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	io := stateio.NewMemoryStateIO()
	ids := idgen.NewDeterministic(func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }, 42)
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	modules := registry.NewModuleRegistry(io)
	caps := registry.NewCapabilityRegistry(io)
	restrictions := registry.NewRestrictionRegistry(io)
	resources := registry.NewResourceConfigStore(io)
	acks := registry.NewAckStore(io)

	manifest := registry.ModuleManifest{
		ModuleID: "fs-module",
		CapabilityDescriptors: []registry.CapabilityDescriptor{
			{CapabilityID: "fs.read", Type: taxonomy.FSRead, Tier: taxonomy.T0},
			{CapabilityID: "exec.shell", Type: taxonomy.ExecShell, Tier: taxonomy.T3, AckRequired: true},
			{CapabilityID: "secrets.use", Type: taxonomy.SecretsUse, Tier: taxonomy.T2},
		},
	}
	require.NoError(t, modules.Register(manifest))
	require.NoError(t, modules.Enable("fs-module", registry.Confirm("op-1")))

	deps := Dependencies{
		Modules:      modules,
		Capabilities: caps,
		Restrictions: restrictions,
		Resources:    resources,
		Acks:         acks,
		IDs:          ids,
		BuildSnapshotHash: func() (string, error) {
			return snapshot.Hash(snapshot.Build(modules.EnabledModuleManifests(), caps.ListEnabledCapabilities(), nil, taxonomy.EngineVersion, "", "P", clk, 0, resources.Get()))
		},
	}

	return fixture{queue: NewQueue(io, ids, clk), deps: deps, io: io}
}

func TestPropose_RedactsSecretValue(t *testing.T) {
	f := newFixture(t)
	p, err := f.queue.Propose(ProposalChange{
		Kind:        ChangeSetSecret,
		SecretName:  "api-key",
		SecretValue: "super-secret-value",
	}, Actor{Kind: KindCLI, ID: "op-1"}, f.deps)
	require.NoError(t, err)
	require.Empty(t, p.Change.SecretValue)
	require.Equal(t, "api-key", p.Change.SecretName)

	stored, ok := f.queue.GetProposal(p.ID)
	require.True(t, ok)
	require.Empty(t, stored.Change.SecretValue)
}

func TestPropose_PreviewReflectsTypedAckAndHazards(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deps.Capabilities.EnableType(taxonomy.SecretsUse))

	p, err := f.queue.Propose(ProposalChange{Kind: ChangeEnableCapability, CapabilityType: taxonomy.ExecShell}, Actor{Kind: KindHuman, ID: "op-1"}, f.deps)
	require.NoError(t, err)
	require.True(t, p.Preview.RequiresTypedAck)
	require.Equal(t, "I ACCEPT T3 RISK (exec.shell)", p.Preview.RequiredAckPhrase)
	require.True(t, p.Preview.RequiresHazardConfirm)
	require.Contains(t, p.Preview.HazardsTriggered, "secrets.use")
}

func TestApproveProposal_NotFound(t *testing.T) {
	f := newFixture(t)
	result, err := f.queue.ApproveProposal("missing", ApproveOptions{}, Actor{Kind: KindHuman, ID: "op-1"}, f.deps)
	require.NoError(t, err)
	require.False(t, result.Applied)
	require.Equal(t, "not found", result.Error)
}

func TestApproveProposal_AgentAuthorityRejected(t *testing.T) {
	f := newFixture(t)
	p, err := f.queue.Propose(ProposalChange{Kind: ChangeEnableCapability, CapabilityType: taxonomy.FSRead}, Actor{Kind: KindAgent, ID: "agent-1"}, f.deps)
	require.NoError(t, err)

	result, err := f.queue.ApproveProposal(p.ID, ApproveOptions{}, Actor{Kind: KindAgent, ID: "agent-1"}, f.deps)
	require.NoError(t, err)
	require.False(t, result.Applied)
	require.Equal(t, "authority_insufficient", result.Error)

	stored, ok := f.queue.GetProposal(p.ID)
	require.True(t, ok)
	require.Equal(t, Pending, stored.Status, "a rejected-authority attempt must not move the proposal off pending")
}

func TestApproveProposal_EnableCapabilityEndToEnd(t *testing.T) {
	f := newFixture(t)
	p, err := f.queue.Propose(ProposalChange{Kind: ChangeEnableCapability, CapabilityType: taxonomy.FSRead}, Actor{Kind: KindCLI, ID: "op-1"}, f.deps)
	require.NoError(t, err)

	result, err := f.queue.ApproveProposal(p.ID, ApproveOptions{}, Actor{Kind: KindHuman, ID: "approver-1"}, f.deps)
	require.NoError(t, err)
	require.True(t, result.Applied)
	require.NotEmpty(t, result.RSHashAfter)
	require.True(t, f.deps.Capabilities.IsEnabled(taxonomy.FSRead))

	stored, ok := f.queue.GetProposal(p.ID)
	require.True(t, ok)
	require.Equal(t, Applied, stored.Status)
	require.Equal(t, result.RSHashAfter, stored.RSHashAfter)
	require.NotNil(t, stored.ApprovedBy)
	require.Equal(t, "approver-1", stored.ApprovedBy.ID)
}

func TestApproveProposal_RecoverableErrorStaysPending(t *testing.T) {
	f := newFixture(t)
	p, err := f.queue.Propose(ProposalChange{Kind: ChangeEnableCapability, CapabilityType: taxonomy.ExecShell}, Actor{Kind: KindCLI, ID: "op-1"}, f.deps)
	require.NoError(t, err)

	result, err := f.queue.ApproveProposal(p.ID, ApproveOptions{TypedAckPhrase: "wrong phrase"}, Actor{Kind: KindHuman, ID: "approver-1"}, f.deps)
	require.NoError(t, err)
	require.False(t, result.Applied)
	require.Equal(t, "ack_phrase_mismatch", result.Error)

	stored, ok := f.queue.GetProposal(p.ID)
	require.True(t, ok)
	require.Equal(t, Pending, stored.Status, "a recoverable apply error must leave the proposal pending for retry")

	// Retrying with the right phrase on the same still-pending proposal succeeds.
	result, err = f.queue.ApproveProposal(p.ID, ApproveOptions{TypedAckPhrase: "I ACCEPT T3 RISK (exec.shell)"}, Actor{Kind: KindHuman, ID: "approver-1"}, f.deps)
	require.NoError(t, err)
	require.True(t, result.Applied)
}

func TestApproveProposal_UnexpectedErrorBecomesFailed(t *testing.T) {
	f := newFixture(t)
	p, err := f.queue.Propose(ProposalChange{Kind: ChangeSetSecret, SecretName: "api-key", SecretValue: "x"}, Actor{Kind: KindCLI, ID: "op-1"}, f.deps)
	require.NoError(t, err)

	// Secrets dependency deliberately left nil: applyChange must surface a
	// real error (not a recoverable one), driving the proposal to failed.
	result, err := f.queue.ApproveProposal(p.ID, ApproveOptions{SecretValue: "the-actual-value"}, Actor{Kind: KindHuman, ID: "approver-1"}, f.deps)
	require.NoError(t, err)
	require.False(t, result.Applied)

	stored, ok := f.queue.GetProposal(p.ID)
	require.True(t, ok)
	require.Equal(t, Failed, stored.Status)
	require.NotEmpty(t, stored.FailureReason)
}

func TestApproveProposal_HazardUnconfirmedThenConfirmed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deps.Capabilities.EnableType(taxonomy.SecretsUse))

	p, err := f.queue.Propose(ProposalChange{Kind: ChangeEnableCapability, CapabilityType: taxonomy.ExecShell}, Actor{Kind: KindCLI, ID: "op-1"}, f.deps)
	require.NoError(t, err)

	exact := "I ACCEPT T3 RISK (exec.shell)"
	result, err := f.queue.ApproveProposal(p.ID, ApproveOptions{TypedAckPhrase: exact}, Actor{Kind: KindHuman, ID: "approver-1"}, f.deps)
	require.NoError(t, err)
	require.False(t, result.Applied)
	require.Contains(t, result.Error, "hazard_unconfirmed")

	result, err = f.queue.ApproveProposal(p.ID, ApproveOptions{
		TypedAckPhrase:       exact,
		HazardConfirmedPairs: []apply.HazardPairKey{apply.NewHazardPairKey(taxonomy.ExecShell, taxonomy.SecretsUse)},
	}, Actor{Kind: KindHuman, ID: "approver-1"}, f.deps)
	require.NoError(t, err)
	require.True(t, result.Applied)
}

func TestRejectProposal(t *testing.T) {
	f := newFixture(t)
	p, err := f.queue.Propose(ProposalChange{Kind: ChangeEnableCapability, CapabilityType: taxonomy.FSRead}, Actor{Kind: KindCLI, ID: "op-1"}, f.deps)
	require.NoError(t, err)

	rejected, ok, err := f.queue.RejectProposal(p.ID, Actor{Kind: KindHuman, ID: "approver-1"}, "not needed yet")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Rejected, rejected.Status)
	require.Equal(t, "not needed yet", rejected.RejectionReason)

	// An agent cannot reject either.
	p2, err := f.queue.Propose(ProposalChange{Kind: ChangeEnableCapability, CapabilityType: taxonomy.FSWrite}, Actor{Kind: KindCLI, ID: "op-1"}, f.deps)
	require.NoError(t, err)
	_, ok, err = f.queue.RejectProposal(p2.ID, Actor{Kind: KindAgent, ID: "agent-1"}, "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListProposals_ListsAllAndFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.queue.Propose(ProposalChange{Kind: ChangeEnableCapability, CapabilityType: taxonomy.FSRead}, Actor{Kind: KindCLI, ID: "op-1"}, f.deps)
	require.NoError(t, err)
	p2, err := f.queue.Propose(ProposalChange{Kind: ChangeEnableCapability, CapabilityType: taxonomy.FSWrite}, Actor{Kind: KindCLI, ID: "op-1"}, f.deps)
	require.NoError(t, err)

	_, ok, err := f.queue.RejectProposal(p2.ID, Actor{Kind: KindHuman, ID: "approver-1"}, "")
	require.NoError(t, err)
	require.True(t, ok)

	all := f.queue.ListProposals(nil)
	require.Len(t, all, 2)

	rejected := Rejected
	onlyRejected := f.queue.ListProposals(&rejected)
	require.Len(t, onlyRejected, 1)
	require.Equal(t, p2.ID, onlyRejected[0].ID)
}

func TestApproveProposal_SetRestrictionsReplacesOnlyAffectedTypes(t *testing.T) {
	f := newFixture(t)

	// Seed an existing fs.write rule that must survive a set_restrictions
	// proposal scoped to fs.read only.
	_, err := f.deps.Restrictions.Add(&restriction.RestrictionAST{Effect: restriction.Allow, CapabilityType: taxonomy.FSWrite})
	require.NoError(t, err)

	p, err := f.queue.Propose(ProposalChange{
		Kind:             ChangeSetRestrictions,
		RestrictionTypes: []taxonomy.CapabilityType{taxonomy.FSRead},
		Restrictions: []ProposedRestriction{
			{CapabilityType: taxonomy.FSRead, Effect: "allow", Conditions: nil},
		},
	}, Actor{Kind: KindCLI, ID: "op-1"}, f.deps)
	require.NoError(t, err)

	result, err := f.queue.ApproveProposal(p.ID, ApproveOptions{}, Actor{Kind: KindHuman, ID: "approver-1"}, f.deps)
	require.NoError(t, err)
	require.True(t, result.Applied)

	rules := f.deps.Restrictions.List()
	require.Len(t, rules, 2, "the pre-existing fs.write rule must survive untouched")

	var sawRead, sawWrite bool
	for _, r := range rules {
		switch r.CapabilityType {
		case string(taxonomy.FSRead):
			sawRead = true
		case string(taxonomy.FSWrite):
			sawWrite = true
		}
	}
	require.True(t, sawRead)
	require.True(t, sawWrite)
}
