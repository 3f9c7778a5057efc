// Package proposal implements the proposal queue (spec.md §4.8, component
// C8): the durable, human-approval state machine every governance
// mutation passes through. A proposal is submitted by any actor, previewed
// against current state, and only ever committed once a human-equivalent
// approver supplies the credentials governance application requires.
package proposal

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/CustodyZero/archon-sub000/pkg/apply"
	"github.com/CustodyZero/archon-sub000/pkg/clock"
	"github.com/CustodyZero/archon-sub000/pkg/idgen"
	"github.com/CustodyZero/archon-sub000/pkg/registry"
	"github.com/CustodyZero/archon-sub000/pkg/restriction"
	"github.com/CustodyZero/archon-sub000/pkg/stateio"
	"github.com/CustodyZero/archon-sub000/pkg/taxonomy"
)

const (
	proposalsFile     = "proposals.json"
	proposalEventsLog = "proposal-events.jsonl"
)

// ActorKind is who submitted or is acting on a proposal.
type ActorKind string

const (
	KindHuman ActorKind = "human"
	KindCLI   ActorKind = "cli"
	KindUI    ActorKind = "ui"
	KindAgent ActorKind = "agent"
)

// Actor identifies whoever created, approved, or rejected a proposal.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id"`
}

// hasApprovalAuthority reports whether kind may approve or reject a
// proposal. Only agents are excluded — spec.md §4.8 step 2: "only humans
// approve", modeled as any non-agent actor kind.
func hasApprovalAuthority(kind ActorKind) bool {
	return kind == KindHuman || kind == KindCLI || kind == KindUI
}

// Status is a proposal's lifecycle state.
type Status string

const (
	Pending  Status = "pending"
	Applied  Status = "applied"
	Rejected Status = "rejected"
	Failed   Status = "failed"
)

// ChangeKind is the tagged discriminator of ProposalChange (spec.md §4.8's
// "Change variants").
type ChangeKind string

const (
	ChangeEnableCapability  ChangeKind = "enable_capability"
	ChangeDisableCapability ChangeKind = "disable_capability"
	ChangeEnableModule      ChangeKind = "enable_module"
	ChangeDisableModule     ChangeKind = "disable_module"
	ChangeSetRestrictions   ChangeKind = "set_restrictions"
	ChangeSetFsRoots        ChangeKind = "set_project_fs_roots"
	ChangeSetNetAllowlist   ChangeKind = "set_project_net_allowlist"
	ChangeSetExecRoot       ChangeKind = "set_project_exec_root"
	ChangeSetSecret         ChangeKind = "set_secret"
	ChangeDeleteSecret      ChangeKind = "delete_secret"
	ChangeSetSecretMode     ChangeKind = "set_secret_mode"
)

// ProposedRestriction is one rule carried by a set_restrictions change,
// prior to compilation.
type ProposedRestriction struct {
	CapabilityType taxonomy.CapabilityType    `json:"capability_type"`
	Effect         restriction.Effect         `json:"effect"`
	Conditions     []restriction.ConditionAST `json:"conditions"`
}

// ProposalChange is the tagged union of every governance mutation a
// proposal may carry — one constructor (Kind) per variant, exhaustively
// matched at application time. Only the fields relevant to Kind are set.
type ProposalChange struct {
	Kind ChangeKind `json:"kind"`

	CapabilityType taxonomy.CapabilityType `json:"capability_type,omitempty"`
	ModuleID       string                  `json:"module_id,omitempty"`

	// set_restrictions: RestrictionTypes is the union of capability types
	// whose rules are wholly replaced; Restrictions is the new rule set
	// (possibly empty, to clear a type down to no rules).
	RestrictionTypes []taxonomy.CapabilityType `json:"restriction_types,omitempty"`
	Restrictions     []ProposedRestriction     `json:"restrictions,omitempty"`

	FsRoots       []registry.FsRoot `json:"fs_roots,omitempty"`
	NetAllowlist  []string          `json:"net_allowlist,omitempty"`
	ExecCwdRootID string            `json:"exec_cwd_root_id,omitempty"`

	// SecretName/SecretMode are safe to persist. SecretValue and
	// Passphrase are redacted to "" by Propose before the change is ever
	// written to disk — the real values are supplied again at approve
	// time via ApproveOptions (spec.md §4.8: "value supplied at approve
	// time only").
	SecretName  string `json:"secret_name,omitempty"`
	SecretValue string `json:"-"`
	SecretMode  string `json:"secret_mode,omitempty"`
	Passphrase  string `json:"-"`
}

// ProposalPreview is the informational-only projection of what approving
// a proposal would currently require, computed at propose time from
// current state (not re-checked until approval — see ApproveProposal step
// 3).
type ProposalPreview struct {
	ChangeSummary          string   `json:"change_summary"`
	RequiresTypedAck       bool     `json:"requires_typed_ack"`
	RequiredAckPhrase      string   `json:"required_ack_phrase,omitempty"`
	HazardsTriggered       []string `json:"hazards_triggered,omitempty"`
	RequiresHazardConfirm  bool     `json:"requires_hazard_confirm"`
}

// Proposal is one queued governance mutation and its full lifecycle
// record.
type Proposal struct {
	ID              string          `json:"id"`
	CreatedAt       string          `json:"created_at"`
	CreatedBy       Actor           `json:"created_by"`
	Status          Status          `json:"status"`
	Change          ProposalChange  `json:"change"`
	Preview         ProposalPreview `json:"preview"`
	ApprovedBy      *Actor          `json:"approved_by,omitempty"`
	ApprovedAt      string          `json:"approved_at,omitempty"`
	AppliedAt       string          `json:"applied_at,omitempty"`
	RejectedBy      *Actor          `json:"rejected_by,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	FailedAt        string          `json:"failed_at,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	RSHashAfter     string          `json:"rs_hash_after,omitempty"`
}

// ProposalSummary is the listing projection of a Proposal.
type ProposalSummary struct {
	ID            string     `json:"id"`
	CreatedAt     string     `json:"created_at"`
	CreatedBy     Actor      `json:"created_by"`
	Status        Status     `json:"status"`
	Kind          ChangeKind `json:"kind"`
	ChangeSummary string     `json:"change_summary"`
}

// SecretsApplier is the narrow interface proposal application needs from
// pkg/secrets, kept here to avoid a dependency cycle. pkg/secrets' store
// satisfies it.
type SecretsApplier interface {
	SetSecret(name, value string) error
	DeleteSecret(name string) error
	SetMode(mode, passphrase string) error
}

// BuildSnapshotHashFunc computes the current RS_hash for the project the
// queue belongs to — injected so the queue never constructs a snapshot
// itself (spec.md §4.8 step 4: "compute rsHashAfter via injected
// buildSnapshotHash()").
type BuildSnapshotHashFunc func() (string, error)

// Dependencies bundles every collaborator proposal application needs.
// Restrictions, Resources, and Secrets may be nil if the deployment never
// proposes those change kinds; a change that needs a nil dependency fails
// with an explicit error rather than panicking.
type Dependencies struct {
	Modules           *registry.ModuleRegistry
	Capabilities      *registry.CapabilityRegistry
	Restrictions      *registry.RestrictionRegistry
	Resources         *registry.ResourceConfigStore
	Acks              *registry.AckStore
	Secrets           SecretsApplier
	IDs               *idgen.Generator
	BuildSnapshotHash BuildSnapshotHashFunc
}

// ApproveOptions carries whatever the approver supplied alongside their
// identity.
type ApproveOptions struct {
	TypedAckPhrase       string
	HazardConfirmedPairs []apply.HazardPairKey
	SecretValue          string
	Passphrase           string
}

// ApproveResult is approveProposal's return value.
type ApproveResult struct {
	Applied     bool
	AckEpoch    int
	RSHashAfter string
	Error       string
}

// Queue is the durable proposal store: one project's full Proposal list,
// rewritten on every transition, plus an append-only event log.
type Queue struct {
	mu        sync.Mutex
	io        stateio.StateIO
	ids       *idgen.Generator
	clk       clock.Clock
	proposals []Proposal
}

// NewQueue returns a Queue backed by io, minting ids from ids and
// timestamps from clk.
func NewQueue(io stateio.StateIO, ids *idgen.Generator, clk clock.Clock) *Queue {
	return &Queue{io: io, ids: ids, clk: clk}
}

// ApplyPersistedState loads proposals.json, if present.
func (q *Queue) ApplyPersistedState() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	proposals, err := stateio.ReadJSON(q.io, proposalsFile, []Proposal{})
	if err != nil {
		return err
	}
	q.proposals = proposals
	return nil
}

// Propose persists change as a new pending proposal, computing its preview
// from current state and redacting any secret material before the change
// ever reaches disk.
func (q *Queue) Propose(change ProposalChange, createdBy Actor, deps Dependencies) (Proposal, error) {
	redacted := change
	redacted.SecretValue = ""
	redacted.Passphrase = ""

	p := Proposal{
		ID:        q.ids.ULID(),
		CreatedAt: clock.ISO8601(q.clk.Now()),
		CreatedBy: createdBy,
		Status:    Pending,
		Change:    redacted,
		Preview:   computePreview(redacted, deps),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.proposals = append(q.proposals, p)
	if err := q.persistLocked(); err != nil {
		return Proposal{}, err
	}
	q.appendEventLocked("proposed", p)
	return p, nil
}

// ListProposals returns every proposal's summary, optionally filtered by
// status, sorted by createdAt descending.
func (q *Queue) ListProposals(status *Status) []ProposalSummary {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]ProposalSummary, 0, len(q.proposals))
	for _, p := range q.proposals {
		if status != nil && p.Status != *status {
			continue
		}
		out = append(out, ProposalSummary{
			ID:            p.ID,
			CreatedAt:     p.CreatedAt,
			CreatedBy:     p.CreatedBy,
			Status:        p.Status,
			Kind:          p.Change.Kind,
			ChangeSummary: p.Preview.ChangeSummary,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// GetProposal returns the full record for id, if it exists.
func (q *Queue) GetProposal(id string) (Proposal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.proposals {
		if p.ID == id {
			return p, true
		}
	}
	return Proposal{}, false
}

func (q *Queue) findLocked(id string) int {
	for i, p := range q.proposals {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// ApproveProposal runs the six-step approval sequence of spec.md §4.8.
func (q *Queue) ApproveProposal(id string, opts ApproveOptions, approver Actor, deps Dependencies) (ApproveResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.findLocked(id)
	if idx < 0 {
		return ApproveResult{Applied: false, Error: "not found"}, nil
	}
	p := q.proposals[idx]
	if p.Status != Pending {
		return ApproveResult{Applied: false, Error: "not pending"}, nil
	}

	if !hasApprovalAuthority(approver.Kind) {
		return ApproveResult{Applied: false, Error: "authority_insufficient"}, nil
	}

	outcome, err := applyChange(p.Change, opts, approver, deps)
	if err != nil {
		p.Status = Failed
		p.FailedAt = clock.ISO8601(q.clk.Now())
		p.FailureReason = err.Error()
		q.proposals[idx] = p
		if perr := q.persistLocked(); perr != nil {
			return ApproveResult{}, perr
		}
		q.appendEventLocked("failed", p)
		return ApproveResult{Applied: false, Error: p.FailureReason}, nil
	}

	if !outcome.applied {
		// Recoverable: proposal stays pending, no state mutated.
		return ApproveResult{Applied: false, AckEpoch: outcome.ackEpoch, Error: outcome.errorReason}, nil
	}

	rsHash, err := deps.BuildSnapshotHash()
	if err != nil {
		p.Status = Failed
		p.FailedAt = clock.ISO8601(q.clk.Now())
		p.FailureReason = fmt.Sprintf("post-commit snapshot hash failed: %v", err)
		q.proposals[idx] = p
		if perr := q.persistLocked(); perr != nil {
			return ApproveResult{}, perr
		}
		q.appendEventLocked("failed", p)
		return ApproveResult{Applied: false, Error: p.FailureReason}, nil
	}

	if deps.Acks != nil {
		if outcome.ackEventID != "" {
			_ = deps.Acks.PatchAckEventRSHash(outcome.ackEventID, rsHash)
		}
		for _, eventID := range outcome.hazardEventIDs {
			_ = deps.Acks.PatchHazardAckEventRSHash(eventID, rsHash)
		}
	}

	now := clock.ISO8601(q.clk.Now())
	approvedBy := approver
	p.Status = Applied
	p.ApprovedBy = &approvedBy
	p.ApprovedAt = now
	p.AppliedAt = now
	p.RSHashAfter = rsHash
	q.proposals[idx] = p
	if err := q.persistLocked(); err != nil {
		return ApproveResult{}, err
	}
	q.appendEventLocked("applied", p)

	return ApproveResult{Applied: true, AckEpoch: outcome.ackEpoch, RSHashAfter: rsHash}, nil
}

// RejectProposal transitions a pending proposal straight to rejected.
// Authority follows the same rule as approval.
func (q *Queue) RejectProposal(id string, rejector Actor, reason string) (Proposal, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.findLocked(id)
	if idx < 0 {
		return Proposal{}, false, nil
	}
	p := q.proposals[idx]
	if p.Status != Pending {
		return Proposal{}, false, nil
	}
	if !hasApprovalAuthority(rejector.Kind) {
		return Proposal{}, false, nil
	}

	rejectedBy := rejector
	p.Status = Rejected
	p.RejectedBy = &rejectedBy
	p.RejectionReason = reason
	q.proposals[idx] = p
	if err := q.persistLocked(); err != nil {
		return Proposal{}, false, err
	}
	q.appendEventLocked("rejected", p)
	return p, true, nil
}

func (q *Queue) persistLocked() error {
	return stateio.WriteJSON(q.io, proposalsFile, q.proposals)
}

type proposalEvent struct {
	EventID    string `json:"event_id"`
	Timestamp  string `json:"timestamp"`
	ProposalID string `json:"proposal_id"`
	Transition string `json:"transition"`
	Status     Status `json:"status"`
}

func (q *Queue) appendEventLocked(transition string, p Proposal) {
	evt := proposalEvent{
		EventID:    q.ids.ULID(),
		Timestamp:  clock.ISO8601(q.clk.Now()),
		ProposalID: p.ID,
		Transition: transition,
		Status:     p.Status,
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return
	}
	_ = q.io.AppendLine(proposalEventsLog, string(line)) // audit trail is best-effort relative to the authoritative proposals.json rewrite above
}

// applyOutcome is applyChange's internal result: applied=false with a
// non-empty errorReason is the recoverable path (proposal stays pending);
// a non-nil error from applyChange itself is the unexpected-exception path
// (proposal becomes failed).
type applyOutcome struct {
	applied        bool
	errorReason    string
	ackEpoch       int
	ackEventID     string
	hazardEventIDs []string
}

func applyChange(change ProposalChange, opts ApproveOptions, approver Actor, deps Dependencies) (applyOutcome, error) {
	switch change.Kind {
	case ChangeEnableCapability:
		if deps.Modules == nil || deps.Capabilities == nil || deps.Acks == nil {
			return applyOutcome{}, fmt.Errorf("proposal: enable_capability requires modules, capabilities, and acks dependencies")
		}
		result, err := apply.EnableCapability(change.CapabilityType, apply.EnableCapabilityOptions{
			TypedAckPhrase:       opts.TypedAckPhrase,
			HazardConfirmedPairs: opts.HazardConfirmedPairs,
		}, deps.Modules, deps.Capabilities, deps.Acks, deps.IDs)
		if err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{
			applied:        result.Applied,
			errorReason:    result.Error,
			ackEpoch:       result.AckEpoch,
			ackEventID:     result.AckEventID,
			hazardEventIDs: result.HazardEventIDs,
		}, nil

	case ChangeDisableCapability:
		if deps.Capabilities == nil {
			return applyOutcome{}, fmt.Errorf("proposal: disable_capability requires a capabilities dependency")
		}
		if err := apply.DisableCapability(change.CapabilityType, deps.Capabilities); err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{applied: true, ackEpoch: currentEpoch(deps)}, nil

	case ChangeEnableModule:
		if deps.Modules == nil {
			return applyOutcome{}, fmt.Errorf("proposal: enable_module requires a modules dependency")
		}
		if err := apply.EnableModule(change.ModuleID, registry.Confirm(approver.ID), deps.Modules); err != nil {
			if err == registry.ErrModuleNotRegistered {
				return applyOutcome{applied: false, errorReason: "module_not_registered"}, nil
			}
			return applyOutcome{}, err
		}
		return applyOutcome{applied: true, ackEpoch: currentEpoch(deps)}, nil

	case ChangeDisableModule:
		if deps.Modules == nil {
			return applyOutcome{}, fmt.Errorf("proposal: disable_module requires a modules dependency")
		}
		if err := apply.DisableModule(change.ModuleID, registry.Confirm(approver.ID), deps.Modules); err != nil {
			if err == registry.ErrModuleNotRegistered {
				return applyOutcome{applied: false, errorReason: "module_not_registered"}, nil
			}
			return applyOutcome{}, err
		}
		return applyOutcome{applied: true, ackEpoch: currentEpoch(deps)}, nil

	case ChangeSetRestrictions:
		if deps.Restrictions == nil {
			return applyOutcome{}, fmt.Errorf("proposal: set_restrictions requires a restrictions dependency")
		}
		for _, t := range change.RestrictionTypes {
			if err := deps.Restrictions.RemoveByType(t); err != nil {
				return applyOutcome{}, err
			}
		}
		for _, r := range change.Restrictions {
			ast := &restriction.RestrictionAST{Effect: r.Effect, CapabilityType: r.CapabilityType, Conditions: r.Conditions}
			if _, err := deps.Restrictions.Add(ast); err != nil {
				return applyOutcome{applied: false, errorReason: fmt.Sprintf("restriction_invalid: %v", err)}, nil
			}
		}
		return applyOutcome{applied: true, ackEpoch: currentEpoch(deps)}, nil

	case ChangeSetFsRoots:
		if deps.Resources == nil {
			return applyOutcome{}, fmt.Errorf("proposal: set_project_fs_roots requires a resources dependency")
		}
		if err := deps.Resources.SetFsRoots(change.FsRoots); err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{applied: true, ackEpoch: currentEpoch(deps)}, nil

	case ChangeSetNetAllowlist:
		if deps.Resources == nil {
			return applyOutcome{}, fmt.Errorf("proposal: set_project_net_allowlist requires a resources dependency")
		}
		if err := deps.Resources.SetNetAllowlist(change.NetAllowlist); err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{applied: true, ackEpoch: currentEpoch(deps)}, nil

	case ChangeSetExecRoot:
		if deps.Resources == nil {
			return applyOutcome{}, fmt.Errorf("proposal: set_project_exec_root requires a resources dependency")
		}
		if err := deps.Resources.SetExecCwdRootID(change.ExecCwdRootID); err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{applied: true, ackEpoch: currentEpoch(deps)}, nil

	case ChangeSetSecret:
		if opts.SecretValue == "" {
			return applyOutcome{applied: false, errorReason: "secret_value_required"}, nil
		}
		if deps.Secrets == nil {
			return applyOutcome{}, fmt.Errorf("proposal: set_secret requires a secrets dependency")
		}
		if err := deps.Secrets.SetSecret(change.SecretName, opts.SecretValue); err != nil {
			return applyOutcome{}, err
		}
		bumpSecretsEpoch(deps)
		return applyOutcome{applied: true, ackEpoch: currentEpoch(deps)}, nil

	case ChangeDeleteSecret:
		if deps.Secrets == nil {
			return applyOutcome{}, fmt.Errorf("proposal: delete_secret requires a secrets dependency")
		}
		if err := deps.Secrets.DeleteSecret(change.SecretName); err != nil {
			return applyOutcome{}, err
		}
		bumpSecretsEpoch(deps)
		return applyOutcome{applied: true, ackEpoch: currentEpoch(deps)}, nil

	case ChangeSetSecretMode:
		if change.SecretMode == "portable" && opts.Passphrase == "" {
			return applyOutcome{applied: false, errorReason: "secret_value_required"}, nil
		}
		if deps.Secrets == nil {
			return applyOutcome{}, fmt.Errorf("proposal: set_secret_mode requires a secrets dependency")
		}
		if err := deps.Secrets.SetMode(change.SecretMode, opts.Passphrase); err != nil {
			return applyOutcome{}, err
		}
		bumpSecretsEpoch(deps)
		return applyOutcome{applied: true, ackEpoch: currentEpoch(deps)}, nil

	default:
		return applyOutcome{}, fmt.Errorf("proposal: unknown change kind %q", change.Kind)
	}
}

func currentEpoch(deps Dependencies) int {
	if deps.Acks == nil {
		return 0
	}
	epoch, err := deps.Acks.Epoch()
	if err != nil {
		return 0
	}
	return epoch
}

func bumpSecretsEpoch(deps Dependencies) {
	if deps.Resources != nil {
		_ = deps.Resources.IncrementSecretsEpoch()
	}
}

func computePreview(change ProposalChange, deps Dependencies) ProposalPreview {
	switch change.Kind {
	case ChangeEnableCapability:
		preview := ProposalPreview{ChangeSummary: fmt.Sprintf("enable capability %s", change.CapabilityType)}
		tier, known := taxonomy.TierOf(change.CapabilityType)
		if !known {
			return preview
		}
		preview.RequiresTypedAck = taxonomy.TypedAckRequired(tier)
		if preview.RequiresTypedAck {
			preview.RequiredAckPhrase = taxonomy.BuildExpectedAckPhrase(tier, change.CapabilityType)
		}
		if deps.Capabilities != nil {
			var hazards []string
			for _, hp := range taxonomy.HazardPairsFor(change.CapabilityType) {
				partner := hp.Partner(change.CapabilityType)
				if deps.Capabilities.IsEnabled(partner) {
					hazards = append(hazards, string(partner))
				}
			}
			sort.Strings(hazards)
			preview.HazardsTriggered = hazards
			preview.RequiresHazardConfirm = len(hazards) > 0
		}
		return preview

	case ChangeDisableCapability:
		return ProposalPreview{ChangeSummary: fmt.Sprintf("disable capability %s", change.CapabilityType)}
	case ChangeEnableModule:
		return ProposalPreview{ChangeSummary: fmt.Sprintf("enable module %s", change.ModuleID)}
	case ChangeDisableModule:
		return ProposalPreview{ChangeSummary: fmt.Sprintf("disable module %s", change.ModuleID)}
	case ChangeSetRestrictions:
		return ProposalPreview{ChangeSummary: fmt.Sprintf("replace restrictions for %d capability type(s)", len(change.RestrictionTypes))}
	case ChangeSetFsRoots:
		return ProposalPreview{ChangeSummary: fmt.Sprintf("set %d fs root(s)", len(change.FsRoots))}
	case ChangeSetNetAllowlist:
		return ProposalPreview{ChangeSummary: fmt.Sprintf("set %d net allowlist entr(y/ies)", len(change.NetAllowlist))}
	case ChangeSetExecRoot:
		return ProposalPreview{ChangeSummary: fmt.Sprintf("set exec cwd root to %q", change.ExecCwdRootID)}
	case ChangeSetSecret:
		return ProposalPreview{ChangeSummary: fmt.Sprintf("set secret %q", change.SecretName)}
	case ChangeDeleteSecret:
		return ProposalPreview{ChangeSummary: fmt.Sprintf("delete secret %q", change.SecretName)}
	case ChangeSetSecretMode:
		return ProposalPreview{ChangeSummary: fmt.Sprintf("switch secrets mode to %q", change.SecretMode)}
	default:
		return ProposalPreview{ChangeSummary: "unknown change"}
	}
}
