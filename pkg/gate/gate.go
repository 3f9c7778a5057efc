// Package gate implements the execution gate (spec.md §4.7, component
// C7): the single choke point that sequences validate -> durable log
// append -> dispatch for every proposed action.
package gate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/CustodyZero/archon-sub000/pkg/action"
	"github.com/CustodyZero/archon-sub000/pkg/canonicalize"
	"github.com/CustodyZero/archon-sub000/pkg/clock"
	"github.com/CustodyZero/archon-sub000/pkg/idgen"
	"github.com/CustodyZero/archon-sub000/pkg/registry"
	"github.com/CustodyZero/archon-sub000/pkg/snapshot"
	"github.com/CustodyZero/archon-sub000/pkg/stateio"
	"github.com/CustodyZero/archon-sub000/pkg/validate"
)

const decisionsLog = "decisions.jsonl"

// DecisionLog is one line of decisions.jsonl — the durable, append-only
// record of every action the gate ever evaluated, permitted or not.
type DecisionLog struct {
	EventID        string                     `json:"event_id"`
	Timestamp      string                     `json:"timestamp"`
	AgentID        string                     `json:"agent_id"`
	ProposedAction action.CapabilityInstance  `json:"proposed_action"`
	Outcome        validate.Outcome           `json:"outcome"`
	TriggeredRules []string                   `json:"triggered_rules"`
	RSHash         string                     `json:"rs_hash"`
	InputHash      string                     `json:"input_hash"`
	OutputHash     *string                    `json:"output_hash"`
	DispatchError  string                     `json:"dispatch_error,omitempty"`
}

// AdapterCallContext is the fixed shape every dispatched handler receives
// alongside the action it is handling (spec.md §4.7).
type AdapterCallContext struct {
	AgentID            string
	CapabilityInstance action.CapabilityInstance
	RSHash             string
	ResourceConfig     registry.ResourceConfig
}

// Adapters bundles the side-effecting collaborators a handler may call
// into. Archon's core never constructs or type-asserts these — they are an
// external contract (spec.md §1's "out of scope: concrete adapters") that
// handlers alone know how to use.
type Adapters struct {
	Filesystem any
	Network    any
	Exec       any
	Secrets    any
	Messaging  any
	UI         any
}

// Handler dispatches one permitted action to its side-effecting
// implementation. Any error it returns is converted to a terminal "failed"
// dispatch result and logged under the same event_id.
type Handler func(ctx context.Context, a action.CapabilityInstance, adapters Adapters, callCtx AdapterCallContext) (any, error)

// HandlerKey identifies a handler by (module_id, capability_id), the same
// pair the execution gate looks up at dispatch time.
type HandlerKey struct {
	ModuleID     string
	CapabilityID string
}

// HandlerRegistry maps HandlerKey to the Handler that services it.
type HandlerRegistry map[HandlerKey]Handler

// Result is what gate() returns: the decision, plus a dispatch outcome if
// one occurred.
type Result struct {
	Decision      validate.Decision
	DispatchedOK  bool
	DispatchValue any
	DispatchErr   error
}

// Gate sequences validate -> durable log append -> dispatch for one
// action (spec.md §4.7). io is the project's StateIO; handlers resolves
// (module_id, capability_id) to a dispatch function; adapters is passed
// through unexamined to whichever handler is invoked.
type Gate struct {
	io       stateio.StateIO
	ids      *idgen.Generator
	clk      clock.Clock
	handlers HandlerRegistry
	adapters Adapters
}

// New returns a Gate backed by io, minting event ids from ids and
// timestamps from clk.
func New(io stateio.StateIO, ids *idgen.Generator, clk clock.Clock, handlers HandlerRegistry, adapters Adapters) *Gate {
	return &Gate{io: io, ids: ids, clk: clk, handlers: handlers, adapters: adapters}
}

// Run evaluates a against snap, appends the decision durably, and — only
// on Permit — dispatches the registered handler for
// (a.ModuleID, a.CapabilityID).
func (g *Gate) Run(ctx context.Context, agentID string, a action.CapabilityInstance, snap snapshot.RuleSnapshot, rsHash string) (Result, error) {
	inputHash, err := canonicalize.Hash(a)
	if err != nil {
		return Result{}, fmt.Errorf("gate: hash action: %w", err)
	}

	decision := validate.Evaluate(a, snap)

	eventID := g.ids.ULID()
	entry := DecisionLog{
		EventID:        eventID,
		Timestamp:      clock.ISO8601(g.clk.Now()),
		AgentID:        agentID,
		ProposedAction: a,
		Outcome:        decision.Outcome,
		TriggeredRules: decision.TriggeredRules,
		RSHash:         rsHash,
		InputHash:      inputHash,
	}

	if err := g.appendDecision(entry); err != nil {
		return Result{}, fmt.Errorf("gate: append decision log: %w", err)
	}

	result := Result{Decision: decision}
	if decision.Outcome != validate.Permit {
		return result, nil
	}

	handler, ok := g.handlers[HandlerKey{ModuleID: a.ModuleID, CapabilityID: a.CapabilityID}]
	if !ok {
		result.DispatchErr = fmt.Errorf("gate: no handler registered for module=%s capability=%s", a.ModuleID, a.CapabilityID)
		g.logDispatchFailure(eventID, entry, result.DispatchErr)
		return result, nil
	}

	callCtx := AdapterCallContext{
		AgentID:            agentID,
		CapabilityInstance: a,
		RSHash:             rsHash,
		ResourceConfig:     snap.ResourceConfig,
	}

	value, dispatchErr := g.invoke(ctx, handler, a, callCtx)
	if dispatchErr != nil {
		result.DispatchErr = dispatchErr
		g.logDispatchFailure(eventID, entry, dispatchErr)
		return result, nil
	}

	result.DispatchedOK = true
	result.DispatchValue = value
	return result, nil
}

// invoke calls handler, recovering a panic into an error so that a
// misbehaving adapter cannot take down the gate's caller — "any thrown
// error is converted to a terminal failed dispatch" per spec.md §4.7.
func (g *Gate) invoke(ctx context.Context, handler Handler, a action.CapabilityInstance, callCtx AdapterCallContext) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gate: handler panicked: %v", r)
		}
	}()
	return handler(ctx, a, g.adapters, callCtx)
}

func (g *Gate) appendDecision(entry DecisionLog) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return g.io.AppendLine(decisionsLog, string(line))
}

// logDispatchFailure appends a second decisions.jsonl line under the same
// event_id recording the terminal dispatch failure, so a reader can join
// the evaluation record to its dispatch outcome without a separate log.
func (g *Gate) logDispatchFailure(eventID string, entry DecisionLog, dispatchErr error) {
	entry.DispatchError = dispatchErr.Error()
	entry.Timestamp = clock.ISO8601(g.clk.Now())
	_ = g.appendDecision(entry) // best-effort: the primary decision line is already durable
}
