// Package taxonomy holds Archon's closed, versioned capability type
// enumeration: each CapabilityType maps to exactly one RiskTier, T3 types
// require a typed acknowledgment phrase at enable time, and declared hazard
// pairs describe dangerous co-enabled combinations. Per spec.md §1
// Non-goals, this taxonomy never grows at runtime — adding a capability
// type is a versioned code change, not plugin loading.
package taxonomy

import "fmt"

// EngineVersion is bumped whenever the taxonomy (types, tiers, or hazard
// matrix) changes, since engine_version is part of the RuleSnapshot hash
// input (spec.md I4).
const EngineVersion = "archon-taxonomy-v1"

// CapabilityType is a closed-taxonomy identifier, e.g. "fs.read".
type CapabilityType string

// RiskTier orders capability types by blast radius. T3 requires a typed ack.
type RiskTier string

const (
	T0 RiskTier = "T0"
	T1 RiskTier = "T1"
	T2 RiskTier = "T2"
	T3 RiskTier = "T3"
)

// The closed set of ~19 capability types, per spec.md §3.
const (
	FSRead       CapabilityType = "fs.read"
	FSWrite      CapabilityType = "fs.write"
	FSDelete     CapabilityType = "fs.delete"
	FSList       CapabilityType = "fs.list"
	FSWatch      CapabilityType = "fs.watch"
	ExecRun      CapabilityType = "exec.run"
	ExecShell    CapabilityType = "exec.shell"
	NetFetchHTTP CapabilityType = "net.fetch.http"
	NetListen    CapabilityType = "net.listen"
	NetSocket    CapabilityType = "net.socket"
	SecretsUse   CapabilityType = "secrets.use"
	SecretsWrite CapabilityType = "secrets.write"
	MessagingTx  CapabilityType = "messaging.send"
	MessagingRx  CapabilityType = "messaging.receive"
	UIPrompt     CapabilityType = "ui.prompt"
	UINotify     CapabilityType = "ui.notify"
	ClipboardRW  CapabilityType = "clipboard.readwrite"
	ProcessKill  CapabilityType = "process.kill"
	SystemExec   CapabilityType = "system.privileged_exec"
)

// tiers is the static, closed CapabilityType -> RiskTier map.
var tiers = map[CapabilityType]RiskTier{
	FSRead:       T0,
	FSList:       T0,
	FSWatch:      T1,
	FSWrite:      T1,
	FSDelete:     T3,
	ExecRun:      T2,
	ExecShell:    T3,
	NetFetchHTTP: T1,
	NetListen:    T2,
	NetSocket:    T2,
	SecretsUse:   T2,
	SecretsWrite: T3,
	MessagingTx:  T1,
	MessagingRx:  T0,
	UIPrompt:     T0,
	UINotify:     T0,
	ClipboardRW:  T1,
	ProcessKill:  T2,
	SystemExec:   T3,
}

// HazardPair is a declared dangerous combination of two co-enabled
// capability types. Pairs are undirected: {A,B} and {B,A} are the same
// hazard.
type HazardPair struct {
	TypeA       CapabilityType
	TypeB       CapabilityType
	Description string
}

// hazardMatrix is the closed, versioned set of hazard pairs.
var hazardMatrix = []HazardPair{
	{SecretsUse, NetFetchHTTP, "a secret value can be read and exfiltrated over the network in the same turn"},
	{ExecShell, NetFetchHTTP, "arbitrary shell execution combined with network access enables remote code fetch-and-run"},
	{ExecShell, SecretsUse, "arbitrary shell execution can read or replay acknowledged secrets"},
	{FSDelete, ExecRun, "destructive filesystem writes combined with process execution enable self-modifying wipe sequences"},
	{SystemExec, SecretsWrite, "privileged execution combined with secret mutation can silently rotate credentials"},
	{ClipboardRW, NetFetchHTTP, "clipboard contents can be exfiltrated over the network"},
}

// ErrUnknownType is returned wherever an unrecognized CapabilityType is
// presented — at snapshot construction, validation, or enablement
// (spec.md I7: taxonomy closure).
var ErrUnknownType = fmt.Errorf("capability type not in taxonomy")

// IsKnown reports whether t is a member of the closed taxonomy.
func IsKnown(t CapabilityType) bool {
	_, ok := tiers[t]
	return ok
}

// TierOf returns the static risk tier for t. The second return is false for
// unknown types — callers must treat that as a taxonomy violation, never a
// default tier.
func TierOf(t CapabilityType) (RiskTier, bool) {
	tier, ok := tiers[t]
	return tier, ok
}

// TypedAckRequired reports whether tier requires a typed acknowledgment
// phrase at enable time. True iff tier is T3.
func TypedAckRequired(tier RiskTier) bool {
	return tier == T3
}

// BuildExpectedAckPhrase returns the byte-exact phrase an operator must
// supply to enable a T3 capability: "I ACCEPT {tier} RISK ({type})". No
// trimming or case folding is ever applied when comparing against it.
func BuildExpectedAckPhrase(tier RiskTier, t CapabilityType) string {
	return fmt.Sprintf("I ACCEPT %s RISK (%s)", tier, t)
}

// HazardPairsFor returns every declared hazard pair involving t.
func HazardPairsFor(t CapabilityType) []HazardPair {
	var out []HazardPair
	for _, hp := range hazardMatrix {
		if hp.TypeA == t || hp.TypeB == t {
			out = append(out, hp)
		}
	}
	return out
}

// Partner returns the other member of a hazard pair relative to t.
func (hp HazardPair) Partner(t CapabilityType) CapabilityType {
	if hp.TypeA == t {
		return hp.TypeB
	}
	return hp.TypeA
}

// AllTypes returns every known capability type, for enumeration in docs,
// CLI help, and exhaustiveness tests.
func AllTypes() []CapabilityType {
	out := make([]CapabilityType, 0, len(tiers))
	for t := range tiers {
		out = append(out, t)
	}
	return out
}
