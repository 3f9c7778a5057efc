// Package validate implements the validation engine (spec.md §4.6,
// component C6): the pure function (action, snapshot) -> decision that
// enforces deny-by-default, allowlist semantics, restriction conjunction,
// resource scoping, and project binding. Evaluate performs no I/O, reads
// no clock, and is fully deterministic over its two arguments.
package validate

import (
	"net/url"
	"strings"

	"github.com/CustodyZero/archon-sub000/pkg/action"
	"github.com/CustodyZero/archon-sub000/pkg/registry"
	"github.com/CustodyZero/archon-sub000/pkg/restriction"
	"github.com/CustodyZero/archon-sub000/pkg/snapshot"
	"github.com/CustodyZero/archon-sub000/pkg/taxonomy"
)

// Outcome is the decision evaluate returns.
type Outcome string

const (
	Permit   Outcome = "permit"
	Deny     Outcome = "deny"
	Escalate Outcome = "escalate" // reserved; the core never produces it in v0.1
)

// Decision is evaluate's return value.
type Decision struct {
	Outcome        Outcome
	TriggeredRules []string
}

func deny(reasons ...string) Decision {
	return Decision{Outcome: Deny, TriggeredRules: reasons}
}

// Evaluate runs the six-step evaluation order of spec.md §4.6 against one
// action and one rule snapshot. The first step that reaches a decision ends
// evaluation; step order is load-bearing and must not be reordered.
func Evaluate(a action.CapabilityInstance, snap snapshot.RuleSnapshot) Decision {
	// 1. Project binding.
	if a.ProjectID != snap.ProjectID {
		return deny("project_mismatch")
	}

	// 2. Taxonomy.
	if !taxonomy.IsKnown(a.Type) {
		return deny()
	}

	// 3. Module enabled.
	if !moduleEnabled(snap, a.ModuleID) {
		return deny()
	}

	// 4. Capability enabled.
	if !capabilityEnabled(snap, a.Type) {
		return deny()
	}

	// 5. Resource scoping (type-specific).
	if d, handled := checkResourceScoping(a, snap); handled {
		return d
	}

	// 6. DRR evaluation.
	return evaluateDRRs(a, snap)
}

func moduleEnabled(snap snapshot.RuleSnapshot, moduleID string) bool {
	for _, m := range snap.EnabledModules {
		if m.ModuleID == moduleID {
			return true
		}
	}
	return false
}

func capabilityEnabled(snap snapshot.RuleSnapshot, t taxonomy.CapabilityType) bool {
	for _, c := range snap.EnabledCapabilities {
		if c == string(t) {
			return true
		}
	}
	return false
}

// checkResourceScoping returns (decision, true) when the action's type
// carries type-specific resource scoping and that scoping rejected it, or
// (zero, false) when scoping does not apply or passed (falling through to
// DRR evaluation, per spec.md §4.6 step 5).
func checkResourceScoping(a action.CapabilityInstance, snap snapshot.RuleSnapshot) (Decision, bool) {
	switch {
	case strings.HasPrefix(string(a.Type), "fs."):
		return checkFsScoping(a, snap)
	case strings.HasPrefix(string(a.Type), "net."):
		return checkNetScoping(a, snap)
	case strings.HasPrefix(string(a.Type), "exec."):
		return checkExecScoping(a, snap)
	default:
		return Decision{}, false
	}
}

func checkFsScoping(a action.CapabilityInstance, snap snapshot.RuleSnapshot) (Decision, bool) {
	roots := snap.ResourceConfig.FsRoots
	if len(roots) == 0 {
		return Decision{}, false
	}

	rawPath, ok := a.Params["path"]
	if !ok {
		return deny("fs_path_missing"), true
	}
	normPath := restriction.NormalizePath(rawPath)

	root, ok := boundaryMatch(normPath, roots)
	if !ok {
		return deny("fs_path_outside_roots"), true
	}

	if (a.Type == taxonomy.FSWrite || a.Type == taxonomy.FSDelete) && root.Perm != registry.FsRootReadWrite {
		return deny("fs_write_to_readonly_root"), true
	}

	return Decision{}, false
}

// boundaryMatch returns the most specific (longest path prefix) root that
// contains normPath, per spec.md's "innermost root wins" resolution for
// overlapping fs_roots (see DESIGN.md open-question log).
func boundaryMatch(normPath string, roots []registry.FsRoot) (registry.FsRoot, bool) {
	var best registry.FsRoot
	found := false
	for _, r := range roots {
		normRoot := restriction.NormalizePath(r.Path)
		if normPath != normRoot && !strings.HasPrefix(normPath, normRoot+"/") {
			continue
		}
		if !found || len(normRoot) > len(restriction.NormalizePath(best.Path)) {
			best = r
			found = true
		}
	}
	return best, found
}

func checkNetScoping(a action.CapabilityInstance, snap snapshot.RuleSnapshot) (Decision, bool) {
	allowlist := snap.ResourceConfig.NetAllowlist
	if len(allowlist) == 0 {
		return deny("net_no_allowlist"), true
	}

	rawURL, ok := a.Params["url"]
	if !ok {
		return deny("net_host_missing"), true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return deny("net_invalid_url"), true
	}
	host := parsed.Hostname()
	if host == "" {
		return deny("net_invalid_url"), true
	}

	for _, pattern := range allowlist {
		if restriction.MatchHost(pattern, host) {
			return Decision{}, false
		}
	}
	return deny("net_host_not_allowlisted"), true
}

func checkExecScoping(a action.CapabilityInstance, snap snapshot.RuleSnapshot) (Decision, bool) {
	roots := snap.ResourceConfig.FsRoots
	if len(roots) == 0 {
		return Decision{}, false
	}

	cwdRootID := snap.ResourceConfig.ExecCwdRootID
	if cwdRootID != "" {
		for _, r := range roots {
			if r.ID == cwdRootID {
				return Decision{}, false
			}
		}
		return deny("exec_cwd_root_not_found"), true
	}

	for _, r := range roots {
		if r.ID == "workspace" {
			return Decision{}, false
		}
	}
	return deny("exec_no_cwd_configured"), true
}

func evaluateDRRs(a action.CapabilityInstance, snap snapshot.RuleSnapshot) Decision {
	var allowRules, denyRules []*restriction.CompiledDRR
	for _, drr := range snap.DRRCanonical {
		if drr.CapabilityType != a.Type {
			continue
		}
		switch drr.Effect {
		case restriction.Allow:
			allowRules = append(allowRules, drr)
		case restriction.Deny:
			denyRules = append(denyRules, drr)
		}
	}

	fields := restriction.FlattenParams(a.Params)

	var matchedDeny []string
	for _, drr := range denyRules {
		if drr.Matches(fields) {
			matchedDeny = append(matchedDeny, drr.ID)
		}
	}
	if len(matchedDeny) > 0 {
		return deny(matchedDeny...)
	}

	if len(allowRules) > 0 {
		var matchedAllow []string
		for _, drr := range allowRules {
			if drr.Matches(fields) {
				matchedAllow = append(matchedAllow, drr.ID)
			}
		}
		if len(matchedAllow) == 0 {
			return deny() // allowlist exhaustion: no rule id surfaced
		}
		return Decision{Outcome: Permit, TriggeredRules: matchedAllow}
	}

	// No allow rules for this type, and no deny rule matched: permit with
	// nothing to surface (covers both "no DRRs of either kind" and
	// "deny rules exist but none matched").
	return Decision{Outcome: Permit, TriggeredRules: nil}
}
