package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/CustodyZero/archon-sub000/pkg/proposal"
	"github.com/CustodyZero/archon-sub000/pkg/restriction"
	"github.com/CustodyZero/archon-sub000/pkg/taxonomy"
)

func runProposeCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: archon propose {enable|disable|set-restrictions} ...")
		return 2
	}
	sub, rest := args[0], args[1:]

	gf := &globalFlags{}
	fs := newFlagSet("propose "+sub, gf)
	actorID := fs.String("as", "cli-operator", "Actor id recorded as the proposal's author")

	var change proposal.ProposalChange

	switch sub {
	case "enable", "disable":
		kind := proposal.ChangeEnableCapability
		if sub == "disable" {
			kind = proposal.ChangeDisableCapability
		}
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		remaining := fs.Args()
		if len(remaining) < 2 {
			fmt.Fprintf(stderr, "Usage: archon propose %s {module|capability} <id>\n", sub)
			return 2
		}
		target := remaining[0]
		id := remaining[1]
		if target == "module" {
			if sub == "enable" {
				kind = proposal.ChangeEnableModule
			} else {
				kind = proposal.ChangeDisableModule
			}
			change = proposal.ProposalChange{Kind: kind, ModuleID: id}
		} else {
			change = proposal.ProposalChange{Kind: kind, CapabilityType: taxonomy.CapabilityType(id)}
		}

	case "set-restrictions":
		capType := fs.String("type", "", "Capability type whose rules are replaced")
		var dsl stringSliceFlag
		fs.Var(&dsl, "dsl", "A DSL rule source to include in the replacement set; may repeat")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		if *capType == "" {
			fmt.Fprintln(stderr, "Usage: archon propose set-restrictions --type <type> [--dsl '<rule>']...")
			return 2
		}
		var restrictions []proposal.ProposedRestriction
		for _, src := range dsl {
			ast, err := restriction.Parse(src)
			if err != nil {
				fmt.Fprintf(stderr, "Error: parse rule %q: %v\n", src, err)
				return 2
			}
			restrictions = append(restrictions, proposal.ProposedRestriction{
				CapabilityType: ast.CapabilityType,
				Effect:         ast.Effect,
				Conditions:     ast.Conditions,
			})
		}
		change = proposal.ProposalChange{
			Kind:             proposal.ChangeSetRestrictions,
			RestrictionTypes: []taxonomy.CapabilityType{taxonomy.CapabilityType(*capType)},
			Restrictions:     restrictions,
		}

	default:
		fmt.Fprintf(stderr, "Unknown propose subcommand %q\n", sub)
		return 2
	}

	proj, code, ok := projectOrFail(gf, stderr)
	if !ok {
		return code
	}

	p, err := proj.Queue.Propose(change, proposal.Actor{Kind: proposal.KindCLI, ID: *actorID}, proj.proposalDeps())
	if err != nil {
		fmt.Fprintf(stderr, "Error: propose: %v\n", err)
		return 1
	}

	if gf.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return emitOrFail(enc.Encode(p), stderr)
	}
	fmt.Fprintf(stdout, "proposed %s: %s\n", p.ID, p.Preview.ChangeSummary)
	if p.Preview.RequiresTypedAck {
		fmt.Fprintf(stdout, "  requires typed ack: %q\n", p.Preview.RequiredAckPhrase)
	}
	if p.Preview.RequiresHazardConfirm {
		fmt.Fprintf(stdout, "  requires hazard confirmation: %v\n", p.Preview.HazardsTriggered)
	}
	return 0
}
