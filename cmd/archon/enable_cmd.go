package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/CustodyZero/archon-sub000/pkg/apply"
	"github.com/CustodyZero/archon-sub000/pkg/registry"
	"github.com/CustodyZero/archon-sub000/pkg/taxonomy"
)

// parseHazardPairs parses a comma-separated list of "typeA:typeB" pairs, as
// supplied via --confirm-hazard, into apply.HazardPairKey values.
func parseHazardPairs(raw string) ([]apply.HazardPairKey, error) {
	if raw == "" {
		return nil, nil
	}
	var out []apply.HazardPairKey
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed hazard pair %q, expected typeA:typeB", entry)
		}
		out = append(out, apply.NewHazardPairKey(
			taxonomy.CapabilityType(parts[0]),
			taxonomy.CapabilityType(parts[1]),
		))
	}
	return out, nil
}

// runEnableDisableCmd implements both `enable` and `disable`, which take
// identical arguments and differ only in which direction they mutate.
func runEnableDisableCmd(args []string, stdout, stderr io.Writer, enabling bool) int {
	gf := &globalFlags{}
	verb := "enable"
	if !enabling {
		verb = "disable"
	}
	fs := newFlagSet(verb, gf)
	ack := fs.String("ack", "", "Typed-acknowledgment phrase, required to enable a T3 capability")
	hazards := fs.String("confirm-hazard", "", "Comma-separated typeA:typeB hazard pairs to confirm")
	approver := fs.String("approver", "cli-operator", "Approver id recorded on the confirmation")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Fprintf(stderr, "Usage: archon %s {module|capability} <id> [flags]\n", verb)
		return 2
	}
	kind, target := rest[0], rest[1]

	proj, code, ok := projectOrFail(gf, stderr)
	if !ok {
		return code
	}

	switch kind {
	case "module":
		confirmation := registry.Confirm(*approver)
		var err error
		if enabling {
			err = apply.EnableModule(target, confirmation, proj.Modules)
		} else {
			err = apply.DisableModule(target, confirmation, proj.Modules)
		}
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "module %s %sd\n", target, verb)
		return 0

	case "capability":
		capType := taxonomy.CapabilityType(target)
		if !enabling {
			if err := apply.DisableCapability(capType, proj.Capabilities); err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				return 1
			}
			fmt.Fprintf(stdout, "capability %s disabled\n", target)
			return 0
		}

		pairs, err := parseHazardPairs(*hazards)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		result, err := apply.EnableCapability(capType, apply.EnableCapabilityOptions{
			TypedAckPhrase:       *ack,
			HazardConfirmedPairs: pairs,
		}, proj.Modules, proj.Capabilities, proj.Acks, proj.IDs)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if !result.Applied {
			fmt.Fprintf(stderr, "Denied: %s\n", result.Error)
			return 1
		}
		fmt.Fprintf(stdout, "capability %s enabled (ack_epoch=%d)\n", target, result.AckEpoch)
		return 0

	default:
		fmt.Fprintf(stderr, "Unknown target kind %q, expected module or capability\n", kind)
		return 2
	}
}
