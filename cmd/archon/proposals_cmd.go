package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/CustodyZero/archon-sub000/pkg/proposal"
)

func runProposalsCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: archon proposals {list|show|approve|reject} ...")
		return 2
	}
	sub, rest := args[0], args[1:]

	gf := &globalFlags{}
	fs := newFlagSet("proposals "+sub, gf)

	switch sub {
	case "list":
		statusFilter := fs.String("status", "", "Filter by status: pending, applied, rejected, failed")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		proj, code, ok := projectOrFail(gf, stderr)
		if !ok {
			return code
		}
		var status *proposal.Status
		if *statusFilter != "" {
			s := proposal.Status(*statusFilter)
			status = &s
		}
		summaries := proj.Queue.ListProposals(status)
		if gf.json {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return emitOrFail(enc.Encode(summaries), stderr)
		}
		for _, s := range summaries {
			fmt.Fprintf(stdout, "%s  %-10s %-24s %s\n", s.ID, s.Status, s.Kind, s.ChangeSummary)
		}
		return 0

	case "show":
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		remaining := fs.Args()
		if len(remaining) != 1 {
			fmt.Fprintln(stderr, "Usage: archon proposals show <id>")
			return 2
		}
		proj, code, ok := projectOrFail(gf, stderr)
		if !ok {
			return code
		}
		p, found := proj.Queue.GetProposal(remaining[0])
		if !found {
			fmt.Fprintf(stderr, "Error: proposal %q not found\n", remaining[0])
			return 1
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return emitOrFail(enc.Encode(p), stderr)

	case "approve":
		ack := fs.String("ack", "", "Typed-acknowledgment phrase")
		hazards := fs.String("confirm-hazard", "", "Comma-separated typeA:typeB hazard pairs")
		secretValue := fs.String("secret-value", "", "Secret value, for set_secret changes")
		passphrase := fs.String("passphrase", "", "Passphrase, for portable secret mode changes")
		approver := fs.String("as", "cli-operator", "Approver id")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		remaining := fs.Args()
		if len(remaining) != 1 {
			fmt.Fprintln(stderr, "Usage: archon proposals approve <id> [flags]")
			return 2
		}
		proj, code, ok := projectOrFail(gf, stderr)
		if !ok {
			return code
		}
		pairs, err := parseHazardPairs(*hazards)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		result, err := proj.Queue.ApproveProposal(remaining[0], proposal.ApproveOptions{
			TypedAckPhrase:       *ack,
			HazardConfirmedPairs: pairs,
			SecretValue:          *secretValue,
			Passphrase:           *passphrase,
		}, proposal.Actor{Kind: proposal.KindCLI, ID: *approver}, proj.proposalDeps())
		if err != nil {
			fmt.Fprintf(stderr, "Error: approve: %v\n", err)
			return 1
		}
		if !result.Applied {
			fmt.Fprintf(stderr, "Not applied: %s\n", result.Error)
			return 1
		}
		fmt.Fprintf(stdout, "applied (ack_epoch=%d, rs_hash=%s)\n", result.AckEpoch, result.RSHashAfter)
		return 0

	case "reject":
		reason := fs.String("reason", "", "Rejection reason")
		rejector := fs.String("as", "cli-operator", "Rejector id")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		remaining := fs.Args()
		if len(remaining) != 1 {
			fmt.Fprintln(stderr, "Usage: archon proposals reject <id> [--reason text]")
			return 2
		}
		proj, code, ok := projectOrFail(gf, stderr)
		if !ok {
			return code
		}
		_, found, err := proj.Queue.RejectProposal(remaining[0], proposal.Actor{Kind: proposal.KindCLI, ID: *rejector}, *reason)
		if err != nil {
			fmt.Fprintf(stderr, "Error: reject: %v\n", err)
			return 1
		}
		if !found {
			fmt.Fprintf(stderr, "Error: proposal %q not found or not pending\n", remaining[0])
			return 1
		}
		fmt.Fprintln(stdout, "rejected")
		return 0

	default:
		fmt.Fprintf(stderr, "Unknown proposals subcommand %q\n", sub)
		return 2
	}
}
