package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/CustodyZero/archon-sub000/pkg/snapshot"
)

type statusView struct {
	ProjectID           string   `json:"project_id"`
	RSHash              string   `json:"rs_hash"`
	ConstructedAt       string   `json:"constructed_at"`
	EnabledModules      []string `json:"enabled_modules"`
	EnabledCapabilities []string `json:"enabled_capabilities"`
	RestrictionCount    int      `json:"restriction_count"`
	AckEpoch            int      `json:"ack_epoch"`
	SecretsMode         string   `json:"secrets_mode"`
	FsRootCount         int      `json:"fs_root_count"`
	NetAllowlistCount   int      `json:"net_allowlist_count"`
}

func runStatusCmd(args []string, stdout, stderr io.Writer) int {
	gf := &globalFlags{}
	fs := newFlagSet("status", gf)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	proj, code, ok := projectOrFail(gf, stderr)
	if !ok {
		return code
	}

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

	var moduleIDs []string
	for _, m := range snap.EnabledModules {
		moduleIDs = append(moduleIDs, m.ModuleID)
	}

	view := statusView{
		ProjectID:           snap.ProjectID,
		RSHash:              rsHash,
		ConstructedAt:       snap.ConstructedAt,
		EnabledModules:      moduleIDs,
		EnabledCapabilities: snap.EnabledCapabilities,
		RestrictionCount:    len(snap.DRRCanonical),
		AckEpoch:            snap.AckEpoch,
		SecretsMode:         string(proj.Secrets.CurrentMode()),
		FsRootCount:         len(snap.ResourceConfig.FsRoots),
		NetAllowlistCount:   len(snap.ResourceConfig.NetAllowlist),
	}

	if gf.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return emitOrFail(enc.Encode(view), stderr)
	}

	fmt.Fprintf(stdout, "%sproject%s       %s\n", ColorBold, ColorReset, view.ProjectID)
	fmt.Fprintf(stdout, "%srs_hash%s       %s\n", ColorBold, ColorReset, view.RSHash)
	fmt.Fprintf(stdout, "%sconstructed%s   %s\n", ColorBold, ColorReset, view.ConstructedAt)
	fmt.Fprintf(stdout, "%sack_epoch%s     %d\n", ColorBold, ColorReset, view.AckEpoch)
	fmt.Fprintf(stdout, "%ssecrets_mode%s  %s\n", ColorBold, ColorReset, view.SecretsMode)
	fmt.Fprintln(stdout, "")
	fmt.Fprintf(stdout, "%smodules (%d)%s\n", ColorGreen, len(view.EnabledModules), ColorReset)
	for _, id := range view.EnabledModules {
		fmt.Fprintf(stdout, "  - %s\n", id)
	}
	fmt.Fprintf(stdout, "%scapabilities (%d)%s\n", ColorGreen, len(view.EnabledCapabilities), ColorReset)
	for _, c := range view.EnabledCapabilities {
		fmt.Fprintf(stdout, "  - %s\n", c)
	}
	fmt.Fprintf(stdout, "%srestrictions%s  %d rules\n", ColorGreen, ColorReset, view.RestrictionCount)
	fmt.Fprintf(stdout, "%sfs roots%s      %d\n", ColorGreen, ColorReset, view.FsRootCount)
	fmt.Fprintf(stdout, "%snet allowlist%s %d hosts\n", ColorGreen, ColorReset, view.NetAllowlistCount)
	return 0
}

func emitOrFail(err error, stderr io.Writer) int {
	if err != nil {
		fmt.Fprintf(stderr, "Error: encode output: %v\n", err)
		return 1
	}
	return 0
}
