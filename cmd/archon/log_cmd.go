package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/CustodyZero/archon-sub000/pkg/logreader"
)

// logFiles maps the operator-facing log name to its on-disk filename.
// These mirror the unexported constants each owning package uses to name
// its own log (gate's decisions.jsonl, proposal's proposal-events.jsonl,
// registry's acknowledgments.jsonl / hazard-acks.jsonl) — duplicated here
// because the CLI reads logs as plain text, not through their owners.
var logFiles = map[string]string{
	"decisions":       "decisions.jsonl",
	"proposal-events": "proposal-events.jsonl",
	"acknowledgments": "acknowledgments.jsonl",
	"hazard-acks":     "hazard-acks.jsonl",
}

type logView struct {
	Stats  logreader.ReadStats  `json:"stats"`
	Drift  logreader.DriftResult `json:"drift"`
	Events []logreader.LogEvent `json:"events"`
}

func runLogCmd(args []string, stdout, stderr io.Writer) int {
	gf := &globalFlags{}
	fs := newFlagSet("log", gf)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	name := "decisions"
	if len(rest) >= 1 {
		name = rest[0]
	}
	fileName, known := logFiles[name]
	if !known {
		fmt.Fprintf(stderr, "Unknown log %q, expected one of: decisions, proposal-events, acknowledgments, hazard-acks\n", name)
		return 2
	}

	proj, code, ok := projectOrFail(gf, stderr)
	if !ok {
		return code
	}

	raw, err := proj.IO.ReadLogRaw(fileName)
	if err != nil {
		fmt.Fprintf(stderr, "Error: read log: %v\n", err)
		return 1
	}

	result := logreader.ReadLog(raw)
	drift := logreader.DetectDrift(result)
	view := logView{Stats: result.Stats, Drift: drift, Events: result.Events}

	if gf.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return emitOrFail(enc.Encode(view), stderr)
	}

	fmt.Fprintf(stdout, "%s%s%s  %d events (%d parse errors, %d duplicates)\n",
		ColorBold, name, ColorReset, len(result.Events), result.Stats.ParseErrors, result.Stats.Duplicates)
	fmt.Fprintf(stdout, "drift: %s", drift.Status)
	if len(drift.Reasons) > 0 {
		fmt.Fprintf(stdout, " (%v)", drift.Reasons)
	}
	fmt.Fprintln(stdout, "")
	for _, e := range result.Events {
		fmt.Fprintf(stdout, "  %s  %s  %s\n", e.Timestamp, e.EventID, e.Status)
	}

	if drift.Status == logreader.DriftConflict {
		return 1
	}
	return 0
}
