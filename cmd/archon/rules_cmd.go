package main

import (
	"encoding/json"
	"fmt"
	"io"
)

func runRulesCmd(args []string, stdout, stderr io.Writer) int {
	gf := &globalFlags{}
	fs := newFlagSet("rules", gf)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	proj, code, ok := projectOrFail(gf, stderr)
	if !ok {
		return code
	}

	drrs, err := proj.Restrictions.CompileAll()
	if err != nil {
		fmt.Fprintf(stderr, "Error: compile restrictions: %v\n", err)
		return 1
	}

	if gf.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return emitOrFail(enc.Encode(drrs), stderr)
	}

	for _, d := range drrs {
		fmt.Fprintf(stdout, "%s  %s %s  ir_hash=%s\n", d.ID, d.Effect, d.CapabilityType, d.IRHash)
		for _, c := range d.Conditions {
			fmt.Fprintf(stdout, "    %s %s %s\n", c.Field, c.Op, c.Value)
		}
	}
	return 0
}
