package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/CustodyZero/archon-sub000/pkg/stateio"
)

func runProjectCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: archon project {create|list|open|current} ...")
		return 2
	}
	sub, rest := args[0], args[1:]

	gf := &globalFlags{}
	fs := newFlagSet("project "+sub, gf)

	home, err := stateio.ResolveArchonHome()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	projReg := stateio.NewProjectRegistry(home)
	if err := projReg.EnsureMigrated(time.Now().UTC()); err != nil {
		fmt.Fprintf(stderr, "Error: migrate legacy state: %v\n", err)
		return 1
	}

	switch sub {
	case "create":
		name := fs.String("name", "", "Human-readable project name")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		remaining := fs.Args()
		if len(remaining) > 1 {
			fmt.Fprintln(stderr, "Usage: archon project create [id] [--name text]")
			return 2
		}
		id := ""
		if len(remaining) == 1 {
			id = remaining[0]
		} else {
			// No id supplied: mint one, since project ids otherwise have no
			// natural default the way the legacy single-project "default" did.
			id = uuid.NewString()
		}
		meta, err := projReg.CreateProject(id, *name, time.Now().UTC())
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "created project %s\n", meta.ID)
		return 0

	case "list":
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		projects, err := projReg.ListProjects()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		active, _ := projReg.ActiveProjectID()
		if gf.json {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return emitOrFail(enc.Encode(projects), stderr)
		}
		for _, p := range projects {
			marker := "  "
			if p.ID == active {
				marker = "* "
			}
			fmt.Fprintf(stdout, "%s%s  %s  (created %s)\n", marker, p.ID, p.Name, p.CreatedAt.Format(time.RFC3339))
		}
		return 0

	case "open":
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		remaining := fs.Args()
		if len(remaining) != 1 {
			fmt.Fprintln(stderr, "Usage: archon project open <id>")
			return 2
		}
		if err := projReg.SetActive(remaining[0]); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "active project set to %s\n", remaining[0])
		return 0

	case "current":
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		active, err := projReg.ActiveProjectID()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if active == "" {
			active = stateio.DefaultProjectID
		}
		fmt.Fprintln(stdout, active)
		return 0

	default:
		fmt.Fprintf(stderr, "Unknown project subcommand %q\n", sub)
		return 2
	}
}
