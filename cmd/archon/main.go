package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/CustodyZero/archon-sub000/pkg/stateio"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the CLI entrypoint, kept separate from main so it can be driven
// from tests with captured stdout/stderr.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 0
	}

	switch args[1] {
	case "status":
		return runStatusCmd(args[2:], stdout, stderr)
	case "enable":
		return runEnableDisableCmd(args[2:], stdout, stderr, true)
	case "disable":
		return runEnableDisableCmd(args[2:], stdout, stderr, false)
	case "restrict":
		return runRestrictCmd(args[2:], stdout, stderr)
	case "rules":
		return runRulesCmd(args[2:], stdout, stderr)
	case "log":
		return runLogCmd(args[2:], stdout, stderr)
	case "demo":
		return runDemoCmd(args[2:], stdout, stderr)
	case "propose":
		return runProposeCmd(args[2:], stdout, stderr)
	case "proposals":
		return runProposalsCmd(args[2:], stdout, stderr)
	case "project":
		return runProjectCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI colors
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sArchon%s — deterministic agent capability governance\n", ColorBold+ColorBlue, ColorReset)
	fmt.Fprintf(w, "%sModels propose. The kernel disposes.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  archon <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "STATUS & RULES")
	printCommand(w, "status", "Show enabled modules, capabilities, and rule snapshot hash")
	printCommand(w, "rules", "List compiled restriction rules")
	printCommand(w, "log", "Read the decision log and check for drift")

	printSection(w, "GOVERNANCE (direct, no approval step)")
	printCommand(w, "enable", "Enable a module or capability")
	printCommand(w, "disable", "Disable a module or capability")
	printCommand(w, "restrict", "Manage restriction rules (add/add-dsl/list/clear)")

	printSection(w, "GOVERNANCE (proposal queue, human approval)")
	printCommand(w, "propose", "Submit a governance change for approval")
	printCommand(w, "proposals", "List, show, approve, or reject proposals")

	printSection(w, "PROJECTS")
	printCommand(w, "project", "Create, list, open, or show the active project")

	printSection(w, "DEMO")
	printCommand(w, "demo", "Run one action through the execution gate")

	printSection(w, "UTILITIES")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorBlue, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}

// globalFlags carries the flags every subcommand accepts: --project to
// override the active project, --json for machine-readable output.
type globalFlags struct {
	project string
	json    bool
}

func newFlagSet(name string, gf *globalFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&gf.project, "project", "", "Project id (defaults to the active project)")
	fs.BoolVar(&gf.json, "json", false, "Output as JSON")
	return fs
}

// projectOrFail resolves and opens the project gf names, reporting errors
// through stderr in the same style as every other subcommand failure.
func projectOrFail(gf *globalFlags, stderr io.Writer) (*Project, int, bool) {
	home, err := stateio.ResolveArchonHome()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 1, false
	}
	id, err := resolveProjectID(home, gf.project)
	if err != nil {
		fmt.Fprintf(stderr, "Error: resolve project: %v\n", err)
		return nil, 1, false
	}
	proj, err := openProject(home, id)
	if err != nil {
		fmt.Fprintf(stderr, "Error: open project %q: %v\n", id, err)
		return nil, 1, false
	}
	return proj, 0, true
}
