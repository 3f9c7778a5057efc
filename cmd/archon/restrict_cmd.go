package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/CustodyZero/archon-sub000/pkg/restriction"
	"github.com/CustodyZero/archon-sub000/pkg/taxonomy"
)

// stringSliceFlag collects a repeated string flag (--where, --dsl) into a
// slice.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ",") }
func (s *stringSliceFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func runRestrictCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: archon restrict {add|add-dsl|list|clear} [flags]")
		return 2
	}
	sub, rest := args[0], args[1:]

	gf := &globalFlags{}
	fs := newFlagSet("restrict "+sub, gf)

	switch sub {
	case "add-dsl":
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		remaining := fs.Args()
		if len(remaining) != 1 {
			fmt.Fprintln(stderr, "Usage: archon restrict add-dsl '<allow|deny> <type> [where <cond> and ...]'")
			return 2
		}
		ast, err := restriction.Parse(remaining[0])
		if err != nil {
			fmt.Fprintf(stderr, "Error: parse rule: %v\n", err)
			return 2
		}
		return addRestriction(ast, gf, stdout, stderr)

	case "add":
		capType := fs.String("type", "", "Capability type")
		effect := fs.String("effect", "", "allow or deny")
		var conds stringSliceFlag
		fs.Var(&conds, "where", "field=glob condition, may repeat (AND-conjoined)")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		if *capType == "" || *effect == "" {
			fmt.Fprintln(stderr, "Usage: archon restrict add --type <type> --effect {allow|deny} [--where field=glob]...")
			return 2
		}
		var conditions []restriction.ConditionAST
		for _, c := range conds {
			parts := strings.SplitN(c, "=", 2)
			if len(parts) != 2 {
				fmt.Fprintf(stderr, "Error: malformed --where %q, expected field=glob\n", c)
				return 2
			}
			conditions = append(conditions, restriction.ConditionAST{
				Field: parts[0],
				Op:    restriction.MatchesOp,
				Value: parts[1],
			})
		}
		ast := &restriction.RestrictionAST{
			Effect:         restriction.Effect(*effect),
			CapabilityType: taxonomy.CapabilityType(*capType),
			Conditions:     conditions,
		}
		return addRestriction(ast, gf, stdout, stderr)

	case "list":
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		proj, code, ok := projectOrFail(gf, stderr)
		if !ok {
			return code
		}
		rules := proj.Restrictions.List()
		if gf.json {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return emitOrFail(enc.Encode(rules), stderr)
		}
		for _, r := range rules {
			fmt.Fprintf(stdout, "%s  %s %s", r.ID, r.Effect, r.CapabilityType)
			if len(r.Conditions) > 0 {
				fmt.Fprint(stdout, " where ")
				for i, c := range r.Conditions {
					if i > 0 {
						fmt.Fprint(stdout, " and ")
					}
					fmt.Fprintf(stdout, "%s %s %s", c.Field, c.Op, c.Value)
				}
			}
			fmt.Fprintln(stdout, "")
		}
		return 0

	case "clear":
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		proj, code, ok := projectOrFail(gf, stderr)
		if !ok {
			return code
		}
		if err := proj.Restrictions.Clear(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "restrictions cleared")
		return 0

	default:
		fmt.Fprintf(stderr, "Unknown restrict subcommand %q\n", sub)
		return 2
	}
}

func addRestriction(ast *restriction.RestrictionAST, gf *globalFlags, stdout, stderr io.Writer) int {
	proj, code, ok := projectOrFail(gf, stderr)
	if !ok {
		return code
	}
	id, err := proj.Restrictions.Add(ast)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "added %s\n", id)
	return 0
}
