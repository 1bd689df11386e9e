package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/benbjohnson/leaf"
)

// TraceCommand represents a command for summarizing a recorded trace.
type TraceCommand struct {
	Stdout io.Writer
}

// NewTraceCommand returns a new instance of TraceCommand.
func NewTraceCommand() *TraceCommand {
	return &TraceCommand{Stdout: os.Stdout}
}

// Run executes the "trace" subcommand.
func (cmd *TraceCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("leaf-trace", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "print every step")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("trace file required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many trace files specified")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	entries, err := leaf.ReadTrace(f)
	if err != nil {
		return err
	}

	var constraintN, symbolicN int
	kinds := make(map[leaf.StepKind]int)
	coverage := leaf.NewBranchCoverage()
	for _, e := range entries {
		kinds[e.Step.Kind]++
		if *verbose {
			fmt.Fprintf(cmd.Stdout, "#%d %s @ %s", e.Step.Index, e.Step.Kind, e.Step.Location)
			if e.Step.Debug != "" {
				fmt.Fprintf(cmd.Stdout, " (%s)", e.Step.Debug)
			}
			fmt.Fprintln(cmd.Stdout)
		}

		if e.Step.Kind != leaf.StepStamp && len(e.Constraints) == 0 {
			coverage.Add(e.Step.Location, "concrete")
		}
		for _, c := range e.Constraints {
			constraintN++
			if c.Symbolic {
				symbolicN++
			}

			expr := c.Expr
			if c.Negated {
				expr = "(not " + expr + ")"
			}
			if e.Step.Kind != leaf.StepStamp {
				coverage.Add(e.Step.Location, expr)
			}
			if *verbose {
				fmt.Fprintf(cmd.Stdout, "\t%s\n", expr)
			}
		}
	}

	fmt.Fprintf(cmd.Stdout, "steps: %d (branch=%d assert=%d stamp=%d)\n",
		len(entries), kinds[leaf.StepBranch], kinds[leaf.StepAssert], kinds[leaf.StepStamp])
	fmt.Fprintf(cmd.Stdout, "constraints: %d (symbolic=%d)\n", constraintN, symbolicN)
	fmt.Fprintln(cmd.Stdout)

	tw := tabwriter.NewWriter(cmd.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCATION\tHITS\tDECISIONS")
	for _, loc := range coverage.Locations() {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", loc, coverage.Hits(loc), coverage.Decisions(loc))
	}
	return tw.Flush()
}

func (cmd *TraceCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: leaf trace [arguments] [trace file]

Arguments:

	-v
	    Print every step and its constraints.
`[1:])
}
