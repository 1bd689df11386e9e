package main

import (
	"bytes"
	"context"
	"flag"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benbjohnson/leaf"
	"gopkg.in/yaml.v3"
)

func TestRun(t *testing.T) {
	t.Run("Help", func(t *testing.T) {
		if err := run(context.Background(), nil); err != flag.ErrHelp {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrUnknownCommand", func(t *testing.T) {
		if err := run(context.Background(), []string{"foo"}); err == nil || err.Error() != "leaf foo: unknown command" {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestTraceCommand_Run(t *testing.T) {
	x := leaf.NewSymVar(1, leaf.IntType(8, false), leaf.NewIntConst(3, 8, false))
	eq := leaf.NewBinaryExpr(leaf.OpEq, x, leaf.NewIntConst(3, 8, false))
	loc := leaf.BlockLocation{Func: 1, Block: 2}

	path := filepath.Join(t.TempDir(), "trace.jsonl")
	if err := leaf.WriteTrace(path, []leaf.TraceRecord{
		{Step: leaf.Step{Index: 1, Kind: leaf.StepBranch, Location: loc}, Constraints: []leaf.Constraint{{Value: eq}}},
		{Step: leaf.Step{Index: 2, Kind: leaf.StepBranch, Location: loc}},
		{Step: leaf.Step{Index: 3, Kind: leaf.StepStamp, Location: loc}, Constraints: []leaf.Constraint{{Value: eq}}},
	}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	cmd := NewTraceCommand()
	cmd.Stdout = &buf
	if err := cmd.Run(context.Background(), []string{"-v", path}); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, s := range []string{
		"#1 branch @ 1:2",
		"\t(eq v1:u8 3u8)\n",
		"steps: 3 (branch=2 assert=0 stamp=1)",
		"constraints: 2 (symbolic=2)",
		"1:2       2     2",
	} {
		if !strings.Contains(out, s) {
			t.Fatalf("missing %q in output:\n%s", s, out)
		}
	}
}

func TestConfigCommand_Run(t *testing.T) {
	t.Setenv("LEAF_EXTERNAL_CALL", "overapprox")

	var buf bytes.Buffer
	cmd := NewConfigCommand()
	cmd.Stdout = &buf
	if err := cmd.Run(context.Background(), []string{"-c", ""}); err != nil {
		t.Fatal(err)
	}

	var config leaf.Config
	if err := yaml.Unmarshal(buf.Bytes(), &config); err != nil {
		t.Fatal(err)
	} else if config.Call.ExternalCall != leaf.ExternalCallOverApproximation {
		t.Fatalf("unexpected strategy: %s", config.Call.ExternalCall)
	}
}
