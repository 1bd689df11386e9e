package leaf_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/benbjohnson/leaf"
	"github.com/google/go-cmp/cmp"
)

func TestConstraint_String(t *testing.T) {
	c := leaf.Constraint{Value: EqConstraint(1, 9)}
	if s := c.String(); s != "(eq v1:u8 9u8)" {
		t.Fatalf("unexpected string: %s", s)
	} else if s := c.Not().String(); s != "(not (eq v1:u8 9u8))" {
		t.Fatalf("unexpected string: %s", s)
	} else if c.Not().Not() != c {
		t.Fatal("expected double negation to restore constraint")
	}
}

func TestAggregatorTraceManager(t *testing.T) {
	var m leaf.AggregatorTraceManager
	m.NotifyStep(BranchStep(0, 1), []leaf.Constraint{{Value: EqConstraint(1, 9)}})
	m.NotifyStep(BranchStep(1, 2), nil)
	m.NotifyStep(BranchStep(2, 1), []leaf.Constraint{{Value: EqConstraint(2, 3), Negated: true}})

	if n := len(m.Records()); n != 3 {
		t.Fatalf("unexpected record count: %d", n)
	}

	var a []string
	for _, c := range m.Constraints() {
		a = append(a, c.String())
	}
	if diff := cmp.Diff([]string{"(eq v1:u8 9u8)", "(not (eq v2:u8 3u8))"}, a); diff != "" {
		t.Fatalf("unexpected constraints (-want +got):\n%s", diff)
	}
}

func TestLoggingTraceManager(t *testing.T) {
	var next leaf.AggregatorTraceManager
	var buf, logs bytes.Buffer
	m := &leaf.LoggingTraceManager{
		Next:   &next,
		Writer: &buf,
		Logger: slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}

	step := BranchStep(0, 3)
	step.Tags = []string{"loop"}
	m.NotifyStep(step, []leaf.Constraint{
		{Value: EqConstraint(1, 9), Negated: true},
		{Value: leaf.NewBoolConst(true)},
	})

	entries, err := leaf.ReadTrace(&buf)
	if err != nil {
		t.Fatal(err)
	} else if len(entries) != 1 {
		t.Fatalf("unexpected entry count: %d", len(entries))
	}

	want := leaf.TraceEntry{
		Step: step,
		Constraints: []leaf.ConstraintEntry{
			{Expr: "(eq v1:u8 9u8)", Negated: true, Symbolic: true},
			{Expr: "true", Symbolic: false},
		},
	}
	if diff := cmp.Diff(want, entries[0]); diff != "" {
		t.Fatalf("unexpected entry (-want +got):\n%s", diff)
	}

	if n := len(next.Records()); n != 1 {
		t.Fatalf("expected step to be forwarded: %d", n)
	} else if s := logs.String(); !strings.Contains(s, "msg=step") || !strings.Contains(s, "location=1:3") {
		t.Fatalf("unexpected log: %s", s)
	}
}

func TestReadTrace(t *testing.T) {
	t.Run("BlankLines", func(t *testing.T) {
		entries, err := leaf.ReadTrace(strings.NewReader("\n{\"step\":{\"index\":4,\"kind\":\"assert\",\"location\":{\"func\":2,\"block\":7}},\"constraints\":[]}\n\n"))
		if err != nil {
			t.Fatal(err)
		} else if len(entries) != 1 || entries[0].Step.Kind != leaf.StepAssert || entries[0].Step.Location.Block != 7 {
			t.Fatalf("unexpected entries: %+v", entries)
		}
	})

	t.Run("ErrSyntax", func(t *testing.T) {
		if _, err := leaf.ReadTrace(strings.NewReader("{}\n{")); err == nil || !strings.Contains(err.Error(), "trace line 2") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestSolvingTraceManager(t *testing.T) {
	t.Run("Negation", func(t *testing.T) {
		solver := &RecordingSolver{Result: leaf.Sat, Model: leaf.Model{1: leaf.NewIntConst(4, 8, false)}}
		var next leaf.AggregatorTraceManager
		m := &leaf.SolvingTraceManager{Next: &next, Solver: solver}

		m.NotifyStep(BranchStep(0, 1), []leaf.Constraint{{Value: EqConstraint(1, 9)}})
		m.NotifyStep(BranchStep(1, 2), []leaf.Constraint{{Value: EqConstraint(2, 3), Negated: true}})

		if n := len(solver.Queries); n != 2 {
			t.Fatalf("unexpected query count: %d", n)
		} else if got, want := ConstraintStrings(solver.Queries[0]), []string{"(not (eq v1:u8 9u8))"}; !cmp.Equal(got, want) {
			t.Fatalf("unexpected first query: %v", got)
		} else if got, want := ConstraintStrings(solver.Queries[1]), []string{"(eq v1:u8 9u8)", "(eq v2:u8 3u8)"}; !cmp.Equal(got, want) {
			t.Fatalf("unexpected second query: %v", got)
		}

		answers := m.Answers()
		if len(answers) != 2 || answers[0].Step != 0 || answers[1].Step != 1 {
			t.Fatalf("unexpected answers: %+v", answers)
		} else if s := answers[0].Model.String(); s != "{v1=4u8}" {
			t.Fatalf("unexpected model: %s", s)
		} else if n := len(next.Records()); n != 2 {
			t.Fatalf("expected steps to be forwarded: %d", n)
		}
	})

	t.Run("Stamp", func(t *testing.T) {
		solver := &RecordingSolver{Result: leaf.Sat}
		m := &leaf.SolvingTraceManager{Solver: solver}

		stamp := BranchStep(0, 1)
		stamp.Kind = leaf.StepStamp
		m.NotifyStep(stamp, []leaf.Constraint{{Value: EqConstraint(1, 2)}})
		m.NotifyStep(BranchStep(1, 1), []leaf.Constraint{{Value: EqConstraint(2, 5)}})

		// Stamps only constrain later queries.
		if n := len(solver.Queries); n != 1 {
			t.Fatalf("unexpected query count: %d", n)
		} else if got, want := ConstraintStrings(solver.Queries[0]), []string{"(eq v1:u8 2u8)", "(not (eq v2:u8 5u8))"}; !cmp.Equal(got, want) {
			t.Fatalf("unexpected query: %v", got)
		} else if n := len(m.Answers()); n != 1 {
			t.Fatalf("unexpected answer count: %d", n)
		}
	})

	t.Run("Concrete", func(t *testing.T) {
		solver := &RecordingSolver{Result: leaf.Sat}
		m := &leaf.SolvingTraceManager{Solver: solver}
		m.NotifyStep(BranchStep(0, 1), []leaf.Constraint{{Value: leaf.NewBoolConst(true)}})
		if n := len(solver.Queries); n != 0 {
			t.Fatalf("unexpected query count: %d", n)
		}
	})

	t.Run("Unsat", func(t *testing.T) {
		solver := &RecordingSolver{Result: leaf.Unsat}
		m := &leaf.SolvingTraceManager{Solver: solver}
		m.NotifyStep(BranchStep(0, 1), []leaf.Constraint{{Value: EqConstraint(1, 9)}})
		if n := len(m.Answers()); n != 0 {
			t.Fatalf("unexpected answer count: %d", n)
		}
	})
}

func TestFilteringTraceManager_Dedup(t *testing.T) {
	var next leaf.AggregatorTraceManager
	m := &leaf.FilteringTraceManager{Next: &next, Filter: leaf.NewDedupFilter()}

	m.NotifyStep(BranchStep(0, 1), []leaf.Constraint{{Value: EqConstraint(1, 9)}})
	m.NotifyStep(BranchStep(1, 1), []leaf.Constraint{{Value: EqConstraint(1, 9)}})
	m.NotifyStep(BranchStep(2, 1), []leaf.Constraint{{Value: EqConstraint(1, 9), Negated: true}})

	records := next.Records()
	if len(records) != 3 {
		t.Fatalf("unexpected record count: %d", len(records))
	} else if n := len(records[1].Constraints); n != 0 {
		t.Fatalf("expected duplicate to be dropped: %d", n)
	} else if n := len(records[2].Constraints); n != 1 {
		t.Fatalf("expected negation to be kept: %d", n)
	}
}

func TestInspectingTraceManager(t *testing.T) {
	t.Run("Coverage", func(t *testing.T) {
		coverage := leaf.NewBranchCoverage()
		m := &leaf.InspectingTraceManager{Inspectors: []leaf.StepInspector{coverage}}

		m.NotifyStep(BranchStep(0, 2), []leaf.Constraint{{Value: EqConstraint(1, 9)}})
		m.NotifyStep(BranchStep(1, 2), []leaf.Constraint{{Value: EqConstraint(1, 9), Negated: true}})
		m.NotifyStep(BranchStep(2, 2), []leaf.Constraint{{Value: EqConstraint(1, 9)}})
		m.NotifyStep(BranchStep(3, 1), nil)

		stamp := BranchStep(4, 3)
		stamp.Kind = leaf.StepStamp
		m.NotifyStep(stamp, []leaf.Constraint{{Value: EqConstraint(2, 0)}})

		locs := coverage.Locations()
		if diff := cmp.Diff([]leaf.BlockLocation{{Func: 1, Block: 1}, {Func: 1, Block: 2}}, locs); diff != "" {
			t.Fatalf("unexpected locations (-want +got):\n%s", diff)
		} else if n := coverage.Hits(locs[1]); n != 3 {
			t.Fatalf("unexpected hits: %d", n)
		} else if n := coverage.Decisions(locs[1]); n != 2 {
			t.Fatalf("unexpected decisions: %d", n)
		} else if n := coverage.Decisions(locs[0]); n != 1 {
			t.Fatalf("unexpected decisions: %d", n)
		}
	})

	t.Run("SanityCheck", func(t *testing.T) {
		var next leaf.AggregatorTraceManager
		checker := leaf.NewSanityChecker()
		m := &leaf.InspectingTraceManager{Next: &next, Inspectors: []leaf.StepInspector{checker}}

		x := leaf.NewSymVar(1, leaf.IntType(8, false), leaf.NewIntConst(9, 8, false))
		eq := leaf.NewBinaryExpr(leaf.OpEq, x, leaf.NewIntConst(9, 8, false))
		m.NotifyStep(BranchStep(0, 1), []leaf.Constraint{{Value: eq}})
		if n := len(checker.Violations()); n != 0 {
			t.Fatalf("unexpected violations: %v", checker.Violations())
		}

		m.NotifyStep(BranchStep(1, 1), []leaf.Constraint{{Value: eq, Negated: true}})
		if v := checker.Violations(); len(v) != 1 || !v[0].Negated {
			t.Fatalf("unexpected violations: %v", v)
		} else if n := len(next.Records()); n != 2 {
			t.Fatalf("expected steps to be forwarded: %d", n)
		}
	})
}

// BranchStep returns a branch step at block of function 1.
func BranchStep(index int, block uint32) leaf.Step {
	return leaf.Step{Index: index, Kind: leaf.StepBranch, Location: leaf.BlockLocation{Func: 1, Block: block}}
}

// EqConstraint returns "v<id> == n" over unsigned bytes without shadows.
func EqConstraint(id uint32, n uint64) leaf.Value {
	return leaf.NewBinaryExpr(leaf.OpEq, leaf.NewSymVar(id, leaf.IntType(8, false), nil), leaf.NewIntConst(n, 8, false))
}

// ConstraintStrings returns the string representation of each constraint.
func ConstraintStrings(a []leaf.Constraint) []string {
	other := make([]string, len(a))
	for i, c := range a {
		other[i] = c.String()
	}
	return other
}
