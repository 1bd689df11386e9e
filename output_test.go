package leaf_test

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benbjohnson/leaf"
	"github.com/google/go-cmp/cmp"
)

func TestWriteAnswers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "answers.jsonl")
	answers := []leaf.Answer{
		{Step: 3, Model: leaf.Model{
			2: leaf.NewSignedConst(-1, 8),
			1: leaf.NewIntConst(255, 8, false),
		}},
	}

	// Answers of successive runs are appended.
	for i := 0; i < 2; i++ {
		if err := leaf.WriteAnswers(path, answers); err != nil {
			t.Fatal(err)
		}
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(buf)), "\n")
	if len(lines) != 2 {
		t.Fatalf("unexpected line count: %d", len(lines))
	}

	var entry leaf.AnswerEntry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	want := leaf.AnswerEntry{
		Step: 3,
		Values: []leaf.AssignmentEntry{
			{ID: 1, Type: "u8", Value: "255u8", Bits: "0xff"},
			{ID: 2, Type: "i8", Value: "-1i8", Bits: "0xff"},
		},
	}
	if diff := cmp.Diff(want, entry); diff != "" {
		t.Fatalf("unexpected entry (-want +got):\n%s", diff)
	}
}

func TestWriteTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	records := []leaf.TraceRecord{
		{Step: BranchStep(0, 1), Constraints: []leaf.Constraint{{Value: EqConstraint(1, 9), Negated: true}}},
		{Step: BranchStep(1, 2)},
	}
	if err := leaf.WriteTrace(path, records); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	entries, err := leaf.ReadTrace(f)
	if err != nil {
		t.Fatal(err)
	} else if len(entries) != 2 {
		t.Fatalf("unexpected entry count: %d", len(entries))
	} else if c := entries[0].Constraints; len(c) != 1 || c[0].Expr != "(eq v1:u8 9u8)" || !c[0].Negated {
		t.Fatalf("unexpected constraints: %+v", c)
	} else if entries[1].Step.Location.Block != 2 {
		t.Fatalf("unexpected step: %+v", entries[1].Step)
	}
}

func TestWriteJSONLines(t *testing.T) {
	var buf bytes.Buffer
	if err := leaf.WriteJSONLines(&buf, 1, "a", map[string]int{"b": 2}); err != nil {
		t.Fatal(err)
	} else if got, want := buf.String(), "1\n\"a\"\n{\"b\":2}\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	if err := leaf.WriteJSONLines(&buf, func() {}); err == nil {
		t.Fatal("expected error")
	}
}

func TestAppendFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.txt")
	for _, s := range []string{"foo\n", "bar\n"} {
		s := s
		if err := leaf.AppendFile(path, func(w io.Writer) error {
			_, err := io.WriteString(w, s)
			return err
		}); err != nil {
			t.Fatal(err)
		}
	}

	if buf, err := os.ReadFile(path); err != nil {
		t.Fatal(err)
	} else if string(buf) != "foo\nbar\n" {
		t.Fatalf("unexpected contents: %q", buf)
	}
}
