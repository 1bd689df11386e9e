package leaf

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"

	"github.com/pkg/errors"
)

// Constraint is a boolean condition recorded at a branch: Value holds when
// Negated is false and does not hold otherwise.
type Constraint struct {
	Value   Value
	Negated bool
}

// Not returns the negation of the constraint.
func (c Constraint) Not() Constraint {
	return Constraint{Value: c.Value, Negated: !c.Negated}
}

// String returns the string representation of the constraint.
func (c Constraint) String() string {
	if c.Negated {
		return fmt.Sprintf("(not %s)", c.Value)
	}
	return c.Value.String()
}

// BlockLocation identifies a basic block of the instrumented program.
type BlockLocation struct {
	Func  FuncID `json:"func"`
	Block uint32 `json:"block"`
}

// String returns the string representation of the location.
func (l BlockLocation) String() string {
	return fmt.Sprintf("%d:%d", l.Func, l.Block)
}

// StepKind represents the origin of the constraints of a step.
type StepKind string

// Step kinds.
const (
	StepBranch = StepKind("branch")
	StepAssert = StepKind("assert")

	// Constraints fixing a symbolic value to the concrete value it was
	// concretized to. They are never negated.
	StepStamp = StepKind("stamp")
)

// Step is a decision point of the program run.
type Step struct {
	Index    int           `json:"index"`
	Kind     StepKind      `json:"kind"`
	Location BlockLocation `json:"location"`
	Tags     []string      `json:"tags,omitempty"`
	Debug    string        `json:"debug,omitempty"`
}

// TraceManager receives the constraints of each step in program order.
type TraceManager interface {
	NotifyStep(step Step, constraints []Constraint)
}

// TraceRecord is a step with its constraints.
type TraceRecord struct {
	Step        Step
	Constraints []Constraint
}

// AggregatorTraceManager keeps the whole trace in memory.
type AggregatorTraceManager struct {
	records []TraceRecord
}

// NotifyStep implements TraceManager.
func (m *AggregatorTraceManager) NotifyStep(step Step, constraints []Constraint) {
	m.records = append(m.records, TraceRecord{Step: step, Constraints: constraints})
}

// Records returns all recorded steps.
func (m *AggregatorTraceManager) Records() []TraceRecord { return m.records }

// Constraints returns all constraints in program order.
func (m *AggregatorTraceManager) Constraints() []Constraint {
	var a []Constraint
	for _, r := range m.records {
		a = append(a, r.Constraints...)
	}
	return a
}

// TraceEntry is the serialized form of a trace record.
type TraceEntry struct {
	Step        Step              `json:"step"`
	Constraints []ConstraintEntry `json:"constraints"`
}

// ConstraintEntry is the serialized form of a constraint.
type ConstraintEntry struct {
	Expr     string `json:"expr"`
	Negated  bool   `json:"negated,omitempty"`
	Symbolic bool   `json:"symbolic"`
}

// NewTraceEntry returns the serialized form of a step.
func NewTraceEntry(step Step, constraints []Constraint) TraceEntry {
	e := TraceEntry{Step: step, Constraints: make([]ConstraintEntry, len(constraints))}
	for i, c := range constraints {
		e.Constraints[i] = ConstraintEntry{Expr: c.Value.String(), Negated: c.Negated, Symbolic: IsSymbolic(c.Value)}
	}
	return e
}

// LoggingTraceManager writes each step as a JSON line and logs it.
type LoggingTraceManager struct {
	Next   TraceManager
	Writer io.Writer
	Logger *slog.Logger
}

// NotifyStep implements TraceManager.
func (m *LoggingTraceManager) NotifyStep(step Step, constraints []Constraint) {
	if m.Logger != nil {
		m.Logger.LogAttrs(context.Background(), slog.LevelDebug, "step",
			slog.Int("index", step.Index),
			slog.String("location", step.Location.String()),
			slog.Int("constraints", len(constraints)),
		)
	}
	if m.Writer != nil {
		if err := json.NewEncoder(m.Writer).Encode(NewTraceEntry(step, constraints)); err != nil {
			log.Printf("[trace] cannot write step %d: %s", step.Index, err)
		}
	}
	if m.Next != nil {
		m.Next.NotifyStep(step, constraints)
	}
}

// ReadTrace reads the JSON lines written by a LoggingTraceManager.
func ReadTrace(r io.Reader) ([]TraceEntry, error) {
	var a []TraceEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e TraceEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, errors.Wrapf(err, "trace line %d", line)
		}
		a = append(a, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read trace")
	}
	return a, nil
}

// Answer is a model found for the negation of a branch constraint.
type Answer struct {
	Step  int
	Model Model
}

// SolvingTraceManager asks the solver, for every new symbolic constraint,
// whether its negation is satisfiable together with the preceding ones.
type SolvingTraceManager struct {
	Next   TraceManager
	Solver Solver

	prefix  []Constraint
	answers []Answer
}

// NotifyStep implements TraceManager.
func (m *SolvingTraceManager) NotifyStep(step Step, constraints []Constraint) {
	for _, c := range constraints {
		if !IsSymbolic(c.Value) {
			continue
		} else if step.Kind == StepStamp {
			m.prefix = append(m.prefix, c)
			continue
		}

		query := make([]Constraint, len(m.prefix), len(m.prefix)+1)
		copy(query, m.prefix)
		query = append(query, c.Not())

		result, model, err := m.Solver.Check(query)
		if err != nil {
			log.Printf("[trace] solver failed at step %d: %s", step.Index, err)
		} else if result == Sat {
			m.answers = append(m.answers, Answer{Step: step.Index, Model: model})
		}
		m.prefix = append(m.prefix, c)
	}
	if m.Next != nil {
		m.Next.NotifyStep(step, constraints)
	}
}

// Answers returns the models found so far.
func (m *SolvingTraceManager) Answers() []Answer { return m.answers }
