package leaf

import (
	"fmt"
	"sort"
	"strings"
)

// SolveResult represents the outcome of a satisfiability check.
type SolveResult int

// Solve results.
const (
	Unknown = SolveResult(iota)
	Sat
	Unsat
)

// String returns the string representation of the result.
func (r SolveResult) String() string {
	switch r {
	case Sat:
		return "sat"
	case Unsat:
		return "unsat"
	default:
		return "unknown"
	}
}

// Model maps symbolic variable ids to the values assigned by a solver.
type Model map[uint32]*ConstValue

// IDs returns the variable ids of the model in ascending order.
func (m Model) IDs() []uint32 {
	a := make([]uint32, 0, len(m))
	for id := range m {
		a = append(a, id)
	}
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
	return a
}

// String returns the string representation of the model.
func (m Model) String() string {
	var a []string
	for _, id := range m.IDs() {
		a = append(a, fmt.Sprintf("v%d=%s", id, m[id]))
	}
	return "{" + strings.Join(a, " ") + "}"
}

// Solver checks the satisfiability of a conjunction of constraints.
//
// Unsat & Unknown are results, not errors. An error is only returned when
// the solver itself fails.
type Solver interface {
	Check(constraints []Constraint) (SolveResult, Model, error)
}
