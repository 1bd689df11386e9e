package leaf

import (
	"log"
	"sort"
)

// StepInspector observes steps without altering them.
type StepInspector interface {
	Inspect(step Step, constraints []Constraint)
}

// InspectingTraceManager passes every step through its inspectors before
// forwarding it.
type InspectingTraceManager struct {
	Next       TraceManager
	Inspectors []StepInspector
}

// NotifyStep implements TraceManager.
func (m *InspectingTraceManager) NotifyStep(step Step, constraints []Constraint) {
	for _, inspector := range m.Inspectors {
		inspector.Inspect(step, constraints)
	}
	if m.Next != nil {
		m.Next.NotifyStep(step, constraints)
	}
}

// BranchCoverage counts the decisions taken at each block.
type BranchCoverage struct {
	hits map[BlockLocation]map[string]int
}

// NewBranchCoverage returns a new instance of BranchCoverage.
func NewBranchCoverage() *BranchCoverage {
	return &BranchCoverage{hits: make(map[BlockLocation]map[string]int)}
}

// Inspect implements StepInspector.
func (c *BranchCoverage) Inspect(step Step, constraints []Constraint) {
	if step.Kind == StepStamp {
		return
	} else if len(constraints) == 0 {
		c.Add(step.Location, "concrete")
	}
	for _, constraint := range constraints {
		c.Add(step.Location, constraint.String())
	}
}

// Add records a decision at a location.
func (c *BranchCoverage) Add(loc BlockLocation, decision string) {
	m := c.hits[loc]
	if m == nil {
		m = make(map[string]int)
		c.hits[loc] = m
	}
	m[decision]++
}

// Locations returns the covered locations in order.
func (c *BranchCoverage) Locations() []BlockLocation {
	a := make([]BlockLocation, 0, len(c.hits))
	for loc := range c.hits {
		a = append(a, loc)
	}
	sort.Slice(a, func(i, j int) bool {
		if a[i].Func != a[j].Func {
			return a[i].Func < a[j].Func
		}
		return a[i].Block < a[j].Block
	})
	return a
}

// Decisions returns the number of distinct decisions taken at loc.
func (c *BranchCoverage) Decisions(loc BlockLocation) int { return len(c.hits[loc]) }

// Hits returns the number of times loc was reached.
func (c *BranchCoverage) Hits(loc BlockLocation) int {
	var n int
	for _, v := range c.hits[loc] {
		n += v
	}
	return n
}

// SanityChecker verifies that every constraint holds under the concrete
// shadows of its variables. A violation means the symbolic model diverged
// from the concrete execution.
type SanityChecker struct {
	evaluator  *Evaluator
	violations []Constraint
}

// NewSanityChecker returns a new instance of SanityChecker.
func NewSanityChecker() *SanityChecker {
	return &SanityChecker{evaluator: NewShadowEvaluator()}
}

// Inspect implements StepInspector.
func (c *SanityChecker) Inspect(step Step, constraints []Constraint) {
	for _, constraint := range constraints {
		v, err := c.evaluator.Evaluate(constraint.Value)
		if err != nil {
			log.Printf("[sanity] step %d: cannot evaluate %s: %s", step.Index, constraint, err)
			continue
		}
		if v.IsTrue() == constraint.Negated {
			log.Printf("[sanity] step %d: constraint does not hold: %s", step.Index, constraint)
			c.violations = append(c.violations, constraint)
		}
	}
}

// Violations returns the constraints that did not hold.
func (c *SanityChecker) Violations() []Constraint { return c.violations }

// StepFilter removes constraints from a step.
type StepFilter interface {
	Filter(step Step, constraints []Constraint) []Constraint
}

// FilteringTraceManager forwards steps with the constraints kept by Filter.
type FilteringTraceManager struct {
	Next   TraceManager
	Filter StepFilter
}

// NotifyStep implements TraceManager.
func (m *FilteringTraceManager) NotifyStep(step Step, constraints []Constraint) {
	if m.Next != nil {
		m.Next.NotifyStep(step, m.Filter.Filter(step, constraints))
	}
}

// DedupFilter drops constraints identical to one seen before.
type DedupFilter struct {
	seen map[string]struct{}
}

// NewDedupFilter returns a new instance of DedupFilter.
func NewDedupFilter() *DedupFilter {
	return &DedupFilter{seen: make(map[string]struct{})}
}

// Filter implements StepFilter.
func (f *DedupFilter) Filter(step Step, constraints []Constraint) []Constraint {
	var a []Constraint
	for _, c := range constraints {
		key := c.String()
		if _, ok := f.seen[key]; ok {
			continue
		}
		f.seen[key] = struct{}{}
		a = append(a, c)
	}
	return a
}
