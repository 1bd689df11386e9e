package pri

import "sync/atomic"

// guard detects re-entrant calls into a runtime, such as engine code that
// itself runs instrumented functions.
type guard struct {
	busy atomic.Bool
}

// enter returns false if a call is already in progress.
func (g *guard) enter() bool {
	return g.busy.CompareAndSwap(false, true)
}

func (g *guard) leave() {
	g.busy.Store(false)
}
