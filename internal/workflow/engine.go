package workflow

import (
	"fmt"
	"sort"

	"github.com/andywolf/agentium/internal/guard"
)

// Engine resolves the current phase and picks the first satisfied
// transition. It is pure — it never touches disk (spec.md §4.5).
type Engine struct {
	Workflow *Workflow
}

// New constructs an Engine over a loaded, validated Workflow.
func New(w *Workflow) *Engine {
	return &Engine{Workflow: w}
}

// GetPhase returns the named phase, or (Phase{}, false) if unknown.
func (e *Engine) GetPhase(name string) (Phase, bool) {
	return e.Workflow.Phase(name)
}

// GetPhaseType returns the kind of the named phase, or "" if the phase
// does not exist.
func (e *Engine) GetPhaseType(name string) (PhaseKind, bool) {
	p, ok := e.Workflow.Phase(name)
	if !ok {
		return "", false
	}
	return p.Kind, true
}

// IsTerminal reports whether name names a terminal phase.
func (e *Engine) IsTerminal(name string) bool {
	return e.Workflow.IsTerminal(name)
}

// EvaluateTransitions iterates currentPhase's transitions in declared
// order (by Priority, then declaration order) and returns the target
// of the first transition whose guard is satisfied, or "" if none is.
// A terminal phase has no outgoing transitions and yields ""; an
// unknown phase yields an error.
func (e *Engine) EvaluateTransitions(currentPhase string, ctx guard.Context) (string, error) {
	phase, ok := e.Workflow.Phase(currentPhase)
	if !ok {
		return "", fmt.Errorf("unknown phase %q", currentPhase)
	}
	if phase.Kind == KindTerminal {
		return "", nil
	}

	ordered := make([]Transition, len(phase.Transitions))
	copy(ordered, phase.Transitions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].declOrder < ordered[j].declOrder
	})

	for _, t := range ordered {
		if t.Auto {
			return t.Target, nil
		}
		ok, err := guard.Evaluate(t.Guard, ctx)
		if err != nil {
			// A syntax error in one transition's guard must not abort
			// evaluation of the others, and never crashes the loop
			// (spec.md §4.1): treat it as unsatisfied and continue.
			continue
		}
		if ok {
			return t.Target, nil
		}
	}
	return "", nil
}
