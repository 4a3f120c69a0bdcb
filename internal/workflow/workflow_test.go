package workflow

import (
	"reflect"
	"testing"

	"github.com/andywolf/agentium/internal/guard"
)

const s1Doc = `
name: s1
version: 1
start: A
phases:
  A:
    kind: execute
    prompt: a.md
    transitions:
      - target: B
        auto: true
  B:
    kind: terminal
`

func TestLoadValidWorkflow(t *testing.T) {
	w, err := Load([]byte(s1Doc))
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if w.StartPhase() != "A" {
		t.Errorf("StartPhase() = %q, want %q", w.StartPhase(), "A")
	}
	if !w.IsTerminal("B") {
		t.Errorf("IsTerminal(B) = false, want true")
	}
}

func TestLoadRejectsUnknownTarget(t *testing.T) {
	doc := `
name: bad
version: 1
start: A
phases:
  A:
    kind: execute
    prompt: a.md
    transitions:
      - target: missing
        auto: true
`
	if _, err := Load([]byte(doc)); err == nil {
		t.Errorf("Load() with an unknown transition target expected error, got nil")
	}
}

func TestLoadRejectsMissingTerminal(t *testing.T) {
	doc := `
name: bad
version: 1
start: A
phases:
  A:
    kind: execute
    prompt: a.md
`
	if _, err := Load([]byte(doc)); err == nil {
		t.Errorf("Load() with no terminal phase expected error, got nil")
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	doc := `
name: bad
version: 1
start: A
phases:
  A:
    kind: terminal
    bogus: true
`
	if _, err := Load([]byte(doc)); err == nil {
		t.Errorf("Load() with an unknown key expected error, got nil")
	}
}

// TestS1SimpleLinearWorkflow reproduces spec.md §8 scenario S1.
func TestS1SimpleLinearWorkflow(t *testing.T) {
	w, err := Load([]byte(s1Doc))
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	e := New(w)

	next, err := e.EvaluateTransitions("A", guard.Context{})
	if err != nil {
		t.Fatalf("EvaluateTransitions() unexpected error: %v", err)
	}
	if next != "B" {
		t.Errorf("EvaluateTransitions(A) = %q, want %q", next, "B")
	}
	if !e.IsTerminal(next) {
		t.Errorf("IsTerminal(%q) = false, want true", next)
	}
}

// TestS2GuardedBranch reproduces spec.md §8 scenario S2.
func TestS2GuardedBranch(t *testing.T) {
	doc := `
name: s2
version: 1
start: review
phases:
  review:
    kind: evaluate
    prompt: review.md
    transitions:
      - target: fix
        guard: status.needsChanges == true
      - target: done
        guard: status.approved == true
  fix:
    kind: execute
    prompt: fix.md
    transitions:
      - target: review
        auto: true
  done:
    kind: terminal
`
	w, err := Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	e := New(w)

	next, err := e.EvaluateTransitions("review", guard.Context{
		"status": map[string]interface{}{"needsChanges": true},
	})
	if err != nil {
		t.Fatalf("EvaluateTransitions() unexpected error: %v", err)
	}
	if next != "fix" {
		t.Errorf("EvaluateTransitions(review, needsChanges) = %q, want %q", next, "fix")
	}

	next, err = e.EvaluateTransitions("fix", guard.Context{})
	if err != nil {
		t.Fatalf("EvaluateTransitions() unexpected error: %v", err)
	}
	if next != "review" {
		t.Errorf("EvaluateTransitions(fix) = %q, want %q", next, "review")
	}

	next, err = e.EvaluateTransitions("review", guard.Context{
		"status": map[string]interface{}{"approved": true},
	})
	if err != nil {
		t.Fatalf("EvaluateTransitions() unexpected error: %v", err)
	}
	if next != "done" {
		t.Errorf("EvaluateTransitions(review, approved) = %q, want %q", next, "done")
	}
	if !e.IsTerminal(next) {
		t.Errorf("IsTerminal(%q) = false, want true", next)
	}
}

func TestTerminalPhaseHasNoTransitions(t *testing.T) {
	w, err := Load([]byte(s1Doc))
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	e := New(w)

	next, err := e.EvaluateTransitions("B", guard.Context{"anything": "goes"})
	if err != nil {
		t.Fatalf("EvaluateTransitions() unexpected error: %v", err)
	}
	if next != "" {
		t.Errorf("EvaluateTransitions(B) = %q, want empty", next)
	}
}

func TestStorePersistsAndDuplicates(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if err := store.Save("default", []byte(s1Doc)); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
	names, err := store.Names()
	if err != nil {
		t.Fatalf("Names() unexpected error: %v", err)
	}
	if want := []string{"default"}; !reflect.DeepEqual(names, want) {
		t.Errorf("Names() = %v, want %v", names, want)
	}

	if err := store.Duplicate("default", "copy"); err != nil {
		t.Fatalf("Duplicate() unexpected error: %v", err)
	}
	w, err := store.LoadByName("copy")
	if err != nil {
		t.Fatalf("LoadByName() unexpected error: %v", err)
	}
	if w.StartPhase() != "A" {
		t.Errorf("StartPhase() = %q, want %q", w.StartPhase(), "A")
	}

	if err := store.Delete("copy"); err != nil {
		t.Fatalf("Delete() unexpected error: %v", err)
	}
	if _, err := store.LoadByName("copy"); err == nil {
		t.Errorf("LoadByName(copy) after Delete() expected error, got nil")
	}
}
