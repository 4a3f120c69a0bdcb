package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andywolf/agentium/internal/issuestate"
	"github.com/andywolf/agentium/internal/workflow"
)

const linearWorkflow = `
name: default
version: 1
start: draft
phases:
  draft:
    kind: script
    command: "exit 0"
    status_mapping:
      success:
        drafted: true
    transitions:
      - target: done
        guard: "status.drafted == true"
  done:
    kind: terminal
`

func newTestOrchestrator(t *testing.T) (*Orchestrator, issuestate.IssueRef, string) {
	t.Helper()
	dataDir := t.TempDir()
	workDir := t.TempDir()

	wfStore := workflow.NewStore(filepath.Join(dataDir, "workflows"))
	if err := wfStore.Save("default", []byte(linearWorkflow)); err != nil {
		t.Fatalf("wfStore.Save() unexpected error: %v", err)
	}

	store := issuestate.NewStore(dataDir)
	ref := issuestate.IssueRef{Owner: "acme", Repo: "widgets", Number: 1}
	if err := store.Save(ref, &issuestate.IssueState{
		Owner: "acme", Repo: "widgets",
		Issue: issuestate.Issue{Number: 1}, Workflow: "default", Phase: "draft",
	}); err != nil {
		t.Fatalf("store.Save() unexpected error: %v", err)
	}

	o := New(Config{Store: store, WorkflowStore: wfStore})
	if err := o.SetIssue(ref, workDir); err != nil {
		t.Fatalf("SetIssue() unexpected error: %v", err)
	}
	return o, ref, workDir
}

func TestStartRejectsWithoutIssue(t *testing.T) {
	dataDir := t.TempDir()
	o := New(Config{Store: issuestate.NewStore(dataDir), WorkflowStore: workflow.NewStore(dataDir)})
	if err := o.Start(1, time.Second, time.Second, nil); err == nil {
		t.Errorf("Start() without an issue selected expected error, got nil")
	}
}

func TestStartRejectsMissingWorktree(t *testing.T) {
	o, ref, workDir := newTestOrchestrator(t)
	if err := os.RemoveAll(workDir); err != nil {
		t.Fatalf("os.RemoveAll() unexpected error: %v", err)
	}
	if err := o.Start(1, time.Second, time.Second, nil); err == nil {
		t.Errorf("Start() with a missing worktree expected error, got nil")
	}
	_ = ref
}

func TestS1ScriptOnlyWorkflowReachesTerminalViaState(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	if err := o.Start(5, 5*time.Second, 5*time.Second, nil); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status := o.Status()
		if !status.Running {
			if !status.CompletedViaState {
				t.Errorf("status.CompletedViaState = false, want true")
			}
			if want := "terminal phase: done"; !strings.Contains(status.CompletionReason, want) {
				t.Errorf("status.CompletionReason = %q, want it to contain %q", status.CompletionReason, want)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("orchestrator did not complete in time")
}

func TestSetIssueRejectedWhileRunning(t *testing.T) {
	o, ref, _ := newTestOrchestrator(t)
	if err := o.Start(5, 5*time.Second, 5*time.Second, nil); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}
	if err := o.SetIssue(ref, t.TempDir()); err == nil {
		t.Errorf("SetIssue() while running expected error, got nil")
	}
	o.Stop(true, 2*time.Second)
}

func TestStopTerminatesRunningLoop(t *testing.T) {
	dataDir := t.TempDir()
	workDir := t.TempDir()
	wfStore := workflow.NewStore(filepath.Join(dataDir, "workflows"))
	// A workflow whose start phase never transitions, so the loop would
	// otherwise run for all 50 iterations; Stop should cut it short.
	if err := wfStore.Save("default", []byte(`
name: default
version: 1
start: draft
phases:
  draft:
    kind: script
    command: "sleep 0.2"
  done:
    kind: terminal
`)); err != nil {
		t.Fatalf("wfStore.Save() unexpected error: %v", err)
	}
	store := issuestate.NewStore(dataDir)
	ref := issuestate.IssueRef{Owner: "acme", Repo: "widgets", Number: 2}
	if err := store.Save(ref, &issuestate.IssueState{
		Owner: "acme", Repo: "widgets", Issue: issuestate.Issue{Number: 2}, Workflow: "default", Phase: "draft",
	}); err != nil {
		t.Fatalf("store.Save() unexpected error: %v", err)
	}

	o := New(Config{Store: store, WorkflowStore: wfStore})
	if err := o.SetIssue(ref, workDir); err != nil {
		t.Fatalf("SetIssue() unexpected error: %v", err)
	}
	if err := o.Start(50, 5*time.Second, 5*time.Second, nil); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	status := o.Stop(true, 5*time.Second)
	if status.Running {
		t.Errorf("status.Running = true, want false")
	}
	if status.CurrentIteration >= 50 {
		t.Errorf("status.CurrentIteration = %d, want < 50", status.CurrentIteration)
	}
}

// TestStopForceSendsKillNotTerm reproduces spec.md §4.7's "stop(force,
// timeout) ... sends TERM (or KILL if force)": a force=true Stop
// against a child that ignores SIGTERM must still bring the iteration
// down quickly, proving force actually reaches the subprocess signal
// rather than always sending TERM regardless of the caller's flag.
func TestStopForceSendsKillNotTerm(t *testing.T) {
	dataDir := t.TempDir()
	workDir := t.TempDir()
	wfStore := workflow.NewStore(filepath.Join(dataDir, "workflows"))
	if err := wfStore.Save("default", []byte(`
name: default
version: 1
start: work
phases:
  work:
    kind: execute
    prompt: build.md
  done:
    kind: terminal
`)); err != nil {
		t.Fatalf("wfStore.Save() unexpected error: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "prompts"), 0o755); err != nil {
		t.Fatalf("os.MkdirAll() unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "prompts", "build.md"), []byte("do work"), 0o644); err != nil {
		t.Fatalf("os.WriteFile() unexpected error: %v", err)
	}

	store := issuestate.NewStore(dataDir)
	ref := issuestate.IssueRef{Owner: "acme", Repo: "widgets", Number: 3}
	if err := store.Save(ref, &issuestate.IssueState{
		Owner: "acme", Repo: "widgets", Issue: issuestate.Issue{Number: 3}, Workflow: "default", Phase: "work",
	}); err != nil {
		t.Fatalf("store.Save() unexpected error: %v", err)
	}

	o := New(Config{
		Store:         store,
		WorkflowStore: wfStore,
		// Stands in for the agent-runner collaborator with a child that
		// ignores SIGTERM, so only SIGKILL (force=true) can end it quickly.
		RunnerCmdOverride: []string{"/bin/sh", "-c", "trap '' TERM; sleep 30"},
	})
	if err := o.SetIssue(ref, workDir); err != nil {
		t.Fatalf("SetIssue() unexpected error: %v", err)
	}
	if err := o.Start(1, 30*time.Second, 30*time.Second, nil); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	status := o.Stop(true, 9*time.Second)
	elapsed := time.Since(start)

	if status.Running {
		t.Errorf("status.Running = true, want false")
	}
	// procsup's grace period between TERM and KILL is 10s; a force=true
	// Stop that actually sends KILL immediately must return well before
	// that, whereas a TERM that the child ignores would not.
	if elapsed >= 9*time.Second {
		t.Errorf("Stop(force=true) took %v, want well under the grace period (force should skip straight to SIGKILL)", elapsed)
	}
}
