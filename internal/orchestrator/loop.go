package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andywolf/agentium/internal/guard"
	"github.com/andywolf/agentium/internal/issuestate"
	"github.com/andywolf/agentium/internal/jeeveserr"
	"github.com/andywolf/agentium/internal/workflow"
)

// completionPromise is the literal marker that ends a run (spec.md
// §6: "Completion promise").
const completionPromise = "<promise>COMPLETE</promise>"

// pollInterval bounds each supervise-loop tick; it is derived from the
// inactivity timeout the way _run_single_iteration computes
// `poll_interval = max(0.1, min(1.0, inactivity_timeout/4.0))`.
func pollInterval(inactivityTimeout time.Duration) time.Duration {
	quarter := inactivityTimeout / 4
	if quarter > time.Second {
		quarter = time.Second
	}
	if quarter < 100*time.Millisecond {
		quarter = 100 * time.Millisecond
	}
	return quarter
}

func (o *Orchestrator) runIterationLoop(maxIterations int, viewerLogPath string, inactivityTimeout, iterationTimeout time.Duration, maxBufferSize *int, done chan struct{}) {
	defer close(done)
	defer o.finishLoop()

	for iteration := 1; iteration <= maxIterations; iteration++ {
		o.mu.Lock()
		stopped := o.stopRequested
		o.mu.Unlock()
		if stopped {
			o.logToFile(viewerLogPath, "[STOP] stop requested before iteration start")
			o.setCompletionReason("stop requested")
			return
		}

		o.mu.Lock()
		o.record.CurrentIteration = iteration
		workDir := o.workDir
		issueRef := o.issueRef
		o.mu.Unlock()

		o.logToFile(viewerLogPath, fmt.Sprintf("==========================================\n[ITERATION %d/%d] Starting fresh context\n==========================================", iteration, maxIterations))

		exitCode, err := o.runSingleIteration(workDir, issueRef, viewerLogPath, iterationTimeout, inactivityTimeout, maxBufferSize)
		if err != nil {
			o.logToFile(viewerLogPath, fmt.Sprintf("[ERROR] Iteration loop error: %v", err))
			o.mu.Lock()
			o.record.LastError = err.Error()
			o.mu.Unlock()
			return
		}
		if exitCode != 0 {
			// spec.md §4.7's "Ralph Wiggum discipline": a non-zero agent
			// exit is a TransientChildFailure (§7) — logged, never fatal.
			childErr := jeeveserr.NewTransientChildFailure(exitCode, nil)
			o.logToFile(viewerLogPath, fmt.Sprintf("[WARNING] %v; continuing to next iteration", childErr))
		}
		o.mu.Lock()
		o.record.ReturnCode = exitCode
		o.mu.Unlock()

		if o.postIterationHook != nil {
			if state, lerr := o.store.Load(issueRef); lerr == nil {
				if herr := o.postIterationHook(workDir, state); herr != nil {
					o.logToFile(viewerLogPath, fmt.Sprintf("[WARNING] post-iteration hook: %v", herr))
				}
			}
		}

		if o.reevaluateTransition(workDir, issueRef, viewerLogPath) {
			return
		}
		if o.sweepCompletionPromise(issueRef, viewerLogPath) {
			return
		}

		time.Sleep(sleepBetweenIterations)
	}

	o.logToFile(viewerLogPath, fmt.Sprintf("[MAX ITERATIONS] Reached %d iterations without completion", maxIterations))
	o.setCompletionReason("reached maximum iterations")
}

func (o *Orchestrator) finishLoop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record.Running = false
	o.record.EndedAt = now()
}

func (o *Orchestrator) setCompletionReason(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.record.CompletionReason == "" {
		o.record.CompletionReason = reason
	}
}

// reevaluateTransition reloads issue state, asks the engine for the
// next phase, and returns true if the loop should end (terminal phase
// reached).
func (o *Orchestrator) reevaluateTransition(workDir string, ref issuestate.IssueRef, viewerLogPath string) bool {
	state, err := o.store.Load(ref)
	if err != nil {
		o.logToFile(viewerLogPath, fmt.Sprintf("[ERROR] failed to reload issue state: %v", err))
		return false
	}
	engine, err := o.engineFor(state.WorkflowOrDefault())
	if err != nil {
		o.logToFile(viewerLogPath, fmt.Sprintf("[ERROR] failed to load workflow %q: %v", state.WorkflowOrDefault(), err))
		return false
	}

	next, err := engine.EvaluateTransitions(state.Phase, guard.Context(state.AsContext()))
	if err != nil || next == "" {
		return false
	}

	current := state.Phase
	state.Phase = next
	if err := o.store.Save(ref, state); err != nil {
		o.logToFile(viewerLogPath, fmt.Sprintf("[ERROR] failed to save transitioned state: %v", err))
		return false
	}

	if engine.IsTerminal(next) {
		o.logToFile(viewerLogPath, fmt.Sprintf("[COMPLETE] Reached terminal phase: %s", next))
		o.mu.Lock()
		o.record.CompletedViaState = true
		o.record.CompletionReason = fmt.Sprintf("reached terminal phase: %s", next)
		o.mu.Unlock()
		return true
	}

	o.logToFile(viewerLogPath, fmt.Sprintf("[TRANSITION] %s -> %s", current, next))
	return false
}

func (o *Orchestrator) sweepCompletionPromise(ref issuestate.IssueRef, viewerLogPath string) bool {
	dir := filepath.Join(o.store.Dir, "issues", ref.Owner, ref.Repo, fmt.Sprintf("%d", ref.Number))
	found := false

	if data, err := os.ReadFile(filepath.Join(dir, "sdk-output.json")); err == nil && strings.Contains(string(data), completionPromise) {
		found = true
	}
	if !found {
		if data, err := os.ReadFile(filepath.Join(dir, "last-run.log")); err == nil && strings.Contains(string(data), completionPromise) {
			found = true
		}
	}
	if !found {
		return false
	}

	iteration := o.Status().CurrentIteration
	o.logToFile(viewerLogPath, fmt.Sprintf("[COMPLETE] Agent signaled completion after %d iteration(s)", iteration))
	o.mu.Lock()
	o.record.CompletedViaPromise = true
	o.record.CompletionReason = "completion promise found in output"
	o.mu.Unlock()
	return true
}

func (o *Orchestrator) engineFor(workflowName string) (*workflow.Engine, error) {
	o.mu.Lock()
	if o.engineCache != nil && o.engineCacheName == workflowName {
		engine := o.engineCache
		o.mu.Unlock()
		return engine, nil
	}
	o.mu.Unlock()

	wf, err := o.workflowStore.LoadByNameWithFallback(workflowName)
	if err != nil {
		return nil, err
	}
	engine := workflow.New(wf)

	o.mu.Lock()
	o.engineCache = engine
	o.engineCacheName = workflowName
	o.mu.Unlock()
	return engine, nil
}

func (o *Orchestrator) logToFile(path, message string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s\n", message)
	o.logger.Println(message)
}
