package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andywolf/agentium/internal/guard"
	"github.com/andywolf/agentium/internal/issuestate"
	"github.com/andywolf/agentium/internal/jeeveserr"
	"github.com/andywolf/agentium/internal/procsup"
	"github.com/andywolf/agentium/internal/scriptphase"
	"github.com/andywolf/agentium/internal/workflow"
)

// runSingleIteration runs exactly one phase attempt (spec.md §4.7
// steps 2-6): ensures the .jeeves symlink, resolves the phase, and
// either runs a script phase in-process or spawns the agent-runner
// collaborator and supervises it to completion, timeout, or
// inactivity. Returns the attempt's exit code, or an error only for
// conditions that should end the whole loop (spec.md §4.7's
// "Exceptions in the supervisor" failure mode).
func (o *Orchestrator) runSingleIteration(workDir string, ref issuestate.IssueRef, viewerLogPath string, iterationTimeout, inactivityTimeout time.Duration, maxBufferSize *int) (int, error) {
	stateDir := filepath.Join(o.store.Dir, "issues", ref.Owner, ref.Repo, fmt.Sprintf("%d", ref.Number))

	if !o.ensureJeevesSymlink(workDir, stateDir, viewerLogPath) {
		return 1, nil
	}

	state, err := o.store.Load(ref)
	if err != nil {
		return 1, fmt.Errorf("load issue state: %w", err)
	}
	engine, err := o.engineFor(state.WorkflowOrDefault())
	if err != nil {
		return 1, fmt.Errorf("load workflow %q: %w", state.WorkflowOrDefault(), err)
	}
	phase, ok := engine.GetPhase(state.Phase)
	if !ok {
		o.logToFile(viewerLogPath, fmt.Sprintf("[ERROR] Invalid phase %q", state.Phase))
		return 1, nil
	}

	switch phase.Kind {
	case workflow.KindTerminal:
		return 0, nil

	case workflow.KindScript:
		res := scriptphase.Run(phase, workDir, guard.Context(state.AsContext()), scriptphase.DefaultTimeout)
		o.logToFile(viewerLogPath, fmt.Sprintf("[SCRIPT] %s exited %d", phase.Name, res.ExitCode))
		if state.Status == nil {
			state.Status = map[string]interface{}{}
		}
		for k, v := range res.StatusUpdates {
			state.Status[k] = v
		}
		if err := o.store.Save(ref, state); err != nil {
			return res.ExitCode, fmt.Errorf("save state after script phase: %w", err)
		}
		return res.ExitCode, nil

	default: // execute / evaluate
		promptPath := filepath.Join(o.promptsDir(), phase.Prompt)
		if phase.Prompt == "" {
			o.logToFile(viewerLogPath, fmt.Sprintf("[ERROR] phase %q has no prompt configured", phase.Name))
			return 1, nil
		}
		if _, err := os.Stat(promptPath); err != nil {
			o.logToFile(viewerLogPath, fmt.Sprintf("[ERROR] prompt file not found: %s", promptPath))
			return 1, nil
		}
		return o.spawnAndSupervise(workDir, stateDir, promptPath, viewerLogPath, iterationTimeout, inactivityTimeout, maxBufferSize)
	}
}

func (o *Orchestrator) promptsDir() string {
	return filepath.Join(o.store.Dir, "prompts")
}

// ensureJeevesSymlink verifies <workDir>/.jeeves/issue.json is
// reachable, (re-)creating the symlink if not, and logs actionable
// diagnostics on persistent failure (spec.md §4.7 step 2; grounded on
// _ensure_jeeves_symlink's four-line error block).
func (o *Orchestrator) ensureJeevesSymlink(workDir, stateDir, viewerLogPath string) bool {
	linkPath := filepath.Join(workDir, ".jeeves")
	issuePath := filepath.Join(linkPath, "issue.json")

	if _, err := os.Stat(issuePath); err == nil {
		return true
	}

	if _, err := os.Stat(filepath.Join(stateDir, "issue.json")); err != nil {
		o.logToFile(viewerLogPath, "[ERROR] state directory has no issue.json; cannot create .jeeves symlink")
		return false
	}

	_ = os.Remove(linkPath)
	if err := os.Symlink(stateDir, linkPath); err == nil {
		if _, err := os.Stat(issuePath); err == nil {
			return true
		}
	}

	o.logToFile(viewerLogPath, fmt.Sprintf("[ERROR] worktree path: %s", workDir))
	o.logToFile(viewerLogPath, fmt.Sprintf("[ERROR] state dir: %s", stateDir))
	o.logToFile(viewerLogPath, "[ERROR] could not create or verify the .jeeves symlink")
	o.logToFile(viewerLogPath, fmt.Sprintf("[ERROR] try: ln -s %s %s", stateDir, linkPath))
	return false
}

// spawnAndSupervise launches the agent-runner collaborator in its own
// process group and supervises it until exit, iteration timeout, or
// inactivity timeout, mirroring _run_single_iteration's supervise
// loop (spec.md §4.7 steps 5-6).
func (o *Orchestrator) spawnAndSupervise(workDir, stateDir, promptPath, viewerLogPath string, iterationTimeout, inactivityTimeout time.Duration, maxBufferSize *int) (int, error) {
	outputPath := filepath.Join(stateDir, "sdk-output.json")
	textOutputPath := filepath.Join(stateDir, "last-run.log")

	var argv []string
	if len(o.runnerCmdOverride) > 0 {
		argv = append(append([]string{}, o.runnerCmdOverride...), runnerFlags(RunnerArgs{
			PromptPath: promptPath, OutputPath: outputPath, TextOutputPath: textOutputPath,
			WorkDir: workDir, StateDir: stateDir, MaxBufferSize: maxBufferSize,
		})...)
	} else {
		argv = o.runnerCmd(RunnerArgs{
			PromptPath: promptPath, OutputPath: outputPath, TextOutputPath: textOutputPath,
			WorkDir: workDir, StateDir: stateDir, MaxBufferSize: maxBufferSize,
		})
	}

	group, err := procsup.Start(argv, workDir, os.Environ())
	if err != nil {
		o.logToFile(viewerLogPath, fmt.Sprintf("[ERROR] failed to spawn agent runner: %v", err))
		return 1, nil
	}

	logFile, ferr := os.OpenFile(viewerLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if ferr != nil {
		group.Terminate(false)
		return 1, fmt.Errorf("open viewer log: %w", ferr)
	}
	defer logFile.Close()

	deadline := now().Add(iterationTimeout)
	lastActivity := now()
	poll := pollInterval(inactivityTimeout)

	exitCh := make(chan int, 1)
	go func() { exitCh <- group.Wait() }()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-group.Lines:
			if !ok {
				continue
			}
			if line.EOF {
				if line.Err != nil {
					o.logToFile(viewerLogPath, fmt.Sprintf("[WARNING] %v", jeeveserr.NewTransientChildFailure(0, line.Err)))
				}
				continue
			}
			fmt.Fprintln(logFile, line.Text)
			lastActivity = now()

		case code := <-exitCh:
			o.drainLines(group, logFile, viewerLogPath)
			return code, nil

		case <-ticker.C:
			if advanced := fileAdvanced(stateDir, "last-run.log", "sdk-output.json"); advanced {
				lastActivity = now()
			}
			if elapsed := now().Sub(lastActivity); elapsed > inactivityTimeout {
				err := jeeveserr.NewTimeout("Iteration inactive", elapsed.Seconds())
				o.logToFile(viewerLogPath, fmt.Sprintf("[ERROR] %s for %.1fs; terminating", err.Reason, err.Elapsed))
				code := group.Terminate(false)
				o.drainLines(group, logFile, viewerLogPath)
				return code, nil
			}
			if now().After(deadline) {
				err := jeeveserr.NewTimeout("iteration timeout exceeded", iterationTimeout.Seconds())
				o.logToFile(viewerLogPath, fmt.Sprintf("[ERROR] %s; terminating", err.Reason))
				code := group.Terminate(false)
				o.drainLines(group, logFile, viewerLogPath)
				return code, nil
			}
			o.mu.Lock()
			stopped := o.stopRequested
			force := o.stopForce
			o.mu.Unlock()
			if stopped {
				sig := "TERM"
				if force {
					sig = "KILL"
				}
				o.logToFile(viewerLogPath, fmt.Sprintf("[STOP] stop requested; sending %s to current iteration", sig))
				code := group.Terminate(force)
				o.drainLines(group, logFile, viewerLogPath)
				return code, nil
			}
		}
	}
}

func (o *Orchestrator) drainLines(group *procsup.Group, logFile *os.File, viewerLogPath string) {
	for line := range group.Lines {
		if line.EOF {
			if line.Err != nil {
				o.logToFile(viewerLogPath, fmt.Sprintf("[WARNING] %v", jeeveserr.NewTransientChildFailure(0, line.Err)))
			}
			return
		}
		fmt.Fprintln(logFile, line.Text)
	}
}

func fileAdvanced(dir string, names ...string) bool {
	// Best-effort inactivity signal: any tracked file existing with a
	// recent mtime counts as activity. Precise baseline tracking lives
	// with the caller (lastActivity), this just samples current mtimes.
	for _, name := range names {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil {
			if now().Sub(info.ModTime()) < time.Second {
				return true
			}
		}
	}
	return false
}

func runnerFlags(args RunnerArgs) []string {
	flags := []string{
		"--prompt", args.PromptPath,
		"--output", args.OutputPath,
		"--text-output", args.TextOutputPath,
		"--work-dir", args.WorkDir,
		"--state-dir", args.StateDir,
	}
	if args.MaxBufferSize != nil {
		flags = append(flags, "--max-buffer-size", fmt.Sprintf("%d", *args.MaxBufferSize))
	}
	return flags
}
