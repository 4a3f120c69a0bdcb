package orchestrator

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/andywolf/agentium/internal/issuestate"
	"github.com/andywolf/agentium/internal/jeeveserr"
	"github.com/andywolf/agentium/internal/workflow"
)

// DefaultMaxIterations, DefaultInactivityTimeout and
// DefaultIterationTimeout mirror spec.md §5's stated defaults.
const (
	DefaultMaxIterations     = 10
	DefaultInactivityTimeout = 600 * time.Second
	DefaultIterationTimeout  = 3600 * time.Second
)

// sleepBetweenIterations is the "let the filesystem settle" pause
// between loop iterations (spec.md §4.7 step 9).
const sleepBetweenIterations = 500 * time.Millisecond

// RunnerCmdBuilder constructs the argv for the agent-runner
// collaborator (spec.md §6). Given the resolved prompt path, output
// paths and work/state directories, it returns the full command line.
type RunnerCmdBuilder func(args RunnerArgs) []string

// RunnerArgs are the resolved paths passed to a RunnerCmdBuilder.
type RunnerArgs struct {
	PromptPath     string
	OutputPath     string // sdk-output.json
	TextOutputPath string // last-run.log
	WorkDir        string
	StateDir       string
	MaxBufferSize  *int
}

// DefaultRunnerCmd builds `agent-runner --prompt ... --output ...
// --text-output ... --work-dir ... --state-dir ... [--max-buffer-size
// N]`, standing in for the teacher's `python -m
// jeeves.runner.sdk_runner` invocation.
func DefaultRunnerCmd(args RunnerArgs) []string {
	return append([]string{"agent-runner"}, runnerFlags(args)...)
}

// PostIterationHook lets a caller opt into write-allowlist enforcement
// or any other post-iteration policy (DESIGN.md's Open Question #1
// decision: left pluggable, not enforced in-process by default). When
// set, it runs after each iteration's subprocess exits and before the
// transition is evaluated; an error it returns is logged and the loop
// continues.
type PostIterationHook func(workDir string, state *issuestate.IssueState) error

// Config wires an Orchestrator's collaborators.
type Config struct {
	Store             *issuestate.Store
	WorkflowStore     *workflow.Store
	RunnerCmd         RunnerCmdBuilder
	RunnerCmdOverride []string
	PostIterationHook PostIterationHook
	Logger            *log.Logger
}

// Orchestrator drives one issue's workflow to completion, one fresh
// subprocess per phase attempt, exposing a run record for external
// observation.
type Orchestrator struct {
	store             *issuestate.Store
	workflowStore     *workflow.Store
	runnerCmd         RunnerCmdBuilder
	runnerCmdOverride []string
	postIterationHook PostIterationHook
	logger            *log.Logger

	mu            sync.Mutex
	record        RunRecord
	issueSet      bool
	issueRef      issuestate.IssueRef
	workDir       string
	stopRequested bool
	stopForce     bool
	loopDone      chan struct{}

	engineCacheName string
	engineCache     *workflow.Engine
}

// New constructs an Orchestrator. A nil Logger discards output.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	runnerCmd := cfg.RunnerCmd
	if runnerCmd == nil {
		runnerCmd = DefaultRunnerCmd
	}
	return &Orchestrator{
		store:             cfg.Store,
		workflowStore:     cfg.WorkflowStore,
		runnerCmd:         runnerCmd,
		runnerCmdOverride: cfg.RunnerCmdOverride,
		postIterationHook: cfg.PostIterationHook,
		logger:            logger,
	}
}

// SetIssue changes the active issue. Rejected while a run is in
// progress (spec.md §4.7: "set_issue(ref) — changes the active issue
// (only when idle)").
func (o *Orchestrator) SetIssue(ref issuestate.IssueRef, workDir string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.record.Running {
		return jeeveserr.NewConflict("cannot change issue while a run is in progress")
	}
	o.issueRef = ref
	o.workDir = workDir
	o.issueSet = true
	o.record.IssueRef = &ref
	o.record.ViewerLogPath = o.viewerLogPathLocked()
	return nil
}

func (o *Orchestrator) viewerLogPathLocked() string {
	if !o.issueSet {
		return ""
	}
	return filepath.Join(o.stateDirLocked(), "viewer-run.log")
}

func (o *Orchestrator) stateDirLocked() string {
	return filepath.Join(o.store.Dir, "issues", o.issueRef.Owner, o.issueRef.Repo, fmt.Sprintf("%d", o.issueRef.Number))
}

// CurrentIssue returns the active issue reference and its state
// directory, and whether an issue has been selected at all. Used by
// the observation server to target its watchers at the right files
// (spec.md §9: "a single orchestrator instance owns one active issue
// at a time").
func (o *Orchestrator) CurrentIssue() (issuestate.IssueRef, string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.issueSet {
		return issuestate.IssueRef{}, "", false
	}
	return o.issueRef, o.stateDirLocked(), true
}

// WorkDir returns the active issue's worktree directory.
func (o *Orchestrator) WorkDir() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.workDir
}

// Store returns the underlying issue state store, for callers (the
// observation server) that need to load/save issue.json directly.
func (o *Orchestrator) Store() *issuestate.Store { return o.store }

// WorkflowStore returns the underlying workflow catalog store.
func (o *Orchestrator) WorkflowStore() *workflow.Store { return o.workflowStore }

// Status returns a snapshot of the run record.
func (o *Orchestrator) Status() RunRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.record.clone()
}

// Start launches the background supervisor loop. It fails if already
// running, if no issue is selected, or if the worktree does not
// exist (spec.md §4.7).
func (o *Orchestrator) Start(maxIterations int, inactivityTimeout, iterationTimeout time.Duration, maxBufferSize *int) error {
	o.mu.Lock()
	if o.record.Running {
		o.mu.Unlock()
		return jeeveserr.NewConflict("orchestrator is already running")
	}
	if !o.issueSet {
		o.mu.Unlock()
		return jeeveserr.NewValidation("no issue selected", nil)
	}
	workDir := o.workDir
	viewerLogPath := o.viewerLogPathLocked()
	o.mu.Unlock()

	if _, err := os.Stat(workDir); err != nil {
		return jeeveserr.NewNotFound("worktree", workDir)
	}
	if err := os.MkdirAll(filepath.Dir(viewerLogPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(viewerLogPath, nil, 0o644); err != nil {
		return err
	}

	o.mu.Lock()
	o.record = RunRecord{
		Running:              true,
		MaxIterations:        maxIterations,
		InactivityTimeoutSec: inactivityTimeout.Seconds(),
		IterationTimeoutSec:  iterationTimeout.Seconds(),
		StartedAt:            now(),
		ViewerLogPath:        viewerLogPath,
		IssueRef:             refPtr(o.issueRef),
	}
	o.stopRequested = false
	o.stopForce = false
	done := make(chan struct{})
	o.loopDone = done
	o.mu.Unlock()

	go o.runIterationLoop(maxIterations, viewerLogPath, inactivityTimeout, iterationTimeout, maxBufferSize, done)
	return nil
}

// Stop signals the supervisor to stop, terminates any active
// subprocess, and waits (up to timeout) for supervisor completion.
// force selects the signal sent to the current iteration's subprocess
// group: SIGTERM when false, SIGKILL immediately when true (spec.md
// §4.7: "stop(force, timeout) — ... sends TERM (or KILL if force)
// ...", grounded on JeevesRunManager.stop).
func (o *Orchestrator) Stop(force bool, timeout time.Duration) RunRecord {
	o.mu.Lock()
	o.stopRequested = true
	o.stopForce = force
	done := o.loopDone
	o.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
		}
	}
	return o.Status()
}

func refPtr(ref issuestate.IssueRef) *issuestate.IssueRef {
	return &ref
}

// now is overridable in tests that need deterministic timestamps; the
// default wall-clock is used in production.
var now = time.Now
