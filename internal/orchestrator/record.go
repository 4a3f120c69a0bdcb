// Package orchestrator implements the iteration orchestrator (spec.md
// §4.7): the supervisor loop that drives a workflow to completion by
// spawning one fresh agent-runner subprocess per phase attempt.
// Grounded on _examples/original_source/src/jeeves/viewer/server.py's
// JeevesRunManager, read in full — start/_run_iteration_loop/
// _ensure_jeeves_symlink/_run_single_iteration/
// _check_completion_promise/stop — translated into a goroutine with a
// mutex-guarded run record, in the idiom of
// internal/controller/controller.go's Controller.Run loop and
// shutdown.go's sync.Once-guarded shutdown sequence.
package orchestrator

import (
	"time"

	"github.com/andywolf/agentium/internal/issuestate"
)

// RunRecord is the in-memory, observable run state (spec.md §3.4).
type RunRecord struct {
	Running             bool                 `json:"running"`
	CurrentIteration    int                  `json:"current_iteration"`
	MaxIterations       int                  `json:"max_iterations"`
	InactivityTimeoutSec float64             `json:"inactivity_timeout_sec"`
	IterationTimeoutSec  float64             `json:"iteration_timeout_sec"`
	CompletedViaPromise  bool                `json:"completed_via_promise"`
	CompletedViaState    bool                `json:"completed_via_state"`
	CompletionReason     string              `json:"completion_reason,omitempty"`
	StartedAt            time.Time           `json:"started_at,omitempty"`
	EndedAt              time.Time           `json:"ended_at,omitempty"`
	ReturnCode           int                 `json:"return_code"`
	ViewerLogPath        string              `json:"viewer_log_path,omitempty"`
	LastError            string              `json:"last_error,omitempty"`
	IssueRef             *issuestate.IssueRef `json:"issue_ref,omitempty"`
}

// clone returns a deep-enough copy safe to hand to callers outside the
// mutex.
func (r RunRecord) clone() RunRecord {
	cp := r
	if r.IssueRef != nil {
		ref := *r.IssueRef
		cp.IssueRef = &ref
	}
	return cp
}
