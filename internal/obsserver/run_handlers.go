package obsserver

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/andywolf/agentium/internal/issuestate"
)

// runRequest is POST /api/run's body (spec.md §6).
type runRequest struct {
	IssueRef             *issueRefBody `json:"issue_ref,omitempty"`
	MaxIterations        int           `json:"max_iterations"`
	InactivityTimeoutSec float64       `json:"inactivity_timeout_sec"`
	IterationTimeoutSec  float64       `json:"iteration_timeout_sec"`
	MaxBufferSize        *int          `json:"max_buffer_size,omitempty"`

	// Legacy fields the original surface once accepted; rejected
	// explicitly here rather than silently ignored (SPEC_FULL.md §C.7).
	Runner       *string           `json:"runner,omitempty"`
	Mode         *string           `json:"mode,omitempty"`
	OutputMode   *string           `json:"output_mode,omitempty"`
	PrintPrompt  *bool             `json:"print_prompt,omitempty"`
	PromptAppend *string           `json:"prompt_append,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
}

type issueRefBody struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

type stopRequest struct {
	Force bool `json:"force,omitempty"`
}

func (s *Server) handlePostRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))
		return
	}

	if unsupported := firstUnsupportedField(body); unsupported != "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported field %q is no longer accepted", unsupported))
		return
	}

	if body.MaxIterations <= 0 {
		writeError(w, http.StatusBadRequest, "max_iterations must be positive")
		return
	}
	if body.InactivityTimeoutSec <= 0 || body.IterationTimeoutSec <= 0 {
		writeError(w, http.StatusBadRequest, "inactivity_timeout_sec and iteration_timeout_sec must be positive")
		return
	}

	if body.IssueRef != nil {
		ref := issuestate.IssueRef{Owner: body.IssueRef.Owner, Repo: body.IssueRef.Repo, Number: body.IssueRef.Number}
		if err := s.selectIssue(ref); err != nil {
			writeMappedError(w, err)
			return
		}
	}

	err := s.orch.Start(body.MaxIterations,
		time.Duration(body.InactivityTimeoutSec*float64(time.Second)),
		time.Duration(body.IterationTimeoutSec*float64(time.Second)),
		body.MaxBufferSize)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	if ref, _, ok := s.orch.CurrentIssue(); ok {
		_ = s.store.SaveActiveIssue(ref)
		_ = s.store.TouchRecent(ref)
	}

	writeJSON(w, http.StatusOK, s.orch.Status())
}

func firstUnsupportedField(body runRequest) string {
	switch {
	case body.Runner != nil:
		return "runner"
	case body.Mode != nil:
		return "mode"
	case body.OutputMode != nil:
		return "output_mode"
	case body.PrintPrompt != nil:
		return "print_prompt"
	case body.PromptAppend != nil:
		return "prompt_append"
	case body.Env != nil:
		return "env"
	default:
		return ""
	}
}

func (s *Server) handlePostRunStop(w http.ResponseWriter, r *http.Request) {
	var body stopRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))
		return
	}
	record := s.orch.Stop(body.Force, 30*time.Second)
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleGetRunLogs(w http.ResponseWriter, r *http.Request) {
	_, _, _, _, viewerWatch, _, ok := s.activeWatchers()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"lines": []string{}})
		return
	}
	lines := viewerWatch.GetAllLines(500)
	writeJSON(w, http.StatusOK, map[string]interface{}{"lines": lines})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	_, _, _, _, _, builder, ok := s.activeWatchers()
	if !ok {
		writeJSON(w, http.StatusOK, Snapshot{Mode: ModeUnknown, Run: s.orch.Status()})
		return
	}
	writeJSON(w, http.StatusOK, builder.Build(false, false))
}

// selectIssue points the server and orchestrator at ref, failing if a
// run is currently active (spec.md §4.7 "set_issue ... only when
// idle").
func (s *Server) selectIssue(ref issuestate.IssueRef) error {
	dataDir := s.orch.Store().Dir
	workDir := filepath.Join(dataDir, "worktrees", ref.Owner, ref.Repo, fmt.Sprintf("issue-%d", ref.Number))
	if err := s.orch.SetIssue(ref, workDir); err != nil {
		return err
	}

	s.mu.Lock()
	s.setActiveIssueLocked(ref, s.store.StateDir(ref))
	s.mu.Unlock()
	return nil
}

func (s *Server) handlePostIssueSelect(w http.ResponseWriter, r *http.Request) {
	var body issueRefBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))
		return
	}
	if body.Owner == "" || body.Repo == "" || body.Number == 0 {
		writeError(w, http.StatusBadRequest, "owner, repo and number are required")
		return
	}
	ref := issuestate.IssueRef{Owner: body.Owner, Repo: body.Repo, Number: body.Number}
	if _, err := s.store.Load(ref); err != nil {
		writeMappedError(w, err)
		return
	}
	if err := s.selectIssue(ref); err != nil {
		writeMappedError(w, err)
		return
	}
	_ = s.store.SaveActiveIssue(ref)
	writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handlePostIssueStatus(w http.ResponseWriter, r *http.Request) {
	if s.orch.Status().Running {
		writeError(w, http.StatusConflict, "cannot override phase while a run is in progress")
		return
	}

	var body struct {
		Phase string `json:"phase"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))
		return
	}
	if body.Phase == "" {
		writeError(w, http.StatusBadRequest, "phase is required")
		return
	}

	ref, _, ok := s.orch.CurrentIssue()
	if !ok {
		writeError(w, http.StatusNotFound, "no active issue selected")
		return
	}
	state, err := s.store.Load(ref)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	state.Phase = body.Phase
	if err := s.store.Save(ref, state); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}
