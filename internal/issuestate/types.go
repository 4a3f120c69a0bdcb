// Package issuestate implements the canonical per-issue state document
// (spec.md §3.2, §3.3, §4.9): IssueState, its embedded TaskList, and an
// atomic JSON store. Grounded on
// _examples/original_source/src/jeeves/viewer/server.py's
// _read_issue_json/_write_issue_json (temp-file-plus-rename) and on
// the IssueState.load(owner, repo, number) call the same file makes
// from JeevesRunManager._run_single_iteration.
package issuestate

// IssueRef identifies an issue by its {owner, repo, number} triple
// (spec.md §6).
type IssueRef struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

// Issue carries the subset of GitHub issue metadata the state document
// embeds.
type Issue struct {
	Number int    `json:"number"`
	Title  string `json:"title,omitempty"`
	URL    string `json:"url,omitempty"`
}

// PullRequest is the optional PR reference an issue's state may carry
// once a pull request exists.
type PullRequest struct {
	Number int    `json:"number,omitempty"`
	URL    string `json:"url,omitempty"`
}

// TaskStatus enumerates the lifecycle states of a single Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskPassed     TaskStatus = "passed"
	TaskFailed     TaskStatus = "failed"
)

// Task is a single work item within an issue's decomposed TaskList
// (spec.md §3.3).
type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Summary            string     `json:"summary,omitempty"`
	AcceptanceCriteria []string   `json:"acceptance_criteria,omitempty"`
	FilesAllowed       []string   `json:"files_allowed,omitempty"`
	DependsOn          []string   `json:"depends_on,omitempty"`
	Status             TaskStatus `json:"status"`
}

// TaskList is the ordered decomposition of an issue into tasks.
// Decided in DESIGN.md's Open Question #3: persisted embedded inside
// IssueState (i.e. inside issue.json), not a sibling file.
type TaskList struct {
	SchemaVersion   int    `json:"schema_version,omitempty"`
	DecomposedFrom  string `json:"decomposed_from,omitempty"`
	Tasks           []Task `json:"tasks,omitempty"`
}

// Current returns the first in_progress task, else the first pending
// task, else (Task{}, false).
func (l *TaskList) Current() (Task, bool) {
	for _, t := range l.Tasks {
		if t.Status == TaskInProgress {
			return t, true
		}
	}
	for _, t := range l.Tasks {
		if t.Status == TaskPending {
			return t, true
		}
	}
	return Task{}, false
}

// AdvanceTask sets the named task's status to passed or failed and
// reports whether a pending task remains afterwards.
func (l *TaskList) AdvanceTask(id string, passed bool) bool {
	for i := range l.Tasks {
		if l.Tasks[i].ID == id {
			if passed {
				l.Tasks[i].Status = TaskPassed
			} else {
				l.Tasks[i].Status = TaskFailed
			}
			break
		}
	}
	for _, t := range l.Tasks {
		if t.Status == TaskPending {
			return true
		}
	}
	return false
}

// IssueState is the single JSON document per issue — the durable
// hand-off medium between iterations (spec.md §3.2).
type IssueState struct {
	Owner       string                 `json:"owner"`
	Repo        string                 `json:"repo"`
	Issue       Issue                  `json:"issue"`
	Branch      string                 `json:"branch"`
	Workflow    string                 `json:"workflow"`
	Phase       string                 `json:"phase"`
	Status      map[string]interface{} `json:"status,omitempty"`
	DesignDoc   string                 `json:"design_doc,omitempty"`
	PullRequest *PullRequest           `json:"pull_request,omitempty"`
	Tasks       *TaskList              `json:"tasks,omitempty"`
	Notes       string                 `json:"notes,omitempty"`
}

// WorkflowOrDefault returns the state's workflow name, defaulting to
// "default" per spec.md §3.2.
func (s *IssueState) WorkflowOrDefault() string {
	if s.Workflow == "" {
		return "default"
	}
	return s.Workflow
}

// AsContext converts the state to a guard.Context-compatible nested
// map for transition evaluation and script-phase substitution.
func (s *IssueState) AsContext() map[string]interface{} {
	ctx := map[string]interface{}{
		"owner":  s.Owner,
		"repo":   s.Repo,
		"branch": s.Branch,
		"phase":  s.Phase,
		"notes":  s.Notes,
		"issue": map[string]interface{}{
			"number": float64(s.Issue.Number),
			"title":  s.Issue.Title,
			"url":    s.Issue.URL,
		},
	}
	status := make(map[string]interface{}, len(s.Status))
	for k, v := range s.Status {
		status[k] = v
	}
	ctx["status"] = status
	if s.PullRequest != nil {
		ctx["pull_request"] = map[string]interface{}{
			"number": float64(s.PullRequest.Number),
			"url":    s.PullRequest.URL,
		}
	}
	return ctx
}
