// Package obsserver implements the observation server (spec.md §4.8,
// §6): an HTTP surface plus a per-connection SSE multiplexer over the
// log tail, SDK output, and derived-state-snapshot watchers. Grounded
// on _examples/original_source/src/jeeves/viewer/server.py's
// JeevesState/JeevesViewerHandler classes, read in full, ported onto
// github.com/go-chi/chi/v5 in the SSE-over-http.Flusher idiom seen in
// kadirpekel-hector's pkg/a2a/server.go (sendSSEEvent), since the
// teacher has no HTTP server of its own.
package obsserver

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/andywolf/agentium/internal/issuestate"
	"github.com/andywolf/agentium/internal/orchestrator"
	"github.com/andywolf/agentium/internal/watch"
)

var (
	iterationPattern = regexp.MustCompile(`(?i)Iteration\s+(\d+)\s+of\s+(\d+)`)
	startedAtPattern = regexp.MustCompile(`(?m)Started:\s*(.+)$`)
)

// Mode is the derived operating mode of the active issue's state
// directory.
type Mode string

const (
	ModeUnknown Mode = "unknown"
	ModeIssue   Mode = "issue"
	ModePRD     Mode = "prd"
)

// Snapshot is the derived state document sent as the SSE `state` event
// and returned by GET /api/state (spec.md §4.8 "Derived state
// snapshot").
type Snapshot struct {
	Timestamp     time.Time             `json:"timestamp"`
	Mode          Mode                  `json:"mode"`
	Status        map[string]interface{} `json:"status,omitempty"`
	ProgressLines []string              `json:"progress_lines,omitempty"`
	RecentLogs    []string              `json:"recent_logs,omitempty"`
	Iteration     *IterationInfo        `json:"iteration,omitempty"`
	StartedAt     string                `json:"started_at,omitempty"`
	Run           orchestrator.RunRecord `json:"run"`
}

// IterationInfo is the parsed "Iteration N of M" marker from
// progress.txt.
type IterationInfo struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// signature returns a canonicalised representation used to dedup
// repeated state snapshots (spec.md §4.8: "emit a state event only
// when a canonicalised signature changes"), grounded on
// JeevesState.state_signature's "strip timestamp/recent_logs, then
// JSON-dump sorted" approach.
func (s Snapshot) signature() string {
	cp := s
	cp.Timestamp = time.Time{}
	cp.RecentLogs = nil
	data, err := json.Marshal(cp)
	if err != nil {
		return ""
	}
	return string(data)
}

// StateBuilder computes derived snapshots for one issue's state
// directory, with a short-lived cache mirroring JeevesState's 50ms
// cache (SPEC_FULL.md §C.4) so bursts of SSE polling don't re-stat and
// re-parse progress.txt on every tick.
type StateBuilder struct {
	mu        sync.Mutex
	stateDir  string
	cacheTTL  time.Duration
	cached    *Snapshot
	cachedAt  time.Time
	store     *issuestate.Store
	ref       issuestate.IssueRef
	orch      *orchestrator.Orchestrator
}

// NewStateBuilder returns a builder over the given issue's state
// directory.
func NewStateBuilder(stateDir string, store *issuestate.Store, ref issuestate.IssueRef, orch *orchestrator.Orchestrator) *StateBuilder {
	return &StateBuilder{stateDir: stateDir, cacheTTL: 50 * time.Millisecond, store: store, ref: ref, orch: orch}
}

// Build returns the current derived snapshot, using the cache unless
// force is true or the cache has expired.
func (b *StateBuilder) Build(force, includeRecentLogs bool) Snapshot {
	b.mu.Lock()
	if !force && b.cached != nil && time.Since(b.cachedAt) < b.cacheTTL {
		cached := *b.cached
		b.mu.Unlock()
		if !includeRecentLogs {
			cached.RecentLogs = nil
		}
		return cached
	}
	b.mu.Unlock()

	snap := b.compute(includeRecentLogs)

	b.mu.Lock()
	cacheCopy := snap
	cacheCopy.RecentLogs = nil
	b.cached = &cacheCopy
	b.cachedAt = time.Now()
	b.mu.Unlock()

	return snap
}

func (b *StateBuilder) compute(includeRecentLogs bool) Snapshot {
	snap := Snapshot{Timestamp: time.Now(), Mode: ModeUnknown}
	if b.orch != nil {
		snap.Run = b.orch.Status()
	}

	state, err := b.store.Load(b.ref)
	if err == nil {
		snap.Mode = ModeIssue
		snap.Status = state.Status
	}

	progressPath := b.stateDir + "/progress.txt"
	if data, err := os.ReadFile(progressPath); err == nil {
		text := string(data)
		snap.ProgressLines = watch.TailLines(splitNonEmpty(text), 100)
		if m := iterationPattern.FindStringSubmatch(text); m != nil {
			snap.Iteration = &IterationInfo{Current: atoiSafe(m[1]), Total: atoiSafe(m[2])}
		}
		if m := startedAtPattern.FindStringSubmatch(text); m != nil {
			snap.StartedAt = strings.TrimSpace(m[1])
		}
	}

	if includeRecentLogs {
		logPath := b.stateDir + "/last-run.log"
		if data, err := os.ReadFile(logPath); err == nil {
			snap.RecentLogs = watch.TailLines(splitNonEmpty(string(data)), 500)
		}
	}

	return snap
}

func splitNonEmpty(text string) []string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}
