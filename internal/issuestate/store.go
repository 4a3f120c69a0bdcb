package issuestate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/andywolf/agentium/internal/jeeveserr"
)

// Store persists IssueState documents under Dir/issues/<owner>/<repo>/<n>/issue.json,
// plus the data-directory-wide active-issue.json and recent.json resume
// files (spec.md §6, SPEC_FULL.md §C.6). Grounded on
// _write_issue_json/_read_issue_json's temp-file-plus-rename idiom.
type Store struct {
	Dir string
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) issueDir(ref IssueRef) string {
	return filepath.Join(s.Dir, "issues", ref.Owner, ref.Repo, itoa(ref.Number))
}

// StateDir returns ref's state directory
// (<Dir>/issues/<owner>/<repo>/<n>), the directory the agent-runner
// collaborator and the observation server both read and write
// per-iteration artefacts into (spec.md §6's persisted layout).
func (s *Store) StateDir(ref IssueRef) string {
	return s.issueDir(ref)
}

func (s *Store) issuePath(ref IssueRef) string {
	return filepath.Join(s.issueDir(ref), "issue.json")
}

// Load reads the issue.json document for ref.
func (s *Store) Load(ref IssueRef) (*IssueState, error) {
	path := s.issuePath(ref)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, jeeveserr.NewNotFound("issue", path)
		}
		return nil, err
	}
	var state IssueState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Save atomically writes state as ref's issue.json, via a temp file in
// the same directory followed by an os.Rename.
func (s *Store) Save(ref IssueRef, state *IssueState) error {
	dir := s.issueDir(ref)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return atomicWriteJSON(s.issuePath(ref), state)
}

// List returns every issue reference under Dir/issues, optionally
// filtered by owner and/or repo (empty string matches any), sorted by
// owner, then repo, then number. Unreadable or malformed entries are
// silently skipped, matching the teacher's lenient directory-scan
// style elsewhere in the codebase.
func (s *Store) List(owner, repo string) ([]IssueRef, error) {
	root := filepath.Join(s.Dir, "issues")
	owners, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var refs []IssueRef
	for _, ownerEntry := range owners {
		if !ownerEntry.IsDir() || (owner != "" && ownerEntry.Name() != owner) {
			continue
		}
		repos, err := os.ReadDir(filepath.Join(root, ownerEntry.Name()))
		if err != nil {
			continue
		}
		for _, repoEntry := range repos {
			if !repoEntry.IsDir() || (repo != "" && repoEntry.Name() != repo) {
				continue
			}
			numbers, err := os.ReadDir(filepath.Join(root, ownerEntry.Name(), repoEntry.Name()))
			if err != nil {
				continue
			}
			for _, numEntry := range numbers {
				if !numEntry.IsDir() {
					continue
				}
				n, ok := atoi(numEntry.Name())
				if !ok {
					continue
				}
				refs = append(refs, IssueRef{Owner: ownerEntry.Name(), Repo: repoEntry.Name(), Number: n})
			}
		}
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Owner != refs[j].Owner {
			return refs[i].Owner < refs[j].Owner
		}
		if refs[i].Repo != refs[j].Repo {
			return refs[i].Repo < refs[j].Repo
		}
		return refs[i].Number < refs[j].Number
	})
	return refs, nil
}

// ActiveIssue is the small resume document written to
// <Dir>/active-issue.json recording which issue the orchestrator
// should reattach to after a restart (SPEC_FULL.md §C.6).
type ActiveIssue struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

func (s *Store) activeIssuePath() string {
	return filepath.Join(s.Dir, "active-issue.json")
}

// SaveActiveIssue persists the active issue pointer.
func (s *Store) SaveActiveIssue(ref IssueRef) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	return atomicWriteJSON(s.activeIssuePath(), ActiveIssue{Owner: ref.Owner, Repo: ref.Repo, Number: ref.Number})
}

// LoadActiveIssue reads the active issue pointer, if any.
func (s *Store) LoadActiveIssue() (*ActiveIssue, error) {
	data, err := os.ReadFile(s.activeIssuePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var active ActiveIssue
	if err := json.Unmarshal(data, &active); err != nil {
		return nil, err
	}
	return &active, nil
}

// RecentEntry is one entry of the most-recently-used issue list
// persisted to recent.json.
type RecentEntry struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

const maxRecentEntries = 20

func (s *Store) recentPath() string {
	return filepath.Join(s.Dir, "recent.json")
}

// LoadRecent reads the recent-issues list, most-recent first.
func (s *Store) LoadRecent() ([]RecentEntry, error) {
	data, err := os.ReadFile(s.recentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []RecentEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil
	}
	return entries, nil
}

// TouchRecent moves ref to the front of the recent-issues list,
// deduplicating and capping at maxRecentEntries.
func (s *Store) TouchRecent(ref IssueRef) error {
	entries, err := s.LoadRecent()
	if err != nil {
		return err
	}
	filtered := make([]RecentEntry, 0, len(entries)+1)
	filtered = append(filtered, RecentEntry{Owner: ref.Owner, Repo: ref.Repo, Number: ref.Number})
	for _, e := range entries {
		if e.Owner == ref.Owner && e.Repo == ref.Repo && e.Number == ref.Number {
			continue
		}
		filtered = append(filtered, e)
	}
	if len(filtered) > maxRecentEntries {
		filtered = filtered[:maxRecentEntries]
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	return atomicWriteJSON(s.recentPath(), filtered)
}

func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
