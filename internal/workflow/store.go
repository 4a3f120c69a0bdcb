package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andywolf/agentium/internal/jeeveserr"
)

// Store manages a directory of workflow YAML documents, one file per
// workflow name, backing the workflow catalog endpoints named in
// spec.md §6 (GET /api/workflows, GET /api/workflow/<name>/full, POST
// /api/workflow/<name>, .../validate, .../duplicate, DELETE
// /api/workflow/<name>) — see SPEC_FULL.md §C.9.
type Store struct {
	Dir string
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.Dir, name+".yaml")
}

// Names lists the workflow names present in the store, sorted.
func (s *Store) Names() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing workflows in %s: %w", s.Dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}

// LoadByName loads and validates the named workflow. A missing
// "default" workflow still reports NotFound; the caller (orchestrator)
// decides whether to fall back.
func (s *Store) LoadByName(name string) (*Workflow, error) {
	path := s.path(name)
	if _, err := os.Stat(path); err != nil {
		return nil, jeeveserr.NewNotFound("workflow", name)
	}
	return LoadFile(path)
}

// RawBytes returns the raw document bytes for a "get full" endpoint.
func (s *Store) RawBytes(name string) ([]byte, error) {
	path := s.path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, jeeveserr.NewNotFound("workflow", name)
		}
		return nil, fmt.Errorf("reading workflow %s: %w", name, err)
	}
	return data, nil
}

// Validate loads and validates name without persisting anything,
// returning the validation error (if any) for a "validate" endpoint.
func (s *Store) Validate(name string) error {
	_, err := s.LoadByName(name)
	return err
}

// ValidateBytes validates candidate document bytes without writing
// them, for client-side pre-flight checks against /validate.
func ValidateBytes(data []byte) error {
	_, err := Load(data)
	return err
}

// Save validates and writes a workflow document under name, atomically
// (temp-file-plus-rename), per the same-directory idiom spec.md §9
// requires for all canonical writes.
func (s *Store) Save(name string, data []byte) error {
	if _, err := Load(data); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating workflow directory: %w", err)
	}
	target := s.path(name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing workflow %s: %w", name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("saving workflow %s: %w", name, err)
	}
	return nil
}

// Duplicate copies srcName's document to dstName without modification.
func (s *Store) Duplicate(srcName, dstName string) error {
	data, err := s.RawBytes(srcName)
	if err != nil {
		return err
	}
	return s.Save(dstName, data)
}

// Delete removes the named workflow document.
func (s *Store) Delete(name string) error {
	path := s.path(name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return jeeveserr.NewNotFound("workflow", name)
		}
		return fmt.Errorf("deleting workflow %s: %w", name, err)
	}
	return nil
}

// LoadByNameWithFallback loads name, falling back to "default" on any
// failure (matching JeevesRunManager._get_workflow_engine's fallback
// behaviour), except when name is already "default" in which case the
// original error is returned.
func (s *Store) LoadByNameWithFallback(name string) (*Workflow, error) {
	if name == "" {
		name = "default"
	}
	w, err := s.LoadByName(name)
	if err == nil {
		return w, nil
	}
	if name == "default" {
		return nil, fmt.Errorf("loading default workflow: %w", err)
	}
	fallback, ferr := s.LoadByName("default")
	if ferr != nil {
		return nil, fmt.Errorf("loading workflow %q failed (%v) and default workflow also failed: %w", name, err, ferr)
	}
	return fallback, nil
}
