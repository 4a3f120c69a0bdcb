package scriptphase

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/andywolf/agentium/internal/guard"
	"github.com/andywolf/agentium/internal/workflow"
)

func TestRunNoCommandConfigured(t *testing.T) {
	res := Run(workflow.Phase{Kind: workflow.KindScript}, t.TempDir(), guard.Context{}, 0)
	if res.ExitCode != 1 {
		t.Errorf("res.ExitCode = %d, want 1", res.ExitCode)
	}
	if len(res.StatusUpdates) != 0 {
		t.Errorf("res.StatusUpdates = %v, want empty", res.StatusUpdates)
	}
}

// TestRunSuccessMappingYieldsStatusUpdates reproduces spec.md §8's
// round-trip: "a script with exit 0 and mapping {success: {k: v}}
// yields status_updates {k: v}".
func TestRunSuccessMappingYieldsStatusUpdates(t *testing.T) {
	phase := workflow.Phase{
		Kind:    workflow.KindScript,
		Command: "exit 0",
		StatusMapping: workflow.StatusMapping{
			"success": {"k": "v"},
		},
	}
	res := Run(phase, t.TempDir(), guard.Context{}, time.Second)
	if res.ExitCode != 0 {
		t.Errorf("res.ExitCode = %d, want 0", res.ExitCode)
	}
	want := map[string]interface{}{"k": "v"}
	if !reflect.DeepEqual(res.StatusUpdates, want) {
		t.Errorf("res.StatusUpdates = %v, want %v", res.StatusUpdates, want)
	}
}

func TestRunFailureMapping(t *testing.T) {
	phase := workflow.Phase{
		Kind:    workflow.KindScript,
		Command: "exit 3",
		StatusMapping: workflow.StatusMapping{
			"failure": {"failed": true},
		},
	}
	res := Run(phase, t.TempDir(), guard.Context{}, time.Second)
	if res.ExitCode != 3 {
		t.Errorf("res.ExitCode = %d, want 3", res.ExitCode)
	}
	want := map[string]interface{}{"failed": true}
	if !reflect.DeepEqual(res.StatusUpdates, want) {
		t.Errorf("res.StatusUpdates = %v, want %v", res.StatusUpdates, want)
	}
}

func TestRunSubstitutesMissingContextAsEmpty(t *testing.T) {
	phase := workflow.Phase{
		Kind:    workflow.KindScript,
		Command: `echo "[${status.missing}]"`,
	}
	res := Run(phase, t.TempDir(), guard.Context{}, time.Second)
	if res.ExitCode != 0 {
		t.Errorf("res.ExitCode = %d, want 0", res.ExitCode)
	}
	if !strings.Contains(res.Output, "[]") {
		t.Errorf("res.Output = %q, want it to contain %q", res.Output, "[]")
	}
}

func TestRunTimeoutReturns124(t *testing.T) {
	phase := workflow.Phase{
		Kind:    workflow.KindScript,
		Command: "trap '' TERM; sleep 30",
	}
	res := Run(phase, t.TempDir(), guard.Context{}, 200*time.Millisecond)
	if res.ExitCode != TimeoutExitCode {
		t.Errorf("res.ExitCode = %d, want %d", res.ExitCode, TimeoutExitCode)
	}
}

// TestRunWritesOutputFile reproduces spec.md §4.4's run(phase,
// work_dir, context) contract: phase.OutputFile is relative to
// work_dir, the same way the original implementation resolves it.
func TestRunWritesOutputFile(t *testing.T) {
	dir := t.TempDir()
	relPath := filepath.Join("nested", "out.log")
	phase := workflow.Phase{
		Kind:       workflow.KindScript,
		Command:    "echo hello",
		OutputFile: relPath,
	}
	res := Run(phase, dir, guard.Context{}, time.Second)
	if res.ExitCode != 0 {
		t.Errorf("res.ExitCode = %d, want 0", res.ExitCode)
	}

	data, err := os.ReadFile(filepath.Join(dir, relPath))
	if err != nil {
		t.Fatalf("os.ReadFile() unexpected error: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("output file contents = %q, want it to contain %q", string(data), "hello")
	}
}
