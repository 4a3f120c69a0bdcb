// Package scriptphase implements the script phase runner (spec.md
// §4.4): a templated shell command with exit-code-to-status_updates
// mapping. No source .py module was retrieved for this component
// (only test fixtures were listed for jeeves' own script_runner), so
// it is built from the spec contract directly, reusing
// internal/procsup for process-group timeout/kill semantics and
// internal/guard.Context for dotted substitution and environment
// flattening.
package scriptphase

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/andywolf/agentium/internal/guard"
	"github.com/andywolf/agentium/internal/procsup"
	"github.com/andywolf/agentium/internal/workflow"
)

// DefaultTimeout is the script phase's default wall-clock timeout
// (spec.md §5: "Script phases: default 300 s").
const DefaultTimeout = 5 * time.Minute

// TimeoutExitCode is returned when the command is killed for
// exceeding its timeout (spec.md §4.4).
const TimeoutExitCode = 124

// Result is the outcome of running a script phase.
type Result struct {
	ExitCode      int
	Output        string
	StatusUpdates map[string]interface{}
}

var substitutionPattern = regexp.MustCompile(`\$\{([a-zA-Z0-9_.]+)\}`)

// Run executes phase's command template in workDir against ctx,
// applying timeout (DefaultTimeout when timeout is zero or negative)
// and returning the mapped status_updates.
func Run(phase workflow.Phase, workDir string, ctx guard.Context, timeout time.Duration) Result {
	if phase.Command == "" {
		return Result{
			ExitCode:      1,
			Output:        "script phase has no command configured",
			StatusUpdates: map[string]interface{}{},
		}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	command := substitute(phase.Command, ctx)
	env := append(os.Environ(), flattenedEnv(ctx)...)

	group, err := procsup.Start([]string{"/bin/sh", "-c", command}, workDir, env)
	if err != nil {
		return Result{
			ExitCode:      1,
			Output:        fmt.Sprintf("failed to start script: %v", err),
			StatusUpdates: map[string]interface{}{},
		}
	}

	var out strings.Builder
	exitCh := make(chan int, 1)
	go func() {
		for line := range group.Lines {
			if line.EOF {
				break
			}
			out.WriteString(line.Text)
			out.WriteByte('\n')
		}
		exitCh <- group.Wait()
	}()

	var exitCode int
	select {
	case exitCode = <-exitCh:
	case <-time.After(timeout):
		group.Terminate(false)
		exitCode = TimeoutExitCode
		// Drain whatever output accumulated before the kill.
		<-exitCh
	}

	output := out.String()
	if phase.OutputFile != "" {
		if werr := writeOutputFile(filepath.Join(workDir, phase.OutputFile), output); werr != nil {
			output += fmt.Sprintf("\n[ERROR] failed to write output_file: %v", werr)
		}
	}

	return Result{
		ExitCode:      exitCode,
		Output:        output,
		StatusUpdates: statusUpdatesFor(phase.StatusMapping, exitCode),
	}
}

func substitute(command string, ctx guard.Context) string {
	return substitutionPattern.ReplaceAllStringFunc(command, func(match string) string {
		path := match[2 : len(match)-1]
		v := ctx.Lookup(path)
		if v.Kind == guard.KindNull {
			return ""
		}
		return valueToEnvString(v)
	})
}

func flattenedEnv(ctx guard.Context) []string {
	flat := ctx.Flatten()
	out := make([]string, 0, len(flat))
	for k, v := range flat {
		out = append(out, k+"="+v)
	}
	return out
}

func valueToEnvString(v guard.Value) string {
	switch v.Kind {
	case guard.KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case guard.KindNumber:
		return fmt.Sprintf("%g", v.Num)
	case guard.KindString:
		return v.Str
	default:
		return ""
	}
}

func statusUpdatesFor(mapping workflow.StatusMapping, exitCode int) map[string]interface{} {
	if mapping == nil {
		return map[string]interface{}{}
	}
	keyword := "failure"
	if exitCode == 0 {
		keyword = "success"
	}
	updates, ok := mapping[keyword]
	if !ok {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(updates))
	for k, v := range updates {
		out[k] = v
	}
	return out
}

func writeOutputFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
