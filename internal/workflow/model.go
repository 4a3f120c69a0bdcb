// Package workflow loads the declarative phase graph (spec.md §3.1),
// validates it at load time, and resolves transitions against a live
// context (spec.md §4.2, §4.5). No source .py module for this
// component was retrieved into original_source/ (only test fixtures
// were listed for jeeves' own workflow/engine modules), so the model
// and loader are built directly from the spec grammar; the YAML
// loading idiom follows the teacher's use of gopkg.in/yaml.v3 for
// declarative documents.
package workflow

// PhaseKind enumerates the four phase kinds spec.md §3.1 defines.
type PhaseKind string

const (
	KindExecute  PhaseKind = "execute"
	KindEvaluate PhaseKind = "evaluate"
	KindScript   PhaseKind = "script"
	KindTerminal PhaseKind = "terminal"
)

// RecognisedModels is the opaque-to-the-orchestrator set of model tags
// accepted at validation time (spec.md §6).
var RecognisedModels = map[string]bool{
	"sonnet": true,
	"opus":   true,
	"haiku":  true,
}

// DefaultAllowedWrites is the default write-allowlist for a phase that
// does not declare one.
var DefaultAllowedWrites = []string{".jeeves/*"}

// Transition is a directed, optionally guarded edge out of a phase.
type Transition struct {
	Target   string `yaml:"target"`
	Guard    string `yaml:"guard,omitempty"`
	Auto     bool   `yaml:"auto,omitempty"`
	Priority int    `yaml:"priority,omitempty"`

	// declOrder records the transition's position in the document so
	// that equal-priority transitions keep declaration order, per
	// spec.md §3.1 ("priority ... smaller = earlier within equal
	// declaration order").
	declOrder int
}

// StatusMapping maps an outcome keyword ("success"/"failure") to the
// status-key updates a script phase should apply on that outcome.
type StatusMapping map[string]map[string]interface{}

// Phase is a single node in the workflow graph.
type Phase struct {
	Name          string            `yaml:"name"`
	Kind          PhaseKind         `yaml:"kind"`
	Prompt        string            `yaml:"prompt,omitempty"`
	Command       string            `yaml:"command,omitempty"`
	StatusMapping StatusMapping     `yaml:"status_mapping,omitempty"`
	OutputFile    string            `yaml:"output_file,omitempty"`
	Model         string            `yaml:"model,omitempty"`
	AllowedWrites []string          `yaml:"allowed_writes,omitempty"`
	Transitions   []Transition      `yaml:"transitions,omitempty"`
}

// Workflow is the immutable graph loaded once from a declarative
// document.
type Workflow struct {
	Name         string           `yaml:"name"`
	Version      int              `yaml:"version"`
	Start        string           `yaml:"start"`
	DefaultModel string           `yaml:"default_model,omitempty"`
	Phases       map[string]Phase `yaml:"phases"`
}

// Phase returns the named phase and whether it exists.
func (w *Workflow) Phase(name string) (Phase, bool) {
	p, ok := w.Phases[name]
	return p, ok
}

// StartPhase returns the workflow's declared start phase name.
func (w *Workflow) StartPhase() string { return w.Start }

// PromptFor returns the prompt reference for an execute/evaluate
// phase, or the empty string if the phase has none or doesn't exist.
func (w *Workflow) PromptFor(name string) string {
	p, ok := w.Phases[name]
	if !ok {
		return ""
	}
	return p.Prompt
}

// IsTerminal reports whether name names a terminal phase.
func (w *Workflow) IsTerminal(name string) bool {
	p, ok := w.Phases[name]
	return ok && p.Kind == KindTerminal
}

// EffectiveModel resolves a phase's model tag, falling back to the
// workflow default, then to "" (null) if neither is set.
func (w *Workflow) EffectiveModel(name string) string {
	if p, ok := w.Phases[name]; ok && p.Model != "" {
		return p.Model
	}
	return w.DefaultModel
}

// AllowedWritesOrDefault resolves a phase's write-allowlist, falling back to
// DefaultAllowedWrites.
func (p Phase) AllowedWritesOrDefault() []string {
	if len(p.AllowedWrites) > 0 {
		return p.AllowedWrites
	}
	return DefaultAllowedWrites
}
