package workflow

import (
	"bytes"
	"fmt"
	"os"

	"github.com/andywolf/agentium/internal/jeeveserr"
	"gopkg.in/yaml.v3"
)

// rawDoc mirrors the YAML document shape but keeps phases/transitions
// as yaml.Node so the loader can reject unknown keys strictly (spec.md
// §4.2: "unknown keys on phases or transitions produce validation
// errors"), which a plain struct-tagged unmarshal would silently
// ignore.
type rawDoc struct {
	Name         string             `yaml:"name"`
	Version      int                `yaml:"version"`
	Start        string             `yaml:"start"`
	DefaultModel string             `yaml:"default_model"`
	Phases       map[string]rawNode `yaml:"phases"`
}

type rawNode struct {
	node yaml.Node
}

func (n *rawNode) UnmarshalYAML(value *yaml.Node) error {
	n.node = *value
	return nil
}

var phaseKnownKeys = map[string]bool{
	"name": true, "kind": true, "prompt": true, "command": true,
	"status_mapping": true, "output_file": true, "model": true,
	"allowed_writes": true, "transitions": true,
}

var transitionKnownKeys = map[string]bool{
	"target": true, "guard": true, "auto": true, "priority": true,
}

// Load parses and validates a workflow document from raw YAML bytes.
// Validation failures are reported atomically with all errors, per
// spec.md §3.1; the workflow is not returned when any error is found.
func Load(data []byte) (*Workflow, error) {
	var raw rawDoc
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, jeeveserr.NewValidation("malformed workflow document", err)
	}

	var errs []string
	w := &Workflow{
		Name:         raw.Name,
		Version:      raw.Version,
		Start:        raw.Start,
		DefaultModel: raw.DefaultModel,
		Phases:       make(map[string]Phase, len(raw.Phases)),
	}

	for name, rn := range raw.Phases {
		phase, perrs := decodePhase(name, rn.node)
		errs = append(errs, perrs...)
		phase.Name = name
		w.Phases[name] = phase
	}

	errs = append(errs, validate(w)...)

	if len(errs) > 0 {
		msg := bytes.Buffer{}
		for i, e := range errs {
			if i > 0 {
				msg.WriteString("; ")
			}
			msg.WriteString(e)
		}
		return nil, jeeveserr.NewValidation(msg.String(), nil)
	}
	return w, nil
}

// LoadFile reads and loads a workflow document from disk.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file %s: %w", path, err)
	}
	return Load(data)
}

func decodePhase(name string, node yaml.Node) (Phase, []string) {
	var errs []string
	if node.Kind != yaml.MappingNode {
		return Phase{}, []string{fmt.Sprintf("phase %q: expected a mapping", name)}
	}
	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if !phaseKnownKeys[key] {
			errs = append(errs, fmt.Sprintf("phase %q: unknown key %q", name, key))
		}
	}

	var p Phase
	if err := node.Decode(&p); err != nil {
		errs = append(errs, fmt.Sprintf("phase %q: %v", name, err))
		return p, errs
	}

	for i := range node.Content {
		if node.Content[i].Value != "transitions" || i+1 >= len(node.Content) {
			continue
		}
		transitionsNode := node.Content[i+1]
		for idx, tn := range transitionsNode.Content {
			for j := 0; j < len(tn.Content); j += 2 {
				key := tn.Content[j].Value
				if !transitionKnownKeys[key] {
					errs = append(errs, fmt.Sprintf("phase %q transition %d: unknown key %q", name, idx, key))
				}
			}
		}
	}

	for i := range p.Transitions {
		p.Transitions[i].declOrder = i
	}

	return p, errs
}

func validate(w *Workflow) []string {
	var errs []string

	if w.Start == "" {
		errs = append(errs, "workflow has no start phase")
	} else if _, ok := w.Phases[w.Start]; !ok {
		errs = append(errs, fmt.Sprintf("start phase %q does not exist", w.Start))
	}

	hasTerminal := false
	for name, p := range w.Phases {
		switch p.Kind {
		case KindExecute, KindEvaluate:
			if p.Prompt == "" {
				errs = append(errs, fmt.Sprintf("phase %q (%s) has no prompt", name, p.Kind))
			}
		case KindScript:
			if p.Command == "" {
				errs = append(errs, fmt.Sprintf("phase %q (script) has no command", name))
			}
		case KindTerminal:
			hasTerminal = true
		default:
			errs = append(errs, fmt.Sprintf("phase %q has unknown kind %q", name, p.Kind))
		}

		if p.Model != "" && !RecognisedModels[p.Model] {
			errs = append(errs, fmt.Sprintf("phase %q: unrecognised model %q", name, p.Model))
		}

		for _, t := range p.Transitions {
			if _, ok := w.Phases[t.Target]; !ok {
				errs = append(errs, fmt.Sprintf("phase %q: transition target %q does not exist", name, t.Target))
			}
		}
	}
	if w.DefaultModel != "" && !RecognisedModels[w.DefaultModel] {
		errs = append(errs, fmt.Sprintf("workflow: unrecognised default_model %q", w.DefaultModel))
	}
	if !hasTerminal {
		errs = append(errs, "workflow has no terminal phase")
	}

	return errs
}
