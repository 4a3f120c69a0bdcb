// Package orchconfig loads the orchestrator's tunables (iteration
// limits, timeouts, data directory, HTTP bind address) the way
// internal/controller's LoadConfigFromEnv does: an env-var JSON blob
// takes precedence, falling back to a config file path, both env-var
// named and defaulted in the teacher's style. DESIGN.md notes this
// choice explicitly: SPEC_FULL.md drops the teacher's viper/cobra
// stack along with internal/config and internal/cli (neither concept
// — routing/delegation/monorepo project config, interactive CLI
// wizard — exists in this system), so this module's own small
// tunable set is loaded the plain env/JSON way the teacher's
// composition root (not its CLI) already uses.
package orchconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DefaultConfigPath mirrors controller.DefaultConfigPath's role: a
// well-known file path checked when no env-var override is set.
const DefaultConfigPath = "/etc/jeeves-orchestrator/config.json"

// EnvConfigVar and EnvConfigPathVar name the two environment variables
// LoadFromEnv checks, in the teacher's AGENTIUM_SESSION_CONFIG /
// AGENTIUM_CONFIG_PATH naming convention.
const (
	EnvConfigVar     = "JEEVES_ORCHESTRATOR_CONFIG"
	EnvConfigPathVar = "JEEVES_ORCHESTRATOR_CONFIG_PATH"
)

// Config is the orchestrator process's full tunable set.
type Config struct {
	DataDir              string        `json:"data_dir"`
	HTTPAddr             string        `json:"http_addr"`
	PromptsDir           string        `json:"prompts_dir"`
	MaxIterations        int           `json:"max_iterations"`
	InactivityTimeoutSec float64       `json:"inactivity_timeout_sec"`
	IterationTimeoutSec  float64       `json:"iteration_timeout_sec"`
	AllowRemoteRun       bool          `json:"allow_remote_run"`
}

// Defaults returns the built-in defaults (spec.md §5).
func Defaults() Config {
	return Config{
		DataDir:              "./data",
		HTTPAddr:              ":8787",
		PromptsDir:            "./prompts",
		MaxIterations:         10,
		InactivityTimeoutSec:  600,
		IterationTimeoutSec:   3600,
		AllowRemoteRun:        false,
	}
}

// InactivityTimeout and IterationTimeout convert the float64-seconds
// JSON fields into time.Duration for the orchestrator's Start call.
func (c Config) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutSec * float64(time.Second))
}

func (c Config) IterationTimeout() time.Duration {
	return time.Duration(c.IterationTimeoutSec * float64(time.Second))
}

// Load resolves configuration the way LoadConfigFromEnv does: an
// env-var JSON blob first, then a config file path (env-overridable,
// else DefaultConfigPath), else the built-in defaults if neither is
// present.
func Load() (Config, error) {
	return LoadFromEnv(os.Getenv, os.ReadFile)
}

// LoadFromEnv loads config using the provided getenv/readFile
// functions, for testability.
func LoadFromEnv(getenv func(string) string, readFile func(string) ([]byte, error)) (Config, error) {
	cfg := Defaults()

	if blob := getenv(EnvConfigVar); blob != "" {
		if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", EnvConfigVar, err)
		}
		return cfg, nil
	}

	path := getenv(EnvConfigPathVar)
	if path == "" {
		path = DefaultConfigPath
	}
	data, err := readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}
