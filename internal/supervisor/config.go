// Package supervisor manages the lifecycle of commonplace's own
// worker processes: a statically configured cohort plus a dynamically
// discovered cohort found via .processes.json manifests, with
// dependency-ordered startup, restart policies, and a shared status
// file other tools can read.
package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
)

// RestartMode selects how a process is restarted after it exits.
type RestartMode string

const (
	RestartAlways    RestartMode = "always"
	RestartOnFailure RestartMode = "on_failure"
	RestartNever     RestartMode = "never"
)

// RestartPolicy controls restart behavior and backoff for one process.
type RestartPolicy struct {
	Policy       RestartMode `json:"policy"`
	BackoffMs    uint64      `json:"backoff_ms"`
	MaxBackoffMs uint64      `json:"max_backoff_ms"`
}

// DefaultRestartPolicy matches the original's #[derive(Default)] impl.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{Policy: RestartAlways, BackoffMs: 500, MaxBackoffMs: 10000}
}

// ProcessConfig is one entry in the static cohort.
type ProcessConfig struct {
	Command    string        `json:"command"`
	Args       []string      `json:"args,omitempty"`
	Restart    RestartPolicy `json:"restart"`
	DependsOn  []string      `json:"depends_on,omitempty"`
}

// Config is the top-level static-cohort configuration, loaded from a
// JSON file passed to the orchestrator binary.
type Config struct {
	MQTTBroker string                    `json:"mqtt_broker"`
	Processes  map[string]ProcessConfig  `json:"processes"`
}

// UnmarshalJSON applies the original's serde defaults: mqtt_broker
// defaults to "localhost:1883", and every ProcessConfig.Restart
// defaults to DefaultRestartPolicy when the key is absent.
func (c *Config) UnmarshalJSON(data []byte) error {
	type rawProcess struct {
		Command   string           `json:"command"`
		Args      []string         `json:"args"`
		Restart   *RestartPolicy   `json:"restart"`
		DependsOn []string         `json:"depends_on"`
	}
	var raw struct {
		MQTTBroker string                `json:"mqtt_broker"`
		Processes  map[string]rawProcess `json:"processes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.MQTTBroker = raw.MQTTBroker
	if c.MQTTBroker == "" {
		c.MQTTBroker = "localhost:1883"
	}
	c.Processes = make(map[string]ProcessConfig, len(raw.Processes))
	for name, p := range raw.Processes {
		restart := DefaultRestartPolicy()
		if p.Restart != nil {
			restart = *p.Restart
			if restart.Policy == "" {
				restart.Policy = RestartAlways
			}
			if restart.BackoffMs == 0 {
				restart.BackoffMs = 500
			}
			if restart.MaxBackoffMs == 0 {
				restart.MaxBackoffMs = 10000
			}
		}
		c.Processes[name] = ProcessConfig{
			Command:   p.Command,
			Args:      p.Args,
			Restart:   restart,
			DependsOn: p.DependsOn,
		}
	}
	return nil
}

// LoadConfig reads and parses a static-cohort configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("supervisor: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("supervisor: parse %s: %w", path, err)
	}
	return &cfg, nil
}
