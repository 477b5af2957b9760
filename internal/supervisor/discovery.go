package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// CommandSpec is either a single whitespace-split command string or an
// explicit argv array, matching a .processes.json file's untagged
// "command" field. The simple string form splits on whitespace only --
// it has no shell-style quoting, so arguments containing spaces need
// the array form.
type CommandSpec struct {
	simple string
	array  []string
	isArray bool
}

// Program returns the executable to run.
func (c CommandSpec) Program() string {
	if c.isArray {
		if len(c.array) == 0 {
			return ""
		}
		return c.array[0]
	}
	fields := strings.Fields(c.simple)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Args returns the arguments to pass to Program.
func (c CommandSpec) Args() []string {
	if c.isArray {
		if len(c.array) <= 1 {
			return nil
		}
		return c.array[1:]
	}
	fields := strings.Fields(c.simple)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}

func (c *CommandSpec) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.simple = s
		c.isArray = false
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("supervisor: command must be a string or array of strings: %w", err)
	}
	c.array = arr
	c.isArray = true
	return nil
}

func (c CommandSpec) MarshalJSON() ([]byte, error) {
	if c.isArray {
		return json.Marshal(c.array)
	}
	return json.Marshal(c.simple)
}

// DiscoveredProcess is one entry from a .processes.json manifest.
type DiscoveredProcess struct {
	Command CommandSpec `json:"command"`
	Owns    string      `json:"owns"`
	Cwd     string      `json:"cwd"`
}

// ProcessesConfig is the top-level shape of a .processes.json file.
type ProcessesConfig struct {
	Processes map[string]DiscoveredProcess `json:"processes"`
}

// ParseProcessesConfig decodes a .processes.json file's content.
func ParseProcessesConfig(content []byte) (*ProcessesConfig, error) {
	var cfg ProcessesConfig
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("supervisor: parse processes manifest: %w", err)
	}
	return &cfg, nil
}

// LoadProcessesConfig reads and parses a .processes.json file from
// disk.
func LoadProcessesConfig(path string) (*ProcessesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("supervisor: read %s: %w", path, err)
	}
	return ParseProcessesConfig(data)
}
