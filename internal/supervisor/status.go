package supervisor

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"time"
)

// StatusFilePath is where the orchestrator publishes its merged
// status, readable by any other local tool.
const StatusFilePath = "/tmp/commonplace-orchestrator-status.json"

// ProcessStatus describes one managed process for the status file.
type ProcessStatus struct {
	Name         string  `json:"name"`
	Pid          *int    `json:"pid"`
	Cwd          *string `json:"cwd"`
	State        string  `json:"state"`
	DocumentPath *string `json:"document_path"`
	SourcePath   *string `json:"source_path"`
}

// OrchestratorStatus is the full contents of the status file.
type OrchestratorStatus struct {
	OrchestratorPid int              `json:"orchestrator_pid"`
	StartedAt       uint64           `json:"started_at"`
	Processes       []ProcessStatus  `json:"processes"`
}

// NewStatus creates a status snapshot for the current process.
func NewStatus() *OrchestratorStatus {
	return &OrchestratorStatus{
		OrchestratorPid: os.Getpid(),
		StartedAt:       uint64(time.Now().Unix()),
		Processes:       nil,
	}
}

// Write writes the status as pretty-printed JSON to StatusFilePath.
func (s *OrchestratorStatus) Write() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(StatusFilePath, data, 0o644)
}

// ReadStatus reads and parses the status file.
func ReadStatus() (*OrchestratorStatus, error) {
	data, err := os.ReadFile(StatusFilePath)
	if err != nil {
		return nil, err
	}
	var s OrchestratorStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RemoveStatus deletes the status file, ignoring a not-found error.
func RemoveStatus() error {
	err := os.Remove(StatusFilePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MergeAndWrite merges s's processes into the existing status file,
// replacing whichever half (base or discovered) s belongs to, and
// writes the result. isBaseProcess selects which half s replaces: true
// merges the statically configured cohort (no SourcePath), false
// merges the discovered cohort (SourcePath set).
func (s *OrchestratorStatus) MergeAndWrite(isBaseProcess bool) error {
	merged, err := ReadStatus()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			merged = NewStatus()
		} else {
			return err
		}
	}

	merged.OrchestratorPid = s.OrchestratorPid
	merged.StartedAt = s.StartedAt

	kept := merged.Processes[:0:0]
	for _, p := range merged.Processes {
		keep := p.SourcePath != nil
		if !isBaseProcess {
			keep = p.SourcePath == nil
		}
		if keep {
			kept = append(kept, p)
		}
	}
	merged.Processes = append(kept, s.Processes...)

	sort.Slice(merged.Processes, func(i, j int) bool {
		return merged.Processes[i].Name < merged.Processes[j].Name
	})

	return merged.Write()
}
