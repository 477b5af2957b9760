package supervisor

import (
	"os/exec"
	"sync"
	"syscall"
)

// discoveredProcess is one running process spawned from a
// .processes.json manifest, tracked separately from the static cohort
// so it can be added and removed at runtime as the manifest changes.
type discoveredProcess struct {
	name       string
	sourcePath string // which .processes.json declared this
	owns       string
	cwd        string

	mu    sync.Mutex
	cmd   *exec.Cmd
	state ProcessState
}

// DiscoveredManager tracks the dynamically discovered cohort: each
// reconcile pass compares the desired set (from parsed manifests
// across the virtual filesystem) against the currently running set and
// applies the delta, spawning new processes and gracefully terminating
// revoked ones.
type DiscoveredManager struct {
	mu        sync.Mutex
	processes map[string]*discoveredProcess // keyed by sourcePath + ":" + name
}

// NewDiscoveredManager creates an empty discovered-cohort manager.
func NewDiscoveredManager() *DiscoveredManager {
	return &DiscoveredManager{processes: make(map[string]*discoveredProcess)}
}

func discoveredKey(sourcePath, name string) string {
	return sourcePath + ":" + name
}

// Reconcile applies manifests (sourcePath -> parsed .processes.json) to
// the running set: starts processes newly present, stops processes no
// longer declared by any manifest.
func (d *DiscoveredManager) Reconcile(manifests map[string]*ProcessesConfig) {
	desired := make(map[string]struct {
		spec DiscoveredProcess
		path string
	})
	for sourcePath, cfg := range manifests {
		if cfg == nil {
			continue
		}
		for name, spec := range cfg.Processes {
			desired[discoveredKey(sourcePath, name)] = struct {
				spec DiscoveredProcess
				path string
			}{spec, sourcePath}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for key, existing := range d.processes {
		if _, stillWanted := desired[key]; !stillWanted {
			existing.terminate()
			delete(d.processes, key)
		}
	}

	for key, want := range desired {
		if _, running := d.processes[key]; running {
			continue
		}
		name := key[len(want.path)+1:]
		proc := &discoveredProcess{
			name:       name,
			sourcePath: want.path,
			owns:       want.spec.Owns,
			cwd:        want.spec.Cwd,
			state:      Stopped,
		}
		proc.start(want.spec.Command)
		d.processes[key] = proc
	}
}

func (p *discoveredProcess) start(spec CommandSpec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd := exec.Command(spec.Program(), spec.Args()...)
	cmd.Dir = p.cwd
	if err := cmd.Start(); err != nil {
		p.state = Failed
		return
	}
	p.cmd = cmd
	p.state = Starting
	go func() {
		_ = cmd.Wait()
		p.mu.Lock()
		if p.state != Stopped {
			p.state = Failed
		}
		p.mu.Unlock()
	}()
	p.state = Running
}

// terminate sends the process a graceful stop signal and reaps it.
func (p *discoveredProcess) terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	p.state = Stopped
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
}

// Status builds status entries for the discovered cohort
// (SourcePath/DocumentPath set, marking these as discovered not base).
func (d *DiscoveredManager) Status() []ProcessStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ProcessStatus, 0, len(d.processes))
	for _, p := range d.processes {
		p.mu.Lock()
		var pid *int
		if p.cmd != nil && p.cmd.Process != nil {
			v := p.cmd.Process.Pid
			pid = &v
		}
		cwd := p.cwd
		owns := p.owns
		sourcePath := p.sourcePath
		state := p.state.String()
		p.mu.Unlock()
		out = append(out, ProcessStatus{
			Name:         p.name,
			Pid:          pid,
			Cwd:          &cwd,
			State:        state,
			DocumentPath: &owns,
			SourcePath:   &sourcePath,
		})
	}
	return out
}
