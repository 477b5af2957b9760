package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// ProcessState is a managed process's lifecycle stage.
type ProcessState int

const (
	Stopped ProcessState = iota
	Starting
	Running
	Failed
)

func (s ProcessState) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Failed:
		return "failed"
	default:
		return "stopped"
	}
}

var (
	// ErrDependencyCycle is returned by TopoOrder when depends_on forms
	// a cycle.
	ErrDependencyCycle = errors.New("supervisor: dependency cycle")
	// ErrUnknownDep is returned by TopoOrder when a process depends on a
	// name that isn't configured.
	ErrUnknownDep = errors.New("supervisor: unknown dependency")
)

// ManagedProcess is one running or stopped process under static-cohort
// supervision.
type ManagedProcess struct {
	Name   string
	Config ProcessConfig

	mu                  sync.Mutex
	cmd                 *exec.Cmd
	state               ProcessState
	consecutiveFailures uint32
	lastStart           time.Time
}

// State returns the process's current lifecycle state.
func (p *ManagedProcess) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Pid returns the running process's pid, or 0 if not running.
func (p *ManagedProcess) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Manager runs and restarts a static cohort of processes according to
// each one's restart policy, in dependency order.
type Manager struct {
	config             *Config
	mqttBrokerOverride string
	disabled           map[string]struct{}
	only               string

	mu        sync.RWMutex
	processes map[string]*ManagedProcess
}

// NewManager builds a Manager for cfg. mqttBrokerOverride, when
// non-empty, takes precedence over cfg.MQTTBroker (CLI/env override).
// disabled suppresses named processes entirely; only, when non-empty,
// runs exactly that one process.
func NewManager(cfg *Config, mqttBrokerOverride string, disabled []string, only string) *Manager {
	disabledSet := make(map[string]struct{}, len(disabled))
	for _, d := range disabled {
		disabledSet[d] = struct{}{}
	}
	processes := make(map[string]*ManagedProcess, len(cfg.Processes))
	for name, pc := range cfg.Processes {
		processes[name] = &ManagedProcess{Name: name, Config: pc, state: Stopped}
	}
	return &Manager{
		config:             cfg,
		mqttBrokerOverride: mqttBrokerOverride,
		disabled:           disabledSet,
		only:               only,
		processes:          processes,
	}
}

// MQTTBroker returns the effective broker address: the override if
// set, else the config value.
func (m *Manager) MQTTBroker() string {
	if m.mqttBrokerOverride != "" {
		return m.mqttBrokerOverride
	}
	return m.config.MQTTBroker
}

// Process returns the managed process by name, or nil.
func (m *Manager) Process(name string) *ManagedProcess {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.processes[name]
}

// TopoOrder returns process names in an order where every process
// appears after everything it depends_on, using Kahn's algorithm.
func (m *Manager) TopoOrder() ([]string, error) {
	inDegree := make(map[string]int, len(m.config.Processes))
	dependents := make(map[string][]string)

	for name, pc := range m.config.Processes {
		if _, ok := inDegree[name]; !ok {
			inDegree[name] = 0
		}
		for _, dep := range pc.DependsOn {
			if _, ok := m.config.Processes[dep]; !ok {
				return nil, fmt.Errorf("%w: %q depends on unknown process %q", ErrUnknownDep, name, dep)
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}

	var order []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		order = append(order, next)
		for _, dependent := range dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(m.config.Processes) {
		return nil, ErrDependencyCycle
	}
	return order, nil
}

// shouldRun reports whether name should be started at all, honoring
// the disabled list and an "only" filter.
func (m *Manager) shouldRun(name string) bool {
	if m.only != "" {
		return name == m.only
	}
	if _, skip := m.disabled[name]; skip {
		return false
	}
	return true
}

// StartAll starts every eligible process in dependency order, waiting
// for each process's dependencies to reach Running before starting it.
func (m *Manager) StartAll(ctx context.Context) error {
	order, err := m.TopoOrder()
	if err != nil {
		return err
	}
	for _, name := range order {
		if !m.shouldRun(name) {
			continue
		}
		proc := m.Process(name)
		for _, dep := range proc.Config.DependsOn {
			if depProc := m.Process(dep); depProc != nil {
				if err := m.waitRunning(ctx, depProc, 30*time.Second); err != nil {
					return fmt.Errorf("supervisor: %s waiting on dependency %s: %w", name, dep, err)
				}
			}
		}
		if err := m.spawn(ctx, proc); err != nil {
			return fmt.Errorf("supervisor: start %s: %w", name, err)
		}
		go m.supervise(ctx, proc)
	}
	return nil
}

func (m *Manager) waitRunning(ctx context.Context, proc *ManagedProcess, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if proc.State() == Running {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %s to become running", proc.Name)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// spawn starts proc's command and transitions it to Starting, then
// to Running as soon as the command has started; there is no health
// check or grace period before Running.
func (m *Manager) spawn(ctx context.Context, proc *ManagedProcess) error {
	proc.mu.Lock()
	cmd := exec.CommandContext(ctx, proc.Config.Command, proc.Config.Args...)
	if err := cmd.Start(); err != nil {
		proc.state = Failed
		proc.mu.Unlock()
		return err
	}
	proc.cmd = cmd
	proc.state = Starting
	proc.lastStart = time.Now()
	proc.mu.Unlock()

	proc.mu.Lock()
	proc.state = Running
	proc.mu.Unlock()
	return nil
}

// supervise waits for proc's command to exit and restarts it per its
// restart policy, doubling backoff on each consecutive failure.
func (m *Manager) supervise(ctx context.Context, proc *ManagedProcess) {
	for {
		proc.mu.Lock()
		cmd := proc.cmd
		proc.mu.Unlock()
		if cmd == nil {
			return
		}

		err := cmd.Wait()

		proc.mu.Lock()
		ran := time.Since(proc.lastStart)
		backoff := time.Duration(proc.Config.Restart.BackoffMs) * time.Millisecond
		if ran > backoff {
			proc.consecutiveFailures = 0
		} else {
			proc.consecutiveFailures++
		}
		proc.state = Failed
		failures := proc.consecutiveFailures
		proc.mu.Unlock()

		if ctx.Err() != nil {
			proc.mu.Lock()
			proc.state = Stopped
			proc.mu.Unlock()
			return
		}

		restart := false
		switch proc.Config.Restart.Policy {
		case RestartAlways:
			restart = true
		case RestartOnFailure:
			restart = err != nil
		case RestartNever:
			restart = false
		}
		if !restart {
			proc.mu.Lock()
			proc.state = Stopped
			proc.mu.Unlock()
			return
		}

		wait := nextBackoff(proc.Config.Restart, failures)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := m.spawn(ctx, proc); err != nil {
			proc.mu.Lock()
			proc.state = Failed
			proc.mu.Unlock()
			return
		}
	}
}

// nextBackoff doubles backoff_ms per consecutive failure up to
// max_backoff_ms.
func nextBackoff(policy RestartPolicy, failures uint32) time.Duration {
	backoff := policy.BackoffMs
	for i := uint32(0); i < failures && backoff < policy.MaxBackoffMs; i++ {
		backoff *= 2
	}
	if backoff > policy.MaxBackoffMs {
		backoff = policy.MaxBackoffMs
	}
	return time.Duration(backoff) * time.Millisecond
}

// StopAll kills every running process (Process.Kill, i.e. SIGKILL on
// Unix) and returns without waiting for it to exit.
func (m *Manager) StopAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, proc := range m.processes {
		proc.mu.Lock()
		cmd := proc.cmd
		proc.mu.Unlock()
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
}

// Status builds an OrchestratorStatus snapshot for the static cohort
// (SourcePath left nil on every entry, marking it as base, not
// discovered).
func (m *Manager) Status() *OrchestratorStatus {
	status := NewStatus()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, proc := range m.processes {
		var pid *int
		if p := proc.Pid(); p != 0 {
			pid = &p
		}
		status.Processes = append(status.Processes, ProcessStatus{
			Name:  name,
			Pid:   pid,
			State: proc.State().String(),
		})
	}
	return status
}
