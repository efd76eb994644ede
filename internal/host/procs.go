// Package host holds the stateless measurement adapters monitors poll
// through: process statistics via gopsutil and filesystem usage for
// paths and their backing filesystems.
package host

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcState is the canonical process state name, matching the long-form
// names in the rig man page.
type ProcState string

const (
	StateRunning   ProcState = "running"
	StateSleeping  ProcState = "sleeping"
	StateDiskSleep ProcState = "disk-sleep"
	StateStopped   ProcState = "stopped"
	StateZombie    ProcState = "zombie"
	StateDead      ProcState = "dead"
)

// stateAliases maps every accepted spelling (long names and the short
// ps(1) codes) to its canonical state.
var stateAliases = map[string]ProcState{
	"running": StateRunning, "run": StateRunning, "R": StateRunning,
	"sleeping": StateSleeping, "sleep": StateSleeping, "S": StateSleeping,
	"disk-sleep": StateDiskSleep, "disk_sleep": StateDiskSleep,
	"uninterruptible": StateDiskSleep, "uninterruptible_sleep": StateDiskSleep,
	"D": StateDiskSleep, "UN": StateDiskSleep,
	"stopped": StateStopped, "stop": StateStopped, "T": StateStopped,
	"zombie": StateZombie, "Z": StateZombie,
}

// gopsutil reports single-letter status codes on Linux.
var gopsutilStates = map[string]ProcState{
	process.Running: StateRunning,
	process.Sleep:   StateSleeping,
	process.Idle:    StateSleeping,
	process.Wait:    StateDiskSleep,
	process.Stop:    StateStopped,
	process.Zombie:  StateZombie,
}

// ParseState resolves a user-supplied state spelling to its canonical
// name. The leading '!' must already be stripped by the caller.
func ParseState(s string) (ProcState, error) {
	if state, ok := stateAliases[s]; ok {
		return state, nil
	}
	if state, ok := stateAliases[strings.ToLower(s)]; ok {
		return state, nil
	}
	return "", fmt.Errorf("unknown process state %q", s)
}

// Proc is one watched process instance.
type Proc struct {
	PID  int32
	Name string
	p    *process.Process
}

// Sample is a single observation of a watched process.
type Sample struct {
	CPUPercent    float64
	MemoryPercent float64
	RSS           uint64
	VMS           uint64
	State         ProcState
}

// ResolveProcs expands a list of PID and process-name identifiers into
// watched process handles. Every PID whose name matches is tracked
// independently. Identifiers that match nothing resolve to an empty
// watch, not an error.
func ResolveProcs(idents []string) ([]*Proc, error) {
	var procs []*Proc
	seen := make(map[int32]bool)

	var names []string
	for _, ident := range idents {
		if pid, err := strconv.Atoi(ident); err == nil {
			if seen[int32(pid)] {
				continue
			}
			p, err := process.NewProcess(int32(pid))
			if err != nil {
				// the PID may already be gone; skip it
				continue
			}
			seen[int32(pid)] = true
			procs = append(procs, &Proc{PID: int32(pid), p: p})
			continue
		}
		names = append(names, ident)
	}

	if len(names) > 0 {
		all, err := process.Processes()
		if err != nil {
			return nil, fmt.Errorf("list processes: %w", err)
		}
		for _, p := range all {
			pname, err := p.Name()
			if err != nil {
				continue
			}
			for _, want := range names {
				if pname == want && !seen[p.Pid] {
					seen[p.Pid] = true
					procs = append(procs, &Proc{PID: p.Pid, Name: want, p: p})
				}
			}
		}
	}
	return procs, nil
}

// Alive reports whether the process still exists.
func (p *Proc) Alive() bool {
	running, err := p.p.IsRunning()
	return err == nil && running
}

// Sample takes one observation. CPU percent is measured across the
// window since the previous Sample call, which the monitor invokes once
// per tick, so the percentage covers a single tick interval.
func (p *Proc) Sample() (*Sample, error) {
	s := &Sample{}

	cpu, err := p.p.Percent(0)
	if err != nil {
		return nil, err
	}
	s.CPUPercent = cpu

	if mem, err := p.p.MemoryPercent(); err == nil {
		s.MemoryPercent = float64(mem)
	}
	if info, err := p.p.MemoryInfo(); err == nil && info != nil {
		s.RSS = info.RSS
		s.VMS = info.VMS
	}

	statuses, err := p.p.Status()
	if err != nil {
		return nil, err
	}
	s.State = StateDead
	if len(statuses) > 0 {
		if state, ok := gopsutilStates[statuses[0]]; ok {
			s.State = state
		}
	}
	return s, nil
}

// Label renders the process for evidence and log lines.
func (p *Proc) Label() string {
	if p.Name != "" {
		return fmt.Sprintf("%s(%d)", p.Name, p.PID)
	}
	return strconv.Itoa(int(p.PID))
}
