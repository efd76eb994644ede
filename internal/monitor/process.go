package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattjoyce/rig/internal/host"
	"github.com/mattjoyce/rig/internal/plugin"
)

// processMonitor watches one or more processes for a state change or a
// resource threshold. Every PID matched by a configured name is tracked
// independently; any single instance meeting a threshold trips the rig.
type processMonitor struct {
	idents []string
	procs  []*host.Proc

	cpuPercent float64
	memPercent float64
	rss        int64
	vms        int64

	state       host.ProcState
	invertState bool
	hasState    bool

	logger *slog.Logger
}

func newProcess(opts plugin.Options, env *plugin.Env) (plugin.Monitor, error) {
	m := &processMonitor{
		idents:     opts.Strings("procs"),
		cpuPercent: opts.Float("cpu_percent"),
		memPercent: opts.Float("memory_percent"),
		rss:        opts.Size("rss"),
		vms:        opts.Size("vms"),
		logger:     env.Logger.With("monitor", "process"),
	}
	if len(m.idents) == 0 {
		return nil, fmt.Errorf("'procs' must name at least one PID or process")
	}

	if raw := opts.String("state"); raw != "" {
		m.invertState = strings.HasPrefix(raw, "!")
		state, err := host.ParseState(strings.TrimPrefix(raw, "!"))
		if err != nil {
			return nil, err
		}
		m.state = state
		m.hasState = true
	}

	if !m.hasState && m.cpuPercent == 0 && m.memPercent == 0 && m.rss == 0 && m.vms == 0 {
		return nil, fmt.Errorf("must set at least one of cpu_percent, memory_percent, rss, vms, state")
	}
	return m, nil
}

// Start resolves the configured identifiers into watched PIDs. A name
// matching zero PIDs yields an empty (benign) watch, consistent with how
// the logs monitor treats missing files.
func (m *processMonitor) Start(ctx context.Context) error {
	procs, err := host.ResolveProcs(m.idents)
	if err != nil {
		return err
	}
	m.procs = procs
	if len(procs) == 0 {
		m.logger.Warn("no PIDs match the configured identifiers; monitor cannot trip")
		return nil
	}
	for _, p := range procs {
		// prime the CPU window so the first tick measures a full interval
		_, _ = p.Sample()
		m.logger.Debug("watching process", "proc", p.Label())
	}
	return nil
}

func (m *processMonitor) Poll(ctx context.Context) (*plugin.Trip, error) {
	live := m.procs[:0]
	for _, p := range m.procs {
		if !p.Alive() {
			// an exit is itself the trigger for state "!running"; for
			// anything else it is the benign loss of one watched PID
			if m.hasState && m.invertState && m.state == host.StateRunning {
				m.logger.Info("watched process exited", "proc", p.Label())
				return trip("process", p.Label(), "process no longer exists, matching state !running"), nil
			}
			m.logger.Info("watched process disappeared, dropping from watch", "proc", p.Label())
			continue
		}
		live = append(live, p)

		s, err := p.Sample()
		if err != nil {
			m.logger.Debug("error sampling process", "proc", p.Label(), "error", err)
			continue
		}
		if t := m.check(p, s); t != nil {
			return t, nil
		}
	}
	m.procs = live
	return nil, nil
}

// check compares one sample against every configured predicate.
func (m *processMonitor) check(p *host.Proc, s *host.Sample) *plugin.Trip {
	if m.cpuPercent > 0 && s.CPUPercent >= m.cpuPercent {
		return trip("process", p.Label(),
			fmt.Sprintf("cpu_percent %.2f meets threshold %.2f", s.CPUPercent, m.cpuPercent))
	}
	if m.memPercent > 0 && s.MemoryPercent >= m.memPercent {
		return trip("process", p.Label(),
			fmt.Sprintf("memory_percent %.2f meets threshold %.2f", s.MemoryPercent, m.memPercent))
	}
	if m.rss > 0 && int64(s.RSS) >= m.rss {
		return trip("process", p.Label(),
			fmt.Sprintf("rss %s meets threshold %s", humanize.IBytes(s.RSS), humanize.IBytes(uint64(m.rss))))
	}
	if m.vms > 0 && int64(s.VMS) >= m.vms {
		return trip("process", p.Label(),
			fmt.Sprintf("vms %s meets threshold %s", humanize.IBytes(s.VMS), humanize.IBytes(uint64(m.vms))))
	}

	if m.hasState {
		// !running tolerates sleeping: the intent is "stopped being
		// schedulable", not "momentarily off-CPU"
		if m.invertState && m.state == host.StateRunning && s.State == host.StateSleeping {
			return nil
		}
		matched := s.State == m.state
		if matched != m.invertState {
			return trip("process", p.Label(),
				fmt.Sprintf("state %s matches trigger %s%s", s.State, bang(m.invertState), m.state))
		}
	}
	return nil
}

func (m *processMonitor) Describe() string {
	var preds []string
	if m.cpuPercent > 0 {
		preds = append(preds, fmt.Sprintf("cpu_percent >= %.1f", m.cpuPercent))
	}
	if m.memPercent > 0 {
		preds = append(preds, fmt.Sprintf("memory_percent >= %.1f", m.memPercent))
	}
	if m.rss > 0 {
		preds = append(preds, fmt.Sprintf("rss >= %s", humanize.IBytes(uint64(m.rss))))
	}
	if m.vms > 0 {
		preds = append(preds, fmt.Sprintf("vms >= %s", humanize.IBytes(uint64(m.vms))))
	}
	if m.hasState {
		preds = append(preds, fmt.Sprintf("state %s%s", bang(m.invertState), m.state))
	}
	return fmt.Sprintf("procs %s: %s", strings.Join(m.idents, ","), strings.Join(preds, ", "))
}

func (m *processMonitor) Stop() {}

func bang(inverted bool) string {
	if inverted {
		return "!"
	}
	return ""
}
