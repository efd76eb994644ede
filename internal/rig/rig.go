// Package rig implements the supervisor: the detached process that
// owns a working directory and a control socket, polls its monitors on
// a shared clock, and runs its actions when one of them trips.
package rig

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/rig/internal/config"
	"github.com/mattjoyce/rig/internal/control"
	"github.com/mattjoyce/rig/internal/lock"
	"github.com/mattjoyce/rig/internal/plugin"
	"github.com/mattjoyce/rig/internal/state"
)

// Phase is the rig runtime's high-level state.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhasePreTrigger   Phase = "pre_trigger_running"
	PhasePolling      Phase = "polling"
	PhaseTriggered    Phase = "triggered"
	PhaseCollecting   Phase = "collecting"
	PhaseArchiving    Phase = "archiving"
	PhaseFinished     Phase = "finished"
	PhaseFailed       Phase = "failed"
)

// Exit codes for the rig binary.
const (
	ExitOK        = 0
	ExitNotRoot   = 1
	ExitConfig    = 2
	ExitDeploy    = 3
	ExitDestroyed = 4
	ExitFatal     = 5
)

// monitorInst is one configured monitor and its poll bookkeeping. Each
// instance's state is only ever touched by its own poll goroutine; the
// inFlight flag keeps a slow poll from overlapping the next tick.
type monitorInst struct {
	name     string
	mon      plugin.Monitor
	inFlight bool
	tripped  bool
}

// actionInst is one configured action with its resolved ordering.
type actionInst struct {
	name    string
	spec    plugin.ActionSpec
	act     plugin.Action
	order   int // declaration position, the priority tie-breaker
	started bool
	state   string
}

// Action instance states surfaced over the control plane.
const (
	actPending    = "pending"
	actPreRunning = "pre_trigger_running"
	actStopped    = "stopped"
	actRunning    = "running"
	actDone       = "done"
	actFailed     = "failed"
	actSkipped    = "skipped"
)

// Rig is one deployed supervisor instance.
type Rig struct {
	cfg      *config.Rigfile
	name     string
	workDir  string
	logger   *slog.Logger
	events   *state.Store
	workLock *lock.PIDLock
	server   *control.Server

	monitors []*monitorInst
	actions  []*actionInst // stable-sorted by (weight asc, order asc)

	created time.Time

	mu       sync.Mutex
	phase    Phase
	trip     *plugin.Trip
	destroyd bool

	// tripCh wakes the polling loop on the manual-trigger op; destroyCh
	// wakes it on destroy. Both are single-shot.
	tripCh    chan *plugin.Trip
	destroyCh chan bool // payload is the force flag

	// stopRun cancels in-flight action subprocesses on a forced destroy.
	stopRun context.CancelFunc
}

// Configured carries one plugin block through from schema validation
// to instantiation.
type Configured struct {
	name  string
	opts  plugin.Options
	order int
}

// Validate checks a rigfile against the registry: every monitor and
// action name must be known and every option block must satisfy its
// schema. Returned errors are configuration errors (exit 2). Safe to
// call in the parent process before detaching.
func Validate(cfg *config.Rigfile, reg *plugin.Registry) ([]Configured, []Configured, error) {
	var monitors, actions []Configured
	for i, block := range cfg.Monitors {
		spec, ok := reg.Monitor(block.Name)
		if !ok {
			return nil, nil, fmt.Errorf("unknown monitor %q", block.Name)
		}
		opts, err := spec.Schema.Validate("monitor "+block.Name, block.Options)
		if err != nil {
			return nil, nil, err
		}
		monitors = append(monitors, Configured{name: block.Name, opts: opts, order: i})
	}
	for i, block := range cfg.Actions {
		spec, ok := reg.Action(block.Name)
		if !ok {
			return nil, nil, fmt.Errorf("unknown action %q", block.Name)
		}
		opts, err := spec.Schema.Validate("action "+block.Name, block.Options)
		if err != nil {
			return nil, nil, err
		}
		actions = append(actions, Configured{name: block.Name, opts: opts, order: i})
	}
	return monitors, actions, nil
}

// New constructs an unstarted rig for a validated configuration.
func New(cfg *config.Rigfile, name string) *Rig {
	return &Rig{
		cfg:       cfg,
		name:      name,
		workDir:   WorkDir(name),
		logger:    nil, // set during deploy once logging is wired
		created:   time.Now(),
		phase:     PhaseInitializing,
		tripCh:    make(chan *plugin.Trip, 1),
		destroyCh: make(chan bool, 1),
	}
}

// Name returns the rig's identity.
func (r *Rig) Name() string { return r.name }

// WorkDirPath returns the rig's working directory.
func (r *Rig) WorkDirPath() string { return r.workDir }

func (r *Rig) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}

// Phase returns the current phase.
func (r *Rig) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// setTrip records the trigger source. Only the first call wins; later
// trips within the same tick are kept as evidence events only.
func (r *Rig) setTrip(t *plugin.Trip) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.trip != nil {
		return false
	}
	r.trip = t
	return true
}

// Trip returns the recorded trigger source, if any.
func (r *Rig) Trip() *plugin.Trip {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trip
}

// env builds the plugin environment for this rig.
func (r *Rig) env() *plugin.Env {
	return &plugin.Env{
		RigName:     r.name,
		WorkDir:     r.workDir,
		Interval:    time.Duration(r.cfg.Interval) * time.Second,
		Delay:       time.Duration(r.cfg.Delay) * time.Second,
		RepeatDelay: time.Duration(r.cfg.RepeatDelay) * time.Second,
		Logger:      r.logger,
		Events:      r.events,
	}
}

// sortActions orders instances by weight ascending, declaration order
// ascending. The sort is deliberately stable against map iteration:
// order comes from the rigfile document, never from a map.
func sortActions(actions []*actionInst) {
	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].spec.Weight != actions[j].spec.Weight {
			return actions[i].spec.Weight < actions[j].spec.Weight
		}
		return actions[i].order < actions[j].order
	})
}
