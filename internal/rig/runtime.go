package rig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattjoyce/rig/internal/archive"
	"github.com/mattjoyce/rig/internal/control"
	"github.com/mattjoyce/rig/internal/lock"
	"github.com/mattjoyce/rig/internal/log"
	"github.com/mattjoyce/rig/internal/plugin"
	"github.com/mattjoyce/rig/internal/state"
)

// Deploy runs the full supervisor lifecycle in the already-detached
// process and returns the process exit code. ready is invoked exactly
// once, after the deploy sequence has completed and polling is about to
// begin; the caller uses it to release the parent process.
func (r *Rig) Deploy(ctx context.Context, reg *plugin.Registry, ready func()) int {
	r.logger = log.WithRig(r.name)
	r.logger.Info("initializing rig", "pid", os.Getpid())

	if err := os.MkdirAll(r.workDir, 0o700); err != nil {
		r.logger.Error("cannot create working directory", "dir", r.workDir, "error", err)
		return ExitDeploy
	}
	workLock, err := lock.Acquire(filepath.Join(r.workDir, ".rig.pid"))
	if err != nil {
		r.logger.Error("working directory is claimed by another rig", "dir", r.workDir, "error", err)
		return ExitDeploy
	}
	r.workLock = workLock

	if err := log.AddFile(filepath.Join(r.workDir, "rig-"+r.name+".log"), r.cfg.Debug); err != nil {
		r.logger.Warn("cannot open per-rig log file", "error", err)
	}

	events, err := state.Open(ctx, filepath.Join(r.workDir, "rig-events.db"))
	if err != nil {
		r.logger.Error("cannot open event store", "error", err)
		return r.failDeploy(ExitDeploy)
	}
	r.events = events
	r.events.Record(ctx, state.KindDeployed, "rig", fmt.Sprintf("pid %d", os.Getpid()))

	// bind the control socket before anything long-running; a name
	// collision has to fail fast
	r.server = control.NewServer(control.SocketPath(r.name), r.logger.With("component", "control"))
	r.registerHandlers()
	listener, err := r.server.Bind()
	if err != nil {
		if errors.Is(err, control.ErrAddressInUse) {
			r.logger.Error("a rig with this name is already running", "name", r.name)
		} else {
			r.logger.Error("cannot bind control socket", "error", err)
		}
		return r.failDeploy(ExitDeploy)
	}

	serveCtx, stopServer := context.WithCancel(context.Background())
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		_ = r.server.Serve(serveCtx, listener)
	}()
	shutdownServer := func() {
		stopServer()
		select {
		case <-serverDone:
		case <-time.After(time.Second):
		}
	}

	code := r.deployAndRun(ctx, reg, ready)

	shutdownServer()
	log.Close()
	_ = r.workLock.Release()
	return code
}

// deployAndRun finishes the deploy sequence (instances, probes,
// pre-trigger starts) and runs the polling loop through to completion.
func (r *Rig) deployAndRun(ctx context.Context, reg *plugin.Registry, ready func()) int {
	monVals, actVals, err := Validate(r.cfg, reg)
	if err != nil {
		r.logger.Error("configuration rejected", "error", err)
		return r.failDeploy(ExitConfig)
	}

	env := r.env()
	var monitors []*monitorInst
	for _, v := range monVals {
		spec, _ := reg.Monitor(v.name)
		mon, err := spec.New(v.opts, env)
		if err != nil {
			r.logger.Error("cannot configure monitor", "monitor", v.name, "error", err)
			return r.failDeploy(ExitConfig)
		}
		monitors = append(monitors, &monitorInst{name: v.name, mon: mon})
	}
	var actions []*actionInst
	for _, v := range actVals {
		spec, _ := reg.Action(v.name)
		act, err := spec.New(v.opts, env)
		if err != nil {
			r.logger.Error("cannot configure action", "action", v.name, "error", err)
			return r.failDeploy(ExitConfig)
		}
		actions = append(actions, &actionInst{
			name: v.name, spec: spec, act: act, order: v.order, state: actPending,
		})
	}
	sortActions(actions)

	// the control server is already answering; publish the instance
	// tables under the lock it reads through
	r.mu.Lock()
	r.monitors = monitors
	r.actions = actions
	r.mu.Unlock()

	// feasibility probes, then pre-trigger starts, both in weight order
	for _, a := range r.actions {
		if prober, ok := a.act.(plugin.Prober); ok {
			if err := prober.Probe(ctx); err != nil {
				r.logger.Error("deployment probe failed", "action", a.name, "error", err)
				r.events.Record(ctx, state.KindError, a.name, err.Error())
				return r.failDeploy(ExitDeploy)
			}
		}
	}

	r.setPhase(PhasePreTrigger)
	var started []*actionInst
	for _, a := range r.actions {
		if !a.spec.PreTrigger {
			continue
		}
		pre, ok := a.act.(plugin.PreTrigger)
		if !ok {
			continue
		}
		if err := pre.PreStart(ctx); err != nil {
			r.logger.Error("pre-trigger start failed", "action", a.name, "error", err)
			r.events.Record(ctx, state.KindError, a.name, err.Error())
			r.stopPreTrigger(ctx, started)
			return r.failDeploy(ExitDeploy)
		}
		a.started = true
		r.mu.Lock()
		a.state = actPreRunning
		r.mu.Unlock()
		started = append(started, a)
	}

	for _, m := range r.monitors {
		if err := m.mon.Start(ctx); err != nil {
			r.logger.Error("cannot start monitor", "monitor", m.name, "error", err)
			r.events.Record(ctx, state.KindError, m.name, err.Error())
			r.stopPreTrigger(ctx, started)
			return r.failDeploy(ExitDeploy)
		}
	}

	r.events.Record(ctx, state.KindReady, "rig", "polling started")
	r.setPhase(PhasePolling)
	r.logger.Info("rig deployed", "interval", r.cfg.Interval,
		"monitors", r.cfg.Monitors.Names(), "actions", r.cfg.Actions.Names())
	if ready != nil {
		ready()
	}

	return r.loop(ctx)
}

// failDeploy aborts a failed deployment: everything the rig created is
// removed, since no data of value exists yet.
func (r *Rig) failDeploy(code int) int {
	r.setPhase(PhaseFailed)
	if r.events != nil {
		r.events.Close()
	}
	os.RemoveAll(r.workDir)
	return code
}

// loop is the polling loop: one logical clock shared by every monitor.
func (r *Rig) loop(ctx context.Context) int {
	interval := time.Duration(r.cfg.Interval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("termination signal received, destroying rig")
			return r.shutdownDestroyed(context.Background())
		case <-r.destroyCh:
			return r.shutdownDestroyed(ctx)
		case trip := <-r.tripCh:
			r.logger.Info("rig manually triggered")
			cancelPoll()
			return r.triggered(ctx, trip)
		case <-ticker.C:
			if trip := r.pollOnce(pollCtx); trip != nil {
				cancelPoll()
				return r.triggered(ctx, trip)
			}
		}
	}
}

// pollOnce polls every monitor concurrently and waits for the tick to
// complete. The first trip observed becomes the trigger source; any
// later trips within the tick are recorded as additional evidence.
func (r *Rig) pollOnce(ctx context.Context) *plugin.Trip {
	var wg sync.WaitGroup
	for _, m := range r.monitors {
		r.mu.Lock()
		busy := m.inFlight || m.tripped
		if !busy {
			m.inFlight = true
		}
		r.mu.Unlock()
		if busy {
			continue
		}

		wg.Add(1)
		go func(m *monitorInst) {
			defer wg.Done()
			trip, err := m.mon.Poll(ctx)
			r.mu.Lock()
			m.inFlight = false
			if trip != nil {
				m.tripped = true
			}
			r.mu.Unlock()
			if err != nil {
				// transient errors retry on the next tick
				r.logger.Debug("monitor poll error", "monitor", m.name, "error", err)
				r.events.Record(ctx, state.KindError, m.name, err.Error())
				return
			}
			if trip != nil {
				if r.setTrip(trip) {
					r.logger.Info("monitor tripped", "monitor", m.name,
						"source", trip.Source, "evidence", trip.Evidence)
				} else {
					r.logger.Info("additional monitor tripped in same tick", "monitor", m.name)
					r.events.Record(ctx, state.KindTriggered, m.name,
						fmt.Sprintf("additional trip: %s: %s", trip.Source, trip.Evidence))
				}
			}
		}(m)
	}
	wg.Wait()
	return r.Trip()
}

// triggered runs the trigger pipeline: delay, pre-trigger stop, serial
// action execution, archive, and termination.
func (r *Rig) triggered(ctx context.Context, trip *plugin.Trip) int {
	r.setPhase(PhaseTriggered)
	r.events.Record(ctx, state.KindTriggered, trip.Monitor,
		fmt.Sprintf("%s: %s", trip.Source, trip.Evidence))

	if r.cfg.Delay > 0 {
		r.logger.Debug("delaying trigger", "seconds", r.cfg.Delay)
		select {
		case <-time.After(time.Duration(r.cfg.Delay) * time.Second):
		case <-ctx.Done():
			return r.shutdownDestroyed(context.Background())
		case <-r.destroyCh:
			return r.shutdownDestroyed(ctx)
		}
	}

	for _, m := range r.monitors {
		m.mon.Stop()
	}
	r.stopPreTrigger(ctx, r.startedPreTrigger())

	code := r.runActions(ctx)
	if code != ExitOK {
		return code
	}
	return r.finish(ctx)
}

// startedPreTrigger returns the pre-trigger actions that were started,
// in execution order.
func (r *Rig) startedPreTrigger() []*actionInst {
	var started []*actionInst
	for _, a := range r.actions {
		if a.started {
			started = append(started, a)
		}
	}
	return started
}

// stopPreTrigger stops pre-trigger actions in reverse priority order.
func (r *Rig) stopPreTrigger(ctx context.Context, started []*actionInst) {
	for i := len(started) - 1; i >= 0; i-- {
		a := started[i]
		pre, ok := a.act.(plugin.PreTrigger)
		if !ok {
			continue
		}
		if err := pre.Stop(ctx); err != nil {
			r.logger.Error("error stopping pre-trigger action", "action", a.name, "error", err)
			r.events.Record(ctx, state.KindError, a.name, err.Error())
		}
		a.started = false
		r.mu.Lock()
		a.state = actStopped
		r.mu.Unlock()
	}
}

// runActions executes post-trigger actions serially in ascending
// priority order. A failing action is logged and skipped; later actions
// still run. kdump is deferred to finish(), after the archive and
// socket cleanup, because it reboots the host.
func (r *Rig) runActions(ctx context.Context) int {
	r.setPhase(PhaseCollecting)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.stopRun = cancel
	r.mu.Unlock()

	for _, a := range r.actions {
		if a.spec.PreTriggerOnly || a.name == "kdump" {
			continue
		}
		if r.destroyRequested() {
			r.mu.Lock()
			a.state = actSkipped
			r.mu.Unlock()
			continue
		}

		r.mu.Lock()
		a.state = actRunning
		r.mu.Unlock()
		r.logger.Info("triggering action", "action", a.name)

		iterations := 1
		if a.spec.Repeatable && r.cfg.Repeat > 0 {
			iterations += r.cfg.Repeat
		}

		final := actDone
		for i := 0; i < iterations; i++ {
			if i > 0 {
				r.logger.Info("repeating action", "action", a.name, "iteration", i+1, "total", iterations)
				select {
				case <-time.After(time.Duration(r.cfg.RepeatDelay) * time.Second):
				case <-runCtx.Done():
				}
			}
			if runCtx.Err() != nil {
				break
			}
			if err := a.act.Run(runCtx); err != nil {
				r.logger.Error("action failed", "action", a.name, "error", err)
				r.events.Record(ctx, state.KindError, a.name, err.Error())
				final = actFailed
			} else {
				r.events.Record(ctx, state.KindAction, a.name, fmt.Sprintf("iteration %d complete", i+1))
			}
		}

		r.mu.Lock()
		a.state = final
		r.mu.Unlock()

		if ctx.Err() != nil {
			// a termination signal killed the in-flight subprocess
			return r.shutdownDestroyed(context.Background())
		}
	}

	if r.destroyRequested() {
		return r.shutdownDestroyed(ctx)
	}
	return ExitOK
}

// finish assembles the archive, removes the working directory, and
// fires kdump last if configured.
func (r *Rig) finish(ctx context.Context) int {
	r.setPhase(PhaseArchiving)

	var archived string
	if r.cfg.NoArchive {
		r.logger.Info("not creating a tar archive of collected data", "workdir", r.workDir)
		r.events.Record(ctx, state.KindArchived, "rig", "no_archive set, working directory preserved")
		r.events.Close()
	} else {
		r.events.Record(ctx, state.KindArchived, "rig", "assembling archive")
		r.events.Close()
		// the lock file is bookkeeping, not collected data
		_ = r.workLock.Release()
		os.Remove(filepath.Join(r.workDir, ".rig.pid"))

		codec, err := archive.ParseCodec(r.cfg.Codec)
		if err != nil {
			r.logger.Error("bad archive codec", "error", err)
			r.setPhase(PhaseFailed)
			return ExitFatal
		}
		path, err := archive.Create(r.workDir, WorkDirBase(), r.name, codec)
		if err != nil {
			r.logger.Error("archive assembly failed", "error", err)
			r.setPhase(PhaseFailed)
			return ExitFatal
		}
		if path == "" {
			r.logger.Info("no data generated to archive for this rig")
		} else {
			entries, err := archive.Verify(path)
			if err != nil {
				r.logger.Error("archive verification failed", "archive", path, "error", err)
				r.setPhase(PhaseFailed)
				return ExitFatal
			}
			archived = path
			r.logger.Info("archive created", "archive", path, "entries", entries)
		}
		if err := os.RemoveAll(r.workDir); err != nil {
			r.logger.Error("could not remove working directory", "dir", r.workDir, "error", err)
		}
	}

	r.setPhase(PhaseFinished)
	if archived != "" {
		r.logger.Info("rig finished; collected data is available", "archive", archived)
	} else {
		r.logger.Info("rig finished", "workdir", r.workDir)
	}

	return r.fireKdump()
}

// fireKdump runs the kdump action after everything else, including
// socket cleanup in the caller's defers being armed: the host will not
// come back with a stale socket for every kdump rig created.
func (r *Rig) fireKdump() int {
	var kdump *actionInst
	for _, a := range r.actions {
		if a.name == "kdump" {
			kdump = a
		}
	}
	if kdump == nil || r.destroyRequested() {
		return ExitOK
	}

	// remove the control socket first; the write to sysrq-trigger does
	// not return
	if r.server != nil {
		os.Remove(control.SocketPath(r.name))
	}
	r.logger.Info("triggering action", "action", "kdump")
	if err := kdump.act.Run(context.Background()); err != nil {
		// kdump cannot fail softly
		r.logger.Error("kdump failed", "error", err)
		r.setPhase(PhaseFailed)
		return ExitFatal
	}
	return ExitOK
}

// destroyRequested reports whether an administrative destroy has been
// accepted.
func (r *Rig) destroyRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyd
}

// shutdownDestroyed tears the rig down after an administrative destroy
// or a termination signal: pre-trigger actions stopped, monitors
// cancelled, socket and working directory removed.
func (r *Rig) shutdownDestroyed(ctx context.Context) int {
	r.mu.Lock()
	r.destroyd = true
	r.mu.Unlock()

	for _, m := range r.monitors {
		m.mon.Stop()
	}
	r.stopPreTrigger(ctx, r.startedPreTrigger())

	if r.events != nil {
		r.events.Record(ctx, state.KindDestroyed, "rig", "rig destroyed before trigger completion")
		r.events.Close()
	}
	if err := os.RemoveAll(r.workDir); err != nil {
		r.logger.Error("could not remove working directory", "dir", r.workDir, "error", err)
	}
	r.logger.Info("rig destroyed")
	return ExitDestroyed
}
