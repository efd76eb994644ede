package rig

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mattjoyce/rig/internal/control"
	"github.com/mattjoyce/rig/internal/plugin"
)

// registerHandlers wires the control-plane op table. Handlers run on
// the control server's connection goroutines and only touch state
// guarded by r.mu.
func (r *Rig) registerHandlers() {
	r.server.Handle(control.OpPing, func(ctx context.Context, req *control.Request) any {
		return &control.Ack{Ok: true}
	})

	r.server.Handle(control.OpStatus, func(ctx context.Context, req *control.Request) any {
		return r.statusSnapshot()
	})

	r.server.Handle(control.OpInfo, func(ctx context.Context, req *control.Request) any {
		return r.infoSnapshot()
	})

	r.server.Handle(control.OpDestroy, func(ctx context.Context, req *control.Request) any {
		r.mu.Lock()
		if r.destroyd {
			r.mu.Unlock()
			return &control.Ack{Err: "not found"}
		}
		r.destroyd = true
		stop := r.stopRun
		r.mu.Unlock()

		r.logger.Info("destroy requested over control socket", "force", req.Force)
		if req.Force && stop != nil {
			// kill the in-flight action instead of letting it finish
			stop()
		}
		select {
		case r.destroyCh <- req.Force:
		default:
		}
		// acknowledge before shutdown proceeds
		return &control.Ack{Ok: true}
	})

	r.server.Handle(control.OpTrigger, func(ctx context.Context, req *control.Request) any {
		trip := &plugin.Trip{
			Monitor:  "manual",
			Source:   "control socket",
			Evidence: "triggered from command line",
			At:       time.Now(),
		}
		if !r.setTrip(trip) {
			return &control.Ack{Err: "already triggered"}
		}
		r.logger.Info("received request to manually trigger rig")
		select {
		case r.tripCh <- trip:
		default:
		}
		return &control.Ack{Ok: true}
	})
}

// statusSnapshot builds the status document under the rig mutex.
func (r *Rig) statusSnapshot() *control.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := &control.Status{
		Name:       r.name,
		PID:        os.Getpid(),
		Phase:      string(r.phase),
		UptimeSecs: int64(time.Since(r.created).Seconds()),
	}
	if r.trip != nil {
		st.TriggerSource = fmt.Sprintf("%s: %s", r.trip.Monitor, r.trip.Evidence)
	}
	for _, m := range r.monitors {
		mstate := "watching"
		if m.tripped {
			mstate = "tripped"
		}
		st.Monitors = append(st.Monitors, control.MemberState{Name: m.name, State: mstate})
	}
	for _, a := range r.actions {
		st.Actions = append(st.Actions, control.MemberState{Name: a.name, State: a.state})
	}
	return st
}

// infoSnapshot builds the detailed info document.
func (r *Rig) infoSnapshot() *control.Info {
	info := &control.Info{
		Status:      *r.statusSnapshot(),
		Created:     r.created.Format(time.RFC3339),
		Interval:    r.cfg.Interval,
		Delay:       r.cfg.Delay,
		NoArchive:   r.cfg.NoArchive,
		Descriptors: make(map[string]string),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.monitors {
		info.Descriptors["monitor/"+m.name] = m.mon.Describe()
	}
	for _, a := range r.actions {
		info.Descriptors["action/"+a.name] = fmt.Sprintf("weight %d", a.spec.Weight)
	}
	return info
}
