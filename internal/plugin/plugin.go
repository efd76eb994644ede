// Package plugin defines the monitor and action capability sets, the
// option schema model they are configured through, and the registry the
// rig runtime resolves plugin names against. The registry is a fixed,
// build-time table: rig's plugins are compiled in, never discovered.
package plugin

import (
	"context"
	"log/slog"
	"time"
)

// Trip is the evidence record produced when a monitor's condition becomes
// true. It is serialized into the control-plane status document and the
// event store.
type Trip struct {
	Monitor  string    `json:"monitor"`
	Source   string    `json:"source"`
	Evidence string    `json:"evidence"`
	At       time.Time `json:"at"`
}

// Monitor is a configured, stateful watcher. Start positions the monitor
// against its sources, Poll is invoked on every tick of the rig clock and
// returns a non-nil Trip once the condition is met, and Stop releases any
// held resources. Stop must be idempotent. Poll never writes inside the
// rig's working directory.
type Monitor interface {
	Start(ctx context.Context) error
	Poll(ctx context.Context) (*Trip, error)
	Describe() string
	Stop()
}

// Action is a configured collector run when the rig triggers.
type Action interface {
	Run(ctx context.Context) error
}

// PreTrigger is implemented by actions that start at rig deployment and
// are stopped at trigger time (tcpdump, watch, sos with initial_archive).
type PreTrigger interface {
	PreStart(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Prober is implemented by actions that can verify their feasibility at
// deployment, before polling begins. A probe error is fatal for deploy.
type Prober interface {
	Probe(ctx context.Context) error
}

// Recorder receives lifecycle events for the archive's metadata ledger.
type Recorder interface {
	Record(ctx context.Context, kind, component, detail string)
}

// Env carries the rig-wide surroundings a plugin instance operates in.
type Env struct {
	RigName     string
	WorkDir     string
	Interval    time.Duration
	Delay       time.Duration
	RepeatDelay time.Duration
	Logger      *slog.Logger
	Events      Recorder
}
