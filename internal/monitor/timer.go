package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/mattjoyce/rig/internal/plugin"
)

// timerMonitor trips once a fixed duration has elapsed since the rig
// started polling. Useful for bounded captures and for exercising rig
// configurations.
type timerMonitor struct {
	duration time.Duration
	deadline time.Time
}

func newTimer(opts plugin.Options, env *plugin.Env) (plugin.Monitor, error) {
	secs := opts.Int("duration")
	if secs < 1 {
		return nil, fmt.Errorf("'duration' must be at least 1 second")
	}
	return &timerMonitor{duration: time.Duration(secs) * time.Second}, nil
}

func (m *timerMonitor) Start(ctx context.Context) error {
	m.deadline = time.Now().Add(m.duration)
	return nil
}

func (m *timerMonitor) Poll(ctx context.Context) (*plugin.Trip, error) {
	if time.Now().Before(m.deadline) {
		return nil, nil
	}
	return trip("timer", "timer", fmt.Sprintf("%s elapsed", m.duration)), nil
}

func (m *timerMonitor) Describe() string {
	return fmt.Sprintf("%s elapsed", m.duration)
}

func (m *timerMonitor) Stop() {}
