// Package monitor implements the built-in monitor plugins: logs,
// process, filesystem, and timer. Each monitor is configured from
// validated options, started once, polled on every tick of the rig
// clock, and latches its trip record the first time its condition is
// observed true.
package monitor

import (
	"time"

	"github.com/mattjoyce/rig/internal/plugin"
)

// Specs returns the monitor plugin table registered at startup.
func Specs() []plugin.MonitorSpec {
	return []plugin.MonitorSpec{
		{
			Name: "logs",
			Schema: plugin.Schema{
				"message":  {Kind: plugin.String, Required: true},
				"count":    {Kind: plugin.Int, Default: 1},
				"files":    {Kind: plugin.Strings, Default: "/var/log/messages"},
				"journals": {Kind: plugin.Strings, Default: "system"},
			},
			New: newLogs,
		},
		{
			Name: "process",
			Schema: plugin.Schema{
				"procs":          {Kind: plugin.Strings, Required: true},
				"cpu_percent":    {Kind: plugin.Float},
				"memory_percent": {Kind: plugin.Float},
				"rss":            {Kind: plugin.Size},
				"vms":            {Kind: plugin.Size},
				"state":          {Kind: plugin.String},
			},
			New: newProcess,
		},
		{
			Name: "filesystem",
			Schema: plugin.Schema{
				"path":      {Kind: plugin.String, Required: true},
				"size":      {Kind: plugin.Size},
				"used_perc": {Kind: plugin.Int},
				"used_size": {Kind: plugin.Size},
			},
			New: newFilesystem,
		},
		{
			Name: "timer",
			Schema: plugin.Schema{
				"duration": {Kind: plugin.Int, Required: true},
			},
			New: newTimer,
		},
	}
}

// trip builds a latched trip record for a monitor.
func trip(monitor, source, evidence string) *plugin.Trip {
	return &plugin.Trip{
		Monitor:  monitor,
		Source:   source,
		Evidence: evidence,
		At:       time.Now(),
	}
}
