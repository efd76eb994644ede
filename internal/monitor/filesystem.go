package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattjoyce/rig/internal/host"
	"github.com/mattjoyce/rig/internal/plugin"
)

// filesystemMonitor watches a path's size and/or its backing
// filesystem's utilization. Any configured threshold being met trips
// the rig.
type filesystemMonitor struct {
	path     string
	size     int64
	usedPerc int
	usedSize int64
	logger   *slog.Logger
}

func newFilesystem(opts plugin.Options, env *plugin.Env) (plugin.Monitor, error) {
	m := &filesystemMonitor{
		path:     opts.String("path"),
		size:     opts.Size("size"),
		usedPerc: opts.Int("used_perc"),
		usedSize: opts.Size("used_size"),
		logger:   env.Logger.With("monitor", "filesystem"),
	}
	if m.size == 0 && m.usedPerc == 0 && m.usedSize == 0 {
		return nil, fmt.Errorf("must set at least one of 'size', 'used_perc', 'used_size'")
	}
	if m.usedPerc < 0 || m.usedPerc > 100 {
		return nil, fmt.Errorf("'used_perc' must be between 0 and 100")
	}
	if _, err := os.Stat(m.path); err != nil {
		return nil, fmt.Errorf("path %q does not exist", m.path)
	}
	return m, nil
}

func (m *filesystemMonitor) Start(ctx context.Context) error {
	m.logger.Info("beginning watch of path", "path", m.path)
	return nil
}

func (m *filesystemMonitor) Poll(ctx context.Context) (*plugin.Trip, error) {
	if m.size > 0 {
		cur, err := host.PathSize(m.path)
		if err != nil {
			m.logger.Debug("error measuring path", "path", m.path, "error", err)
		} else if cur >= m.size {
			return trip("filesystem", m.path,
				fmt.Sprintf("size %s meets threshold %s",
					humanize.IBytes(uint64(cur)), humanize.IBytes(uint64(m.size)))), nil
		}
	}

	if m.usedPerc > 0 || m.usedSize > 0 {
		usage, err := host.FilesystemUsage(m.path)
		if err != nil {
			m.logger.Debug("error measuring filesystem", "path", m.path, "error", err)
			return nil, nil
		}
		if m.usedPerc > 0 && usage.UsedPercent >= float64(m.usedPerc) {
			return trip("filesystem", m.path,
				fmt.Sprintf("filesystem %.0f%% used, meets threshold %d%%",
					usage.UsedPercent, m.usedPerc)), nil
		}
		if m.usedSize > 0 && int64(usage.Used) >= m.usedSize {
			return trip("filesystem", m.path,
				fmt.Sprintf("filesystem %s used, meets threshold %s",
					humanize.IBytes(usage.Used), humanize.IBytes(uint64(m.usedSize)))), nil
		}
	}
	return nil, nil
}

func (m *filesystemMonitor) Describe() string {
	var preds []string
	if m.size > 0 {
		preds = append(preds, fmt.Sprintf("size >= %s", humanize.IBytes(uint64(m.size))))
	}
	if m.usedPerc > 0 {
		preds = append(preds, fmt.Sprintf("used >= %d%%", m.usedPerc))
	}
	if m.usedSize > 0 {
		preds = append(preds, fmt.Sprintf("used >= %s", humanize.IBytes(uint64(m.usedSize))))
	}
	return fmt.Sprintf("%s: %s", m.path, strings.Join(preds, ", "))
}

func (m *filesystemMonitor) Stop() {}
