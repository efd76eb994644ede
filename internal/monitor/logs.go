package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mattjoyce/rig/internal/journal"
	"github.com/mattjoyce/rig/internal/plugin"
	"github.com/mattjoyce/rig/internal/tail"
)

// logsMonitor watches log files and journal units for lines matching a
// pattern. The match counter is shared across every watched source, so
// `count` applies to the combined stream.
type logsMonitor struct {
	pattern   *regexp.Regexp
	rawPat    string
	count     int
	filePaths []string
	journals  []string

	followers []*tail.Follower
	reader    *journal.Reader
	matches   int
	logger    *slog.Logger
}

func newLogs(opts plugin.Options, env *plugin.Env) (plugin.Monitor, error) {
	raw := opts.String("message")
	// patterns are anchored at the start of the line and matched
	// case-insensitively; lead with .* to match mid-line
	pattern, err := regexp.Compile("(?i)^(?:" + raw + ")")
	if err != nil {
		return nil, fmt.Errorf("'message' %q does not compile as a regular expression: %w", raw, err)
	}

	count := opts.Int("count")
	if count < 1 {
		return nil, fmt.Errorf("'count' must be at least 1, got %d", count)
	}

	m := &logsMonitor{
		pattern:   pattern,
		rawPat:    raw,
		count:     count,
		filePaths: opts.Strings("files"),
		journals:  opts.Strings("journals"),
		logger:    env.Logger.With("monitor", "logs"),
	}

	hasJournal := false
	for _, j := range m.journals {
		if j != "" {
			hasJournal = true
		}
	}
	if len(m.filePaths) == 0 && !hasJournal {
		return nil, fmt.Errorf("no files or journals to watch")
	}
	return m, nil
}

// Start opens each existing file at its end and positions the journal
// reader at tail. Files that do not exist yet are skipped silently.
func (m *logsMonitor) Start(ctx context.Context) error {
	for _, path := range m.filePaths {
		f, err := tail.Open(path)
		if err != nil {
			m.logger.Debug("skipping missing log file", "file", path, "error", err)
			continue
		}
		m.logger.Info("beginning watch of file", "file", path)
		m.followers = append(m.followers, f)
	}

	if len(m.journals) > 0 {
		units := make([]string, 0, len(m.journals))
		for _, j := range m.journals {
			if j != "system" {
				units = append(units, j)
			}
		}
		m.reader = journal.NewReader(units)
		if err := m.reader.SeekTail(ctx); err != nil {
			m.logger.Warn("journal unavailable, dropping journal sources", "error", err)
			m.reader = nil
		} else {
			m.logger.Info("beginning watch of journal", "units", m.journals)
		}
	}

	if len(m.followers) == 0 && m.reader == nil {
		m.logger.Warn("no watchable log sources exist; monitor cannot trip")
	}
	return nil
}

// Poll drains every source and counts matches. The monitor trips when
// the shared counter reaches the configured count.
func (m *logsMonitor) Poll(ctx context.Context) (*plugin.Trip, error) {
	for _, f := range m.followers {
		lines, err := f.Drain()
		if err != nil {
			m.logger.Debug("error draining file", "file", f.Path(), "error", err)
			continue
		}
		for _, line := range lines {
			if m.pattern.MatchString(strings.TrimSpace(line)) {
				m.matches++
				m.logger.Info("log message matches pattern",
					"file", f.Path(), "pattern", m.rawPat, "matches", m.matches)
				if m.matches >= m.count {
					return trip("logs", f.Path(), excerpt(line)), nil
				}
			}
		}
	}

	if m.reader != nil {
		lines, err := m.reader.Drain(ctx)
		if err != nil {
			m.logger.Debug("error draining journal", "error", err)
			return nil, nil
		}
		for _, line := range lines {
			if m.pattern.MatchString(strings.TrimSpace(line)) {
				m.matches++
				m.logger.Info("journal message matches pattern",
					"pattern", m.rawPat, "matches", m.matches)
				if m.matches >= m.count {
					return trip("logs", journalSource(m.journals), excerpt(line)), nil
				}
			}
		}
	}
	return nil, nil
}

func (m *logsMonitor) Describe() string {
	var sources []string
	sources = append(sources, m.filePaths...)
	for _, j := range m.journals {
		sources = append(sources, "journal:"+j)
	}
	return fmt.Sprintf("message %q in %s (count %d)", m.rawPat, strings.Join(sources, ", "), m.count)
}

// Stop closes all followers. Idempotent.
func (m *logsMonitor) Stop() {
	for _, f := range m.followers {
		f.Close()
	}
	m.followers = nil
	m.reader = nil
}

func journalSource(units []string) string {
	return "journal:" + strings.Join(units, ",")
}

// excerpt quotes a matched line for the trip evidence, bounded so status
// payloads stay small.
func excerpt(line string) string {
	line = strings.TrimSpace(line)
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	return fmt.Sprintf("%q", line)
}
