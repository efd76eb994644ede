// Package journal reads the systemd journal through journalctl with a
// persistent cursor, so each poll drains exactly the entries appended
// since the previous one. journalctl is used instead of the C journal
// bindings: it is present on every host rig supports and keeps the
// binary free of cgo.
package journal

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const journalctlTimeout = 30 * time.Second

// Reader drains journal entries for a set of units (or the full journal)
// from a fixed starting point forward.
type Reader struct {
	units  []string
	cursor string
}

// NewReader prepares a reader filtered to the given units. An empty unit
// list reads the entire journal. Unit names without a dot gain the
// ".service" suffix, matching what journald records.
func NewReader(units []string) *Reader {
	normalized := make([]string, 0, len(units))
	for _, u := range units {
		if u == "" || u == "system" {
			continue
		}
		if !strings.Contains(u, ".") {
			u += ".service"
		}
		normalized = append(normalized, u)
	}
	return &Reader{units: normalized}
}

// SeekTail positions the reader at the current end of the journal, so
// only entries logged after deployment are ever returned.
func (r *Reader) SeekTail(ctx context.Context) error {
	args := append(r.matchArgs(), "-n", "1", "--quiet", "--show-cursor", "-o", "cat")
	out, err := r.run(ctx, args)
	if err != nil {
		return fmt.Errorf("seek journal tail: %w", err)
	}
	r.cursor = extractCursor(out)
	return nil
}

// Drain returns the MESSAGE field of every entry appended since the
// previous drain (or since SeekTail).
func (r *Reader) Drain(ctx context.Context) ([]string, error) {
	args := r.matchArgs()
	if r.cursor != "" {
		args = append(args, "--after-cursor", r.cursor)
	} else {
		// no cursor means the journal was empty at seek time
		args = append(args, "-b")
	}
	args = append(args, "--quiet", "--show-cursor", "-o", "cat")
	out, err := r.run(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("drain journal: %w", err)
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if cur, ok := strings.CutPrefix(line, "-- cursor: "); ok {
			r.cursor = strings.TrimSpace(cur)
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// Units returns the configured unit filter.
func (r *Reader) Units() []string { return r.units }

func (r *Reader) matchArgs() []string {
	args := []string{"--no-pager"}
	for _, u := range r.units {
		args = append(args, "-u", u)
	}
	return args
}

func (r *Reader) run(ctx context.Context, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, journalctlTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "journalctl", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("journalctl: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func extractCursor(out []byte) string {
	for _, line := range strings.Split(string(out), "\n") {
		if cur, ok := strings.CutPrefix(line, "-- cursor: "); ok {
			return strings.TrimSpace(cur)
		}
	}
	return ""
}
