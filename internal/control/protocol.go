// Package control is the per-rig control plane: a newline-delimited
// JSON request/response protocol over a Unix stream socket at
// <socket dir>/<name>.sock, the server each rig binds, the client the
// admin commands speak through, and discovery across the socket
// directory.
package control

import (
	"os"
	"path/filepath"
)

// DefaultSocketDir is the well-known directory holding one control
// socket per live rig. Overridable through RIG_SOCK_DIR, chiefly for
// tests.
const DefaultSocketDir = "/var/run/rig"

// SocketDir returns the effective control-socket directory.
func SocketDir() string {
	if dir := os.Getenv("RIG_SOCK_DIR"); dir != "" {
		return dir
	}
	return DefaultSocketDir
}

// SocketPath is the deterministic socket path for a rig name.
func SocketPath(name string) string {
	return filepath.Join(SocketDir(), name+".sock")
}

// Ops understood by every rig.
const (
	OpStatus  = "status"
	OpInfo    = "info"
	OpPing    = "ping"
	OpDestroy = "destroy"
	OpTrigger = "trigger"
)

// Request is one control-plane request line.
type Request struct {
	Op    string `json:"op"`
	Force bool   `json:"force,omitempty"`
}

// Ack is the acknowledgement reply used by ping, destroy, trigger, and
// every failure. Ops with richer replies (status, info) answer with
// their own document instead.
type Ack struct {
	Ok  bool   `json:"ok"`
	Err string `json:"err,omitempty"`
}

// MemberState names one monitor or action and its current state.
type MemberState struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Status is the payload answering {"op":"status"}.
type Status struct {
	Name          string        `json:"name"`
	PID           int           `json:"pid"`
	Phase         string        `json:"phase"`
	UptimeSecs    int64         `json:"uptime_s"`
	TriggerSource string        `json:"trigger_source,omitempty"`
	Monitors      []MemberState `json:"monitors"`
	Actions       []MemberState `json:"actions"`
}

// Info is the payload answering {"op":"info"}: everything Status has
// plus the full monitor/action descriptions and creation time.
type Info struct {
	Status
	Created     string            `json:"created"`
	Interval    int               `json:"interval"`
	Delay       int               `json:"delay"`
	NoArchive   bool              `json:"no_archive"`
	Descriptors map[string]string `json:"descriptors"`
}
