package control

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry is one discovered rig socket. Live entries answered a ping;
// stale entries are socket files nothing listens on.
type Entry struct {
	Name   string
	Path   string
	Live   bool
	Status *Status
}

// Discover enumerates the socket directory, pings every socket, and
// classifies each as live or stale. Live entries carry a status
// snapshot. A missing directory yields an empty result, not an error.
func Discover() ([]Entry, error) {
	files, err := os.ReadDir(SocketDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sock") {
			continue
		}
		name := strings.TrimSuffix(f.Name(), ".sock")
		entry := Entry{Name: name, Path: filepath.Join(SocketDir(), f.Name())}

		conn := DialPath(entry.Path)
		if ack, err := SendAck(conn, &Request{Op: OpPing}); err == nil && ack.Ok {
			entry.Live = true
			if status, err := SendStatus(conn); err == nil {
				entry.Status = status
			}
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
