package rig

import (
	"os"
	"path/filepath"

	"github.com/mattjoyce/rig/internal/action"
	"github.com/mattjoyce/rig/internal/monitor"
	"github.com/mattjoyce/rig/internal/plugin"
)

// DefaultWorkDirBase is the well-known parent of every rig working
// directory. Overridable through RIG_TMP_DIR, chiefly for tests.
const DefaultWorkDirBase = "/var/tmp/rig"

// WorkDirBase returns the effective working-directory parent.
func WorkDirBase() string {
	if dir := os.Getenv("RIG_TMP_DIR"); dir != "" {
		return dir
	}
	return DefaultWorkDirBase
}

// WorkDir is the deterministic working directory for a rig name.
func WorkDir(name string) string {
	return filepath.Join(WorkDirBase(), name)
}

// BuiltinRegistry assembles the compiled-in plugin tables. The result
// is immutable after return.
func BuiltinRegistry() *plugin.Registry {
	reg := plugin.NewRegistry()
	for _, spec := range monitor.Specs() {
		if err := reg.AddMonitor(spec); err != nil {
			panic(err)
		}
	}
	for _, spec := range action.Specs() {
		if err := reg.AddAction(spec); err != nil {
			panic(err)
		}
	}
	return reg
}
