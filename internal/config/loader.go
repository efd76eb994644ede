package config

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Load reads and validates a rigfile. Returned warnings are
// non-fatal adjustments (currently only interval clamping) the caller
// should surface to the operator.
func Load(path string) (*Rigfile, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read rigfile: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates rigfile content.
func Parse(data []byte) (*Rigfile, []string, error) {
	cfg := &Rigfile{
		Interval:    1,
		RepeatDelay: 1,
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, nil, fmt.Errorf("parse rigfile: %w", err)
	}

	warnings, err := validate(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, warnings, nil
}

func validate(cfg *Rigfile) ([]string, error) {
	var warnings []string

	if cfg.Interval < 1 {
		warnings = append(warnings,
			fmt.Sprintf("interval %d is below the 1s minimum, clamping to 1", cfg.Interval))
		cfg.Interval = 1
	}
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("'delay' must not be negative")
	}
	if cfg.Repeat < 0 {
		return nil, fmt.Errorf("'repeat' must not be negative")
	}
	if cfg.RepeatDelay < 0 {
		return nil, fmt.Errorf("'repeat_delay' must not be negative")
	}
	switch cfg.Codec {
	case "", "gz", "gzip", "zst", "zstd":
	default:
		return nil, fmt.Errorf("unknown archive codec %q (want gz or zst)", cfg.Codec)
	}
	if cfg.Name != "" && !namePattern.MatchString(cfg.Name) {
		return nil, fmt.Errorf("rig name %q is not usable (want lowercase letters, digits, - or _)", cfg.Name)
	}
	if len(cfg.Monitors) == 0 {
		return nil, fmt.Errorf("rigfile must configure at least one monitor")
	}
	if len(cfg.Actions) == 0 {
		return nil, fmt.Errorf("rigfile must configure at least one action")
	}

	seen := map[string]bool{}
	for _, m := range cfg.Monitors {
		if seen[m.Name] {
			return nil, fmt.Errorf("monitor %q configured twice", m.Name)
		}
		seen[m.Name] = true
	}
	seen = map[string]bool{}
	for _, a := range cfg.Actions {
		if seen[a.Name] {
			return nil, fmt.Errorf("action %q configured twice", a.Name)
		}
		seen[a.Name] = true
	}
	return warnings, nil
}

// GenerateName produces a random rig name in the same shape the tool
// has always used: five lowercase letters.
func GenerateName() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	out := make([]byte, 5)
	for i := range out {
		out[i] = letters[rand.IntN(len(letters))]
	}
	return string(out)
}
