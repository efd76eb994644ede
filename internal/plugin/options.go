package plugin

import (
	"fmt"
	"strconv"
	"strings"
)

// Options holds validated, coerced option values for one plugin
// instance. Getters assume Validate has already enforced the kinds.
type Options map[string]any

// String returns the named string option, or "" if unset.
func (o Options) String(name string) string {
	s, _ := o[name].(string)
	return s
}

// Int returns the named integer option, or 0 if unset.
func (o Options) Int(name string) int {
	n, _ := o[name].(int)
	return n
}

// Float returns the named float option, or 0 if unset.
func (o Options) Float(name string) float64 {
	f, _ := o[name].(float64)
	return f
}

// Bool returns the named boolean option.
func (o Options) Bool(name string) bool {
	b, _ := o[name].(bool)
	return b
}

// Size returns the named byte-size option, or 0 if unset.
func (o Options) Size(name string) int64 {
	n, _ := o[name].(int64)
	return n
}

// Strings returns the named string-list option, or nil if unset.
func (o Options) Strings(name string) []string {
	l, _ := o[name].([]string)
	return l
}

// List returns the named list option, or nil if unset.
func (o Options) List(name string) []any {
	l, _ := o[name].([]any)
	return l
}

// Map returns the named mapping option, or nil if unset.
func (o Options) Map(name string) map[string]any {
	m, _ := o[name].(map[string]any)
	return m
}

// Has reports whether the option was set (including by default).
func (o Options) Has(name string) bool {
	v, ok := o[name]
	return ok && v != nil
}

// sizeUnits is the binary unit table rig sizes use. These are power-of-two
// units (K = 1024), not the SI units most humanize-style parsers assume.
var sizeUnits = map[byte]int64{
	'B': 1,
	'K': 1 << 10,
	'M': 1 << 20,
	'G': 1 << 30,
	'T': 1 << 40,
	'P': 1 << 50,
}

// ParseSize parses a human-friendly size string ("512K", "2G", "100")
// into a byte count. A bare number is taken as bytes.
func ParseSize(val string) (int64, error) {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, fmt.Errorf("empty size value")
	}
	unit := int64(1)
	last := strings.ToUpper(val)[len(val)-1]
	if mult, ok := sizeUnits[last]; ok {
		unit = mult
		val = val[:len(val)-1]
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", val)
	}
	return int64(n * float64(unit)), nil
}
