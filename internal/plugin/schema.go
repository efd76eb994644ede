package plugin

import (
	"fmt"
	"sort"
	"strconv"
)

// Kind is the declared type of a schema field.
type Kind string

const (
	// String accepts a YAML scalar string.
	String Kind = "string"
	// Int accepts an integer.
	Int Kind = "int"
	// Float accepts an integer or float.
	Float Kind = "float"
	// Bool accepts a boolean.
	Bool Kind = "bool"
	// Size accepts a byte count, either as an integer or as a string
	// with a binary-unit suffix ("512K", "2G").
	Size Kind = "size"
	// Strings accepts a single string or a list of strings. A null
	// value is kept as an explicit empty list so plugins can tell
	// "disabled" apart from "defaulted".
	Strings Kind = "strings"
	// List accepts a YAML sequence of arbitrary values.
	List Kind = "list"
	// Map accepts a YAML mapping of arbitrary values. A bare `true` or
	// "enabled" scalar is normalized to an empty map.
	Map Kind = "map"
)

// Field describes one configurable option of a plugin.
type Field struct {
	Kind     Kind
	Required bool
	Default  any
}

// Schema maps option names to their field descriptors.
type Schema map[string]Field

// Validate checks raw option values against the schema: unknown fields
// are rejected, required fields must be present, values are coerced to
// the declared kind, and defaults fill the gaps. All problems are
// collected before reporting so a bad rigfile surfaces every issue at
// once.
func (s Schema) Validate(plugin string, raw map[string]any) (Options, error) {
	var issues []string
	opts := make(Options, len(s))

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		field, ok := s[name]
		if !ok {
			issues = append(issues, fmt.Sprintf("unknown field %q", name))
			continue
		}
		val, err := coerce(field.Kind, raw[name])
		if err != nil {
			issues = append(issues, fmt.Sprintf("field %q: %v", name, err))
			continue
		}
		opts[name] = val
	}

	fields := make([]string, 0, len(s))
	for name := range s {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	for _, name := range fields {
		if _, set := opts[name]; set {
			continue
		}
		field := s[name]
		if _, given := raw[name]; given {
			// present but failed coercion; already reported
			continue
		}
		if field.Required {
			issues = append(issues, fmt.Sprintf("required field %q missing", name))
			continue
		}
		if field.Default != nil {
			val, err := coerce(field.Kind, field.Default)
			if err != nil {
				return nil, fmt.Errorf("%s: bad default for %q: %w", plugin, name, err)
			}
			opts[name] = val
		}
	}

	if len(issues) > 0 {
		return nil, fmt.Errorf("%s: %s", plugin, joinIssues(issues))
	}
	return opts, nil
}

func joinIssues(issues []string) string {
	out := issues[0]
	for _, i := range issues[1:] {
		out += "; " + i
	}
	return out
}

func coerce(kind Kind, v any) (any, error) {
	switch kind {
	case String:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string, not %T", v)
		}
		return s, nil
	case Int:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		}
		return nil, fmt.Errorf("must be an integer, not %T", v)
	case Float:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		}
		return nil, fmt.Errorf("must be a number, not %T", v)
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("must be a boolean, not %T", v)
		}
		return b, nil
	case Size:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case string:
			return ParseSize(n)
		}
		return nil, fmt.Errorf("must be a byte size, not %T", v)
	case Strings:
		switch val := v.(type) {
		case nil:
			return []string{}, nil
		case string:
			return []string{val}, nil
		case int:
			return []string{strconv.Itoa(val)}, nil
		case []any:
			out := make([]string, 0, len(val))
			for _, item := range val {
				switch s := item.(type) {
				case string:
					out = append(out, s)
				case int:
					out = append(out, strconv.Itoa(s))
				default:
					return nil, fmt.Errorf("must be a string or list of strings, got %T element", item)
				}
			}
			return out, nil
		case []string:
			return val, nil
		}
		return nil, fmt.Errorf("must be a string or list of strings, not %T", v)
	case List:
		switch val := v.(type) {
		case []any:
			return val, nil
		case nil:
			return []any{}, nil
		}
		return nil, fmt.Errorf("must be a list, not %T", v)
	case Map:
		switch val := v.(type) {
		case map[string]any:
			return val, nil
		case bool:
			if val {
				return map[string]any{}, nil
			}
			return nil, fmt.Errorf("explicitly disabled")
		case string:
			if val == "enabled" || val == "on" || val == "true" {
				return map[string]any{}, nil
			}
			return nil, fmt.Errorf("must be a mapping or 'enabled', not %q", val)
		case nil:
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("must be a mapping, not %T", v)
	}
	return nil, fmt.Errorf("unhandled field kind %q", kind)
}
