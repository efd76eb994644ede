// Package config loads and validates rigfiles: the YAML documents
// declaring a rig's monitors and actions. Unknown top-level keys are
// rejected here; unknown per-plugin fields are rejected by the plugin
// schemas at registry validation time.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Rigfile is the parsed configuration document for one rig.
type Rigfile struct {
	Name        string       `yaml:"name"`
	Interval    int          `yaml:"interval"`
	Delay       int          `yaml:"delay"`
	Repeat      int          `yaml:"repeat"`
	RepeatDelay int          `yaml:"repeat_delay"`
	NoArchive   bool         `yaml:"no_archive"`
	Codec       string       `yaml:"codec"`
	Debug       bool         `yaml:"debug"`
	Monitors    PluginBlocks `yaml:"monitors"`
	Actions     PluginBlocks `yaml:"actions"`
}

// PluginBlock is one configured plugin: its registry name and raw
// option values.
type PluginBlock struct {
	Name    string
	Options map[string]any
}

// PluginBlocks preserves the rigfile's declaration order, which breaks
// priority ties when actions run.
type PluginBlocks []PluginBlock

// UnmarshalYAML decodes a mapping node while keeping key order. A null
// plugin value is an empty option set.
func (b *PluginBlocks) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping of plugin names", node.Line)
	}
	for i := 0; i < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		block := PluginBlock{Name: keyNode.Value, Options: map[string]any{}}
		switch valNode.Kind {
		case yaml.MappingNode:
			if err := valNode.Decode(&block.Options); err != nil {
				return fmt.Errorf("plugin %q: %w", block.Name, err)
			}
		case yaml.ScalarNode:
			if valNode.Tag != "!!null" {
				return fmt.Errorf("plugin %q: options must be a mapping", block.Name)
			}
		default:
			return fmt.Errorf("plugin %q: options must be a mapping", block.Name)
		}
		*b = append(*b, block)
	}
	return nil
}

// Names returns the plugin names in declaration order.
func (b PluginBlocks) Names() []string {
	names := make([]string, 0, len(b))
	for _, block := range b {
		names = append(names, block.Name)
	}
	return names
}
