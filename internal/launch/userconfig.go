package launch

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// UserConfig is the subset of .aider.conf.yml the bridge acts on. Unknown
// keys are left for aider itself, which reads the same file.
type UserConfig struct {
	EditFormat         string       `yaml:"edit-format"`
	ShowDiffs          bool         `yaml:"show-diffs"`
	RestoreChatHistory bool         `yaml:"restore-chat-history"`
	SetEnv             EnvOverrides `yaml:"set-env"`
	ExtraModels        []Model      `yaml:"extra-models"`
}

// Model is a display entry for the model picker.
type Model struct {
	Name string `yaml:"name" json:"name"`
	ID   string `yaml:"id" json:"id"`
}

// UnmarshalYAML accepts either a bare model id or a {name, id} mapping.
func (m *Model) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		m.ID = strings.TrimSpace(node.Value)
		m.Name = m.ID
		return nil
	}
	type plain Model
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	if p.ID == "" {
		return fmt.Errorf("line %d: extra model needs an id", node.Line)
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	*m = Model(p)
	return nil
}

// EnvOverrides accepts aider's list form (- KEY=VALUE) as well as a plain
// mapping.
type EnvOverrides map[string]string

func (e *EnvOverrides) UnmarshalYAML(node *yaml.Node) error {
	out := make(EnvOverrides)
	switch node.Kind {
	case yaml.MappingNode:
		var m map[string]string
		if err := node.Decode(&m); err != nil {
			return err
		}
		for k, v := range m {
			out[k] = v
		}
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		for _, item := range items {
			k, v, ok := strings.Cut(item, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return fmt.Errorf("line %d: set-env entry %q is not KEY=VALUE", node.Line, item)
			}
			out[strings.TrimSpace(k)] = v
		}
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			break
		}
		k, v, ok := strings.Cut(node.Value, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("line %d: set-env entry %q is not KEY=VALUE", node.Line, node.Value)
		}
		out[strings.TrimSpace(k)] = v
	default:
		return fmt.Errorf("line %d: unsupported set-env value", node.Line)
	}
	*e = out
	return nil
}

// ParseUserConfig decodes a .aider.conf.yml document. An empty document
// yields the zero config.
func ParseUserConfig(data []byte) (*UserConfig, error) {
	cfg := &UserConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse aider config: %w", err)
	}
	return cfg, nil
}

func (c *UserConfig) args() []string {
	var args []string
	if c.EditFormat != "" {
		args = append(args, "--edit-format", c.EditFormat)
	}
	if c.ShowDiffs {
		args = append(args, "--show-diffs")
	}
	if c.RestoreChatHistory {
		args = append(args, "--restore-chat-history")
	}
	return args
}
