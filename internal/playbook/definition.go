package playbook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"soarbook/pkg/models"
)

// Definition is the YAML form of a playbook.
type Definition struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Defaults    Defaults  `yaml:"defaults"`
	Nodes       []NodeDef `yaml:"nodes"`
}

// Defaults are fallback options for prompt nodes.
type Defaults struct {
	PromptUser    string `yaml:"prompt_user"`
	RespondInMins int    `yaml:"respond_in_mins"`
}

// NodeDef declares one node. Which fields apply depends on Type.
type NodeDef struct {
	Name string   `yaml:"name"`
	Type string   `yaml:"type"`
	Next []string `yaml:"next"`

	// action
	Action     string     `yaml:"action"`
	Asset      string     `yaml:"asset"`
	Parameters []ParamDef `yaml:"parameters"`

	// filter
	Branches []BranchDef `yaml:"branches"`

	// prompt
	User          string                  `yaml:"user"`
	Message       string                  `yaml:"message"`
	Responses     []models.PromptQuestion `yaml:"responses"`
	RespondInMins int                     `yaml:"respond_in_mins"`
	RespondIn     time.Duration           `yaml:"respond_in"`

	// join
	WaitFor            []string `yaml:"wait_for"`
	SkipWhenAllSkipped bool     `yaml:"skip_when_all_skipped"`
}

// ParamDef is a named datapath. Prompt parameters may be written as bare strings.
type ParamDef struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// UnmarshalYAML accepts either a mapping or a scalar datapath.
func (p *ParamDef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p.Path = value.Value
		return nil
	}
	type plain ParamDef
	var out plain
	if err := value.Decode(&out); err != nil {
		return err
	}
	*p = ParamDef(out)
	return nil
}

// BranchDef is one independent condition block of a filter.
type BranchDef struct {
	Name       string         `yaml:"name"`
	Logic      string         `yaml:"logic"`
	Conditions []ConditionDef `yaml:"conditions"`
	Next       []string       `yaml:"next"`
}

// ConditionDef is a (path, op, value) triple or a (path, when) expression.
type ConditionDef struct {
	Path  string      `yaml:"path"`
	Op    string      `yaml:"op"`
	Value interface{} `yaml:"value"`
	When  string      `yaml:"when"`
}

// Load reads and compiles a playbook file.
func Load(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbook: %w", err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	if def.Name == "" {
		base := filepath.Base(path)
		def.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return Compile(def)
}

// Parse decodes and compiles a playbook document.
func Parse(data []byte) (*Playbook, error) {
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	return Compile(def)
}

// ParseDefinition decodes a playbook document and applies defaults.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse playbook: %w", err)
	}
	applyDefaults(&def)
	return &def, nil
}

func applyDefaults(def *Definition) {
	if strings.TrimSpace(def.Defaults.PromptUser) == "" {
		def.Defaults.PromptUser = "admin"
	}
	if def.Defaults.RespondInMins <= 0 {
		def.Defaults.RespondInMins = 30
	}
	for i := range def.Nodes {
		n := &def.Nodes[i]
		n.Name = strings.TrimSpace(n.Name)
		n.Type = strings.ToLower(strings.TrimSpace(n.Type))
		n.Next = cleanNames(n.Next)
		n.WaitFor = cleanNames(n.WaitFor)
		for j := range n.Branches {
			n.Branches[j].Next = cleanNames(n.Branches[j].Next)
			if n.Branches[j].Name == "" {
				n.Branches[j].Name = fmt.Sprintf("condition_%d", j+1)
			}
		}
		for j := range n.Parameters {
			if n.Parameters[j].Name == "" {
				n.Parameters[j].Name = fmt.Sprintf("param_%d", j+1)
			}
		}
		if n.Type != string(TypePrompt) {
			continue
		}
		if strings.TrimSpace(n.User) == "" {
			n.User = def.Defaults.PromptUser
		}
		if n.RespondIn <= 0 {
			mins := n.RespondInMins
			if mins <= 0 {
				mins = def.Defaults.RespondInMins
			}
			n.RespondIn = time.Duration(mins) * time.Minute
		}
		if len(n.Responses) == 0 {
			n.Responses = []models.PromptQuestion{{Type: models.ResponseMessage}}
		}
		for j := range n.Responses {
			q := &n.Responses[j]
			q.Type = strings.ToLower(strings.TrimSpace(q.Type))
			if q.Type == "" {
				if len(q.Choices) > 0 {
					q.Type = models.ResponseList
				} else {
					q.Type = models.ResponseMessage
				}
			}
		}
	}
}

func cleanNames(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
