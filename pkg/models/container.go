package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Container is the incident a playbook runs against.
type Container struct {
	ID        string      `json:"id"`
	Name      string      `json:"name,omitempty"`
	Label     string      `json:"label,omitempty"`
	Severity  string      `json:"severity,omitempty"`
	Artifacts []*Artifact `json:"artifacts"`
}

// Artifact is one observable attached to a container.
type Artifact struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name,omitempty"`
	Label    string                 `json:"label,omitempty"`
	Type     string                 `json:"type,omitempty"`
	Severity string                 `json:"severity,omitempty"`
	CEF      map[string]interface{} `json:"cef,omitempty"`
}

// Artifact returns the artifact with the given ID.
func (c *Container) Artifact(id string) (*Artifact, bool) {
	if c == nil {
		return nil, false
	}
	for _, a := range c.Artifacts {
		if a != nil && a.ID == id {
			return a, true
		}
	}
	return nil, false
}

// Lookup returns the value at a dotted field path such as "cef.fileHashSha256".
func (a *Artifact) Lookup(path []string) (interface{}, bool) {
	if a == nil || len(path) == 0 {
		return nil, false
	}
	switch path[0] {
	case "id":
		return a.ID, len(path) == 1
	case "name":
		return a.Name, len(path) == 1
	case "label":
		return a.Label, len(path) == 1
	case "type":
		return a.Type, len(path) == 1
	case "severity":
		return a.Severity, len(path) == 1
	case "cef":
		if a.CEF == nil {
			return nil, false
		}
		return Dig(a.CEF, path[1:])
	}
	return nil, false
}

// Field returns a field value formatted as a string.
func (a *Artifact) Field(path string) string {
	v, ok := a.Lookup(strings.Split(path, "."))
	if !ok {
		return ""
	}
	return FormatValue(v)
}

// Dig walks nested maps and slices. Numeric segments index into slices.
func Dig(root interface{}, path []string) (interface{}, bool) {
	current := root
	for _, part := range path {
		switch node := current.(type) {
		case map[string]interface{}:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		case []string:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		case []map[string]interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// IsEmpty reports whether a resolved value carries nothing usable.
func IsEmpty(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []interface{}:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	}
	return false
}

// FormatValue renders a value the way it is shown to analysts and compared textually.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}
