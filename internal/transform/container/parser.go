// Package container converts queued container documents into models.Container.
package container

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"soarbook/internal/logger"
	"soarbook/pkg/models"
)

// Parse decodes a container document. Both the flat form
// ({"id":..,"artifacts":[..]}) and the wrapped export form
// ({"container":{..,"artifacts":[..]}}) are accepted. Numeric IDs are
// rendered as strings; artifacts without an ID get a positional one.
func Parse(data []byte) (*models.Container, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if inner, ok := raw["container"].(map[string]interface{}); ok {
		if _, has := inner["artifacts"]; !has {
			if arts, ok := raw["artifacts"]; ok {
				inner["artifacts"] = arts
			}
		}
		raw = inner
	}

	c := &models.Container{
		ID:       getString(raw, "id", "container_id"),
		Name:     getString(raw, "name"),
		Label:    getString(raw, "label"),
		Severity: getString(raw, "severity"),
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
		logger.Warnf("Container without id, assigned %s", c.ID)
	}

	v, ok := getPath(raw, "artifacts")
	if !ok || v == nil {
		return c, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("container %s: artifacts must be a list", c.ID)
	}

	seen := make(map[string]struct{}, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("container %s: artifact #%d is not an object", c.ID, i+1)
		}
		a := &models.Artifact{
			ID:       getString(m, "id", "artifact_id"),
			Name:     getString(m, "name"),
			Label:    getString(m, "label"),
			Type:     getString(m, "type"),
			Severity: getString(m, "severity"),
		}
		if a.ID == "" {
			a.ID = fmt.Sprintf("%s-%d", c.ID, i+1)
		}
		if _, dup := seen[a.ID]; dup {
			return nil, fmt.Errorf("container %s: artifact id %q appears more than once", c.ID, a.ID)
		}
		seen[a.ID] = struct{}{}
		for _, key := range []string{"cef", "cef_data"} {
			if cef, ok := m[key].(map[string]interface{}); ok {
				a.CEF = cef
				break
			}
		}
		if len(a.CEF) == 0 {
			logger.Debugf("Artifact %s in container %s has no cef fields", a.ID, c.ID)
		}
		c.Artifacts = append(c.Artifacts, a)
	}
	return c, nil
}

func getString(root map[string]interface{}, paths ...string) string {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case string:
				if s := strings.TrimSpace(val); s != "" {
					return s
				}
			case float64, int, int64, json.Number:
				return models.FormatValue(val)
			}
		}
	}
	return ""
}

func getPath(root map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = root
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}
