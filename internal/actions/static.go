package actions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"soarbook/pkg/models"
)

// Fixture is a canned connector response. Match lists parameter values that
// must all be equal for the fixture to apply; an empty Match applies to every
// call of the action.
type Fixture struct {
	Action  string                   `yaml:"action"`
	Match   map[string]string        `yaml:"match"`
	Fail    string                   `yaml:"fail"`
	Message string                   `yaml:"message"`
	Data    []map[string]interface{} `yaml:"data"`
	Summary map[string]interface{}   `yaml:"summary"`
}

// Static answers from fixtures. It backs dry runs and tests.
type Static struct {
	fixtures []Fixture
}

// NewStatic creates a static connector.
func NewStatic(fixtures []Fixture) *Static {
	return &Static{fixtures: fixtures}
}

// LoadStatic reads fixtures from a YAML file with a top-level fixtures list.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var doc struct {
		Fixtures []Fixture `yaml:"fixtures"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	for i, f := range doc.Fixtures {
		if strings.TrimSpace(f.Action) == "" {
			return nil, fmt.Errorf("fixture #%d in %s: action is required", i+1, path)
		}
	}
	return NewStatic(doc.Fixtures), nil
}

// Run returns the first fixture matching the action and parameters.
func (s *Static) Run(_ context.Context, action string, params map[string]interface{}) (*models.ActionOutput, error) {
	for _, f := range s.fixtures {
		if !strings.EqualFold(f.Action, action) || !f.matches(params) {
			continue
		}
		if f.Fail != "" {
			return nil, errors.New(f.Fail)
		}
		return &models.ActionOutput{
			Message: f.Message,
			Data:    copyRows(f.Data),
			Summary: copyMap(f.Summary),
		}, nil
	}
	return nil, fmt.Errorf("%w: no fixture for %q with %v", ErrUnsupportedAction, action, params)
}

func (f Fixture) matches(params map[string]interface{}) bool {
	for k, want := range f.Match {
		v, ok := params[k]
		if !ok || models.FormatValue(v) != want {
			return false
		}
	}
	return true
}

func copyRows(rows []map[string]interface{}) []map[string]interface{} {
	if rows == nil {
		return nil
	}
	out := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		out[i] = copyMap(row)
	}
	return out
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
