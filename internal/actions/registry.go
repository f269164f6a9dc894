// Package actions maps playbook assets to the connectors that execute their
// actions.
package actions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"soarbook/pkg/models"
)

var (
	// ErrUnknownAsset is returned for an asset with no registered connector.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrUnsupportedAction is returned by connectors that cannot run an action.
	ErrUnsupportedAction = errors.New("unsupported action")
)

// Connector runs actions against one external integration.
type Connector interface {
	Run(ctx context.Context, action string, params map[string]interface{}) (*models.ActionOutput, error)
}

// Registry looks connectors up by asset name.
type Registry struct {
	mu     sync.RWMutex
	assets map[string]Connector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{assets: make(map[string]Connector)}
}

// Register binds a connector to an asset name.
func (r *Registry) Register(asset string, c Connector) error {
	asset = strings.TrimSpace(asset)
	if asset == "" {
		return fmt.Errorf("asset name is required")
	}
	if c == nil {
		return fmt.Errorf("asset %q: connector is nil", asset)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.assets[asset]; dup {
		return fmt.Errorf("asset %q registered more than once", asset)
	}
	r.assets[asset] = c
	return nil
}

// Invoke runs action on the connector registered for asset.
func (r *Registry) Invoke(ctx context.Context, asset, action string, params map[string]interface{}) (*models.ActionOutput, error) {
	r.mu.RLock()
	c, ok := r.assets[asset]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownAsset, asset)
	}
	out, err := c.Run(ctx, action, params)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", action, asset, err)
	}
	return out, nil
}

// Assets lists registered asset names.
func (r *Registry) Assets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.assets))
	for name := range r.assets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close closes every connector that holds resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, c := range r.assets {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close asset %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
