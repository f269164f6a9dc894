package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"soarbook/pkg/models"
)

// HTTPConfig configures a webhook connector.
type HTTPConfig struct {
	Asset   string
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// HTTP forwards actions to an integration service as JSON.
type HTTP struct {
	asset   string
	url     string
	headers map[string]string
	client  *http.Client
}

type httpRequest struct {
	Asset      string                 `json:"asset"`
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters"`
}

type httpResponse struct {
	Status  string                   `json:"status"`
	Message string                   `json:"message"`
	Data    []map[string]interface{} `json:"data"`
	Summary map[string]interface{}   `json:"summary"`
}

// NewHTTP creates a webhook connector.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http connector URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTP{
		asset:   cfg.Asset,
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Run posts the action and decodes the integration's result.
func (h *HTTP) Run(ctx context.Context, action string, params map[string]interface{}) (*models.ActionOutput, error) {
	body, err := json.Marshal(httpRequest{Asset: h.asset, Action: action, Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http request failed with status %s", resp.Status)
	}

	var out httpResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode action result: %w", err)
	}
	if out.Status == models.ResultFailed {
		if out.Message == "" {
			out.Message = "integration reported failure"
		}
		return nil, fmt.Errorf("%s", out.Message)
	}
	return &models.ActionOutput{Message: out.Message, Data: out.Data, Summary: out.Summary}, nil
}
