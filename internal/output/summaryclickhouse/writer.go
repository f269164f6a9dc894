package summaryclickhouse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"soarbook/pkg/models"
)

// Config configures the ClickHouse HTTP writer.
type Config struct {
	URL      string
	Database string
	Table    string
	Username string
	Password string
	Timeout  time.Duration
	Headers  map[string]string
}

// NodeRow is one node outcome flattened for columnar storage.
type NodeRow struct {
	RunID       string `json:"run_id"`
	ContainerID string `json:"container_id"`
	Playbook    string `json:"playbook"`
	Node        string `json:"node"`
	NodeType    string `json:"node_type"`
	Status      string `json:"status"`
	Reason      string `json:"reason"`
	DurationMs  int64  `json:"duration_ms"`
	Results     int    `json:"results"`
	Failures    int    `json:"failures"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at"`
}

// Writer sends node rows to ClickHouse via HTTP JSONEachRow.
type Writer struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// NewWriter creates a ClickHouse HTTP writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("clickhouse URL is empty")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "playbook_nodes"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	q := fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", quoteIdent(cfg.Database), quoteIdent(cfg.Table))
	base := strings.TrimRight(cfg.URL, "/")
	endpoint := base + "/?query=" + url.QueryEscape(q)

	headers := map[string]string{}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Username != "" {
		headers["X-ClickHouse-User"] = cfg.Username
	}
	if cfg.Password != "" {
		headers["X-ClickHouse-Key"] = cfg.Password
	}

	return &Writer{
		endpoint: endpoint,
		headers:  headers,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Rows flattens a summary into one row per node.
func Rows(s *models.Summary) []NodeRow {
	if s == nil {
		return nil
	}
	rows := make([]NodeRow, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		row := NodeRow{
			RunID:       s.RunID,
			ContainerID: s.ContainerID,
			Playbook:    s.Playbook,
			Node:        n.Node,
			NodeType:    n.Type,
			Status:      string(n.Status),
			Reason:      n.Reason,
			DurationMs:  n.Duration.Milliseconds(),
			Results:     len(n.Results),
			StartedAt:   s.StartedAt.UTC().Format("2006-01-02 15:04:05.000"),
			CompletedAt: s.CompletedAt.UTC().Format("2006-01-02 15:04:05.000"),
		}
		for i := range n.Results {
			if !n.Results[i].Succeeded() {
				row.Failures++
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteSummaries sends every node of every summary in one insert.
func (w *Writer) WriteSummaries(summaries []*models.Summary) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	n := 0
	for _, s := range summaries {
		for _, row := range Rows(s) {
			if err := enc.Encode(row); err != nil {
				return fmt.Errorf("failed to marshal node row: %w", err)
			}
			n++
		}
	}
	if n == 0 {
		return nil
	}

	req, err := http.NewRequest(http.MethodPost, w.endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("clickhouse request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clickhouse request failed with status %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// Close releases resources.
func (w *Writer) Close() error {
	return nil
}

func quoteIdent(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "`", "")
	return "`" + v + "`"
}
