// Package summaryhttp delivers run summaries to a webhook.
package summaryhttp

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"soarbook/pkg/models"
)

const (
	// HeaderIdempotencyKey identifies a batch by its run IDs. The pipeline
	// resends a batch after a failed write, so receivers can drop repeats.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderRunCount carries the number of summaries in the body.
	HeaderRunCount = "X-Soarbook-Runs"
)

// Writer posts run summaries to a remote HTTP endpoint.
type Writer struct {
	url        string
	headers    map[string]string
	onlyFailed bool
	client     *http.Client
}

// Config configures the HTTP writer. OnlyFailed restricts delivery to runs
// with at least one failed node.
type Config struct {
	URL        string
	Timeout    time.Duration
	Headers    map[string]string
	OnlyFailed bool
}

// NewWriter creates an HTTP writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http summary URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Writer{
		url:        cfg.URL,
		headers:    cfg.Headers,
		onlyFailed: cfg.OnlyFailed,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// WriteSummaries posts a batch as one JSON array.
func (w *Writer) WriteSummaries(summaries []*models.Summary) error {
	batch := w.selectSummaries(summaries)
	if len(batch) == 0 {
		return nil
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode summaries: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build summary request: %w", err)
	}
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRunCount, strconv.Itoa(len(batch)))
	req.Header.Set(HeaderIdempotencyKey, BatchKey(batch))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post summaries: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post summaries: status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (w *Writer) selectSummaries(summaries []*models.Summary) []*models.Summary {
	out := make([]*models.Summary, 0, len(summaries))
	for _, s := range summaries {
		if s == nil {
			continue
		}
		if w.onlyFailed && s.Counts.Failed == 0 {
			continue
		}
		out = append(out, s)
	}
	return out
}

// BatchKey hashes the sorted run IDs of a batch. The same runs always yield
// the same key regardless of order.
func BatchKey(summaries []*models.Summary) string {
	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.RunID)
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:16])
}

// Close releases HTTP resources.
func (w *Writer) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
