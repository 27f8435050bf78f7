package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Exporter ships KPI snapshots to an external system.
type Exporter interface {
	Export(ctx context.Context, snap Snapshot) error
	Flush(ctx context.Context) error
	Close() error
}

// HTTPExporter batches snapshots and posts them as JSON arrays.
type HTTPExporter struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	batchSize  int

	mu     sync.Mutex
	buffer []Snapshot
}

func NewHTTPExporter(endpoint, apiKey string, batchSize int) *HTTPExporter {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &HTTPExporter{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		batchSize:  batchSize,
		buffer:     make([]Snapshot, 0, batchSize),
	}
}

func (e *HTTPExporter) Export(ctx context.Context, snap Snapshot) error {
	e.mu.Lock()
	e.buffer = append(e.buffer, snap)
	full := len(e.buffer) >= e.batchSize
	e.mu.Unlock()
	if full {
		return e.Flush(ctx)
	}
	return nil
}

func (e *HTTPExporter) Flush(ctx context.Context) error {
	e.mu.Lock()
	if len(e.buffer) == 0 {
		e.mu.Unlock()
		return nil
	}
	batch := e.buffer
	e.buffer = make([]Snapshot, 0, e.batchSize)
	e.mu.Unlock()

	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal snapshots: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send snapshots: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("export rejected with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (e *HTTPExporter) Close() error {
	return e.Flush(context.Background())
}

// WriterExporter streams snapshots as JSON lines, one per Export call.
// Useful for log pipelines and tests.
type WriterExporter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewWriterExporter(w io.Writer) *WriterExporter {
	return &WriterExporter{enc: json.NewEncoder(w)}
}

func (e *WriterExporter) Export(_ context.Context, snap Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(snap)
}

func (e *WriterExporter) Flush(context.Context) error { return nil }
func (e *WriterExporter) Close() error                { return nil }
