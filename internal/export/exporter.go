// Package export ships terminal bridge results to an external history webhook in batches.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/unified-bridge/internal/model"
)

// Config holds configuration for result exporting
type Config struct {
	WebhookURL    string        `json:"webhook_url"`
	WebhookAPIKey string        `json:"webhook_api_key,omitempty"`
	BatchSize     int           `json:"batch_size"`
	Interval      time.Duration `json:"interval"`
	RetryMax      int           `json:"retry_max"`

	// MaxBuffered bounds memory while the webhook is unreachable; the oldest results are dropped
	MaxBuffered int `json:"max_buffered"`
}

// Payload is the JSON body posted to the webhook
type Payload struct {
	Results    []model.BridgeResult `json:"results"`
	ExportTime string               `json:"export_time"`
	Count      int                  `json:"count"`
}

// Exporter batches BridgeResults and posts them to a webhook periodically or when a
// batch fills up. Submit never blocks the bridge path.
type Exporter struct {
	config Config
	client *retryablehttp.Client

	mu         sync.Mutex
	batch      []model.BridgeResult
	dropped    int
	exported   int
	lastExport time.Time

	flush  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an exporter and starts its background loop
func New(config Config) (*Exporter, error) {
	if config.WebhookURL == "" {
		return nil, errors.New("webhook URL not configured")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.MaxBuffered < config.BatchSize {
		config.MaxBuffered = config.BatchSize * 10
	}

	client := retryablehttp.NewClient()
	client.RetryMax = config.RetryMax
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	ctx, cancel := context.WithCancel(context.Background())
	e := &Exporter{
		config: config,
		client: client,
		batch:  make([]model.BridgeResult, 0, config.BatchSize),
		flush:  make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go e.loop(ctx)

	logrus.WithFields(logrus.Fields{
		"batch_size": config.BatchSize,
		"interval":   config.Interval,
	}).Info("Result exporter initialized")
	return e, nil
}

// Submit queues a result for export
func (e *Exporter) Submit(result model.BridgeResult) {
	e.mu.Lock()
	if len(e.batch) >= e.config.MaxBuffered {
		e.batch = e.batch[1:]
		e.dropped++
	}
	e.batch = append(e.batch, result)
	full := len(e.batch) >= e.config.BatchSize
	e.mu.Unlock()

	if full {
		select {
		case e.flush <- struct{}{}:
		default:
		}
	}
}

func (e *Exporter) loop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-e.flush:
		case <-ctx.Done():
			return
		}
		if err := e.Flush(ctx); err != nil {
			logrus.WithError(err).Error("Failed to export bridge results")
		}
	}
}

// Flush posts everything currently queued. Results are re-queued when the post fails.
func (e *Exporter) Flush(ctx context.Context) error {
	e.mu.Lock()
	if len(e.batch) == 0 {
		e.mu.Unlock()
		return nil
	}
	results := e.batch
	e.batch = make([]model.BridgeResult, 0, e.config.BatchSize)
	e.mu.Unlock()

	if err := e.post(ctx, results); err != nil {
		e.mu.Lock()
		e.batch = append(results, e.batch...)
		if over := len(e.batch) - e.config.MaxBuffered; over > 0 {
			e.batch = e.batch[over:]
			e.dropped += over
		}
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	e.exported += len(results)
	e.lastExport = time.Now()
	e.mu.Unlock()

	logrus.Debugf("Exported %d bridge results", len(results))
	return nil
}

func (e *Exporter) post(ctx context.Context, results []model.BridgeResult) error {
	body, err := json.Marshal(Payload{
		Results:    results,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(results),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.WebhookAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.WebhookAPIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

// Stop ends the background loop and exports whatever is still queued
func (e *Exporter) Stop(ctx context.Context) error {
	e.cancel()
	<-e.done
	return e.Flush(ctx)
}

// Status reports the exporter's counters
func (e *Exporter) Status() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := map[string]interface{}{
		"batch_size":    e.config.BatchSize,
		"interval":      e.config.Interval.String(),
		"current_batch": len(e.batch),
		"exported":      e.exported,
		"dropped":       e.dropped,
	}
	if !e.lastExport.IsZero() {
		status["last_export"] = e.lastExport.Format(time.RFC3339)
	}
	return status
}
