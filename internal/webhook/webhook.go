// Package webhook delivers finding notifications to externally configured
// HTTP endpoints once a run has completed, independent of the final report.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vulnhuntr/vulnhuntr/internal/model"
)

// Payload is the JSON body posted to every configured endpoint.
type Payload struct {
	Event     string          `json:"event"`
	ProjectID string          `json:"project_id,omitempty"`
	Finding   *model.Finding  `json:"finding,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Sender posts finding events to a fixed set of webhook URLs, fanning out
// concurrently and tolerating individual endpoint failures: a failed
// endpoint does not cancel delivery to the others.
type Sender struct {
	client    *http.Client
	endpoints []string
}

// New builds a Sender for the given endpoint URLs. An empty slice is valid
// and makes every Send a no-op.
func New(endpoints []string) *Sender {
	return &Sender{
		client:    &http.Client{Timeout: 10 * time.Second},
		endpoints: endpoints,
	}
}

// SendFinding posts a finding_emitted event to every configured endpoint
// concurrently, returning the first error encountered, if any.
func (s *Sender) SendFinding(ctx context.Context, projectID string, f *model.Finding) error {
	return s.broadcast(ctx, Payload{
		Event:     "finding_emitted",
		ProjectID: projectID,
		Finding:   f,
		Timestamp: time.Now().UTC(),
	})
}

// SendScanComplete posts a scan_complete event carrying no finding.
func (s *Sender) SendScanComplete(ctx context.Context, projectID string) error {
	return s.broadcast(ctx, Payload{
		Event:     "scan_complete",
		ProjectID: projectID,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Sender) broadcast(ctx context.Context, payload Payload) error {
	if len(s.endpoints) == 0 {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	var g errgroup.Group
	for _, endpoint := range s.endpoints {
		endpoint := endpoint
		g.Go(func() error {
			return s.post(ctx, endpoint, body)
		})
	}
	return g.Wait()
}

func (s *Sender) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %s responded with status %d", endpoint, resp.StatusCode)
	}
	return nil
}
