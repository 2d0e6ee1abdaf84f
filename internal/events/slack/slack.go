// Package slack posts run events to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/plateflow/internal/events"
)

const httpTimeout = 10 * time.Second

// Sink posts events to a Slack webhook. Delivery is best effort: Emit
// never blocks the caller on delivery and failures are only logged.
type Sink struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a Slack sink. If webhookURL is empty, Emit is a no-op.
func New(webhookURL string, logger log.Logger) *Sink {
	if logger == nil {
		logger = log.Nop()
	}
	return &Sink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

var _ events.Sink = (*Sink)(nil)

// Emit posts one event without blocking the caller: the webhook call runs
// on its own goroutine and the error is swallowed after logging. Event
// delivery never fails a state transition that already happened.
func (s *Sink) Emit(_ context.Context, ev events.Event) {
	if s.webhookURL == "" {
		return
	}
	go func() {
		// The caller's context may be cancelled before the post lands, so
		// the delivery gets its own deadline.
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		if err := s.post(ctx, ev); err != nil {
			s.logger.Warn(ctx, "slack delivery failed", "event", ev.Name, "resource", ev.Resource, "error", err.Error())
		}
	}()
}

func (s *Sink) post(ctx context.Context, ev events.Event) error {
	body, err := json.Marshal(buildMessage(ev))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(ev events.Event) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*%s* `%s`: %s → %s", ev.Name, ev.Resource, ev.Before, ev.After),
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": fmt.Sprintf("plateflow • %s", time.Now().UTC().Format("2006-01-02 15:04 UTC")),
					},
				},
			},
		},
	}
}
