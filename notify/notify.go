// Package notify sends operator-facing notifications for chain-watcher
// errors. Grounded on the teacher's webhook POST shape in
// services/escrow-gateway/webhook.go, narrowed to the single outbound
// Slack message this spec calls for (spec.md §1, out of scope beyond this
// narrow contract).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Event is a single notification-worthy occurrence.
type Event struct {
	ChainID   string
	Severity  string // "error" or "warning"
	Message   string
	Timestamp time.Time
}

// Sink delivers an Event to an external channel.
type Sink interface {
	Notify(ctx context.Context, event Event) error
}

// Noop discards every event; used for --silent.
type Noop struct{}

func (Noop) Notify(ctx context.Context, event Event) error { return nil }

// Slack posts a JSON payload to an incoming-webhook URL.
type Slack struct {
	webhookURL string
	client     *http.Client
}

// NewSlack constructs a Slack sink against a webhook URL.
func NewSlack(webhookURL string) *Slack {
	return &Slack{webhookURL: webhookURL, client: &http.Client{Timeout: 10 * time.Second}}
}

type slackPayload struct {
	Text string `json:"text"`
}

// Notify POSTs a formatted message to the configured webhook.
func (s *Slack) Notify(ctx context.Context, event Event) error {
	text := fmt.Sprintf("[%s] chain=%s %s", event.Severity, event.ChainID, event.Message)
	body, err := json.Marshal(slackPayload{Text: text})
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %s", resp.Status)
	}
	return nil
}

// Cooldown is the minimum interval between two error notifications for the
// same chain, tracked via registry.Registry.LastNotifiedError so it
// survives a process restart (spec.md §3 lastNotifiedError).
const Cooldown = 15 * time.Minute

// ShouldNotify reports whether enough time has elapsed since lastNotified
// to send another error notification.
func ShouldNotify(lastNotified *time.Time, now time.Time) bool {
	if lastNotified == nil {
		return true
	}
	return now.Sub(*lastNotified) >= Cooldown
}
