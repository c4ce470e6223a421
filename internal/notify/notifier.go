package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"go-export-service/internal/model"
)

// Event carries the terminal outcome of one export job back to the
// requester. It is emitted exactly once per job.
type Event struct {
	JobID         string         `json:"job_id"`
	RequesterID   string         `json:"requester_id"`
	Status        model.JobState `json:"status"`
	Message       string         `json:"message"`
	RowsProcessed int64          `json:"rows_processed"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// Notifier delivers terminal job events over some push channel.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// ------------------- Log Notifier -------------------

// LogNotifier writes events to the service log. It is the default
// channel when no webhook is configured.
type LogNotifier struct{}

var _ Notifier = LogNotifier{}

func (LogNotifier) Notify(_ context.Context, ev Event) error {
	logrus.WithFields(logrus.Fields{
		"job_id":         ev.JobID,
		"requester_id":   ev.RequesterID,
		"status":         ev.Status,
		"rows_processed": ev.RowsProcessed,
	}).Info(ev.Message)
	return nil
}

// ------------------- Webhook Notifier -------------------

// WebhookNotifier delivers events as JSON POSTs to a fixed endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

var _ Notifier = (*WebhookNotifier)(nil)

// NewWebhookNotifier builds a notifier posting to url. timeout bounds
// each delivery attempt.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %s", resp.Status)
	}
	return nil
}
