package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"praxis/internal/config"
)

const userAgent = "Praxis/0.1.0"

// Event classifies a queue lifecycle notification.
type Event string

const (
	EventQueued    Event = "queued"
	EventStarting  Event = "starting"
	EventCompleted Event = "completed"
	EventFailed    Event = "failed"
)

// Notification carries everything needed to inform a requester about one
// transition. Origin is the opaque delivery reference supplied at submission
// and is never interpreted here.
type Notification struct {
	ItemID      string
	Origin      string
	Requester   string
	Query       string
	Position    int
	Wait        time.Duration
	Result      string
	ErrorDetail string
}

// Service is the notification port the queue engine publishes through.
// Delivery is fire-and-forget: implementations return errors for logging
// only, and the engine never blocks or rolls back a transition on failure.
type Service interface {
	Publish(ctx context.Context, event Event, note Notification) error
}

// NewService builds a notification service backed by the configured webhook.
// When no webhook URL is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	endpoint := strings.TrimSpace(cfg.Notifications.WebhookURL)
	if endpoint == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &webhookService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventQueued:    cfg.Notifications.Queued,
			EventStarting:  cfg.Notifications.Starting,
			EventCompleted: cfg.Notifications.Completed,
			EventFailed:    cfg.Notifications.Failed,
		},
	}
}

type webhookService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

type webhookPayload struct {
	Event     string `json:"event"`
	ItemID    string `json:"item_id"`
	Origin    string `json:"origin,omitempty"`
	Requester string `json:"requester,omitempty"`
	Content   string `json:"content"`
}

func (w *webhookService) Publish(ctx context.Context, event Event, note Notification) error {
	if enabled, ok := w.enabled[event]; ok && !enabled {
		return nil
	}

	payload := webhookPayload{
		Event:     string(event),
		ItemID:    note.ItemID,
		Origin:    note.Origin,
		Requester: note.Requester,
		Content:   Message(event, note),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Notification) error { return nil }
