// Package notify delivers clearance reminders. It knows nothing about how
// clearance is computed; the engine decides when a reminder is due.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const webhookTimeout = 5 * time.Second

// Reminder tells the user that a drink has likely cleared.
type Reminder struct {
	DrinkID    string    `json:"drink_id"`
	Name       string    `json:"name"`
	AmountMg   float64   `json:"amount_mg"`
	ConsumedAt time.Time `json:"consumed_at"`
	ClearedAt  time.Time `json:"cleared_at"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
}

// NewReminder fills in the title and message for a cleared drink.
func NewReminder(id, name string, amountMg float64, consumedAt, clearedAt time.Time) Reminder {
	return Reminder{
		DrinkID:    id,
		Name:       name,
		AmountMg:   amountMg,
		ConsumedAt: consumedAt,
		ClearedAt:  clearedAt,
		Title:      "Caffeine cleared",
		Message:    fmt.Sprintf("Your %s has likely left your system. Time for another?", name),
	}
}

// Notifier delivers a reminder.
type Notifier interface {
	Notify(ctx context.Context, r Reminder) error
}

// LogNotifier writes reminders to a zap logger.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(ctx context.Context, r Reminder) error {
	n.Logger.Info(r.Message,
		zap.String("drink_id", r.DrinkID),
		zap.String("name", r.Name),
		zap.Float64("amount_mg", r.AmountMg),
		zap.Time("consumed_at", r.ConsumedAt),
		zap.Time("cleared_at", r.ClearedAt),
	)
	return nil
}

// WebhookNotifier POSTs each reminder as JSON to a URL.
type WebhookNotifier struct {
	http *http.Client
	url  string
}

// NewWebhookNotifier creates a webhook notifier with a short request timeout.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		http: &http.Client{Timeout: webhookTimeout},
		url:  url,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, r Reminder) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reminder: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", n.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("POST %s: status %d: %s", n.url, resp.StatusCode, data)
	}
	return nil
}

// Multi delivers to every notifier. If any fail it returns a *DeliveryError.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, r Reminder) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &DeliveryError{Failed: len(errs), Total: len(m), Err: errors.Join(errs...)}
}

// DeliveryError reports how many of a Multi's notifiers failed.
type DeliveryError struct {
	Failed int
	Total  int
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%d of %d notifiers failed: %v", e.Failed, e.Total, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Partial reports whether at least one notifier delivered.
func (e *DeliveryError) Partial() bool { return e.Failed < e.Total }
