// Package notify dispatches notifications to registered channels.
package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Channel represents a notification channel type.
type Channel string

const (
	ChannelWebhook Channel = "webhook"
)

// Message represents a notification message.
type Message struct {
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Format string         `json:"format"` // "markdown", "plain"
	URL    string         `json:"url,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
	Channel() Channel
}

// Dispatcher routes messages to the registered notification channels.
type Dispatcher struct {
	notifiers map[Channel]Notifier
	logger    *slog.Logger
}

// NewDispatcher creates a new notification dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		notifiers: make(map[Channel]Notifier),
		logger:    slog.Default(),
	}
}

// Register adds a notifier to the dispatcher.
func (d *Dispatcher) Register(n Notifier) {
	d.notifiers[n.Channel()] = n
}

// Len returns the number of registered channels.
func (d *Dispatcher) Len() int {
	return len(d.notifiers)
}

// Send delivers msg to every registered channel. It satisfies Notifier so a
// Dispatcher can stand wherever a single channel is expected.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	var failed int
	for ch, notifier := range d.notifiers {
		if err := notifier.Send(ctx, msg); err != nil {
			d.logger.Error("notification failed", "channel", ch, "error", err)
			failed++
			continue
		}
		d.logger.Info("notification sent", "channel", ch, "title", msg.Title)
	}
	if failed > 0 {
		return fmt.Errorf("failed to send %d/%d notifications", failed, len(d.notifiers))
	}
	return nil
}

// Channel reports the dispatcher's pseudo-channel.
func (d *Dispatcher) Channel() Channel { return "dispatcher" }
