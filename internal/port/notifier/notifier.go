// Package notifier defines the notification port (interface) and capabilities.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`  // "info", "success", "warning", "error"
	Source  string `json:"source"` // e.g. "hitl.checkpoint", "loop.complete"

	// TaskID, ApproveURL and RejectURL are set for checkpoint notifications
	// so channels with rich formatting can render action links.
	TaskID     string `json:"task_id,omitempty"`
	ApproveURL string `json:"approve_url,omitempty"`
	RejectURL  string `json:"reject_url,omitempty"`
}

// Capabilities declares which features a notifier supports.
type Capabilities struct {
	RichFormatting bool `json:"rich_formatting"`
	ActionLinks    bool `json:"action_links"`
}

// Notifier is the port interface for sending notifications.
// Delivery is best-effort relative to the checkpoint state machine: a Send
// error must never prevent a checkpoint from being created or timing out.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "slack", "email").
	Name() string

	// Capabilities returns what this notifier supports.
	Capabilities() Capabilities

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
