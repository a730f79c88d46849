// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for the governance loop.
const (
	// SubjectLedger carries one message per ledger entry (audit fan-out).
	SubjectLedger = "governor.ledger"

	// SubjectHITLPending announces a newly created checkpoint.
	SubjectHITLPending = "governor.hitl.pending"

	// SubjectHITLResolve carries remote checkpoint resolutions.
	SubjectHITLResolve = "governor.hitl.resolve"
)

// ResolvePayload is the message body on SubjectHITLResolve.
type ResolvePayload struct {
	CheckpointID string `json:"checkpoint_id"`
	Approved     bool   `json:"approved"`
	Notes        string `json:"notes,omitempty"`
	ResolvedBy   string `json:"resolved_by,omitempty"`
}
