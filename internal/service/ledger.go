package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/harrier/internal/port/ledger"
	"github.com/Strob0t/harrier/internal/port/messagequeue"
)

// Ledger is the audit-trail service. The durable writer is authoritative:
// a write failure propagates to the caller and halts the loop. The message
// queue fan-out is best-effort observability and never fails an append.
type Ledger struct {
	writer ledger.Writer
	queue  messagequeue.Queue
}

// NewLedger creates a Ledger. queue may be nil when no broker is configured.
func NewLedger(writer ledger.Writer, queue messagequeue.Queue) *Ledger {
	return &Ledger{writer: writer, queue: queue}
}

// Append durably records the entry, then publishes it to the broker.
func (l *Ledger) Append(ctx context.Context, e ledger.Entry) error {
	if err := l.writer.Append(ctx, e); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}

	if l.queue != nil && l.queue.IsConnected() {
		payload, err := json.Marshal(e)
		if err == nil {
			if err := l.queue.Publish(ctx, messagequeue.SubjectLedger, payload); err != nil {
				slog.Warn("ledger broker publish failed", "action", e.Action, "error", err)
			}
		}
	}
	return nil
}
