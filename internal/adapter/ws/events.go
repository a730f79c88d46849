package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/harrier/internal/domain/gate"
	"github.com/Strob0t/harrier/internal/domain/hitl"
	"github.com/Strob0t/harrier/internal/domain/task"
)

// Event type constants for WebSocket messages.
const (
	EventTaskStarted        = "task.started"
	EventTaskFinished       = "task.finished"
	EventGateResult         = "gate.result"
	EventDistillation       = "context.distilled"
	EventCheckpointCreated  = "checkpoint.created"
	EventCheckpointResolved = "checkpoint.resolved"
)

// TaskEvent is broadcast when a task starts or reaches a terminal status.
type TaskEvent struct {
	TaskID     string      `json:"task_id"`
	Title      string      `json:"title"`
	Status     task.Status `json:"status"`
	RetryCount int         `json:"retry_count"`
	TokensUsed int         `json:"tokens_used"`
}

// GateEvent is broadcast after each verification battery run.
type GateEvent struct {
	TaskID        string `json:"task_id"`
	Passed        bool   `json:"passed"`
	FailureReason string `json:"failure_reason,omitempty"`
	TokensUsed    int    `json:"tokens_used"`
}

// DistillationEvent is broadcast when the context window is compressed.
type DistillationEvent struct {
	Count int `json:"count"`
}

// BroadcastEvent marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

func taskEvent(t task.Task) TaskEvent {
	return TaskEvent{
		TaskID:     t.ID,
		Title:      t.Title,
		Status:     t.Status,
		RetryCount: t.RetryCount,
		TokensUsed: t.TokensUsed,
	}
}

// TaskStarted implements the loop event listener.
func (h *Hub) TaskStarted(t task.Task) {
	h.BroadcastEvent(context.Background(), EventTaskStarted, taskEvent(t))
}

// TaskFinished implements the loop event listener.
func (h *Hub) TaskFinished(t task.Task) {
	h.BroadcastEvent(context.Background(), EventTaskFinished, taskEvent(t))
}

// GateEvaluated implements the loop event listener.
func (h *Hub) GateEvaluated(taskID string, result *gate.Result) {
	h.BroadcastEvent(context.Background(), EventGateResult, GateEvent{
		TaskID:        taskID,
		Passed:        result.Passed,
		FailureReason: result.FailureReason,
		TokensUsed:    result.TokensUsed,
	})
}

// ContextDistilled implements the loop event listener.
func (h *Hub) ContextDistilled(count int) {
	h.BroadcastEvent(context.Background(), EventDistillation, DistillationEvent{Count: count})
}

// CheckpointCreated implements the checkpoint event sink.
func (h *Hub) CheckpointCreated(cp hitl.Checkpoint) {
	h.BroadcastEvent(context.Background(), EventCheckpointCreated, cp)
}

// CheckpointResolved implements the checkpoint event sink.
func (h *Hub) CheckpointResolved(cp hitl.Checkpoint) {
	h.BroadcastEvent(context.Background(), EventCheckpointResolved, cp)
}
