package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/harrier/internal/domain/gate"
	"github.com/Strob0t/harrier/internal/domain/task"
)

const meterName = "github.com/Strob0t/harrier"

// Metrics implements the engine's instrument surface on OTel counters.
type Metrics struct {
	taskOutcomes  metric.Int64Counter
	retries       metric.Int64Counter
	distillations metric.Int64Counter
	gateFailures  metric.Int64Counter
	loopDuration  metric.Float64Histogram
}

// NewMetrics registers the loop instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	taskOutcomes, err := meter.Int64Counter("harrier.tasks.total",
		metric.WithDescription("Tasks reaching a terminal status, by status"))
	if err != nil {
		return nil, fmt.Errorf("creating task counter: %w", err)
	}
	retries, err := meter.Int64Counter("harrier.retries.total",
		metric.WithDescription("Task retries after gate or execution failure"))
	if err != nil {
		return nil, fmt.Errorf("creating retry counter: %w", err)
	}
	distillations, err := meter.Int64Counter("harrier.distillations.total",
		metric.WithDescription("Context window compressions"))
	if err != nil {
		return nil, fmt.Errorf("creating distillation counter: %w", err)
	}
	gateFailures, err := meter.Int64Counter("harrier.gate_failures.total",
		metric.WithDescription("Gate failures, by gate"))
	if err != nil {
		return nil, fmt.Errorf("creating gate failure counter: %w", err)
	}
	loopDuration, err := meter.Float64Histogram("harrier.loop.duration",
		metric.WithDescription("Wall time of a full plan run"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating loop duration histogram: %w", err)
	}

	return &Metrics{
		taskOutcomes:  taskOutcomes,
		retries:       retries,
		distillations: distillations,
		gateFailures:  gateFailures,
		loopDuration:  loopDuration,
	}, nil
}

func (m *Metrics) RecordTaskOutcome(ctx context.Context, status task.Status) {
	m.taskOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (m *Metrics) RecordRetry(ctx context.Context) {
	m.retries.Add(ctx, 1)
}

func (m *Metrics) RecordDistillation(ctx context.Context) {
	m.distillations.Add(ctx, 1)
}

func (m *Metrics) RecordGateFailure(ctx context.Context, name gate.Name) {
	m.gateFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("gate", string(name))))
}

func (m *Metrics) RecordLoopDuration(ctx context.Context, d time.Duration) {
	m.loopDuration.Record(ctx, d.Seconds())
}
