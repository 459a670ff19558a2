package core

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/deeres/internal/executor"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// stageObserver logs stage attempts and records failures on the run span.
type stageObserver struct {
	log *zap.Logger
}

func (o stageObserver) RunStarted(ctx context.Context, runID string, tasks int) {
	o.log.Debug("stage graph started", zap.String("run_id", runID), zap.Int("tasks", tasks))
}

func (o stageObserver) TaskStarted(ctx context.Context, runID string, task executor.Task, attempt int) {
	if attempt == 0 {
		return
	}
	o.log.Info("retrying stage",
		zap.String("run_id", runID),
		zap.String("task", task.ID),
		zap.Int("attempt", attempt))
}

func (o stageObserver) TaskSucceeded(ctx context.Context, runID string, task executor.Task, attempt int, took time.Duration) {
	o.log.Debug("stage finished",
		zap.String("run_id", runID),
		zap.String("task", task.ID),
		zap.Int("attempt", attempt),
		zap.Duration("took", took))
}

func (o stageObserver) TaskFailed(ctx context.Context, runID string, task executor.Task, attempt int, err error) {
	o.log.Warn("stage failed",
		zap.String("run_id", runID),
		zap.String("task", task.ID),
		zap.Int("attempt", attempt),
		zap.Int("max_retries", task.MaxRetries),
		zap.Error(err))
	trace.SpanFromContext(ctx).AddEvent("stage.failed", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.Int("attempt", attempt),
		attribute.String("error", err.Error()),
	))
}
