package executor

import (
	"context"
	"time"
)

// Observer receives lifecycle callbacks while a graph executes. Callbacks may
// be invoked concurrently for tasks in the same wave.
type Observer interface {
	RunStarted(ctx context.Context, runID string, tasks int)
	TaskStarted(ctx context.Context, runID string, task Task, attempt int)
	TaskSucceeded(ctx context.Context, runID string, task Task, attempt int, took time.Duration)
	TaskFailed(ctx context.Context, runID string, task Task, attempt int, err error)
}

// NoopObserver is a default implementation that records nothing.
type NoopObserver struct{}

func (NoopObserver) RunStarted(ctx context.Context, runID string, tasks int)               {}
func (NoopObserver) TaskStarted(ctx context.Context, runID string, task Task, attempt int) {}
func (NoopObserver) TaskSucceeded(ctx context.Context, runID string, task Task, attempt int, took time.Duration) {
}
func (NoopObserver) TaskFailed(ctx context.Context, runID string, task Task, attempt int, err error) {
}
