package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task represents a node in the execution DAG.
type Task struct {
	ID         string
	Stage      string
	DependsOn  []string
	Payload    map[string]interface{}
	MaxRetries int
	RetryDelay time.Duration
}

// Graph encapsulates a set of tasks keyed by ID.
type Graph struct {
	Tasks map[string]Task
}

// Executor runs tasks in dependency order. Tasks whose dependencies are all
// satisfied form a wave and run concurrently.
type Executor struct {
	observer    Observer
	metrics     Metrics
	concurrency int
}

// Metrics aggregates optional telemetry callbacks. RetryCounter fires once
// per retry; Duration fires for successful attempts.
type Metrics struct {
	RetryCounter func(context.Context, Task, int)
	Duration     func(context.Context, Task, time.Duration)
}

// Option configures executor behaviour.
type Option func(*Executor)

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(ex *Executor) {
		ex.observer = o
	}
}

// WithMetrics sets executor metrics callbacks.
func WithMetrics(m Metrics) Option {
	return func(ex *Executor) {
		ex.metrics = m
	}
}

// WithConcurrency caps how many tasks of one wave run at once. Zero means unbounded.
func WithConcurrency(n int) Option {
	return func(ex *Executor) {
		ex.concurrency = n
	}
}

// New creates a new Executor instance.
func New(opts ...Option) *Executor {
	ex := &Executor{observer: NoopObserver{}}
	for _, opt := range opts {
		opt(ex)
	}
	if ex.observer == nil {
		ex.observer = NoopObserver{}
	}
	return ex
}

// ErrUnknownDependency indicates a dependency reference that is missing from the graph.
var ErrUnknownDependency = fmt.Errorf("unknown dependency")

// ErrCycleDetected indicates the graph contains a cycle.
var ErrCycleDetected = fmt.Errorf("cycle detected")

// TaskRunner executes the concrete work for a task.
type TaskRunner interface {
	RunTask(ctx context.Context, runID string, task Task) error
}

// TaskRunnerFunc adapts a function to TaskRunner.
type TaskRunnerFunc func(ctx context.Context, runID string, task Task) error

func (f TaskRunnerFunc) RunTask(ctx context.Context, runID string, task Task) error {
	return f(ctx, runID, task)
}

// Plan validates the graph and returns its waves in execution order.
func Plan(g Graph) ([][]string, error) {
	indegree := make(map[string]int, len(g.Tasks))
	adjacency := make(map[string][]string, len(g.Tasks))

	for id, task := range g.Tasks {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, dep := range task.DependsOn {
			if _, ok := g.Tasks[dep]; !ok {
				return nil, fmt.Errorf("%w: %s -> %s", ErrUnknownDependency, id, dep)
			}
			adjacency[dep] = append(adjacency[dep], id)
			indegree[id]++
		}
	}

	ready := make([]string, 0, len(g.Tasks))
	for id := range g.Tasks {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var waves [][]string
	seen := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		waves = append(waves, ready)
		seen += len(ready)
		var next []string
		for _, id := range ready {
			for _, dep := range adjacency[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		ready = next
	}

	if seen != len(g.Tasks) {
		return nil, ErrCycleDetected
	}
	return waves, nil
}

// Execute walks the supplied graph and returns the IDs in the order their
// waves were dispatched. The first task error cancels the remaining work.
func (e *Executor) Execute(ctx context.Context, runID string, g Graph, runner TaskRunner) ([]string, error) {
	waves, err := Plan(g)
	if err != nil {
		return nil, err
	}
	e.observer.RunStarted(ctx, runID, len(g.Tasks))

	order := make([]string, 0, len(g.Tasks))
	for _, wave := range waves {
		eg, egCtx := errgroup.WithContext(ctx)
		if e.concurrency > 0 {
			eg.SetLimit(e.concurrency)
		}
		for _, id := range wave {
			task := g.Tasks[id]
			if task.Stage == "" {
				task.Stage = task.ID
			}
			eg.Go(func() error {
				return e.runWithRetry(egCtx, runID, task, runner)
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
		order = append(order, wave...)
	}
	return order, nil
}

func (e *Executor) runWithRetry(ctx context.Context, runID string, task Task, runner TaskRunner) error {
	maxRetries := task.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attemptStart := time.Now()
		e.observer.TaskStarted(ctx, runID, task, attempt)
		var runErr error
		if runner != nil {
			runErr = runner.RunTask(ctx, runID, task)
		}
		if runErr == nil {
			took := time.Since(attemptStart)
			e.observer.TaskSucceeded(ctx, runID, task, attempt, took)
			if e.metrics.Duration != nil {
				e.metrics.Duration(ctx, task, took)
			}
			return nil
		}
		nextAttempt := attempt + 1
		e.observer.TaskFailed(ctx, runID, task, nextAttempt, runErr)
		if nextAttempt > maxRetries {
			return runErr
		}
		if e.metrics.RetryCounter != nil {
			e.metrics.RetryCounter(ctx, task, nextAttempt)
		}
		attempt = nextAttempt
		if task.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(task.RetryDelay):
			}
		}
	}
}
