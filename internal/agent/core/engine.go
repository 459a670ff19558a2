package core

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/deeres/config"
	"github.com/mohammad-safakhou/deeres/internal/executor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var engineTracer = otel.Tracer("github.com/mohammad-safakhou/deeres/internal/agent/core")

const (
	stageResearch = "research"
	stageGather   = "gather"
	stageFinal    = "final"
	stageCompile  = "compile"
)

// Engine runs the report workflow: plan, approve, research sections in
// parallel, write the remaining sections from the merged research and
// compile the report.
type Engine struct {
	planner  *Planner
	loop     *ResearchLoop
	writer   *FinalWriter
	approver Approver
	exec     *executor.Executor
	metrics  executor.Metrics
	logger   *zap.Logger

	defaults         Configuration
	maxPlanRevisions int
	fallbackOnError  bool
	retries          retryPolicy
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithApprover(a Approver) EngineOption {
	return func(e *Engine) { e.approver = a }
}

// WithExecutorMetrics reports stage durations and failed attempts.
func WithExecutorMetrics(m executor.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine wires the workflow stages from service configuration.
func NewEngine(cfg *config.Config, models Models, searcher Searcher, opts ...EngineOption) *Engine {
	e := &Engine{
		approver:         AutoApprove{},
		logger:           zap.NewNop(),
		defaults:         NewConfiguration(cfg),
		maxPlanRevisions: cfg.Workflow.MaxPlanRevisions,
		fallbackOnError:  cfg.Workflow.FallbackOnError,
		retries:          retryPolicy{max: cfg.Workflow.StageRetries, delay: cfg.Workflow.StageRetryDelay},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.exec = executor.New(
		executor.WithObserver(stageObserver{log: e.logger.Named("stages")}),
		executor.WithMetrics(e.metrics),
		executor.WithConcurrency(cfg.Workflow.MaxConcurrentSections),
	)
	e.planner = NewPlanner(models, searcher, e.logger.Named("planner"))
	e.loop = NewResearchLoop(models, searcher, e.logger.Named("section"))
	e.writer = NewFinalWriter(models)
	return e
}

// RunOptions carries per-request settings.
type RunOptions struct {
	RunID     string
	Overrides map[string]any
	Progress  Progress
}

// ValidateOverrides checks request overrides against the run defaults without
// running anything.
func (e *Engine) ValidateOverrides(overrides map[string]any) error {
	_, err := e.defaults.WithOverrides(overrides)
	return err
}

// Run produces a report for topic. Collaborator failures are returned to the
// caller unless fallback_on_error is set, in which case FallbackReport is used.
func (e *Engine) Run(ctx context.Context, topic string, opts RunOptions) (Report, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	progress := monotonic(opts.Progress)

	ctx, span := engineTracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String("run.id", opts.RunID),
			attribute.String("report.topic", topic),
		))
	defer span.End()

	cfg, err := e.defaults.WithOverrides(opts.Overrides)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Report{}, err
	}
	log := e.logger.With(zap.String("run_id", opts.RunID))

	state := &WorkflowState{Topic: topic, Feedback: cfg.Feedback}
	if err := e.run(ctx, opts.RunID, cfg, state, progress, log); err != nil {
		span.RecordError(err)
		if e.fallbackOnError {
			log.Error("workflow failed, returning fallback report", zap.Error(err))
			span.SetStatus(codes.Error, "fallback report")
			return Report{Topic: topic, Content: FallbackReport(topic)}, nil
		}
		span.SetStatus(codes.Error, err.Error())
		return Report{}, err
	}
	span.SetAttributes(attribute.Int("report.sections", len(state.Sections)))
	return Report{Topic: topic, Content: state.FinalReport}, nil
}

func (e *Engine) run(ctx context.Context, runID string, cfg Configuration, state *WorkflowState, progress Progress, log *zap.Logger) error {
	progress(0.1, "Planning report structure...")
	sections, err := e.plan(ctx, cfg, state, log)
	if err != nil {
		return err
	}
	state.Sections = sections

	research, passthrough := Route(sections)
	log.Info("plan approved",
		zap.Int("sections", len(sections)),
		zap.Int("research", len(research)),
		zap.Int("passthrough", len(passthrough)))

	runner := &stageRunner{engine: e, cfg: cfg, state: state, progress: progress, log: log}
	graph := buildGraph(sections, e.retries)
	progress(0.2, "Generating search queries...")
	if _, err := e.exec.Execute(ctx, runID, graph, runner); err != nil {
		return err
	}
	return nil
}

// plan runs the planning stage and the approval loop. After
// maxPlanRevisions rejections the latest plan is used.
func (e *Engine) plan(ctx context.Context, cfg Configuration, state *WorkflowState, log *zap.Logger) ([]Section, error) {
	ctx, span := engineTracer.Start(ctx, "workflow.plan")
	defer span.End()

	for revision := 0; ; revision++ {
		sections, err := e.planner.Plan(ctx, cfg, state.Topic, state.Feedback)
		if err != nil {
			return nil, err
		}
		approved, feedback, err := e.approver.Approve(ctx, state.Topic, sections)
		if err != nil {
			return nil, fmt.Errorf("approve plan: %w", err)
		}
		if approved || revision >= e.maxPlanRevisions {
			span.SetAttributes(attribute.Int("plan.revisions", revision))
			return sections, nil
		}
		log.Info("plan rejected, regenerating", zap.Int("revision", revision+1), zap.String("feedback", feedback))
		log.Debug("rejected plan", zap.String("plan", FormatPlan(sections)))
		state.Feedback = feedback
	}
}

// retryPolicy applies to the stages that call models or search.
type retryPolicy struct {
	max   int
	delay time.Duration
}

// buildGraph lays out research:<i> → gather → final:<i> → compile, where i
// is the section's index in the plan.
func buildGraph(sections []Section, retries retryPolicy) executor.Graph {
	tasks := make(map[string]executor.Task, len(sections)+2)
	var researchIDs, finalIDs []string
	for i, s := range sections {
		if s.Research {
			id := stageResearch + ":" + strconv.Itoa(i)
			researchIDs = append(researchIDs, id)
			tasks[id] = executor.Task{ID: id, Stage: stageResearch, Payload: map[string]interface{}{"index": i},
				MaxRetries: retries.max, RetryDelay: retries.delay}
		}
	}
	tasks[stageGather] = executor.Task{ID: stageGather, Stage: stageGather, DependsOn: researchIDs}
	for i, s := range sections {
		if !s.Research {
			id := stageFinal + ":" + strconv.Itoa(i)
			finalIDs = append(finalIDs, id)
			tasks[id] = executor.Task{ID: id, Stage: stageFinal, DependsOn: []string{stageGather}, Payload: map[string]interface{}{"index": i},
				MaxRetries: retries.max, RetryDelay: retries.delay}
		}
	}
	tasks[stageCompile] = executor.Task{ID: stageCompile, Stage: stageCompile, DependsOn: append([]string{stageGather}, finalIDs...)}
	return executor.Graph{Tasks: tasks}
}

type stageRunner struct {
	engine   *Engine
	cfg      Configuration
	state    *WorkflowState
	progress Progress
	log      *zap.Logger
}

func (r *stageRunner) RunTask(ctx context.Context, runID string, task executor.Task) error {
	ctx, span := engineTracer.Start(ctx, "workflow."+task.Stage, trace.WithAttributes(attribute.String("task.id", task.ID)))
	defer span.End()

	err := r.runTask(ctx, task)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *stageRunner) runTask(ctx context.Context, task executor.Task) error {
	topic := r.state.Topic
	switch task.Stage {
	case stageResearch:
		section := r.state.Sections[task.Payload["index"].(int)]
		r.progress(0.3, "Searching for relevant information...")
		done, iterations, err := r.engine.loop.Run(ctx, r.cfg, topic, section)
		if err != nil {
			return fmt.Errorf("research %q: %w", section.Name, err)
		}
		r.log.Debug("section accepted", zap.String("section", section.Name), zap.Int("iterations", iterations))
		r.state.AddCompleted(done)
	case stageGather:
		r.progress(0.5, "Analyzing search results...")
		r.state.ResearchContext = FormatSections(r.state.Completed())
	case stageFinal:
		section := r.state.Sections[task.Payload["index"].(int)]
		r.progress(0.7, "Writing report sections...")
		done, err := r.engine.writer.Write(ctx, r.cfg, topic, section, r.state.ResearchContext)
		if err != nil {
			return fmt.Errorf("write %q: %w", section.Name, err)
		}
		r.state.AddCompleted(done)
	case stageCompile:
		r.progress(0.9, "Reviewing and refining content...")
		r.state.FinalReport = Compile(r.state.Sections, r.state.Completed())
	default:
		return fmt.Errorf("unknown stage %q", task.Stage)
	}
	return nil
}

// monotonic drops progress updates that would move the fraction backwards,
// which happens when parallel stages report out of order.
func monotonic(p Progress) Progress {
	if p == nil {
		return func(float64, string) {}
	}
	var (
		mu   sync.Mutex
		last float64
	)
	return func(fraction float64, message string) {
		mu.Lock()
		defer mu.Unlock()
		if fraction < last {
			return
		}
		last = fraction
		p(fraction, message)
	}
}
