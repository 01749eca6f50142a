package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the orchestration engine for logging
// and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay execution.
type Observer interface {
	// OnExecutionStart is called once when an execution is first
	// started, before the first step runs.
	OnExecutionStart(ctx context.Context, exec *WorkflowExecution)

	// OnExecutionCompleted is called when an execution reaches
	// StatusCompleted.
	OnExecutionCompleted(ctx context.Context, exec *WorkflowExecution)

	// OnExecutionFailed is called when an execution transitions to
	// StatusFailed.
	OnExecutionFailed(ctx context.Context, exec *WorkflowExecution, err error)

	// OnExecutionPaused is called when an execution parks for human
	// review or an operator-requested pause.
	OnExecutionPaused(ctx context.Context, exec *WorkflowExecution, reason string)

	// OnExecutionResumed is called when a paused execution continues.
	OnExecutionResumed(ctx context.Context, exec *WorkflowExecution)

	// OnExecutionCancelled is called when an execution is terminally
	// cancelled.
	OnExecutionCancelled(ctx context.Context, exec *WorkflowExecution, reason string)

	// OnStepStart is called before dispatching a step.
	// stepIndex is the 0-based index into WorkflowDefinition.Steps.
	OnStepStart(ctx context.Context, exec *WorkflowExecution, stepName string, stepIndex int)

	// OnStepCompleted is called after a step finishes, for successes,
	// skips, and failures (err != nil).
	OnStepCompleted(ctx context.Context, exec *WorkflowExecution, stepName string, stepIndex int, err error, duration time.Duration)

	// OnRecoveryStarted is called when a step failure opens a recovery
	// session.
	OnRecoveryStarted(ctx context.Context, exec *WorkflowExecution, sessionID, strategy string)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnExecutionStart(ctx context.Context, exec *WorkflowExecution)     {}
func (NoopObserver) OnExecutionCompleted(ctx context.Context, exec *WorkflowExecution) {}
func (NoopObserver) OnExecutionFailed(ctx context.Context, exec *WorkflowExecution, err error) {
}
func (NoopObserver) OnExecutionPaused(ctx context.Context, exec *WorkflowExecution, reason string) {
}
func (NoopObserver) OnExecutionResumed(ctx context.Context, exec *WorkflowExecution) {}
func (NoopObserver) OnExecutionCancelled(ctx context.Context, exec *WorkflowExecution, reason string) {
}
func (NoopObserver) OnStepStart(ctx context.Context, exec *WorkflowExecution, stepName string, idx int) {
}
func (NoopObserver) OnStepCompleted(ctx context.Context, exec *WorkflowExecution, stepName string, idx int, err error, d time.Duration) {
}
func (NoopObserver) OnRecoveryStarted(ctx context.Context, exec *WorkflowExecution, sessionID, strategy string) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnExecutionStart(ctx context.Context, exec *WorkflowExecution) {
	for _, o := range c.observers {
		o.OnExecutionStart(ctx, exec)
	}
}

func (c *CompositeObserver) OnExecutionCompleted(ctx context.Context, exec *WorkflowExecution) {
	for _, o := range c.observers {
		o.OnExecutionCompleted(ctx, exec)
	}
}

func (c *CompositeObserver) OnExecutionFailed(ctx context.Context, exec *WorkflowExecution, err error) {
	for _, o := range c.observers {
		o.OnExecutionFailed(ctx, exec, err)
	}
}

func (c *CompositeObserver) OnExecutionPaused(ctx context.Context, exec *WorkflowExecution, reason string) {
	for _, o := range c.observers {
		o.OnExecutionPaused(ctx, exec, reason)
	}
}

func (c *CompositeObserver) OnExecutionResumed(ctx context.Context, exec *WorkflowExecution) {
	for _, o := range c.observers {
		o.OnExecutionResumed(ctx, exec)
	}
}

func (c *CompositeObserver) OnExecutionCancelled(ctx context.Context, exec *WorkflowExecution, reason string) {
	for _, o := range c.observers {
		o.OnExecutionCancelled(ctx, exec, reason)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, exec *WorkflowExecution, stepName string, idx int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, exec, stepName, idx)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, exec *WorkflowExecution, stepName string, idx int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, exec, stepName, idx, err, d)
	}
}

func (c *CompositeObserver) OnRecoveryStarted(ctx context.Context, exec *WorkflowExecution, sessionID, strategy string) {
	for _, o := range c.observers {
		o.OnRecoveryStarted(ctx, exec, sessionID, strategy)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs execution / step
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnExecutionStart(ctx context.Context, exec *WorkflowExecution) {
	o.Logger.InfoContext(ctx, "execution_start",
		slog.String("workflow", exec.WorkflowID),
		slog.String("execution_id", exec.ID),
		slog.String("project_id", exec.ProjectID),
	)
}

func (o *LoggingObserver) OnExecutionCompleted(ctx context.Context, exec *WorkflowExecution) {
	o.Logger.InfoContext(ctx, "execution_completed",
		slog.String("workflow", exec.WorkflowID),
		slog.String("execution_id", exec.ID),
		slog.Int("steps", exec.TotalSteps),
	)
}

func (o *LoggingObserver) OnExecutionFailed(ctx context.Context, exec *WorkflowExecution, err error) {
	o.Logger.ErrorContext(ctx, "execution_failed",
		slog.String("workflow", exec.WorkflowID),
		slog.String("execution_id", exec.ID),
		slog.Int("current_step", exec.CurrentStep),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnExecutionPaused(ctx context.Context, exec *WorkflowExecution, reason string) {
	o.Logger.InfoContext(ctx, "execution_paused",
		slog.String("workflow", exec.WorkflowID),
		slog.String("execution_id", exec.ID),
		slog.Int("current_step", exec.CurrentStep),
		slog.String("reason", reason),
	)
}

func (o *LoggingObserver) OnExecutionResumed(ctx context.Context, exec *WorkflowExecution) {
	o.Logger.InfoContext(ctx, "execution_resumed",
		slog.String("workflow", exec.WorkflowID),
		slog.String("execution_id", exec.ID),
		slog.Int("current_step", exec.CurrentStep),
	)
}

func (o *LoggingObserver) OnExecutionCancelled(ctx context.Context, exec *WorkflowExecution, reason string) {
	o.Logger.InfoContext(ctx, "execution_cancelled",
		slog.String("workflow", exec.WorkflowID),
		slog.String("execution_id", exec.ID),
		slog.String("reason", reason),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, exec *WorkflowExecution, stepName string, idx int) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("execution_id", exec.ID),
		slog.String("step", stepName),
		slog.Int("step_index", idx),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, exec *WorkflowExecution, stepName string, idx int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("execution_id", exec.ID),
		slog.String("step", stepName),
		slog.Int("step_index", idx),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnRecoveryStarted(ctx context.Context, exec *WorkflowExecution, sessionID, strategy string) {
	o.Logger.WarnContext(ctx, "recovery_started",
		slog.String("execution_id", exec.ID),
		slog.String("session_id", sessionID),
		slog.String("strategy", strategy),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	executionsStarted   atomic.Int64
	executionsCompleted atomic.Int64
	executionsFailed    atomic.Int64
	executionsPaused    atomic.Int64
	recoveriesStarted   atomic.Int64
	stepsCompleted      atomic.Int64
	totalStepDuration   atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	ExecutionsStarted   int64
	ExecutionsCompleted int64
	ExecutionsFailed    int64
	ExecutionsPaused    int64
	RecoveriesStarted   int64

	StepsCompleted  int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnExecutionStart(ctx context.Context, exec *WorkflowExecution) {
	m.executionsStarted.Add(1)
}

func (m *BasicMetrics) OnExecutionCompleted(ctx context.Context, exec *WorkflowExecution) {
	m.executionsCompleted.Add(1)
}

func (m *BasicMetrics) OnExecutionFailed(ctx context.Context, exec *WorkflowExecution, err error) {
	m.executionsFailed.Add(1)
}

func (m *BasicMetrics) OnExecutionPaused(ctx context.Context, exec *WorkflowExecution, reason string) {
	m.executionsPaused.Add(1)
}

func (m *BasicMetrics) OnRecoveryStarted(ctx context.Context, exec *WorkflowExecution, sessionID, strategy string) {
	m.recoveriesStarted.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, exec *WorkflowExecution, stepName string, idx int, err error, d time.Duration) {
	// Only count successful steps for average duration.
	if err == nil {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		ExecutionsStarted:   m.executionsStarted.Load(),
		ExecutionsCompleted: m.executionsCompleted.Load(),
		ExecutionsFailed:    m.executionsFailed.Load(),
		ExecutionsPaused:    m.executionsPaused.Load(),
		RecoveriesStarted:   m.recoveriesStarted.Load(),
		StepsCompleted:      steps,
		AvgStepDuration:     avg,
	}
}
