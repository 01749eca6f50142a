package maestro

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/maestro/internal/config"
	"github.com/petrijr/maestro/internal/engine"
	"github.com/petrijr/maestro/internal/governor"
	"github.com/petrijr/maestro/internal/hitl"
	"github.com/petrijr/maestro/internal/persistence"
	"github.com/petrijr/maestro/internal/recovery"
	"github.com/petrijr/maestro/pkg/api"
	"github.com/petrijr/maestro/pkg/events"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	WorkflowDefinition   = api.WorkflowDefinition
	WorkflowExecution    = api.WorkflowExecution
	StepDefinition       = api.StepDefinition
	StepExecution        = api.StepExecution
	StatusSnapshot       = api.StatusSnapshot
	ExecutionListOptions = api.ExecutionListOptions
	Status               = api.Status
	Phase                = api.Phase
	Condition            = api.Condition
	RetryConfig          = api.RetryConfig
	Dispatcher           = api.Dispatcher
	DispatcherFunc       = api.DispatcherFunc
	DispatchResult       = api.DispatchResult
	Artifact             = api.Artifact
	ArtifactStore        = api.ArtifactStore
	HitlAction           = api.HitlAction
	HitlRequest          = api.HitlRequest
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common helpers.

var (
	NewLoggingObserver     = api.NewLoggingObserver
	NewCompositeObserver   = api.NewCompositeObserver
	NewMemoryArtifactStore = api.NewMemoryArtifactStore
	DefaultRetryConfig     = api.DefaultRetryConfig
)

// Re-export status and action values for convenience.

const (
	StatusPending   = api.StatusPending
	StatusRunning   = api.StatusRunning
	StatusPaused    = api.StatusPaused
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
	StatusCancelled = api.StatusCancelled

	HitlApprove = api.HitlApprove
	HitlReject  = api.HitlReject
	HitlAmend   = api.HitlAmend

	AmendmentContextKey = api.AmendmentContextKey
	RequestContextKey   = api.RequestContextKey

	PhaseDiscovery = api.PhaseDiscovery
	PhasePlan      = api.PhasePlan
	PhaseDesign    = api.PhaseDesign
	PhaseBuild     = api.PhaseBuild
	PhaseValidate  = api.PhaseValidate
	PhaseLaunch    = api.PhaseLaunch
)

// Condition constructors.

var (
	Always        = api.Always
	Never         = api.Never
	NotEmpty      = api.NotEmpty
	Equals        = api.Equals
	ExprCondition = api.ExprCondition
)

// engineOptions collects the cross-backend knobs applied by Option values.
type engineOptions struct {
	observer      api.Observer
	hub           *events.Hub
	logger        *slog.Logger
	artifacts     api.ArtifactStore
	retry         api.RetryConfig
	oversight     hitl.Config
	governorLimit int
	governorOff   bool
	sessions      recovery.Store
	governor      governor.Store
}

// Option customizes an engine built by one of the New*Engine constructors.
type Option func(*engineOptions)

// WithObserver attaches an observer for logging and metrics.
func WithObserver(obs Observer) Option {
	return func(o *engineOptions) { o.observer = obs }
}

// WithHub attaches an event hub so collaborators can subscribe to pause,
// resume, failure, and recovery notifications.
func WithHub(hub *events.Hub) Option {
	return func(o *engineOptions) { o.hub = hub }
}

// WithLogger sets the structured logger used for engine warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// WithArtifacts sets the store used to resolve context artifacts for
// dispatches.
func WithArtifacts(store ArtifactStore) Option {
	return func(o *engineOptions) { o.artifacts = store }
}

// WithRetryConfig overrides the default retry policy for step dispatches.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(o *engineOptions) { o.retry = cfg }
}

// WithOversightLevel sets the default human-oversight level:
// "low", "standard", "high", or "strict".
func WithOversightLevel(level string) Option {
	return func(o *engineOptions) { o.oversight.DefaultLevel = hitl.OversightLevel(level) }
}

// WithActionLimit overrides the per-project autonomous action budget.
func WithActionLimit(limit int) Option {
	return func(o *engineOptions) { o.governorLimit = limit }
}

// WithGovernorDisabled turns off the action governor for all projects.
func WithGovernorDisabled() Option {
	return func(o *engineOptions) { o.governorOff = true }
}

// WithSessionStore overrides where recovery sessions are persisted.
func WithSessionStore(store recovery.Store) Option {
	return func(o *engineOptions) { o.sessions = store }
}

// OptionsFromConfigFile loads a YAML configuration file and returns the
// equivalent engine options.
func OptionsFromConfigFile(path string) ([]Option, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithRetryConfig(cfg.RetryConfig()),
	}
	defaults := cfg.GovernorDefaults()
	if !defaults.Enabled {
		opts = append(opts, WithGovernorDisabled())
	}
	opts = append(opts, WithActionLimit(defaults.Limit))
	opts = append(opts, func(o *engineOptions) { o.oversight = cfg.HitlConfig() })
	return opts, nil
}

func (o *engineOptions) governorStore() governor.Store {
	if o.governor != nil {
		return o.governor
	}
	defaults := governor.StockDefaults()
	if o.governorLimit > 0 {
		defaults.Limit = o.governorLimit
	}
	defaults.Enabled = !o.governorOff
	return governor.NewMemoryStore(defaults)
}

func buildEngine(per persistence.Persistence, dispatcher Dispatcher, opts []Option) (Engine, error) {
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.sessions != nil {
		per.Sessions = o.sessions
	}
	return engine.New(engine.Config{
		Persistence: per,
		Dispatcher:  dispatcher,
		Artifacts:   o.artifacts,
		Governor:    o.governorStore(),
		Observer:    o.observer,
		Hub:         o.hub,
		Logger:      o.logger,
		Retry:       o.retry,
		Oversight:   o.oversight,
	})
}

// Engine constructors. These wrap the internal/engine package so external
// callers never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
// Nothing survives a process restart; best for tests and development.
func NewInMemoryEngine(dispatcher Dispatcher, opts ...Option) (Engine, error) {
	store := persistence.NewInMemoryStore()
	return buildEngine(persistence.Persistence{
		Workflows:  store,
		Executions: store,
	}, dispatcher, opts)
}

// NewSQLiteEngine returns an Engine that persists executions and recovery
// sessions in a SQLite database. Workflow definitions are kept in memory.
func NewSQLiteEngine(db *sql.DB, dispatcher Dispatcher, opts ...Option) (Engine, error) {
	execStore, err := persistence.NewSQLiteExecutionStore(db)
	if err != nil {
		return nil, err
	}
	sessStore, err := persistence.NewSQLiteSessionStore(db)
	if err != nil {
		return nil, err
	}
	return buildEngine(persistence.Persistence{
		Workflows:  persistence.NewInMemoryStore(),
		Executions: execStore,
		Sessions:   sessStore,
	}, dispatcher, opts)
}

// NewPostgresEngine returns an Engine that persists executions in
// PostgreSQL through the given connection pool.
func NewPostgresEngine(ctx context.Context, pool *pgxpool.Pool, dispatcher Dispatcher, opts ...Option) (Engine, error) {
	execStore, err := persistence.NewPostgresExecutionStore(ctx, pool)
	if err != nil {
		return nil, err
	}
	return buildEngine(persistence.Persistence{
		Workflows:  persistence.NewInMemoryStore(),
		Executions: execStore,
	}, dispatcher, opts)
}

// NewRedisEngine returns an Engine that persists executions in Redis. The
// action governor also runs on Redis, so the budget is shared across
// processes pointing at the same instance.
func NewRedisEngine(client *redis.Client, dispatcher Dispatcher, opts ...Option) (Engine, error) {
	per := persistence.Persistence{
		Workflows:  persistence.NewInMemoryStore(),
		Executions: persistence.NewRedisExecutionStore(client, ""),
	}
	opts = append([]Option{func(o *engineOptions) {
		if o.governor == nil {
			o.governor = governor.NewRedisStore(client, "", governor.StockDefaults())
		}
	}}, opts...)
	return buildEngine(per, dispatcher, opts)
}

// NewMongoEngine returns an Engine that persists executions in MongoDB.
func NewMongoEngine(client *mongo.Client, dispatcher Dispatcher, opts ...Option) (Engine, error) {
	return buildEngine(persistence.Persistence{
		Workflows:  persistence.NewInMemoryStore(),
		Executions: persistence.NewMongoExecutionStore(client, "", ""),
	}, dispatcher, opts)
}

// Convenience helpers that forward to the underlying Engine.

// Start starts a registered workflow for a project and drives it until it
// finishes or parks for human review.
func Start(ctx context.Context, eng Engine, workflowID, projectID string, initialContext map[string]any) (*WorkflowExecution, error) {
	return eng.StartExecution(ctx, workflowID, projectID, initialContext)
}

// Pause requests a pause of a running execution at its next step boundary.
func Pause(ctx context.Context, eng Engine, executionID, reason string) (bool, error) {
	return eng.PauseExecution(ctx, executionID, reason)
}

// Resume continues a paused execution from its current step.
func Resume(ctx context.Context, eng Engine, executionID string) (bool, error) {
	return eng.ResumeExecution(ctx, executionID)
}

// Cancel terminally cancels a running or paused execution.
func Cancel(ctx context.Context, eng Engine, executionID, reason string) (bool, error) {
	return eng.CancelExecution(ctx, executionID, reason)
}

// Respond applies a human decision to a parked execution.
func Respond(ctx context.Context, eng Engine, executionID, requestID string, action HitlAction, content map[string]any) (*WorkflowExecution, error) {
	return eng.SubmitHitlResponse(ctx, executionID, requestID, action, content)
}

// RecoverInterrupted marks executions left RUNNING by a crashed process as
// PAUSED so a human can resume them. It is typically called on process
// startup:
//
//	count, err := maestro.RecoverInterrupted(ctx, engine)
func RecoverInterrupted(ctx context.Context, eng Engine) (int, error) {
	return eng.RecoverInterrupted(ctx)
}
