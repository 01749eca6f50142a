package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/maestro/internal/governor"
	"github.com/petrijr/maestro/internal/hitl"
	"github.com/petrijr/maestro/internal/persistence"
	"github.com/petrijr/maestro/internal/recovery"
	"github.com/petrijr/maestro/internal/retry"
	"github.com/petrijr/maestro/pkg/api"
	"github.com/petrijr/maestro/pkg/events"
)

// Config assembles an engine from its collaborators. Persistence and
// Dispatcher are required; everything else has a sensible in-process
// default.
type Config struct {
	Persistence persistence.Persistence
	Dispatcher  api.Dispatcher

	// Artifacts resolves context artifacts for dispatches. Nil disables
	// artifact lookup.
	Artifacts api.ArtifactStore

	// Governor backs the per-project action budget. Nil uses an
	// in-memory store with stock defaults.
	Governor governor.Store

	Observer api.Observer
	Hub      *events.Hub
	Logger   *slog.Logger

	Retry     api.RetryConfig
	Oversight hitl.Config

	// RetryOptions tweak the retry executor; used by tests to inject a
	// fake sleep and deterministic jitter.
	RetryOptions []retry.Option
}

// New creates an engine from the given config.
func New(cfg Config) (api.Engine, error) {
	if cfg.Persistence.Workflows == nil || cfg.Persistence.Executions == nil {
		return nil, errors.New("engine: workflow and execution stores are required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("engine: dispatcher is required")
	}
	if cfg.Persistence.Sessions == nil {
		cfg.Persistence.Sessions = recovery.NewMemoryStore()
	}
	if cfg.Governor == nil {
		cfg.Governor = governor.NewMemoryStore(governor.StockDefaults())
	}
	if cfg.Observer == nil {
		cfg.Observer = api.NoopObserver{}
	}
	if cfg.Hub == nil {
		cfg.Hub = events.NewHub()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	proc := &processor{
		dispatcher: cfg.Dispatcher,
		artifacts:  cfg.Artifacts,
		retrier:    retry.New(cfg.Retry, cfg.RetryOptions...),
		logger:     cfg.Logger,
		newID:      uuid.NewString,
		now:        time.Now,
	}

	return &engineImpl{
		per:       cfg.Persistence,
		proc:      proc,
		gov:       cfg.Governor,
		oversight: hitl.New(cfg.Oversight),
		recovery:  recovery.NewManager(cfg.Persistence.Sessions, cfg.Hub, nil),
		hub:       cfg.Hub,
		observer:  cfg.Observer,
		registry:  newRegistry(),
		newID:     uuid.NewString,
		now:       time.Now,
	}, nil
}
