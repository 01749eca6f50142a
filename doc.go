// Package maestro provides an embeddable orchestration and recovery engine
// for multi-agent delivery workflows.
//
// Maestro sequences the work of autonomous agents through a durable state
// machine: it dispatches steps, retries transient failures with exponential
// backoff, enforces a per-project budget of autonomous actions, pauses for
// human review when confidence drops or budgets run out, and turns
// unrecoverable failures into bounded recovery sessions. It runs fully in
// Go, supports multiple persistence backends, and integrates cleanly into
// existing codebases.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Engine
//  2. WorkflowBuilder
//  3. Dispatcher
//  4. Human review (HITL)
//  5. Recovery sessions
//
// # Engine
//
// The Engine stores workflow definitions, persists execution state, and
// provides APIs to:
//   - start executions and drive them to completion
//   - pause, resume, and cancel executions
//   - respond to human review requests
//   - recover executions interrupted by a process restart
//   - read execution state, progress snapshots, and statistics
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//
// Every durable backend round-trips execution state with full fidelity, so
// an execution written before a crash resumes from exactly the step where
// it stopped.
//
// # WorkflowBuilder
//
// WorkflowBuilder provides the declarative API used to define workflows as
// ordered steps across delivery phases, with optional preconditions and
// parallel fan-out:
//
//	maestro.NewWorkflow("web-app", "Web app delivery").
//	    Step("analyze", "analyst", maestro.InPhase(maestro.PhaseDiscovery)).
//	    Parallel(
//	        maestro.Step("frontend", "builder", maestro.InPhase(maestro.PhaseBuild)),
//	        maestro.Step("backend", "builder", maestro.InPhase(maestro.PhaseBuild)),
//	    ).
//	    Step("validate", "qa", maestro.InPhase(maestro.PhaseValidate)).
//	    MustRegister(engine)
//
// # Dispatcher
//
// A Dispatcher hands each step to the external worker collaborator, the
// actual generative agent invocation. The engine treats it as opaque: it
// sequences, retries, and records outcomes, but never interprets the work
// itself. Workers report results along with review-relevant signals
// (confidence, conflicts, budget usage, safety flags).
//
// # Human review
//
// Executions pause for a human decision when a step trips an oversight
// trigger: low confidence, conflicting results, budget thresholds, safety
// violations, phase boundaries, or an exhausted action budget. The pending
// request survives restarts, and the reviewer resolves it with approve,
// reject, or amend.
//
// # Recovery sessions
//
// When a step fails past its retry budget, the engine opens a recovery
// session: a deterministic strategy (rollback, retry, continue, abort) is
// selected from the failure and expanded into ordered remediation steps,
// each persisted and broadcast as it runs. Completed sessions are retained
// for audit.
//
// For runnable examples, see the examples directory.
package maestro
