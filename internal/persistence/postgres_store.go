package persistence

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petrijr/maestro/pkg/api"
)

// PostgresExecutionStore is an ExecutionStore backed by PostgreSQL via a
// pgx connection pool.
type PostgresExecutionStore struct {
	pool *pgxpool.Pool
}

var _ ExecutionStore = (*PostgresExecutionStore)(nil)

const postgresOpTimeout = 5 * time.Second

// NewPostgresExecutionStore initializes the required schema and returns a
// new PostgresExecutionStore.
func NewPostgresExecutionStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresExecutionStore, error) {
	s := &PostgresExecutionStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresExecutionStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step INTEGER NOT NULL,
			total_steps INTEGER NOT NULL,
			steps BYTEA,
			context BYTEA,
			artifact_ids BYTEA,
			error TEXT,
			created_at BIGINT NOT NULL,
			started_at BIGINT NOT NULL,
			completed_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);
	`)
	return err
}

func (s *PostgresExecutionStore) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), postgresOpTimeout)
}

func (s *PostgresExecutionStore) SaveExecution(exec *api.WorkflowExecution) error {
	ctx, cancel := s.opContext()
	defer cancel()

	steps, err := Encode(exec.Steps)
	if err != nil {
		return err
	}
	contextBytes, err := Encode(exec.Context)
	if err != nil {
		return err
	}
	artifacts, err := Encode(exec.ArtifactIDs)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (
			id, workflow_id, project_id, status, current_step, total_steps,
			steps, context, artifact_ids, error,
			created_at, started_at, completed_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			project_id = EXCLUDED.project_id,
			status = EXCLUDED.status,
			current_step = EXCLUDED.current_step,
			total_steps = EXCLUDED.total_steps,
			steps = EXCLUDED.steps,
			context = EXCLUDED.context,
			artifact_ids = EXCLUDED.artifact_ids,
			error = EXCLUDED.error,
			created_at = EXCLUDED.created_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at`,
		exec.ID, exec.WorkflowID, exec.ProjectID, string(exec.Status),
		exec.CurrentStep, exec.TotalSteps,
		steps, contextBytes, artifacts, exec.Error,
		timeToNanos(exec.CreatedAt), timeToNanos(exec.StartedAt),
		timeToNanos(exec.CompletedAt), timeToNanos(exec.UpdatedAt),
	)
	return err
}

const postgresExecutionColumns = `
	id, workflow_id, project_id, status, current_step, total_steps,
	steps, context, artifact_ids, error,
	created_at, started_at, completed_at, updated_at`

func (s *PostgresExecutionStore) GetExecution(id string) (*api.WorkflowExecution, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		SELECT`+postgresExecutionColumns+`
		FROM executions
		WHERE id = $1`,
		id,
	)

	exec, err := scanPostgresExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return exec, nil
}

func (s *PostgresExecutionStore) ListExecutions(filter ExecutionFilter) ([]*api.WorkflowExecution, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	query := `SELECT` + postgresExecutionColumns + ` FROM executions`
	var args []any
	var clauses []string

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.WorkflowID != "" {
		clauses = append(clauses, "workflow_id = "+arg(filter.WorkflowID))
	}
	if filter.ProjectID != "" {
		clauses = append(clauses, "project_id = "+arg(filter.ProjectID))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = "+arg(string(filter.Status)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*api.WorkflowExecution
	for rows.Next() {
		exec, err := scanPostgresExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	return executions, rows.Err()
}

func (s *PostgresExecutionStore) Stats(projectID string) (map[api.Status]int, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	query := `SELECT status, COUNT(*) FROM executions`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = $1`
		args = append(args, projectID)
	}
	query += ` GROUP BY status`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[api.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[api.Status(status)] = count
	}
	return stats, rows.Err()
}

func scanPostgresExecution(row pgx.Row) (*api.WorkflowExecution, error) {
	var exec api.WorkflowExecution
	var statusStr string
	var steps, contextBytes, artifacts []byte
	var errStr string
	var createdAt, startedAt, completedAt, updatedAt int64

	if err := row.Scan(
		&exec.ID, &exec.WorkflowID, &exec.ProjectID, &statusStr,
		&exec.CurrentStep, &exec.TotalSteps,
		&steps, &contextBytes, &artifacts, &errStr,
		&createdAt, &startedAt, &completedAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	exec.Status = api.Status(statusStr)
	exec.Error = errStr

	stepsVal, err := Decode[[]api.StepExecution](steps)
	if err != nil {
		return nil, err
	}
	exec.Steps = stepsVal

	contextVal, err := Decode[map[string]any](contextBytes)
	if err != nil {
		return nil, err
	}
	exec.Context = contextVal

	artifactsVal, err := Decode[[]string](artifacts)
	if err != nil {
		return nil, err
	}
	exec.ArtifactIDs = artifactsVal

	exec.CreatedAt = nanosToTime(createdAt)
	exec.StartedAt = nanosToTime(startedAt)
	exec.CompletedAt = nanosToTime(completedAt)
	exec.UpdatedAt = nanosToTime(updatedAt)

	return &exec, nil
}
