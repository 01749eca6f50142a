package persistence

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/petrijr/maestro/pkg/api"
)

// SQLiteExecutionStore is an ExecutionStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteExecutionStore struct {
	db *sql.DB
}

var _ ExecutionStore = (*SQLiteExecutionStore)(nil)

// NewSQLiteExecutionStore initializes the required schema in the given
// database and returns a new SQLiteExecutionStore.
func NewSQLiteExecutionStore(db *sql.DB) (*SQLiteExecutionStore, error) {
	s := &SQLiteExecutionStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteExecutionStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step INTEGER NOT NULL,
			total_steps INTEGER NOT NULL,
			steps BLOB,
			context BLOB,
			artifact_ids BLOB,
			error TEXT,
			created_at INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteExecutionStore) SaveExecution(exec *api.WorkflowExecution) error {
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

	_, err = s.db.Exec(`
		INSERT INTO executions (
			id, workflow_id, project_id, status, current_step, total_steps,
			steps, context, artifact_ids, error,
			created_at, started_at, completed_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			project_id = excluded.project_id,
			status = excluded.status,
			current_step = excluded.current_step,
			total_steps = excluded.total_steps,
			steps = excluded.steps,
			context = excluded.context,
			artifact_ids = excluded.artifact_ids,
			error = excluded.error,
			created_at = excluded.created_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at`,
		exec.ID,
		exec.WorkflowID,
		exec.ProjectID,
		string(exec.Status),
		exec.CurrentStep,
		exec.TotalSteps,
		steps,
		contextBytes,
		artifacts,
		exec.Error,
		timeToNanos(exec.CreatedAt),
		timeToNanos(exec.StartedAt),
		timeToNanos(exec.CompletedAt),
		timeToNanos(exec.UpdatedAt),
	)
	return err
}

const sqliteExecutionColumns = `
	id, workflow_id, project_id, status, current_step, total_steps,
	steps, context, artifact_ids, error,
	created_at, started_at, completed_at, updated_at`

func (s *SQLiteExecutionStore) GetExecution(id string) (*api.WorkflowExecution, error) {
	row := s.db.QueryRow(`
		SELECT`+sqliteExecutionColumns+`
		FROM executions
		WHERE id = ?`,
		id,
	)

	exec, err := scanSQLiteExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return exec, nil
}

func (s *SQLiteExecutionStore) ListExecutions(filter ExecutionFilter) ([]*api.WorkflowExecution, error) {
	query := `SELECT` + sqliteExecutionColumns + ` FROM executions`
	var args []any
	var clauses []string

	if filter.WorkflowID != "" {
		clauses = append(clauses, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.ProjectID != "" {
		clauses = append(clauses, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*api.WorkflowExecution
	for rows.Next() {
		exec, err := scanSQLiteExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return executions, nil
}

func (s *SQLiteExecutionStore) Stats(projectID string) (map[api.Status]int, error) {
	query := `SELECT status, COUNT(*) FROM executions`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` GROUP BY status`

	rows, err := s.db.Query(query, args...)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteExecution(row rowScanner) (*api.WorkflowExecution, error) {
	var exec api.WorkflowExecution
	var statusStr string
	var steps, contextBytes, artifacts []byte
	var errStr sql.NullString
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

	if errStr.Valid {
		exec.Error = errStr.String
	}

	exec.CreatedAt = nanosToTime(createdAt)
	exec.StartedAt = nanosToTime(startedAt)
	exec.CompletedAt = nanosToTime(completedAt)
	exec.UpdatedAt = nanosToTime(updatedAt)

	return &exec, nil
}
