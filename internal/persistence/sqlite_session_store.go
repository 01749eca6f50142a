package persistence

import (
	"database/sql"
	"errors"

	"github.com/petrijr/maestro/internal/recovery"
)

// SQLiteSessionStore persists recovery sessions in SQLite, sharing the
// database with SQLiteExecutionStore.
type SQLiteSessionStore struct {
	db *sql.DB
}

var _ recovery.Store = (*SQLiteSessionStore)(nil)

// NewSQLiteSessionStore initializes the schema and returns the store.
func NewSQLiteSessionStore(db *sql.DB) (*SQLiteSessionStore, error) {
	s := &SQLiteSessionStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSessionStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS recovery_sessions (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			agent_type TEXT NOT NULL,
			reason TEXT NOT NULL,
			strategy TEXT NOT NULL,
			status TEXT NOT NULL,
			context BLOB,
			steps BLOB,
			current_step INTEGER NOT NULL,
			total_steps INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteSessionStore) SaveSession(sess *recovery.Session) error {
	contextBytes, err := Encode(sess.Context)
	if err != nil {
		return err
	}
	steps, err := Encode(sess.Steps)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO recovery_sessions (
			id, execution_id, step_index, agent_type, reason, strategy,
			status, context, steps, current_step, total_steps,
			created_at, completed_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			context = excluded.context,
			steps = excluded.steps,
			current_step = excluded.current_step,
			completed_at = excluded.completed_at`,
		sess.ID, sess.ExecutionID, sess.StepIndex, sess.AgentType,
		sess.Reason, string(sess.Strategy), string(sess.Status),
		contextBytes, steps, sess.CurrentStep, sess.TotalSteps,
		timeToNanos(sess.CreatedAt), timeToNanos(sess.CompletedAt),
	)
	return err
}

const sqliteSessionColumns = `
	id, execution_id, step_index, agent_type, reason, strategy,
	status, context, steps, current_step, total_steps,
	created_at, completed_at`

func (s *SQLiteSessionStore) GetSession(id string) (*recovery.Session, error) {
	row := s.db.QueryRow(`
		SELECT`+sqliteSessionColumns+`
		FROM recovery_sessions
		WHERE id = ?`,
		id,
	)

	sess, err := scanSQLiteSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, recovery.ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteSessionStore) ListSessions(executionID string) ([]*recovery.Session, error) {
	query := `SELECT` + sqliteSessionColumns + ` FROM recovery_sessions`
	var args []any
	if executionID != "" {
		query += ` WHERE execution_id = ?`
		args = append(args, executionID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*recovery.Session
	for rows.Next() {
		sess, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func scanSQLiteSession(row rowScanner) (*recovery.Session, error) {
	var sess recovery.Session
	var strategy, status string
	var contextBytes, steps []byte
	var createdAt, completedAt int64

	if err := row.Scan(
		&sess.ID, &sess.ExecutionID, &sess.StepIndex, &sess.AgentType,
		&sess.Reason, &strategy, &status,
		&contextBytes, &steps, &sess.CurrentStep, &sess.TotalSteps,
		&createdAt, &completedAt,
	); err != nil {
		return nil, err
	}

	sess.Strategy = recovery.Strategy(strategy)
	sess.Status = recovery.SessionStatus(status)

	contextVal, err := Decode[map[string]any](contextBytes)
	if err != nil {
		return nil, err
	}
	sess.Context = contextVal

	stepsVal, err := Decode[[]recovery.Step](steps)
	if err != nil {
		return nil, err
	}
	sess.Steps = stepsVal

	sess.CreatedAt = nanosToTime(createdAt)
	sess.CompletedAt = nanosToTime(completedAt)

	return &sess, nil
}
