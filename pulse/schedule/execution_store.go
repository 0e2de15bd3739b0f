package schedule

import (
	"context"
	"database/sql"

	"github.com/teranos/pulsejobs/db"
	"github.com/teranos/pulsejobs/errors"
)

// DefaultHistoryLimit caps History when no limit is given
const DefaultHistoryLimit = 50

// ExecutionStore handles persistence of job execution history
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// Append records the start of an attempt
func (s *ExecutionStore) Append(ctx context.Context, exec *Execution) error {
	query := `
		INSERT INTO pulse_executions (
			id, job_id, attempt_number, outcome,
			started_at, completed_at, duration_ms,
			error_message, result, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	args, err := executionArgs(exec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query,
		exec.ID,
		exec.JobID,
		exec.AttemptNumber,
		args[0], args[1], args[2], args[3], args[4], args[5],
		db.FormatTime(exec.CreatedAt),
	)
	if err != nil {
		return errors.Wrap(err, "failed to append execution")
	}
	return nil
}

// Finalize writes the outcome of an attempt
func (s *ExecutionStore) Finalize(ctx context.Context, exec *Execution) error {
	query := `
		UPDATE pulse_executions
		SET outcome = ?, started_at = ?, completed_at = ?, duration_ms = ?,
		    error_message = ?, result = ?
		WHERE id = ?
	`

	args, err := executionArgs(exec)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, append(args, exec.ID)...)
	if err != nil {
		return errors.Wrap(err, "failed to finalize execution")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("execution %s not found", exec.ID)
	}
	return nil
}

// Open returns the unfinished attempt for a job, or nil if there is none
func (s *ExecutionStore) Open(ctx context.Context, jobID string) (*Execution, error) {
	rows, err := s.query(ctx, `
		SELECT id, job_id, attempt_number, outcome, started_at, completed_at,
		       duration_ms, error_message, result, created_at
		FROM pulse_executions
		WHERE job_id = ? AND completed_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1
	`, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find open execution")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// History returns a job's attempts, most recent first
func (s *ExecutionStore) History(ctx context.Context, jobID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	executions, err := s.query(ctx, `
		SELECT id, job_id, attempt_number, outcome, started_at, completed_at,
		       duration_ms, error_message, result, created_at
		FROM pulse_executions
		WHERE job_id = ?
		ORDER BY started_at DESC, attempt_number DESC
		LIMIT ?
	`, jobID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	return executions, nil
}

func (s *ExecutionStore) query(ctx context.Context, query string, args ...interface{}) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		var exec Execution
		var outcome, startedAt, createdAt string
		var completedAt, errorMessage, result sql.NullString
		var durationMs sql.NullInt64

		if err := rows.Scan(
			&exec.ID,
			&exec.JobID,
			&exec.AttemptNumber,
			&outcome,
			&startedAt,
			&completedAt,
			&durationMs,
			&errorMessage,
			&result,
			&createdAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}

		exec.Outcome = Outcome(outcome)
		if exec.StartedAt, err = db.ParseTime(startedAt); err != nil {
			return nil, err
		}
		if exec.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, err
		}
		if exec.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		if durationMs.Valid {
			d := int(durationMs.Int64)
			exec.DurationMs = &d
		}
		if errorMessage.Valid {
			msg := errorMessage.String
			exec.ErrorMessage = &msg
		}
		if result.Valid {
			v, err := ParseValue([]byte(result.String))
			if err != nil {
				return nil, errors.Wrapf(err, "failed to decode result for execution %s", exec.ID)
			}
			exec.Result = &v
		}

		executions = append(executions, &exec)
	}
	return executions, rows.Err()
}

// executionArgs renders outcome, started_at, completed_at, duration_ms, error_message, result
func executionArgs(exec *Execution) ([]interface{}, error) {
	var durationMs, errorMessage, result interface{}
	if exec.DurationMs != nil {
		durationMs = *exec.DurationMs
	}
	if exec.ErrorMessage != nil {
		errorMessage = *exec.ErrorMessage
	}
	if exec.Result != nil {
		data, err := exec.Result.MarshalJSON()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode result for execution %s", exec.ID)
		}
		result = string(data)
	}

	return []interface{}{
		string(exec.Outcome),
		db.FormatTime(exec.StartedAt),
		db.NullTime(exec.CompletedAt),
		durationMs,
		errorMessage,
		result,
	}, nil
}
