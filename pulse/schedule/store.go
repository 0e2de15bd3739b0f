package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/teranos/pulsejobs/db"
	"github.com/teranos/pulsejobs/errors"
)

// Paging limits for FindAll
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Filter narrows FindAll results; zero fields match everything.
// From and To bound ScheduledAt (inclusive).
type Filter struct {
	Status *Status
	Type   *JobType
	From   *time.Time
	To     *time.Time
}

// Store handles persistence of jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, owner_id, name, description, payload, metadata,
	type, recurrence_pattern, scheduled_at, next_run_at, is_active, status,
	retry_count, max_retries, timeout_seconds, started_at, completed_at,
	error_message, result, created_at, updated_at, version`

// Create inserts a new job
func (s *Store) Create(ctx context.Context, job *Job) error {
	query := `INSERT INTO pulse_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	args = append([]interface{}{job.ID}, args...)
	args = append(args, job.Version)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "failed to create job %s", job.ID)
	}
	return nil
}

// Get retrieves a job by ID regardless of owner (delivery path)
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM pulse_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("job %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

// FindByID retrieves a job owned by ownerID.
// Jobs of other owners are reported as not found.
func (s *Store) FindByID(ctx context.Context, id, ownerID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM pulse_jobs WHERE id = ? AND owner_id = ?`, id, ownerID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("job %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

// FindAll lists an owner's jobs ordered by scheduled time, with the total match count.
// page is 1-based; limit is clamped to MaxPageSize and defaults to DefaultPageSize.
func (s *Store) FindAll(ctx context.Context, ownerID string, filter Filter, page, limit int) ([]*Job, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	where := []string{"owner_id = ?"}
	args := []interface{}{ownerID}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Type != nil {
		where = append(where, "type = ?")
		args = append(args, string(*filter.Type))
	}
	if filter.From != nil {
		where = append(where, "scheduled_at >= ?")
		args = append(args, db.FormatTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "scheduled_at <= ?")
		args = append(args, db.FormatTime(*filter.To))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pulse_jobs WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count jobs")
	}

	query := `SELECT ` + jobColumns + ` FROM pulse_jobs WHERE ` + clause + `
		ORDER BY scheduled_at ASC, id ASC LIMIT ? OFFSET ?`
	jobs, err := s.queryJobs(ctx, query, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list jobs")
	}
	return jobs, total, nil
}

// Update writes every mutable field of job regardless of its stored version.
// The stored version is still bumped, so job.Version is stale afterwards.
func (s *Store) Update(ctx context.Context, job *Job) error {
	res, err := s.exec(ctx, job, "")
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("job %s not found", job.ID)
	}
	return nil
}

// Transition writes job only if the stored row is still at job.Version with
// status from. Any write in between bumps the version, so a status that
// changed and changed back still loses. Returns false when another writer
// got there first (or the job is gone); on success job.Version is advanced.
func (s *Store) Transition(ctx context.Context, job *Job, from Status) (bool, error) {
	res, err := s.exec(ctx, job, from)
	if err != nil {
		return false, errors.Wrapf(err, "failed to transition job %s from %s to %s", job.ID, from, job.Status)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	if n != 1 {
		return false, nil
	}
	job.Version++
	return true, nil
}

func (s *Store) exec(ctx context.Context, job *Job, from Status) (sql.Result, error) {
	query := `UPDATE pulse_jobs SET
		owner_id = ?, name = ?, description = ?, payload = ?, metadata = ?,
		type = ?, recurrence_pattern = ?, scheduled_at = ?, next_run_at = ?, is_active = ?, status = ?,
		retry_count = ?, max_retries = ?, timeout_seconds = ?, started_at = ?, completed_at = ?,
		error_message = ?, result = ?, created_at = ?, updated_at = ?, version = version + 1
		WHERE id = ?`

	args, err := jobArgs(job)
	if err != nil {
		return nil, err
	}
	args = append(args, job.ID)
	if from != "" {
		query += ` AND status = ? AND version = ?`
		args = append(args, string(from), job.Version)
	}
	return s.db.ExecContext(ctx, query, args...)
}

// Delete removes an owner's job; its executions cascade
func (s *Store) Delete(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pulse_jobs WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return errors.Wrapf(err, "failed to delete job %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("job %s not found", id)
	}
	return nil
}

// FindPending returns active jobs waiting for a wake-up, earliest first
func (s *Store) FindPending(ctx context.Context) ([]*Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM pulse_jobs
		WHERE status = ? AND is_active = 1 ORDER BY next_run_at ASC`, string(StatusPending))
}

// FindRunning returns jobs with an attempt in flight
func (s *Store) FindRunning(ctx context.Context) ([]*Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM pulse_jobs
		WHERE status = ? ORDER BY started_at ASC`, string(StatusRunning))
}

// FindRecurring returns active recurring jobs, earliest next run first
func (s *Store) FindRecurring(ctx context.Context) ([]*Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM pulse_jobs
		WHERE type = ? AND is_active = 1 ORDER BY next_run_at ASC`, string(TypeRecurring))
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// jobArgs renders the columns between id and version, in jobColumns order
func jobArgs(job *Job) ([]interface{}, error) {
	payload, err := job.Payload.MarshalJSON()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode payload for job %s", job.ID)
	}

	var metadata, pattern, description, errorMessage, result interface{}
	if len(job.Metadata) > 0 {
		data, err := json.Marshal(job.Metadata)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode metadata for job %s", job.ID)
		}
		metadata = string(data)
	}
	if job.RecurrencePattern != nil {
		pattern = string(*job.RecurrencePattern)
	}
	if job.Description != "" {
		description = job.Description
	}
	if job.ErrorMessage != nil {
		errorMessage = *job.ErrorMessage
	}
	if job.Result != nil {
		data, err := job.Result.MarshalJSON()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode result for job %s", job.ID)
		}
		result = string(data)
	}

	return []interface{}{
		job.OwnerID,
		job.Name,
		description,
		string(payload),
		metadata,
		string(job.Type),
		pattern,
		db.FormatTime(job.ScheduledAt),
		db.FormatTime(job.NextRunAt),
		job.IsActive,
		string(job.Status),
		job.RetryCount,
		job.MaxRetries,
		job.TimeoutSeconds,
		db.NullTime(job.StartedAt),
		db.NullTime(job.CompletedAt),
		errorMessage,
		result,
		db.FormatTime(job.CreatedAt),
		db.FormatTime(job.UpdatedAt),
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var jobType, status, payload, scheduledAt, nextRunAt, createdAt, updatedAt string
	var description, metadata, pattern, startedAt, completedAt, errorMessage, result sql.NullString

	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Name,
		&description,
		&payload,
		&metadata,
		&jobType,
		&pattern,
		&scheduledAt,
		&nextRunAt,
		&job.IsActive,
		&status,
		&job.RetryCount,
		&job.MaxRetries,
		&job.TimeoutSeconds,
		&startedAt,
		&completedAt,
		&errorMessage,
		&result,
		&createdAt,
		&updatedAt,
		&job.Version,
	)
	if err != nil {
		return nil, err
	}

	job.Type = JobType(jobType)
	job.Status = Status(status)
	job.Description = description.String

	if job.Payload, err = ParseValue([]byte(payload)); err != nil {
		return nil, errors.Wrapf(err, "failed to decode payload for job %s", job.ID)
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &job.Metadata); err != nil {
			return nil, errors.Wrapf(err, "failed to decode metadata for job %s", job.ID)
		}
	}
	if pattern.Valid {
		p := Pattern(pattern.String)
		job.RecurrencePattern = &p
	}
	if errorMessage.Valid {
		msg := errorMessage.String
		job.ErrorMessage = &msg
	}
	if result.Valid {
		v, err := ParseValue([]byte(result.String))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode result for job %s", job.ID)
		}
		job.Result = &v
	}

	// Timestamps must parse; a failure indicates corruption or schema mismatch
	if job.ScheduledAt, err = db.ParseTime(scheduledAt); err != nil {
		return nil, err
	}
	if job.NextRunAt, err = db.ParseTime(nextRunAt); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}

	return &job, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := db.ParseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
