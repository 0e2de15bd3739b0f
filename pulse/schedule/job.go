// Package schedule holds the job model, its persistence and the recurrence calculator.
package schedule

import (
	"strings"
	"time"

	"github.com/teranos/pulsejobs/errors"
)

// JobType distinguishes single-shot from repeating jobs
type JobType string

const (
	TypeOneTime   JobType = "one-time"
	TypeRecurring JobType = "recurring"
)

// Pattern is the cadence of a recurring job
type Pattern string

const (
	PatternHourly  Pattern = "hourly"
	PatternDaily   Pattern = "daily"
	PatternWeekly  Pattern = "weekly"
	PatternMonthly Pattern = "monthly"
)

// Status is a job's lifecycle state
type Status string

const (
	StatusPending   Status = "pending"   // Waiting for its wake-up
	StatusRunning   Status = "running"   // An attempt is in flight
	StatusCompleted Status = "completed" // One-time job succeeded
	StatusFailed    Status = "failed"    // Retries exhausted
	StatusCancelled Status = "cancelled" // Cancelled by the owner
)

// IsTerminal reports whether no further executions can happen
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Limits on job fields
const (
	MaxNameLength        = 255
	MaxDescriptionLength = 4096
	MaxRetriesLimit      = 10
	DefaultMaxRetries    = 3
)

// MetadataHandler selects a named handler in the execution registry
const MetadataHandler = "handler"

// Job is a unit of scheduled work owned by a single user
type Job struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Payload     Value             `json:"payload"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	Type              JobType  `json:"type"`
	RecurrencePattern *Pattern `json:"recurrence_pattern,omitempty"` // Set iff Type is recurring

	ScheduledAt time.Time `json:"scheduled_at"`
	NextRunAt   time.Time `json:"next_run_at"`
	IsActive    bool      `json:"is_active"`
	Status      Status    `json:"status"`

	RetryCount     int `json:"retry_count"`
	MaxRetries     int `json:"max_retries"`
	TimeoutSeconds int `json:"timeout_seconds,omitempty"` // 0 = configured default

	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	Result       *Value     `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version is the stored row version this copy was read at.
	// Conditional writes succeed only against the same version.
	Version int `json:"version"`
}

// Clone returns a deep-enough copy for optimistic writes
func (j *Job) Clone() *Job {
	c := *j
	if j.Metadata != nil {
		c.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Pattern returns the recurrence pattern or "" for one-time jobs
func (j *Job) Pattern() Pattern {
	if j.RecurrencePattern == nil {
		return ""
	}
	return *j.RecurrencePattern
}

// Timeout returns the per-attempt timeout, falling back to def
func (j *Job) Timeout(def time.Duration) time.Duration {
	if j.TimeoutSeconds > 0 {
		return time.Duration(j.TimeoutSeconds) * time.Second
	}
	return def
}

// Spec is the caller-supplied description of a new job
type Spec struct {
	Name              string
	Description       string
	Payload           Value
	Metadata          map[string]string
	Type              JobType
	RecurrencePattern *Pattern
	ScheduledAt       time.Time
	MaxRetries        *int // nil = configured default
	TimeoutSeconds    int
}

// Patch is a partial update; nil fields are left unchanged
type Patch struct {
	Name              *string
	Description       *string
	Payload           *Value
	Metadata          map[string]string // replaces when non-nil
	Type              *JobType
	RecurrencePattern *Pattern
	ClearRecurrence   bool // drop the pattern (for switching to one-time)
	ScheduledAt       *time.Time
	MaxRetries        *int
	TimeoutSeconds    *int
}

// Apply merges the patch into a copy of job
func (p Patch) Apply(job *Job) *Job {
	out := job.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Payload != nil {
		out.Payload = *p.Payload
	}
	if p.Metadata != nil {
		out.Metadata = p.Metadata
	}
	if p.Type != nil {
		out.Type = *p.Type
	}
	if p.ClearRecurrence {
		out.RecurrencePattern = nil
	}
	if p.RecurrencePattern != nil {
		pattern := *p.RecurrencePattern
		out.RecurrencePattern = &pattern
	}
	if p.ScheduledAt != nil {
		out.ScheduledAt = *p.ScheduledAt
	}
	if p.MaxRetries != nil {
		out.MaxRetries = *p.MaxRetries
	}
	if p.TimeoutSeconds != nil {
		out.TimeoutSeconds = *p.TimeoutSeconds
	}
	return out
}

// ValidPattern reports whether p is a supported cadence
func ValidPattern(p Pattern) bool {
	switch p {
	case PatternHourly, PatternDaily, PatternWeekly, PatternMonthly:
		return true
	}
	return false
}

// Validate checks the caller-controlled fields of a job.
// Returned errors are validation errors (errors.ErrInvalidRequest).
func (j *Job) Validate() error {
	if strings.TrimSpace(j.OwnerID) == "" {
		return errors.NewValidationError("owner is required")
	}
	if strings.TrimSpace(j.Name) == "" {
		return errors.NewValidationError("name is required")
	}
	if len(j.Name) > MaxNameLength {
		return errors.NewValidationError("name must be at most %d characters", MaxNameLength)
	}
	if len(j.Description) > MaxDescriptionLength {
		return errors.NewValidationError("description must be at most %d characters", MaxDescriptionLength)
	}

	switch j.Type {
	case TypeOneTime:
		if j.RecurrencePattern != nil {
			return errors.NewValidationError("one-time jobs cannot have a recurrence pattern")
		}
	case TypeRecurring:
		if j.RecurrencePattern == nil {
			return errors.NewValidationError("recurring jobs require a recurrence pattern")
		}
		if !ValidPattern(*j.RecurrencePattern) {
			return errors.NewValidationError("unknown recurrence pattern %q", string(*j.RecurrencePattern))
		}
	default:
		return errors.NewValidationError("unknown job type %q", string(j.Type))
	}

	if j.ScheduledAt.IsZero() {
		return errors.NewValidationError("scheduled time is required")
	}
	if j.MaxRetries < 0 || j.MaxRetries > MaxRetriesLimit {
		return errors.NewValidationError("max retries must be between 0 and %d, got %d", MaxRetriesLimit, j.MaxRetries)
	}
	// RetryCount never exceeds MaxRetries, including after an update
	if j.MaxRetries < j.RetryCount {
		return errors.NewValidationError("max retries cannot be below the %d retries already used, got %d", j.RetryCount, j.MaxRetries)
	}
	if j.TimeoutSeconds < 0 {
		return errors.NewValidationError("timeout must be >= 0 seconds, got %d", j.TimeoutSeconds)
	}
	return nil
}
