package schedule

import "time"

// Outcome is the result of one execution attempt
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed" // also the provisional outcome while in flight
)

// Execution records a single attempt of a job.
//
// It is appended before the capability is invoked with a provisional failed
// outcome and finalized once the attempt returns, so an attempt cut short by
// a crash still shows up in history.
type Execution struct {
	ID            string     `json:"id"` // PX... format
	JobID         string     `json:"job_id"`
	AttemptNumber int        `json:"attempt_number"` // 1-based: retry count at attempt time + 1
	Outcome       Outcome    `json:"outcome"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"` // nil while in flight
	DurationMs    *int       `json:"duration_ms,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	Result        *Value     `json:"result,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Finished reports whether the attempt has been finalized
func (e *Execution) Finished() bool {
	return e.CompletedAt != nil
}
