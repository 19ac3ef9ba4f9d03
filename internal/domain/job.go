package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a SyncJob.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ErrInvalidTransition is returned for a job status change the state
// machine does not allow.
var ErrInvalidTransition = errors.New("invalid job status transition")

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusFailed},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed},
}

// ValidateJobTransition reports whether a job may move from one status to
// another. Completed and failed are terminal.
func ValidateJobTransition(from, to JobStatus) error {
	for _, allowed := range jobTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// RegionCounts maps a region bucket to the number of items it contributed.
// Informational only; never enforced as a cap.
type RegionCounts map[string]int

// Value implements driver.Valuer for JSONB storage.
func (r RegionCounts) Value() (driver.Value, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner for JSONB storage.
func (r *RegionCounts) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*r = RegionCounts{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan region counts: unsupported type %T", src)
	}
	return json.Unmarshal(data, r)
}

// SyncJob tracks one launch window's discovery and drain.
type SyncJob struct {
	ID                  string       `db:"id"                   json:"id"`
	Status              JobStatus    `db:"status"               json:"status"`
	Trigger             string       `db:"trigger"              json:"trigger"`
	Quota               int          `db:"quota"                json:"quota"`
	Discovered          int          `db:"discovered"           json:"discovered"`
	Queued              int          `db:"queued"               json:"queued"`
	Processed           int          `db:"processed"            json:"processed"`
	Succeeded           int          `db:"succeeded"            json:"succeeded"`
	Failed              int          `db:"failed"               json:"failed"`
	Skipped             int          `db:"skipped"              json:"skipped"`
	RegionCounts        RegionCounts `db:"region_counts"        json:"region_counts"`
	ConsecutiveFailures int          `db:"consecutive_failures" json:"consecutive_failures"`
	LastError           *string      `db:"last_error"           json:"last_error,omitempty"`
	StartedAt           *time.Time   `db:"started_at"           json:"started_at,omitempty"`
	CompletedAt         *time.Time   `db:"completed_at"         json:"completed_at,omitempty"`
	CreatedAt           time.Time    `db:"created_at"           json:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at"           json:"updated_at"`
}

// JobProgress is an incremental counter update applied after a batch.
type JobProgress struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}
