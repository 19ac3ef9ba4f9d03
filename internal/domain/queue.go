package domain

import "time"

// QueueStatus is the lifecycle state of a QueueItem.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusSkipped    QueueStatus = "skipped"
)

// QueueSource records what created a queue item.
type QueueSource string

const (
	QueueSourceDiscovery QueueSource = "discovery"
	QueueSourceGapFill   QueueSource = "gap_fill"
)

// PriorityComponents are the scorer outputs persisted with a queue item.
type PriorityComponents struct {
	RegionScore     int `db:"region_score"     json:"region_score"`
	TypeScore       int `db:"type_score"       json:"type_score"`
	PopularityScore int `db:"popularity_score" json:"popularity_score"`
	RecencyBonus    int `db:"recency_bonus"    json:"recency_bonus"`
}

// Total is the item's priority.
func (p PriorityComponents) Total() int {
	return p.RegionScore + p.TypeScore + p.PopularityScore + p.RecencyBonus
}

// QueueItem is one unit of fetch-and-persist work.
type QueueItem struct {
	ID          string      `db:"id"           json:"id"`
	ExternalID  int64       `db:"external_id"  json:"external_id"`
	ContentType ContentType `db:"content_type" json:"content_type"`
	JobID       *string     `db:"job_id"       json:"job_id,omitempty"`
	Source      QueueSource `db:"source"       json:"source"`
	Region      string      `db:"region"       json:"region"`
	Title       string      `db:"title"        json:"title"`
	PriorityComponents
	Priority    int         `db:"priority"     json:"priority"`
	Status      QueueStatus `db:"status"       json:"status"`
	Attempts    int         `db:"attempts"     json:"attempts"`
	MaxAttempts int         `db:"max_attempts" json:"max_attempts"`
	LastError   *string     `db:"last_error"   json:"last_error,omitempty"`
	AvailableAt time.Time   `db:"available_at" json:"available_at"`
	CreatedAt   time.Time   `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"   json:"updated_at"`
	ProcessedAt *time.Time  `db:"processed_at" json:"processed_at,omitempty"`
}

// Key returns the item's natural key.
func (q QueueItem) Key() ItemKey {
	return ItemKey{ExternalID: q.ExternalID, ContentType: q.ContentType}
}

// QueueCounts is the per-status queue breakdown.
type QueueCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// QueueFailure is one entry of the bounded failure history.
type QueueFailure struct {
	ExternalID  int64       `db:"external_id"  json:"external_id"`
	ContentType ContentType `db:"content_type" json:"content_type"`
	Attempts    int         `db:"attempts"     json:"attempts"`
	LastError   string      `db:"last_error"   json:"last_error"`
	UpdatedAt   time.Time   `db:"updated_at"   json:"updated_at"`
}
