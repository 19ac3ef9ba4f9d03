package domain

import "time"

// Setting keys persisted in sync_settings.
const (
	SettingPaused = "paused"
)

// Setting is one persisted key/value row.
type Setting struct {
	Key       string    `db:"key"        json:"key"`
	Value     string    `db:"value"      json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
	UpdatedBy string    `db:"updated_by" json:"updated_by"`
}

// PauseState is the decoded pause flag with its provenance.
type PauseState struct {
	Paused    bool       `json:"paused"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	UpdatedBy string     `json:"updated_by,omitempty"`
}

// StatusReport is the read-only view returned by the status trigger.
type StatusReport struct {
	Pause          PauseState      `json:"pause"`
	ActiveJob      *SyncJob        `json:"active_job,omitempty"`
	LatestJob      *SyncJob        `json:"latest_job,omitempty"`
	Queue          QueueCounts     `json:"queue"`
	UnresolvedGaps int             `json:"unresolved_gaps"`
	GapsByType     map[GapType]int `json:"gaps_by_type"`
	Content        ContentTotals   `json:"content"`
	RecentFailures []QueueFailure  `json:"recent_failures"`
	GeneratedAt    time.Time       `json:"generated_at"`
}
