package domain

import (
	"fmt"
	"time"
)

// GapType names the signal that found a gap.
type GapType string

const (
	GapTypeSequential GapType = "sequential"
	GapTypePopularity GapType = "popularity"
	GapTypeTemporal   GapType = "temporal"
	GapTypeMetadata   GapType = "metadata"
)

// GapTypes lists every detector signal.
var GapTypes = []GapType{GapTypeSequential, GapTypePopularity, GapTypeTemporal, GapTypeMetadata}

// ParseGapType validates s as a GapType.
func ParseGapType(s string) (GapType, error) {
	for _, t := range GapTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown gap type %q", s)
}

// GapRecord is a tracked missing-or-incomplete item awaiting backfill.
type GapRecord struct {
	ID            string      `db:"id"             json:"id"`
	ExternalID    int64       `db:"external_id"    json:"external_id"`
	ContentType   ContentType `db:"content_type"   json:"content_type"`
	GapType       GapType     `db:"gap_type"       json:"gap_type"`
	PriorityScore float64     `db:"priority_score" json:"priority_score"`
	Reason        string      `db:"reason"         json:"reason"`
	Resolved      bool        `db:"resolved"       json:"resolved"`
	FillAttempts  int         `db:"fill_attempts"  json:"fill_attempts"`
	LastError     *string     `db:"last_error"     json:"last_error,omitempty"`
	DetectedAt    time.Time   `db:"detected_at"    json:"detected_at"`
	ResolvedAt    *time.Time  `db:"resolved_at"    json:"resolved_at,omitempty"`
	UpdatedAt     time.Time   `db:"updated_at"     json:"updated_at"`
}

// Key returns the gap's natural key.
func (g GapRecord) Key() ItemKey {
	return ItemKey{ExternalID: g.ExternalID, ContentType: g.ContentType}
}

// GapFinding is a detector result before it is upserted.
type GapFinding struct {
	ExternalID    int64
	ContentType   ContentType
	GapType       GapType
	PriorityScore float64
	Reason        string
}
