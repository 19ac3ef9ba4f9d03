// Package domain holds the catalog-sync data model shared by every
// pipeline stage.
package domain

import (
	"fmt"
	"time"
)

// ContentType is the catalog's media type and half of every natural key.
type ContentType string

const (
	ContentTypeMovie ContentType = "movie"
	ContentTypeTV    ContentType = "tv"
)

// ContentTypes lists every supported type in discovery order.
var ContentTypes = []ContentType{ContentTypeTV, ContentTypeMovie}

// ParseContentType validates s as a ContentType.
func ParseContentType(s string) (ContentType, error) {
	switch ContentType(s) {
	case ContentTypeMovie, ContentTypeTV:
		return ContentType(s), nil
	default:
		return "", fmt.Errorf("unknown content type %q", s)
	}
}

// ItemKey is the natural key shared by content, queue and gap rows.
type ItemKey struct {
	ExternalID  int64       `db:"external_id"  json:"external_id"`
	ContentType ContentType `db:"content_type" json:"content_type"`
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s:%d", k.ContentType, k.ExternalID)
}

// CatalogItem is a discovery result before it is persisted.
type CatalogItem struct {
	ExternalID     int64
	ContentType    ContentType
	Title          string
	Popularity     float64
	OriginCountry  []string
	ReleaseDate    *time.Time
	GenreIDs       []int
	OriginalLang   string
	DiscoveredFrom string
}

// Key returns the item's natural key.
func (c CatalogItem) Key() ItemKey {
	return ItemKey{ExternalID: c.ExternalID, ContentType: c.ContentType}
}

// ContentRecord is the canonical persisted title.
type ContentRecord struct {
	ID               string      `db:"id"                json:"id"`
	ExternalID       int64       `db:"external_id"       json:"external_id"`
	ContentType      ContentType `db:"content_type"      json:"content_type"`
	Title            string      `db:"title"             json:"title"`
	OriginalTitle    *string     `db:"original_title"    json:"original_title,omitempty"`
	Overview         *string     `db:"overview"          json:"overview,omitempty"`
	PosterPath       *string     `db:"poster_path"       json:"poster_path,omitempty"`
	BackdropPath     *string     `db:"backdrop_path"     json:"backdrop_path,omitempty"`
	ReleaseDate      *time.Time  `db:"release_date"      json:"release_date,omitempty"`
	OriginCountry    []string    `db:"-"                 json:"origin_country"`
	OriginalLanguage *string     `db:"original_language" json:"original_language,omitempty"`
	Genres           []string    `db:"-"                 json:"genres"`
	Popularity       float64     `db:"popularity"        json:"popularity"`
	VoteAverage      float64     `db:"vote_average"      json:"vote_average"`
	VoteCount        int         `db:"vote_count"        json:"vote_count"`
	Runtime          *int        `db:"runtime"           json:"runtime,omitempty"`
	Status           *string     `db:"status"            json:"status,omitempty"`
	CreatedAt        time.Time   `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"        json:"updated_at"`
}

// Person is a contributor upserted from credits.
type Person struct {
	ExternalID  int64   `db:"external_id"  json:"external_id"`
	Name        string  `db:"name"         json:"name"`
	ProfilePath *string `db:"profile_path" json:"profile_path,omitempty"`
}

// PersonProfile is the detail refresh for one contributor. Optional
// fields left nil keep the stored value.
type PersonProfile struct {
	ExternalID         int64
	Name               string
	Biography          *string
	Birthday           *time.Time
	Deathday           *time.Time
	PlaceOfBirth       *string
	KnownForDepartment *string
	Gender             int
	Popularity         float64
	ProfilePath        *string
	AlsoKnownAs        []string
	IMDbID             *string
	WikidataID         *string
}

// CastLink ties a person to a title as a performer.
type CastLink struct {
	PersonID  int64  `db:"person_external_id" json:"person_external_id"`
	Character string `db:"character_name"     json:"character"`
	Order     int    `db:"billing_order"      json:"order"`
}

// CrewLink ties a person to a title as crew.
type CrewLink struct {
	PersonID   int64  `db:"person_external_id" json:"person_external_id"`
	Job        string `db:"job"                json:"job"`
	Department string `db:"department"         json:"department"`
}

// Credits bundles the contributor data extracted from one details payload.
// Reported is false when the payload carried no credits block at all.
type Credits struct {
	Reported bool
	People   []Person
	Cast     []CastLink
	Crew     []CrewLink
}

// ContentTotals summarizes the persisted set.
type ContentTotals struct {
	Total          int `json:"total"`
	Movies         int `json:"movies"`
	TV             int `json:"tv"`
	People         int `json:"people"`
	PeopleEnriched int `json:"people_enriched"`
}
