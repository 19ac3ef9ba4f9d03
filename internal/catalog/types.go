package catalog

import (
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

const dateLayout = "2006-01-02"

// DiscoverParams filters one discover page.
type DiscoverParams struct {
	ContentType     domain.ContentType
	Page            int
	OriginCountries []string
	SortBy          string
	// Year restricts results to one release (movie) or first-air (tv) year.
	Year int
}

// Page is one page of list results.
type Page struct {
	Page         int
	TotalPages   int
	TotalResults int
	Items        []domain.CatalogItem
}

// ChangesPage is one page of the change feed.
type ChangesPage struct {
	Page       int
	TotalPages int
	IDs        []int64
}

type listResponse struct {
	Page         int          `json:"page"`
	TotalPages   int          `json:"total_pages"`
	TotalResults int          `json:"total_results"`
	Results      []listResult `json:"results"`
}

type listResult struct {
	ID               int64    `json:"id"`
	Title            string   `json:"title"`
	Name             string   `json:"name"`
	Popularity       float64  `json:"popularity"`
	OriginCountry    []string `json:"origin_country"`
	ReleaseDate      string   `json:"release_date"`
	FirstAirDate     string   `json:"first_air_date"`
	GenreIDs         []int    `json:"genre_ids"`
	OriginalLanguage string   `json:"original_language"`
	MediaType        string   `json:"media_type"`
}

// toPage converts a list payload, dropping entries without an id.
func (r *listResponse) toPage(contentType domain.ContentType) *Page {
	page := &Page{
		Page:         r.Page,
		TotalPages:   r.TotalPages,
		TotalResults: r.TotalResults,
		Items:        make([]domain.CatalogItem, 0, len(r.Results)),
	}

	for _, res := range r.Results {
		if res.ID <= 0 {
			continue
		}
		// Trending can mix in people; only keep the requested type.
		if res.MediaType != "" && res.MediaType != string(contentType) {
			continue
		}

		page.Items = append(page.Items, domain.CatalogItem{
			ExternalID:    res.ID,
			ContentType:   contentType,
			Title:         firstNonEmpty(res.Title, res.Name),
			Popularity:    res.Popularity,
			OriginCountry: res.OriginCountry,
			ReleaseDate:   parseDate(firstNonEmpty(res.ReleaseDate, res.FirstAirDate)),
			GenreIDs:      res.GenreIDs,
			OriginalLang:  res.OriginalLanguage,
		})
	}

	return page
}

type changesResponse struct {
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
	Results    []struct {
		ID    int64 `json:"id"`
		Adult *bool `json:"adult"`
	} `json:"results"`
}

type latestResponse struct {
	ID int64 `json:"id"`
}

// Genre is a named catalog genre.
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Country is a production country entry.
type Country struct {
	ISO string `json:"iso_3166_1"`
}

// CastMember is one performer from the credits block.
type CastMember struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Character   string  `json:"character"`
	Order       int     `json:"order"`
	ProfilePath *string `json:"profile_path"`
}

// CrewMember is one crew entry from the credits block.
type CrewMember struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Job         string  `json:"job"`
	Department  string  `json:"department"`
	ProfilePath *string `json:"profile_path"`
}

// CreditsBlock is the appended credits response.
type CreditsBlock struct {
	Cast []CastMember `json:"cast"`
	Crew []CrewMember `json:"crew"`
}

// Details is the typed detail payload for a movie or TV show. Movie and TV
// name the same concepts differently; accessors hide that.
type Details struct {
	ID                  int64         `json:"id"`
	Title               string        `json:"title"`
	Name                string        `json:"name"`
	OriginalTitle       string        `json:"original_title"`
	OriginalName        string        `json:"original_name"`
	Overview            string        `json:"overview"`
	PosterPath          *string       `json:"poster_path"`
	BackdropPath        *string       `json:"backdrop_path"`
	ReleaseDate         string        `json:"release_date"`
	FirstAirDate        string        `json:"first_air_date"`
	OriginCountry       []string      `json:"origin_country"`
	ProductionCountries []Country     `json:"production_countries"`
	OriginalLanguage    string        `json:"original_language"`
	Genres              []Genre       `json:"genres"`
	Popularity          float64       `json:"popularity"`
	VoteAverage         float64       `json:"vote_average"`
	VoteCount           int           `json:"vote_count"`
	Runtime             *int          `json:"runtime"`
	EpisodeRunTime      []int         `json:"episode_run_time"`
	Status              string        `json:"status"`
	Credits             *CreditsBlock `json:"credits"`

	ContentType domain.ContentType `json:"-"`
}

// DisplayTitle returns the localized title or name.
func (d *Details) DisplayTitle() string {
	return firstNonEmpty(d.Title, d.Name)
}

// OriginalDisplayTitle returns the original-language title or name.
func (d *Details) OriginalDisplayTitle() string {
	return firstNonEmpty(d.OriginalTitle, d.OriginalName)
}

// Released returns the release or first-air date.
func (d *Details) Released() *time.Time {
	return parseDate(firstNonEmpty(d.ReleaseDate, d.FirstAirDate))
}

// Countries returns origin countries, falling back to production countries.
func (d *Details) Countries() []string {
	if len(d.OriginCountry) > 0 {
		return d.OriginCountry
	}
	out := make([]string, 0, len(d.ProductionCountries))
	for _, c := range d.ProductionCountries {
		if c.ISO != "" {
			out = append(out, c.ISO)
		}
	}
	return out
}

// RuntimeMinutes returns the movie runtime or first episode runtime.
func (d *Details) RuntimeMinutes() *int {
	if d.Runtime != nil && *d.Runtime > 0 {
		return d.Runtime
	}
	if len(d.EpisodeRunTime) > 0 && d.EpisodeRunTime[0] > 0 {
		rt := d.EpisodeRunTime[0]
		return &rt
	}
	return nil
}

// validate rejects payloads missing the fields every record needs.
func (d *Details) validate(path string, wantID int64) error {
	if d.ID <= 0 || d.ID != wantID {
		return validationError(path, "id")
	}
	if strings.TrimSpace(d.DisplayTitle()) == "" {
		if d.ContentType == domain.ContentTypeTV {
			return validationError(path, "name")
		}
		return validationError(path, "title")
	}
	return nil
}

// PersonDetails is the person payload.
type PersonDetails struct {
	ID                 int64       `json:"id"`
	Name               string      `json:"name"`
	Biography          string      `json:"biography"`
	Birthday           string      `json:"birthday"`
	Deathday           string      `json:"deathday"`
	PlaceOfBirth       *string     `json:"place_of_birth"`
	KnownForDepartment string      `json:"known_for_department"`
	Gender             int         `json:"gender"`
	Popularity         float64     `json:"popularity"`
	ProfilePath        *string     `json:"profile_path"`
	AlsoKnownAs        []string    `json:"also_known_as"`
	ExternalIDs        *ExternalID `json:"external_ids"`
}

// ExternalID holds cross-reference ids for a person.
type ExternalID struct {
	IMDbID     *string `json:"imdb_id"`
	WikidataID *string `json:"wikidata_id"`
}

// Born returns the parsed birthday.
func (p *PersonDetails) Born() *time.Time {
	return parseDate(p.Birthday)
}

// Died returns the parsed deathday.
func (p *PersonDetails) Died() *time.Time {
	return parseDate(p.Deathday)
}

func (p *PersonDetails) validate(path string, wantID int64) error {
	if p.ID <= 0 || p.ID != wantID {
		return validationError(path, "id")
	}
	if strings.TrimSpace(p.Name) == "" {
		return validationError(path, "name")
	}
	return nil
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil
	}
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
