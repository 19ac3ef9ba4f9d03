package processor

import (
	"strings"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/catalog"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

// MapDetails converts a validated details payload into the persisted record
// and its credits. Empty strings become NULL so an upsert never blanks a
// stored value.
func MapDetails(d *catalog.Details) (*domain.ContentRecord, domain.Credits) {
	rec := &domain.ContentRecord{
		ExternalID:       d.ID,
		ContentType:      d.ContentType,
		Title:            strings.TrimSpace(d.DisplayTitle()),
		OriginalTitle:    optional(d.OriginalDisplayTitle()),
		Overview:         optional(d.Overview),
		PosterPath:       optionalPtr(d.PosterPath),
		BackdropPath:     optionalPtr(d.BackdropPath),
		ReleaseDate:      d.Released(),
		OriginCountry:    d.Countries(),
		OriginalLanguage: optional(d.OriginalLanguage),
		Genres:           genreNames(d.Genres),
		Popularity:       d.Popularity,
		VoteAverage:      d.VoteAverage,
		VoteCount:        d.VoteCount,
		Runtime:          d.RuntimeMinutes(),
		Status:           optional(d.Status),
	}

	return rec, mapCredits(d.Credits)
}

func genreNames(genres []catalog.Genre) []string {
	names := make([]string, 0, len(genres))
	for _, g := range genres {
		if g.Name != "" {
			names = append(names, g.Name)
		}
	}
	return names
}

type castKey struct {
	person    int64
	character string
}

type crewKey struct {
	person int64
	job    string
}

// mapCredits flattens the credits block. Each person appears once, and each
// cast (person, character) and crew (person, job) pair appears once, matching
// the link tables' primary keys.
func mapCredits(block *catalog.CreditsBlock) domain.Credits {
	var credits domain.Credits
	if block == nil {
		return credits
	}
	credits.Reported = true

	seenPeople := make(map[int64]struct{})
	addPerson := func(id int64, name string, profile *string) bool {
		if id <= 0 || strings.TrimSpace(name) == "" {
			return false
		}
		if _, ok := seenPeople[id]; !ok {
			seenPeople[id] = struct{}{}
			credits.People = append(credits.People, domain.Person{
				ExternalID:  id,
				Name:        name,
				ProfilePath: optionalPtr(profile),
			})
		}
		return true
	}

	seenCast := make(map[castKey]struct{})
	for _, c := range block.Cast {
		if !addPerson(c.ID, c.Name, c.ProfilePath) {
			continue
		}
		key := castKey{person: c.ID, character: c.Character}
		if _, dup := seenCast[key]; dup {
			continue
		}
		seenCast[key] = struct{}{}
		credits.Cast = append(credits.Cast, domain.CastLink{PersonID: c.ID, Character: c.Character, Order: c.Order})
	}

	seenCrew := make(map[crewKey]struct{})
	for _, c := range block.Crew {
		if c.Job == "" || !addPerson(c.ID, c.Name, c.ProfilePath) {
			continue
		}
		key := crewKey{person: c.ID, job: c.Job}
		if _, dup := seenCrew[key]; dup {
			continue
		}
		seenCrew[key] = struct{}{}
		credits.Crew = append(credits.Crew, domain.CrewLink{PersonID: c.ID, Job: c.Job, Department: c.Department})
	}

	return credits
}

// MapPerson converts a person payload into a profile refresh. Blank text
// fields stay nil so the stored value survives.
func MapPerson(p *catalog.PersonDetails) domain.PersonProfile {
	profile := domain.PersonProfile{
		ExternalID:         p.ID,
		Name:               strings.TrimSpace(p.Name),
		Biography:          optional(p.Biography),
		Birthday:           p.Born(),
		Deathday:           p.Died(),
		PlaceOfBirth:       optionalPtr(p.PlaceOfBirth),
		KnownForDepartment: optional(p.KnownForDepartment),
		Gender:             p.Gender,
		Popularity:         p.Popularity,
		ProfilePath:        optionalPtr(p.ProfilePath),
		AlsoKnownAs:        p.AlsoKnownAs,
	}
	if p.ExternalIDs != nil {
		profile.IMDbID = optionalPtr(p.ExternalIDs.IMDbID)
		profile.WikidataID = optionalPtr(p.ExternalIDs.WikidataID)
	}
	return profile
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func optionalPtr(s *string) *string {
	if s == nil {
		return nil
	}
	return optional(*s)
}
