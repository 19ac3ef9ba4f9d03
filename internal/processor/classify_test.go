package processor_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/catalog"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/processor"
)

var pqUniqueViolation = pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want processor.Outcome
	}{
		{"success", nil, processor.OutcomeCompleted},
		{"network", &catalog.Error{Kind: catalog.KindNetwork}, processor.OutcomeRetry},
		{"upstream", &catalog.Error{Kind: catalog.KindUpstream, StatusCode: 502}, processor.OutcomeRetry},
		{"rate limited", &catalog.Error{Kind: catalog.KindRateLimited, StatusCode: 429}, processor.OutcomeRetry},
		{"unexpected status", &catalog.Error{Kind: catalog.KindUnexpected, StatusCode: 418}, processor.OutcomeRetry},
		{"not found", &catalog.Error{Kind: catalog.KindNotFound, StatusCode: 404}, processor.OutcomeFailed},
		{"validation", &catalog.Error{Kind: catalog.KindValidation, Field: "id"}, processor.OutcomeFailed},
		{"breaker open", &catalog.Error{Kind: catalog.KindUnavailable}, processor.OutcomeReleased},
		{"unauthorized", &catalog.Error{Kind: catalog.KindUnauthorized, StatusCode: 401}, processor.OutcomeReleased},
		{"cancelled", fmt.Errorf("fetch: %w", context.Canceled), processor.OutcomeReleased},
		{"caller deadline", context.DeadlineExceeded, processor.OutcomeReleased},
		{"client timeout", &catalog.Error{
			Kind:  catalog.KindNetwork,
			Cause: &url.Error{Op: "Get", URL: "http://catalog/tv/1", Err: context.DeadlineExceeded},
		}, processor.OutcomeRetry},
		{"duplicate", processor.ErrDuplicate, processor.OutcomeSkipped},
		{"unique violation", fmt.Errorf("upsert: %w", &pqUniqueViolation), processor.OutcomeSkipped},
		{"store error", errors.New("connection refused"), processor.OutcomeRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, processor.Classify(tt.err))
		})
	}
}

func TestClassify_SlowCatalogIsRetried(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client := catalog.NewClient(catalog.Config{
		BaseURL: srv.URL,
		Timeout: 50 * time.Millisecond,
	}, logger.NewNop())

	_, err := client.Details(context.Background(), domain.ContentTypeTV, 1)
	require.Error(t, err)

	assert.Equal(t, catalog.KindNetwork, catalog.KindOf(err))
	assert.Equal(t, processor.OutcomeRetry, processor.Classify(err))
	assert.False(t, processor.Unreachable(err))
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	network := &catalog.Error{Kind: catalog.KindNetwork}
	limited := &catalog.Error{Kind: catalog.KindRateLimited}

	assert.Equal(t, 30*time.Second, processor.Backoff(network, 1, 30*time.Second, 5))
	assert.Equal(t, 90*time.Second, processor.Backoff(network, 3, 30*time.Second, 5))
	assert.Equal(t, 150*time.Second, processor.Backoff(limited, 1, 30*time.Second, 5))
	assert.Equal(t, 30*time.Second, processor.Backoff(network, 0, 30*time.Second, 5))
	assert.Greater(t,
		processor.Backoff(limited, 2, time.Minute, 5),
		processor.Backoff(network, 2, time.Minute, 5),
	)
}

func TestMapDetails(t *testing.T) {
	t.Parallel()

	poster := "/poster.jpg"
	empty := "  "
	runtime := 0
	d := &catalog.Details{
		ID:             1396,
		Name:           "Signal",
		OriginalName:   "시그널",
		Overview:       "",
		PosterPath:     &poster,
		BackdropPath:   &empty,
		FirstAirDate:   "2016-01-22",
		OriginCountry:  []string{"KR"},
		Genres:         []catalog.Genre{{ID: 18, Name: "Drama"}, {ID: 9648, Name: "Mystery"}},
		Runtime:        &runtime,
		EpisodeRunTime: []int{70},
		Popularity:     41.2,
		Credits: &catalog.CreditsBlock{
			Cast: []catalog.CastMember{
				{ID: 1, Name: "Lee Je-hoon", Character: "Park Hae-young", Order: 0},
				{ID: 1, Name: "Lee Je-hoon", Character: "Park Hae-young", Order: 3},
				{ID: 2, Name: "Kim Hye-soo", Character: "Cha Soo-hyun", Order: 1},
				{ID: 0, Name: "Unknown"},
			},
			Crew: []catalog.CrewMember{
				{ID: 3, Name: "Kim Won-seok", Job: "Director", Department: "Directing"},
				{ID: 3, Name: "Kim Won-seok", Job: "Director", Department: "Directing"},
				{ID: 1, Name: "Lee Je-hoon", Job: "Producer", Department: "Production"},
				{ID: 4, Name: "No Job"},
			},
		},
	}
	d.ContentType = "tv"

	rec, credits := processor.MapDetails(d)

	assert.Equal(t, "Signal", rec.Title)
	assert.Equal(t, "시그널", *rec.OriginalTitle)
	assert.Nil(t, rec.Overview, "empty overview maps to NULL")
	assert.Nil(t, rec.BackdropPath, "blank path maps to NULL")
	assert.Equal(t, "/poster.jpg", *rec.PosterPath)
	assert.Equal(t, []string{"Drama", "Mystery"}, rec.Genres)
	assert.Equal(t, 70, *rec.Runtime)
	assert.Equal(t, 2016, rec.ReleaseDate.Year())

	assert.True(t, credits.Reported)
	assert.Len(t, credits.People, 3, "people deduplicated across cast and crew")
	assert.Len(t, credits.Cast, 2)
	assert.Len(t, credits.Crew, 2)

	d.Credits = nil
	_, credits = processor.MapDetails(d)
	assert.False(t, credits.Reported, "a payload without credits must not clear stored links")
}

func TestMapPerson(t *testing.T) {
	t.Parallel()

	blank := " "
	imdb := "nm0000001"
	p := &catalog.PersonDetails{
		ID:                 10,
		Name:               " Lee ",
		Birthday:           "1984-03-02",
		PlaceOfBirth:       &blank,
		KnownForDepartment: "Acting",
		Gender:             2,
		AlsoKnownAs:        []string{"이"},
		ExternalIDs:        &catalog.ExternalID{IMDbID: &imdb},
	}

	profile := processor.MapPerson(p)

	assert.Equal(t, "Lee", profile.Name)
	assert.Nil(t, profile.Biography)
	assert.Nil(t, profile.PlaceOfBirth)
	assert.Nil(t, profile.Deathday)
	require.NotNil(t, profile.Birthday)
	assert.Equal(t, 1984, profile.Birthday.Year())
	require.NotNil(t, profile.KnownForDepartment)
	assert.Equal(t, "Acting", *profile.KnownForDepartment)
	require.NotNil(t, profile.IMDbID)
	assert.Equal(t, imdb, *profile.IMDbID)
	assert.Nil(t, profile.WikidataID)
}
