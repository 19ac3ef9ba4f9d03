// Package catalog is the read-only client for the external content catalog.
// Calls are serialized behind a minimum inter-call delay and guarded by a
// circuit breaker; every failure is returned as a classified *Error.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
)

const (
	defaultBaseURL          = "https://api.themoviedb.org/3"
	defaultTimeout          = 15 * time.Second
	defaultBreakerFailures  = 5
	defaultBreakerOpen      = 30 * time.Second
	breakerHalfOpenRequests = 1
	detailsAppend           = "credits"
	personAppend            = "external_ids"
	maxResponseBytes        = 8 << 20
	breakerName             = "catalog"
)

// Config configures a Client.
type Config struct {
	BaseURL         string
	APIKey          string
	Language        string
	Timeout         time.Duration
	MinDelay        time.Duration
	MaxDelay        time.Duration
	BreakerFailures int
	BreakerOpen     time.Duration
}

// StateObserver is notified on circuit breaker transitions.
type StateObserver func(name, from, to string)

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithStateObserver registers a breaker transition observer.
func WithStateObserver(obs StateObserver) Option {
	return func(c *Client) { c.observer = obs }
}

// Client talks to the external catalog.
type Client struct {
	baseURL  string
	apiKey   string
	language string
	http     *http.Client
	limiter  *adaptiveLimiter
	breaker  *gobreaker.CircuitBreaker[[]byte]
	observer StateObserver
	log      logger.Logger
}

// NewClient creates a catalog client.
func NewClient(cfg Config, log logger.Logger, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = defaultBreakerFailures
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = defaultBreakerOpen
	}

	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		language: cfg.Language,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  newAdaptiveLimiter(cfg.MinDelay, cfg.MaxDelay),
		log:      log.With(logger.Component("catalog")),
	}
	for _, opt := range opts {
		opt(c)
	}

	threshold := uint32(cfg.BreakerFailures) //nolint:gosec // validated positive above
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: breakerHalfOpenRequests,
		Timeout:     cfg.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAgainstBreaker(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("Catalog circuit breaker state change",
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
			if c.observer != nil {
				c.observer(name, from.String(), to.String())
			}
		},
	})

	return c
}

// CurrentDelay returns the limiter's current minimum inter-call delay.
func (c *Client) CurrentDelay() time.Duration {
	return c.limiter.Delay()
}

// Discover returns one page of the discover endpoint.
func (c *Client) Discover(ctx context.Context, params DiscoverParams) (*Page, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(max(params.Page, 1)))
	if params.SortBy != "" {
		query.Set("sort_by", params.SortBy)
	}
	if len(params.OriginCountries) > 0 {
		query.Set("with_origin_country", strings.Join(params.OriginCountries, "|"))
	}
	if params.Year > 0 {
		yearParam := "primary_release_year"
		if params.ContentType == domain.ContentTypeTV {
			yearParam = "first_air_date_year"
		}
		query.Set(yearParam, strconv.Itoa(params.Year))
	}

	var resp listResponse
	if err := c.get(ctx, "/discover/"+string(params.ContentType), query, &resp); err != nil {
		return nil, err
	}
	return resp.toPage(params.ContentType), nil
}

// Trending returns one page of the weekly trending list.
func (c *Client) Trending(ctx context.Context, contentType domain.ContentType, page int) (*Page, error) {
	return c.list(ctx, "/trending/"+string(contentType)+"/week", contentType, page)
}

// Popular returns one page of the popular list.
func (c *Client) Popular(ctx context.Context, contentType domain.ContentType, page int) (*Page, error) {
	return c.list(ctx, "/"+string(contentType)+"/popular", contentType, page)
}

func (c *Client) list(ctx context.Context, path string, contentType domain.ContentType, page int) (*Page, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(max(page, 1)))

	var resp listResponse
	if err := c.get(ctx, path, query, &resp); err != nil {
		return nil, err
	}
	return resp.toPage(contentType), nil
}

// Details fetches the full record for one title with credits appended.
func (c *Client) Details(ctx context.Context, contentType domain.ContentType, id int64) (*Details, error) {
	path := fmt.Sprintf("/%s/%d", contentType, id)
	query := url.Values{}
	query.Set("append_to_response", detailsAppend)

	var details Details
	if err := c.get(ctx, path, query, &details); err != nil {
		return nil, err
	}

	details.ContentType = contentType
	if err := details.validate(path, id); err != nil {
		return nil, err
	}
	return &details, nil
}

// Person fetches the profile of one contributor with external ids appended.
func (c *Client) Person(ctx context.Context, id int64) (*PersonDetails, error) {
	path := fmt.Sprintf("/person/%d", id)
	query := url.Values{}
	query.Set("append_to_response", personAppend)

	var person PersonDetails
	if err := c.get(ctx, path, query, &person); err != nil {
		return nil, err
	}
	if err := person.validate(path, id); err != nil {
		return nil, err
	}
	return &person, nil
}

// Changes returns one page of ids changed between start and end.
func (c *Client) Changes(
	ctx context.Context,
	contentType domain.ContentType,
	start, end time.Time,
	page int,
) (*ChangesPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(max(page, 1)))
	query.Set("start_date", start.Format(dateLayout))
	query.Set("end_date", end.Format(dateLayout))

	var resp changesResponse
	if err := c.get(ctx, "/"+string(contentType)+"/changes", query, &resp); err != nil {
		return nil, err
	}

	out := &ChangesPage{Page: resp.Page, TotalPages: resp.TotalPages, IDs: make([]int64, 0, len(resp.Results))}
	for _, r := range resp.Results {
		if r.ID > 0 && (r.Adult == nil || !*r.Adult) {
			out.IDs = append(out.IDs, r.ID)
		}
	}
	return out, nil
}

// Latest returns the newest external id the catalog has issued for a type.
func (c *Client) Latest(ctx context.Context, contentType domain.ContentType) (int64, error) {
	path := "/" + string(contentType) + "/latest"

	var resp latestResponse
	if err := c.get(ctx, path, url.Values{}, &resp); err != nil {
		return 0, err
	}
	if resp.ID <= 0 {
		return 0, validationError(path, "id")
	}
	return resp.ID, nil
}

// get performs one limited, breaker-guarded GET and decodes the JSON body.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, path, query)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &Error{Kind: KindUnavailable, Path: path, Cause: err}
		}
		return err
	}

	if decodeErr := json.Unmarshal(body, out); decodeErr != nil {
		return &Error{Kind: KindValidation, Path: path, Field: "body", Cause: decodeErr}
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("catalog rate limiter: %w", err)
	}

	if c.language != "" && query.Get("language") == "" {
		query.Set("language", c.language)
	}

	reqURL := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("catalog new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, doErr := c.http.Do(req)
	if doErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ClassifyNetworkError(doErr, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		if resp.StatusCode == http.StatusTooManyRequests {
			delay := c.limiter.Slow()
			c.log.Warn("Catalog rate limit hit, slowing down",
				logger.String("path", path),
				logger.Duration("delay", delay),
			)
		}
		return nil, ClassifyHTTPStatus(resp.StatusCode, path)
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if readErr != nil {
		return nil, ClassifyNetworkError(readErr, path)
	}

	c.limiter.Recover()
	return body, nil
}
