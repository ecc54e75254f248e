package tmdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/semaphore"

	"liverank/rankservice/internal/kvcache"
	"liverank/rankservice/internal/metrics"
)

const (
	defaultBaseURL       = "https://api.themoviedb.org/3"
	defaultCacheTTL      = 30 * time.Minute
	defaultMaxConcurrent = 5
	defaultRetryBackoff  = 300 * time.Millisecond
)

var (
	ErrMissingCredentials = errors.New("tmdb credentials not configured")
	ErrUnauthorized       = errors.New("tmdb rejected credentials")

	apiKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9]{32}$`)
)

type Endpoint string

const (
	EndpointMovie Endpoint = "movie"
	EndpointTV    Endpoint = "tv"
	EndpointMulti Endpoint = "multi"
)

type Config struct {
	// BearerToken is the v4 read access token.
	BearerToken string
	// APIKey is the v3 api_key query credential.
	APIKey        string
	BaseURL       string
	Client        *http.Client
	Cache         kvcache.Store
	CacheTTL      time.Duration
	MaxConcurrent int
	RetryBackoff  time.Duration
	Logger        *slog.Logger
}

type Client struct {
	bearer   string
	apiKey   string
	baseURL  string
	http     *http.Client
	cache    kvcache.Store
	cacheTTL time.Duration
	limiter  *semaphore.Weighted
	retry    RetryConfig
	logger   *slog.Logger

	inFlight     atomic.Int64
	peakMu       sync.Mutex
	peakInFlight int64
}

type SearchResult struct {
	ID            int     `json:"id"`
	Title         string  `json:"title,omitempty"`
	Name          string  `json:"name,omitempty"`
	OriginalTitle string  `json:"original_title,omitempty"`
	OriginalName  string  `json:"original_name,omitempty"`
	Overview      string  `json:"overview,omitempty"`
	PosterPath    string  `json:"poster_path,omitempty"`
	BackdropPath  string  `json:"backdrop_path,omitempty"`
	VoteAverage   float64 `json:"vote_average,omitempty"`
	ReleaseDate   string  `json:"release_date,omitempty"`
	FirstAirDate  string  `json:"first_air_date,omitempty"`
	MediaType     string  `json:"media_type,omitempty"`
}

func (r SearchResult) DisplayTitle() string {
	for _, candidate := range []string{r.Title, r.Name, r.OriginalTitle, r.OriginalName} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}

func (r SearchResult) Year() int {
	date := r.ReleaseDate
	if date == "" {
		date = r.FirstAirDate
	}
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

type cachedSearch struct {
	Found  bool         `json:"found"`
	Result SearchResult `json:"result"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("tmdb HTTP %d: %s", e.code, e.body)
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	cache := cfg.Cache
	if cache == nil {
		cache = kvcache.NewMemory()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		bearer:   NormalizeToken(cfg.BearerToken),
		apiKey:   NormalizeToken(cfg.APIKey),
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		cache:    cache,
		cacheTTL: cacheTTL,
		limiter:  semaphore.NewWeighted(int64(maxConcurrent)),
		retry:    RetryConfig{MaxAttempts: 2, Delay: backoff},
		logger:   logger,
	}
}

// NormalizeToken strips surrounding quotes and a "Bearer " prefix that
// often sneak into environment values.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	token = strings.Trim(token, `"'`)
	if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	return strings.TrimSpace(token)
}

func (c *Client) Enabled() bool {
	return c.bearer != "" || c.apiKey != ""
}

// InFlight reports requests currently holding a limiter permit.
func (c *Client) InFlight() int64 {
	return c.inFlight.Load()
}

// PeakInFlight reports the highest concurrent permit count observed.
func (c *Client) PeakInFlight() int64 {
	c.peakMu.Lock()
	defer c.peakMu.Unlock()
	return c.peakInFlight
}

// Search returns the first result of a title search, or nil when TMDB has
// no match. Responses are cached per endpoint, language and query.
func (c *Client) Search(ctx context.Context, endpoint Endpoint, query, language string) (*SearchResult, error) {
	if !c.Enabled() {
		return nil, ErrMissingCredentials
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	cacheKey := "tmdb:" + string(endpoint) + "|" + language + "|" + query

	var cached cachedSearch
	if found, err := c.cache.Get(ctx, cacheKey, &cached); err == nil && found {
		metrics.CacheHitsTotal.WithLabelValues("tmdb").Inc()
		if !cached.Found {
			return nil, nil
		}
		result := cached.Result
		return &result, nil
	}
	metrics.CacheMissesTotal.WithLabelValues("tmdb").Inc()

	if err := c.limiter.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	c.enter()
	results, err := c.searchWithRetry(ctx, endpoint, query, language)
	c.leave()
	c.limiter.Release(1)
	if err != nil {
		return nil, err
	}

	entry := cachedSearch{}
	if len(results) > 0 {
		entry = cachedSearch{Found: true, Result: results[0]}
	}
	_ = c.cache.Set(ctx, cacheKey, entry, c.cacheTTL)
	if !entry.Found {
		return nil, nil
	}
	result := entry.Result
	return &result, nil
}

func (c *Client) enter() {
	current := c.inFlight.Add(1)
	metrics.TMDBInFlight.Inc()
	c.peakMu.Lock()
	if current > c.peakInFlight {
		c.peakInFlight = current
	}
	c.peakMu.Unlock()
}

func (c *Client) leave() {
	c.inFlight.Add(-1)
	metrics.TMDBInFlight.Dec()
}

func (c *Client) searchWithRetry(ctx context.Context, endpoint Endpoint, query, language string) ([]SearchResult, error) {
	var results []SearchResult
	err := RetryWithBackoff(ctx, c.retry, func() error {
		var err error
		results, err = c.searchAuthenticated(ctx, endpoint, query, language)
		return err
	})
	return results, err
}

// searchAuthenticated prefers the bearer token and, when it is rejected,
// retries once with the api key alone.
func (c *Client) searchAuthenticated(ctx context.Context, endpoint Endpoint, query, language string) ([]SearchResult, error) {
	results, err := c.doSearch(ctx, endpoint, query, language, c.bearer != "")
	if err == nil {
		return results, nil
	}
	var statusErr *statusError
	if errors.As(err, &statusErr) && statusErr.code == http.StatusUnauthorized {
		if c.bearer != "" && c.apiKey != "" {
			c.logger.Debug("tmdb bearer rejected, retrying with api key", slog.String("endpoint", string(endpoint)))
			results, err = c.doSearch(ctx, endpoint, query, language, false)
			if err == nil {
				return results, nil
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil, err
}

func (c *Client) doSearch(ctx context.Context, endpoint Endpoint, query, language string, useBearer bool) ([]SearchResult, error) {
	params := url.Values{
		"query":         {query},
		"language":      {language},
		"include_adult": {"false"},
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	reqURL := c.baseURL + "/search/" + string(endpoint) + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if useBearer {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.TMDBRequestDuration.WithLabelValues(string(endpoint)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TMDBRequestsTotal.WithLabelValues(string(endpoint), "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()
	metrics.TMDBRequestsTotal.WithLabelValues(string(endpoint), strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, err
	}
	var response searchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(response.Results))
	for _, r := range response.Results {
		// Multi search also returns people.
		if endpoint == EndpointMulti && r.MediaType != "" && r.MediaType != "movie" && r.MediaType != "tv" {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

// CredentialStatus describes configured credentials without exposing them.
type CredentialStatus struct {
	HasBearer        bool `json:"hasBearer"`
	BearerLength     int  `json:"bearerLength"`
	BearerLooksValid bool `json:"bearerLooksValid"`
	HasAPIKey        bool `json:"hasApiKey"`
	APIKeyLength     int  `json:"apiKeyLength"`
	APIKeyLooksValid bool `json:"apiKeyLooksValid"`
}

func (c *Client) CredentialStatus() CredentialStatus {
	return CredentialStatus{
		HasBearer:        c.bearer != "",
		BearerLength:     len(c.bearer),
		BearerLooksValid: strings.HasPrefix(c.bearer, "eyJ") && len(c.bearer) > 100,
		HasAPIKey:        c.apiKey != "",
		APIKeyLength:     len(c.apiKey),
		APIKeyLooksValid: apiKeyPattern.MatchString(c.apiKey),
	}
}
