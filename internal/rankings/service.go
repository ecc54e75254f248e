// Package rankings assembles the ranking datasets served by the API: Netflix
// weekly buckets with the unified leaderboard, per-country Top 10 lists,
// 91-day most popular buckets, and the combined cross-platform rankings built
// from ingested per-platform lists.
package rankings

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"liverank/rankservice/internal/domain"
	"liverank/rankservice/internal/kvcache"
	"liverank/rankservice/internal/ranking"
	"liverank/rankservice/internal/sheets"
)

const (
	bucketLimit       = 10
	ingestLimit       = 10
	missingIngestRank = 999

	defaultWeeklyTTL   = 24 * time.Hour
	defaultRankingsTTL = 7 * 24 * time.Hour
)

var (
	ErrUpstream           = errors.New("upstream dataset unavailable")
	ErrNoData             = errors.New("no ranking data")
	ErrUnsupportedCountry = errors.New("unsupported country")
	ErrInvalidWeek        = errors.New("invalid week")
	ErrNotConfigured      = errors.New("dataset source not configured")
)

// RowSource loads raw sheets from a path or URL.
type RowSource interface {
	Load(ctx context.Context, location string) ([]sheets.Sheet, error)
}

// Enricher attaches posters and localized titles. Implementations must not
// fail; misses leave items untouched apart from fallback posters.
type Enricher interface {
	EnrichItems(ctx context.Context, items []domain.RankedItem, limit int) []domain.RankedItem
	EnrichPopular(ctx context.Context, rows []domain.PopularRow, limit int) []domain.PopularRow
	EnrichEntries(ctx context.Context, entries []domain.CrossPlatformEntry, limit int) []domain.CrossPlatformEntry
}

type Config struct {
	GlobalSource       string
	CountrySource      string
	PopularSource      string
	RemoteCountryURL   string
	SupportedCountries []string

	WeeklyTTL   time.Duration
	RankingsTTL time.Duration

	EnrichLimitWeekly  int
	EnrichLimitCountry int
	EnrichLimitPopular int
	EnrichOnIngest     bool
}

type Service struct {
	cfg      Config
	source   RowSource
	engine   *ranking.Engine
	enricher Enricher
	store    kvcache.Store
	datasets *kvcache.Loader
	combined *kvcache.Loader
	logger   *slog.Logger
}

type Option func(*Service)

func WithEnricher(enricher Enricher) Option {
	return func(s *Service) {
		s.enricher = enricher
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(cfg Config, source RowSource, engine *ranking.Engine, store kvcache.Store, options ...Option) *Service {
	if cfg.WeeklyTTL <= 0 {
		cfg.WeeklyTTL = defaultWeeklyTTL
	}
	if cfg.RankingsTTL <= 0 {
		cfg.RankingsTTL = defaultRankingsTTL
	}
	cfg.SupportedCountries = normalizeCountries(cfg.SupportedCountries)

	s := &Service{
		cfg:      cfg,
		source:   source,
		engine:   engine,
		store:    store,
		datasets: kvcache.NewLoader(store, "datasets"),
		combined: kvcache.NewLoader(store, "rankings"),
		logger:   slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(s)
		}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Service) SupportedCountries() []string {
	return append([]string(nil), s.cfg.SupportedCountries...)
}

// Weekly returns the Top 10 of each bucket for the latest week and the
// unified leaderboard over every loaded week. enrich < 0 selects the
// configured default lookup limit.
func (s *Service) Weekly(ctx context.Context, enrich int) (domain.WeeklyResponse, error) {
	dataset, err := s.weeklyDataset(ctx)
	if err != nil {
		return domain.WeeklyResponse{}, err
	}

	resp := domain.WeeklyResponse{
		Status:     domain.StatusOf(len(dataset.Rows)),
		Buckets:    emptyRankedBuckets(),
		UnifiedTop: []domain.RankedItem{},
		Dropped:    dataset.Dropped,
	}
	start, end, ok := ranking.LatestWeek(dataset.Rows)
	if !ok {
		return resp, nil
	}
	resp.WeekStart, resp.WeekEnd = start, end

	limit := pickLimit(enrich, s.cfg.EnrichLimitWeekly)
	latest := ranking.Partition(ranking.FilterWeek(dataset.Rows, start))
	resp.Buckets = domain.RankedBuckets{
		TVEnglish:       s.enrichItems(ctx, ranking.TopN(latest.TVEnglish, bucketLimit), min(limit, bucketLimit)),
		TVNonEnglish:    s.enrichItems(ctx, ranking.TopN(latest.TVNonEnglish, bucketLimit), min(limit, bucketLimit)),
		FilmsEnglish:    s.enrichItems(ctx, ranking.TopN(latest.FilmsEnglish, bucketLimit), min(limit, bucketLimit)),
		FilmsNonEnglish: s.enrichItems(ctx, ranking.TopN(latest.FilmsNonEnglish, bucketLimit), min(limit, bucketLimit)),
	}
	unified := s.engine.UnifiedTop(ranking.Partition(dataset.Rows), ranking.DefaultUnifiedLimit)
	resp.UnifiedTop = s.enrichItems(ctx, unified, limit)
	return resp, nil
}

// Country returns the Top 10 of one country for week, or for the country's
// latest week when week is empty.
func (s *Service) Country(ctx context.Context, code, week string, enrich int) (domain.CountryResponse, error) {
	country, err := s.resolveCountry(code)
	if err != nil {
		return domain.CountryResponse{}, err
	}
	requested, err := parseWeekParam(week)
	if err != nil {
		return domain.CountryResponse{}, err
	}

	dataset, err := s.countryDataset(ctx)
	if err != nil {
		return domain.CountryResponse{}, err
	}
	rows := filterCountry(dataset.Rows, country)
	if requested == "" {
		latest, _, ok := ranking.LatestWeek(rows)
		if !ok {
			return domain.CountryResponse{}, ErrNoData
		}
		requested = latest
	}
	rows = ranking.FilterWeek(rows, requested)
	if len(rows) == 0 {
		return domain.CountryResponse{}, ErrNoData
	}

	items := ranking.TopN(rows, bucketLimit)
	for i := range items {
		items[i].Country = country
	}
	return domain.CountryResponse{
		Status:    domain.StatusOK,
		Country:   country,
		WeekStart: rows[0].WeekStart,
		WeekEnd:   rows[0].WeekEnd,
		Items:     s.enrichItems(ctx, items, pickLimit(enrich, s.cfg.EnrichLimitCountry)),
	}, nil
}

// Popular returns the four 91-day buckets, each ordered by source rank when
// the export carries one and by views otherwise.
func (s *Service) Popular(ctx context.Context, enrich int) (domain.PopularResponse, error) {
	dataset, err := s.popularDataset(ctx)
	if err != nil {
		return domain.PopularResponse{}, err
	}

	var buckets domain.PopularBuckets
	for _, row := range dataset.Rows {
		bucket := buckets.Bucket(row.Category, row.Language)
		*bucket = append(*bucket, row)
	}
	limit := pickLimit(enrich, s.cfg.EnrichLimitPopular)
	for _, bucket := range []*[]domain.PopularRow{
		&buckets.TVEnglish, &buckets.TVNonEnglish, &buckets.FilmsEnglish, &buckets.FilmsNonEnglish,
	} {
		sorted := sortPopular(*bucket)
		if s.enricher != nil && limit > 0 {
			sorted = s.enricher.EnrichPopular(ctx, sorted, limit)
		}
		*bucket = sorted
	}
	return domain.PopularResponse{
		Status:  domain.StatusOf(len(dataset.Rows)),
		Buckets: buckets,
		Dropped: dataset.Dropped,
	}, nil
}

func (s *Service) enrichItems(ctx context.Context, items []domain.RankedItem, limit int) []domain.RankedItem {
	if s.enricher == nil {
		return items
	}
	return s.enricher.EnrichItems(ctx, items, limit)
}

func (s *Service) resolveCountry(code string) (string, error) {
	country := canonicalCountry(code)
	if country == "" || !slices.Contains(s.cfg.SupportedCountries, country) {
		return "", ErrUnsupportedCountry
	}
	return country, nil
}

func pickLimit(requested, fallback int) int {
	if requested < 0 {
		return fallback
	}
	return requested
}

func emptyRankedBuckets() domain.RankedBuckets {
	return domain.RankedBuckets{
		TVEnglish:       []domain.RankedItem{},
		TVNonEnglish:    []domain.RankedItem{},
		FilmsEnglish:    []domain.RankedItem{},
		FilmsNonEnglish: []domain.RankedItem{},
	}
}

func normalizeCountries(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		code = canonicalCountry(code)
		if code != "" && !slices.Contains(out, code) {
			out = append(out, code)
		}
	}
	return out
}

// canonicalCountry upper-cases a code and maps the ISO-3 spelling of Korea,
// which appears in some country exports, to its ISO-2 code.
func canonicalCountry(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "KOR" {
		return "KR"
	}
	return code
}

func filterCountry(rows []domain.WeeklyRow, country string) []domain.WeeklyRow {
	out := make([]domain.WeeklyRow, 0, len(rows))
	for _, row := range rows {
		if canonicalCountry(row.CountryCode) == country {
			out = append(out, row)
		}
	}
	return out
}
