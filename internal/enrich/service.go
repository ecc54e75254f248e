// Package enrich attaches posters and localized titles from TMDB to ranking
// items. Enrichment is best effort: every failure degrades to the local
// poster table and never fails the caller.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"golang.org/x/sync/errgroup"

	"liverank/rankservice/internal/cascade"
	"liverank/rankservice/internal/domain"
	"liverank/rankservice/internal/providers/tmdb"
)

const (
	DefaultLimit       = 40
	posterSize         = "w342"
	backdropSize       = "w780"
	defaultFanOutLimit = 10
)

// Searcher is the subset of the TMDB client used for resolution.
type Searcher interface {
	Enabled() bool
	Search(ctx context.Context, endpoint tmdb.Endpoint, query, language string) (*tmdb.SearchResult, error)
}

// Metadata is the resolved record for one title.
type Metadata struct {
	TMDBID         int    `json:"tmdbId"`
	MediaType      string `json:"mediaType,omitempty"`
	Poster         string `json:"poster,omitempty"`
	LocalizedTitle string `json:"localizedTitle,omitempty"`
	Year           int    `json:"year,omitempty"`
	Overview       string `json:"overview,omitempty"`
}

type Service struct {
	searcher  Searcher
	languages []string
	misses    *MissLog
	logger    *slog.Logger
	fanOut    int
}

type Option func(*Service)

func WithLanguages(languages ...string) Option {
	return func(s *Service) {
		if len(languages) > 0 {
			s.languages = append([]string(nil), languages...)
		}
	}
}

func WithMissLog(misses *MissLog) Option {
	return func(s *Service) {
		s.misses = misses
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithFanOut bounds how many titles of one batch resolve concurrently. The
// searcher's own limiter still bounds outbound calls process-wide.
func WithFanOut(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.fanOut = n
		}
	}
}

func NewService(searcher Searcher, options ...Option) *Service {
	s := &Service{
		searcher:  searcher,
		languages: []string{"ko-KR", "en-US"},
		logger:    slog.Default(),
		fanOut:    defaultFanOutLimit,
	}
	for _, option := range options {
		if option != nil {
			option(s)
		}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.misses == nil {
		s.misses = NewMissLog(s.logger, 5, nil)
	}
	return s
}

func (s *Service) Misses() *MissLog {
	return s.misses
}

func endpointsFor(category domain.Category) []tmdb.Endpoint {
	switch category {
	case domain.CategoryFilms:
		return []tmdb.Endpoint{tmdb.EndpointMovie, tmdb.EndpointMulti}
	case domain.CategoryTV:
		return []tmdb.Endpoint{tmdb.EndpointTV, tmdb.EndpointMulti}
	default:
		return []tmdb.Endpoint{tmdb.EndpointMulti}
	}
}

type attempt struct {
	endpoint tmdb.Endpoint
	language string
	query    string
}

func (s *Service) attempts(title string, category domain.Category) []attempt {
	variants := QueryVariants(title)
	endpoints := endpointsFor(category)
	out := make([]attempt, 0, len(endpoints)*len(s.languages)*len(variants))
	for _, endpoint := range endpoints {
		for _, language := range s.languages {
			for _, query := range variants {
				out = append(out, attempt{endpoint: endpoint, language: language, query: query})
			}
		}
	}
	return out
}

// Resolve searches TMDB for a title, trying endpoint, then language, then
// query variant, and returns the first match. A miss is recorded when
// nothing matches.
func (s *Service) Resolve(ctx context.Context, title string, category domain.Category) (*Metadata, bool) {
	if s.searcher == nil || !s.searcher.Enabled() || ctx.Err() != nil {
		return nil, false
	}
	var credentialErr bool
	result, ok := cascade.First(s.attempts(title, category), func(a attempt) (*tmdb.SearchResult, bool) {
		if credentialErr || ctx.Err() != nil {
			return nil, false
		}
		found, err := s.searcher.Search(ctx, a.endpoint, a.query, a.language)
		if err != nil {
			if errors.Is(err, tmdb.ErrMissingCredentials) || errors.Is(err, tmdb.ErrUnauthorized) {
				credentialErr = true
			}
			s.logger.Debug("tmdb search failed",
				slog.String("endpoint", string(a.endpoint)),
				slog.String("query", a.query),
				slog.String("error", err.Error()),
			)
			return nil, false
		}
		return found, found != nil
	})
	if !ok {
		// An interrupted cascade is not a miss.
		if ctx.Err() == nil {
			s.misses.Record(title)
		}
		return nil, false
	}
	return toMetadata(*result), true
}

func toMetadata(result tmdb.SearchResult) *Metadata {
	return &Metadata{
		TMDBID:         result.ID,
		MediaType:      result.MediaType,
		Poster:         PosterRef(result.PosterPath, result.BackdropPath),
		LocalizedTitle: result.DisplayTitle(),
		Year:           result.Year(),
		Overview:       result.Overview,
	}
}

// PosterRef builds an image proxy reference, preferring the poster over the
// backdrop.
func PosterRef(posterPath, backdropPath string) string {
	switch {
	case posterPath != "":
		return "/api/image?size=" + posterSize + "&path=" + url.QueryEscape(posterPath)
	case backdropPath != "":
		return "/api/image?size=" + backdropSize + "&path=" + url.QueryEscape(backdropPath)
	default:
		return ""
	}
}

// EnrichItems returns a copy of items where the first limit entries are
// looked up on TMDB. Entries beyond limit, and misses, only receive a local
// poster when one is known.
func (s *Service) EnrichItems(ctx context.Context, items []domain.RankedItem, limit int) []domain.RankedItem {
	out := append([]domain.RankedItem(nil), items...)
	resolved := s.resolveBatch(ctx, len(out), limit, func(i int) (string, domain.Category) {
		return out[i].Title, out[i].Category
	})
	for i := range out {
		if meta := resolved[i]; meta != nil {
			if meta.Poster != "" {
				out[i].Poster = meta.Poster
			}
			out[i].LocalizedTitle = meta.LocalizedTitle
		}
		if out[i].Poster == "" {
			out[i].Poster = LocalPoster(out[i].Title)
		}
	}
	return out
}

// EnrichPopular is EnrichItems for 91-day rows.
func (s *Service) EnrichPopular(ctx context.Context, rows []domain.PopularRow, limit int) []domain.PopularRow {
	out := append([]domain.PopularRow(nil), rows...)
	resolved := s.resolveBatch(ctx, len(out), limit, func(i int) (string, domain.Category) {
		return out[i].Title, out[i].Category
	})
	for i := range out {
		if meta := resolved[i]; meta != nil {
			if meta.Poster != "" {
				out[i].Poster = meta.Poster
			}
			out[i].LocalizedTitle = meta.LocalizedTitle
		}
		if out[i].Poster == "" {
			out[i].Poster = LocalPoster(out[i].Title)
		}
	}
	return out
}

// EnrichEntries attaches posters to cross-platform entries.
func (s *Service) EnrichEntries(ctx context.Context, entries []domain.CrossPlatformEntry, limit int) []domain.CrossPlatformEntry {
	out := append([]domain.CrossPlatformEntry(nil), entries...)
	resolved := s.resolveBatch(ctx, len(out), limit, func(i int) (string, domain.Category) {
		return out[i].Title, ""
	})
	for i := range out {
		if meta := resolved[i]; meta != nil && meta.Poster != "" {
			out[i].Poster = meta.Poster
		}
		if out[i].Poster == "" {
			out[i].Poster = LocalPoster(out[i].Title)
		}
	}
	return out
}

func (s *Service) resolveBatch(ctx context.Context, n, limit int, at func(int) (string, domain.Category)) []*Metadata {
	resolved := make([]*Metadata, n)
	if limit < 0 {
		limit = 0
	}
	if limit > n {
		limit = n
	}
	if limit == 0 || s.searcher == nil || !s.searcher.Enabled() {
		return resolved
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for i := 0; i < limit; i++ {
		i := i
		title, category := at(i)
		g.Go(func() error {
			if meta, ok := s.Resolve(gctx, title, category); ok {
				resolved[i] = meta
			}
			return nil
		})
	}
	_ = g.Wait()
	return resolved
}
