package rankings

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"

	"liverank/rankservice/internal/domain"
	"liverank/rankservice/internal/integrate"
	"liverank/rankservice/internal/kvcache"
	"liverank/rankservice/internal/ranking"
)

const allPlatformsParam = "all"

func rawKey(week string, platform domain.Platform) string {
	return "raw:" + week + ":" + string(platform)
}

// rankingsKey embeds the week's generation so storing any platform list
// retires every cached combination for that week, in every process sharing
// the store.
func rankingsKey(week, generation, platforms string) string {
	return "rankings:" + week + ":g" + generation + ":" + platforms
}

func generationKey(week string) string {
	return "rankgen:" + week
}

const initialGeneration = "0"

// generation returns the current generation token of week.
func (s *Service) generation(ctx context.Context, week string) (string, error) {
	var token string
	found, err := s.store.Get(ctx, generationKey(week), &token)
	if err != nil {
		return "", err
	}
	if !found || token == "" {
		return initialGeneration, nil
	}
	return token, nil
}

// IngestNetflix reduces the country rows of region to one entry per title
// holding its best rank, keeps the Top 10 and stores them as the Netflix list
// for the week. When the region has no rows for the week, the latest week
// over all countries is used instead.
func (s *Service) IngestNetflix(ctx context.Context, week, region string) (domain.IngestResult, error) {
	country := canonicalCountry(region)
	if country == "" {
		country = "KR"
	}
	requested, err := parseWeekParam(week)
	if err != nil {
		return domain.IngestResult{}, err
	}

	dataset, err := s.countryDataset(ctx)
	if err != nil {
		return domain.IngestResult{}, err
	}
	regional := filterCountry(dataset.Rows, country)
	if requested == "" {
		latest, _, ok := ranking.LatestWeek(regional)
		if !ok {
			return domain.IngestResult{}, fmt.Errorf("%w: no weeks for region %s", ErrNoData, country)
		}
		requested = latest
	}

	selected := ranking.FilterWeek(regional, requested)
	if len(selected) == 0 {
		latest, _, ok := ranking.LatestWeek(dataset.Rows)
		if !ok {
			return domain.IngestResult{}, ErrNoData
		}
		s.logger.Info("no rows for region in week, using latest week across countries",
			slog.String("region", country),
			slog.String("requested", requested),
			slog.String("latest", latest),
		)
		requested = latest
		selected = ranking.FilterWeek(dataset.Rows, latest)
	}

	entries := bestRankPerTitle(selected, requested)
	if s.cfg.EnrichOnIngest && s.enricher != nil {
		entries = s.enricher.EnrichEntries(ctx, entries, len(entries))
	}
	if err := s.storeRaw(ctx, domain.PlatformNetflix, requested, entries); err != nil {
		return domain.IngestResult{}, err
	}
	return domain.IngestResult{
		Platform: domain.PlatformNetflix,
		Week:     requested,
		Region:   country,
		Count:    len(entries),
		Items:    entries,
	}, nil
}

// IngestEntries stores a ranked list pushed for any platform. Entries are
// stamped with the platform and week; entries without a title or with a
// non-positive rank are skipped.
func (s *Service) IngestEntries(ctx context.Context, platform, week string, entries []domain.CrossPlatformEntry) (domain.IngestResult, error) {
	parsed, err := domain.ParsePlatform(platform)
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("%w: %q", err, platform)
	}
	start, err := parseWeekParam(week)
	if err != nil {
		return domain.IngestResult{}, err
	}
	if start == "" {
		return domain.IngestResult{}, fmt.Errorf("%w: week is required", ErrInvalidWeek)
	}

	accepted := make([]domain.CrossPlatformEntry, 0, len(entries))
	for _, entry := range entries {
		entry.Title = strings.TrimSpace(entry.Title)
		if entry.Title == "" || entry.Rank < 1 {
			continue
		}
		entry.Platform = parsed
		entry.Week = start
		accepted = append(accepted, entry)
	}
	sort.SliceStable(accepted, func(i, j int) bool { return accepted[i].Rank < accepted[j].Rank })

	if s.cfg.EnrichOnIngest && s.enricher != nil {
		accepted = s.enricher.EnrichEntries(ctx, accepted, len(accepted))
	}
	if err := s.storeRaw(ctx, parsed, start, accepted); err != nil {
		return domain.IngestResult{}, err
	}
	return domain.IngestResult{
		Platform: parsed,
		Week:     start,
		Count:    len(accepted),
		Items:    accepted,
	}, nil
}

// storeRaw saves a platform list and moves the week to a new generation so
// no cached combined result from before the write is served again. Tokens
// are random so concurrent writers never share one.
func (s *Service) storeRaw(ctx context.Context, platform domain.Platform, week string, entries []domain.CrossPlatformEntry) error {
	if err := s.store.Set(ctx, rawKey(week, platform), entries, s.cfg.RankingsTTL); err != nil {
		return fmt.Errorf("store %s list: %w", platform, err)
	}
	if err := s.store.Set(ctx, generationKey(week), uuid.NewString(), s.cfg.RankingsTTL); err != nil {
		return fmt.Errorf("advance %s rankings generation: %w", week, err)
	}
	s.logger.Info("platform list stored",
		slog.String("platform", string(platform)),
		slog.String("week", week),
		slog.Int("count", len(entries)),
	)
	return nil
}

// Rankings integrates the stored lists of the selected platforms for week.
// platforms is "all" or a comma separated list of platform names.
func (s *Service) Rankings(ctx context.Context, week, platforms string) (domain.RankingsResponse, error) {
	start, err := parseWeekParam(week)
	if err != nil {
		return domain.RankingsResponse{}, err
	}
	if start == "" {
		return domain.RankingsResponse{}, fmt.Errorf("%w: week is required", ErrInvalidWeek)
	}
	selected, label, err := parsePlatforms(platforms)
	if err != nil {
		return domain.RankingsResponse{}, err
	}

	compute := func(ctx context.Context) (domain.RankingsResponse, error) {
		var all []domain.CrossPlatformEntry
		for _, platform := range selected {
			var stored []domain.CrossPlatformEntry
			found, err := s.store.Get(ctx, rawKey(start, platform), &stored)
			if err != nil {
				s.logger.Warn("platform list read failed",
					slog.String("platform", string(platform)),
					slog.String("error", err.Error()),
				)
				continue
			}
			if found {
				all = append(all, stored...)
			}
		}
		items := integrate.Integrate(all)
		return domain.RankingsResponse{
			Status:    domain.StatusOf(len(items)),
			Week:      start,
			Platforms: selected,
			Items:     items,
		}, nil
	}

	generation, err := s.generation(ctx, start)
	if err != nil {
		s.logger.Warn("rankings generation read failed", slog.String("week", start), slog.String("error", err.Error()))
		return compute(ctx)
	}
	return kvcache.Load(ctx, s.combined, rankingsKey(start, generation, label), s.cfg.RankingsTTL, compute)
}

// parsePlatforms returns the selected platforms and the canonical label used
// in cache keys.
func parsePlatforms(raw string) ([]domain.Platform, string, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == allPlatformsParam {
		return domain.AllPlatforms(), allPlatformsParam, nil
	}
	var selected []domain.Platform
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		platform, err := domain.ParsePlatform(part)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %q", err, part)
		}
		if !slices.Contains(selected, platform) {
			selected = append(selected, platform)
		}
	}
	if len(selected) == 0 {
		return domain.AllPlatforms(), allPlatformsParam, nil
	}
	names := make([]string, len(selected))
	for i, platform := range selected {
		names[i] = string(platform)
	}
	return selected, strings.Join(names, ","), nil
}

func bestRankPerTitle(rows []domain.WeeklyRow, week string) []domain.CrossPlatformEntry {
	order := make([]string, 0, len(rows))
	best := make(map[string]domain.CrossPlatformEntry, len(rows))
	for _, row := range rows {
		rank := missingIngestRank
		if row.SourceRank != nil {
			rank = *row.SourceRank
		}
		entry := domain.CrossPlatformEntry{
			Platform: domain.PlatformNetflix,
			Title:    row.Title,
			Rank:     rank,
			Genre:    string(row.Category),
			Week:     week,
		}
		if row.Views > 0 {
			views := row.Views
			entry.WeeklyViews = &views
		}
		existing, ok := best[row.Title]
		if !ok {
			order = append(order, row.Title)
			best[row.Title] = entry
			continue
		}
		if rank < existing.Rank {
			best[row.Title] = entry
		}
	}

	entries := make([]domain.CrossPlatformEntry, 0, len(order))
	for _, title := range order {
		entries = append(entries, best[title])
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Rank < entries[j].Rank })
	if len(entries) > ingestLimit {
		entries = entries[:ingestLimit]
	}
	return entries
}
