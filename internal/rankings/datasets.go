package rankings

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"liverank/rankservice/internal/domain"
	"liverank/rankservice/internal/kvcache"
	"liverank/rankservice/internal/metrics"
	"liverank/rankservice/internal/normalize"
	"liverank/rankservice/internal/sheets"
)

const (
	datasetWeekly  = "weekly"
	datasetCountry = "country"
	datasetPopular = "popular"
)

type weeklyDataset struct {
	Rows    []domain.WeeklyRow `json:"rows"`
	Dropped int                `json:"dropped"`
}

type popularDataset struct {
	Rows    []domain.PopularRow `json:"rows"`
	Dropped int                 `json:"dropped"`
}

func (s *Service) weeklyDataset(ctx context.Context) (weeklyDataset, error) {
	location := s.cfg.GlobalSource
	if location == "" {
		return weeklyDataset{}, fmt.Errorf("%w: %w", ErrUpstream, ErrNotConfigured)
	}
	return kvcache.Load(ctx, s.datasets, "dataset:"+datasetWeekly, s.cfg.WeeklyTTL, func(ctx context.Context) (weeklyDataset, error) {
		loaded, err := s.loadSheets(ctx, datasetWeekly, location)
		if err != nil {
			return weeklyDataset{}, err
		}
		dataset := weeklyDataset{Rows: []domain.WeeklyRow{}}
		for _, sheet := range loaded {
			if isCountrySheet(sheet.Name) {
				continue
			}
			rows, dropped := normalize.WeeklyRows(sheet.Rows, sheet.Name)
			dataset.Rows = append(dataset.Rows, rows...)
			dataset.Dropped += dropped
		}
		s.countDropped(datasetWeekly, dataset.Dropped)
		return dataset, nil
	})
}

// countryDataset reads per-country rows from the first configured source.
// Workbooks are narrowed to sheets whose name mentions "country" when any do.
func (s *Service) countryDataset(ctx context.Context) (weeklyDataset, error) {
	location := firstNonEmpty(s.cfg.CountrySource, s.cfg.RemoteCountryURL, s.cfg.GlobalSource)
	if location == "" {
		return weeklyDataset{}, fmt.Errorf("%w: %w", ErrUpstream, ErrNotConfigured)
	}
	return kvcache.Load(ctx, s.datasets, "dataset:"+datasetCountry, s.cfg.WeeklyTTL, func(ctx context.Context) (weeklyDataset, error) {
		loaded, err := s.loadSheets(ctx, datasetCountry, location)
		if err != nil {
			return weeklyDataset{}, err
		}
		dataset := weeklyDataset{Rows: []domain.WeeklyRow{}}
		for _, sheet := range countrySheets(loaded) {
			rows, dropped := normalize.WeeklyRows(sheet.Rows, sheet.Name)
			dataset.Rows = append(dataset.Rows, rows...)
			dataset.Dropped += dropped
		}
		s.countDropped(datasetCountry, dataset.Dropped)
		return dataset, nil
	})
}

func (s *Service) popularDataset(ctx context.Context) (popularDataset, error) {
	location := s.cfg.PopularSource
	if location == "" {
		return popularDataset{}, fmt.Errorf("%w: %w", ErrUpstream, ErrNotConfigured)
	}
	return kvcache.Load(ctx, s.datasets, "dataset:"+datasetPopular, s.cfg.WeeklyTTL, func(ctx context.Context) (popularDataset, error) {
		loaded, err := s.loadSheets(ctx, datasetPopular, location)
		if err != nil {
			return popularDataset{}, err
		}
		dataset := popularDataset{Rows: []domain.PopularRow{}}
		for _, sheet := range loaded {
			rows, dropped := normalize.PopularRows(sheet.Rows, sheet.Name)
			dataset.Rows = append(dataset.Rows, rows...)
			dataset.Dropped += dropped
		}
		s.countDropped(datasetPopular, dataset.Dropped)
		return dataset, nil
	})
}

func (s *Service) loadSheets(ctx context.Context, dataset, location string) ([]sheets.Sheet, error) {
	started := time.Now()
	loaded, err := s.source.Load(ctx, location)
	metrics.SourceLoadDuration.WithLabelValues(dataset).Observe(time.Since(started).Seconds())
	if err != nil {
		s.logger.Error("dataset load failed",
			slog.String("dataset", dataset),
			slog.String("location", location),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: load %s dataset: %w", ErrUpstream, dataset, err)
	}
	s.logger.Debug("dataset loaded",
		slog.String("dataset", dataset),
		slog.Int("sheets", len(loaded)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return loaded, nil
}

func (s *Service) countDropped(dataset string, dropped int) {
	if dropped <= 0 {
		return
	}
	metrics.RowsDroppedTotal.WithLabelValues(dataset).Add(float64(dropped))
	s.logger.Info("rows dropped during normalization",
		slog.String("dataset", dataset),
		slog.Int("dropped", dropped),
	)
}

func isCountrySheet(name string) bool {
	return strings.Contains(strings.ToLower(name), "country")
}

func countrySheets(loaded []sheets.Sheet) []sheets.Sheet {
	out := make([]sheets.Sheet, 0, len(loaded))
	for _, sheet := range loaded {
		if isCountrySheet(sheet.Name) {
			out = append(out, sheet)
		}
	}
	if len(out) == 0 {
		return loaded
	}
	return out
}

// parseWeekParam accepts any date form the normalizer understands and
// returns the ISO week start. Empty and "latest" select the latest week.
func parseWeekParam(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "latest") {
		return "", nil
	}
	start, _, ok := normalize.ParseWeek(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidWeek, raw)
	}
	return start, nil
}

func sortPopular(rows []domain.PopularRow) []domain.PopularRow {
	sorted := append([]domain.PopularRow{}, rows...)
	byRank := false
	for _, row := range sorted {
		if row.SourceRank != nil {
			byRank = true
			break
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if byRank {
			return popularRank(sorted[i]) < popularRank(sorted[j])
		}
		return sorted[i].Views91d > sorted[j].Views91d
	})
	return sorted
}

func popularRank(row domain.PopularRow) int {
	if row.SourceRank == nil {
		return 9999
	}
	return *row.SourceRank
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
