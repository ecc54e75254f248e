package ranking

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"liverank/rankservice/internal/domain"
)

const (
	DefaultUnifiedLimit = 100
	// missingSourceRank orders rows without a source rank after ranked ones.
	missingSourceRank = 9999
)

var ErrInvalidWeights = errors.New("invalid ranking weights")

// Weights are the unified score coefficients.
type Weights struct {
	Views            float64 `toml:"views" validate:"gte=0"`
	Hours            float64 `toml:"hours" validate:"gte=0"`
	RecencyBoost     float64 `toml:"recency_boost" validate:"gte=0"`
	LongevityPenalty float64 `toml:"longevity_penalty" validate:"gte=0"`
	LongevityCap     float64 `toml:"longevity_cap" validate:"gte=0,lte=1"`
}

func DefaultWeights() Weights {
	return Weights{
		Views:            1.0,
		Hours:            0.8,
		RecencyBoost:     0.1,
		LongevityPenalty: 0.02,
		LongevityCap:     0.2,
	}
}

func (w Weights) Validate() error {
	for name, value := range map[string]float64{
		"views":             w.Views,
		"hours":             w.Hours,
		"recency_boost":     w.RecencyBoost,
		"longevity_penalty": w.LongevityPenalty,
		"longevity_cap":     w.LongevityCap,
	} {
		if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("%w: %s must be a non-negative finite number", ErrInvalidWeights, name)
		}
	}
	if w.LongevityCap > 1 {
		return fmt.Errorf("%w: longevity_cap must be <= 1", ErrInvalidWeights)
	}
	return nil
}

type Engine struct {
	weights Weights
}

// New returns an engine for the given weights. Invalid weights are a
// configuration error and should stop startup.
func New(weights Weights) (*Engine, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Engine{weights: weights}, nil
}

func (e *Engine) Weights() Weights {
	return e.weights
}

// Score computes the unified score of a row. latestWeek is the newest week
// start in the working set; rows from that week receive the recency boost.
func (e *Engine) Score(row domain.WeeklyRow, latestWeek string) float64 {
	score := row.Views*e.weights.Views + row.HoursViewed*e.weights.Hours
	if row.WeekStart == latestWeek {
		score *= 1 + e.weights.RecencyBoost
	}
	penalty := math.Min(float64(row.WeeksInTop10)*e.weights.LongevityPenalty, e.weights.LongevityCap)
	return score * (1 - penalty)
}

type scoredRow struct {
	row   domain.WeeklyRow
	score float64
}

// UnifiedTop merges the four buckets into one leaderboard of at most limit
// entries. Titles are deduplicated keeping the latest week; among rows of
// the same week the first one seen is kept. Equal scores are ordered by title.
func (e *Engine) UnifiedTop(buckets domain.Buckets, limit int) []domain.RankedItem {
	if limit <= 0 {
		limit = DefaultUnifiedLimit
	}
	rows := buckets.All()
	if len(rows) == 0 {
		return []domain.RankedItem{}
	}

	latest := ""
	for _, row := range rows {
		if row.WeekStart > latest {
			latest = row.WeekStart
		}
	}

	order := make([]string, 0, len(rows))
	byTitle := make(map[string]domain.WeeklyRow, len(rows))
	for _, row := range rows {
		existing, ok := byTitle[row.Title]
		if !ok {
			order = append(order, row.Title)
			byTitle[row.Title] = row
			continue
		}
		if row.WeekStart > existing.WeekStart {
			byTitle[row.Title] = row
		}
	}

	scored := make([]scoredRow, 0, len(order))
	for _, title := range order {
		row := byTitle[title]
		scored = append(scored, scoredRow{row: row, score: e.Score(row, latest)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].row.Title < scored[j].row.Title
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	items := make([]domain.RankedItem, 0, len(scored))
	for i, entry := range scored {
		items = append(items, toRankedItem(entry.row, i+1))
	}
	return items
}

// TopN orders rows by views descending, or by source rank ascending when any
// row carries one. In source rank mode the reported rank is the source rank
// itself where present.
func TopN(rows []domain.WeeklyRow, limit int) []domain.RankedItem {
	sorted := append([]domain.WeeklyRow(nil), rows...)
	bySourceRank := false
	for _, row := range sorted {
		if row.SourceRank != nil {
			bySourceRank = true
			break
		}
	}

	if bySourceRank {
		sort.SliceStable(sorted, func(i, j int) bool {
			return sourceRankOf(sorted[i]) < sourceRankOf(sorted[j])
		})
	} else {
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Views > sorted[j].Views
		})
	}
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	items := make([]domain.RankedItem, 0, len(sorted))
	for i, row := range sorted {
		rank := i + 1
		if bySourceRank && row.SourceRank != nil {
			rank = *row.SourceRank
		}
		items = append(items, toRankedItem(row, rank))
	}
	return items
}

// LatestWeek returns the period of the row with the greatest week start.
func LatestWeek(rows []domain.WeeklyRow) (start, end string, ok bool) {
	for _, row := range rows {
		if !ok || row.WeekStart > start {
			start, end, ok = row.WeekStart, row.WeekEnd, true
		}
	}
	return start, end, ok
}

// FilterWeek keeps rows whose week starts on start.
func FilterWeek(rows []domain.WeeklyRow, start string) []domain.WeeklyRow {
	out := make([]domain.WeeklyRow, 0, len(rows))
	for _, row := range rows {
		if row.WeekStart == start {
			out = append(out, row)
		}
	}
	return out
}

// Partition splits rows into the four category buckets, keeping input order.
func Partition(rows []domain.WeeklyRow) domain.Buckets {
	var buckets domain.Buckets
	for _, row := range rows {
		bucket := buckets.Bucket(row.Category, row.Language)
		*bucket = append(*bucket, row)
	}
	return buckets
}

func sourceRankOf(row domain.WeeklyRow) int {
	if row.SourceRank == nil {
		return missingSourceRank
	}
	return *row.SourceRank
}

func toRankedItem(row domain.WeeklyRow, rank int) domain.RankedItem {
	return domain.RankedItem{
		Rank:               rank,
		Title:              row.Title,
		Category:           row.Category,
		Language:           row.Language,
		WeeklyViews:        row.Views,
		WeeklyHours:        row.HoursViewed,
		WeeksInTop10:       row.WeeksInTop10,
		WeekStart:          row.WeekStart,
		WeekEnd:            row.WeekEnd,
		Country:            row.CountryCode,
		ChangeFromLastWeek: 0,
	}
}
