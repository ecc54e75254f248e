// Package integrate merges per-platform Top 10 listings into one combined
// leaderboard.
package integrate

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"liverank/rankservice/internal/domain"
)

// EntryScore converts a platform rank into leaderboard points: rank 1 is
// worth 10, rank 10 is worth 1 and anything deeper is worth nothing.
func EntryScore(rank int) int {
	if score := 11 - rank; score > 0 {
		return score
	}
	return 0
}

type group struct {
	entry    domain.IntegratedEntry
	bestRank int
	seen     map[domain.Platform]struct{}
}

// Integrate groups entries by exact title and orders the result by score,
// then total views, then title under Korean collation.
func Integrate(entries []domain.CrossPlatformEntry) []domain.IntegratedEntry {
	order := make([]string, 0, len(entries))
	groups := make(map[string]*group, len(entries))

	for _, entry := range entries {
		g, ok := groups[entry.Title]
		if !ok {
			g = &group{
				entry: domain.IntegratedEntry{
					Title:        entry.Title,
					MainPlatform: entry.Platform,
					Platforms:    []domain.Platform{},
				},
				bestRank: entry.Rank,
				seen:     make(map[domain.Platform]struct{}),
			}
			groups[entry.Title] = g
			order = append(order, entry.Title)
		} else if entry.Rank < g.bestRank {
			g.bestRank = entry.Rank
			g.entry.MainPlatform = entry.Platform
		}

		g.entry.Score += EntryScore(entry.Rank)
		if entry.WeeklyViews != nil {
			g.entry.TotalViews += *entry.WeeklyViews
		}
		if _, dup := g.seen[entry.Platform]; !dup {
			g.seen[entry.Platform] = struct{}{}
			g.entry.Platforms = append(g.entry.Platforms, entry.Platform)
		}
	}

	out := make([]domain.IntegratedEntry, 0, len(order))
	for _, title := range order {
		g := groups[title]
		g.entry.PlatformCount = len(g.entry.Platforms)
		out = append(out, g.entry)
	}

	// Collators keep internal buffers and are not safe for concurrent use.
	collator := collate.New(language.Korean)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].TotalViews != out[j].TotalViews {
			return out[i].TotalViews > out[j].TotalViews
		}
		return collator.CompareString(out[i].Title, out[j].Title) < 0
	})
	return out
}
