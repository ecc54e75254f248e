package normalize

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"liverank/rankservice/internal/cascade"
	"liverank/rankservice/internal/domain"
)

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	headerPunctuation = regexp.MustCompile(`[()\[\]]`)
)

// Synonym lists are ordered; the first key present in a row wins.
var (
	weekColumns         = []string{"week", "week_start", "weekstart", "week_of"}
	seasonTitleColumns  = []string{"season_title", "episode_title"}
	showTitleColumns    = []string{"show_title", "film_title"}
	genericTitleColumns = []string{"title"}
	categoryColumns     = []string{"category"}
	hoursColumns        = []string{"weekly_hours_viewed", "hours_viewed", "hours"}
	viewsColumns        = []string{"weekly_views", "views"}
	weeksColumns        = []string{"cumulative_weeks_in_top_10", "weeks_in_top_10", "weeks"}
	rankColumns         = []string{"weekly_rank", "rank"}
	countryColumns      = []string{"country_iso2", "country_iso", "country_code", "country"}
	hours91dColumns     = []string{"hours_viewed_91d", "hours_91d", "hours_viewed_first_91_days", "hours_first_91_days", "hours_viewed_first_91_", "hours_first_91_"}
	views91dColumns     = []string{"views_91d", "views_first_91_days", "views_first_91_"}
)

// FoldKey lowercases a column name, drops brackets and replaces whitespace
// runs with "_", so "Hours Viewed (first 91 days)" becomes
// "hours_viewed_first_91_days".
func FoldKey(key string) string {
	key = headerPunctuation.ReplaceAllString(strings.ToLower(key), "")
	return whitespacePattern.ReplaceAllString(strings.TrimSpace(key), "_")
}

// foldedRow is a raw row re-keyed by folded column names. When two raw keys
// fold to the same name, the first one in sorted key order is kept so the
// result does not depend on map iteration.
type foldedRow map[string]any

func fold(raw domain.RawRow) foldedRow {
	out := make(foldedRow, len(raw))
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		folded := FoldKey(key)
		if _, exists := out[folded]; exists {
			continue
		}
		out[folded] = raw[key]
	}
	return out
}

func (r foldedRow) lookup(synonyms []string) (any, bool) {
	return cascade.First(synonyms, func(name string) (any, bool) {
		value, ok := r[name]
		if !ok || value == nil {
			return nil, false
		}
		return value, true
	})
}

func (r foldedRow) text(synonyms []string) string {
	value, ok := r.lookup(synonyms)
	if !ok {
		return ""
	}
	return toText(value)
}

// title resolves season title, then show title, then the generic title column.
func (r foldedRow) title() string {
	title, _ := cascade.First([][]string{seasonTitleColumns, showTitleColumns, genericTitleColumns}, func(group []string) (string, bool) {
		return cascade.First(group, func(name string) (string, bool) {
			value, ok := r[name]
			if !ok || value == nil {
				return "", false
			}
			text := strings.TrimSpace(toText(value))
			if text == "" || strings.EqualFold(text, "n/a") {
				return "", false
			}
			return text, true
		})
	})
	return title
}

func (r foldedRow) number(synonyms []string) (float64, bool) {
	value, ok := r.lookup(synonyms)
	if !ok {
		return 0, false
	}
	return toNumber(value)
}

// measure returns a non-negative finite number or 0.
func (r foldedRow) measure(synonyms []string) float64 {
	value, ok := r.number(synonyms)
	if !ok || value < 0 {
		return 0
	}
	return value
}

func (r foldedRow) sourceRank() *int {
	value, ok := r.number(rankColumns)
	if !ok || value < 1 {
		return nil
	}
	rank := int(math.Floor(value))
	return &rank
}

func toText(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case interface{ String() string }:
		return v.String()
	default:
		return ""
	}
}

func toNumber(value any) (float64, bool) {
	var out float64
	switch v := value.(type) {
	case float64:
		out = v
	case float32:
		out = float64(v)
	case int:
		out = float64(v)
	case int64:
		out = float64(v)
	case int32:
		out = float64(v)
	case interface{ Float64() (float64, error) }:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		out = parsed
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		if cleaned == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		out = parsed
	default:
		return 0, false
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, false
	}
	return out, true
}
