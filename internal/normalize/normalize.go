// Package normalize converts heterogeneous raw spreadsheet rows into the
// canonical weekly and 91-day row records. Rows that cannot be converted are
// reported as dropped; nothing in this package logs or returns errors.
package normalize

import (
	"math"
	"strings"

	"liverank/rankservice/internal/domain"
)

// ParseSheetHint reads category and language class from a worksheet label
// such as "TV (Non-English)". It succeeds only when the label names a
// language class and exactly one category.
func ParseSheetHint(label string) (domain.Category, domain.LanguageClass, bool) {
	lower := strings.ToLower(strings.TrimSpace(label))
	if lower == "" || !strings.Contains(lower, "english") {
		return "", "", false
	}
	tv, film := strings.Contains(lower, "tv"), strings.Contains(lower, "film")
	var category domain.Category
	switch {
	case tv && film:
		return "", "", false
	case tv:
		category = domain.CategoryTV
	case film:
		category = domain.CategoryFilms
	default:
		return "", "", false
	}
	// "non-english" also contains "english"; check the narrower label first.
	if strings.Contains(lower, "non") {
		return category, domain.LanguageNonEnglish, true
	}
	return category, domain.LanguageEnglish, true
}

// ParseCategoryText applies the per-row category rule: "tv" selects series,
// anything else is a film; "non" selects the non-English class.
func ParseCategoryText(text string) (domain.Category, domain.LanguageClass, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return "", "", false
	}
	category := domain.CategoryFilms
	if strings.Contains(lower, "tv") {
		category = domain.CategoryTV
	}
	language := domain.LanguageEnglish
	if strings.Contains(lower, "non") {
		language = domain.LanguageNonEnglish
	}
	return category, language, true
}

func classify(row foldedRow, sheetHint string) (domain.Category, domain.LanguageClass, bool) {
	if category, language, ok := ParseSheetHint(sheetHint); ok {
		return category, language, true
	}
	return ParseCategoryText(row.text(categoryColumns))
}

// Weekly converts one raw weekly or per-country row. The boolean is false
// when the row is dropped for a missing title, category or week.
func Weekly(raw domain.RawRow, sheetHint string) (domain.WeeklyRow, bool) {
	row := fold(raw)
	title := row.title()
	if title == "" {
		return domain.WeeklyRow{}, false
	}
	category, language, ok := classify(row, sheetHint)
	if !ok {
		return domain.WeeklyRow{}, false
	}
	weekValue, ok := row.lookup(weekColumns)
	if !ok {
		return domain.WeeklyRow{}, false
	}
	start, end, ok := ParseWeek(weekValue)
	if !ok {
		return domain.WeeklyRow{}, false
	}
	return domain.WeeklyRow{
		WeekStart:    start,
		WeekEnd:      end,
		Title:        title,
		Category:     category,
		Language:     language,
		HoursViewed:  row.measure(hoursColumns),
		Views:        row.measure(viewsColumns),
		WeeksInTop10: int(math.Floor(row.measure(weeksColumns))),
		CountryCode:  strings.ToUpper(strings.TrimSpace(row.text(countryColumns))),
		SourceRank:   row.sourceRank(),
	}, true
}

// Popular converts one raw 91-day row. Both cumulative measures must be
// strictly positive.
func Popular(raw domain.RawRow, sheetHint string) (domain.PopularRow, bool) {
	row := fold(raw)
	title := row.title()
	if title == "" {
		return domain.PopularRow{}, false
	}
	category, language, ok := classify(row, sheetHint)
	if !ok {
		return domain.PopularRow{}, false
	}
	views, ok := row.number(views91dColumns)
	if !ok || views <= 0 {
		return domain.PopularRow{}, false
	}
	hours, ok := row.number(hours91dColumns)
	if !ok || hours <= 0 {
		return domain.PopularRow{}, false
	}
	return domain.PopularRow{
		Title:      title,
		Category:   category,
		Language:   language,
		Views91d:   views,
		Hours91d:   hours,
		SourceRank: row.sourceRank(),
	}, true
}

// WeeklyRows normalizes a batch and reports how many rows were dropped.
func WeeklyRows(rows []domain.RawRow, sheetHint string) ([]domain.WeeklyRow, int) {
	out := make([]domain.WeeklyRow, 0, len(rows))
	for _, raw := range rows {
		if row, ok := Weekly(raw, sheetHint); ok {
			out = append(out, row)
		}
	}
	return out, len(rows) - len(out)
}

// PopularRows normalizes a batch and reports how many rows were dropped.
func PopularRows(rows []domain.RawRow, sheetHint string) ([]domain.PopularRow, int) {
	out := make([]domain.PopularRow, 0, len(rows))
	for _, raw := range rows {
		if row, ok := Popular(raw, sheetHint); ok {
			out = append(out, row)
		}
	}
	return out, len(rows) - len(out)
}
