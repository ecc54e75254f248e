package normalize

import (
	"math"
	"regexp"
	"strings"
	"time"

	"liverank/rankservice/internal/cascade"
)

const isoDate = "2006-01-02"

var (
	serialEpoch    = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)
	weekOfPrefix   = regexp.MustCompile(`(?i)^\s*week\s+of\s+`)
	rangeSeparator = regexp.MustCompile(`(?i)\s+(?:to|-|–)\s+`)
	maxSerialDays  = 2958465.0 // 9999-12-31
)

var dateStringLayouts = []string{
	isoDate,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"2006.01.02",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"Monday January 2 2006",
	"01/02/2006",
	"1/2/2006",
}

// ParseWeek resolves a week value into an inclusive ISO date range spanning
// seven days. Accepted inputs are time values, spreadsheet serial numbers
// (numeric or numeric strings) and date strings.
func ParseWeek(value any) (start, end string, ok bool) {
	day, ok := parseDay(value)
	if !ok {
		return "", "", false
	}
	return day.Format(isoDate), day.AddDate(0, 0, 6).Format(isoDate), true
}

func parseDay(value any) (time.Time, bool) {
	return cascade.FirstFunc(
		func() (time.Time, bool) { return fromTime(value) },
		func() (time.Time, bool) { return fromSerial(value) },
		func() (time.Time, bool) { return fromString(value) },
	)
}

func fromTime(value any) (time.Time, bool) {
	t, ok := value.(time.Time)
	if !ok || t.IsZero() {
		return time.Time{}, false
	}
	return midnightUTC(t), true
}

func fromSerial(value any) (time.Time, bool) {
	if _, isTime := value.(time.Time); isTime {
		return time.Time{}, false
	}
	serial, ok := toNumber(value)
	if !ok || serial <= 0 || serial > maxSerialDays {
		return time.Time{}, false
	}
	return serialEpoch.AddDate(0, 0, int(math.Floor(serial))), true
}

func fromString(value any) (time.Time, bool) {
	raw, ok := value.(string)
	if !ok {
		return time.Time{}, false
	}
	text := weekOfPrefix.ReplaceAllString(strings.TrimSpace(raw), "")
	text = strings.TrimSpace(rangeSeparator.Split(text, 2)[0])
	if text == "" {
		return time.Time{}, false
	}
	return cascade.FirstFunc(
		func() (time.Time, bool) { return parseLayouts(text) },
		func() (time.Time, bool) { return parseLayouts(whitespacePattern.ReplaceAllString(strings.ReplaceAll(text, ",", " "), " ")) },
	)
}

func parseLayouts(text string) (time.Time, bool) {
	return cascade.First(dateStringLayouts, func(layout string) (time.Time, bool) {
		parsed, err := time.Parse(layout, text)
		if err != nil {
			return time.Time{}, false
		}
		return midnightUTC(parsed), true
	})
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
