package domain

import (
	"errors"
	"strings"
)

// RawRow is one untyped record as read from a spreadsheet, CSV or JSON source.
type RawRow map[string]any

type Category string

const (
	CategoryTV    Category = "TV"
	CategoryFilms Category = "Films"
)

type LanguageClass string

const (
	LanguageEnglish    LanguageClass = "English"
	LanguageNonEnglish LanguageClass = "Non-English"
)

// WeeklyRow is a canonical weekly (or per-country weekly) Top 10 row.
type WeeklyRow struct {
	WeekStart    string        `json:"weekStart"`
	WeekEnd      string        `json:"weekEnd"`
	Title        string        `json:"title"`
	Category     Category      `json:"category"`
	Language     LanguageClass `json:"language"`
	HoursViewed  float64       `json:"hoursViewed"`
	Views        float64       `json:"views"`
	WeeksInTop10 int           `json:"weeksInTop10"`
	CountryCode  string        `json:"countryCode,omitempty"`
	SourceRank   *int          `json:"sourceRank,omitempty"`
}

// PopularRow is a canonical 91-day most-popular row.
type PopularRow struct {
	Title          string        `json:"title"`
	Category       Category      `json:"category"`
	Language       LanguageClass `json:"language"`
	Views91d       float64       `json:"views91d"`
	Hours91d       float64       `json:"hours91d"`
	SourceRank     *int          `json:"sourceRank,omitempty"`
	Poster         string        `json:"poster,omitempty"`
	LocalizedTitle string        `json:"localizedTitle,omitempty"`
}

type RankedItem struct {
	Rank               int           `json:"rank"`
	Title              string        `json:"title"`
	Category           Category      `json:"category"`
	Language           LanguageClass `json:"language"`
	WeeklyViews        float64       `json:"weeklyViews"`
	WeeklyHours        float64       `json:"weeklyHours"`
	WeeksInTop10       int           `json:"weeksInTop10"`
	WeekStart          string        `json:"weekStart"`
	WeekEnd            string        `json:"weekEnd"`
	Country            string        `json:"country,omitempty"`
	Poster             string        `json:"poster,omitempty"`
	LocalizedTitle     string        `json:"localizedTitle,omitempty"`
	ChangeFromLastWeek int           `json:"changeFromLastWeek"`
}

// Buckets partitions weekly rows by category and language class.
type Buckets struct {
	TVEnglish       []WeeklyRow `json:"tvEnglish"`
	TVNonEnglish    []WeeklyRow `json:"tvNonEnglish"`
	FilmsEnglish    []WeeklyRow `json:"filmsEnglish"`
	FilmsNonEnglish []WeeklyRow `json:"filmsNonEnglish"`
}

// Bucket returns a pointer to the partition for the given category and language.
func (b *Buckets) Bucket(category Category, language LanguageClass) *[]WeeklyRow {
	switch {
	case category == CategoryTV && language == LanguageEnglish:
		return &b.TVEnglish
	case category == CategoryTV:
		return &b.TVNonEnglish
	case language == LanguageEnglish:
		return &b.FilmsEnglish
	default:
		return &b.FilmsNonEnglish
	}
}

// All concatenates the four partitions in a fixed order.
func (b Buckets) All() []WeeklyRow {
	out := make([]WeeklyRow, 0, len(b.TVEnglish)+len(b.TVNonEnglish)+len(b.FilmsEnglish)+len(b.FilmsNonEnglish))
	out = append(out, b.TVEnglish...)
	out = append(out, b.TVNonEnglish...)
	out = append(out, b.FilmsEnglish...)
	out = append(out, b.FilmsNonEnglish...)
	return out
}

// PopularBuckets is the 91-day counterpart of Buckets.
type PopularBuckets struct {
	TVEnglish       []PopularRow `json:"tvEnglish"`
	TVNonEnglish    []PopularRow `json:"tvNonEnglish"`
	FilmsEnglish    []PopularRow `json:"filmsEnglish"`
	FilmsNonEnglish []PopularRow `json:"filmsNonEnglish"`
}

func (b *PopularBuckets) Bucket(category Category, language LanguageClass) *[]PopularRow {
	switch {
	case category == CategoryTV && language == LanguageEnglish:
		return &b.TVEnglish
	case category == CategoryTV:
		return &b.TVNonEnglish
	case language == LanguageEnglish:
		return &b.FilmsEnglish
	default:
		return &b.FilmsNonEnglish
	}
}

type Platform string

const (
	PlatformNetflix Platform = "netflix"
	PlatformDisney  Platform = "disney"
	PlatformWavve   Platform = "wavve"
	PlatformTving   Platform = "tving"
	PlatformWatcha  Platform = "watcha"
	PlatformCoupang Platform = "coupang"
)

var ErrUnknownPlatform = errors.New("unknown platform")

// AllPlatforms lists every supported platform in display order.
func AllPlatforms() []Platform {
	return []Platform{PlatformNetflix, PlatformDisney, PlatformWavve, PlatformTving, PlatformWatcha, PlatformCoupang}
}

func ParsePlatform(raw string) (Platform, error) {
	value := Platform(strings.ToLower(strings.TrimSpace(raw)))
	for _, p := range AllPlatforms() {
		if p == value {
			return p, nil
		}
	}
	return "", ErrUnknownPlatform
}

// CrossPlatformEntry is one title's rank on one platform for a period.
type CrossPlatformEntry struct {
	Platform    Platform `json:"platform"`
	Title       string   `json:"title"`
	Rank        int      `json:"rank"`
	Genre       string   `json:"genre,omitempty"`
	Week        string   `json:"week"`
	WeeklyViews *float64 `json:"weeklyViews,omitempty"`
	Poster      string   `json:"poster,omitempty"`
}

type IntegratedEntry struct {
	Title         string     `json:"title"`
	Score         int        `json:"score"`
	Platforms     []Platform `json:"platforms"`
	MainPlatform  Platform   `json:"mainPlatform"`
	TotalViews    float64    `json:"totalViews"`
	PlatformCount int        `json:"platformCount"`
}

// ResultStatus marks whether a response carries data.
type ResultStatus string

const (
	StatusOK    ResultStatus = "ok"
	StatusEmpty ResultStatus = "empty"
)

func StatusOf(n int) ResultStatus {
	if n == 0 {
		return StatusEmpty
	}
	return StatusOK
}

type WeeklyResponse struct {
	Status     ResultStatus  `json:"status"`
	WeekStart  string        `json:"weekStart,omitempty"`
	WeekEnd    string        `json:"weekEnd,omitempty"`
	Buckets    RankedBuckets `json:"buckets"`
	UnifiedTop []RankedItem  `json:"unifiedTop100"`
	Dropped    int           `json:"dropped"`
}

type RankedBuckets struct {
	TVEnglish       []RankedItem `json:"tvEnglish"`
	TVNonEnglish    []RankedItem `json:"tvNonEnglish"`
	FilmsEnglish    []RankedItem `json:"filmsEnglish"`
	FilmsNonEnglish []RankedItem `json:"filmsNonEnglish"`
}

type CountryResponse struct {
	Status    ResultStatus `json:"status"`
	Country   string       `json:"country"`
	WeekStart string       `json:"weekStart,omitempty"`
	WeekEnd   string       `json:"weekEnd,omitempty"`
	Items     []RankedItem `json:"items"`
}

type PopularResponse struct {
	Status  ResultStatus   `json:"status"`
	Buckets PopularBuckets `json:"buckets"`
	Dropped int            `json:"dropped"`
}

type RankingsResponse struct {
	Status    ResultStatus      `json:"status"`
	Week      string            `json:"week"`
	Platforms []Platform        `json:"platforms"`
	Items     []IntegratedEntry `json:"items"`
}

type IngestResult struct {
	Platform Platform             `json:"platform"`
	Week     string               `json:"week"`
	Region   string               `json:"region,omitempty"`
	Count    int                  `json:"count"`
	Items    []CrossPlatformEntry `json:"items"`
}
