// Package sheets reads ranking exports into raw rows. Workbooks keep one
// Sheet per worksheet so callers can use worksheet names as category hints.
package sheets

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/xuri/excelize/v2"

	"liverank/rankservice/internal/domain"
)

const maxDownloadBytes = int64(64 * 1024 * 1024)

var (
	ErrUnsupportedFormat = errors.New("unsupported sheet format")
	ErrEmptyLocation     = errors.New("sheet location is empty")
	ErrTooLarge          = errors.New("sheet download exceeds size limit")
)

type Sheet struct {
	Name string
	Rows []domain.RawRow
}

type Source struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
	maxBytes  int64
}

type Config struct {
	Client    *http.Client
	UserAgent string
	Logger    *slog.Logger
}

func NewSource(cfg Config) *Source {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = "liverank/1.0"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{client: client, userAgent: userAgent, logger: logger, maxBytes: maxDownloadBytes}
}

// Load reads a local path or http(s) URL. The format follows the extension:
// .xlsx/.xlsm workbooks, .csv, or .json (an array of objects, or an object
// mapping sheet names to arrays). An unreadable local workbook falls back
// to a .csv file with the same base name.
func (s *Source) Load(ctx context.Context, location string) ([]Sheet, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, ErrEmptyLocation
	}
	if isRemote(location) {
		return s.loadRemote(ctx, location)
	}

	data, err := os.ReadFile(location)
	if err != nil {
		if fallback, ok := s.csvFallback(location, err); ok {
			return fallback, nil
		}
		return nil, fmt.Errorf("read %s: %w", location, err)
	}
	sheets, err := decode(formatOf(location), baseName(location), data)
	if err != nil {
		if fallback, ok := s.csvFallback(location, err); ok {
			return fallback, nil
		}
		return nil, err
	}
	return sheets, nil
}

func (s *Source) csvFallback(location string, cause error) ([]Sheet, bool) {
	format := formatOf(location)
	if format != ".xlsx" && format != ".xlsm" {
		return nil, false
	}
	sibling := strings.TrimSuffix(location, filepath.Ext(location)) + ".csv"
	data, err := os.ReadFile(sibling)
	if err != nil {
		return nil, false
	}
	sheets, err := decodeCSV(baseName(sibling), data)
	if err != nil {
		return nil, false
	}
	s.logger.Warn("workbook unreadable, using csv fallback",
		slog.String("workbook", location),
		slog.String("csv", sibling),
		slog.String("error", cause.Error()),
	)
	return sheets, true
}

func (s *Source) loadRemote(ctx context.Context, location string) ([]Sheet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", location, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", location, resp.StatusCode)
	}
	// One byte past the limit tells a truncated body from one that fits.
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", location, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("fetch %s: %w (%d bytes)", location, ErrTooLarge, s.maxBytes)
	}

	parsed, _ := url.Parse(location)
	format := formatOf(parsed.Path)
	if format == "" {
		format = formatFromContentType(resp.Header.Get("Content-Type"))
	}
	return decode(format, baseName(parsed.Path), data)
}

func decode(format, name string, data []byte) ([]Sheet, error) {
	switch format {
	case ".xlsx", ".xlsm":
		return decodeWorkbook(data)
	case ".csv":
		return decodeCSV(name, data)
	case ".json":
		return decodeJSON(name, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func decodeWorkbook(data []byte) ([]Sheet, error) {
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer book.Close()

	sheets := make([]Sheet, 0, len(book.GetSheetList()))
	for _, name := range book.GetSheetList() {
		// Raw values keep dates as serial numbers instead of locale text.
		grid, err := book.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		sheets = append(sheets, Sheet{Name: name, Rows: gridToRows(grid)})
	}
	return sheets, nil
}

func decodeCSV(name string, data []byte) ([]Sheet, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	grid, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return []Sheet{{Name: name, Rows: gridToRows(grid)}}, nil
}

func decodeJSON(name string, data []byte) ([]Sheet, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rows []domain.RawRow
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("parse json rows: %w", err)
		}
		return []Sheet{{Name: name, Rows: rows}}, nil
	}
	var named map[string][]domain.RawRow
	if err := json.Unmarshal(trimmed, &named); err != nil {
		return nil, fmt.Errorf("parse json sheets: %w", err)
	}
	names := make([]string, 0, len(named))
	for sheetName := range named {
		names = append(names, sheetName)
	}
	sort.Strings(names)
	sheets := make([]Sheet, 0, len(names))
	for _, sheetName := range names {
		sheets = append(sheets, Sheet{Name: sheetName, Rows: named[sheetName]})
	}
	return sheets, nil
}

// gridToRows treats the first non-empty line as the header. Blank cells are
// left out of the row so they read as missing.
func gridToRows(grid [][]string) []domain.RawRow {
	headerAt := -1
	for i, line := range grid {
		if !blank(line) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return []domain.RawRow{}
	}
	header := grid[headerAt]
	rows := make([]domain.RawRow, 0, len(grid)-headerAt-1)
	for _, line := range grid[headerAt+1:] {
		if blank(line) {
			continue
		}
		row := make(domain.RawRow, len(header))
		for col, name := range header {
			name = strings.TrimSpace(name)
			if name == "" || col >= len(line) {
				continue
			}
			if value := strings.TrimSpace(line[col]); value != "" {
				row[name] = value
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func blank(line []string) bool {
	for _, cell := range line {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func isRemote(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func formatOf(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

func formatFromContentType(contentType string) string {
	lower := strings.ToLower(contentType)
	switch {
	case strings.Contains(lower, "spreadsheetml"):
		return ".xlsx"
	case strings.Contains(lower, "csv"):
		return ".csv"
	case strings.Contains(lower, "json"):
		return ".json"
	default:
		return ""
	}
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
