package enrich

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"liverank/rankservice/internal/metrics"
)

// MissRecord counts failed lookups for one title.
type MissRecord struct {
	Title  string    `json:"title"`
	Count  int       `json:"count"`
	LastAt time.Time `json:"lastAt"`
}

// MissLog records titles that could not be resolved. Every miss is counted;
// log lines are limited to perWindow per one-second window.
type MissLog struct {
	mu          sync.Mutex
	logger      *slog.Logger
	now         func() time.Time
	perWindow   int
	windowStart time.Time
	logged      int
	records     map[string]*MissRecord
}

func NewMissLog(logger *slog.Logger, perWindow int, now func() time.Time) *MissLog {
	if logger == nil {
		logger = slog.Default()
	}
	if perWindow <= 0 {
		perWindow = 5
	}
	if now == nil {
		now = time.Now
	}
	return &MissLog{
		logger:    logger,
		now:       now,
		perWindow: perWindow,
		records:   make(map[string]*MissRecord),
	}
}

// Record counts a miss and reports whether it was written to the log.
func (m *MissLog) Record(title string) bool {
	metrics.EnrichmentMissesTotal.Inc()
	now := m.now()

	m.mu.Lock()
	record, ok := m.records[title]
	if !ok {
		record = &MissRecord{Title: title}
		m.records[title] = record
	}
	record.Count++
	record.LastAt = now

	if now.Sub(m.windowStart) > time.Second {
		m.windowStart = now
		m.logged = 0
	}
	emit := m.logged < m.perWindow
	if emit {
		m.logged++
	}
	m.mu.Unlock()

	if emit {
		m.logger.Warn("tmdb poster miss", slog.String("title", title))
	}
	return emit
}

// Snapshot returns all miss records, most frequent first.
func (m *MissLog) Snapshot() []MissRecord {
	m.mu.Lock()
	out := make([]MissRecord, 0, len(m.records))
	for _, record := range m.records {
		out = append(out, *record)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Title < out[j].Title
	})
	return out
}
