package apihttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"liverank/rankservice/internal/domain"
	"liverank/rankservice/internal/enrich"
	"liverank/rankservice/internal/metrics"
	"liverank/rankservice/internal/providers/tmdb"
	"liverank/rankservice/internal/rankings"
)

type fakeRankingService struct {
	err error

	lastEnrich    int
	lastCode      string
	lastWeek      string
	lastRegion    string
	lastPlatform  string
	lastPlatforms string
	lastEntries   []domain.CrossPlatformEntry
	ingestCalls   int
}

func (f *fakeRankingService) Weekly(_ context.Context, enrichLimit int) (domain.WeeklyResponse, error) {
	f.lastEnrich = enrichLimit
	if f.err != nil {
		return domain.WeeklyResponse{}, f.err
	}
	return domain.WeeklyResponse{
		Status:     domain.StatusOK,
		WeekStart:  "2025-01-06",
		WeekEnd:    "2025-01-12",
		UnifiedTop: []domain.RankedItem{{Title: "Squid Game", Rank: 1}},
	}, nil
}

func (f *fakeRankingService) Country(_ context.Context, code, week string, enrichLimit int) (domain.CountryResponse, error) {
	f.lastCode, f.lastWeek, f.lastEnrich = code, week, enrichLimit
	if f.err != nil {
		return domain.CountryResponse{}, f.err
	}
	return domain.CountryResponse{Status: domain.StatusOK, Country: code, Items: []domain.RankedItem{{Title: "K1", Rank: 1}}}, nil
}

func (f *fakeRankingService) Popular(_ context.Context, enrichLimit int) (domain.PopularResponse, error) {
	f.lastEnrich = enrichLimit
	if f.err != nil {
		return domain.PopularResponse{}, f.err
	}
	return domain.PopularResponse{Status: domain.StatusEmpty}, nil
}

func (f *fakeRankingService) IngestNetflix(_ context.Context, week, region string) (domain.IngestResult, error) {
	f.ingestCalls++
	f.lastWeek, f.lastRegion = week, region
	if f.err != nil {
		return domain.IngestResult{}, f.err
	}
	return domain.IngestResult{Platform: domain.PlatformNetflix, Week: "2025-01-06", Region: "KR", Count: 1}, nil
}

func (f *fakeRankingService) IngestEntries(_ context.Context, platform, week string, entries []domain.CrossPlatformEntry) (domain.IngestResult, error) {
	f.lastPlatform, f.lastWeek, f.lastEntries = platform, week, entries
	if f.err != nil {
		return domain.IngestResult{}, f.err
	}
	return domain.IngestResult{Platform: domain.Platform(platform), Week: week, Count: len(entries), Items: entries}, nil
}

func (f *fakeRankingService) Rankings(_ context.Context, week, platforms string) (domain.RankingsResponse, error) {
	f.lastWeek, f.lastPlatforms = week, platforms
	if f.err != nil {
		return domain.RankingsResponse{}, f.err
	}
	return domain.RankingsResponse{
		Status: domain.StatusOK,
		Week:   week,
		Items:  []domain.IntegratedEntry{{Title: "K2", Score: 19, PlatformCount: 2}},
	}, nil
}

func (f *fakeRankingService) SupportedCountries() []string {
	return []string{"KR", "US"}
}

type fakeMisses struct{}

func (fakeMisses) Snapshot() []enrich.MissRecord {
	return []enrich.MissRecord{{Title: "Unknown Show", Count: 3, LastAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}}
}

type fakeCredentials struct{}

func (fakeCredentials) Enabled() bool { return true }

func (fakeCredentials) CredentialStatus() tmdb.CredentialStatus {
	return tmdb.CredentialStatus{HasBearer: true, BearerLength: 120, BearerLooksValid: true}
}

func serve(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return payload.Error.Code, payload.Error.Message
}

func TestHealth(t *testing.T) {
	server := NewServer(&fakeRankingService{})
	w := serve(t, server.Handler(), http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestWeeklyEnrichParam(t *testing.T) {
	svc := &fakeRankingService{}
	handler := NewServer(svc).Handler()

	w := serve(t, handler, http.MethodGet, "/api/netflix/weekly", "")
	if w.Code != http.StatusOK || svc.lastEnrich != -1 {
		t.Fatalf("expected default enrich -1, got status=%d enrich=%d", w.Code, svc.lastEnrich)
	}
	var resp domain.WeeklyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WeekStart != "2025-01-06" || len(resp.UnifiedTop) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	w = serve(t, handler, http.MethodGet, "/api/netflix/weekly?enrich=0", "")
	if w.Code != http.StatusOK || svc.lastEnrich != 0 {
		t.Fatalf("expected enrich 0, got status=%d enrich=%d", w.Code, svc.lastEnrich)
	}

	for _, bad := range []string{"abc", "-1", "101"} {
		w = serve(t, handler, http.MethodGet, "/api/netflix/weekly?enrich="+bad, "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("enrich=%s: expected 400, got %d", bad, w.Code)
		}
	}
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: load weekly dataset: boom", rankings.ErrUpstream), http.StatusBadGateway, "upstream_unavailable"},
		{rankings.ErrNoData, http.StatusNotFound, "no_data"},
		{rankings.ErrInvalidWeek, http.StatusBadRequest, "invalid_request"},
		{fmt.Errorf("parse platform: %w", domain.ErrUnknownPlatform), http.StatusBadRequest, "invalid_request"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{fmt.Errorf("unexpected"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		handler := NewServer(&fakeRankingService{err: tc.err}).Handler()
		w := serve(t, handler, http.MethodGet, "/api/netflix/weekly", "")
		if w.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, w.Code)
		}
		if code, _ := decodeError(t, w); code != tc.code {
			t.Fatalf("%v: expected code %s, got %s", tc.err, tc.code, code)
		}
	}
}

func TestUpstreamErrorHidesCause(t *testing.T) {
	svc := &fakeRankingService{err: fmt.Errorf("%w: open /secret/path.xlsx", rankings.ErrUpstream)}
	w := serve(t, NewServer(svc).Handler(), http.MethodGet, "/api/netflix/most-popular", "")
	if strings.Contains(w.Body.String(), "/secret/path.xlsx") {
		t.Fatalf("upstream detail leaked: %s", w.Body.String())
	}
}

func TestCountryRoute(t *testing.T) {
	svc := &fakeRankingService{}
	handler := NewServer(svc).Handler()

	w := serve(t, handler, http.MethodGet, "/api/netflix/country/kr?week=2025-01-06&enrich=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if svc.lastCode != "KR" || svc.lastWeek != "2025-01-06" || svc.lastEnrich != 5 {
		t.Fatalf("unexpected call: code=%s week=%s enrich=%d", svc.lastCode, svc.lastWeek, svc.lastEnrich)
	}
}

func TestCountryUnsupportedListsCountries(t *testing.T) {
	svc := &fakeRankingService{err: fmt.Errorf("%w: BR", rankings.ErrUnsupportedCountry)}
	w := serve(t, NewServer(svc).Handler(), http.MethodGet, "/api/netflix/country/br", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	_, message := decodeError(t, w)
	if !strings.Contains(message, "KR, US") || !strings.Contains(message, "BR") {
		t.Fatalf("unexpected message: %s", message)
	}
}

func TestIngestDispatch(t *testing.T) {
	svc := &fakeRankingService{}
	handler := NewServer(svc).Handler()

	w := serve(t, handler, http.MethodGet, "/api/ingest", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing platform: expected 400, got %d", w.Code)
	}
	w = serve(t, handler, http.MethodGet, "/api/ingest?platform=hulu", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown platform: expected 400, got %d", w.Code)
	}
	w = serve(t, handler, http.MethodGet, "/api/ingest?platform=disney", "")
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("disney: expected 501, got %d", w.Code)
	}
	if code, _ := decodeError(t, w); code != "not_implemented" {
		t.Fatalf("unexpected code %s", code)
	}
	if svc.ingestCalls != 0 {
		t.Fatalf("ingest should not have run, calls=%d", svc.ingestCalls)
	}

	w = serve(t, handler, http.MethodGet, "/api/ingest?platform=Netflix&week=2025-01-06&region=us", "")
	if w.Code != http.StatusOK || svc.ingestCalls != 1 {
		t.Fatalf("netflix: status=%d calls=%d", w.Code, svc.ingestCalls)
	}
	if svc.lastWeek != "2025-01-06" || svc.lastRegion != "us" {
		t.Fatalf("unexpected args week=%s region=%s", svc.lastWeek, svc.lastRegion)
	}
}

func TestIngestNetflixRoute(t *testing.T) {
	svc := &fakeRankingService{}
	w := serve(t, NewServer(svc).Handler(), http.MethodGet, "/api/ingest/netflix", "")
	if w.Code != http.StatusOK || svc.ingestCalls != 1 {
		t.Fatalf("status=%d calls=%d", w.Code, svc.ingestCalls)
	}
	var result domain.IngestResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Platform != domain.PlatformNetflix || result.Region != "KR" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestIngestEntriesBodies(t *testing.T) {
	svc := &fakeRankingService{}
	handler := NewServer(svc).Handler()

	w := serve(t, handler, http.MethodPost, "/api/ingest/disney?week=2025-01-06", `[{"title":"K2","rank":1}]`)
	if w.Code != http.StatusOK {
		t.Fatalf("array body: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastPlatform != "disney" || len(svc.lastEntries) != 1 || svc.lastEntries[0].Title != "K2" {
		t.Fatalf("unexpected call: %s %+v", svc.lastPlatform, svc.lastEntries)
	}

	w = serve(t, handler, http.MethodPost, "/api/ingest/wavve?week=2025-01-06", `{"items":[{"title":"A","rank":2},{"title":"B","rank":3}]}`)
	if w.Code != http.StatusOK || len(svc.lastEntries) != 2 {
		t.Fatalf("wrapped body: status=%d entries=%d", w.Code, len(svc.lastEntries))
	}

	for _, body := range []string{"", "{", `{"entries":[]}`} {
		w = serve(t, handler, http.MethodPost, "/api/ingest/wavve?week=2025-01-06", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestRankingsRoute(t *testing.T) {
	svc := &fakeRankingService{}
	w := serve(t, NewServer(svc).Handler(), http.MethodGet, "/api/rankings?week=2025-01-06&platform=netflix,disney", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if svc.lastWeek != "2025-01-06" || svc.lastPlatforms != "netflix,disney" {
		t.Fatalf("unexpected args week=%s platforms=%s", svc.lastWeek, svc.lastPlatforms)
	}
	var resp domain.RankingsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Score != 19 {
		t.Fatalf("unexpected items: %+v", resp.Items)
	}
}

func TestDebugEndpoints(t *testing.T) {
	handler := NewServer(&fakeRankingService{},
		WithMissReporter(fakeMisses{}),
		WithTMDBCredentials(fakeCredentials{}),
	).Handler()

	w := serve(t, handler, http.MethodGet, "/api/debug/tmdb-misses", "")
	var misses struct {
		Misses []enrich.MissRecord `json:"misses"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &misses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(misses.Misses) != 1 || misses.Misses[0].Count != 3 {
		t.Fatalf("unexpected misses: %+v", misses)
	}

	w = serve(t, handler, http.MethodGet, "/api/tmdb/health", "")
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("expected no-store, got %q", got)
	}
	var health struct {
		Enabled     bool                  `json:"enabled"`
		Credentials tmdb.CredentialStatus `json:"credentials"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !health.Enabled || !health.Credentials.HasBearer || health.Credentials.BearerLength != 120 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestDebugEndpointsWithoutReporters(t *testing.T) {
	handler := NewServer(&fakeRankingService{}).Handler()
	w := serve(t, handler, http.MethodGet, "/api/debug/tmdb-misses", "")
	if strings.TrimSpace(w.Body.String()) != `{"misses":[]}` {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	w = serve(t, handler, http.MethodGet, "/api/tmdb/health", "")
	if !strings.Contains(w.Body.String(), `"enabled":false`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	handler := NewServer(&fakeRankingService{}).Handler()
	w := serve(t, handler, http.MethodGet, "/api/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if code, _ := decodeError(t, w); code != "not_found" {
		t.Fatalf("unexpected code %s", code)
	}
	w = serve(t, handler, http.MethodDelete, "/api/rankings", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	handler := NewServer(&fakeRankingService{}).Handler()

	w := serve(t, handler, http.MethodGet, "/health", "")
	if len(w.Header().Get(requestIDHeader)) != 36 {
		t.Fatalf("expected a generated uuid, got %q", w.Header().Get(requestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected caller id to be kept, got %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := NewServer(&fakeRankingService{}, WithCORSOrigins("https://app.example.com")).Handler()
	req := httptest.NewRequest(http.MethodOptions, "/api/rankings", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestRateLimit(t *testing.T) {
	handler := NewServer(&fakeRankingService{}, WithRateLimit(0.001, 1)).Handler()
	if w := serve(t, handler, http.MethodGet, "/api/netflix/weekly", ""); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w := serve(t, handler, http.MethodGet, "/api/netflix/weekly", "")
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected 429 with Retry-After, got %d", w.Code)
	}
	if w := serve(t, handler, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("health should bypass the limiter, got %d", w.Code)
	}
}

func TestMetricsMiddlewareNormalizesRoutes(t *testing.T) {
	handler := NewServer(&fakeRankingService{}).Handler()
	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/netflix/country/{code}", "200")
	before := testutil.ToFloat64(counter)
	serve(t, handler, http.MethodGet, "/api/netflix/country/kr", "")
	serve(t, handler, http.MethodGet, "/api/netflix/country/us", "")
	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Fatalf("expected 2 increments, got %v", got)
	}
}

func TestRouteLabelForUnmatchedPath(t *testing.T) {
	handler := NewServer(&fakeRankingService{}).Handler()
	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")
	before := testutil.ToFloat64(counter)
	serve(t, handler, http.MethodGet, "/wp-login.php", "")
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Fatalf("expected 1 increment, got %v", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoverer(slogDiscard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rankings", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
