package apihttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"liverank/rankservice/internal/domain"
	"liverank/rankservice/internal/enrich"
	"liverank/rankservice/internal/providers/tmdb"
	"liverank/rankservice/internal/rankings"
)

const (
	maxEnrichLimit = 100
	maxBodyBytes   = 1 << 20
)

type RankingService interface {
	Weekly(ctx context.Context, enrich int) (domain.WeeklyResponse, error)
	Country(ctx context.Context, code, week string, enrich int) (domain.CountryResponse, error)
	Popular(ctx context.Context, enrich int) (domain.PopularResponse, error)
	IngestNetflix(ctx context.Context, week, region string) (domain.IngestResult, error)
	IngestEntries(ctx context.Context, platform, week string, entries []domain.CrossPlatformEntry) (domain.IngestResult, error)
	Rankings(ctx context.Context, week, platforms string) (domain.RankingsResponse, error)
	SupportedCountries() []string
}

type MissReporter interface {
	Snapshot() []enrich.MissRecord
}

type CredentialReporter interface {
	Enabled() bool
	CredentialStatus() tmdb.CredentialStatus
}

type Server struct {
	rankings       RankingService
	misses         MissReporter
	credentials    CredentialReporter
	images         *imageProxy
	logger         *slog.Logger
	corsOrigins    []string
	rateRPS        float64
	rateBurst      int
	requestTimeout time.Duration
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithMissReporter(misses MissReporter) ServerOption {
	return func(s *Server) {
		s.misses = misses
	}
}

func WithTMDBCredentials(credentials CredentialReporter) ServerOption {
	return func(s *Server) {
		s.credentials = credentials
	}
}

// WithImageProxy serves /api/image from baseURL (for example
// "https://image.tmdb.org/t/p"). A nil client selects the default one.
func WithImageProxy(baseURL string, client *http.Client) ServerOption {
	return func(s *Server) {
		s.images = newImageProxy(baseURL, client)
	}
}

func WithCORSOrigins(origins ...string) ServerOption {
	return func(s *Server) {
		if len(origins) > 0 {
			s.corsOrigins = origins
		}
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rateRPS = rps
			s.rateBurst = burst
		}
	}
}

func WithRequestTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.requestTimeout = timeout
	}
}

func NewServer(rankingService RankingService, options ...ServerOption) *Server {
	server := &Server{
		rankings:       rankingService,
		logger:         slog.Default(),
		corsOrigins:    []string{"*"},
		rateRPS:        50,
		rateBurst:      100,
		requestTimeout: 30 * time.Second,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	if server.images == nil {
		server.images = newImageProxy(defaultImageBaseURL, nil)
	}
	return server
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		recoverer(s.logger),
		rateLimiter(s.rateRPS, s.rateBurst),
		cors.Handler(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", requestIDHeader},
			ExposedHeaders: []string{requestIDHeader},
			MaxAge:         300,
		}),
		requestID,
		instrument(s.logger),
	)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Route("/netflix", func(r chi.Router) {
			r.Get("/weekly", s.handleWeekly)
			r.Get("/country/{code}", s.handleCountry)
			r.Get("/most-popular", s.handlePopular)
		})
		r.Get("/ingest", s.handleIngestDispatch)
		r.Get("/ingest/netflix", s.handleIngestNetflix)
		r.Post("/ingest/{platform}", s.handleIngestEntries)
		r.Get("/rankings", s.handleRankings)
		r.Get("/image", s.images.ServeHTTP)
		r.Get("/debug/tmdb-misses", s.handleMisses)
		r.Get("/tmdb/health", s.handleTMDBHealth)
	})

	return otelhttp.NewHandler(r, "liverank",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !exempt(r.URL.Path)
		}),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleWeekly(w http.ResponseWriter, r *http.Request) {
	limit, err := parseEnrichLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	resp, err := s.rankings.Weekly(ctx, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCountry(w http.ResponseWriter, r *http.Request) {
	limit, err := parseEnrichLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	resp, err := s.rankings.Country(ctx, code, r.URL.Query().Get("week"), limit)
	if errors.Is(err, rankings.ErrUnsupportedCountry) {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf(
			"country code %s is not supported, supported: %s",
			truncate(code, 8), strings.Join(s.rankings.SupportedCountries(), ", "),
		))
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	limit, err := parseEnrichLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	resp, err := s.rankings.Popular(ctx, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleIngestDispatch routes /api/ingest?platform=<name> to the platform
// ingester. Only Netflix has a pull ingester; other lists are pushed with
// POST /api/ingest/{platform}.
func (s *Server) handleIngestDispatch(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("platform"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "platform is required")
		return
	}
	platform, err := domain.ParsePlatform(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown platform: "+truncate(raw, 40))
		return
	}
	if platform != domain.PlatformNetflix {
		writeError(w, http.StatusNotImplemented, "not_implemented", "platform not implemented: "+string(platform))
		return
	}
	s.handleIngestNetflix(w, r)
}

func (s *Server) handleIngestNetflix(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	result, err := s.rankings.IngestNetflix(ctx, query.Get("week"), query.Get("region"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleIngestEntries(w http.ResponseWriter, r *http.Request) {
	var entries []domain.CrossPlatformEntry
	if err := decodeEntries(r, &entries); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	result, err := s.rankings.IngestEntries(ctx, chi.URLParam(r, "platform"), r.URL.Query().Get("week"), entries)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	resp, err := s.rankings.Rankings(ctx, query.Get("week"), query.Get("platform"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMisses(w http.ResponseWriter, _ *http.Request) {
	misses := []enrich.MissRecord{}
	if s.misses != nil {
		misses = s.misses.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{"misses": misses})
}

func (s *Server) handleTMDBHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if s.credentials == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "credentials": tmdb.CredentialStatus{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":     s.credentials.Enabled(),
		"credentials": s.credentials.CredentialStatus(),
	})
}

func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.requestTimeout)
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rankings.ErrInvalidWeek),
		errors.Is(err, rankings.ErrUnsupportedCountry),
		errors.Is(err, domain.ErrUnknownPlatform):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, rankings.ErrNoData):
		writeError(w, http.StatusNotFound, "no_data", err.Error())
	case errors.Is(err, rankings.ErrUpstream):
		s.logger.Warn("upstream dataset unavailable",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "upstream_unavailable", "ranking data source unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// parseEnrichLimit reads ?enrich=N. A missing value returns -1 so the
// service applies its configured default.
func parseEnrichLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("enrich"))
	if raw == "" {
		return -1, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 || parsed > maxEnrichLimit {
		return 0, fmt.Errorf("enrich must be an integer between 0 and %d", maxEnrichLimit)
	}
	return parsed, nil
}

// decodeEntries accepts either a JSON array of entries or {"items": [...]}.
func decodeEntries(r *http.Request, dest *[]domain.CrossPlatformEntry) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return errors.New("request body is required")
	}

	if payload[0] == '[' {
		if err := json.Unmarshal(payload, dest); err != nil {
			return fmt.Errorf("invalid json body: %w", err)
		}
		return nil
	}
	var wrapped struct {
		Items []domain.CrossPlatformEntry `json:"items"`
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&wrapped); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	*dest = wrapped.Items
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
