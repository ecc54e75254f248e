package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "liverank/rankservice/internal/api/http"
	"liverank/rankservice/internal/app"
	"liverank/rankservice/internal/enrich"
	"liverank/rankservice/internal/kvcache"
	"liverank/rankservice/internal/metrics"
	"liverank/rankservice/internal/providers/tmdb"
	"liverank/rankservice/internal/ranking"
	"liverank/rankservice/internal/rankings"
	"liverank/rankservice/internal/sheets"
	"liverank/rankservice/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "liverank", version)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "liverank"),
		slog.String("version", version),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.String("globalSource", cfg.GlobalSource),
		slog.String("countrySource", cfg.CountrySource),
		slog.String("popularSource", cfg.PopularSource),
		slog.Bool("hasRemoteCountryURL", cfg.RemoteCountryURL != ""),
		slog.Bool("hasRedis", cfg.RedisURL != ""),
		slog.Bool("hasTMDBBearer", cfg.TMDBBearerToken != ""),
		slog.Bool("hasTMDBKey", cfg.TMDBAPIKey != ""),
		slog.Any("supportedCountries", cfg.SupportedCountries),
	)

	engine, err := ranking.New(cfg.Weights)
	if err != nil {
		logger.Error("invalid ranking weights", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store := buildStore(cfg, logger)
	tmdbClient := tmdb.NewClient(tmdb.Config{
		BearerToken:   cfg.TMDBBearerToken,
		APIKey:        cfg.TMDBAPIKey,
		BaseURL:       cfg.TMDBBaseURL,
		Client:        &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Cache:         store,
		CacheTTL:      cfg.TMDBCacheTTL,
		MaxConcurrent: cfg.TMDBMaxConcurrent,
		RetryBackoff:  cfg.TMDBRetryBackoff,
		Logger:        logger,
	})
	logger.Info("tmdb client initialized", slog.Bool("enabled", tmdbClient.Enabled()))

	misses := enrich.NewMissLog(logger, cfg.MissLogPerSecond, nil)
	enricher := enrich.NewService(tmdbClient,
		enrich.WithLanguages(cfg.TMDBLanguages...),
		enrich.WithMissLog(misses),
		enrich.WithLogger(logger),
	)

	source := sheets.NewSource(sheets.Config{
		Client:    &http.Client{Timeout: 60 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		UserAgent: cfg.UserAgent,
		Logger:    logger,
	})
	rankingService := rankings.NewService(rankings.Config{
		GlobalSource:       cfg.GlobalSource,
		CountrySource:      cfg.CountrySource,
		PopularSource:      cfg.PopularSource,
		RemoteCountryURL:   cfg.RemoteCountryURL,
		SupportedCountries: cfg.SupportedCountries,
		WeeklyTTL:          cfg.WeeklyCacheTTL,
		RankingsTTL:        cfg.RankingsCacheTTL,
		EnrichLimitWeekly:  cfg.EnrichLimitWeekly,
		EnrichLimitCountry: cfg.EnrichLimitCountry,
		EnrichLimitPopular: cfg.EnrichLimitPopular,
		EnrichOnIngest:     cfg.EnrichOnIngest,
	}, source, engine, store,
		rankings.WithEnricher(enricher),
		rankings.WithLogger(logger),
	)

	handler := apihttp.NewServer(rankingService,
		apihttp.WithLogger(logger),
		apihttp.WithMissReporter(misses),
		apihttp.WithTMDBCredentials(tmdbClient),
		apihttp.WithImageProxy(cfg.TMDBImageBaseURL, nil),
		apihttp.WithCORSOrigins(splitOrigins(cfg.CORSAllowOrigin)...),
		apihttp.WithRateLimit(float64(cfg.RateLimitRPS), cfg.RateLimitBurst),
		apihttp.WithRequestTimeout(cfg.RequestTimeout),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Cold dataset loads plus enrichment can outlast the request timeout.
		WriteTimeout: cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("liverank service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("timeout", cfg.RequestTimeout),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("liverank service stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildStore layers Redis over the in-process cache when REDIS_URL points at
// a reachable server.
func buildStore(cfg app.Config, logger *slog.Logger) kvcache.Store {
	local := kvcache.NewMemory()
	if cfg.RedisURL == "" {
		return local
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory cache only", slog.String("error", err.Error()))
		return local
	}
	client := redis.NewClient(redisOpts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable, using in-memory cache only", slog.String("error", err.Error()))
		_ = client.Close()
		return local
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return kvcache.NewLayered(kvcache.NewRedis(client, ""), local, func(op string, err error) {
		logger.Warn("redis cache error", slog.String("op", op), slog.String("error", err.Error()))
	})
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			origins = append(origins, part)
		}
	}
	return origins
}
