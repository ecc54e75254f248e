package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"liverank/rankservice/internal/ranking"
)

var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

type Config struct {
	HTTPAddr       string        `validate:"required"`
	RequestTimeout time.Duration `validate:"gt=0"`
	LogLevel       string        `validate:"oneof=debug info warn warning error"`
	LogFormat      string        `validate:"oneof=text json"`
	UserAgent      string        `validate:"required"`

	GlobalSource     string
	CountrySource    string
	PopularSource    string
	RemoteCountryURL string `validate:"omitempty,url"`
	RedisURL         string

	TMDBBearerToken   string
	TMDBAPIKey        string
	TMDBBaseURL       string        `validate:"required,url"`
	TMDBImageBaseURL  string        `validate:"required,url"`
	TMDBCacheTTL      time.Duration `validate:"gt=0"`
	TMDBMaxConcurrent int           `validate:"gte=1,lte=64"`
	TMDBLanguages     []string      `validate:"min=1,dive,required"`
	TMDBRetryBackoff  time.Duration `validate:"gte=0"`

	RankingsCacheTTL time.Duration `validate:"gt=0"`
	WeeklyCacheTTL   time.Duration `validate:"gt=0"`

	EnrichLimitWeekly  int `validate:"gte=0,lte=100"`
	EnrichLimitCountry int `validate:"gte=0,lte=100"`
	EnrichLimitPopular int `validate:"gte=0,lte=100"`
	EnrichOnIngest     bool

	SupportedCountries []string `validate:"min=1,dive,len=2,alpha"`
	CORSAllowOrigin    string   `validate:"required"`
	MissLogPerSecond   int      `validate:"gte=1"`
	RateLimitRPS       int      `validate:"gte=1"`
	RateLimitBurst     int      `validate:"gte=1"`

	RankingConfigFile string
	Weights           ranking.Weights
}

// fileConfig is the optional TOML overlay. Keys left out of the file keep
// the values already loaded from the environment.
type fileConfig struct {
	SupportedCountries []string        `toml:"supported_countries"`
	Weights            ranking.Weights `toml:"weights"`
	Enrichment         enrichmentFile  `toml:"enrichment"`
}

type enrichmentFile struct {
	Weekly   int  `toml:"weekly"`
	Country  int  `toml:"country"`
	Popular  int  `toml:"popular"`
	OnIngest bool `toml:"on_ingest"`
}

// LoadConfig reads the environment, applies RANKING_CONFIG_FILE when set and
// validates the result.
func LoadConfig() (Config, error) {
	cfg := Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:      getEnv("LIVERANK_USER_AGENT", "liverank/1.0"),

		GlobalSource:     getEnv("NETFLIX_GLOBAL_SOURCE", "data/all-weeks-global.xlsx"),
		CountrySource:    getEnv("NETFLIX_COUNTRY_SOURCE", "data/all-weeks-countries.xlsx"),
		PopularSource:    getEnv("NETFLIX_POPULAR_SOURCE", "data/most-popular.xlsx"),
		RemoteCountryURL: getEnv("NETFLIX_REMOTE_COUNTRY_URL", ""),
		RedisURL:         getEnv("REDIS_URL", ""),

		TMDBBearerToken:   strings.TrimSpace(os.Getenv("TMDB_API_KEY")),
		TMDBAPIKey:        strings.TrimSpace(os.Getenv("TMDB_API_KEY_V3")),
		TMDBBaseURL:       getEnv("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
		TMDBImageBaseURL:  getEnv("TMDB_IMAGE_BASE_URL", "https://image.tmdb.org/t/p"),
		TMDBCacheTTL:      time.Duration(getEnvInt("TMDB_CACHE_TTL_MINUTES", 30)) * time.Minute,
		TMDBMaxConcurrent: getEnvInt("TMDB_MAX_CONCURRENT", 5),
		TMDBLanguages:     getEnvList("TMDB_LANGUAGES", []string{"ko-KR", "en-US"}),
		TMDBRetryBackoff:  time.Duration(getEnvInt("TMDB_RETRY_BACKOFF_MS", 300)) * time.Millisecond,

		RankingsCacheTTL: time.Duration(getEnvInt("RANKINGS_CACHE_TTL_HOURS", 168)) * time.Hour,
		WeeklyCacheTTL:   time.Duration(getEnvInt("WEEKLY_CACHE_TTL_HOURS", 24)) * time.Hour,

		EnrichLimitWeekly:  getEnvCount("ENRICH_LIMIT_WEEKLY", 40),
		EnrichLimitCountry: getEnvCount("ENRICH_LIMIT_COUNTRY", 10),
		EnrichLimitPopular: getEnvCount("ENRICH_LIMIT_POPULAR", 40),
		EnrichOnIngest:     getEnvBool("ENRICH_ON_INGEST", false),

		SupportedCountries: getEnvList("SUPPORTED_COUNTRIES", []string{"KR", "US", "GB", "JP", "FR", "DE"}),
		CORSAllowOrigin:    getEnv("CORS_ALLOW_ORIGIN", "*"),
		MissLogPerSecond:   getEnvInt("MISS_LOG_PER_SECOND", 5),
		RateLimitRPS:       getEnvInt("RATE_LIMIT_RPS", 50),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 100),

		RankingConfigFile: getEnv("RANKING_CONFIG_FILE", ""),
		Weights:           ranking.DefaultWeights(),
	}

	if cfg.RankingConfigFile != "" {
		if err := cfg.applyFile(cfg.RankingConfigFile); err != nil {
			return Config{}, err
		}
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open ranking config: %w", err)
	}
	defer file.Close()

	overlay := fileConfig{
		SupportedCountries: c.SupportedCountries,
		Weights:            c.Weights,
		Enrichment: enrichmentFile{
			Weekly:   c.EnrichLimitWeekly,
			Country:  c.EnrichLimitCountry,
			Popular:  c.EnrichLimitPopular,
			OnIngest: c.EnrichOnIngest,
		},
	}
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&overlay); err != nil {
		return fmt.Errorf("parse ranking config: %w", err)
	}

	c.SupportedCountries = overlay.SupportedCountries
	c.Weights = overlay.Weights
	c.EnrichLimitWeekly = overlay.Enrichment.Weekly
	c.EnrichLimitCountry = overlay.Enrichment.Country
	c.EnrichLimitPopular = overlay.Enrichment.Popular
	c.EnrichOnIngest = overlay.Enrichment.OnIngest
	return nil
}

func (c *Config) normalize() {
	countries := make([]string, 0, len(c.SupportedCountries))
	for _, code := range c.SupportedCountries {
		if code = strings.ToUpper(strings.TrimSpace(code)); code != "" {
			countries = append(countries, code)
		}
	}
	c.SupportedCountries = countries
	c.TMDBBaseURL = strings.TrimRight(c.TMDBBaseURL, "/")
	c.TMDBImageBaseURL = strings.TrimRight(c.TMDBImageBaseURL, "/")
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		messages := make([]string, 0, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			messages = append(messages, describeFieldError(fieldErr))
		}
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(messages, "; "))
	}
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
	}
	return fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// getEnvCount is getEnvInt for limits where 0 is meaningful.
func getEnvCount(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return append([]string(nil), fallback...)
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}
