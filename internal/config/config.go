package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		ENV      string
		Timezone *time.Location
	}

	Log struct {
		Level     string
		Format    string
		Component string
		Source    bool
	}

	DB struct {
		DSN      string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	HTTP struct {
		Host         string
		Port         string
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
	}

	GRPC struct {
		Host string
		Port string
	}

	Auth struct {
		JWTSecret string
		Issuer    string
		Audience  string
	}

	Functions struct {
		BaseURL         string
		DispatchTimeout time.Duration
	}

	Analytics struct {
		CollectorURL  string
		APIKey        string
		BatchSize     int
		FlushInterval time.Duration
		RatePerSecond float64
	}

	Billing struct {
		WebhookSecret      string
		SignatureTolerance time.Duration
	}

	Tuning Tuning
}

// Tuning holds the business constants that operators may override from a
// YAML file pointed to by TUNING_FILE.
type Tuning struct {
	Quota struct {
		FreeSwipes      int `yaml:"free_swipes"`
		FreeMessages    int `yaml:"free_messages"`
		PremiumSwipes   int `yaml:"premium_swipes"`
		PremiumMessages int `yaml:"premium_messages"`
	} `yaml:"quota"`

	Matching struct {
		StationFallbackScore float64       `yaml:"station_fallback_score"`
		GlobalFallbackScore  float64       `yaml:"global_fallback_score"`
		CandidateCacheTTL    time.Duration `yaml:"candidate_cache_ttl"`
	} `yaml:"matching"`

	Likes struct {
		SpacingWindow time.Duration `yaml:"spacing_window"`
	} `yaml:"likes"`
}

// DefaultTuning returns the production defaults.
func DefaultTuning() Tuning {
	var t Tuning
	t.Quota.FreeSwipes = 10
	t.Quota.FreeMessages = 50
	t.Quota.PremiumSwipes = 100
	t.Quota.PremiumMessages = 500
	t.Matching.StationFallbackScore = 1.0
	t.Matching.GlobalFallbackScore = 0.5
	t.Matching.CandidateCacheTTL = 5 * time.Minute
	t.Likes.SpacingWindow = time.Second
	return t
}

func New() *Config {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := &Config{}

	// App
	cfg.App.ENV = getEnvDefault("APP_ENV", "production")
	cfg.App.Timezone = time.UTC
	if tz := os.Getenv("SERVICE_TZ"); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			cfg.App.Timezone = loc
		}
	}

	// Logger
	cfg.Log.Level = getEnvDefault("LOG_LEVEL", "info")
	cfg.Log.Format = getEnvDefault("LOG_FORMAT", "text")
	cfg.Log.Component = getEnvDefault("LOG_COMPONENT", "functions")
	cfg.Log.Source = isTruthy(os.Getenv("LOG_SOURCE"))

	// Database
	cfg.DB.DSN = os.Getenv("MYSQL_DSN")
	if cfg.DB.DSN == "" {
		cfg.DB.Host = getEnvDefault("DB_HOST", "localhost")
		cfg.DB.Port = getEnvDefault("DB_PORT", "3306")
		cfg.DB.User = getEnvDefault("DB_USER", "root")
		cfg.DB.Password = getEnvDefault("DB_PASSWORD", "root")
		cfg.DB.Name = getEnvDefault("DB_NAME", "crewsnow")

		cfg.DB.DSN = fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
		)
	}

	// Redis
	cfg.Redis.Addr = getEnvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnvDefault("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	// HTTP
	cfg.HTTP.Host = getEnvDefault("HTTP_HOST", "0.0.0.0")
	cfg.HTTP.Port = getEnvDefault("HTTP_PORT", "8080")
	cfg.HTTP.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	cfg.HTTP.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second)

	// gRPC (health + reflection only)
	cfg.GRPC.Host = getEnvDefault("GRPC_HOST", "127.0.0.1")
	cfg.GRPC.Port = getEnvDefault("GRPC_PORT", "50051")

	// Auth
	cfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.Auth.Issuer = os.Getenv("JWT_ISSUER")
	cfg.Auth.Audience = getEnvDefault("JWT_AUDIENCE", "authenticated")

	// Downstream functions
	cfg.Functions.BaseURL = strings.TrimRight(getEnvDefault("FUNCTIONS_BASE_URL", "http://127.0.0.1:8080"), "/")
	cfg.Functions.DispatchTimeout = getEnvDuration("DISPATCH_TIMEOUT", 5*time.Second)

	// Analytics
	cfg.Analytics.CollectorURL = strings.TrimRight(os.Getenv("ANALYTICS_URL"), "/")
	cfg.Analytics.APIKey = os.Getenv("ANALYTICS_API_KEY")
	cfg.Analytics.BatchSize = getEnvInt("ANALYTICS_BATCH_SIZE", 50)
	cfg.Analytics.FlushInterval = getEnvDuration("ANALYTICS_FLUSH_INTERVAL", 10*time.Second)
	cfg.Analytics.RatePerSecond = getEnvFloat("ANALYTICS_RPS", 2)

	// Billing
	cfg.Billing.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.Billing.SignatureTolerance = getEnvDuration("STRIPE_SIGNATURE_TOLERANCE", 5*time.Minute)

	// Tuning
	cfg.Tuning = DefaultTuning()
	if path := os.Getenv("TUNING_FILE"); path != "" {
		if t, err := LoadTuning(path); err == nil {
			cfg.Tuning = t
		}
	}

	return cfg
}

// LoadTuning reads a YAML tuning file on top of DefaultTuning, so a file only
// needs to name the values it changes.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	b, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(b, &t); err != nil {
		return DefaultTuning(), fmt.Errorf("parse tuning file: %w", err)
	}
	return t, nil
}

func getEnvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v, err := strconv.Atoi(getEnvDefault(k, "")); err == nil {
		return v
	}
	return def
}

func getEnvFloat(k string, def float64) float64 {
	if v, err := strconv.ParseFloat(getEnvDefault(k, ""), 64); err == nil {
		return v
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnvDefault(k, "")); err == nil {
		return v
	}
	return def
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
