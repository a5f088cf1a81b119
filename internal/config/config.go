package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string        `env:"DATABASE_URL,notEmpty"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS"    envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS"    envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID,notEmpty"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET,notEmpty"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL,notEmpty"`

	// Session
	SessionSecret string `env:"SESSION_SECRET,notEmpty"`
	SessionMaxAge int    `env:"SESSION_MAX_AGE" envDefault:"86400"`

	// Magic link
	MagicLinkTTL time.Duration `env:"MAGIC_LINK_TTL" envDefault:"15m"`

	// Backend (deliverable generation API)
	BackendURL         string        `env:"BACKEND_URL"           envDefault:"http://localhost:8000"`
	BackendTimeout     time.Duration `env:"BACKEND_TIMEOUT"       envDefault:"120s"`
	UploadMaxSize      int64         `env:"UPLOAD_MAX_SIZE"       envDefault:"104857600"`
	PDFDownloadMaxSize int64         `env:"PDF_DOWNLOAD_MAX_SIZE" envDefault:"52428800"`

	// Rate Limit
	RateLimitGeneral    int `env:"RATE_LIMIT_GENERAL"    envDefault:"120"`
	RateLimitGeneration int `env:"RATE_LIMIT_GENERATION" envDefault:"10"`

	// Auth state
	AuthStateIdleTTL time.Duration `env:"AUTH_STATE_IDLE_TTL" envDefault:"30m"`

	// Worker
	CleanupInterval   time.Duration `env:"CLEANUP_INTERVAL"    envDefault:"1h"`
	WorkerMetricsPort string        `env:"WORKER_METRICS_PORT" envDefault:"9090"`

	// Tracing
	OTelEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"momentum"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,notEmpty"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値の形式が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("load config from environment: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}
