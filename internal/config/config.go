package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

// セッションストアのバックエンド種別
const (
	StoreBackendFile     = "file"
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Identity Provider (Kratos public API)
	KratosPublicURL string        `env:"KRATOS_PUBLIC_URL,required,notEmpty"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"5s"`

	// Chat history
	HistoryAPIURL  string        `env:"HISTORY_API_URL,required,notEmpty"`
	HistoryTimeout time.Duration `env:"HISTORY_TIMEOUT" envDefault:"10s"`
	ChatRoomID     string        `env:"CHAT_ROOM_ID" envDefault:"2f3025ab-9cf7-48a8-9f61-e0f5924ec6d4"`

	// Session store
	SessionStoreBackend string `env:"SESSION_STORE_BACKEND" envDefault:"file"`
	SessionStoreKey     string `env:"SESSION_STORE_KEY" envDefault:"user"`
	SessionFileDir      string `env:"SESSION_FILE_DIR"`

	// 期限切れセッションの掃除間隔。0以下で無効。
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1m"`

	// Redis
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Rate Limit (req/min/client)
	RateLimitAuth int `env:"RATE_LIMIT_AUTH" envDefault:"10"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:5173"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.SessionFileDir == "" {
		cfg.SessionFileDir = defaultSessionFileDir()
	}
	cfg.SessionStoreBackend = strings.ToLower(strings.TrimSpace(cfg.SessionStoreBackend))
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証する。
// バックエンド固有の設定は、そのバックエンドが選択された場合のみ必須とする。
func (c *Config) Validate() error {
	var problems []string

	if err := validateBaseURL(c.KratosPublicURL); err != nil {
		problems = append(problems, "KRATOS_PUBLIC_URL: "+err.Error())
	}
	if err := validateBaseURL(c.HistoryAPIURL); err != nil {
		problems = append(problems, "HISTORY_API_URL: "+err.Error())
	}
	if _, err := uuid.Parse(c.ChatRoomID); err != nil {
		problems = append(problems, "CHAT_ROOM_ID: must be a UUID")
	}
	if c.ProviderTimeout <= 0 {
		problems = append(problems, "PROVIDER_TIMEOUT: must be positive")
	}
	if c.HistoryTimeout <= 0 {
		problems = append(problems, "HISTORY_TIMEOUT: must be positive")
	}
	if c.SessionStoreKey == "" {
		problems = append(problems, "SESSION_STORE_KEY: must not be empty")
	}
	if c.RateLimitAuth <= 0 {
		problems = append(problems, "RATE_LIMIT_AUTH: must be positive")
	}

	switch c.SessionStoreBackend {
	case StoreBackendFile:
	case StoreBackendRedis:
		if c.RedisAddr == "" {
			problems = append(problems, "REDIS_ADDR: required for redis session store")
		}
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL: required for postgres session store")
		}
	default:
		problems = append(problems, fmt.Sprintf("SESSION_STORE_BACKEND: unsupported backend %q", c.SessionStoreBackend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %v", problems)
	}
	return nil
}

// validateBaseURL はAPIのベースURLとして使えるかを検証する。
// http/httpsスキームと空でないホストを要求する。
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("empty host")
	}
	return nil
}

// defaultSessionFileDir はセッションファイルのデフォルト保存先を返す。
// XDG_STATE_HOME、ユーザー設定ディレクトリ、カレントディレクトリの順に解決する。
func defaultSessionFileDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "chatfront")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "chatfront")
	}
	return ".chatfront"
}
