package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ドキュメントストアのドライバー名。
const (
	DocstorePostgres = "postgres"
	DocstoreSQLite   = "sqlite"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Document store
	DocstoreDriver     string
	DocstoreDSN        string
	RoutesCollection   string
	ProfilesCollection string

	// Dashboard
	NoticeTTL             time.Duration
	ProfileLocalState     string
	WorkspaceIdleTimeout  time.Duration
	WorkspaceReapInterval time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitDelete  int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// 必須項目は未設定のものをまとめて報告する
	required := []struct {
		key string
		dst *string
	}{
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"GOOGLE_CLIENT_ID", &cfg.GoogleClientID},
		{"GOOGLE_CLIENT_SECRET", &cfg.GoogleClientSecret},
		{"GOOGLE_REDIRECT_URL", &cfg.GoogleRedirectURL},
		{"BASE_URL", &cfg.BaseURL},
	}
	var missing []string
	for _, r := range required {
		*r.dst = os.Getenv(r.key)
		if *r.dst == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Document store
	cfg.DocstoreDriver = strings.ToLower(getEnvString("DOCSTORE_DRIVER", DocstorePostgres))
	switch cfg.DocstoreDriver {
	case DocstorePostgres:
		cfg.DocstoreDSN = getEnvString("DOCSTORE_DSN", cfg.DatabaseURL)
	case DocstoreSQLite:
		cfg.DocstoreDSN = getEnvString("DOCSTORE_DSN", "file:rutas.db")
	default:
		return nil, fmt.Errorf("unsupported DOCSTORE_DRIVER %q (want %q or %q)", cfg.DocstoreDriver, DocstorePostgres, DocstoreSQLite)
	}
	cfg.RoutesCollection = getEnvString("ROUTES_COLLECTION", "routes")
	cfg.ProfilesCollection = getEnvString("PROFILES_COLLECTION", "users")

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.NoticeTTL = getEnvDuration("NOTICE_TTL", 3*time.Second)
	cfg.ProfileLocalState = getEnvString("PROFILE_LOCAL_STATE", "replace")
	cfg.WorkspaceIdleTimeout = getEnvDuration("WORKSPACE_IDLE_TIMEOUT", 30*time.Minute)
	cfg.WorkspaceReapInterval = getEnvDuration("WORKSPACE_REAP_INTERVAL", time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitDelete = getEnvInt("RATE_LIMIT_DELETE", 30)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// getEnvDuration は0以下の値も既定値に置き換える。
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
