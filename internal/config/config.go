// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL   string
	MongoDatabase string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleJWKSURL      string

	// Session
	SessionSecret string
	SessionMaxAge int

	// Server
	ServerPort      string
	BaseURL         string
	LoginFailureURL string

	// Cookie
	CookieSecure   bool
	CookieDomain   string
	CookieSameSite http.SameSite

	// CORS
	CORSAllowedOrigins []string

	// CSRF
	CSRFEnabled bool

	// Observability
	SentryDSN string
	AppEnv    string
	LogLevel  string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに .env（ENV_FILEで変更可）があれば先に読み込むが、
// 既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadDotEnv(getEnvString("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string, dst *string) {
		*dst = os.Getenv(key)
		if *dst == "" {
			missing = append(missing, key)
		}
	}

	required("DATABASE_URL", &cfg.DatabaseURL)
	required("GOOGLE_CLIENT_ID", &cfg.GoogleClientID)
	required("GOOGLE_CLIENT_SECRET", &cfg.GoogleClientSecret)
	required("GOOGLE_REDIRECT_URL", &cfg.GoogleRedirectURL)
	required("SESSION_SECRET", &cfg.SessionSecret)
	required("BASE_URL", &cfg.BaseURL)

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.MongoDatabase = getEnvString("MONGO_DATABASE", "commentboard")
	cfg.GoogleJWKSURL = getEnvString("GOOGLE_JWKS_URL", "")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LoginFailureURL = getEnvString("LOGIN_FAILURE_URL", strings.TrimRight(cfg.BaseURL, "/")+"/?login=failed")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"})
	cfg.CSRFEnabled = getEnvBool("CSRF_ENABLED", false)
	cfg.SentryDSN = getEnvString("SENTRY_DSN", "")
	cfg.AppEnv = getEnvString("APP_ENV", "development")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	sameSite, err := parseSameSite(getEnvString("COOKIE_SAMESITE", "lax"))
	if err != nil {
		return nil, err
	}
	if sameSite == http.SameSiteNoneMode && !cfg.CookieSecure {
		return nil, fmt.Errorf("COOKIE_SAMESITE=none requires an https BASE_URL")
	}
	cfg.CookieSameSite = sameSite

	return cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func parseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(v) {
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("invalid COOKIE_SAMESITE: %q", v)
	}
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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
