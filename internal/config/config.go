package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Auth backend
	AuthURL        string
	AuthAnonKey    string
	BackendTimeout time.Duration
	StorageKey     string

	// Redirect
	AppScheme        string
	AuthCallbackPath string

	// Apple
	AppleClientID    string
	AppleRedirectURL string

	// Database（空の場合はメモリ上に保存する）
	DatabaseURL string

	// Refresh
	AutoRefreshInterval time.Duration
	RefreshMargin       time.Duration

	// Cleanup
	SessionRetentionDays int
	CleanupInterval      time.Duration

	// Rate Limit
	RateLimitSignIn int

	// Routing
	EntryUnauthenticated string
	EntryProtected       string

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.AuthURL = os.Getenv("AUTH_URL")
	if cfg.AuthURL == "" {
		missing = append(missing, "AUTH_URL")
	}

	cfg.AuthAnonKey = os.Getenv("AUTH_ANON_KEY")
	if cfg.AuthAnonKey == "" {
		missing = append(missing, "AUTH_ANON_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.BackendTimeout = getEnvDuration("BACKEND_TIMEOUT", 10*time.Second)
	cfg.StorageKey = getEnvString("STORAGE_KEY", "sb-session")
	cfg.AppScheme = getEnvString("APP_SCHEME", "")
	cfg.AuthCallbackPath = strings.Trim(getEnvString("AUTH_CALLBACK_PATH", "auth/callback"), "/")
	cfg.AppleClientID = getEnvString("APPLE_CLIENT_ID", "")
	cfg.AppleRedirectURL = getEnvString("APPLE_REDIRECT_URL", "")
	cfg.DatabaseURL = getEnvString("DATABASE_URL", "")
	cfg.AutoRefreshInterval = getEnvDuration("AUTO_REFRESH_INTERVAL", 30*time.Second)
	cfg.RefreshMargin = getEnvDuration("REFRESH_MARGIN", 60*time.Second)
	cfg.SessionRetentionDays = getEnvInt("SESSION_RETENTION_DAYS", 30)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.RateLimitSignIn = getEnvInt("RATE_LIMIT_SIGNIN", 10)
	cfg.EntryUnauthenticated = getEnvString("ENTRY_UNAUTHENTICATED", "/sign-in")
	cfg.EntryProtected = getEnvString("ENTRY_PROTECTED", "/home")
	cfg.ServerPort = getEnvString("SERVER_PORT", "53682")

	return cfg, nil
}

// AppleEnabled はApple Sign-Inに必要な設定が揃っているかを返す。
func (c *Config) AppleEnabled() bool {
	return c.AppleClientID != "" && c.AppleRedirectURL != ""
}

// CallbackPath はコールバックページのURLパス（先頭スラッシュ付き）を返す。
func (c *Config) CallbackPath() string {
	return "/" + c.AuthCallbackPath
}

// LoopbackHost はループバックホストの待ち受けアドレスを返す。
func (c *Config) LoopbackHost() string {
	return "127.0.0.1:" + c.ServerPort
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvInt は正の整数を読み取る。解析できない値や0以下の値はデフォルトに戻す。
func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

// getEnvDuration は正の期間を読み取る。解析できない値や0以下の値はデフォルトに戻す。
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
