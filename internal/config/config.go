package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// webhookEnvPrefix はWebhook URL環境変数の接頭辞。
// MAKE_WEBHOOK_URL_NOTIFICATION のように用途名を続ける。
const webhookEnvPrefix = "MAKE_WEBHOOK_URL_"

// minSessionSecretLength はセッション暗号鍵の最小長。
const minSessionSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	Env string

	// Session
	SessionSecret string
	SessionTTL    time.Duration

	// Invite
	JWTSecret string
	InviteTTL time.Duration

	// Password hashing
	BcryptCost int

	// Airtable
	AirtableAPIKey    string
	AirtableBaseID    string
	AirtableEndpoint  string
	AirtableRateLimit float64

	// Webhook
	WebhookURLs    map[string]string
	WebhookTimeout time.Duration

	// Dashboard
	DashboardCacheTTL time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitLogin   int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	AppBaseURL string

	// Cookie
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// fileConfig はCONFIG_FILEで指定されるYAMLの構造。
// 環境変数で指定された値が優先される。
type fileConfig struct {
	Webhooks          map[string]string `yaml:"webhooks"`
	CORSAllowedOrigin string            `yaml:"cors_allowed_origin"`
	AppBaseURL        string            `yaml:"app_base_url"`
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment は詳細なエラー内容をクライアントへ返してよい環境かどうかを返す。
func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

// Load は環境変数からConfigを読み込む。
// .env.local と .env が存在すれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg := &Config{}

	cfg.Env = getEnvString("APP_ENV", getEnvString("NODE_ENV", "development"))

	var fc fileConfig
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		loaded, err := loadFileConfig(path)
		if err != nil {
			return nil, err
		}
		fc = *loaded
	}

	// Required fields
	var missing []string

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.AirtableAPIKey = os.Getenv("AIRTABLE_API_KEY")
	if cfg.AirtableAPIKey == "" {
		missing = append(missing, "AIRTABLE_API_KEY")
	}

	cfg.AirtableBaseID = os.Getenv("AIRTABLE_BASE_ID")
	if cfg.AirtableBaseID == "" {
		missing = append(missing, "AIRTABLE_BASE_ID")
	}

	cfg.AppBaseURL = strings.TrimRight(getEnvString("APP_BASE_URL", fc.AppBaseURL), "/")
	if cfg.AppBaseURL == "" && cfg.IsProduction() {
		// 本番では招待リンクをHostヘッダーから組み立てない
		missing = append(missing, "APP_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.SessionSecret) < minSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d characters", minSessionSecretLength)
	}

	// Optional fields with defaults
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 8*time.Hour)
	cfg.InviteTTL = getEnvDuration("INVITE_TTL", 24*time.Hour)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.AirtableEndpoint = getEnvString("AIRTABLE_ENDPOINT", "https://api.airtable.com/v0")
	cfg.AirtableRateLimit = getEnvFloat("AIRTABLE_RATE_LIMIT", 5)
	cfg.WebhookTimeout = getEnvDuration("WEBHOOK_TIMEOUT", 30*time.Second)
	cfg.DashboardCacheTTL = getEnvDuration("DASHBOARD_CACHE_TTL", 60*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", firstNonEmpty(fc.CORSAllowedOrigin, "http://localhost:3000"))
	cfg.WebhookURLs = loadWebhookURLs(fc.Webhooks)

	return cfg, nil
}

// loadFileConfig はYAML設定ファイルを読み込む。
func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &fc, nil
}

// loadWebhookURLs は用途名（小文字）→URLのマップを構築する。
// 設定ファイルの値を環境変数の値で上書きする。
func loadWebhookURLs(fromFile map[string]string) map[string]string {
	urls := make(map[string]string)
	for purpose, u := range fromFile {
		if u != "" {
			urls[strings.ToLower(purpose)] = u
		}
	}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasPrefix(key, webhookEnvPrefix) {
			continue
		}
		purpose := strings.ToLower(strings.TrimPrefix(key, webhookEnvPrefix))
		if purpose != "" {
			urls[purpose] = value
		}
	}
	return urls
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
