package config

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Quota     QuotaConfig     `koanf:"quota"`
	Upload    UploadConfig    `koanf:"upload"`
	Providers ProvidersConfig `koanf:"providers"`
	Care      CareConfig      `koanf:"care"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Database  DatabaseConfig  `koanf:"database"`
	History   HistoryConfig   `koanf:"history"`
	Auth      AuthConfig      `koanf:"auth"`
	Security  SecurityConfig  `koanf:"security"`
	Telegram  TelegramConfig  `koanf:"telegram"`
}

type ServerConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

// Addr is host:port for net/http.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

type QuotaConfig struct {
	DailyLimit int `koanf:"daily_limit" validate:"min=1"`
	// Secret switches the quota cookie from plain JSON to a signed token.
	Secret       string        `koanf:"secret"`
	CookieName   string        `koanf:"cookie_name" validate:"required"`
	CookieMaxAge time.Duration `koanf:"cookie_max_age"`
}

type UploadConfig struct {
	MaxImages       int   `koanf:"max_images" validate:"min=1,max=5"`
	MaxImageBytes   int64 `koanf:"max_image_bytes" validate:"gt=0"`
	MaxRequestBytes int64 `koanf:"max_request_bytes" validate:"gtefield=MaxImageBytes"`
}

type ProvidersConfig struct {
	// Identification is the default identification provider.
	Identification string `koanf:"identification" validate:"oneof=plantid plantnet gemini"`
	// Health is the health provider; empty disables health assessment.
	Health   string         `koanf:"health" validate:"omitempty,oneof=plantid gemini"`
	Timeout  time.Duration  `koanf:"timeout" validate:"gt=0"`
	PlantID  PlantIDConfig  `koanf:"plantid"`
	PlantNet PlantNetConfig `koanf:"plantnet"`
	Gemini   GeminiConfig   `koanf:"gemini"`
}

type PlantIDConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url" validate:"required,url"`
}

type PlantNetConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url" validate:"required,url"`
	Project string `koanf:"project" validate:"required"`
}

type GeminiConfig struct {
	APIKey string `koanf:"api_key"`
	Model  string `koanf:"model" validate:"required"`
}

type CareConfig struct {
	Light string `koanf:"light" validate:"required"`
	Water string `koanf:"water" validate:"required"`
	Soil  string `koanf:"soil" validate:"required"`
}

type CatalogConfig struct {
	// Path overrides the embedded catalog when set.
	Path string `koanf:"path"`
}

type DatabaseConfig struct {
	URL          string        `koanf:"url"`
	Host         string        `koanf:"host"`
	Port         string        `koanf:"port"`
	User         string        `koanf:"user"`
	Password     string        `koanf:"password"`
	Name         string        `koanf:"name"`
	MaxOpenConns int           `koanf:"max_open_conns" validate:"min=1"`
	ConnLifetime time.Duration `koanf:"conn_lifetime"`
}

// DSN prefers DATABASE_URL and otherwise builds a URL from the PG* parts.
// It returns "" when no password and no URL were configured, which disables
// history persistence.
func (d DatabaseConfig) DSN() string {
	if v := strings.TrimSpace(d.URL); v != "" {
		return v
	}
	if d.Password == "" {
		return ""
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

type HistoryConfig struct {
	Workers int           `koanf:"workers" validate:"min=1"`
	Buffer  int           `koanf:"buffer" validate:"min=1"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

type AuthConfig struct {
	// JWTSecret verifies bearer tokens issued by the auth provider (HS256).
	JWTSecret string `koanf:"jwt_secret"`
}

type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

type TelegramConfig struct {
	BotToken   string `koanf:"bot_token"`
	WebhookURL string `koanf:"webhook_url"`
}
