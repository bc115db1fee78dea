package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"leafscan/api/internal/provider/types"
)

// ConfigPathEnvVar overrides the YAML config location.
const ConfigPathEnvVar = "CONFIG_PATH"

var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/leafscan/config.yaml",
}

func defaultConfig() *Config {
	care := types.DefaultCare()
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   45 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Quota: QuotaConfig{
			DailyLimit:   20,
			CookieName:   "plant_id_usage",
			CookieMaxAge: 24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxImages:       5,
			MaxImageBytes:   4 << 20,
			MaxRequestBytes: 24 << 20,
		},
		Providers: ProvidersConfig{
			Identification: "plantid",
			Health:         "plantid",
			Timeout:        30 * time.Second,
			PlantID: PlantIDConfig{
				BaseURL: "https://api.plant.id/v3",
			},
			PlantNet: PlantNetConfig{
				BaseURL: "https://my-api.plantnet.org/v2",
				Project: "all",
			},
			Gemini: GeminiConfig{
				Model: "gemini-2.5-flash",
			},
		},
		Care: CareConfig{
			Light: care.Light,
			Water: care.Water,
			Soil:  care.Soil,
		},
		Database: DatabaseConfig{
			Host:         "db",
			Port:         "5432",
			User:         "leafscan",
			Name:         "leafscan",
			MaxOpenConns: 10,
			ConnLifetime: time.Hour,
		},
		History: HistoryConfig{
			Workers: 2,
			Buffer:  64,
			Timeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			CORSOrigins:     []string{},
			RateLimitReqs:   60,
			RateLimitWindow: time.Minute,
		},
	}
}

// Load reads configuration in three layers: struct defaults, an optional YAML
// file, then environment variables. Env wins.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"port":         "server.port",
	"http_host":    "server.host",
	"http_timeout": "server.request_timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"daily_scan_limit":   "quota.daily_limit",
	"quota_secret":       "quota.secret",
	"quota_cookie_name":  "quota.cookie_name",
	"max_images":         "upload.max_images",
	"max_image_bytes":    "upload.max_image_bytes",
	"max_request_bytes":  "upload.max_request_bytes",
	"identify_provider":  "providers.identification",
	"health_provider":    "providers.health",
	"provider_timeout":   "providers.timeout",
	"plant_id_api_key":   "providers.plantid.api_key",
	"plant_id_base_url":  "providers.plantid.base_url",
	"plantnet_api_key":   "providers.plantnet.api_key",
	"plantnet_base_url":  "providers.plantnet.base_url",
	"plantnet_project":   "providers.plantnet.project",
	"gemini_api_key":     "providers.gemini.api_key",
	"gemini_model":       "providers.gemini.model",
	"care_default_light": "care.light",
	"care_default_water": "care.water",
	"care_default_soil":  "care.soil",
	"gci_catalog_path":   "catalog.path",

	"database_url":      "database.url",
	"pghost":            "database.host",
	"pgport":            "database.port",
	"postgres_user":     "database.user",
	"postgres_password": "database.password",
	"postgres_db":       "database.name",

	"history_workers": "history.workers",
	"history_buffer":  "history.buffer",
	"history_timeout": "history.timeout",

	"supabase_jwt_secret": "auth.jwt_secret",

	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",

	"telegram_bot_token": "telegram.bot_token",
	"webhook_url":        "telegram.webhook_url",
}

// envTransformFunc maps known env names to config paths and drops the rest.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
