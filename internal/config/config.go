package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all service configuration. Values come from defaults, an
// optional YAML file at CONFIG_PATH, then environment variables.
type Config struct {
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	MongoURI      string        `mapstructure:"mongo_uri"`
	MongoDB       string        `mapstructure:"mongo_db"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	SnapshotTTL   time.Duration `mapstructure:"snapshot_ttl"`

	MinioEndpoint  string `mapstructure:"minio_endpoint"`
	MinioAccessKey string `mapstructure:"minio_access_key"`
	MinioSecretKey string `mapstructure:"minio_secret_key"`
	MinioBucket    string `mapstructure:"minio_bucket"`
	MinioUseSSL    bool   `mapstructure:"minio_use_ssl"`

	LLMProvider    string  `mapstructure:"llm_provider"`
	LLMModel       string  `mapstructure:"llm_model"`
	LLMAPIKey      string  `mapstructure:"llm_api_key"`
	LLMBaseURL     string  `mapstructure:"llm_base_url"`
	LLMTemperature float64 `mapstructure:"llm_temperature"`

	SearchServiceURL  string        `mapstructure:"search_service_url"`
	SearchMaxSegments int           `mapstructure:"search_max_segments"`
	SearchTimeout     time.Duration `mapstructure:"search_timeout"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

var defaults = map[string]interface{}{
	"port":                "8080",
	"allowed_origins":     "http://localhost:5173,http://localhost:3000",
	"postgres_dsn":        "",
	"mongo_uri":           "",
	"mongo_db":            "report_generator",
	"redis_addr":          "redis:6379",
	"redis_password":      "",
	"snapshot_ttl":        "24h",
	"minio_endpoint":      "minio:9000",
	"minio_access_key":    "",
	"minio_secret_key":    "",
	"minio_bucket":        "report-exports",
	"minio_use_ssl":       false,
	"llm_provider":        "openai",
	"llm_model":           "gpt-4o-mini",
	"llm_api_key":         "",
	"llm_base_url":        "",
	"llm_temperature":     0.7,
	"search_service_url":  "http://search-service:9300",
	"search_max_segments": 5,
	"search_timeout":      "30s",
	"log_level":           "info",
	"log_format":          "json",
}

// Load reads configuration. CONFIG_PATH, when set, must point at a readable file.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.AllowedOrigins = trimList(c.AllowedOrigins)
	return &c, nil
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.PostgresDSN == "" {
		errs = append(errs, errors.New("POSTGRES_DSN is required"))
	}
	if c.MongoURI == "" {
		errs = append(errs, errors.New("MONGO_URI is required"))
	}
	if c.LLMProvider != "mock" && c.LLMModel == "" {
		errs = append(errs, errors.New("LLM_MODEL is required"))
	}
	if c.SearchServiceURL == "" {
		errs = append(errs, errors.New("SEARCH_SERVICE_URL is required"))
	}
	return errors.Join(errs...)
}

func trimList(in []string) []string {
	var out []string
	for _, part := range in {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
