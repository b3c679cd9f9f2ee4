package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/koa-group/doc-pipeline/internal/ocr"
	"github.com/koa-group/doc-pipeline/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Supabase SupabaseConfig `yaml:"supabase" mapstructure:"supabase"`
	LLM      LLMConfig      `yaml:"llm" mapstructure:"llm"`
	OCR      ocr.Config     `yaml:"ocr" mapstructure:"ocr"`
	Template TemplateConfig `yaml:"template" mapstructure:"template"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Webhook  WebhookConfig  `yaml:"webhook" mapstructure:"webhook"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// SupabaseConfig holds the Supabase project credentials and bucket names.
type SupabaseConfig struct {
	URL              string `yaml:"url" mapstructure:"url"`
	ServiceKey       string `yaml:"service_key" mapstructure:"service_key"`
	UploadsBucket    string `yaml:"uploads_bucket" mapstructure:"uploads_bucket"`
	OutputsBucket    string `yaml:"outputs_bucket" mapstructure:"outputs_bucket"`
	SignedURLTTLSecs int    `yaml:"signed_url_ttl_secs" mapstructure:"signed_url_ttl_secs"`
}

// LLMConfig holds the structured-extraction model settings.
type LLMConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// TemplateConfig locates the output workbook template and its label spec.
type TemplateConfig struct {
	Path          string `yaml:"path" mapstructure:"path"`
	LabelSpecPath string `yaml:"label_spec_path" mapstructure:"label_spec_path"`
}

// PipelineConfig configures extraction behavior.
type PipelineConfig struct {
	MatchThreshold     float64 `yaml:"match_threshold" mapstructure:"match_threshold"`
	HitRateThreshold   float64 `yaml:"hit_rate_threshold" mapstructure:"hit_rate_threshold"`
	MinNativeTextChars int     `yaml:"min_native_text_chars" mapstructure:"min_native_text_chars"`
	MaxTableRows       int     `yaml:"max_table_rows" mapstructure:"max_table_rows"`
	MaxDocumentBytes   int64   `yaml:"max_document_bytes" mapstructure:"max_document_bytes"`
	SampleRows         int     `yaml:"sample_rows" mapstructure:"sample_rows"`
}

// WebhookConfig configures outbound notification delivery.
type WebhookConfig struct {
	MaxAttempts   int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBaseMS int     `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec    float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port     int    `yaml:"port" mapstructure:"port"`
	APIToken string `yaml:"api_token" mapstructure:"api_token"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("KOA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets default empty so AutomaticEnv can bind them.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("supabase.url", "")
	v.SetDefault("supabase.service_key", "")
	v.SetDefault("llm.key", "")
	v.SetDefault("server.api_token", "")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("supabase.uploads_bucket", "uploads")
	v.SetDefault("supabase.outputs_bucket", "outputs")
	v.SetDefault("supabase.signed_url_ttl_secs", 3600)
	v.SetDefault("llm.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.timeout_secs", 120)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("template.path", "templates/planilha_koa_pe.xlsx")
	v.SetDefault("template.label_spec_path", "templates/label_spec.json")
	v.SetDefault("pipeline.match_threshold", 0.86)
	v.SetDefault("pipeline.hit_rate_threshold", 0.50)
	v.SetDefault("pipeline.min_native_text_chars", 64)
	v.SetDefault("pipeline.max_table_rows", 5000)
	v.SetDefault("pipeline.max_document_bytes", 25_000_000)
	v.SetDefault("pipeline.sample_rows", 5)
	v.SetDefault("webhook.max_attempts", 3)
	v.SetDefault("webhook.backoff_base_ms", 1000)
	v.SetDefault("webhook.timeout_secs", 10)
	v.SetDefault("webhook.rate_per_sec", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields a given mode requires. Modes: "pipeline"
// (extraction and storage credentials), "serve" (pipeline plus the HTTP
// surface), "migrate" (database only).
func (c *Config) Validate(mode string) error {
	var problems []string

	requireDB := func() {
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	}
	requirePipeline := func() {
		requireDB()
		if c.Supabase.URL == "" {
			problems = append(problems, "supabase.url is required")
		}
		if c.Supabase.ServiceKey == "" {
			problems = append(problems, "supabase.service_key is required")
		}
		if c.LLM.Key == "" {
			problems = append(problems, "llm.key is required")
		}
		if c.Pipeline.MatchThreshold <= 0 || c.Pipeline.MatchThreshold > 1 {
			problems = append(problems, "pipeline.match_threshold must be in (0, 1]")
		}
		if c.Pipeline.HitRateThreshold <= 0 || c.Pipeline.HitRateThreshold > 1 {
			problems = append(problems, "pipeline.hit_rate_threshold must be in (0, 1]")
		}
	}

	switch mode {
	case "pipeline":
		requirePipeline()
	case "serve":
		requirePipeline()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Server.APIToken == "" {
			problems = append(problems, "server.api_token is required")
		}
	case "migrate":
		requireDB()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
