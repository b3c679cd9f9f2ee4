package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "uploads", cfg.Supabase.UploadsBucket)
	assert.Equal(t, "outputs", cfg.Supabase.OutputsBucket)
	assert.Equal(t, 3600, cfg.Supabase.SignedURLTTLSecs)
	assert.Equal(t, "local", cfg.OCR.Provider)
	assert.Equal(t, "pdftotext", cfg.OCR.PdfToTextPath)
	assert.InDelta(t, 0.86, cfg.Pipeline.MatchThreshold, 0.001)
	assert.InDelta(t, 0.50, cfg.Pipeline.HitRateThreshold, 0.001)
	assert.Equal(t, 64, cfg.Pipeline.MinNativeTextChars)
	assert.Equal(t, 5000, cfg.Pipeline.MaxTableRows)
	assert.Equal(t, int64(25_000_000), cfg.Pipeline.MaxDocumentBytes)
	assert.Equal(t, 3, cfg.Webhook.MaxAttempts)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("KOA_STORE_DRIVER", "sqlite")
	t.Setenv("KOA_STORE_DATABASE_URL", "pipeline.db")
	t.Setenv("KOA_SERVER_API_TOKEN", "secret-token")
	t.Setenv("KOA_PIPELINE_MATCH_THRESHOLD", "0.9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "pipeline.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "secret-token", cfg.Server.APIToken)
	assert.InDelta(t, 0.9, cfg.Pipeline.MatchThreshold, 0.001)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "not-a-level"})
	require.Error(t, err)
}

func validPipelineConfig() *Config {
	return &Config{
		Store:    StoreConfig{Driver: "postgres", DatabaseURL: "postgres://localhost/test"},
		Supabase: SupabaseConfig{URL: "https://proj.supabase.co", ServiceKey: "service-key"},
		LLM:      LLMConfig{Key: "sk-ant-key"},
		Pipeline: PipelineConfig{MatchThreshold: 0.86, HitRateThreshold: 0.50},
		Server:   ServerConfig{Port: 8080, APIToken: "token"},
	}
}

func TestValidatePipeline_AllPresent(t *testing.T) {
	assert.NoError(t, validPipelineConfig().Validate("pipeline"))
}

func TestValidatePipeline_MissingFields(t *testing.T) {
	cfg := validPipelineConfig()
	cfg.Store.DatabaseURL = ""
	cfg.Supabase.ServiceKey = ""
	cfg.LLM.Key = ""

	err := cfg.Validate("pipeline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "supabase.service_key is required")
	assert.Contains(t, err.Error(), "llm.key is required")
}

func TestValidatePipeline_SQLiteSkipsDatabaseURL(t *testing.T) {
	cfg := validPipelineConfig()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""

	assert.NoError(t, cfg.Validate("pipeline"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validPipelineConfig()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateServe_MissingToken(t *testing.T) {
	cfg := validPipelineConfig()
	cfg.Server.APIToken = ""

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.api_token is required")
}

func TestValidateMigrate(t *testing.T) {
	cfg := validPipelineConfig()
	assert.NoError(t, cfg.Validate("migrate"))

	cfg.Store.DatabaseURL = ""
	assert.Error(t, cfg.Validate("migrate"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validPipelineConfig().Validate("batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidatePipeline_ThresholdBounds(t *testing.T) {
	cfg := validPipelineConfig()
	cfg.Pipeline.MatchThreshold = 1.5

	err := cfg.Validate("pipeline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.match_threshold")
}
