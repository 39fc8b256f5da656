package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the FinScan server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Jobs     JobsConfig
	Storage  StorageConfig
	Auth     AuthConfig
	AI       AIConfig
	Pipeline PipelineConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel slog.Level

	// CORSOrigins are the browser origins allowed to call the API. "*" allows any.
	CORSOrigins []string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

// JobsConfig sizes the worker pool and bounds each job's execution.
type JobsConfig struct {
	Workers          int
	QueueSize        int
	Timeout          time.Duration
	LogFlushInterval time.Duration
	StatusTTL        time.Duration
}

type StorageConfig struct {
	UploadDir      string
	SamplePDFPath  string
	MaxUploadBytes int64
	DefaultQuery   string
}

type AuthConfig struct {
	// APIKeyHashes are <key prefix>:<bcrypt hash> entries. Empty disables authentication.
	APIKeyHashes   []string
	RequestsPerMin int
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	RequestsPerMin   int
	Temperature      float64
	MaxTokens        int
	Anthropic        AnthropicConfig
	Gemini           GeminiConfig
	OpenAI           OpenAIConfig
	Groq             GroqConfig
	VLLM             VLLMConfig
	Ollama           OllamaConfig
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type GroqConfig struct {
	APIKey string
	Model  string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type PipelineConfig struct {
	StagesFile       string
	MaxDocumentBytes int
}

const defaultQuery = "Analyze this financial document for investment insights"

var validProviders = map[string]bool{
	"anthropic": true,
	"gemini":    true,
	"openai":    true,
	"groq":      true,
	"vllm":      true,
	"ollama":    true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("FINSCAN_PORT", 8080),
			Env:      envString("FINSCAN_ENV", "development"),
			LogLevel: envLevel("FINSCAN_LOG_LEVEL", slog.LevelInfo),

			CORSOrigins: envList("CORS_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Jobs: JobsConfig{
			Workers:          envInt("JOB_WORKERS", 4),
			QueueSize:        envInt("JOB_QUEUE_SIZE", 256),
			Timeout:          envDurationSecs("JOB_TIMEOUT_SECS", 15*time.Minute),
			LogFlushInterval: envDuration("JOB_LOG_FLUSH_INTERVAL", 5*time.Second),
			StatusTTL:        envDuration("JOB_STATUS_TTL", 30*time.Minute),
		},
		Storage: StorageConfig{
			UploadDir:      envString("UPLOAD_DIR", "data"),
			SamplePDFPath:  envString("SAMPLE_PDF_PATH", "data/TSLA-Q2-2025-Update.pdf"),
			MaxUploadBytes: int64(envInt("MAX_UPLOAD_MB", 20)) << 20,
			DefaultQuery:   envString("DEFAULT_QUERY", defaultQuery),
		},
		Auth: AuthConfig{
			APIKeyHashes:   envList("FINSCAN_API_KEY_HASHES"),
			RequestsPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 120*time.Second),
			RequestsPerMin:   envInt("AI_REQUESTS_PER_MIN", 10),
			Temperature:      envFloat("AI_TEMPERATURE", 0.3),
			MaxTokens:        envInt("AI_MAX_TOKENS", 2048),
			Anthropic: AnthropicConfig{
				APIKey: os.Getenv("ANTHROPIC_API_KEY"),
				Model:  envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
			Gemini: GeminiConfig{
				APIKey: os.Getenv("GEMINI_API_KEY"),
				Model:  envString("GEMINI_MODEL", "gemini-2.5-flash"),
			},
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Groq: GroqConfig{
				APIKey: os.Getenv("GROQ_API_KEY"),
				Model:  envString("GROQ_MODEL", "llama-3.3-70b-versatile"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000"),
				Model:   envString("VLLM_MODEL", ""),
			},
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
		},
		Pipeline: PipelineConfig{
			StagesFile:       os.Getenv("PIPELINE_STAGES_FILE"),
			MaxDocumentBytes: envInt("PIPELINE_MAX_DOCUMENT_BYTES", 60000),
		},
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Jobs.Workers < 1 {
		return fmt.Errorf("JOB_WORKERS must be at least 1, got %d", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize < 1 {
		return fmt.Errorf("JOB_QUEUE_SIZE must be at least 1, got %d", c.Jobs.QueueSize)
	}
	if c.Jobs.Timeout <= 0 {
		return fmt.Errorf("JOB_TIMEOUT_SECS must be positive")
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of anthropic, gemini, openai, groq, vllm, ollama; got %q", c.AI.Provider)
	}

	switch c.AI.Provider {
	case "anthropic":
		if c.AI.Anthropic.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
		}
	case "gemini":
		if c.AI.Gemini.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER is gemini")
		}
	case "openai":
		if c.AI.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
		}
	case "groq":
		if c.AI.Groq.APIKey == "" {
			return fmt.Errorf("GROQ_API_KEY is required when AI_PROVIDER is groq")
		}
	case "vllm":
		if c.AI.VLLM.Model == "" {
			return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
		}
	}

	for _, u := range []struct{ key, val string }{
		{"OPENAI_BASE_URL", c.AI.OpenAI.BaseURL},
		{"VLLM_BASE_URL", c.AI.VLLM.BaseURL},
		{"OLLAMA_BASE_URL", c.AI.Ollama.BaseURL},
	} {
		if !strings.HasPrefix(u.val, "http://") && !strings.HasPrefix(u.val, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", u.key, u.val)
		}
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
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

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
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

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

func envLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return lvl
}

// envList splits a comma-separated variable, dropping blank entries.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
