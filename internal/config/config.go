package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/alttext/pkg/models"
)

// DefaultPromptTemplate is used when PROMPT_DEFAULT_TEMPLATE is unset.
const DefaultPromptTemplate = "Describe this image for accessibility purposes. Focus on the main subject, " +
	"important details, and any text visible in the image. Keep the description concise but informative."

// Config holds all configuration for the alttext service.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Media      MediaConfig
	API        APIConfig
	Processing ProcessingConfig
	Prompts    PromptsConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	BootstrapKey    string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Driver reports which store implementation the URL selects.
func (d DatabaseConfig) Driver() string {
	if strings.HasPrefix(d.URL, "sqlite://") {
		return "sqlite"
	}
	return "postgres"
}

// SQLitePath strips the sqlite:// scheme.
func (d DatabaseConfig) SQLitePath() string {
	return strings.TrimPrefix(d.URL, "sqlite://")
}

type RedisConfig struct {
	URL string
}

type MediaConfig struct {
	BaseURL     string
	Username    string
	AppPassword string
	UploadsURL  string
	UploadsDir  string
	Timeout     time.Duration
}

type APIConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	Provider    models.ProviderKind
	MaxTokens   int
	Temperature float64
}

type ProcessingConfig struct {
	BatchSize      int
	RateLimitDelay time.Duration
	MaxRetries     int
	Timeout        time.Duration
	RetryPolicy    models.RetryPolicy
}

type PromptsConfig struct {
	DefaultTemplate string
}

// Load reads configuration from environment variables (and a .env file when present)
// and returns a validated Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("ALTTEXT_PORT", 8080),
			Env:             envString("ALTTEXT_ENV", "development"),
			BootstrapKey:    os.Getenv("ALTTEXT_BOOTSTRAP_KEY"),
			RateLimitPerMin: envInt("ALTTEXT_RATE_LIMIT_PER_MIN", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Media: MediaConfig{
			BaseURL:     strings.TrimRight(os.Getenv("MEDIA_BASE_URL"), "/"),
			Username:    os.Getenv("MEDIA_USERNAME"),
			AppPassword: os.Getenv("MEDIA_APP_PASSWORD"),
			UploadsURL:  os.Getenv("MEDIA_UPLOADS_URL"),
			UploadsDir:  os.Getenv("MEDIA_UPLOADS_DIR"),
			Timeout:     envDuration("MEDIA_TIMEOUT", 30*time.Second),
		},
		API: APIConfig{
			Endpoint:    envString("API_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
			APIKey:      os.Getenv("API_KEY"),
			Model:       envString("API_MODEL", "gpt-4-vision-preview"),
			Provider:    models.ProviderKind(os.Getenv("API_PROVIDER")),
			MaxTokens:   envInt("API_MAX_TOKENS", 300),
			Temperature: envFloat("API_TEMPERATURE", 0.7),
		},
		Processing: ProcessingConfig{
			BatchSize:      envInt("PROCESSING_BATCH_SIZE", 0),
			RateLimitDelay: envDurationSecs("PROCESSING_RATE_LIMIT_DELAY", time.Second),
			MaxRetries:     envInt("PROCESSING_MAX_RETRIES", 3),
			Timeout:        envDurationSecs("PROCESSING_TIMEOUT", 30*time.Second),
			RetryPolicy:    models.RetryPolicy(envString("PROCESSING_RETRY_POLICY", string(models.RetryUniform))),
		},
		Prompts: PromptsConfig{
			DefaultTemplate: envString("PROMPT_DEFAULT_TEMPLATE", DefaultPromptTemplate),
		},
	}

	if cfg.API.Provider == "" {
		cfg.API.Provider = ResolveProvider(cfg.API.Model)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ResolveProvider picks the wire shape from a model name. It runs once at load time;
// an explicit API_PROVIDER always wins.
func ResolveProvider(model string) models.ProviderKind {
	if strings.Contains(strings.ToLower(model), "claude") {
		return models.ProviderContentBlock
	}
	return models.ProviderChat
}

// Snapshot converts the live configuration into the immutable per-batch settings.
func (c *Config) Snapshot() models.Settings {
	return models.Settings{
		API: models.APISettings{
			Endpoint:    c.API.Endpoint,
			Model:       c.API.Model,
			Provider:    c.API.Provider,
			MaxTokens:   c.API.MaxTokens,
			Temperature: c.API.Temperature,
		},
		Processing: models.ProcessingSettings{
			BatchSize:      c.Processing.BatchSize,
			RateLimitDelay: c.Processing.RateLimitDelay,
			MaxRetries:     c.Processing.MaxRetries,
			Timeout:        c.Processing.Timeout,
			RetryPolicy:    c.Processing.RetryPolicy,
		},
		Prompts: models.PromptSettings{
			DefaultTemplate: c.Prompts.DefaultTemplate,
		},
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Database.Driver() == "postgres" &&
		!strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must start with postgres://, postgresql:// or sqlite://, got %q", c.Database.URL)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if err := requireHTTPURL("MEDIA_BASE_URL", c.Media.BaseURL); err != nil {
		return err
	}
	if (c.Media.UploadsURL == "") != (c.Media.UploadsDir == "") {
		return fmt.Errorf("MEDIA_UPLOADS_URL and MEDIA_UPLOADS_DIR must be set together")
	}

	if err := requireHTTPURL("API_ENDPOINT", c.API.Endpoint); err != nil {
		return err
	}
	if c.API.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if c.API.Model == "" {
		return fmt.Errorf("API_MODEL is required")
	}
	if !c.API.Provider.Valid() {
		return fmt.Errorf("API_PROVIDER must be one of chat, content_block; got %q", c.API.Provider)
	}
	if c.API.MaxTokens <= 0 {
		return fmt.Errorf("API_MAX_TOKENS must be positive, got %d", c.API.MaxTokens)
	}
	if c.API.Temperature < 0 || c.API.Temperature > 2 {
		return fmt.Errorf("API_TEMPERATURE must be between 0 and 2, got %v", c.API.Temperature)
	}

	if c.Processing.BatchSize < 0 {
		return fmt.Errorf("PROCESSING_BATCH_SIZE must not be negative, got %d", c.Processing.BatchSize)
	}
	if c.Processing.RateLimitDelay < 0 {
		return fmt.Errorf("PROCESSING_RATE_LIMIT_DELAY must not be negative")
	}
	if c.Processing.MaxRetries < 0 {
		return fmt.Errorf("PROCESSING_MAX_RETRIES must not be negative, got %d", c.Processing.MaxRetries)
	}
	if c.Processing.Timeout <= 0 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be positive")
	}
	if !c.Processing.RetryPolicy.Valid() {
		return fmt.Errorf("PROCESSING_RETRY_POLICY must be one of uniform, fail_fast_permanent; got %q", c.Processing.RetryPolicy)
	}

	if strings.TrimSpace(c.Prompts.DefaultTemplate) == "" {
		return fmt.Errorf("PROMPT_DEFAULT_TEMPLATE must not be blank")
	}

	return nil
}

func requireHTTPURL(key, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http:// or https:// URL, got %q", key, v)
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

// envDurationSecs accepts either a Go duration ("1500ms") or plain seconds ("1.5").
func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs * float64(time.Second))
}
