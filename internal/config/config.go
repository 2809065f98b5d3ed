package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from flags or environment variables.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Render    RenderConfig    `mapstructure:"render"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Upload    UploadConfig    `mapstructure:"upload"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port int `mapstructure:"port"`
	// RateLimitPerMinute caps /render calls per client IP; 0 disables the limiter.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
	// AdminSecret guards the diagnostics listing; empty disables the endpoint.
	AdminSecret string `mapstructure:"admin_secret"`
}

// PoolConfig sizes the headless browser pool.
type PoolConfig struct {
	Size       int    `mapstructure:"size"`
	BrowserBin string `mapstructure:"browser_bin"`
	NoSandbox  bool   `mapstructure:"no_sandbox"`
}

// RenderConfig holds the page session timings.
type RenderConfig struct {
	PreviewBaseURL    string        `mapstructure:"preview_base_url"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	RendezvousTimeout time.Duration `mapstructure:"rendezvous_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
}

// CacheConfig bounds the document cache.
type CacheConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	// Shared enables the Redis tier so API and worker processes see each other's renders.
	Shared bool `mapstructure:"shared"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

// MinIOConfig contains connection options for the diagnostics bucket.
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
}

// Enabled reports whether diagnostics uploads are configured.
func (m MinIOConfig) Enabled() bool {
	return strings.TrimSpace(m.Endpoint) != ""
}

// PrewarmEnabled reports whether background renders can serve later requests: the worker's
// result is only visible to the API through the shared Redis cache tier.
func (c *Config) PrewarmEnabled() bool {
	return c.Redis.Enabled() && c.Cache.Shared
}

// AssistantConfig points at an Azure OpenAI deployment.
type AssistantConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	APIKey     string `mapstructure:"api_key"`
	Deployment string `mapstructure:"deployment"`
	APIVersion string `mapstructure:"api_version"`
}

// Enabled reports whether chat and extraction endpoints can reach a model.
func (a AssistantConfig) Enabled() bool {
	return strings.TrimSpace(a.Endpoint) != "" && strings.TrimSpace(a.APIKey) != ""
}

// WorkerConfig configures the prewarm worker.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// UploadConfig controls résumé file uploads.
type UploadConfig struct {
	// ClamdAddr is a clamd address such as tcp://127.0.0.1:3310; empty skips scanning.
	ClamdAddr string `mapstructure:"clamd_addr"`
}

// Load reads configuration from environment variables, then applies any flags that were set explicitly.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}
	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Render.PreviewBaseURL) == "" {
		cfg.Render.PreviewBaseURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.API.Port)
	}
	cfg.Render.PreviewBaseURL = strings.TrimRight(strings.TrimSpace(cfg.Render.PreviewBaseURL), "/")

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad(flags *pflag.FlagSet) *Config {
	cfg, err := Load(flags)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Flags declares the command-line overrides shared by the binaries.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.Int("port", 0, "HTTP port (overrides API_PORT)")
	fs.Int("pool-size", 0, "number of headless browser engines (overrides POOL_SIZE)")
	fs.String("browser-bin", "", "path to a Chromium binary (overrides ROD_BROWSER_BIN)")
	fs.String("preview-base-url", "", "base URL the browser uses to reach /preview")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.rate_limit_per_minute", 0)
	v.SetDefault("api.admin_secret", "")
	v.SetDefault("pool.size", 2)
	v.SetDefault("pool.browser_bin", "")
	v.SetDefault("pool.no_sandbox", true)
	v.SetDefault("render.preview_base_url", "")
	v.SetDefault("render.navigation_timeout", 30*time.Second)
	v.SetDefault("render.rendezvous_timeout", 10*time.Second)
	v.SetDefault("render.settle_delay", 200*time.Millisecond)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.max_entries", 50)
	v.SetDefault("cache.shared", false)
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "render-diagnostics")
	v.SetDefault("assistant.deployment", "o4-mini")
	v.SetDefault("assistant.api_version", "2025-01-01-preview")
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("upload.clamd_addr", "")
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                  "API_PORT",
		"api.rate_limit_per_minute": "API_RATE_LIMIT_PER_MINUTE",
		"api.admin_secret":          "API_ADMIN_SECRET",
		"pool.size":                 "POOL_SIZE",
		"pool.browser_bin":          "ROD_BROWSER_BIN",
		"pool.no_sandbox":           "POOL_NO_SANDBOX",
		"render.preview_base_url":   "RENDER_PREVIEW_BASE_URL",
		"render.navigation_timeout": "RENDER_NAVIGATION_TIMEOUT",
		"render.rendezvous_timeout": "RENDER_RENDEZVOUS_TIMEOUT",
		"render.settle_delay":       "RENDER_SETTLE_DELAY",
		"cache.ttl":                 "CACHE_TTL",
		"cache.max_entries":         "CACHE_MAX_ENTRIES",
		"cache.shared":              "CACHE_SHARED",
		"redis.host":                "REDIS_HOST",
		"redis.port":                "REDIS_PORT",
		"minio.endpoint":            "MINIO_ENDPOINT",
		"minio.access_key_id":       "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":   "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":             "MINIO_USE_SSL",
		"minio.bucket":              "MINIO_BUCKET",
		"minio.region":              "MINIO_REGION",
		"assistant.endpoint":        "AZURE_OPENAI_ENDPOINT",
		"assistant.api_key":         "AZURE_OPENAI_API_KEY",
		"assistant.deployment":      "AZURE_OPENAI_DEPLOYMENT_NAME",
		"assistant.api_version":     "AZURE_OPENAI_API_VERSION",
		"worker.concurrency":        "WORKER_CONCURRENCY",
		"upload.clamd_addr":         "UPLOAD_CLAMD_ADDR",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

// bindFlags only binds flags the user actually set so zero-valued defaults never mask env values.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	mappings := map[string]string{
		"port":             "api.port",
		"pool-size":        "pool.size",
		"browser-bin":      "pool.browser_bin",
		"preview-base-url": "render.preview_base_url",
	}
	for name, key := range mappings {
		flag := flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s to %s: %w", name, key, err)
		}
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.API.RateLimitPerMinute < 0 {
		return errors.New("api rate limit must not be negative")
	}
	if cfg.Pool.Size <= 0 {
		return errors.New("pool size must be positive")
	}
	if _, err := url.ParseRequestURI(cfg.Render.PreviewBaseURL); err != nil {
		return fmt.Errorf("render preview base url: %w", err)
	}
	if cfg.Render.NavigationTimeout <= 0 {
		return errors.New("render navigation timeout must be positive")
	}
	if cfg.Render.RendezvousTimeout <= 0 {
		return errors.New("render rendezvous timeout must be positive")
	}
	if cfg.Render.SettleDelay < 0 {
		return errors.New("render settle delay must not be negative")
	}
	if cfg.Cache.TTL <= 0 {
		return errors.New("cache ttl must be positive")
	}
	if cfg.Cache.MaxEntries <= 0 {
		return errors.New("cache max entries must be positive")
	}
	if cfg.Cache.Shared && !cfg.Redis.Enabled() {
		return errors.New("shared cache requires redis host")
	}
	if cfg.Redis.Enabled() && cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Enabled() {
		if cfg.MinIO.AccessKeyID == "" {
			return errors.New("minio access key id is required")
		}
		if cfg.MinIO.SecretAccessKey == "" {
			return errors.New("minio secret access key is required")
		}
		if cfg.MinIO.Bucket == "" {
			return errors.New("minio bucket is required")
		}
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	return nil
}
