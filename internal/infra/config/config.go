package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for envconfig-driven overrides (SUPPLYINTEL_GATEWAY_ADDR, ...).
const EnvPrefix = "SUPPLYINTEL"

// ConfigKeyEnv holds the passphrase used to decrypt "enc:" secrets.
const ConfigKeyEnv = "SUPPLYINTEL_CONFIG_KEY"

// Config is the root configuration.
type Config struct {
	Completion CompletionConfig `yaml:"completion" envconfig:"COMPLETION"`
	Search     SearchConfig     `yaml:"search" envconfig:"SEARCH"`
	Resilience ResilienceConfig `yaml:"resilience" envconfig:"RESILIENCE"`
	Agents     AgentsConfig     `yaml:"agents" envconfig:"AGENTS"`
	Gateway    GatewayConfig    `yaml:"gateway" envconfig:"GATEWAY"`
	History    HistoryConfig    `yaml:"history" envconfig:"HISTORY"`
	Watch      WatchConfig      `yaml:"watch" envconfig:"WATCH"`
	Logger     LoggerConfig     `yaml:"logger" envconfig:"LOGGER"`
	Tracer     TracerConfig     `yaml:"tracer" envconfig:"TRACER"`
}

// CompletionConfig selects and configures the text completion provider.
type CompletionConfig struct {
	Backend  string        `yaml:"backend"` // "gemini" or "bedrock"
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key" envconfig:"API_KEY"`
	Project  string        `yaml:"project,omitempty"`  // Vertex AI project; selects the Vertex backend when set
	Location string        `yaml:"location,omitempty"` // Vertex AI location
	Region   string        `yaml:"region,omitempty"`   // AWS region for bedrock
	Timeout  time.Duration `yaml:"timeout"`
}

// SearchConfig selects and configures the web/news search provider.
type SearchConfig struct {
	Backend     string        `yaml:"backend"` // "tavily" or "searxng"
	APIKey      string        `yaml:"api_key" envconfig:"API_KEY"`
	BaseURL     string        `yaml:"base_url" envconfig:"BASE_URL"`
	MaxResults  int           `yaml:"max_results" envconfig:"MAX_RESULTS"`
	SearchDepth string        `yaml:"search_depth" envconfig:"SEARCH_DEPTH"`
	Topic       string        `yaml:"topic"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ResilienceConfig configures the shell wrapped around every provider call.
type ResilienceConfig struct {
	Cache      CacheConfig      `yaml:"cache" envconfig:"CACHE"`
	Retry      RetryConfig      `yaml:"retry" envconfig:"RETRY"`
	Breaker    BreakerConfig    `yaml:"breaker" envconfig:"BREAKER"`
	Pacing     PacingConfig     `yaml:"pacing" envconfig:"PACING"`
	Redis      RedisConfig      `yaml:"redis" envconfig:"REDIS"`
	Structured StructuredConfig `yaml:"structured" envconfig:"STRUCTURED"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries" envconfig:"MAX_ENTRIES"`
}

// RetryConfig holds retry/backoff settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" envconfig:"BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold" envconfig:"FAILURE_THRESHOLD"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" envconfig:"RESET_TIMEOUT"`
}

// PacingConfig throttles outbound provider requests. Zero disables pacing.
type PacingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"RPS"`
	Burst             int     `yaml:"burst"`
}

// RedisConfig enables a shared second-level response cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// StructuredConfig controls schema-validated generation.
type StructuredConfig struct {
	MaxRetries int `yaml:"max_retries" envconfig:"MAX_RETRIES"`
}

// AgentsConfig holds coordinator and agent settings.
type AgentsConfig struct {
	HistoryTurns      int `yaml:"history_turns" envconfig:"HISTORY_TURNS"`
	DigestMaxChars    int `yaml:"digest_max_chars" envconfig:"DIGEST_MAX_CHARS"`
	SynthesisMaxChars int `yaml:"synthesis_max_chars" envconfig:"SYNTHESIS_MAX_CHARS"`
	MaxActions        int `yaml:"max_actions" envconfig:"MAX_ACTIONS"`
}

// GatewayConfig holds HTTP surface settings.
type GatewayConfig struct {
	Addr           string          `yaml:"addr"`
	RequestTimeout time.Duration   `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	CORSOrigins    []string        `yaml:"cors_origins" envconfig:"CORS_ORIGINS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	APITokens      []string        `yaml:"api_tokens" envconfig:"API_TOKENS"` // empty disables auth
}

// RateLimitConfig holds per-IP sliding-window settings.
type RateLimitConfig struct {
	Requests       int           `yaml:"requests"`
	Window         time.Duration `yaml:"window"`
	TrustedProxies []string      `yaml:"trusted_proxies" envconfig:"TRUSTED_PROXIES"`
}

// HistoryConfig holds run-history persistence settings.
type HistoryConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// WatchConfig defines scheduled watchlist tasks.
type WatchConfig struct {
	Enabled bool              `yaml:"enabled"`
	Tasks   []WatchTaskConfig `yaml:"tasks" ignored:"true"`
}

// WatchTaskConfig is one scheduled task.
type WatchTaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression or Go duration
	Action   string `yaml:"action"`   // "watch_query", "history_prune", "cache_prune"
	Query    string `yaml:"query,omitempty"`
	Intent   string `yaml:"intent,omitempty"`
	OneShot  bool   `yaml:"one_shot,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "noop" or "stdout"
	// SampleRatio samples root spans when in (0,1); other values keep every trace.
	SampleRatio float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
	Pretty      bool    `yaml:"pretty"`
}

// defaultDataDir returns the persistent data directory under $HOME/.supplyintel.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".supplyintel")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Completion: CompletionConfig{
			Backend:  "gemini",
			Model:    "gemini-2.0-flash",
			Location: "us-central1",
			Timeout:  30 * time.Second,
		},
		Search: SearchConfig{
			Backend:     "tavily",
			BaseURL:     "https://api.tavily.com",
			MaxResults:  10,
			SearchDepth: "advanced",
			Topic:       "news",
			Timeout:     15 * time.Second,
		},
		Resilience: ResilienceConfig{
			Cache:      CacheConfig{TTL: 5 * time.Minute, MaxEntries: 100},
			Retry:      RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
			Breaker:    BreakerConfig{FailureThreshold: 5, ResetTimeout: 60 * time.Second},
			Redis:      RedisConfig{Addr: "localhost:6379", Prefix: "supplyintel:"},
			Structured: StructuredConfig{MaxRetries: 2},
		},
		Agents: AgentsConfig{
			HistoryTurns:      5,
			DigestMaxChars:    500,
			SynthesisMaxChars: 1500,
			MaxActions:        5,
		},
		Gateway: GatewayConfig{
			Addr:           ":8080",
			RequestTimeout: 30 * time.Second,
			CORSOrigins:    []string{"*"},
			RateLimit:      RateLimitConfig{Requests: 100, Window: 15 * time.Minute},
		},
		History: HistoryConfig{
			Enabled:   true,
			Path:      filepath.Join(defaultDataDir(), "history.db"),
			Retention: 30 * 24 * time.Hour,
		},
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer: TracerConfig{Enabled: false, Exporter: "noop"},
	}
}

// Load reads a YAML config file, applies .env and env var overrides, and decrypts secrets.
// A missing file is not an error; defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if passphrase := os.Getenv(ConfigKeyEnv); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps the conventional provider variables and then the
// SUPPLYINTEL_* variables onto cfg. Prefixed variables win.
func ApplyEnvOverrides(cfg *Config) error {
	if v := firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"); v != "" {
		cfg.Completion.APIKey = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		cfg.Completion.Project = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_LOCATION"); v != "" {
		cfg.Completion.Location = v
	}
	if v := firstEnv("AWS_REGION", "AWS_DEFAULT_REGION"); v != "" {
		cfg.Completion.Region = v
	}
	if v := os.Getenv("TAVILY_API_KEY"); v != "" {
		cfg.Search.APIKey = v
	}
	if v := os.Getenv("SEARXNG_URL"); v != "" {
		cfg.Search.BaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Resilience.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// decryptSecrets finds "enc:..." values in credential fields and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := map[string]*string{
		"completion.api_key":        &cfg.Completion.APIKey,
		"search.api_key":            &cfg.Search.APIKey,
		"resilience.redis.password": &cfg.Resilience.Redis.Password,
	}
	for i := range cfg.Gateway.APITokens {
		secrets[fmt.Sprintf("gateway.api_tokens[%d]", i)] = &cfg.Gateway.APITokens[i]
	}
	for name, fp := range secrets {
		if !strings.HasPrefix(*fp, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*fp = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	// Argon2id, 64 MiB, 4 lanes, 32-byte key.
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions checks the config file is not group or world writable.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
