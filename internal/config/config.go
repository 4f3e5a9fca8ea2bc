package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppName names the per-user config and cache directories.
const AppName = "gh-stars"

// Default operational parameters.
const (
	DefaultTTL              = 24 * time.Hour
	DefaultLimit            = 30
	DefaultRequestTimeout   = 30 * time.Second
	DefaultEmbedBatchSize   = 32
	DefaultEmbedConcurrency = 4
	DefaultEmbedCacheSize   = 256
)

// Config is the top-level configuration.
type Config struct {
	GitHub    GitHubConfig    `yaml:"github"`
	Providers ProvidersConfig `yaml:"providers"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Store     StoreConfig     `yaml:"store"`
}

// GitHubConfig holds GitHub authentication settings. Auth is "token" (the
// default) or "app".
type GitHubConfig struct {
	Auth           string `yaml:"auth"`
	Token          string `yaml:"token"`
	AppID          string `yaml:"app_id"`
	InstallationID string `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	PrivateKey     string `yaml:"private_key"`
	BaseURL        string `yaml:"base_url"`
}

// ProviderConfig holds settings for the embedding provider.
type ProviderConfig struct {
	Type   string `yaml:"type"`
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
	URL    string `yaml:"url"`
}

// ProvidersConfig groups provider configs.
type ProvidersConfig struct {
	Embedding ProviderConfig `yaml:"embedding"`
}

// DefaultsConfig holds default operational parameters.
type DefaultsConfig struct {
	TTLRaw            string `yaml:"ttl"`
	Limit             int    `yaml:"limit"`
	RequestTimeoutRaw string `yaml:"request_timeout"`
	EmbedBatchSize    int    `yaml:"embed_batch_size"`
	EmbedConcurrency  int    `yaml:"embed_concurrency"`
	// EmbedCacheSize is the number of query embeddings kept in memory.
	// Zero disables the cache.
	EmbedCacheSize *int `yaml:"embed_cache_size"`
}

// StoreConfig holds storage settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// TTL returns the parsed cache time-to-live.
func (d DefaultsConfig) TTL() (time.Duration, error) {
	if d.TTLRaw == "" {
		return DefaultTTL, nil
	}
	return time.ParseDuration(d.TTLRaw)
}

// RequestTimeout returns the parsed request timeout duration.
func (d DefaultsConfig) RequestTimeout() (time.Duration, error) {
	if d.RequestTimeoutRaw == "" {
		return DefaultRequestTimeout, nil
	}
	return time.ParseDuration(d.RequestTimeoutRaw)
}

// CacheSize returns the configured query embedding cache size.
func (d DefaultsConfig) CacheSize() int {
	if d.EmbedCacheSize == nil {
		return DefaultEmbedCacheSize
	}
	return *d.EmbedCacheSize
}

// DefaultPath returns <UserConfigDir>/gh-stars/config.yaml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating config directory: %w", err)
	}
	return filepath.Join(dir, AppName, "config.yaml"), nil
}

// DefaultStorePath returns <UserCacheDir>/gh-stars/stars.db.
func DefaultStorePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".", AppName, "stars.db")
	}
	return filepath.Join(dir, AppName, "stars.db")
}

// envVarPattern matches ${VAR} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} placeholders with environment variable values.
// Full-line comments are left alone. Returns an error if any referenced
// variable is not set.
func expandEnvVars(data []byte) ([]byte, error) {
	var missing []string

	lines := bytes.SplitAfter(data, []byte("\n"))
	for i, line := range lines {
		if bytes.HasPrefix(bytes.TrimSpace(line), []byte("#")) {
			continue
		}
		lines[i] = envVarPattern.ReplaceAllFunc(line, func(match []byte) []byte {
			varName := envVarPattern.FindSubmatch(match)[1]
			val, ok := os.LookupEnv(string(varName))
			if !ok {
				missing = append(missing, string(varName))
				return match
			}
			return []byte(val)
		})
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return bytes.Join(lines, nil), nil
}

// expandTilde replaces a leading "~" with the user's home directory.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Load reads and parses a config file from the given path. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Parse(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses config from raw YAML bytes, expanding env vars and validating.
func Parse(data []byte) (*Config, error) {
	expanded, err := expandEnvVars(data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.GitHub.Auth == "" {
		cfg.GitHub.Auth = "token"
	}
	if cfg.Defaults.TTLRaw == "" {
		cfg.Defaults.TTLRaw = DefaultTTL.String()
	}
	if cfg.Defaults.Limit == 0 {
		cfg.Defaults.Limit = DefaultLimit
	}
	if cfg.Defaults.RequestTimeoutRaw == "" {
		cfg.Defaults.RequestTimeoutRaw = DefaultRequestTimeout.String()
	}
	if cfg.Defaults.EmbedBatchSize == 0 {
		cfg.Defaults.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if cfg.Defaults.EmbedConcurrency == 0 {
		cfg.Defaults.EmbedConcurrency = DefaultEmbedConcurrency
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath()
	} else {
		cfg.Store.Path = expandTilde(cfg.Store.Path)
	}
	cfg.GitHub.PrivateKeyPath = expandTilde(cfg.GitHub.PrivateKeyPath)
}

func validate(cfg *Config) error {
	if d, err := time.ParseDuration(cfg.Defaults.TTLRaw); err != nil {
		return fmt.Errorf("invalid ttl %q: %w", cfg.Defaults.TTLRaw, err)
	} else if d <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", d)
	}
	if d, err := time.ParseDuration(cfg.Defaults.RequestTimeoutRaw); err != nil {
		return fmt.Errorf("invalid request_timeout %q: %w", cfg.Defaults.RequestTimeoutRaw, err)
	} else if d <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", d)
	}

	if cfg.Defaults.Limit < 0 {
		return fmt.Errorf("limit must be positive, got %d", cfg.Defaults.Limit)
	}
	if cfg.Defaults.EmbedBatchSize < 0 {
		return fmt.Errorf("embed_batch_size must be positive, got %d", cfg.Defaults.EmbedBatchSize)
	}
	if cfg.Defaults.EmbedConcurrency < 0 {
		return fmt.Errorf("embed_concurrency must be positive, got %d", cfg.Defaults.EmbedConcurrency)
	}
	if cfg.Defaults.CacheSize() < 0 {
		return fmt.Errorf("embed_cache_size must not be negative, got %d", cfg.Defaults.CacheSize())
	}

	validEmbedTypes := map[string]bool{"openai": true, "ollama": true, "": true}
	if !validEmbedTypes[cfg.Providers.Embedding.Type] {
		return fmt.Errorf("unsupported embedding provider type: %s", cfg.Providers.Embedding.Type)
	}

	switch cfg.GitHub.Auth {
	case "token":
	case "app":
		if cfg.GitHub.AppID == "" || cfg.GitHub.InstallationID == "" {
			return fmt.Errorf("github app auth requires app_id and installation_id")
		}
		if cfg.GitHub.PrivateKey == "" && cfg.GitHub.PrivateKeyPath == "" {
			return fmt.Errorf("github app auth requires private_key or private_key_path")
		}
	default:
		return fmt.Errorf("unsupported github auth %q (want token or app)", cfg.GitHub.Auth)
	}

	return nil
}
