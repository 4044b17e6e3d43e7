package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for modelrelay.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logger         LoggerConfig         `yaml:"logger"`
	Tracer         TracerConfig         `yaml:"tracer"`
	Orchestrator   OrchestratorConfig   `yaml:"orchestrator"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Store          StoreConfig          `yaml:"store"`
	DefaultModel   string               `yaml:"default_model"`
	Adapters       []AdapterConfig      `yaml:"adapters"`
	Includes       []string             `yaml:"includes,omitempty"`
}

// ServerConfig holds HTTP front end settings.
type ServerConfig struct {
	Addr            string          `yaml:"addr"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	TrustedProxies  []string        `yaml:"trusted_proxies"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

// RateLimitConfig holds per-client request limits. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerMin int `yaml:"requests_per_min"`
	Burst          int `yaml:"burst"`
}

// OrchestratorConfig holds candidate ordering and time budgets.
type OrchestratorConfig struct {
	Shuffle        bool          `yaml:"shuffle"`
	Seed           uint64        `yaml:"seed"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
}

// CircuitBreakerConfig holds per-adapter circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// StoreConfig holds attempt history settings.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// PoolConfig holds HTTP connection pool settings for adapters.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// AdapterConfig declares one backend adapter.
type AdapterConfig struct {
	Name         string            `yaml:"name"`
	Type         string            `yaml:"type"`
	Working      *bool             `yaml:"working,omitempty"` // nil = true
	NeedsAuth    *bool             `yaml:"needs_auth,omitempty"`
	BaseURL      string            `yaml:"base_url"`
	ImageBaseURL string            `yaml:"image_base_url,omitempty"`
	APIKey       string            `yaml:"api_key"`
	Model        string            `yaml:"model"`
	Models       []string          `yaml:"models,omitempty"`
	ImageModels  []string          `yaml:"image_models,omitempty"`
	Aliases      map[string]string `yaml:"aliases,omitempty"`
	Region       string            `yaml:"region,omitempty"`
	ConnTimeout  time.Duration     `yaml:"conn_timeout"`
	RespTimeout  time.Duration     `yaml:"resp_timeout"`
	Pool         PoolConfig        `yaml:"pool"`
}

// IsWorking reports the operator switch, defaulting to true.
func (a AdapterConfig) IsWorking() bool {
	return a.Working == nil || *a.Working
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
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under $HOME/.modelrelay.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".modelrelay")
}

// Defaults returns a Config with sensible defaults. The adapter list serves keyless
// requests through pollinations and keyed requests through replicate.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimit:       RateLimitConfig{RequestsPerMin: 120, Burst: 20},
			ShutdownTimeout: 10 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Orchestrator: OrchestratorConfig{
			RequestTimeout: 5 * time.Minute,
			PollInterval:   time.Second,
			PollTimeout:    180 * time.Second,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:     true,
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    filepath.Join(defaultDataDir(), "attempts.db"),
		},
		Adapters: []AdapterConfig{
			{Name: "pollinations", Type: "pollinations"},
			{Name: "replicate", Type: "replicate"},
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// Adapters declared in files replace the defaults rather than appending to them.
	defaults := cfg.Adapters
	cfg.Adapters = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Included adapters are declared before the main file's own.
	if len(cfg.Includes) > 0 {
		included, err := loadIncludes(filepath.Dir(absPath), cfg.Includes)
		if err != nil {
			return nil, err
		}
		cfg.Adapters = mergeAdapters(included, cfg.Adapters)
		cfg.Includes = nil
	}
	if cfg.Adapters == nil {
		cfg.Adapters = defaults
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("MODELRELAY_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps MODELRELAY_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MODELRELAY_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("MODELRELAY_SERVER_TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = splitAndTrim(v, ",")
	}
	if v := os.Getenv("MODELRELAY_RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Server.RateLimit.RequestsPerMin = n
		}
	}
	if v := os.Getenv("MODELRELAY_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("MODELRELAY_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("MODELRELAY_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("MODELRELAY_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("MODELRELAY_ORCHESTRATOR_SHUFFLE"); v != "" {
		cfg.Orchestrator.Shuffle = v == "true"
	}
	if v := os.Getenv("MODELRELAY_ORCHESTRATOR_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Orchestrator.Seed = n
		}
	}
	if v := os.Getenv("MODELRELAY_ORCHESTRATOR_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Orchestrator.RequestTimeout = d
		}
	}
	if v := os.Getenv("MODELRELAY_ORCHESTRATOR_POLL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Orchestrator.PollTimeout = d
		}
	}
	if v := os.Getenv("MODELRELAY_CIRCUIT_BREAKER_ENABLED"); v != "" {
		cfg.CircuitBreaker.Enabled = v == "true"
	}
	if v := os.Getenv("MODELRELAY_STORE_ENABLED"); v == "true" {
		cfg.Store.Enabled = true
	}
	if v := os.Getenv("MODELRELAY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MODELRELAY_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}

	// Per-adapter overrides: MODELRELAY_ADAPTER_<NAME>_API_KEY, _BASE_URL, _WORKING.
	for i := range cfg.Adapters {
		a := &cfg.Adapters[i]
		prefix := "MODELRELAY_ADAPTER_" + envName(a.Name) + "_"
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			a.APIKey = v
		}
		if v := os.Getenv(prefix + "BASE_URL"); v != "" {
			a.BaseURL = v
		}
		if v := os.Getenv(prefix + "WORKING"); v != "" {
			working := v == "true"
			a.Working = &working
		}
	}
}

// envName upper-cases name and replaces characters that are not valid in env keys.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// mergeAdapters overlays later on earlier by name. Replaced entries keep their
// position; new names are appended in order.
func mergeAdapters(earlier, later []AdapterConfig) []AdapterConfig {
	out := append([]AdapterConfig(nil), earlier...)
	index := make(map[string]int, len(out))
	for i, a := range out {
		index[a.Name] = i
	}
	for _, a := range later {
		if i, ok := index[a.Name]; ok {
			out[i] = a
			continue
		}
		index[a.Name] = len(out)
		out = append(out, a)
	}
	return out
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
