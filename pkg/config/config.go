// Package config loads the conduit.yaml file that drives the CLI.
//
// Values may reference environment variables (${OPENAI_API_KEY}); durations
// are written as Go duration strings ("30s", "1m30s").
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "conduit.yaml"

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Duration is a time.Duration written as a string in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", value.Line, err)
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Prefix   string   `yaml:"prefix"`
	TTL      Duration `yaml:"ttl"`
	LockTTL  Duration `yaml:"lock_ttl"`
}

// StoreConfig selects and decorates the run store.
type StoreConfig struct {
	Backend       string      `yaml:"backend"`
	Dir           string      `yaml:"dir"`
	Redis         RedisConfig `yaml:"redis"`
	EncryptionKey string      `yaml:"encryption_key"`
	FallbackKeys  []string    `yaml:"fallback_keys"`
	PIIPatterns   []string    `yaml:"pii_patterns"`
}

// AgentConfig tunes the decision agents.
type AgentConfig struct {
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	MaxAttempts         int      `yaml:"max_attempts"`
	BaseBackoff         Duration `yaml:"base_backoff"`
	MaxBackoff          Duration `yaml:"max_backoff"`
	Timeout             Duration `yaml:"timeout"`
}

// LLMConfig points at an OpenAI-compatible endpoint.
type LLMConfig struct {
	BaseURL     string   `yaml:"base_url"`
	Model       string   `yaml:"model"`
	APIKey      string   `yaml:"api_key"`
	Timeout     Duration `yaml:"timeout"`
	Temperature float64  `yaml:"temperature"`
}

// TrainingConfig tunes the training fan-out.
type TrainingConfig struct {
	MaxParallel int `yaml:"max_parallel"`
	// Timeout bounds one training attempt; a timed-out attempt is retried.
	Timeout          Duration `yaml:"timeout"`
	MaxAttempts      int      `yaml:"max_attempts"`
	BaseBackoff      Duration `yaml:"base_backoff"`
	MonitorThreshold float64  `yaml:"monitor_threshold"`
	TrainersFile     string   `yaml:"trainers_file"`
}

// HTTPConfig configures the serve command.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config is the root of conduit.yaml.
type Config struct {
	LogLevel   string         `yaml:"log_level"`
	PromptsDir string         `yaml:"prompts_dir"`
	Store      StoreConfig    `yaml:"store"`
	Agent      AgentConfig    `yaml:"agent"`
	LLM        LLMConfig      `yaml:"llm"`
	Training   TrainingConfig `yaml:"training"`
	HTTP       HTTPConfig     `yaml:"http"`
	Metrics    MetricsConfig  `yaml:"metrics"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		LogLevel: "info",
		Store: StoreConfig{
			Backend: BackendMemory,
			Dir:     ".conduit/runs",
			Redis: RedisConfig{
				Addr:    "localhost:6379",
				Prefix:  "conduit:",
				LockTTL: Duration(30 * time.Second),
			},
		},
		Agent: AgentConfig{
			ConfidenceThreshold: 0.7,
			MaxAttempts:         3,
			BaseBackoff:         Duration(time.Second),
			MaxBackoff:          Duration(10 * time.Second),
			Timeout:             Duration(30 * time.Second),
		},
		LLM: LLMConfig{
			BaseURL: "http://localhost:1234/v1",
			Timeout: Duration(60 * time.Second),
		},
		Training: TrainingConfig{
			MaxParallel:      4,
			Timeout:          Duration(30 * time.Minute),
			MaxAttempts:      3,
			BaseBackoff:      Duration(time.Second),
			MonitorThreshold: 0.7,
		},
		HTTP:    HTTPConfig{Port: 8080},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads path over the defaults. A missing DefaultFile is not an error;
// a missing explicit path is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultFile {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over cfg, expanding environment variables first.
func Parse(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	// An empty document decodes to io.EOF and keeps the defaults.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return cfg.Validate()
}

// Validate checks value ranges and cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendMemory, BackendFile, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q must be memory, file or redis", c.Store.Backend))
	}
	if c.Store.Backend == BackendFile && c.Store.Dir == "" {
		errs = append(errs, errors.New("store.dir is required for the file backend"))
	}
	if c.Store.Backend == BackendRedis && c.Store.Redis.Addr == "" {
		errs = append(errs, errors.New("store.redis.addr is required for the redis backend"))
	}
	if _, _, err := c.Store.Keys(); err != nil {
		errs = append(errs, err)
	}
	for _, p := range c.Store.PIIPatterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("store.pii_patterns: %w", err))
		}
	}
	if t := c.Agent.ConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("agent.confidence_threshold %v must be within [0, 1]", t))
	}
	if t := c.Training.MonitorThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("training.monitor_threshold %v must be within [0, 1]", t))
	}
	if c.Agent.MaxAttempts < 1 {
		errs = append(errs, errors.New("agent.max_attempts must be at least 1"))
	}
	if c.Training.MaxAttempts < 1 {
		errs = append(errs, errors.New("training.max_attempts must be at least 1"))
	}
	if c.Training.MaxParallel < 0 {
		errs = append(errs, errors.New("training.max_parallel cannot be negative"))
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	return errors.Join(errs...)
}

// Keys decodes the base64 encryption keys. active is nil when encryption is off.
func (s StoreConfig) Keys() (active []byte, fallback [][]byte, err error) {
	if s.EncryptionKey == "" {
		if len(s.FallbackKeys) > 0 {
			return nil, nil, errors.New("store.fallback_keys set without store.encryption_key")
		}
		return nil, nil, nil
	}
	active, err = decodeKey("store.encryption_key", s.EncryptionKey)
	if err != nil {
		return nil, nil, err
	}
	for i, k := range s.FallbackKeys {
		key, err := decodeKey(fmt.Sprintf("store.fallback_keys[%d]", i), k)
		if err != nil {
			return nil, nil, err
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(name, s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%s: not base64: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s: decoded key is %d bytes, want 32", name, len(key))
	}
	return key, nil
}
