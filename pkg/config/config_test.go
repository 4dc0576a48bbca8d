package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(b byte) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat(string(b), 32)))
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 3, cfg.Agent.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Agent.BaseBackoff.Std())

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("CONDUIT_TEST_KEY", "sk-123")
	path := filepath.Join(t.TempDir(), "conduit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
prompts_dir: ./prompts
store:
  backend: redis
  redis:
    addr: redis:6379
    db: 2
    ttl: 72h
  encryption_key: `+key('a')+`
  fallback_keys: [`+key('b')+`]
  pii_patterns: ["(?i)email", "phone"]
agent:
  confidence_threshold: 0.8
  base_backoff: 500ms
llm:
  base_url: http://gpu-1:8000/v1, http://gpu-2:8000/v1
  model: llama3
  api_key: ${CONDUIT_TEST_KEY}
training:
  max_parallel: 2
  timeout: 1h
  trainers_file: trainers.yaml
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "conduit:", cfg.Store.Redis.Prefix, "unset keys keep defaults")
	assert.Equal(t, 72*time.Hour, cfg.Store.Redis.TTL.Std())
	assert.Equal(t, 0.8, cfg.Agent.ConfidenceThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Agent.BaseBackoff.Std())
	assert.Equal(t, 10*time.Second, cfg.Agent.MaxBackoff.Std())
	assert.Equal(t, "sk-123", cfg.LLM.APIKey)
	assert.Equal(t, time.Hour, cfg.Training.Timeout.Std())
	assert.Equal(t, "trainers.yaml", cfg.Training.TrainersFile)

	active, fallback, err := cfg.Store.Keys()
	require.NoError(t, err)
	assert.Len(t, active, 32)
	assert.Len(t, fallback, 1)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "bad duration", yaml: "agent:\n  timeout: soon\n", want: "invalid duration"},
		{name: "numeric duration", yaml: "agent:\n  timeout: [1]\n", want: "duration must be a string"},
		{name: "unknown key", yaml: "agents: {}\n", want: "field agents not found"},
		{name: "backend", yaml: "store:\n  backend: s3\n", want: "must be memory, file or redis"},
		{name: "threshold", yaml: "agent:\n  confidence_threshold: 1.5\n", want: "within [0, 1]"},
		{name: "retries", yaml: "training:\n  max_attempts: 0\n", want: "at least 1"},
		{name: "short key", yaml: "store:\n  encryption_key: " + base64.StdEncoding.EncodeToString([]byte("short")) + "\n", want: "want 32"},
		{name: "orphan fallback", yaml: "store:\n  fallback_keys: [" + key('a') + "]\n", want: "without store.encryption_key"},
		{name: "pii pattern", yaml: "store:\n  pii_patterns: [\"(email\"]\n", want: "store.pii_patterns"},
		{name: "file without dir", yaml: "store:\n  backend: file\n  dir: \"\"\n", want: "store.dir is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := Parse([]byte(tt.yaml), &cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	cfg := Default()
	require.NoError(t, Parse([]byte("# nothing here\n"), &cfg))
	assert.Equal(t, Default(), cfg)
}

func TestDuration_MarshalYAML(t *testing.T) {
	v, err := Duration(90 * time.Second).MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", v)
}
