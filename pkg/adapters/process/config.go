package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProcessConfig is one allow-listed external command.
type ProcessConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`
	// Algorithms lists the catalogue names the command trains.
	// An empty list makes it the default trainer.
	Algorithms  []string          `yaml:"algorithms" json:"algorithms"`
}

// ConfigFile represents the structure of trainers.yaml.
type ConfigFile struct {
	Profiler *ProcessConfig  `yaml:"profiler" json:"profiler"`
	Trainers []ProcessConfig `yaml:"trainers" json:"trainers"`
}

// LoadConfig reads a configuration file (YAML or JSON).
// A missing file yields an empty configuration.
func LoadConfig(path string) (ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ConfigFile{}, nil
		}
		return ConfigFile{}, fmt.Errorf("failed to read trainers config: %w", err)
	}

	var cfg ConfigFile
	ext := strings.ToLower(filepath.Ext(path))

	if ext == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return ConfigFile{}, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	} else {
		// Default to YAML
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return ConfigFile{}, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	}

	seen := make(map[string]bool)
	for _, tr := range cfg.Trainers {
		if tr.Name == "" || tr.Command == "" {
			return ConfigFile{}, fmt.Errorf("trainer entries need a name and a command")
		}
		if seen[tr.Name] {
			return ConfigFile{}, fmt.Errorf("trainer %q declared twice", tr.Name)
		}
		seen[tr.Name] = true
	}
	if cfg.Profiler != nil && cfg.Profiler.Command == "" {
		return ConfigFile{}, fmt.Errorf("profiler needs a command")
	}
	return cfg, nil
}
