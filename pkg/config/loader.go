package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Configuration file names read from the config directory. The main
// file is decoded directly over the built-in defaults, so explicit
// zero values (enabled: false) take effect. The optional local file is
// merged on top for machine-specific overrides.
const (
	ConfigFileName      = "vocero.yaml"
	LocalConfigFileName = "vocero.local.yaml"
)

// Initialize loads, merges, validates, and returns ready-to-use
// configuration. This is the primary entry point.
//
// Steps performed:
//  1. Start from Default*Config() for every section
//  2. Decode vocero.yaml over the defaults (missing file = defaults),
//     after {{.VAR}} environment expansion
//  3. Merge vocero.local.yaml overrides, if present
//  4. Validate every section
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"voice_enabled", cfg.Voice.Enabled,
		"llm_provider", cfg.LLM.Provider,
		"stt_provider", cfg.Voice.STTProvider)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.configDir = configDir

	data, ok, err := readConfigFile(filepath.Join(configDir, ConfigFileName))
	if err != nil {
		return nil, err
	}
	if !ok {
		slog.Warn("No configuration file found, using defaults",
			"path", filepath.Join(configDir, ConfigFileName))
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, NewLoadError(ConfigFileName, fmt.Errorf("%w: %w", ErrInvalidYAML, err))
	}

	// Local overrides: non-zero fields win over the merged config.
	localData, ok, err := readConfigFile(filepath.Join(configDir, LocalConfigFileName))
	if err != nil {
		return nil, err
	}
	if ok {
		var local Config
		if err := yaml.Unmarshal(localData, &local); err != nil {
			return nil, NewLoadError(LocalConfigFileName, fmt.Errorf("%w: %w", ErrInvalidYAML, err))
		}
		if err := mergo.Merge(cfg, &local, mergo.WithOverride); err != nil {
			return nil, NewLoadError(LocalConfigFileName, err)
		}
		slog.Info("Applied local configuration overrides", "file", LocalConfigFileName)
	}

	return cfg, nil
}

// readConfigFile reads and env-expands one YAML file. The second return
// is false when the file does not exist.
func readConfigFile(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, NewLoadError(filepath.Base(path), err)
	}
	return ExpandEnv(data), true, nil
}
