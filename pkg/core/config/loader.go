// Package config provides configuration loading and validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig parses YAML configuration and applies default values.
// This is the recommended function for loading configuration.
//
// It performs two operations atomically:
//  1. Parses YAML into Config struct
//  2. Applies default values to unset fields
//
// Example:
//
//	cfg, err := config.LoadConfig(yamlString)
//	if err != nil {
//	    return err
//	}
//	// cfg now has defaults applied and is ready for validation
func LoadConfig(configYAML string) (*Config, error) {
	cfg, err := parseConfig(configYAML)
	if err != nil {
		return nil, err
	}

	setDefaults(cfg)

	return cfg, nil
}

// LoadFile reads, parses and validates the configuration file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := LoadConfig(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if err := ValidateStructure(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// parseConfig parses YAML configuration into a Config struct.
// Unknown keys are rejected so that typos do not silently fall back to
// defaults.
func parseConfig(configYAML string) (*Config, error) {
	if configYAML == "" {
		return nil, fmt.Errorf("config YAML is empty")
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(configYAML)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config YAML is empty")
		}
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &cfg, nil
}
