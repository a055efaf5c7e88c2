// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

// Package config reads/writes the server's YAML configuration file and
// applies environment-variable overrides on top of it: file first, then
// env vars.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/fenwicklm/fenwick/errs"
	"gopkg.in/yaml.v3"
)

type (
	// Config holds all server settings.
	Config struct {
		APIKey       string  `yaml:"api_key"`
		Host         string  `yaml:"host"`
		Origins      string  `yaml:"origins"`
		ModelsDir    string  `yaml:"models_dir"`
		DefaultModel string  `yaml:"default_model"`
		Backend      Backend `yaml:"backend"`
		Verbose      bool    `yaml:"-"`
		Debug        bool    `yaml:"-"`
	}

	// Backend configures the optional llama-swap-managed real backend.
	// Empty Exe means: serve with the in-process reference engine.
	Backend struct {
		Exe        string `yaml:"exe"`
		Addr       string `yaml:"addr"`
		ConfigPath string `yaml:"config_path"`
	}
)

// FileName is the default config filename written/read at the workspace root.
const FileName = "fenwick.yml"

// Default returns a fresh config with sane defaults; callers must not
// share a single instance across requests/tests since fields are mutated.
func Default() *Config {
	return &Config{
		Host:      "",
		Origins:   "localhost",
		ModelsDir: "./models",
	}
}

// Load reads path (if non-empty), applies env var overrides, then
// validates. Missing path is not an error — defaults and env vars still
// apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, errs.Wrap(err, errs.Configuration, "CONFIG_READ_FAILED", "cannot read "+path)
		}
		err = yaml.Unmarshal(raw, cfg)
		if err != nil {
			return nil, errs.Wrap(err, errs.Configuration, "CONFIG_PARSE_FAILED", "invalid YAML in "+path)
		}
	}

	cfg.applyEnvVars()
	cfg.trim()

	return cfg, cfg.validate()
}

func (cfg *Config) applyEnvVars() {
	if v := os.Getenv("FENWICK_MODELS_DIR"); v != "" {
		cfg.ModelsDir = v
	}
	if v := os.Getenv("FENWICK_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
	if v := os.Getenv("FENWICK_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("FENWICK_ORIGINS"); v != "" {
		cfg.Origins = v
	}
	if v := os.Getenv("FENWICK_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("FENWICK_BACKEND_EXE"); v != "" {
		cfg.Backend.Exe = v
	}
}

func (cfg *Config) trim() {
	cfg.ModelsDir = strings.TrimSpace(strings.Trim(cfg.ModelsDir, ":"))
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.Origins = strings.TrimSpace(strings.Trim(cfg.Origins, ","))
}

func (cfg *Config) validate() error {
	if cfg.ModelsDir == "" {
		return errs.New(errs.Configuration, "MODELS_DIR_EMPTY", "models_dir must not be empty")
	}
	return nil
}

// Write serializes cfg to path, generating a random API key first when
// none is set and noAPIKey is false.
func Write(path string, cfg *Config, noAPIKey bool) error {
	if cfg.APIKey == "" && !noAPIKey {
		key, err := randomAPIKey()
		if err != nil {
			return errs.Wrap(err, errs.Configuration, "API_KEY_GEN_FAILED", "cannot generate API key")
		}
		cfg.APIKey = key
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return errs.Wrap(err, errs.Configuration, "CONFIG_MARSHAL_FAILED", "cannot marshal config")
	}

	header := []byte("# Fenwick server configuration\n")
	return os.WriteFile(filepath.Clean(path), append(header, raw...), 0o600)
}

func randomAPIKey() (string, error) {
	buf := make([]byte, 32)
	_, err := rand.Read(buf)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
