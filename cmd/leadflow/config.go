package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all leadflow CLI configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath          string `json:"db_path"`
	VaultPath       string `json:"vault_path"`
	VaultPassphrase string `json:"-"` // env only, never persisted
	LogLevel        string `json:"log_level"`
	Collection      string `json:"collection"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:   "info",
		Collection: "leads",
	}
}

func leadflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".leadflow"
	}
	return filepath.Join(home, ".leadflow")
}

func settingsPath() string {
	return filepath.Join(leadflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("LEADFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LEADFLOW_VAULT_PATH"); v != "" {
		cfg.VaultPath = v
	}
	if v := os.Getenv("LEADFLOW_VAULT_PASSPHRASE"); v != "" {
		cfg.VaultPassphrase = v
	}
	if v := os.Getenv("LEADFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LEADFLOW_COLLECTION"); v != "" {
		cfg.Collection = v
	}

	return cfg
}
