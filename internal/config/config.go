// Package config loads and persists the ledger engine's tax and pairing
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// Config holds all configuration for the ledger engine.
type Config struct {
	Tax     TaxConfig     `yaml:"tax"`
	Pairing PairingConfig `yaml:"pairing"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// TaxConfig groups per-jurisdiction tax rules. Only the Czech Republic is
// modeled; additional jurisdictions would add siblings here.
type TaxConfig struct {
	CzechRepublic CzechTaxConfig `yaml:"czech_republic"`
}

type CzechTaxConfig struct {
	TimeTestExemption TimeTestConfig     `yaml:"time_test_exemption"`
	CapitalGains      CapitalGainsConfig `yaml:"capital_gains"`
}

// TimeTestConfig is the calendar-based holding-period exemption rule.
type TimeTestConfig struct {
	// HoldingPeriodYears is how many whole years a lot must be held to
	// qualify for the time-test exemption.
	HoldingPeriodYears int `yaml:"holding_period_years"`
}

// CapitalGainsConfig holds the default capital-gains tax rate. It is
// persisted with the rest of the configuration; no engine component reads
// it, and tax-rate catalog lookups do not fall back to it.
type CapitalGainsConfig struct {
	DefaultRate float64 `yaml:"default_rate"`
}

// PairingConfig lists the lot-selection methods and names the one applied
// by default. DefaultMethod is the default of ledgerctl pair's -method
// flag; Methods is stored only and does not restrict which method is used.
type PairingConfig struct {
	Methods       []string `yaml:"methods"`
	DefaultMethod string   `yaml:"default_method"`
}

// StoreConfig holds transaction store settings.
type StoreConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults, matching the
// original tool's hard-coded fallbacks.
func DefaultConfig() *Config {
	return &Config{
		Tax: TaxConfig{
			CzechRepublic: CzechTaxConfig{
				TimeTestExemption: TimeTestConfig{HoldingPeriodYears: 3},
				CapitalGains:      CapitalGainsConfig{DefaultRate: 0.15},
			},
		},
		Pairing: PairingConfig{
			Methods:       []string{"FIFO", "LIFO", "MaxLose", "MaxProfit", "Manual"},
			DefaultMethod: "FIFO",
		},
		Store: StoreConfig{
			DataDir: "~/.ledgertool",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from a YAML file in dataDir. If the file
// doesn't exist, it creates one populated with defaults.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Store.DataDir = dataDir
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# ledgertool configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
