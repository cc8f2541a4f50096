// Package config loads the process-level knobs that sit outside the
// lighting data model: log destination/format, the Art-Net refresh
// cadence, and where the JSON data files live. Grounded on the
// teacher's config.Config/ReadConfig split between file-backed settings
// and environment overrides, relaxed so the file itself is optional —
// this module is also usable as a library with no on-disk config at all.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultArtnetRefreshMs and ArtnetRefreshFloorMs mirror spec.md §6's
// Art-Net refresh constants.
const (
	DefaultArtnetRefreshMs = 40
	ArtnetRefreshFloorMs   = 20
)

// OpsConfig is the optional chaser.yml schema. Every field has a
// sensible default, so running without a config file at all is
// supported.
type OpsConfig struct {
	LogLevel        string `yaml:"logLevel"`
	LogFormat       string `yaml:"logFormat"`
	LogFile         string `yaml:"logFile"`
	ArtnetRefreshMs int    `yaml:"artnetRefreshMs"`
	DataDir         string `yaml:"dataDir"`
}

// Default returns the zero-file configuration.
func Default() OpsConfig {
	return OpsConfig{
		LogLevel:        "info",
		LogFormat:       "text",
		ArtnetRefreshMs: DefaultArtnetRefreshMs,
		DataDir:         "data",
	}
}

// Load reads path if it exists and merges it over Default(); a missing
// file is not an error. Environment overrides (CHASER_DEBUG,
// CHASER_ARTNET_REFRESH_MS) are applied last, per spec.md §6.
func Load(path string) (OpsConfig, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return applyEnvOverrides(cfg), nil
			}
			return cfg, err
		}
		defer f.Close()
		decoded := cfg
		if err := yaml.NewDecoder(f).Decode(&decoded); err != nil {
			return cfg, err
		}
		cfg = decoded
	}

	return applyEnvOverrides(cfg), nil
}

func applyEnvOverrides(cfg OpsConfig) OpsConfig {
	if os.Getenv("CHASER_DEBUG") == "1" {
		cfg.LogLevel = "debug"
	}
	if v := os.Getenv("CHASER_ARTNET_REFRESH_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.ArtnetRefreshMs = ms
		}
	}
	if cfg.ArtnetRefreshMs < ArtnetRefreshFloorMs {
		cfg.ArtnetRefreshMs = ArtnetRefreshFloorMs
	}
	return cfg
}
