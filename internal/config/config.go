// Package config loads and validates the honeypot runtime configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	DICOM   DICOMConfig   `toml:"dicom"`
	HL7     HL7Config     `toml:"hl7"`
	Sinks   SinksConfig   `toml:"sinks"`
	Metrics MetricsConfig `toml:"metrics"`
}

type DICOMConfig struct {
	Enabled          bool     `toml:"enabled"`
	Addr             string   `toml:"addr"`
	AETitle          string   `toml:"ae_title"`
	ArtifactDir      string   `toml:"artifact_dir"`
	StoreImages      bool     `toml:"store_images"`
	Username         string   `toml:"username"`
	Password         string   `toml:"password"`
	MaxPDULength     uint32   `toml:"max_pdu_length"`
	SuppressedEvents []string `toml:"suppressed_events"`
}

type HL7Config struct {
	Enabled          bool     `toml:"enabled"`
	Addr             string   `toml:"addr"`
	SuppressedEvents []string `toml:"suppressed_events"`
}

type SinksConfig struct {
	Stdout bool         `toml:"stdout"`
	File   FileConfig   `toml:"file"`
	SQLite SQLiteConfig `toml:"sqlite"`
}

type FileConfig struct {
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

type SQLiteConfig struct {
	Path string `toml:"path"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// Default returns the configuration used when no file is given: both
// deception endpoints on their registered ports, events to stdout.
func Default() Config {
	return Config{
		DICOM: DICOMConfig{
			Enabled:      true,
			Addr:         ":11112",
			AETitle:      "ANY-SCP",
			ArtifactDir:  "artifacts",
			StoreImages:  true,
			MaxPDULength: 16382,
		},
		HL7: HL7Config{
			Enabled: true,
			Addr:    ":2575",
		},
		Sinks: SinksConfig{Stdout: true},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if !cfg.DICOM.Enabled && !cfg.HL7.Enabled {
		return fmt.Errorf("config enables no endpoint")
	}
	if cfg.DICOM.Enabled {
		if strings.TrimSpace(cfg.DICOM.Addr) == "" {
			return fmt.Errorf("dicom config missing addr")
		}
		if len(cfg.DICOM.AETitle) > 16 {
			return fmt.Errorf("dicom ae_title exceeds 16 characters")
		}
		if cfg.DICOM.StoreImages && strings.TrimSpace(cfg.DICOM.ArtifactDir) == "" {
			return fmt.Errorf("dicom artifact_dir required when store_images is set")
		}
		if cfg.DICOM.Password != "" && cfg.DICOM.Username == "" {
			return fmt.Errorf("dicom password set without username")
		}
	}
	if cfg.HL7.Enabled && strings.TrimSpace(cfg.HL7.Addr) == "" {
		return fmt.Errorf("hl7 config missing addr")
	}
	if !cfg.Sinks.Stdout && cfg.Sinks.File.Path == "" && cfg.Sinks.SQLite.Path == "" {
		return fmt.Errorf("config enables no event sink")
	}
	if cfg.Metrics.Enabled && strings.TrimSpace(cfg.Metrics.Addr) == "" {
		return fmt.Errorf("metrics config missing addr")
	}
	return nil
}
