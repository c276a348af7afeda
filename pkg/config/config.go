// Package config provides configuration loading and management for
// contrastcurve. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Scene parameters for the synthetic observation engine
	Scene struct {
		// Width and Height are the detector frame dimensions in pixels
		Width  int `yaml:"width"`
		Height int `yaml:"height"`

		// Realizations is the number of independent noise realizations
		Realizations int `yaml:"realizations"`

		// Seed initializes the noise stream for reproducible runs
		Seed uint64 `yaml:"seed"`

		// StarFlux is the peak count rate of the occulted stellar halo
		StarFlux float64 `yaml:"starFlux"`

		// HaloScale is the halo e-folding radius in pixels
		HaloScale float64 `yaml:"haloScale"`

		// SpeckleRMS is the per-pixel residual speckle noise level
		SpeckleRMS float64 `yaml:"speckleRMS"`

		// ReadNoise is the per-pixel detector read noise level
		ReadNoise float64 `yaml:"readNoise"`

		// CompanionFWHM is the off-axis PSF width in pixels
		// (zero renders a unit impulse)
		CompanionFWHM float64 `yaml:"companionFWHM"`
	} `yaml:"scene"`

	// Photometry parameters for the contrast estimation
	Photometry struct {
		// ApertureRadius is the photometric aperture radius in pixels
		ApertureRadius float64 `yaml:"apertureRadius"`

		// Sigma is the detection confidence level of the curve
		Sigma float64 `yaml:"sigma"`

		// PixelScale converts pixel separations to arcseconds
		PixelScale float64 `yaml:"pixelScale"`

		// NumWorkers bounds the goroutines for the noise-map stage
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"photometry"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults determines whether to save
		// intermediary processing results
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default scene parameters
	cfg.Scene.Width = 101
	cfg.Scene.Height = 101
	cfg.Scene.Realizations = 25
	cfg.Scene.Seed = 1
	cfg.Scene.StarFlux = 1e4
	cfg.Scene.HaloScale = 8.0
	cfg.Scene.SpeckleRMS = 1.0
	cfg.Scene.ReadNoise = 0.1
	cfg.Scene.CompanionFWHM = 3.0

	// Set default photometry parameters
	cfg.Photometry.ApertureRadius = 5.0
	cfg.Photometry.Sigma = 5.0
	cfg.Photometry.PixelScale = 0.063 // NIRCam long-wavelength arcsec/pixel
	cfg.Photometry.NumWorkers = runtime.NumCPU()

	// Set default output parameters
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
