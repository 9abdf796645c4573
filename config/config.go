// Package config loads the tunables cmd/displayd needs to stand up a
// display pipeline: worker/scheduler sizing, default encode quality and
// H.264 bitrate bounds, and log level/format.
//
// Grounded on the teacher's internal/config/config.go — same
// Default/Load/mapstructure-tag shape, trimmed to what a codec/framebuffer
// core actually has a tunable for (no agent enrollment, backup or patch
// fields, which belong to the session/transport layer spec.md places out of
// scope).
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds every tunable this module's own binaries and tests read at
// startup.
type Config struct {
	MainQueueSize int `mapstructure:"main_queue_size"`
	WorkQueueSize int `mapstructure:"work_queue_size"`
	MaxWorkers    int `mapstructure:"max_workers"`

	JPEGQualityHigh int `mapstructure:"jpeg_quality_high"`
	JPEGQualityLow  int `mapstructure:"jpeg_quality_low"`

	H264MinBitrateKbps int `mapstructure:"h264_min_bitrate_kbps"`
	H264MaxBitrateKbps int `mapstructure:"h264_max_bitrate_kbps"`
	H264TargetFPS      int `mapstructure:"h264_target_fps"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Default returns the tunables the teacher's own Default() seeds before any
// config file or environment override is applied.
func Default() *Config {
	return &Config{
		MainQueueSize: 64,
		WorkQueueSize: 32,
		MaxWorkers:    4,

		JPEGQualityHigh: 66,
		JPEGQualityLow:  33,

		H264MinBitrateKbps: 500,
		H264MaxBitrateKbps: 8000,
		H264TargetFPS:      30,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads cfgFile (or "displaycore.yaml" from the working directory, or
// the DISPLAYCORE_* environment, if cfgFile is empty) over Default(),
// mirroring the teacher's Load: a missing config file is not an error, a
// malformed one is.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("displaycore")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("DISPLAYCORE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.MaxWorkers < 1 {
		return nil, fmt.Errorf("config: max_workers must be >= 1, got %d", cfg.MaxWorkers)
	}
	if cfg.JPEGQualityLow < 1 || cfg.JPEGQualityLow > 100 || cfg.JPEGQualityHigh < 1 || cfg.JPEGQualityHigh > 100 {
		return nil, fmt.Errorf("config: jpeg quality values must be in [1,100]")
	}

	return cfg, nil
}
