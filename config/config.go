package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"tts-cache/cachepath"
)

const (
	defaultWorkers   = 4
	defaultAttempts  = 3
	defaultTimeout   = 10 // seconds
	defaultUserAgent = "tts-cache/dev"
	defaultLogFile   = "tts-cache.log"
)

// Config holds all configuration for the application.
// Values are loaded by Viper from a config file and/or environment variables.
type Config struct {
	DataDir           string `mapstructure:"TTS_DATA_DIR"` // Holds Mods/ and Saves/
	UserAgent         string `mapstructure:"USERAGENT"`
	DownloadWorkers   int    `mapstructure:"DOWNLOAD_WORKERS"`
	DownloadAttempts  int    `mapstructure:"DOWNLOAD_ATTEMPTS"`
	DownloadTimeout   int    `mapstructure:"DOWNLOAD_TIMEOUT"` // Seconds
	IgnoreContentType bool   `mapstructure:"IGNORE_CONTENT_TYPE"`
	LogFile           string `mapstructure:"LOG_FILE"`
	ModsDir           string `mapstructure:"-"` // Derived
	SavesDir          string `mapstructure:"-"` // Derived
	DatabasePath      string `mapstructure:"-"` // Derived
}

// Timeout returns the download timeout as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.DownloadTimeout) * time.Second
}

var envKeys = []string{
	"TTS_DATA_DIR",
	"USERAGENT",
	"DOWNLOAD_WORKERS",
	"DOWNLOAD_ATTEMPTS",
	"DOWNLOAD_TIMEOUT",
	"IGNORE_CONTENT_TYPE",
	"LOG_FILE",
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)   // Path to look for the config file in
	viper.SetConfigName(".env") // Name of config file (without extension)
	viper.SetConfigType("env")  // REQUIRED if the config file does not have the extension in the name

	vip_err := viper.ReadInConfig()
	if _, ok := vip_err.(viper.ConfigFileNotFoundError); ok {
		slog.Info("Config file (.env) not found, relying on environment variables.")
	} else if vip_err != nil {
		return Config{}, fmt.Errorf("fatal error config file: %w", vip_err)
	}

	viper.AutomaticEnv()
	for _, key := range envKeys {
		if err := viper.BindEnv(key, key); err != nil {
			slog.Warn("Unable to bind env var", "key", key, "error", err)
		}
	}

	if vip_err = viper.Unmarshal(&config); vip_err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct, %w", vip_err)
	}

	// Viper does not coerce bool strings from env reliably without SetDefault.
	if raw := viper.GetString("IGNORE_CONTENT_TYPE"); raw != "" {
		ignore, err := strconv.ParseBool(raw)
		if err != nil {
			slog.Warn("Invalid value for IGNORE_CONTENT_TYPE, defaulting to false", "value", raw, "error", err)
		}
		config.IgnoreContentType = ignore
	}

	processConfigDefaults(&config)
	if err := validateAndEnsureDirectories(&config); err != nil {
		return Config{}, err
	}
	return config, nil
}

// processConfigDefaults fills in every optional value that was not set.
func processConfigDefaults(config *Config) {
	if config.DownloadWorkers <= 0 {
		config.DownloadWorkers = defaultWorkers
	}
	if config.DownloadAttempts <= 0 {
		config.DownloadAttempts = defaultAttempts
	}
	if config.DownloadTimeout <= 0 {
		config.DownloadTimeout = defaultTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
		slog.Warn("USERAGENT not set in config or environment, using default.")
	}
	if config.LogFile == "" {
		config.LogFile = defaultLogFile
	}
}

// validateAndEnsureDirectories checks the data directory, creates the cache
// layout under it and derives the paths the rest of the program uses.
func validateAndEnsureDirectories(config *Config) error {
	if config.DataDir == "" {
		slog.Error("TTS_DATA_DIR is not set")
		return fmt.Errorf("TTS_DATA_DIR is required")
	}

	config.ModsDir = filepath.Join(config.DataDir, "Mods")
	config.SavesDir = filepath.Join(config.DataDir, "Saves")
	config.DatabasePath = filepath.Join(config.DataDir, "tts-cache.db")

	dirs := []string{config.DataDir, config.SavesDir, filepath.Join(config.ModsDir, "Workshop")}
	for _, class := range cachepath.Stored() {
		dirs = append(dirs, filepath.Join(config.ModsDir, class.Dir()))
	}
	for _, dir := range dirs {
		if err := ensureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

func ensureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		slog.Info("Directory does not exist, creating it", "path", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create directory", "path", dir, "error", err)
			return err
		}
	} else if err != nil {
		slog.Error("Failed to check directory", "path", dir, "error", err)
		return err
	}
	return nil
}
