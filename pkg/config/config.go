// Package config loads, defaults and validates the unifs configuration:
// a set of named filesystem backends plus the listeners polling them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete unifs configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (UNIFS_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Backend Configuration Pattern:
// Each filesystem entry selects a backend via Type and carries one
// type-specific section; only the section matching the selected type is
// decoded. Listeners reference filesystems by name.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Filesystems defines the named storage backends
	Filesystems []FilesystemConfig `mapstructure:"filesystems" validate:"dive"`

	// Listeners defines the folder queues polled for incoming files
	Listeners []ListenerConfig `mapstructure:"listeners" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// FilesystemConfig specifies one named storage backend.
//
// The Type field determines which backend implementation is used. Only
// the corresponding type-specific section is decoded.
type FilesystemConfig struct {
	// Name identifies the backend; listeners reference it
	Name string `mapstructure:"name" validate:"required"`

	// Type selects the backend implementation
	// Valid values: memory, local, s3, badger, imap
	Type string `mapstructure:"type" validate:"required,oneof=memory local s3 badger imap"`

	// Local contains local-disk configuration
	// Only used when Type = "local"
	Local map[string]any `mapstructure:"local"`

	// S3 contains object-store configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`

	// Badger contains BadgerDB configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`

	// IMAP contains mailbox configuration
	// Only used when Type = "imap"
	IMAP map[string]any `mapstructure:"imap"`
}

// ListenerConfig defines one folder queue bound to a filesystem.
type ListenerConfig struct {
	// Name identifies the listener in logs
	Name string `mapstructure:"name" validate:"required"`

	// Filesystem names the backend the listener polls
	Filesystem string `mapstructure:"filesystem" validate:"required"`

	// PollSchedule is a cron expression controlling when the queue is
	// drained. Supports the optional seconds field.
	PollSchedule string `mapstructure:"poll_schedule" validate:"required"`

	// InputFolder is the folder polled for incoming files
	InputFolder string `mapstructure:"input_folder" validate:"required"`

	// InProcessFolder receives files while they are being processed
	InProcessFolder string `mapstructure:"in_process_folder"`

	// ProcessedFolder receives successfully processed files
	ProcessedFolder string `mapstructure:"processed_folder"`

	// ErrorFolder receives files whose processing failed
	ErrorFolder string `mapstructure:"error_folder"`

	// HoldFolder receives files parked for manual intervention
	HoldFolder string `mapstructure:"hold_folder"`

	// LogFolder receives an audit copy of every file picked up
	LogFolder string `mapstructure:"log_folder"`

	// CreateFolders creates missing listener folders on startup
	CreateFolders bool `mapstructure:"create_folders"`

	// Delete removes processed files instead of moving them
	Delete bool `mapstructure:"delete"`

	// Overwrite replaces an existing file at a state-folder destination
	Overwrite bool `mapstructure:"overwrite"`

	// NumberOfBackups rotates an occupied state-folder destination
	// through a numeric backup chain when Overwrite is false
	NumberOfBackups int `mapstructure:"number_of_backups"`

	// FileTimeSensitive makes the message id include the modification
	// time, so re-delivered files with the same name stay distinct
	FileTimeSensitive bool `mapstructure:"file_time_sensitive"`

	// MinStableTime is how long a file must stay unchanged before it is
	// eligible for pickup
	MinStableTime time.Duration `mapstructure:"min_stable_time"`

	// MessageType selects what a message carries
	// Valid values: name, path, contents, info, or the name of a backend
	// metadata key
	MessageType string `mapstructure:"message_type"`

	// MessageIDKey names the backend property used as message id
	MessageIDKey string `mapstructure:"message_id_key"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variables and config file lookup.
// Environment variables use the UNIFS_ prefix with underscores, for
// example UNIFS_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("UNIFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing
// file is acceptable; defaults apply.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path, preferring
// XDG_CONFIG_HOME over ~/.config.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "unifs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "unifs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
