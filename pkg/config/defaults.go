package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Called after loading from file and environment, before
// validation.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by backend constructors
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	for i := range cfg.Filesystems {
		applyFilesystemDefaults(&cfg.Filesystems[i])
	}
	for i := range cfg.Listeners {
		applyListenerDefaults(&cfg.Listeners[i])
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyFilesystemDefaults(cfg *FilesystemConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Local == nil {
		cfg.Local = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.IMAP == nil {
		cfg.IMAP = make(map[string]any)
	}
}

func applyListenerDefaults(cfg *ListenerConfig) {
	if cfg.PollSchedule == "" {
		// Every 30 seconds; the leading field is seconds.
		cfg.PollSchedule = "*/30 * * * * *"
	}
	if cfg.MessageType == "" {
		cfg.MessageType = "name"
	}
	if cfg.MinStableTime == 0 {
		cfg.MinStableTime = time.Second
	}
}
