package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/unifs/pkg/filesystem"
	"github.com/marmos91/unifs/pkg/filesystem/badgerfs"
	"github.com/marmos91/unifs/pkg/filesystem/imapfs"
	"github.com/marmos91/unifs/pkg/filesystem/listener"
	"github.com/marmos91/unifs/pkg/filesystem/local"
	"github.com/marmos91/unifs/pkg/filesystem/memfs"
	"github.com/marmos91/unifs/pkg/filesystem/s3fs"
)

// CreateFileSystem creates a storage backend from configuration.
//
// The Type field selects the implementation; the matching type-specific
// map is decoded into the backend's own configuration struct and passed
// to its constructor. The returned backend is not yet opened.
func CreateFileSystem(cfg *FilesystemConfig) (filesystem.FileSystem, error) {
	switch cfg.Type {
	case "memory":
		return memfs.New(), nil
	case "local":
		return createLocalFileSystem(cfg.Local)
	case "s3":
		return createS3FileSystem(cfg.S3)
	case "badger":
		return createBadgerFileSystem(cfg.Badger)
	case "imap":
		return createIMAPFileSystem(cfg.IMAP)
	default:
		return nil, fmt.Errorf("unknown filesystem type: %q", cfg.Type)
	}
}

func createLocalFileSystem(options map[string]any) (filesystem.FileSystem, error) {
	type localConfig struct {
		Root string `mapstructure:"root"`
	}
	var fsCfg localConfig
	if err := mapstructure.Decode(options, &fsCfg); err != nil {
		return nil, fmt.Errorf("failed to decode local filesystem config: %w", err)
	}
	if fsCfg.Root == "" {
		return nil, fmt.Errorf("local filesystem: root is required")
	}
	return local.New(fsCfg.Root)
}

func createS3FileSystem(options map[string]any) (filesystem.FileSystem, error) {
	type s3Config struct {
		Bucket          string `mapstructure:"bucket"`
		Region          string `mapstructure:"region"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		KeyPrefix       string `mapstructure:"key_prefix"`
	}
	var fsCfg s3Config
	if err := mapstructure.Decode(options, &fsCfg); err != nil {
		return nil, fmt.Errorf("failed to decode s3 filesystem config: %w", err)
	}
	return s3fs.New(s3fs.Config{
		Bucket:          fsCfg.Bucket,
		Region:          fsCfg.Region,
		Endpoint:        fsCfg.Endpoint,
		AccessKeyID:     fsCfg.AccessKeyID,
		SecretAccessKey: fsCfg.SecretAccessKey,
		KeyPrefix:       fsCfg.KeyPrefix,
	})
}

func createBadgerFileSystem(options map[string]any) (filesystem.FileSystem, error) {
	type badgerConfig struct {
		Path     string `mapstructure:"path"`
		InMemory bool   `mapstructure:"in_memory"`
	}
	var fsCfg badgerConfig
	if err := mapstructure.Decode(options, &fsCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger filesystem config: %w", err)
	}
	return badgerfs.New(badgerfs.Config{
		Path:     fsCfg.Path,
		InMemory: fsCfg.InMemory,
	})
}

func createIMAPFileSystem(options map[string]any) (filesystem.FileSystem, error) {
	type imapConfig struct {
		Host        string `mapstructure:"host"`
		Port        int    `mapstructure:"port"`
		Username    string `mapstructure:"username"`
		Password    string `mapstructure:"password"`
		TLS         bool   `mapstructure:"tls"`
		DialTimeout string `mapstructure:"dial_timeout"`
		PoolMode    string `mapstructure:"pool_mode"`
		PoolSize    int    `mapstructure:"pool_size"`
	}
	var fsCfg imapConfig
	if err := mapstructure.Decode(options, &fsCfg); err != nil {
		return nil, fmt.Errorf("failed to decode imap filesystem config: %w", err)
	}
	cfg := imapfs.Config{
		Host:     fsCfg.Host,
		Port:     fsCfg.Port,
		Username: fsCfg.Username,
		Password: fsCfg.Password,
		TLS:      fsCfg.TLS,
		PoolMode: fsCfg.PoolMode,
		PoolSize: fsCfg.PoolSize,
	}
	if fsCfg.DialTimeout != "" {
		d, err := time.ParseDuration(fsCfg.DialTimeout)
		if err != nil {
			return nil, fmt.Errorf("imap filesystem: invalid dial_timeout: %w", err)
		}
		cfg.DialTimeout = d
	}
	return imapfs.New(cfg)
}

// CreateListener builds a listener over an already-created backend.
func CreateListener(fs filesystem.FileSystem, cfg *ListenerConfig) (*listener.Listener, error) {
	return listener.New(fs, listener.Config{
		InputFolder:       cfg.InputFolder,
		InProcessFolder:   cfg.InProcessFolder,
		ProcessedFolder:   cfg.ProcessedFolder,
		ErrorFolder:       cfg.ErrorFolder,
		HoldFolder:        cfg.HoldFolder,
		LogFolder:         cfg.LogFolder,
		CreateFolders:     cfg.CreateFolders,
		Delete:            cfg.Delete,
		Overwrite:         cfg.Overwrite,
		NumberOfBackups:   cfg.NumberOfBackups,
		FileTimeSensitive: cfg.FileTimeSensitive,
		MinStableTime:     cfg.MinStableTime,
		MessageType:       listener.MessageType(cfg.MessageType),
		MessageIDKey:      cfg.MessageIDKey,
	})
}
