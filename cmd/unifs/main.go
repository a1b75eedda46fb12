package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marmos91/unifs/internal/logger"
	"github.com/marmos91/unifs/pkg/config"
	"github.com/marmos91/unifs/pkg/filesystem"
	"github.com/marmos91/unifs/pkg/filesystem/listener"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "Override log level (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := setupLogging(&cfg.Logging); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("unifs - uniform storage access layer")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	// Create and open the configured backends
	filesystems := make(map[string]filesystem.FileSystem, len(cfg.Filesystems))
	for i := range cfg.Filesystems {
		fsCfg := &cfg.Filesystems[i]
		fs, err := config.CreateFileSystem(fsCfg)
		if err != nil {
			log.Fatalf("Failed to create filesystem %q: %v", fsCfg.Name, err)
		}
		if err := fs.Open(ctx); err != nil {
			log.Fatalf("Failed to open filesystem %q: %v", fsCfg.Name, err)
		}
		filesystems[fsCfg.Name] = fs
		logger.Info("Filesystem %q ready (type %s)", fsCfg.Name, fsCfg.Type)
	}
	defer closeFilesystems(filesystems, cfg.Server.ShutdownTimeout)

	// Create listeners and schedule their poll loops
	scheduler := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	for i := range cfg.Listeners {
		lCfg := &cfg.Listeners[i]
		l, err := config.CreateListener(filesystems[lCfg.Filesystem], lCfg)
		if err != nil {
			log.Fatalf("Failed to create listener %q: %v", lCfg.Name, err)
		}
		if err := l.Open(ctx); err != nil {
			log.Fatalf("Failed to open listener %q: %v", lCfg.Name, err)
		}

		name := lCfg.Name
		if _, err := scheduler.AddFunc(lCfg.PollSchedule, func() {
			pollOnce(ctx, name, l)
		}); err != nil {
			log.Fatalf("Failed to schedule listener %q: %v", name, err)
		}
		logger.Info("Listener %q polling %q on schedule %q", name, lCfg.InputFolder, lCfg.PollSchedule)
	}

	scheduler.Start()
	logger.Info("Running with %d filesystem(s) and %d listener(s). Press Ctrl+C to stop.",
		len(filesystems), len(cfg.Listeners))

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, initiating graceful shutdown...")
	cancel()

	// Let in-flight poll cycles finish, bounded by the shutdown timeout
	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
		logger.Info("All poll cycles stopped")
	case <-time.After(cfg.Server.ShutdownTimeout):
		logger.Warn("Shutdown timeout exceeded, abandoning running poll cycles")
	}
}

// pollOnce drains the listener's input folder. Every claimed file is
// routed to DONE; failures route the file to ERROR. A file that a
// state change leaves in place ends the cycle, otherwise the drain
// loop would claim it again immediately.
func pollOnce(ctx context.Context, name string, l *listener.Listener) {
	for ctx.Err() == nil {
		msg, err := l.GetRawMessage(ctx)
		if err != nil {
			logger.Warn("[%s] poll failed: %v", name, err)
			return
		}
		if msg == nil {
			return
		}
		logger.Info("[%s] picked up %q (id %s)", name, msg.OriginalName, msg.ID)

		moved, err := l.ChangeProcessState(ctx, msg, listener.StateDone)
		if err != nil {
			logger.Warn("[%s] finishing %q failed: %v", name, msg.OriginalName, err)
			routed, errErr := l.ChangeProcessState(ctx, msg, listener.StateError)
			if errErr != nil {
				logger.Error("[%s] routing %q to error folder failed: %v", name, msg.OriginalName, errErr)
				return
			}
			if !routed {
				logger.Warn("[%s] %q stayed in the input folder, ending cycle", name, msg.OriginalName)
				return
			}
			continue
		}
		if !moved {
			logger.Warn("[%s] %q stayed in the input folder, ending cycle", name, msg.OriginalName)
			return
		}
	}
}

// setupLogging applies the logging section: level plus output target.
func setupLogging(cfg *config.LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	switch cfg.Output {
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
		}
		logger.SetOutput(f)
	}
	return nil
}

func closeFilesystems(filesystems map[string]filesystem.FileSystem, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for name, fs := range filesystems {
		if err := fs.Close(ctx); err != nil {
			logger.Error("Failed to close filesystem %q: %v", name, err)
		}
	}
}
