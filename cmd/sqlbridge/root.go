package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tomyedwab/sqlbridge/config"
	"github.com/tomyedwab/sqlbridge/logging"
	"github.com/tomyedwab/sqlbridge/sqlbridge/client"
	"github.com/tomyedwab/sqlbridge/sqlbridge/host"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "sqlbridge",
	Short:         "Serve a SQLite database to sandboxed callers",
	Long:          `sqlbridge owns one SQLite connection and answers open, query and exec requests from a WASM guest, an HTTP client or a line-delimited JSON stream.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")
}

// loadConfig reads the config file and applies the persistent flags.
func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, logger, nil
}

// runningBridge is a Bridge with its serve loop started.
type runningBridge struct {
	*host.Bridge
	cancel context.CancelFunc
	done   chan struct{}
}

// startBridge starts the serve loop and, when the config names one, opens
// the database before any caller connects.
func startBridge(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*runningBridge, error) {
	b := host.New(host.Options{MaxResultChars: cfg.Bridge.MaxResultChars, Logger: logger})
	ctx, cancel := context.WithCancel(ctx)
	rb := &runningBridge{Bridge: b, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(rb.done)
		if err := b.Serve(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("Bridge stopped")
		}
	}()

	if cfg.Database.Path != "" {
		if err := rb.client(ctx).Open(cfg.Database.Path, cfg.Database.Create); err != nil {
			rb.stop()
			return nil, fmt.Errorf("open %s: %w", cfg.Database.Path, err)
		}
		logger.Info().Str("path", cfg.Database.Path).Msg("Database opened")
	}
	return rb, nil
}

func (rb *runningBridge) client(ctx context.Context) *client.Client {
	return client.New(func(req []byte) ([]byte, error) {
		return rb.HandleRequest(ctx, req)
	})
}

// stop ends the serve loop, which closes any open database.
func (rb *runningBridge) stop() {
	rb.cancel()
	<-rb.done
}
