package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/sqlbridge/transport/httpapi"
	"github.com/tomyedwab/sqlbridge/transport/lines"
	"github.com/tomyedwab/sqlbridge/wasi/host"
)

var (
	dbPath   string
	dbCreate bool
	modPath  string
	httpAddr string
)

var serveWasmCmd = &cobra.Command{
	Use:   "serve-wasm [-- guest args...]",
	Short: "Run a WASM guest with access to the bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		applyDBFlags(cmd, &cfg.Database.Path, &cfg.Database.Create)
		if cmd.Flags().Changed("module") {
			cfg.Wasm.Module = modPath
		}
		if cfg.Wasm.Module == "" {
			return errors.New("no guest module given; pass --module or set wasm.module")
		}
		wasm, err := os.ReadFile(cfg.Wasm.Module)
		if err != nil {
			return fmt.Errorf("read guest module: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rb, err := startBridge(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rb.stop()

		runner, err := host.NewRunner(ctx, rb, logger)
		if err != nil {
			return err
		}
		defer runner.Close(context.Background())

		return runner.Run(ctx, wasm, host.RunOptions{
			Name:   cfg.Wasm.Module,
			Args:   args,
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
		})
	},
}

var serveHTTPCmd = &cobra.Command{
	Use:   "serve-http",
	Short: "Serve bridge calls over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		applyDBFlags(cmd, &cfg.Database.Path, &cfg.Database.Create)
		if cmd.Flags().Changed("addr") {
			cfg.HTTP.Addr = httpAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rb, err := startBridge(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rb.stop()

		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           httpapi.NewRouter(rb, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		logger.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var pipeCmd = &cobra.Command{
	Use:   "pipe",
	Short: "Answer newline-delimited JSON requests on stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		applyDBFlags(cmd, &cfg.Database.Path, &cfg.Database.Create)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rb, err := startBridge(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rb.stop()

		return lines.Serve(ctx, rb, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
	},
}

func addDBFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&dbPath, "db", "", "database to open at start; overrides database.path")
	cmd.Flags().BoolVar(&dbCreate, "create", false, "create the database file if it does not exist")
}

func applyDBFlags(cmd *cobra.Command, path *string, create *bool) {
	if cmd.Flags().Changed("db") {
		*path = dbPath
	}
	if cmd.Flags().Changed("create") {
		*create = dbCreate
	}
}

func init() {
	serveWasmCmd.Flags().StringVar(&modPath, "module", "", "guest module to run; overrides wasm.module")
	serveHTTPCmd.Flags().StringVar(&httpAddr, "addr", "", "listen address; overrides http.addr")
	for _, c := range []*cobra.Command{serveWasmCmd, serveHTTPCmd, pipeCmd} {
		addDBFlags(c)
		rootCmd.AddCommand(c)
	}
}
