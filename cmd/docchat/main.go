package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dream-ai/docchat/config"
	"github.com/dream-ai/docchat/internal/db"
	"github.com/dream-ai/docchat/internal/server"
	"github.com/dream-ai/docchat/internal/watcher"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "docchat",
		Short:   "Chat with your documents",
		Long:    "docchat indexes uploaded documents and answers questions about them over HTTP.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.docchat/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(watchCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

// loadConfig loads the config and swaps in the configured logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFrom(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	logger = newLogger(cfg)
	slog.SetDefault(logger)
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			logger.Info("initialized", "config", path)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			a, err := buildApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(server.Config{
				Addr:              cfg.Server.Addr,
				MaxUploadSize:     cfg.Processing.MaxFileSize,
				ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
				ShutdownTimeout:   cfg.Server.ShutdownTimeout,
				Logger:            logger,
			}, a.ingest, a.orch)

			var w *watcher.Watcher
			if watch {
				if w, err = newWatcher(cfg, a); err != nil {
					return err
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			if w != nil {
				g.Go(func() error { return w.Run(gctx) })
			}
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "also ingest files dropped into paths.documents_dir")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			database, err := db.New(ctx, cfg.Database.ConnectionString, cfg.Database.MaxConns)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.Migrate(ctx, cfg.Database.Dimensions); err != nil {
				return err
			}
			logger.Info("migrations completed", "dimensions", cfg.Database.Dimensions)
			return nil
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Index files from disk",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			a, err := buildApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var failed int
			for _, path := range args {
				f, changed, err := a.ingest.IngestPath(ctx, path)
				if err != nil {
					failed++
					logger.Error("ingest failed", "path", path, "error", err)
					continue
				}
				if !changed {
					fmt.Fprintf(cmd.OutOrStdout(), "unchanged  %s  %s\n", f.ID, f.Filename)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed    %s  %s  (%d chunks)\n", f.ID, f.Filename, f.ChunkCount)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep paths.documents_dir indexed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			a, err := buildApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := newWatcher(cfg, a)
			if err != nil {
				return err
			}
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newWatcher(cfg *config.Config, a *app) (*watcher.Watcher, error) {
	dir, err := filepath.Abs(cfg.Paths.DocumentsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve documents dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create documents dir: %w", err)
	}
	return watcher.New(dir, a.ingest, 0, logger), nil
}
