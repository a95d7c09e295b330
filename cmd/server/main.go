package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scoutsite-backend/internal/api"
	"scoutsite-backend/internal/config"
	"scoutsite-backend/internal/content"
	"scoutsite-backend/internal/github"
	"scoutsite-backend/internal/metrics"
	"scoutsite-backend/internal/store"
)

var (
	// Set at build time with -ldflags.
	version = "dev"

	logLevel     string
	logFormat    string
	historyCount int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Content backend for the scouting site",
	Long: `server stores blog posts, downloadable files and image galleries in a
GitHub repository, committing every change atomically on one branch.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var historyCmd = &cobra.Command{
	Use:   "history [path]",
	Short: "Print recent commits of the content branch",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("server %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	historyCmd.Flags().IntVar(&historyCount, "count", 10, "number of commits to show")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := setupLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.RequireServe(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := github.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to authenticate with GitHub: %w", err)
	}

	journal, closeJournal, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeJournal()

	m := metrics.New()
	svc := content.NewService(cfg, client, journal, m, nil, logger)
	handler := api.NewHandler(cfg, svc, journal, m, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Router(),
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("content service listening", "addr", server.Addr, "repo", cfg.RepoKey())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down content service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return err
	}
	return nil
}

// openJournal uses Postgres when DATABASE_URL is set and memory otherwise.
func openJournal(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Journal, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not set, keeping the operation journal in memory")
		return store.NewMemoryStore(0), func() {}, nil
	}
	db, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create journal schema: %w", err)
	}
	return db, db.Close, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := setupLogger()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	client, err := github.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to authenticate with GitHub: %w", err)
	}

	var path string
	if len(args) == 1 {
		path = args[0]
	}
	svc := content.NewService(cfg, client, nil, nil, nil, logger)
	commits, err := svc.History(ctx, path, historyCount)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(commits)
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
