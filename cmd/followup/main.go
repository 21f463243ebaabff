package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chw/followup/internal/config"
	"github.com/chw/followup/internal/domain/followup"
	"github.com/chw/followup/internal/platform/db"
	"github.com/chw/followup/internal/platform/export"
	"github.com/chw/followup/internal/platform/feed"
	"github.com/chw/followup/internal/platform/middleware"
	"github.com/chw/followup/internal/platform/refresh"
	"github.com/chw/followup/internal/platform/reporting"
	"github.com/chw/followup/internal/platform/resultcache"
)

const runHistory = 50

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "followup",
		Short:        "Community health worker visit follow-up reconciliation",
		SilenceUsage: true,
	}

	root.AddCommand(reconcileCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(feedsCmd())
	return root
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func reconcileCmd() *cobra.Command {
	var (
		registrations string
		completions   string
		activeWorkers string
		vocabulary    string
		referenceDate string
		out           string
		xlsx          string
		pretty        bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile feed files once and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			override(&cfg.RegistrationsPath, registrations)
			override(&cfg.CompletionsPath, completions)
			override(&cfg.ActiveWorkersPath, activeWorkers)
			override(&cfg.VocabularyPath, vocabulary)
			override(&cfg.ReferenceDate, referenceDate)

			logger := newLogger(cfg, cmd.ErrOrStderr())
			ref, err := cfg.Reference()
			if err != nil {
				return err
			}
			vocab, err := cfg.Vocabulary()
			if err != nil {
				return err
			}

			src := &feed.FileSource{
				RegistrationsPath: cfg.RegistrationsPath,
				CompletionsPath:   cfg.CompletionsPath,
				ActiveWorkersPath: cfg.ActiveWorkersPath,
				Logger:            logger,
			}
			bundle, err := src.Load(cmd.Context())
			if err != nil {
				return err
			}

			engine := followup.NewEngine(vocab, cfg.EngineOptions(), logger)
			res := engine.Run(bundle.Input(ref))

			if err := writeResult(cmd.OutOrStdout(), out, res, pretty); err != nil {
				return err
			}
			if xlsx != "" {
				data, err := export.Workbook(res)
				if err != nil {
					return err
				}
				if err := os.WriteFile(xlsx, data, 0o644); err != nil {
					return fmt.Errorf("write workbook: %w", err)
				}
				logger.Info().Str("path", xlsx).Msg("workbook written")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&registrations, "registrations", "", "Registration feed file (JSON array or NDJSON)")
	cmd.Flags().StringVar(&completions, "completions", "", "Completion feed file (JSON array or NDJSON)")
	cmd.Flags().StringVar(&activeWorkers, "active-workers", "", "Active worker allowlist file")
	cmd.Flags().StringVar(&vocabulary, "vocabulary", "", "Visit type vocabulary YAML (default: built in)")
	cmd.Flags().StringVar(&referenceDate, "reference-date", "", "Reference date YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&out, "out", "", "Write the JSON result to this file instead of stdout")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "Also write an xlsx workbook to this file")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON output")
	return cmd
}

func override(dst *string, flag string) {
	if flag != "" {
		*dst = flag
	}
}

func writeResult(stdout io.Writer, path string, res *followup.Result, pretty bool) error {
	w := stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the follow-up API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg, os.Stdout))
		},
	}
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	vocab, err := cfg.Vocabulary()
	if err != nil {
		return err
	}

	// Database (optional)
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}

	var src feed.Source
	switch cfg.FeedSource {
	case config.FeedSourcePostgres:
		src = feed.NewPGSource(pool, logger)
	default:
		src = &feed.FileSource{
			RegistrationsPath: cfg.RegistrationsPath,
			CompletionsPath:   cfg.CompletionsPath,
			ActiveWorkersPath: cfg.ActiveWorkersPath,
			Logger:            logger,
		}
	}

	var runs reporting.RunRepository = reporting.NewMemoryRunRepository(runHistory)
	if pool != nil {
		runs = reporting.NewPGRunRepository(pool)
	}

	var opts []reporting.ServiceOption
	if cfg.RedisURL != "" {
		client, err := resultcache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer client.Close()
		opts = append(opts, reporting.WithCache(resultcache.New(resultcache.NewRedisKVStore(client), cfg.ResultCacheTTL)))
		logger.Info().Dur("ttl", cfg.ResultCacheTTL).Msg("result cache enabled")
	}

	engine := followup.NewEngine(vocab, cfg.EngineOptions(), logger)
	svc := reporting.NewService(engine, src, runs, logger, opts...)

	if cfg.RefreshSchedule != "" {
		sched := refresh.NewScheduler(svc, cfg.RefreshSchedule, logger)
		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()
		if _, err := sched.RunNow(ctx); err != nil {
			logger.Warn().Err(err).Msg("initial followup refresh failed")
		}
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())

	if pool != nil {
		e.GET("/health", db.HealthHandler(pool))
	} else {
		e.GET("/health", db.HealthHandler(nil))
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	reporting.NewHandler(svc).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, db.EmbeddedMigrations()).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, db.EmbeddedMigrations()).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})
	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func feedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "Manage stored feed snapshots",
	}

	var registrations, completions, activeWorkers string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Load feed files into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			override(&cfg.RegistrationsPath, registrations)
			override(&cfg.CompletionsPath, completions)
			override(&cfg.ActiveWorkersPath, activeWorkers)
			logger := newLogger(cfg, cmd.ErrOrStderr())

			src := &feed.FileSource{
				RegistrationsPath: cfg.RegistrationsPath,
				CompletionsPath:   cfg.CompletionsPath,
				ActiveWorkersPath: cfg.ActiveWorkersPath,
				Logger:            logger,
			}
			bundle, err := src.Load(ctx)
			if err != nil {
				return err
			}

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			stats, err := feed.NewPGWriter(pool).Import(ctx, bundle)
			if err != nil {
				return fmt.Errorf("import feeds: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d registration(s), %d completion(s), %d active worker(s).\n",
				stats.Registrations, stats.Completions, stats.ActiveWorkers)
			return nil
		},
	}
	importCmd.Flags().StringVar(&registrations, "registrations", "", "Registration feed file")
	importCmd.Flags().StringVar(&completions, "completions", "", "Completion feed file")
	importCmd.Flags().StringVar(&activeWorkers, "active-workers", "", "Active worker allowlist file")
	cmd.AddCommand(importCmd)
	return cmd
}
