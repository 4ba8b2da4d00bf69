package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/abstractor/internal/config"
	"github.com/ehr/abstractor/internal/domain/evaluation"
	"github.com/ehr/abstractor/internal/domain/metricconfig"
	"github.com/ehr/abstractor/internal/domain/narrative"
	"github.com/ehr/abstractor/internal/platform/db"
	"github.com/ehr/abstractor/internal/platform/payload"
	"github.com/ehr/abstractor/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "abstractor-server",
		Short:        "Case abstraction signal engine",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(evaluateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for this command")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func migrationsFS(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			to, _ := cmd.Flags().GetInt("to")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationsFS(dir)).UpTo(ctx, to)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Migrations directory (default: embedded)")
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies all)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsFS(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Migrations directory (default: embedded)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-8s %-32s %-8s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-8d %-32s %-8s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a metric bundle file into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			src, err := metricconfig.LoadFile(file)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			var n int
			err = db.InTx(ctx, pool, func(ctx context.Context) error {
				n, err = importBundle(ctx, metricconfig.NewRepo(pool), src.Bundle())
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d metric(s) from %s.\n", n, file)
			return nil
		},
	}
	cmd.Flags().String("file", "configs/metrics.yaml", "Metric bundle (YAML)")
	return cmd
}

// importBundle writes every specialty and metric in b. Callers wrap it in a
// transaction so a bad bundle leaves the store untouched.
func importBundle(ctx context.Context, repo metricconfig.Repository, b metricconfig.Bundle) (int, error) {
	for i := range b.Specialties {
		if err := repo.SaveSpecialty(ctx, &b.Specialties[i]); err != nil {
			return 0, err
		}
	}
	for i := range b.Metrics {
		if err := repo.Save(ctx, &b.Metrics[i]); err != nil {
			return i, err
		}
	}
	return len(b.Metrics), nil
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a metric bundle and rule file without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, _ := cmd.Flags().GetString("bundle")
			rules, _ := cmd.Flags().GetString("rules")

			src, err := metricconfig.LoadFile(bundle)
			if err != nil {
				return err
			}
			a, err := newApp(offlineConfig(rules), src, nil, nil, zerolog.Nop())
			if err != nil {
				return err
			}
			// rules that do not compile fall back to their family, so they
			// are reported but do not fail validation
			for _, p := range a.checkRules(cmd.Context()) {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d metric(s) OK\n", bundle, len(src.Bundle().Metrics))
			return nil
		},
	}
	cmd.Flags().String("bundle", "configs/metrics.yaml", "Metric bundle (YAML)")
	cmd.Flags().String("rules", "", "Time rule and alias file (YAML)")
	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a case file offline and print the report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, _ := cmd.Flags().GetString("bundle")
			rules, _ := cmd.Flags().GetString("rules")
			metricID, _ := cmd.Flags().GetString("metric")
			casePath, _ := cmd.Flags().GetString("case")
			if metricID == "" || casePath == "" {
				return fmt.Errorf("--metric and --case are required")
			}

			src, err := metricconfig.LoadFile(bundle)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(casePath)
			if err != nil {
				return fmt.Errorf("read case %s: %w", casePath, err)
			}
			req, err := readCase(data)
			if err != nil {
				return err
			}

			logger := zerolog.Nop()
			if v, _ := cmd.Flags().GetBool("verbose"); v {
				logger = newLogger("development")
			}
			a, err := newApp(offlineConfig(rules), src, nil, nil, logger)
			if err != nil {
				return err
			}
			rep, err := a.evaluation.Evaluate(cmd.Context(), metricID, req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	cmd.Flags().String("bundle", "configs/metrics.yaml", "Metric bundle (YAML)")
	cmd.Flags().String("rules", "", "Time rule and alias file (YAML)")
	cmd.Flags().String("metric", "", "Metric id")
	cmd.Flags().String("case", "", "Case JSON file")
	cmd.Flags().BoolP("verbose", "v", false, "Log evaluation events to stderr")
	return cmd
}

// offlineConfig is the configuration the file-only commands run with.
func offlineConfig(rulesFile string) *config.Config {
	return &config.Config{Env: "development", RulesFile: rulesFile, ProvenanceBuffer: 1}
}

// readCase accepts either a request body ({"payload": ..., "answers": ...})
// or a bare case payload.
func readCase(data []byte) (evaluation.Request, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return evaluation.Request{}, fmt.Errorf("parse case: %w", err)
	}
	if _, ok := probe["payload"]; ok {
		var req evaluation.Request
		if err := json.Unmarshal(data, &req); err != nil {
			return evaluation.Request{}, fmt.Errorf("parse case: %w", err)
		}
		return req, nil
	}
	p, err := payload.Parse(data)
	if err != nil {
		return evaluation.Request{}, err
	}
	return evaluation.Request{Payload: p}, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	var (
		src    metricconfig.Source
		repo   metricconfig.Repository
		health = db.HealthHandler(nil, nil)
	)
	if cfg.Store() == "postgres" {
		pool, err := openPool(ctx, cfg)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to database")
			return err
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		repo = metricconfig.NewRepo(pool)
		src = repo
		health = db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) })
	} else {
		file, err := metricconfig.LoadFile(cfg.MetricsFile)
		if err != nil {
			logger.Error().Err(err).Msg("failed to load metric bundle")
			return err
		}
		src = file
		logger.Info().Str("file", cfg.MetricsFile).Msg("serving metric bundle from file")
	}

	var gen narrative.Generator
	if cfg.NarrativeEnabled() {
		gen = narrative.NewClaudeGenerator(cfg.AnthropicAPIKey, cfg.AnthropicModel, logger)
	} else {
		logger.Info().Msg("ANTHROPIC_API_KEY not set; narrative endpoint disabled")
	}

	a, err := newApp(cfg, src, repo, gen, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build engine")
		return err
	}
	for _, p := range a.checkRules(ctx) {
		logger.Warn().Msg(p)
	}
	e := a.router(cfg, logger, health)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.Store()).Msg("starting server")
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
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
