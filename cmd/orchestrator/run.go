package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/advisor"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/checkout"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/config"
	amqpdelivery "github.com/Harsh-BH/Sentinel/orchestrator/internal/delivery/amqp"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/executor"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/ledger"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/llm"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/monitor"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/pool"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/remediation"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/report"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/repository"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/repository/file"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/repository/postgres"
	redisrepo "github.com/Harsh-BH/Sentinel/orchestrator/internal/repository/redis"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/shutdown"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/stuck"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/usecase"
)

// Files written under output-dir.
const (
	stuckLogFile     = "stuck-jobs.jsonl"
	stuckSummaryFile = "stuck-jobs.txt"
	diagnosesFile    = "diagnoses.jsonl"
	summaryFile      = "summary.md"
	remediationsFile = "remediations.json"
)

func newRunCmd(v *viper.Viper, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan every listed repository with every configured scanner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(v, *configFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			code, err := run(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("Run failed", zap.Error(err))
				return &exitError{code: 1, err: err}
			}
			if code != 0 {
				return &exitError{code: code, err: fmt.Errorf("run finished with exit code %d", code)}
			}
			return nil
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// run wires one batch run and returns its exit code: 0 when every job
// reached a terminal state, 1 after a fail-fast stop, 130 when interrupted.
func run(parent context.Context, cfg *config.Config, logger *zap.Logger) (int, error) {
	started := time.Now()
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))
	logger.Info("Starting scan orchestrator",
		zap.Int("max_workers", cfg.Orchestrator.MaxWorkers),
		zap.Duration("repo_timeout", cfg.Orchestrator.RepoTimeout),
		zap.Duration("scanner_timeout", cfg.Orchestrator.ScannerTimeout),
		zap.Bool("override_scan", cfg.Orchestrator.OverrideScan),
	)

	outDir := cfg.Paths.OutputDir
	for _, dir := range []string{outDir, filepath.Dir(cfg.Paths.LedgerPath), cfg.Paths.WorkDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 1, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	// State
	led, err := ledger.Open(cfg.Paths.LedgerPath, logger)
	if err != nil {
		return 1, err
	}
	if len(cfg.Orchestrator.Quarantine) > 0 {
		if err := led.Quarantine(cfg.Orchestrator.Quarantine...); err != nil {
			return 1, err
		}
	}
	remediations, err := remediation.Open(
		filepath.Join(filepath.Dir(cfg.Paths.LedgerPath), remediationsFile),
		remediation.Limits{MaxStepTimeout: cfg.AI.MaxTimeout},
		logger,
	)
	if err != nil {
		return 1, err
	}

	// Inputs
	repos, err := file.NewLister(cfg.Paths.ReposFile).List(parent)
	if err != nil {
		return 1, err
	}
	scanners, err := file.LoadScanners(cfg.Paths.ScannersFile)
	if err != nil {
		return 1, err
	}
	logger.Info("Inputs loaded", zap.Int("repositories", len(repos)), zap.Int("scanners", len(scanners)))

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Shutdown
	token := shutdown.NewToken()
	registry := shutdown.NewRegistry(executor.KillGroup)
	coordinator := shutdown.NewCoordinator(token, registry, cancel, cfg.Orchestrator.ShutdownGrace, logger)

	// Supervision
	sampler, err := monitor.NewProcSampler()
	if err != nil {
		return 1, err
	}
	runner := executor.NewRunner(sampler, registry, executor.Options{
		MinCPUThreshold: cfg.Orchestrator.MinCPUThreshold,
		MaxOutputBytes:  cfg.Orchestrator.MaxOutputBytes,
		KillWait:        cfg.Orchestrator.KillWait,
	}, logger)

	reports := report.NewWriter(outDir)
	handler := stuck.NewHandler(
		filepath.Join(outDir, stuckLogFile),
		filepath.Join(outDir, stuckSummaryFile),
		executor.KillGroup,
		reports,
		logger,
	)

	// Optional backends
	var sink repository.ReportSink
	if cfg.Database.URL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return 1, fmt.Errorf("connect postgres: %w", err)
		}
		defer dbPool.Close()
		if err := dbPool.Ping(ctx); err != nil {
			return 1, fmt.Errorf("ping postgres: %w", err)
		}
		if err := postgres.Migrate(ctx, dbPool); err != nil {
			return 1, err
		}
		sink = postgres.NewPostgresReportRepository(dbPool)
		logger.Info("Connected to PostgreSQL")
	}

	var claims repository.ClaimStore
	if cfg.Redis.URL != "" {
		redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return 1, fmt.Errorf("invalid redis url: %w", err)
		}
		redisClient := goredis.NewClient(redisOpts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return 1, fmt.Errorf("ping redis: %w", err)
		}
		host, _ := os.Hostname()
		claims = redisrepo.NewRedisClaimStore(redisClient, host+"/"+runID, cfg.Redis.ClaimTTL)
		logger.Info("Connected to Redis")
	}

	var publisher repository.EventPublisher
	if cfg.RabbitMQ.URL != "" {
		pub, err := amqpdelivery.NewPublisher(cfg.RabbitMQ.URL, logger)
		if err != nil {
			return 1, err
		}
		defer pub.Close()
		publisher = pub
		logger.Info("Connected to RabbitMQ")
	}

	var diagnoser *advisor.Worker
	if cfg.AI.Enabled {
		client, err := llm.New(ctx, cfg.AI)
		if err != nil {
			// Diagnosis is optional; the scan goes ahead without it.
			logger.Warn("AI advisor disabled", zap.Error(err))
		} else {
			adv := advisor.New(
				client,
				llm.NewTokenCounter(),
				advisor.NewBudget(cfg.AI.MaxTokens, cfg.AI.MaxCostUSD, cfg.AI.CostPerMTokenUSD),
				remediations,
				advisor.Options{
					AutoRemediate:   cfg.AI.AutoRemediate,
					MaxPromptTokens: cfg.AI.MaxPromptTokens,
					LogPath:         filepath.Join(outDir, diagnosesFile),
				},
				logger,
			)
			diagnoser = advisor.NewWorker(adv, 0, logger)
			handler.OnEntry = diagnoser.Submit
		}
	}

	rc := &usecase.RunContext{Token: token, Ledger: led, Config: cfg}
	session := usecase.NewScanSession(rc, usecase.SessionDeps{
		Runner:       runner,
		Checkout:     checkout.NewGitCheckout(checkout.DefaultProfileFiles, logger),
		Handler:      handler,
		Reports:      reports,
		Sink:         sink,
		Claims:       claims,
		Remediations: remediations,
	}, logger)
	workerPool := pool.NewWorkerPool(rc, session, handler, publisher, runID, logger)

	jobs := make([]*domain.RepositoryJob, 0, len(repos))
	for _, r := range repos {
		jobs = append(jobs, domain.NewRepositoryJob(r, scanners))
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	var (
		stats  domain.Stats
		runErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		coordinator.Listen(gctx)
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("Metrics server listening", zap.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", zap.Error(err))
			}
			return nil
		})
	}
	if diagnoser != nil {
		g.Go(func() error { return diagnoser.Run(ctx) })
	}
	g.Go(func() error {
		defer func() {
			coordinator.Finished()
			if diagnoser != nil {
				diagnoser.Close()
			}
			if metricsSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}
		}()
		stats, runErr = workerPool.Run(ctx, jobs)
		return nil
	})
	_ = g.Wait()

	interrupted := token.Requested()
	summary := report.Summary{
		RunID:       runID,
		StartedAt:   started,
		FinishedAt:  time.Now(),
		Stats:       stats,
		Entries:     handler.Entries(),
		Interrupted: interrupted,
		FailFast:    errors.Is(runErr, pool.ErrFailFast),
	}
	summaryPath := filepath.Join(outDir, summaryFile)
	if err := report.WriteSummary(summaryPath, summary); err != nil {
		logger.Error("Failed to write run summary", zap.Error(err))
	}

	logger.Info("Run finished",
		zap.Int("completed", stats.Completed),
		zap.Int("timed_out", stats.TimedOut),
		zap.Int("error", stats.Errored),
		zap.Int("skipped", stats.Skipped),
		zap.Int("interrupted", stats.Interrupted),
		zap.String("summary", summaryPath),
		zap.Duration("duration", time.Since(started)),
	)

	switch {
	case interrupted:
		return shutdown.ExitInterrupted, nil
	case summary.FailFast:
		logger.Warn("Run stopped early", zap.Error(runErr))
		return 1, nil
	}
	return 0, nil
}
