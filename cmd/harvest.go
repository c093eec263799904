package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hemdata/listingharvester/internal/api"
	"github.com/hemdata/listingharvester/internal/clock/system"
	"github.com/hemdata/listingharvester/internal/config"
	"github.com/hemdata/listingharvester/internal/fetcher/collyfetch"
	"github.com/hemdata/listingharvester/internal/harvest"
	"github.com/hemdata/listingharvester/internal/logging"
	"github.com/hemdata/listingharvester/internal/metrics"
	"github.com/hemdata/listingharvester/internal/parser/booli"
	"github.com/hemdata/listingharvester/internal/policy/ratelimit"
	"github.com/hemdata/listingharvester/internal/store/coverage"
	"github.com/hemdata/listingharvester/internal/store/recordstore"
)

// newHarvestCmd creates and configures the 'harvest' subcommand, which
// runs one bounded harvesting pass.
func newHarvestCmd() *cobra.Command {
	var (
		duration    time.Duration
		maxRequests int
	)

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Runs one bounded harvesting pass",
		Long: `Opens the record store, plans the calendar dates still needing a
crawl pass, and harvests listings until the duration budget expires or
every planned date is covered. Safe to interrupt: the in-flight write
always completes before the process exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("duration") {
				cfg.Harvest.RunDuration = duration
			}
			if cmd.Flags().Changed("max-requests") {
				cfg.Rate.MaxRequests = maxRequests
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runHarvest(cmd.Context(), cfg)
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "run duration budget (overrides config)")
	cmd.Flags().IntVarP(&maxRequests, "max-requests", "r", 0, "max requests per rate window (overrides config)")

	return cmd
}

func runHarvest(parent context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	// A termination signal cancels the run; the store's signal-deferred
	// writes keep the in-flight record intact regardless.
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var server *api.Server
	if cfg.Metrics.Enabled {
		server = api.New(cfg.Metrics.ListenAddr, logger)
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", zap.Error(err))
			}
		}()
	}

	tracker, err := coverage.Open(cfg.Harvest.DataDir, logger)
	if err != nil {
		return fmt.Errorf("open coverage tracker: %w", err)
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			logger.Warn("closing coverage tracker failed", zap.Error(err))
		}
	}()

	store, err := recordstore.Open(cfg.Harvest.DataDir, logger)
	if err != nil {
		if errors.Is(err, recordstore.ErrLocked) {
			return fmt.Errorf("another harvester session owns %s: %w", cfg.Harvest.DataDir, err)
		}
		return fmt.Errorf("open record store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing record store failed", zap.Error(err))
		}
	}()

	limiter := ratelimit.New(ratelimit.Config{
		Capacity: cfg.Rate.MaxRequests,
		Window:   cfg.Rate.Window,
		MaxDelay: cfg.Rate.MaxDelay,
	})

	fetcher, err := collyfetch.New(collyfetch.Config{
		BaseURL:     cfg.Harvest.BaseURL,
		UserAgent:   cfg.Harvest.UserAgent,
		Timeout:     cfg.HTTP.Timeout,
		MaxAttempts: cfg.HTTP.MaxAttempts,
		RetryDelay:  cfg.HTTP.RetryDelay,
	}, limiter, logger)
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}

	engine := harvest.NewEngine(
		harvest.Config{
			BackStopDate: cfg.BackStop(),
			RunBudget:    cfg.Harvest.RunDuration,
		},
		fetcher,
		booli.NewSource(),
		booli.NewParser(),
		store,
		tracker,
		system.New(),
		logger,
	)

	logger.Info("starting harvest",
		zap.String("data_dir", cfg.Harvest.DataDir),
		zap.String("back_stop_date", cfg.Harvest.BackStopDate),
		zap.Duration("run_budget", cfg.Harvest.RunDuration),
		zap.Int("known_endpoints", store.Len()),
		zap.Int("covered_dates", tracker.Len()),
	)

	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run harvest: %w", err)
	}
	return nil
}
