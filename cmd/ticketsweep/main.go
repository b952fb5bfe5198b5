package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/clubstay/internal/dbconn"
	"github.com/MarkoPoloResearchLab/clubstay/internal/oplog"
	"github.com/MarkoPoloResearchLab/clubstay/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/clubstay/pkg/ticketing"
)

const (
	flagDatabaseURL      = "database-url"
	flagSweepInterval    = "interval"
	configKeyDatabaseURL = "database_url"
	configKeyInterval    = "interval"
	defaultDatabaseURL   = "sqlite:///tmp/clubstay.db"
)

type runtimeConfig struct {
	DatabaseURL string
	Interval    time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ticketsweep: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "ticketsweep",
		Short:         "Flips expired pending ticket orders and frees their holds",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSweep(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().Duration(flagSweepInterval, 0, "rerun the sweep on this interval; zero sweeps once")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv(configKeyDatabaseURL, "DATABASE_URL"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyInterval, "SWEEP_INTERVAL"); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyInterval, cmd.Flags().Lookup(flagSweepInterval)); err != nil {
		return err
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.Interval = viper.GetDuration(configKeyInterval)
	return nil
}

func runSweep(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := dbconn.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := dbconn.PrepareSchema(gormDB, driver); err != nil {
		return err
	}

	service, err := ticketing.NewService(
		gormstore.NewTicketStore(gormDB),
		func() time.Time { return time.Now().UTC() },
		ticketing.WithOperationLogger(oplog.NewTicketLogger(logger)),
	)
	if err != nil {
		return fmt.Errorf("ticketing service init: %w", err)
	}

	sweepOnce := func() error {
		swept, err := service.SweepExpired(ctx)
		if err != nil {
			return err
		}
		logger.Info("sweep finished", zap.Int64("expired_orders", swept))
		return nil
	}

	if err := sweepOnce(); err != nil {
		return err
	}
	if cfg.Interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := sweepOnce(); err != nil {
				logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}
