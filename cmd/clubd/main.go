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
	"github.com/MarkoPoloResearchLab/clubstay/internal/httpserver"
	"github.com/MarkoPoloResearchLab/clubstay/internal/notify"
	"github.com/MarkoPoloResearchLab/clubstay/internal/oplog"
	"github.com/MarkoPoloResearchLab/clubstay/internal/payments"
	"github.com/MarkoPoloResearchLab/clubstay/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/clubstay/pkg/booking"
	"github.com/MarkoPoloResearchLab/clubstay/pkg/ticketing"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagAllowedOrigins    = "allowed-origins"
	flagSessionSigningKey = "session-signing-key"
	flagSessionIssuer     = "session-issuer"
	flagSessionCookie     = "session-cookie"
	flagCancelCutoffHour  = "cancel-cutoff-hour"
	flagHoldTTL           = "hold-ttl"

	configKeyDatabaseURL       = "database_url"
	configKeyListenAddr        = "listen_addr"
	configKeyAllowedOrigins    = "allowed_origins"
	configKeySessionSigningKey = "session_signing_key"
	configKeySessionIssuer     = "session_issuer"
	configKeySessionCookie     = "session_cookie"
	configKeyCancelCutoffHour  = "cancel_cutoff_hour"
	configKeyHoldTTL           = "hold_ttl"

	defaultDatabaseURL = "sqlite:///tmp/clubstay.db"
	defaultListenAddr  = ":9090"
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	AllowedOrigins    string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookie     string
	CancelCutoffHour  int
	HoldTTL           time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "clubd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "clubd",
		Short:         "Booking and ticket-order lifecycle server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-delimited CORS origins")
	cmd.Flags().String(flagSessionSigningKey, "", "tauth session signing key")
	cmd.Flags().String(flagSessionIssuer, "", "tauth session issuer")
	cmd.Flags().String(flagSessionCookie, "", "tauth session cookie name")
	cmd.Flags().Int(flagCancelCutoffHour, booking.DefaultCancelCutoffHour, "property-local hour past which same-day cancellation closes")
	cmd.Flags().Duration(flagHoldTTL, ticketing.DefaultHoldTTL, "pending ticket-order hold duration")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:       "DATABASE_URL",
		configKeyListenAddr:        "LISTEN_ADDR",
		configKeyAllowedOrigins:    "ALLOWED_ORIGINS",
		configKeySessionSigningKey: "SESSION_SIGNING_KEY",
		configKeySessionIssuer:     "SESSION_ISSUER",
		configKeySessionCookie:     "SESSION_COOKIE",
		configKeyCancelCutoffHour:  "CANCEL_CUTOFF_HOUR",
		configKeyHoldTTL:           "HOLD_TTL",
	}
	for configKey, envName := range bindings {
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
	}
	flags := map[string]string{
		configKeyDatabaseURL:       flagDatabaseURL,
		configKeyListenAddr:        flagListenAddr,
		configKeyAllowedOrigins:    flagAllowedOrigins,
		configKeySessionSigningKey: flagSessionSigningKey,
		configKeySessionIssuer:     flagSessionIssuer,
		configKeySessionCookie:     flagSessionCookie,
		configKeyCancelCutoffHour:  flagCancelCutoffHour,
		configKeyHoldTTL:           flagHoldTTL,
	}
	for configKey, flagName := range flags {
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.SessionSigningKey = viper.GetString(configKeySessionSigningKey)
	cfg.SessionIssuer = viper.GetString(configKeySessionIssuer)
	cfg.SessionCookie = viper.GetString(configKeySessionCookie)
	cfg.CancelCutoffHour = viper.GetInt(configKeyCancelCutoffHour)
	cfg.HoldTTL = viper.GetDuration(configKeyHoldTTL)
	if cfg.SessionSigningKey == "" {
		return fmt.Errorf("session signing key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
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

	bookingStore := gormstore.NewBookingStore(gormDB)
	ticketStore := gormstore.NewTicketStore(gormDB)
	clock := func() time.Time { return time.Now().UTC() }

	bookings, err := booking.NewService(
		bookingStore,
		payments.NewOffline(bookingStore),
		clock,
		booking.WithCancelCutoffHour(cfg.CancelCutoffHour),
		booking.WithOperationLogger(oplog.NewBookingLogger(logger)),
		booking.WithNotifier(notify.NewLogNotifier(logger)),
	)
	if err != nil {
		return fmt.Errorf("booking service init: %w", err)
	}
	tickets, err := ticketing.NewService(
		ticketStore,
		clock,
		ticketing.WithHoldTTL(cfg.HoldTTL),
		ticketing.WithOperationLogger(oplog.NewTicketLogger(logger)),
	)
	if err != nil {
		return fmt.Errorf("ticketing service init: %w", err)
	}

	serverConfig := httpserver.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    httpserver.ParseAllowedOrigins(cfg.AllowedOrigins),
		SessionSigningKey: cfg.SessionSigningKey,
		SessionIssuer:     cfg.SessionIssuer,
		SessionCookieName: cfg.SessionCookie,
	}
	if err := serverConfig.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	return httpserver.Run(ctx, serverConfig, logger, bookings, tickets)
}
