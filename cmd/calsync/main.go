package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"calsync/internal/auth"
	"calsync/internal/calendar"
	"calsync/internal/config"
	syncengine "calsync/internal/sync"
)

var version = "dev"

func main() {
	var (
		cfgFile string
		verbose bool
		once    bool
	)

	rootCmd := &cobra.Command{
		Use:   "calsync",
		Short: "One-way calendar synchronization from Outlook or CalDAV to Google Calendar",
		Long: `calsync keeps a Google calendar converged to a source calendar
(Office 365 via Microsoft Graph, or any CalDAV server). Each cycle it fetches
both calendars for a rolling time window, fingerprints every event, and issues
the minimal set of create/delete calls against the Google calendar. The source
calendar is never modified.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(verbose)

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return run(cfg, logger, once)
		},
	}

	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&once, "once", false, "run a single reconciliation cycle and exit")

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize calsync with a calendar provider",
	}
	loginCmd.AddCommand(
		&cobra.Command{
			Use:   "google",
			Short: "Authorize the Google Calendar target account",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if cfg.Target.Google.ClientID == "" || cfg.Target.Google.ClientSecret == "" {
					return fmt.Errorf("target.google.client_id and client_secret are required")
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
				defer cancel()

				oauthConfig := auth.GoogleOAuthConfig(cfg.Target.Google.ClientID, cfg.Target.Google.ClientSecret)
				store := auth.NewFileTokenStore(os.ExpandEnv(cfg.Target.Google.TokenPath))
				return auth.Login(ctx, oauthConfig, store)
			},
		},
		&cobra.Command{
			Use:   "outlook",
			Short: "Authorize the Outlook source account",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if cfg.Source.Outlook.ClientID == "" {
					return fmt.Errorf("source.outlook.client_id is required")
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
				defer cancel()

				oauthConfig := auth.MicrosoftOAuthConfig(cfg.Source.Outlook.TenantID, cfg.Source.Outlook.ClientID)
				store := auth.NewFileTokenStore(os.ExpandEnv(cfg.Source.Outlook.TokenPath))
				return auth.Login(ctx, oauthConfig, store)
			},
		},
	)
	rootCmd.AddCommand(loginCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
	).Level(level).With().Timestamp().Logger()
}

// run wires the providers to the reconciliation engine and blocks until a
// termination signal or a fatal error.
func run(cfg config.Config, logger zerolog.Logger, once bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	source, err := buildSource(ctx, cfg, loc, logger)
	if err != nil {
		return fmt.Errorf("set up source calendar: %w", err)
	}
	target, err := buildTarget(ctx, cfg, loc, logger)
	if err != nil {
		return fmt.Errorf("set up target calendar: %w", err)
	}

	logger.Info().
		Str("source", source.Name()).
		Str("target", target.Name()).
		Dur("interval", cfg.Sync.Interval).
		Msg("starting calendar sync")

	reconciler := syncengine.NewReconciler(source, target, cfg.Sync.PastHorizon, cfg.Sync.FutureHorizon, logger)

	if once {
		return reconciler.Run(ctx)
	}

	job := func(ctx context.Context) error {
		err := reconciler.Run(ctx)
		switch {
		case err == nil:
			return nil
		case calendar.IsAuthError(err):
			// Credentials are gone; no point in waiting for the next tick.
			return err
		case errors.Is(err, context.Canceled):
			return err
		default:
			logger.Error().Err(err).Msg("reconciliation cycle failed")
			return nil
		}
	}

	scheduler := syncengine.NewScheduler(cfg.Sync.Interval, logger)
	if err := scheduler.Run(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildSource(ctx context.Context, cfg config.Config, loc *time.Location, logger zerolog.Logger) (calendar.Source, error) {
	switch cfg.Source.Kind {
	case "caldav":
		path := cfg.Source.CalDAV.Path
		if path == "" {
			path = fmt.Sprintf("/%s/calendars/%s/",
				cfg.Source.CalDAV.Username,
				strings.ToLower(strings.ReplaceAll(cfg.Source.Calendar, " ", "-")))
		}
		return calendar.NewCalDAVCalendar(
			cfg.Source.CalDAV.ServerURL,
			cfg.Source.CalDAV.Username,
			cfg.Source.CalDAV.Password,
			path, loc, logger), nil

	case "outlook":
		httpClient, err := authenticatedClient(ctx,
			auth.MicrosoftOAuthConfig(cfg.Source.Outlook.TenantID, cfg.Source.Outlook.ClientID),
			cfg.Source.Outlook.TokenPath)
		if err != nil {
			return nil, err
		}
		return calendar.NewOutlookCalendar(ctx, httpClient, cfg.Source.Calendar, loc, logger)

	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}

func buildTarget(ctx context.Context, cfg config.Config, loc *time.Location, logger zerolog.Logger) (calendar.Target, error) {
	httpClient, err := authenticatedClient(ctx,
		auth.GoogleOAuthConfig(cfg.Target.Google.ClientID, cfg.Target.Google.ClientSecret),
		cfg.Target.Google.TokenPath)
	if err != nil {
		return nil, err
	}
	return calendar.NewGoogleCalendar(ctx, httpClient, cfg.Target.Calendar, loc, logger)
}

func authenticatedClient(ctx context.Context, oauthConfig *oauth2.Config, tokenPath string) (*http.Client, error) {
	store := auth.NewFileTokenStore(os.ExpandEnv(tokenPath))
	return auth.Client(ctx, oauthConfig, store)
}
