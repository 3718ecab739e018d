package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-archiver/internal/app"
	"github.com/JakeFAU/catalog-archiver/internal/archive"
	"github.com/JakeFAU/catalog-archiver/internal/assets"
	"github.com/JakeFAU/catalog-archiver/internal/config"
	"github.com/JakeFAU/catalog-archiver/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the service surface commands use; tests swap in a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Crawl(ctx context.Context) (archive.Summary, error)
	DownloadAssets(ctx context.Context) (assets.Stats, error)
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.New(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "archiver",
		Short: "Archives a remote catalog into a local database.",
		Long: `archiver mirrors every record of the catalog into a relational store,
resuming interrupted runs from a persisted checkpoint, and can download each
record's thumbnail.`,
		SilenceUsage: true,

		// Builds the application once flags are parsed and before the
		// subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	pf.BoolP("verbose", "v", false, "narrate every page and id")
	pf.String("database", "archive.db", "sqlite database file")
	pf.String("driver", "sqlite", "record store driver: sqlite or postgres")
	pf.String("dsn", "", "postgres connection string")
	pf.String("metrics-addr", "", "serve /metrics and /healthz on this address")

	cmd.AddCommand(newCrawlCmd(), newAssetsCmd())
	return cmd
}

// withApp resolves the App built by the root command and closes it once fn
// returns, whether or not fn failed.
func withApp(fn func(cmd *cobra.Command, appInstance App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer appInstance.Close()
		return fn(cmd, appInstance)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the CLI until it finishes or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger, lerr := logging.New(true, false)
		if lerr != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.Fatal("Command execution failed", zap.Error(err))
	}
}
