package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/custodia-labs/fhir-bridge/internal/adapters/driving/http"
	"github.com/custodia-labs/fhir-bridge/internal/config"
	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
	"github.com/custodia-labs/fhir-bridge/internal/core/services"
)

// newRootCmd builds the command tree around one viper instance so flags
// override the environment.
func newRootCmd() *cobra.Command {
	v := config.New()

	root := &cobra.Command{
		Use:           "fhir-bridge",
		Short:         "Mirror 1up Health FHIR data into a FHIR server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(config.NewLogger(os.Stderr, v.GetString(config.KeyLogLevel), v.GetString(config.KeyLogFormat)))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "Log format (json, text)")
	bindFlag(v, config.KeyLogLevel, root.PersistentFlags().Lookup("log-level"))
	bindFlag(v, config.KeyLogFormat, root.PersistentFlags().Lookup("log-format"))

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge daemon",
		Long: `Run the bridge daemon: perform the 1up handshake, keep the access token
refreshed and serve the /sync-data trigger endpoints until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	serve.Flags().Int("port", 0, "Listen port")
	serve.Flags().Bool("sync-on-startup", false, "Start a sync once the handshake completes")
	bindFlag(v, config.KeyPort, serve.Flags().Lookup("port"))
	bindFlag(v, config.KeySyncOnStartup, serve.Flags().Lookup("sync-on-startup"))

	syncOnce := &cobra.Command{
		Use:   "sync",
		Short: "Perform the handshake, run one sync pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), v, cmd.OutOrStdout())
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("format")
			info := map[string]string{
				"version":  version,
				"go":       runtime.Version(),
				"platform": runtime.GOOS + "/" + runtime.GOARCH,
			}
			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "fhir-bridge %s (%s, %s)\n", info["version"], info["go"], info["platform"])
			return err
		},
	}
	versionCmd.Flags().String("format", "", "Output format (json)")

	root.AddCommand(serve, syncOnce, versionCmd)
	return root
}

func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		slog.Error("failed to bind flag", "key", key, "error", err)
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(parent context.Context, v *viper.Viper) error {
	cfg, err := config.FromViper(v)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return err
	}
	logger := slog.Default()

	ctx, stop := signalContext(parent)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise", "error", err)
		return err
	}
	defer a.Close()

	srvCfg := http.DefaultConfig()
	srvCfg.Port = cfg.Port
	srvCfg.Version = version
	srvCfg.Logger = logger
	server := http.NewServer(srvCfg, a.engine, a.credentials, a.checks)

	srvErr := make(chan error, 1)
	go func() { srvErr <- server.Start(ctx) }()

	if err := a.credentials.Start(ctx); err != nil {
		logger.Error("startup handshake failed", "error", err)
		stop()
		<-srvErr
		return err
	}

	if err := a.notifier.Notify(ctx, domain.StatusUpdate{
		Dependency:  cfg.AuthDependency,
		Status:      domain.StatusAvailable,
		Description: "Connected to 1up Health",
	}); err != nil {
		logger.Warn("failed to publish availability", "error", err)
	}

	if cfg.SyncOnStartup {
		if err := a.engine.Trigger(ctx); err != nil {
			logger.Warn("startup sync not started", "error", err)
		}
	}

	if cfg.SyncInterval > 0 {
		scheduler := services.NewScheduler(services.SchedulerConfig{
			Engine:   a.engine,
			Interval: cfg.SyncInterval,
			Logger:   logger,
		})
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	err = <-srvErr
	stop()
	a.engine.Close()
	a.credentials.Wait()
	logger.Info("fhir-bridge stopped")
	return err
}

func runSync(parent context.Context, v *viper.Viper, out io.Writer) error {
	cfg, err := config.FromViper(v)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return err
	}
	logger := slog.Default()

	ctx, stop := signalContext(parent)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise", "error", err)
		return err
	}
	defer a.Close()

	if err := a.credentials.Start(ctx); err != nil {
		logger.Error("startup handshake failed", "error", err)
		return err
	}

	result, runErr := a.engine.Run(ctx)
	stop()
	a.credentials.Wait()

	if result != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	if runErr != nil {
		if errors.Is(runErr, domain.ErrSyncInProgress) {
			logger.Warn("another instance is syncing")
		}
		return runErr
	}
	return nil
}
