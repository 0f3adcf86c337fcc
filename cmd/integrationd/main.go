package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/integrationd/internal/api"
	"github.com/ajitpratap0/integrationd/internal/daemon"
	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/connector/registry"
	"github.com/ajitpratap0/integrationd/pkg/logger"
	"github.com/ajitpratap0/integrationd/pkg/observability"

	// Import the built-in connectors to register them
	_ "github.com/ajitpratap0/integrationd/pkg/connector/integrations/gcs"
	_ "github.com/ajitpratap0/integrationd/pkg/connector/integrations/kafka"
	_ "github.com/ajitpratap0/integrationd/pkg/connector/integrations/mongodb"
	_ "github.com/ajitpratap0/integrationd/pkg/connector/integrations/s3"
	_ "github.com/ajitpratap0/integrationd/pkg/connector/integrations/sqlpoll"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "integrationd",
		Short: "integrationd - integration connector daemon",
		Long: `integrationd supervises integration connectors: it builds them from their
connection descriptors, runs them on the shared refresh scheduler or on their
own goroutine, and keeps integration groups in line with the registration store.`,
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("integrationd v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "connectors",
		Short: "List the connector types this binary can build",
		Run: func(cmd *cobra.Command, args []string) {
			for _, info := range registry.List() {
				mode := "polled"
				if info.UsesBlockingCalls {
					mode = "blocking"
				}
				fmt.Printf("  - %-24s %-8s %s\n", info.Name, mode, info.Description)
			}
		},
	})

	var configFile string

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a daemon configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDaemonConfig(configFile)
			if err != nil {
				return err
			}
			connectors := 0
			for _, svc := range cfg.Services {
				connectors += len(svc.Connectors)
			}
			fmt.Printf("%s: server %s, %d services (%d connectors), %d groups, %s registration store\n",
				configFile, cfg.ServerName, len(cfg.Services), connectors, len(cfg.Groups), cfg.RegistrationStore.Type)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the daemon configuration file (required)")
	_ = validateCmd.MarkFlagRequired("config")
	root.AddCommand(validateCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the integration daemon",
		Long: `Run the integration daemon described by a configuration file and serve its
operator API until interrupted.

Example:
  integrationd run --config integrationd.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configFile)
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the daemon configuration file (required)")
	_ = runCmd.MarkFlagRequired("config")
	root.AddCommand(runCmd)

	root.AddCommand(registrationsCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runDaemon runs one daemon server and its API until SIGINT or SIGTERM
func runDaemon(configFile string) error {
	cfg, err := config.LoadDaemonConfig(configFile)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get().With(zap.String("component", "integrationd-cli"), zap.String("server", cfg.ServerName))

	if cfg.Tracing.Enabled {
		tc := observability.DefaultConfig()
		tc.ServiceVersion = version
		tc.Environment = cfg.Tracing.Environment
		tc.SamplingRate = cfg.Tracing.SamplingRate
		tc.ExporterType = cfg.Tracing.Exporter
		shutdown, err := observability.Initialize(tc)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn("failed to flush traces", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg, daemon.Options{Logger: logger.Get()})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	servers := api.NewServerRegistry()
	if err := servers.Register(d); err != nil {
		return err
	}

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	router := api.NewRouter(api.NewHandler(servers, logger.Get()), cfg.HTTP, cfg.Metrics)
	srv := api.NewHTTPServer(cfg.HTTP, router)
	log.Info("serving operator API", zap.String("address", cfg.HTTP.ListenAddress))

	serveErr := api.Serve(ctx, srv, cfg.ShutdownTimeout)
	if serveErr != nil {
		log.Error("operator API stopped", zap.Error(serveErr))
	}

	log.Info("stopping integration daemon")
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("daemon did not stop cleanly: %w", err)
	}
	return serveErr
}
