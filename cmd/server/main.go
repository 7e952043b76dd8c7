// Command server accepts microphone streams and records them to WAV files.
//
// Usage:
//
//	server [--config path] [--log-level level] [--no-console]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"micstream/internal/app"
	"micstream/internal/console"
	"micstream/pkg/config"
	"micstream/pkg/logger"

	"github.com/spf13/cobra"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/micstream/config.yaml",
	"config.yaml",
}

var (
	configFile string
	logLevel   string
	address    string
	noConsole  bool
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Receive microphone streams over WebSocket and record them",
	Long: `Start the micstream server.

The server listens for client audio streams on the configured address and
writes them to WAV files while a recording is active. Unless --no-console
is given, an operator console reads commands from stdin:

  start, stop, restart, status, startrecording, stoprecording,
  recordings, help, exit`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the YAML config file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&address, "address", "", "listen address, overrides server.address")
	rootCmd.Flags().BoolVar(&noConsole, "no-console", false, "run without the operator console")
}

func loadConfig() (*config.Config, string, error) {
	if configFile != "" {
		cfg, err := config.Load(configFile)
		return cfg, configFile, err
	}
	return config.LoadFirst(configPaths...)
}

func run(ctx context.Context) error {
	cfg, source, err := loadConfig()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if address != "" {
		cfg.Server.Address = address
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if source != "" {
		log.Infow("loaded config", "path", source)
	} else {
		log.Infow("no config file found, using defaults")
	}

	srv, err := app.NewServer(cfg, zapLogger, nil)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if noConsole {
		<-ctx.Done()
	} else {
		con := console.New(srv, os.Stdin, os.Stdout, cfg.Server.ShutdownTimeout, log.With("component", "console"))
		if err := con.Run(ctx); err != nil {
			log.Warnw("console input failed", "error", err)
		}
	}

	log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Close(shutdownCtx); err != nil {
		log.Errorw("shutdown finished with errors", "error", err)
		return err
	}
	log.Infow("server exited")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
