// Command client captures audio and streams it to a micstream server,
// reconnecting with backoff when the connection drops.
//
// Usage:
//
//	client [--endpoint ws://host:5000/] [--source tone|file|mic] [--file path]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"micstream/internal/app"
	"micstream/internal/core/domain"
	"micstream/internal/core/ports"
	"micstream/internal/infrastructure/microphone"
	"micstream/pkg/config"
	"micstream/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
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
	endpoint   string
	source     string
	inputFile  string
	loop       bool
)

var rootCmd = &cobra.Command{
	Use:   "client",
	Short: "Stream audio to a micstream server",
	Long: `Capture audio and stream it to a micstream server over WebSocket.

Sources:
  tone   synthetic 440 Hz sine (default)
  file   replay a PCM WAV file in real time (--file)
  mic    live microphone (requires a build with -tags portaudio)

Examples:
  client --endpoint ws://localhost:5000/
  client --source file --file speech.wav --loop`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the YAML config file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVarP(&endpoint, "endpoint", "e", "", "server endpoint, overrides client.endpoint")
	rootCmd.Flags().StringVarP(&source, "source", "s", "tone", "capture source: tone, file or mic")
	rootCmd.Flags().StringVarP(&inputFile, "file", "f", "", "WAV file for --source file")
	rootCmd.Flags().BoolVar(&loop, "loop", false, "replay --file from the start when it ends")
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	cfg, _, err := config.LoadFirst(configPaths...)
	return cfg, err
}

func newSource(cfg *config.Config, log *zap.SugaredLogger) (ports.Microphone, error) {
	switch source {
	case "tone":
		return microphone.NewToneSource(nil, log), nil
	case "file":
		if inputFile == "" {
			return nil, errors.New("--file is required with --source file")
		}
		// the file's format wins over the configured one so no resampling is needed
		format, err := microphone.ProbeWAVFormat(inputFile)
		if err != nil {
			return nil, err
		}
		cfg.Audio.SampleRate = format.SampleRate
		cfg.Audio.Channels = format.Channels
		return microphone.NewWAVFileSource(inputFile, loop, nil, log), nil
	case "mic":
		if !microphone.PortAudioAvailable {
			log.Warnw("this binary was built without portaudio, live capture will fail")
		}
		return microphone.NewPortAudioSource(log), nil
	default:
		return nil, fmt.Errorf("unknown source %q (want tone, file or mic)", source)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if endpoint != "" {
		cfg.Client.Endpoint = endpoint
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	mic, err := newSource(cfg, log.With("component", "source", "source", source))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := app.NewClient(cfg, mic, nil, zapLogger)
	if err := client.Run(ctx); err != nil {
		if errors.Is(err, domain.ErrPermissionDenied) {
			return fmt.Errorf("microphone access was refused: %w", err)
		}
		return err
	}
	log.Infow("client exited", "status", client.Status().String())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
