package main

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/towerd/internal/app"
	"github.com/dokzlo13/towerd/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "towerd",
	Short: "Indicator tower lamp controller",
	Long: `towerd drives a green/yellow/red indicator tower, mutes it when the room goes dark
and serves a small request protocol over a serial link.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

func init() {
	// Support both -c and --config for config path
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level")
	rootCmd.AddCommand(settingsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// Create application
	application, err := app.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create application")
		return err
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	// Start the application
	if err := application.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start application")
		return err
	}

	// Wait for shutdown
	application.Wait()

	// Graceful shutdown
	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		return err
	}
	return nil
}

// loadConfig reads the configured file and sets up logging from it. A missing file
// at the default path falls back to the built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	fallback := false
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg, err = config.Default(), nil
		fallback = true
	}
	if err != nil {
		setupLogging("info", false, true)
		log.Error().Err(err).Str("config", configPath).Msg("Failed to load configuration")
		return nil, err
	}

	level := cfg.Log.GetLevel()
	if override, _ := cmd.Flags().GetString("log-level"); override != "" {
		level = override
	}
	setupLogging(level, cfg.Log.UseJSON, cfg.Log.Colors)

	if fallback {
		log.Warn().Str("config", configPath).Msg("Configuration file not found, using defaults")
	} else {
		log.Info().Str("config", configPath).Msg("Loaded configuration")
	}
	return cfg, nil
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
