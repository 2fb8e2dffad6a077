package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	logLevel string
	quiet    bool
)

// rootCmd is the application entry point.
var rootCmd = &cobra.Command{
	Use:   "extension-host",
	Short: "Runs third-party extensions as capability-gated WebAssembly components",
	Long: `extension-host embeds a WebAssembly component runtime so that third-party
integrations ship as .wasm binaries. Each extension declares the capabilities
it needs in a manifest, and the host enforces those capabilities at every
boundary call: event subscriptions, driver calls, network access, storage,
timers, and configuration.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		setupLogging()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.extension-host/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all log output (equivalent to --log-level=error)")
}

// initConfig loads configuration from the config file and environment.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			slog.Error("failed to read specified config file", "file", cfgFile, "error", err)
			os.Exit(1)
		}
		slog.Debug("using config file", "file", viper.ConfigFileUsed())
		return
	}

	home, err := os.UserHomeDir()
	if err != nil {
		slog.Error("failed to find home directory", "error", err)
		os.Exit(1)
	}

	viper.AddConfigPath(home + "/.extension-host")
	viper.SetConfigType("yaml")
	viper.SetConfigName("config")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		slog.Debug("using config file", "file", viper.ConfigFileUsed())
	}
}

func setupLogging() {
	level := parseLogLevel(logLevel)
	if quiet {
		level = slog.LevelError + 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
