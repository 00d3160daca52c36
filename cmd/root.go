package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/copilot-gateway/internal/config"
)

const (
	AppName = "copilot-gateway"
	Version = "0.3.0"
)

var (
	logger  *slog.Logger
	baseDir string
	cfgMgr  *config.Manager
)

var rootCmd = &cobra.Command{
	Use:   AppName,
	Short: "Copilot Gateway - Anthropic and OpenAI compatible API on top of GitHub Copilot",
	Long: `A local gateway that exposes the GitHub Copilot API as Anthropic Messages,
OpenAI Chat Completions and OpenAI Responses endpoints.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if dir, _ := cmd.Flags().GetString("config-dir"); dir != "" {
			baseDir = dir
		}
		cfgMgr = config.NewManager(baseDir)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.TempDir()
	}
	baseDir = filepath.Join(homeDir, "."+AppName)

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().String("config-dir", "", "configuration directory (default ~/."+AppName+")")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(codeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(countCmd)
}

// setupLogging installs the process logger from the log section of the
// config. --verbose forces debug level.
func setupLogging(cfg *config.Config, verbose bool) error {
	level, err := parseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "", "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		return fmt.Errorf("unsupported log format %q (expected: json, text)", cfg.Log.Format)
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// loadConfig loads the configuration and sets up logging from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	if err := setupLogging(cfg, verbose); err != nil {
		return nil, err
	}
	return cfg, nil
}
