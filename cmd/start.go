package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/copilot-gateway/internal/process"
	"github.com/Davincible/copilot-gateway/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long:  `Start the gateway in the foreground. It stops on SIGINT or SIGTERM.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	color.Green("Starting %s v%s on http://%s", AppName, Version, cfg.Address())
	logger.Info("Starting gateway",
		"address", cfg.Address(),
		"account_type", cfg.AccountType,
		"rate_limit_seconds", cfg.RateLimit.Seconds,
		"config", cfgMgr.GetPath(),
	)

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer func() {
		if err := procMgr.CleanupPID(); err != nil {
			logger.Warn("Failed to remove PID file", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(cfgMgr, logger, server.Options{}).Start(ctx)
}
