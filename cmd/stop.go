package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/copilot-gateway/internal/process"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the gateway",
	Long:  `Stop a gateway running in the background.`,
	RunE:  runStop,
}

func runStop(_ *cobra.Command, _ []string) error {
	procMgr := process.NewManager(baseDir)

	if !procMgr.IsRunning() {
		color.Yellow("Gateway is not running")
		return nil
	}

	color.Yellow("Stopping %s...", AppName)
	if err := procMgr.Stop(); err != nil {
		return err
	}
	if err := procMgr.CleanupRef(); err != nil {
		return err
	}

	color.Green("Gateway stopped")
	return nil
}
