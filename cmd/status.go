package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/copilot-gateway/internal/process"
	"github.com/Davincible/copilot-gateway/internal/token"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Long:  `Display whether the gateway is running and how it is configured.`,
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, _ []string) error {
	procMgr := process.NewManager(baseDir)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	githubToken := "not found"
	if _, err := token.ResolveGitHubToken(cfg.GitHubToken, token.NewKeyringStore()); err == nil {
		githubToken = "available"
	}

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-15s: %v\n", "Running", procMgr.IsRunning())
	fmt.Printf("  %-15s: %d\n", "PID", procMgr.ReadPID())
	fmt.Printf("  %-15s: %s\n", "Endpoint", "http://"+cfg.Address())
	fmt.Printf("  %-15s: %s\n", "Account Type", cfg.AccountType)
	fmt.Printf("  %-15s: %s\n", "GitHub Token", githubToken)
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-15s: %d\n", "Sessions", procMgr.ReadRef())
	fmt.Printf("  %-15s: v%s\n", "Version", Version)
	return nil
}
