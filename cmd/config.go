package cmd

import (
	"bufio"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/copilot-gateway/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Create a configuration file by prompting for the gateway settings.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration, including environment overrides.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	color.Blue("Copilot Gateway Configuration Setup")
	color.Yellow("Press enter to keep the value in brackets.")

	cfg := config.Default()
	reader := bufio.NewReader(os.Stdin)

	cfg.Host = prompt(reader, "Listen host", cfg.Host)

	port, err := strconv.Atoi(prompt(reader, "Listen port", strconv.Itoa(cfg.Port)))
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	cfg.Port = port

	cfg.AccountType = prompt(reader, "Copilot account type (individual, business, enterprise)", cfg.AccountType)
	cfg.SmallModel = prompt(reader, "Small model for warmup requests (empty disables)", cfg.SmallModel)
	cfg.APIKey = prompt(reader, "Gateway API key (optional)", "")

	seconds, err := strconv.Atoi(prompt(reader, "Seconds between upstream requests (0 disables)", "0"))
	if err != nil {
		return fmt.Errorf("invalid rate limit: %w", err)
	}
	cfg.RateLimit.Seconds = seconds

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("save configuration: %w", err)
	}

	color.Green("Configuration saved to: %s", cfgMgr.GetPath())
	color.Cyan("Log in with '%s auth login', then start the gateway with '%s start'", AppName, AppName)

	return nil
}

func prompt(reader *bufio.Reader, label, current string) string {
	if current != "" {
		fmt.Printf("%s [%s]: ", label, current)
	} else {
		fmt.Printf("%s: ", label)
	}

	line, _ := reader.ReadString('\n')
	if line = strings.TrimSpace(line); line == "" {
		return current
	}
	return line
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if !cfgMgr.Exists() {
		color.Yellow("No configuration file, showing defaults. Run '%s config init' to create one.", AppName)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-22s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-22s: %s\n", "Listen Address", cfg.Address())
	fmt.Printf("  %-22s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-22s: %s\n", "Account Type", cfg.AccountType)
	fmt.Printf("  %-22s: %s\n", "GitHub Token", maskString(cfg.GitHubToken))
	fmt.Printf("  %-22s: %s\n", "Small Model", orNone(cfg.SmallModel))
	fmt.Printf("  %-22s: %v\n", "Function apply_patch", cfg.UseFunctionApplyPatch)
	fmt.Printf("  %-22s: %ds (wait: %v)\n", "Rate Limit", cfg.RateLimit.Seconds, cfg.RateLimit.Wait)
	fmt.Printf("  %-22s: %s/%s\n", "Logging", cfg.Log.Level, cfg.Log.Format)

	if len(cfg.ModelReasoningEfforts) > 0 {
		fmt.Println("\nReasoning Efforts:")
		for _, model := range sortedKeys(cfg.ModelReasoningEfforts) {
			fmt.Printf("  %-22s: %s\n", model, cfg.ModelReasoningEfforts[model])
		}
	}

	if len(cfg.ExtraPrompts) > 0 {
		fmt.Println("\nExtra Prompts:")
		for _, model := range sortedKeys(cfg.ExtraPrompts) {
			fmt.Printf("  %-22s: %d characters\n", model, len(cfg.ExtraPrompts[model]))
		}
	}

	return nil
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found at %s", cfgMgr.GetPath())
	}

	if _, err := cfgMgr.Load(); err != nil {
		color.Red("Configuration validation failed:")
		fmt.Printf("  - %v\n", err)
		return fmt.Errorf("configuration validation failed")
	}

	color.Green("Configuration is valid!")
	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
