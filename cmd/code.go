package cmd

import (
	"os"
	"os/exec"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/copilot-gateway/internal/process"
)

var codeCmd = &cobra.Command{
	Use:   "code [args...]",
	Short: "Run Claude Code against the gateway",
	Long: `Start the gateway in the background if needed and run Claude Code with the
gateway as its API endpoint. Arguments are passed to claude unchanged.`,
	Args:               cobra.ArbitraryArgs,
	DisableFlagParsing: true,
	RunE:               runCode,
}

func runCode(_ *cobra.Command, args []string) error {
	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	procMgr := process.NewManager(baseDir)
	startedByUs, err := procMgr.StartServiceIfNeeded()
	if err != nil {
		return err
	}

	if err := procMgr.IncrementRef(); err != nil {
		return err
	}
	defer func() {
		remaining, err := procMgr.DecrementRef()
		if err != nil {
			logger.Warn("Failed to update session count", "error", err)
		}
		if startedByUs && remaining == 0 {
			color.Yellow("No more active sessions, stopping auto-started gateway...")
			if err := procMgr.Stop(); err != nil {
				logger.Warn("Failed to stop gateway", "error", err)
			}
		}
	}()

	claudeCmd := exec.Command("claude", args...)
	claudeCmd.Env = claudeEnv(os.Environ(), "http://"+cfg.Address(), cfg.APIKey, cfg.SmallModel)
	claudeCmd.Stdin = os.Stdin
	claudeCmd.Stdout = os.Stdout
	claudeCmd.Stderr = os.Stderr

	return claudeCmd.Run()
}

// claudeEnv points Claude Code at the gateway. Existing Anthropic
// credentials are removed so they can't leak to the gateway.
func claudeEnv(env []string, baseURL, apiKey, smallModel string) []string {
	env = filterEnv(env, "ANTHROPIC_AUTH_TOKEN", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL")

	if apiKey != "" {
		env = append(env, "ANTHROPIC_API_KEY="+apiKey)
	} else {
		env = append(env, "ANTHROPIC_AUTH_TOKEN=copilot-gateway")
	}
	env = append(env,
		"ANTHROPIC_BASE_URL="+baseURL,
		"API_TIMEOUT_MS=600000",
		"CLAUDE_CODE_DISABLE_NONESSENTIAL_TRAFFIC=1",
	)
	if smallModel != "" {
		env = append(env, "ANTHROPIC_SMALL_FAST_MODEL="+smallModel)
	}
	return env
}

func filterEnv(env []string, keys ...string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		name, _, _ := strings.Cut(e, "=")
		keep := true
		for _, key := range keys {
			if name == key {
				keep = false
				break
			}
		}
		if keep {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
