package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/term"

	"github.com/Davincible/copilot-gateway/internal/token"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage GitHub authentication",
	Long:  `Store or remove the GitHub token the gateway exchanges for Copilot credentials.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to GitHub and store the token in the OS keyring",
	Long: `Log in with the GitHub device flow and store the resulting token in the OS
keyring. With --paste the token is read from the terminal instead.`,
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored GitHub token",
	RunE:  runAuthLogout,
}

func init() {
	authLoginCmd.Flags().Bool("paste", false, "paste an existing GitHub token instead of using the device flow")
	authLoginCmd.Flags().Bool("show-token", false, "print the token after login")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
}

func runAuthLogin(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	paste, _ := cmd.Flags().GetBool("paste")

	var (
		githubToken string
		err         error
	)
	if paste {
		githubToken, err = readSecureInput(ctx, "GitHub token: ")
	} else {
		githubToken, err = token.NewDeviceLogin().Run(ctx, func(auth *oauth2.DeviceAuthResponse) {
			color.Blue("=== GitHub Device Login ===")
			fmt.Printf("\n1. Open %s\n", auth.VerificationURI)
			fmt.Printf("2. Enter the code: %s\n\n", color.New(color.Bold).Sprint(auth.UserCode))
			fmt.Println("Waiting for authorization...")
		})
	}
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	githubToken = strings.TrimSpace(githubToken)
	if githubToken == "" {
		return fmt.Errorf("empty token")
	}

	if err := token.NewKeyringStore().Save(githubToken); err != nil {
		return err
	}

	color.Green("Login successful, token saved to the OS keyring")
	if show, _ := cmd.Flags().GetBool("show-token"); show {
		fmt.Println(githubToken)
	}
	return nil
}

func runAuthLogout(_ *cobra.Command, _ []string) error {
	if err := token.NewKeyringStore().Delete(); err != nil {
		return err
	}

	color.Green("Logged out, stored GitHub token removed")
	return nil
}

// readSecureInput reads a line without echo. term.ReadPassword can't be
// cancelled, so it runs in a goroutine raced against ctx.
func readSecureInput(ctx context.Context, label string) (string, error) {
	fmt.Print(label)
	defer fmt.Println()

	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		input, err := term.ReadPassword(int(os.Stdin.Fd()))
		resultCh <- result{value: string(input), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("read input: %w", res.err)
		}
		return res.value, nil
	}
}
