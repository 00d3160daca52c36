package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Davincible/copilot-gateway/internal/anthropic"
	"github.com/Davincible/copilot-gateway/internal/models"
	"github.com/Davincible/copilot-gateway/internal/tokenizer"
	"github.com/Davincible/copilot-gateway/internal/translate"
)

var countCmd = &cobra.Command{
	Use:   "count [payload.json]",
	Short: "Estimate the tokens of a Messages request",
	Long: `Estimate the prompt tokens of an Anthropic Messages request body read from a
file, or from stdin when no file is given. The estimate runs offline.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCount,
}

func init() {
	countCmd.Flags().String("encoding", tokenizer.DefaultEncoding, "tokenizer encoding")
}

func runCount(cmd *cobra.Command, args []string) error {
	var in io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var req anthropic.MessagesRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	encoding, _ := cmd.Flags().GetString("encoding")
	model := models.Model{ID: req.Model, Capabilities: models.Capabilities{Tokenizer: encoding}}

	estimator := tokenizer.NewEstimator(tokenizer.NewCache(tokenizer.TiktokenLoader))
	usage, err := estimator.Estimate(translate.New(translate.Options{}).ToChat(&req), model)
	if err != nil {
		return err
	}

	color.Blue("Token estimate for %s (%s):", orNone(req.Model), encoding)
	fmt.Printf("  %-15s: %d\n", "Input", usage.Input)
	fmt.Printf("  %-15s: %d\n", "Output", usage.Output)
	return nil
}
