package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify DESCRIPTION",
		Short: "Classify a single transaction",
		Long: `Run the rule classifier and, when an AI credential is configured, the AI
classifier over one transaction and print the settled category.`,
		Args: cobra.ExactArgs(1),
		RunE: runClassify,
	}

	cmd.Flags().String("amount", "0", "Transaction amount (outflows positive)")
	cmd.Flags().String("merchant", "", "Merchant or store name")
	cmd.Flags().String("ocr", "", "Receipt text")
	cmd.Flags().Bool("json", false, "Print the result as JSON")

	return cmd
}

func runClassify(cmd *cobra.Command, args []string) error {
	rawAmount, _ := cmd.Flags().GetString("amount")
	merchant, _ := cmd.Flags().GetString("merchant")
	ocr, _ := cmd.Flags().GetString("ocr")
	asJSON, _ := cmd.Flags().GetBool("json")

	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return common.NewUserError(fmt.Sprintf("invalid amount %q", rawAmount), err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return common.NewUserError("invalid configuration", err)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	result := a.orchestrator.Classify(ctx, model.ClassificationInput{
		Description:  args[0],
		MerchantName: merchant,
		OCRText:      ocr,
		Amount:       amount,
	})

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintln(out, cli.RenderClassification(result))
	return nil
}
