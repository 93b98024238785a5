package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/engine"
)

const defaultUser = "local"

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import transactions from CSV or OFX exports",
		Long: `Parse bank or card exports, skip transactions that were already imported,
classify the rest and save them.

CSV layouts are detected from the header row (Japanese bank and card exports,
or generic date/description/amount files). Shift_JIS files are converted
automatically. Files ending in .ofx or .qfx are read as OFX.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}

	cmd.Flags().Bool("dry-run", false, "Classify and show the result without saving")
	cmd.Flags().String("user", defaultUser, "User the transactions belong to")
	cmd.Flags().String("format", "", "Force the input format (csv, ofx)")
	cmd.Flags().Bool("no-progress", false, "Hide the progress bar")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	userID, _ := cmd.Flags().GetString("user")
	format, _ := cmd.Flags().GetString("format")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	cfg, err := loadConfig()
	if err != nil {
		return common.NewUserError("invalid configuration", err)
	}

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx, stop := interrupts.HandleInterrupts(cmd.Context(), dryRun)
	defer stop()

	a, err := newApp(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.FormatTitle("Importing transactions"))

	var failed int
	for _, path := range args {
		data, err := os.ReadFile(path) //nolint:gosec // user-supplied import path
		if err != nil {
			return common.NewUserError(fmt.Sprintf("cannot read %s", path), err)
		}

		req := engine.Request{
			UserID:   userID,
			Filename: filepath.Base(path),
			Format:   format,
			Data:     data,
			DryRun:   dryRun,
		}
		if !noProgress {
			req.OnProgress = cli.NewProgress(cmd.ErrOrStderr()).Update
		}

		result, err := a.importer.Import(ctx, req)
		if err != nil {
			if interrupts.WasInterrupted() {
				return common.NewUserError("import interrupted", err)
			}
			var importErr *engine.ImportError
			if errors.As(err, &importErr) {
				failed++
				fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("%s: no transactions could be read", path)))
				for _, w := range importErr.Warnings {
					fmt.Fprintln(out, "  "+cli.FormatWarning(w))
				}
				continue
			}
			return fmt.Errorf("failed to import %s: %w", path, err)
		}

		fmt.Fprintln(out, cli.SubtleStyle.Render(path))
		fmt.Fprintln(out, cli.RenderImportSummary(result))
	}

	if failed > 0 {
		return common.NewUserError(fmt.Sprintf("%d of %d files could not be imported", failed, len(args)), engine.ErrNoTransactions)
	}
	return nil
}
