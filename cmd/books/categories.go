package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/catalog"
	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "List the chart of accounts",
		RunE:  runCategories,
	}

	cmd.Flags().String("type", "", "Only show one type (asset, liability, equity, revenue, expense)")
	cmd.Flags().String("business", "", "Only show business (true) or personal (false) categories")

	return cmd
}

func runCategories(cmd *cobra.Command, _ []string) error {
	rawType, _ := cmd.Flags().GetString("type")
	rawBusiness, _ := cmd.Flags().GetString("business")

	var filter catalog.Filter
	if rawType != "" {
		typ := model.CategoryType(rawType)
		if !typ.Valid() {
			return common.NewUserError(fmt.Sprintf("unknown category type %q", rawType), common.ErrInvalidConfig)
		}
		filter.Type = &typ
	}
	if rawBusiness != "" {
		business, err := strconv.ParseBool(rawBusiness)
		if err != nil {
			return common.NewUserError("--business must be true or false", err)
		}
		filter.IsBusiness = &business
	}

	cfg, err := loadConfig()
	if err != nil {
		return common.NewUserError("invalid configuration", err)
	}

	a, err := newApp(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	defs := a.catalog.List(filter)
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("%d categories", len(defs))))
	fmt.Fprintln(out, cli.RenderCategories(defs))
	return nil
}
