package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/the-books-must-balance/internal/engine"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

const maxDescriptionWidth = 32

// RenderImportSummary renders the outcome of an import.
func RenderImportSummary(result *engine.Result) string {
	var sb strings.Builder

	title := "Import complete"
	if result.DryRun {
		title = "Dry run (nothing saved)"
	}

	stats := []string{
		fmt.Sprintf("Format:      %s", BoldStyle.Render(result.Summary.Format)),
		fmt.Sprintf("Parsed:      %d", result.Summary.Total),
		fmt.Sprintf("New:         %s", SuccessStyle.Render(fmt.Sprint(result.Summary.Unique))),
		fmt.Sprintf("Duplicates:  %s", SubtleStyle.Render(fmt.Sprint(result.Summary.Duplicates))),
	}
	if n := len(result.Summary.Errors); n > 0 {
		stats = append(stats, fmt.Sprintf("Warnings:    %s", WarningStyle.Render(fmt.Sprint(n))))
	}
	sb.WriteString(RenderBox(LedgerIcon+" "+title, strings.Join(stats, "\n")))
	sb.WriteString("\n")

	if len(result.Transactions) > 0 {
		sb.WriteString("\n")
		sb.WriteString(RenderTransactions(result.Transactions))
	}

	for _, w := range result.Summary.Errors {
		sb.WriteString("\n")
		sb.WriteString(FormatWarning(w))
	}

	return sb.String()
}

// RenderTransactions renders annotated transactions as a table.
func RenderTransactions(txns []model.AnnotatedTransaction) string {
	rows := [][]string{{"Date", "Amount", "Description", "Category", "Conf.", "Source"}}
	for _, txn := range txns {
		rows = append(rows, []string{
			txn.Date.Format(model.DateLayout),
			txn.Amount.StringFixed(0),
			truncate(txn.Description, maxDescriptionWidth),
			categoryLabel(txn.Classification),
			fmt.Sprintf("%.2f", txn.Classification.Confidence),
			sourceLabel(txn.Classification.Source),
		})
	}
	return renderTable(rows)
}

// RenderClassification renders a single classification result.
func RenderClassification(result model.ClassificationResult) string {
	id := "unresolved"
	if result.CategoryID != nil {
		id = *result.CategoryID
	}
	lines := []string{
		fmt.Sprintf("Category:    %s (%s)", BoldStyle.Render(result.CategoryName), id),
		fmt.Sprintf("Confidence:  %.2f", result.Confidence),
		fmt.Sprintf("Business:    %t", result.IsBusiness),
		fmt.Sprintf("Source:      %s", sourceLabel(result.Source)),
	}
	if result.Reasoning != "" {
		lines = append(lines, SubtleStyle.Render(result.Reasoning))
	}
	return RenderBox("Classification", strings.Join(lines, "\n"))
}

// RenderCategories renders catalog entries as a table.
func RenderCategories(defs []model.CategoryDefinition) string {
	rows := [][]string{{"ID", "Code", "Name", "Type", "Business"}}
	for _, def := range defs {
		business := ""
		if def.IsBusiness {
			business = SuccessIcon
		}
		rows = append(rows, []string{def.ID, def.Code, def.Name, string(def.Type), business})
	}
	return renderTable(rows)
}

func categoryLabel(r model.ClassificationResult) string {
	label := r.CategoryName
	if r.IsBusiness {
		label += " " + SubtleStyle.Render("(事業)")
	}
	return label
}

func sourceLabel(source model.ClassificationSource) string {
	switch source {
	case model.SourceAI:
		return RobotIcon + " ai"
	case model.SourceRule:
		return RuleIcon + " rule"
	default:
		return SubtleStyle.Render(string(source))
	}
}

// renderTable lays rows out in columns; the first row is the header.
func renderTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var lines []string
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = TableCellStyle.Width(widths[i] + TableCellStyle.GetPaddingRight()).Render(cell)
		}
		line := lipgloss.JoinHorizontal(lipgloss.Top, cells...)
		if r == 0 {
			line = TableHeaderStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-1]) + "…"
}
