// Package csvimport parses bank and card CSV exports into transaction records.
package csvimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Parser detects the layout of a CSV export and normalizes its rows.
// It holds no mutable state and is safe for concurrent use.
type Parser struct {
	logger *slog.Logger
	// Now is the reference clock used to infer the year of month/day dates.
	Now func() time.Time
}

// NewParser creates a parser using the wall clock.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger, Now: time.Now}
}

type row struct {
	cells []string
	line  int
}

// ParseBytes decodes data and parses it.
func (p *Parser) ParseBytes(data []byte) model.ParseOutcome {
	text, err := Decode(data)
	if err != nil {
		return model.ParseOutcome{Format: LayoutUnknown, Errors: []string{err.Error()}}
	}
	return p.Parse(text)
}

// Parse turns CSV text into transactions. Per-row problems are reported in
// Errors and never abort the parse; a file with no usable rows yields an
// empty outcome rather than an error.
func (p *Parser) Parse(raw string) model.ParseOutcome {
	raw = strings.TrimPrefix(raw, utf8BOM)
	ref := p.Now()

	rows, warnings := readRows(raw)
	if len(rows) == 0 {
		return model.ParseOutcome{
			Format: LayoutUnknown,
			Errors: append(warnings, "file contains no rows"),
		}
	}

	name, cols, header, data := detect(rows, ref)
	if name == LayoutUnknown {
		return model.ParseOutcome{
			Format: LayoutUnknown,
			Errors: append(warnings, "unrecognized CSV layout: no known header and first row is not date, description, amount"),
		}
	}

	out := model.ParseOutcome{Format: name, Errors: warnings}
	for _, r := range data {
		txn, err := p.convert(r, cols, header, name, ref)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("row %d: %v", r.line, err))
			continue
		}
		out.Transactions = append(out.Transactions, txn)
	}

	p.logger.Debug("parsed CSV export",
		"format", name,
		"transactions", len(out.Transactions),
		"warnings", len(out.Errors))

	return out
}

// readRows reads every non-blank record. Malformed records become warnings.
func readRows(raw string) ([]row, []string) {
	r := csv.NewReader(strings.NewReader(raw))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows []row
	var warnings []string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				warnings = append(warnings, fmt.Sprintf("row %d: malformed CSV: %v", perr.StartLine, perr.Err))
				continue
			}
			warnings = append(warnings, fmt.Sprintf("malformed CSV: %v", err))
			break
		}
		if blank(record) {
			continue
		}
		line, _ := r.FieldPos(0)
		rows = append(rows, row{cells: record, line: line})
	}
	return rows, warnings
}

func detect(rows []row, ref time.Time) (string, columns, []string, []row) {
	depth := min(len(rows), headerScanDepth)
	for i := 0; i < depth; i++ {
		header := make([]string, len(rows[i].cells))
		for j, cell := range rows[i].cells {
			header[j] = normalizeHeader(cell)
		}
		for _, l := range layouts {
			if cols, ok := l.detect(header); ok {
				original := make([]string, len(rows[i].cells))
				for j, cell := range rows[i].cells {
					original[j] = normalize(cell)
				}
				return l.name, cols, original, rows[i+1:]
			}
		}
	}

	if detectHeaderless(rows[0].cells, ref) {
		return LayoutHeaderlessCard, headerlessColumns, nil, rows
	}
	return LayoutUnknown, columns{}, nil, nil
}

func (p *Parser) convert(r row, cols columns, header []string, layoutName string, ref time.Time) (model.Transaction, error) {
	if want := cols.minWidth(); len(r.cells) < want {
		return model.Transaction{}, fmt.Errorf("expected at least %d columns, got %d", want, len(r.cells))
	}

	date, err := ParseDate(r.cells[cols.date], ref)
	if err != nil {
		if errors.Is(err, errEmptyValue) {
			return model.Transaction{}, errors.New("missing date")
		}
		return model.Transaction{}, err
	}

	description := normalize(r.cells[cols.description])
	if description == "" {
		return model.Transaction{}, errors.New("missing description")
	}

	amount, err := rowAmount(r.cells, cols)
	if err != nil {
		return model.Transaction{}, err
	}

	var merchant string
	if cols.merchant >= 0 && cols.merchant < len(r.cells) {
		merchant = normalize(r.cells[cols.merchant])
	}

	return model.Transaction{
		ID:           uuid.NewString(),
		Date:         date,
		Amount:       amount,
		Description:  description,
		MerchantName: merchant,
		Source:       layoutName,
		OriginalData: originalData(r.cells, header),
	}, nil
}

// rowAmount returns the signed amount: withdrawals positive, deposits negative.
func rowAmount(cells []string, cols columns) (decimal.Decimal, error) {
	if cols.amount >= 0 {
		amount, err := ParseAmount(cells[cols.amount])
		if errors.Is(err, errEmptyValue) {
			return decimal.Zero, errors.New("missing amount")
		}
		return amount, err
	}

	withdrawal, werr := ParseAmount(cells[cols.withdrawal])
	deposit, derr := ParseAmount(cells[cols.deposit])
	switch {
	case werr != nil && !errors.Is(werr, errEmptyValue):
		return decimal.Zero, werr
	case derr != nil && !errors.Is(derr, errEmptyValue):
		return decimal.Zero, derr
	case werr != nil && derr != nil:
		return decimal.Zero, errors.New("missing amount")
	}
	return withdrawal.Sub(deposit), nil
}

func originalData(cells, header []string) map[string]string {
	data := make(map[string]string, len(cells))
	for i, cell := range cells {
		key := fmt.Sprintf("col%d", i)
		if i < len(header) && header[i] != "" {
			key = header[i]
		}
		data[key] = strings.TrimSpace(cell)
	}
	return data
}

func blank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
