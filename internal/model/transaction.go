package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar representation used for dates everywhere
// a transaction date is rendered or compared.
const DateLayout = "2006-01-02"

// Transaction represents a single financial transaction parsed from any source.
type Transaction struct {
	Date         time.Time         // Calendar date, UTC midnight
	OriginalData map[string]string // Source row as parsed, keyed by header or column index
	ID           string
	Description  string          // Raw transaction description
	MerchantName string          // Store or payee name when the source carries one
	Source       string          // Layout the record was parsed from
	Amount       decimal.Decimal // Outflows positive, inflows negative
}

// DedupKey identifies a transaction for exact-match duplicate detection.
type DedupKey struct {
	Date        string
	Amount      string
	Description string
}

// Key returns the transaction's dedup key.
func (t *Transaction) Key() DedupKey {
	return DedupKey{
		Date:        t.Date.Format(DateLayout),
		Amount:      t.Amount.String(),
		Description: t.Description,
	}
}

// ParseOutcome is the result of parsing one export file.
// Errors are advisory; an empty Transactions slice with non-empty Errors
// means the file could not be used.
type ParseOutcome struct {
	Format       string
	Transactions []Transaction
	Errors       []string
}

// Failed reports whether the outcome should be treated as a hard failure.
func (o ParseOutcome) Failed() bool {
	return len(o.Transactions) == 0
}
