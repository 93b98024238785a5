package engine

import (
	"errors"
	"fmt"
)

// ErrNoTransactions is returned when a file yields no usable records.
var ErrNoTransactions = errors.New("no transactions found")

// ImportError carries the parse warnings of a rejected file.
type ImportError struct {
	Err      error
	Format   string
	Warnings []string
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("%v in %s file (%d warnings)", e.Err, e.Format, len(e.Warnings))
}

func (e *ImportError) Unwrap() error {
	return e.Err
}
