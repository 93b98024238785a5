package engine

import (
	"context"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Store is the persistence the importer needs.
type Store interface {
	History(ctx context.Context, userID string) ([]model.Transaction, error)
	SaveTransactions(ctx context.Context, userID string, transactions []model.AnnotatedTransaction) error
}

// Recorder receives import outcomes, typically for metrics.
type Recorder interface {
	ObserveImport(format, status string, unique, duplicates, warnings int)
}

type noopRecorder struct{}

func (noopRecorder) ObserveImport(string, string, int, int, int) {}
