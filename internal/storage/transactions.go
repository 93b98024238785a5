package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, date, amount, description, merchant_name, source, original_data,
	category_id, category_name, category_type, confidence, is_business,
	classification_source, reasoning`

// SaveTransactions persists annotated transactions for a user in a single
// database transaction. Re-saving an existing id replaces the row.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, userID string, transactions []model.AnnotatedTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(userID, "userID"); err != nil {
		return err
	}
	if len(transactions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO transactions (
			user_id, `+transactionColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range transactions {
		txn := &transactions[i]
		if err := validateTransaction(&txn.Transaction); err != nil {
			return err
		}

		originalData, err := json.Marshal(txn.OriginalData)
		if err != nil {
			return fmt.Errorf("failed to marshal original data for %s: %w", txn.ID, err)
		}

		var categoryID sql.NullString
		if txn.Classification.CategoryID != nil {
			categoryID = sql.NullString{String: *txn.Classification.CategoryID, Valid: true}
		}

		_, err = stmt.ExecContext(ctx,
			userID,
			txn.ID,
			txn.Date.Format(model.DateLayout),
			txn.Amount.String(),
			txn.Description,
			txn.MerchantName,
			txn.Source,
			string(originalData),
			categoryID,
			txn.Classification.CategoryName,
			string(txn.CategoryType),
			txn.Classification.Confidence,
			txn.Classification.IsBusiness,
			string(txn.Classification.Source),
			txn.Classification.Reasoning,
		)
		if err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListTransactions returns every stored transaction for a user ordered by date.
func (s *SQLiteStorage) ListTransactions(ctx context.Context, userID string) ([]model.AnnotatedTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = ?
		ORDER BY date, created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.AnnotatedTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return transactions, nil
}

// History returns the plain transaction records for a user, the shape the
// deduplicator compares against.
func (s *SQLiteStorage) History(ctx context.Context, userID string) ([]model.Transaction, error) {
	annotated, err := s.ListTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	history := make([]model.Transaction, len(annotated))
	for i := range annotated {
		history[i] = annotated[i].Transaction
	}
	return history, nil
}

// CountTransactions returns the number of stored transactions for a user.
func (s *SQLiteStorage) CountTransactions(ctx context.Context, userID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func scanTransaction(rows *sql.Rows) (model.AnnotatedTransaction, error) {
	var (
		txn          model.AnnotatedTransaction
		date         string
		amount       string
		originalData string
		categoryID   sql.NullString
		categoryType string
		source       string
	)

	err := rows.Scan(
		&txn.ID,
		&date,
		&amount,
		&txn.Description,
		&txn.MerchantName,
		&txn.Source,
		&originalData,
		&categoryID,
		&txn.Classification.CategoryName,
		&categoryType,
		&txn.Classification.Confidence,
		&txn.Classification.IsBusiness,
		&source,
		&txn.Classification.Reasoning,
	)
	if err != nil {
		return txn, fmt.Errorf("failed to scan transaction: %w", err)
	}

	txn.Date, err = time.ParseInLocation(model.DateLayout, date, time.UTC)
	if err != nil {
		return txn, fmt.Errorf("failed to parse date for %s: %w", txn.ID, err)
	}
	txn.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return txn, fmt.Errorf("failed to parse amount for %s: %w", txn.ID, err)
	}
	if originalData != "" {
		if err := json.Unmarshal([]byte(originalData), &txn.OriginalData); err != nil {
			return txn, fmt.Errorf("failed to unmarshal original data for %s: %w", txn.ID, err)
		}
	}
	if categoryID.Valid {
		id := categoryID.String
		txn.Classification.CategoryID = &id
	}
	txn.CategoryType = model.CategoryType(categoryType)
	txn.Classification.Source = model.ClassificationSource(source)

	return txn, nil
}
