// Package engine runs the import pipeline: parse an export, drop records
// already stored, classify the rest and persist them.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/classify"
	"github.com/Veraticus/the-books-must-balance/internal/csvimport"
	"github.com/Veraticus/the-books-must-balance/internal/dedupe"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/ofx"
)

// Import statuses reported to the recorder.
const (
	StatusImported  = "imported"
	StatusDryRun    = "dry_run"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Request describes one file to import.
type Request struct {
	// OnProgress is called after each record is classified. It may be
	// called concurrently.
	OnProgress func(done, total int)
	UserID     string
	Filename   string
	Format     string // "csv", "ofx" or empty to detect
	Data       []byte
	DryRun     bool
}

// Summary counts what happened to a file.
type Summary struct {
	Format     string   `json:"format"`
	Errors     []string `json:"errors,omitempty"`
	Total      int      `json:"total"`
	Unique     int      `json:"unique"`
	Duplicates int      `json:"duplicates"`
}

// Result is the outcome of a successful import.
type Result struct {
	Transactions []model.AnnotatedTransaction
	Duplicates   []model.Transaction
	Summary      Summary
	DryRun       bool
}

// Importer wires parsing, deduplication, classification and persistence.
type Importer struct {
	store        Store
	orchestrator *classify.Orchestrator
	csv          *csvimport.Parser
	ofx          *ofx.Parser
	recorder     Recorder
	logger       *slog.Logger
	locks        *userLocks
}

// New creates an importer.
func New(store Store, orchestrator *classify.Orchestrator, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		store:        store,
		orchestrator: orchestrator,
		csv:          csvimport.NewParser(logger),
		ofx:          ofx.NewParser(logger),
		recorder:     noopRecorder{},
		logger:       logger,
		locks:        newUserLocks(),
	}
}

// WithRecorder attaches an outcome recorder.
func (im *Importer) WithRecorder(r Recorder) *Importer {
	if r != nil {
		im.recorder = r
	}
	return im
}

// WithClock sets the reference clock used for month/day dates.
func (im *Importer) WithClock(now func() time.Time) *Importer {
	im.csv.Now = now
	return im
}

// Parse converts a file into records without touching the store.
func (im *Importer) Parse(ctx context.Context, req Request) (model.ParseOutcome, error) {
	format, err := DetectFormat(req.Format, req.Filename, req.Data)
	if err != nil {
		return model.ParseOutcome{}, err
	}

	if format == FormatOFX {
		outcome, err := im.ofx.ParseFile(ctx, bytes.NewReader(req.Data))
		if err != nil {
			return model.ParseOutcome{Format: FormatOFX, Errors: []string{err.Error()}}, nil
		}
		return outcome, nil
	}
	return im.csv.ParseBytes(req.Data), nil
}

// Import runs the whole pipeline for one file. A file without usable records
// fails with an *ImportError wrapping ErrNoTransactions. If ctx ends during
// classification nothing is persisted.
func (im *Importer) Import(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	outcome, err := im.Parse(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if outcome.Failed() {
		im.recorder.ObserveImport(outcome.Format, StatusRejected, 0, 0, len(outcome.Errors))
		return nil, &ImportError{
			Err:      ErrNoTransactions,
			Format:   outcome.Format,
			Warnings: outcome.Errors,
		}
	}

	release, err := im.locks.acquire(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := im.store.History(ctx, req.UserID)
	if err != nil {
		im.recorder.ObserveImport(outcome.Format, StatusFailed, 0, 0, len(outcome.Errors))
		return nil, fmt.Errorf("failed to load existing transactions: %w", err)
	}

	split := dedupe.Dedupe(outcome.Transactions, existing)

	annotated, err := im.annotate(ctx, split.Unique, req.OnProgress)
	if err != nil {
		im.recorder.ObserveImport(outcome.Format, StatusCancelled, 0, 0, len(outcome.Errors))
		return nil, err
	}

	status := StatusDryRun
	if !req.DryRun {
		if err := im.store.SaveTransactions(ctx, req.UserID, annotated); err != nil {
			im.recorder.ObserveImport(outcome.Format, StatusFailed, 0, 0, len(outcome.Errors))
			return nil, fmt.Errorf("failed to save transactions: %w", err)
		}
		status = StatusImported
	}

	result := &Result{
		Transactions: annotated,
		Duplicates:   split.Duplicates,
		DryRun:       req.DryRun,
		Summary: Summary{
			Format:     outcome.Format,
			Errors:     outcome.Errors,
			Total:      len(outcome.Transactions),
			Unique:     len(split.Unique),
			Duplicates: len(split.Duplicates),
		},
	}

	im.recorder.ObserveImport(outcome.Format, status, result.Summary.Unique, result.Summary.Duplicates, len(outcome.Errors))
	im.logger.Info("Imported transactions",
		"user", req.UserID,
		"format", outcome.Format,
		"total", result.Summary.Total,
		"unique", result.Summary.Unique,
		"duplicates", result.Summary.Duplicates,
		"warnings", len(outcome.Errors),
		"dry_run", req.DryRun,
		"duration", time.Since(start))

	return result, nil
}

func (im *Importer) annotate(ctx context.Context, txns []model.Transaction, onProgress func(done, total int)) ([]model.AnnotatedTransaction, error) {
	if len(txns) == 0 {
		return []model.AnnotatedTransaction{}, nil
	}

	inputs := make([]model.ClassificationInput, len(txns))
	for i := range txns {
		inputs[i] = model.InputFor(txns[i])
	}

	var progress func()
	if onProgress != nil {
		var done atomic.Int64
		total := len(inputs)
		progress = func() {
			onProgress(int(done.Add(1)), total)
		}
	}

	results, err := im.orchestrator.ClassifyBatchWithProgress(ctx, inputs, progress)
	if err != nil {
		return nil, err
	}

	cat := im.orchestrator.Catalog()
	annotated := make([]model.AnnotatedTransaction, len(txns))
	for i := range txns {
		annotated[i] = model.AnnotatedTransaction{
			Transaction:    txns[i],
			Classification: results[i],
		}
		if def, ok := cat.ByName(results[i].CategoryName); ok {
			annotated[i].CategoryType = def.Type
		}
	}
	return annotated, nil
}
