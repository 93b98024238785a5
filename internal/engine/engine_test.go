package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/catalog"
	"github.com/Veraticus/the-books-must-balance/internal/classify"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
	"github.com/Veraticus/the-books-must-balance/internal/testutil"
)

const sampleCSV = "日付,摘要,金額\n" +
	"2024/04/01,スターバックス 渋谷店,450\n" +
	"2024/04/02,タイムズ駐車場,1200\n" +
	"2024/04/03,文具店,300\n" +
	"not a date,壊れた行,100\n"

type recordedImport struct {
	format     string
	status     string
	unique     int
	duplicates int
	warnings   int
}

type fakeRecorder struct {
	imports []recordedImport
	mu      sync.Mutex
}

func (r *fakeRecorder) ObserveImport(format, status string, unique, duplicates, warnings int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.imports = append(r.imports, recordedImport{format, status, unique, duplicates, warnings})
}

type failingStore struct{}

func (failingStore) History(context.Context, string) ([]model.Transaction, error) {
	return nil, errors.New("database is locked")
}

func (failingStore) SaveTransactions(context.Context, string, []model.AnnotatedTransaction) error {
	return nil
}

// cancellingClassifier ends the import's context the first time it is asked.
type cancellingClassifier struct {
	cancel context.CancelFunc
}

func (c cancellingClassifier) Classify(context.Context, model.ClassificationInput) (model.ClassificationResult, bool) {
	c.cancel()
	return model.ClassificationResult{}, false
}

func newImporter(t *testing.T, store Store, ai classify.Classifier) (*Importer, *fakeRecorder) {
	t.Helper()
	cat := catalog.Default()
	orch := classify.NewOrchestrator(classify.NewRuleClassifier(nil, cat), ai, cat, classify.Config{Concurrency: 2}, common.DiscardLogger())
	rec := &fakeRecorder{}
	im := New(store, orch, common.DiscardLogger()).
		WithRecorder(rec).
		WithClock(func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) })
	return im, rec
}

func TestImport_PersistsClassifiedTransactions(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	im, rec := newImporter(t, store, nil)

	result, err := im.Import(ctx, Request{UserID: "user-1", Filename: "april.csv", Data: []byte(sampleCSV)})
	require.NoError(t, err)

	assert.Equal(t, Summary{
		Format:     "generic",
		Errors:     result.Summary.Errors,
		Total:      3,
		Unique:     3,
		Duplicates: 0,
	}, result.Summary)
	require.Len(t, result.Summary.Errors, 1)
	assert.Contains(t, result.Summary.Errors[0], "row 5")

	require.Len(t, result.Transactions, 3)
	cafe := result.Transactions[0]
	assert.Equal(t, "会議費", cafe.Classification.CategoryName)
	require.NotNil(t, cafe.Classification.CategoryID)
	assert.Equal(t, model.CategoryTypeExpense, cafe.CategoryType)
	assert.Equal(t, model.SourceFallback, cafe.Classification.Source)
	assert.Equal(t, "旅費交通費", result.Transactions[1].Classification.CategoryName)
	assert.Equal(t, "消耗品費", result.Transactions[2].Classification.CategoryName)

	stored, err := store.ListTransactions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "スターバックス 渋谷店", stored[0].Description)
	assert.Equal(t, *cafe.Classification.CategoryID, *stored[0].Classification.CategoryID)

	require.Len(t, rec.imports, 1)
	assert.Equal(t, recordedImport{"generic", StatusImported, 3, 0, 1}, rec.imports[0])
}

func TestImport_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	im, _ := newImporter(t, store, nil)
	req := Request{UserID: "user-1", Filename: "april.csv", Data: []byte(sampleCSV)}

	_, err := im.Import(ctx, req)
	require.NoError(t, err)

	again, err := im.Import(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, again.Transactions)
	assert.Len(t, again.Duplicates, 3)
	assert.Equal(t, 0, again.Summary.Unique)
	assert.Equal(t, 3, again.Summary.Duplicates)

	count, err := store.CountTransactions(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestImport_HistoryIsPerUser(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	im, _ := newImporter(t, store, nil)

	_, err := im.Import(ctx, Request{UserID: "user-1", Data: []byte(sampleCSV)})
	require.NoError(t, err)

	other, err := im.Import(ctx, Request{UserID: "user-2", Data: []byte(sampleCSV)})
	require.NoError(t, err)
	assert.Equal(t, 3, other.Summary.Unique)
}

func TestImport_DryRun(t *testing.T) {
	ctx := context.Background()
	store := testutil.SetupTestDB(t)
	im, rec := newImporter(t, store, nil)

	result, err := im.Import(ctx, Request{UserID: "user-1", Data: []byte(sampleCSV), DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Len(t, result.Transactions, 3)

	count, err := store.CountTransactions(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, StatusDryRun, rec.imports[0].status)
}

func TestImport_NoTransactions(t *testing.T) {
	store := testutil.SetupTestDB(t)
	im, rec := newImporter(t, store, nil)

	_, err := im.Import(context.Background(), Request{UserID: "user-1", Data: []byte("foo,bar\nbaz,qux\n")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTransactions)

	var importErr *ImportError
	require.ErrorAs(t, err, &importErr)
	assert.Equal(t, "unknown", importErr.Format)
	assert.NotEmpty(t, importErr.Warnings)
	assert.Equal(t, StatusRejected, rec.imports[0].status)
}

func TestImport_CancelledDuringClassification(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	im, rec := newImporter(t, store, cancellingClassifier{cancel: cancel})

	_, err := im.Import(ctx, Request{UserID: "user-1", Data: []byte(sampleCSV)})
	require.ErrorIs(t, err, context.Canceled)

	count, err := store.CountTransactions(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, StatusCancelled, rec.imports[0].status)
}

func TestImport_StoreFailure(t *testing.T) {
	im, rec := newImporter(t, failingStore{}, nil)

	_, err := im.Import(context.Background(), Request{UserID: "user-1", Data: []byte(sampleCSV)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load existing transactions")
	assert.Equal(t, StatusFailed, rec.imports[0].status)
}

func TestImport_Progress(t *testing.T) {
	store := testutil.SetupTestDB(t)
	im, _ := newImporter(t, store, nil)

	var (
		mu      sync.Mutex
		calls   int
		highest int
	)
	_, err := im.Import(context.Background(), Request{
		UserID: "user-1",
		Data:   []byte(sampleCSV),
		OnProgress: func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if done > highest {
				highest = done
			}
			assert.Equal(t, 3, total)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, highest)
}

func TestImport_ShiftJIS(t *testing.T) {
	store := testutil.SetupTestDB(t)
	im, _ := newImporter(t, store, nil)

	// "日付,摘要,金額\n2024/04/01,コーヒー,450\n" encoded as Shift_JIS.
	data := []byte{
		0x93, 0xfa, 0x95, 0x74, ',', 0x93, 0x45, 0x97, 0x76, ',', 0x8b, 0xe0, 0x8a, 0x7a, '\n',
		'2', '0', '2', '4', '/', '0', '4', '/', '0', '1', ',',
		0x83, 0x52, 0x81, 0x5b, 0x83, 0x71, 0x81, 0x5b, ',', '4', '5', '0', '\n',
	}

	result, err := im.Import(context.Background(), Request{UserID: "user-1", Data: data})
	require.NoError(t, err)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "コーヒー", result.Transactions[0].Description)
	assert.Equal(t, "会議費", result.Transactions[0].Classification.CategoryName)
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		filename string
		data     string
		want     string
		wantErr  bool
	}{
		{name: "explicit csv", explicit: "CSV", filename: "x.ofx", want: FormatCSV},
		{name: "explicit qfx", explicit: "qfx", want: FormatOFX},
		{name: "explicit unknown", explicit: "xlsx", wantErr: true},
		{name: "ofx extension", filename: "bank.OFX", want: FormatOFX},
		{name: "qfx extension", filename: "card.qfx", want: FormatOFX},
		{name: "csv extension", filename: "card.csv", data: "OFXHEADER:100", want: FormatCSV},
		{name: "sniffed ofx header", data: "\n OFXHEADER:100\nDATA:OFXSGML", want: FormatOFX},
		{name: "sniffed xml ofx", data: `<?xml version="1.0"?><ofx>`, want: FormatOFX},
		{name: "default csv", data: "日付,摘要,金額", want: FormatCSV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat(tt.explicit, tt.filename, []byte(tt.data))
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUserLocks(t *testing.T) {
	locks := newUserLocks()
	ctx := context.Background()

	release, err := locks.acquire(ctx, "user-1")
	require.NoError(t, err)

	other, err := locks.acquire(ctx, "user-2")
	require.NoError(t, err)
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(waitCtx, "user-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	again, err := locks.acquire(ctx, "user-1")
	require.NoError(t, err)
	again()
}

func TestUserLocks_DropsIdleEntries(t *testing.T) {
	locks := newUserLocks()
	ctx := context.Background()

	for _, user := range []string{"user-1", "user-2", "user-3"} {
		release, err := locks.acquire(ctx, user)
		require.NoError(t, err)
		release()
		release()
	}
	assert.Zero(t, locks.size())

	held, err := locks.acquire(ctx, "user-1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(waitCtx, "user-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, locks.size())

	held()
	assert.Zero(t, locks.size())
}

var _ Store = (*storage.SQLiteStorage)(nil)
