package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/catalog"
	"github.com/Veraticus/the-books-must-balance/internal/classify"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/engine"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// allowedUploadTypes are the declared content types accepted for imports.
// Browsers label CSV inconsistently, hence the spread.
var allowedUploadTypes = map[string]bool{
	"text/csv":                    true,
	"application/csv":             true,
	"text/comma-separated-values": true,
	"application/vnd.ms-excel":    true,
	"text/plain":                  true,
	"application/x-ofx":           true,
	"application/vnd.intu.qfx":    true,
}

// sniffLength is how much of an upload is inspected to confirm it is text.
const sniffLength = 512

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the API operations.
type Handler struct {
	importer     *engine.Importer
	orchestrator *classify.Orchestrator
	pinger       Pinger
	logger       *slog.Logger
	maxUpload    int64
}

// TransactionView is an imported transaction as returned to clients.
type TransactionView struct {
	CategoryID   *string                    `json:"categoryId"`
	Date         string                     `json:"date"`
	Amount       decimal.Decimal            `json:"amount"`
	Description  string                     `json:"description"`
	MerchantName string                     `json:"merchantName,omitempty"`
	CategoryName string                     `json:"categoryName"`
	CategoryType model.CategoryType         `json:"categoryType"`
	Source       model.ClassificationSource `json:"source"`
	Confidence   float64                    `json:"confidence"`
	IsBusiness   bool                       `json:"isBusiness"`
}

// ImportResponse is the payload of a successful import.
type ImportResponse struct {
	Transactions []TransactionView `json:"transactions"`
	Summary      engine.Summary    `json:"summary"`
	DryRun       bool              `json:"dryRun,omitempty"`
}

// ClassifyRequest is the body of a classification request.
type ClassifyRequest struct {
	Amount       *decimal.Decimal `json:"amount" validate:"required"`
	Description  string           `json:"description" validate:"required,max=500"`
	MerchantName string           `json:"merchantName" validate:"max=200"`
	OCRText      string           `json:"ocrText"`
}

func viewOf(txn model.AnnotatedTransaction) TransactionView {
	return TransactionView{
		Date:         txn.Date.Format(model.DateLayout),
		Amount:       txn.Amount,
		Description:  txn.Description,
		MerchantName: txn.MerchantName,
		CategoryID:   txn.Classification.CategoryID,
		CategoryName: txn.Classification.CategoryName,
		CategoryType: txn.CategoryType,
		Confidence:   txn.Classification.Confidence,
		IsBusiness:   txn.Classification.IsBusiness,
		Source:       txn.Classification.Source,
	}
}

// Import handles POST /api/v1/transactions/import.
func (h *Handler) Import(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return SendError(c, http.StatusBadRequest, CodeFileRequired, "A file must be uploaded in the \"file\" field", nil)
	}

	declared := declaredType(fh)
	if !allowedUploadTypes[declared] {
		return SendError(c, http.StatusBadRequest, CodeUnsupportedMediaType,
			"Only CSV or OFX files are accepted", map[string]string{"contentType": declared})
	}
	if fh.Size > h.maxUpload {
		return SendError(c, http.StatusBadRequest, CodeFileTooLarge,
			fmt.Sprintf("File exceeds the %d byte limit", h.maxUpload), nil)
	}

	data, err := readUpload(fh, h.maxUpload)
	if err != nil {
		return SendSystemError(c, h.logger, err)
	}

	head := data
	if len(head) > sniffLength {
		head = head[:sniffLength]
	}
	if sniffed := http.DetectContentType(head); !strings.HasPrefix(sniffed, "text/") {
		return SendError(c, http.StatusBadRequest, CodeUnsupportedMediaType,
			"File content is not text", map[string]string{"contentType": sniffed})
	}

	dryRun, _ := strconv.ParseBool(c.QueryParam("dryRun"))

	result, err := h.importer.Import(c.Request().Context(), engine.Request{
		UserID:   UserID(c),
		Filename: fh.Filename,
		Format:   c.QueryParam("format"),
		Data:     data,
		DryRun:   dryRun,
	})
	if err != nil {
		var importErr *engine.ImportError
		switch {
		case errors.As(err, &importErr):
			return SendError(c, http.StatusBadRequest, CodeNoTransactions,
				"No transactions could be read from the file", importErr.Warnings)
		case errors.Is(err, common.ErrUnsupportedFormat):
			return SendError(c, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return SendError(c, http.StatusServiceUnavailable, CodeUnavailable, "Import was interrupted", nil)
		default:
			return SendSystemError(c, h.logger, err)
		}
	}

	views := make([]TransactionView, len(result.Transactions))
	for i := range result.Transactions {
		views[i] = viewOf(result.Transactions[i])
	}

	return SendData(c, http.StatusOK, ImportResponse{
		Transactions: views,
		Summary:      result.Summary,
		DryRun:       result.DryRun,
	})
}

func declaredType(fh *multipart.FileHeader) string {
	mediaType, _, err := mime.ParseMediaType(fh.Header.Get(echo.HeaderContentType))
	if err != nil {
		return ""
	}
	return strings.ToLower(mediaType)
}

func readUpload(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}

// Classify handles POST /api/v1/classify.
func (h *Handler) Classify(c echo.Context) error {
	var req ClassifyRequest
	if err := c.Bind(&req); err != nil {
		return SendSystemError(c, h.logger, fmt.Errorf("failed to bind classify request: %w", err))
	}
	if err := c.Validate(&req); err != nil {
		return SendError(c, http.StatusBadRequest, CodeValidation, "Invalid classification request", fieldErrors(err))
	}

	result, err := h.classify(c.Request().Context(), model.ClassificationInput{
		Description:  req.Description,
		MerchantName: req.MerchantName,
		OCRText:      req.OCRText,
		Amount:       *req.Amount,
	})
	if err != nil {
		h.logger.Error("Classification failed",
			"trace_id", GetTraceID(c),
			"error", err)
		return SendError(c, http.StatusInternalServerError, CodeClassification, "Classification failed", nil)
	}

	return SendData(c, http.StatusOK, result)
}

// classify runs the hybrid classifier and, if that panics, the rule stage on
// its own. An error means both failed.
func (h *Handler) classify(ctx context.Context, in model.ClassificationInput) (model.ClassificationResult, error) {
	result, err := h.guarded(func() model.ClassificationResult {
		return h.orchestrator.Classify(ctx, in)
	})
	if err == nil {
		return result, nil
	}
	h.logger.Warn("Hybrid classification failed, trying rules only", "error", err)
	return h.guarded(func() model.ClassificationResult {
		return h.orchestrator.Fallback(ctx, in)
	})
}

func (h *Handler) guarded(fn func() model.ClassificationResult) (result model.ClassificationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", common.ErrClassificationFailed, r)
		}
	}()
	return fn(), nil
}

// Categories handles GET /api/v1/categories.
func (h *Handler) Categories(c echo.Context) error {
	var filter catalog.Filter

	if raw := c.QueryParam("type"); raw != "" {
		typ := model.CategoryType(strings.ToLower(raw))
		if !typ.Valid() {
			return SendError(c, http.StatusBadRequest, CodeValidation, "Unknown category type",
				map[string]string{"type": raw})
		}
		filter.Type = &typ
	}
	if raw := c.QueryParam("business"); raw != "" {
		business, err := strconv.ParseBool(raw)
		if err != nil {
			return SendError(c, http.StatusBadRequest, CodeValidation, "business must be true or false",
				map[string]string{"business": raw})
		}
		filter.IsBusiness = &business
	}

	cat := h.orchestrator.Catalog()
	return SendData(c, http.StatusOK, map[string]any{
		"version":    cat.Version(),
		"categories": cat.List(filter),
	})
}

// Health handles GET /healthz.
func (h *Handler) Health(c echo.Context) error {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			h.logger.Warn("Health check failed", "error", err)
			return SendError(c, http.StatusServiceUnavailable, CodeUnavailable, "Database connection failed", nil)
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
