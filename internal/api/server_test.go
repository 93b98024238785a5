package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"github.com/Veraticus/the-books-must-balance/internal/catalog"
	"github.com/Veraticus/the-books-must-balance/internal/classify"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/engine"
	"github.com/Veraticus/the-books-must-balance/internal/metrics"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
	"github.com/Veraticus/the-books-must-balance/internal/testutil"
)

const (
	testToken = "token-1"
	testUser  = "user-1"

	aprilCSV = "日付,摘要,金額\n" +
		"2024/04/01,スターバックス 渋谷店,450\n" +
		"2024/04/02,タイムズ駐車場,1200\n" +
		"2024/04/03,文具店,300\n"
)

func TestServer(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

type ServerSuite struct {
	suite.Suite
	store    *storage.SQLiteStorage
	registry *prometheus.Registry
	server   *Server
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Error   *ErrorBody      `json:"error"`
	Success bool            `json:"success"`
}

type importData struct {
	Transactions []struct {
		CategoryID   *string `json:"categoryId"`
		Date         string  `json:"date"`
		Amount       string  `json:"amount"`
		Description  string  `json:"description"`
		CategoryName string  `json:"categoryName"`
		CategoryType string  `json:"categoryType"`
		Source       string  `json:"source"`
		Confidence   float64 `json:"confidence"`
		IsBusiness   bool    `json:"isBusiness"`
	} `json:"transactions"`
	Summary engine.Summary `json:"summary"`
	DryRun  bool           `json:"dryRun"`
}

func (s *ServerSuite) SetupTest() {
	logger := common.DiscardLogger()
	cat := catalog.Default()

	s.store = testutil.SetupTestDB(s.T())
	s.registry = prometheus.NewRegistry()
	m := metrics.New(s.registry)

	orch := classify.NewOrchestrator(classify.NewRuleClassifier(nil, cat), nil, cat, classify.Config{}, logger).
		WithRecorder(m)
	importer := engine.New(s.store, orch, logger).
		WithRecorder(m).
		WithClock(func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) })

	s.server = NewServer(Deps{
		Importer:       importer,
		Orchestrator:   orch,
		Auth:           StaticTokens{testToken: testUser},
		Pinger:         s.store,
		Recorder:       m,
		Gatherer:       s.registry,
		Logger:         logger,
		MaxUploadBytes: 1 << 20,
	})
}

func (s *ServerSuite) do(req *http.Request, authenticated bool) (*httptest.ResponseRecorder, envelope) {
	if authenticated {
		req.Header.Set(echoAuthorization, "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

const echoAuthorization = "Authorization"

func uploadRequest(target, filename, contentType string, data []byte) *http.Request {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, _ := w.CreatePart(h)
	_, _ = part.Write(data)
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (s *ServerSuite) storedCount() int {
	count, err := s.store.CountTransactions(context.Background(), testUser)
	s.Require().NoError(err)
	return count
}

func (s *ServerSuite) importsObserved() bool {
	families, err := s.registry.Gather()
	s.Require().NoError(err)
	for _, f := range families {
		if f.GetName() == "books_imports_total" {
			return true
		}
	}
	return false
}

func (s *ServerSuite) TestAuthentication() {
	s.Run("missing credential", func() {
		rec, env := s.do(jsonRequest(http.MethodGet, "/api/v1/categories", ""), false)
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.False(env.Success)
		s.Require().NotNil(env.Error)
		s.Equal(CodeAuthRequired, env.Error.Code)
		s.Equal("Authentication required", env.Error.Message)
	})

	s.Run("unknown token", func() {
		req := jsonRequest(http.MethodGet, "/api/v1/categories", "")
		req.Header.Set(echoAuthorization, "Bearer nope")
		rec, env := s.do(req, false)
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.Equal(CodeAuthRequired, env.Error.Code)
	})

	s.Run("wrong scheme", func() {
		req := jsonRequest(http.MethodGet, "/api/v1/categories", "")
		req.Header.Set(echoAuthorization, "Basic "+testToken)
		rec, _ := s.do(req, false)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})
}

func (s *ServerSuite) TestImport_Success() {
	rec, env := s.do(uploadRequest("/api/v1/transactions/import", "april.csv", "text/csv", []byte(aprilCSV)), true)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.True(env.Success)

	var data importData
	s.Require().NoError(json.Unmarshal(env.Data, &data))
	s.Require().Len(data.Transactions, 3)

	first := data.Transactions[0]
	s.Equal("2024-04-01", first.Date)
	s.Equal("450", first.Amount)
	s.Equal("会議費", first.CategoryName)
	s.Equal("expense", first.CategoryType)
	s.Equal("fallback", first.Source)
	s.True(first.IsBusiness)
	s.Require().NotNil(first.CategoryID)

	s.Equal(engine.Summary{Format: "generic", Total: 3, Unique: 3}, data.Summary)
	s.Equal(3, s.storedCount())
	s.NotEmpty(rec.Header().Get(TraceIDHeader))
}

func (s *ServerSuite) TestImport_SecondUploadIsAllDuplicates() {
	req := func() *http.Request {
		return uploadRequest("/api/v1/transactions/import", "april.csv", "text/csv", []byte(aprilCSV))
	}
	rec, _ := s.do(req(), true)
	s.Require().Equal(http.StatusOK, rec.Code)

	rec, env := s.do(req(), true)
	s.Require().Equal(http.StatusOK, rec.Code)

	var data importData
	s.Require().NoError(json.Unmarshal(env.Data, &data))
	s.Empty(data.Transactions)
	s.Equal(0, data.Summary.Unique)
	s.Equal(3, data.Summary.Duplicates)
	s.Equal(3, s.storedCount())
}

func (s *ServerSuite) TestImport_DryRun() {
	rec, env := s.do(uploadRequest("/api/v1/transactions/import?dryRun=true", "april.csv", "text/csv", []byte(aprilCSV)), true)
	s.Require().Equal(http.StatusOK, rec.Code)

	var data importData
	s.Require().NoError(json.Unmarshal(env.Data, &data))
	s.True(data.DryRun)
	s.Len(data.Transactions, 3)
	s.Zero(s.storedCount())
}

func (s *ServerSuite) TestImport_RejectsNonCSVType() {
	rec, env := s.do(uploadRequest("/api/v1/transactions/import", "april.pdf", "application/pdf", []byte(aprilCSV)), true)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Require().NotNil(env.Error)
	s.Equal(CodeUnsupportedMediaType, env.Error.Code)
	s.Zero(s.storedCount())
	s.False(s.importsObserved(), "file must be rejected before the importer runs")
}

func (s *ServerSuite) TestImport_RejectsBinaryContent() {
	binary := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00}
	rec, env := s.do(uploadRequest("/api/v1/transactions/import", "april.csv", "text/csv", binary), true)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(CodeUnsupportedMediaType, env.Error.Code)
	s.False(s.importsObserved())
}

func (s *ServerSuite) TestImport_MissingFile() {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	_ = w.WriteField("note", "no file here")
	_ = w.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions/import", body)
	req.Header.Set("Content-Type", w.FormDataContentType())

	rec, env := s.do(req, true)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(CodeFileRequired, env.Error.Code)
}

func (s *ServerSuite) TestImport_ZeroRowsReturnsWarnings() {
	csv := "日付,摘要,金額\nnot a date,壊れた行,100\n2024/04/02,,200\n"
	rec, env := s.do(uploadRequest("/api/v1/transactions/import", "broken.csv", "text/csv", []byte(csv)), true)
	s.Require().Equal(http.StatusBadRequest, rec.Code)
	s.False(env.Success)
	s.Require().NotNil(env.Error)
	s.Equal(CodeNoTransactions, env.Error.Code)

	details, ok := env.Error.Details.([]any)
	s.Require().True(ok, "details should list parse warnings")
	s.Len(details, 2)
	s.Contains(details[0], "row 2")
	s.Contains(details[1], "row 3")
	s.Zero(s.storedCount())
}

func (s *ServerSuite) TestClassify() {
	s.Run("rule result with fallback source", func() {
		rec, env := s.do(jsonRequest(http.MethodPost, "/api/v1/classify",
			`{"description":"コーヒー","amount":450}`), true)
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

		var result struct {
			CategoryID   *string `json:"categoryId"`
			CategoryName string  `json:"categoryName"`
			Source       string  `json:"source"`
			Confidence   float64 `json:"confidence"`
			IsBusiness   bool    `json:"isBusiness"`
		}
		s.Require().NoError(json.Unmarshal(env.Data, &result))
		s.Equal("会議費", result.CategoryName)
		s.Equal("fallback", result.Source)
		s.InDelta(0.7, result.Confidence, 1e-9)
		s.True(result.IsBusiness)
		s.Require().NotNil(result.CategoryID)
		s.Equal(*catalog.Default().Resolve("会議費"), *result.CategoryID)
	})

	s.Run("amount as string", func() {
		rec, env := s.do(jsonRequest(http.MethodPost, "/api/v1/classify",
			`{"description":"タイムズ駐車場","amount":"1200"}`), true)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Contains(string(env.Data), "旅費交通費")
	})

	s.Run("missing fields", func() {
		rec, env := s.do(jsonRequest(http.MethodPost, "/api/v1/classify", `{"merchantName":"x"}`), true)
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal(CodeValidation, env.Error.Code)
		details, ok := env.Error.Details.(map[string]any)
		s.Require().True(ok)
		s.Contains(details, "Description")
		s.Contains(details, "Amount")
	})

	s.Run("unparseable body", func() {
		rec, env := s.do(jsonRequest(http.MethodPost, "/api/v1/classify", `{"description":`), true)
		s.Equal(http.StatusInternalServerError, rec.Code)
		s.Equal(CodeInternal, env.Error.Code)
		s.Equal(genericErrorMessage, env.Error.Message)
	})
}

type panickingAI struct{}

func (panickingAI) Classify(context.Context, model.ClassificationInput) (model.ClassificationResult, bool) {
	panic("provider exploded")
}

// flakyRecorder panics on its first observation only.
type flakyRecorder struct {
	calls atomic.Int32
}

func (r *flakyRecorder) ObserveClassification(model.ClassificationSource, float64) {
	if r.calls.Add(1) == 1 {
		panic("recorder exploded")
	}
}

func classifyServer(orch *classify.Orchestrator) *Server {
	return NewServer(Deps{
		Orchestrator: orch,
		Auth:         StaticTokens{testToken: testUser},
		Logger:       common.DiscardLogger(),
	})
}

func (s *ServerSuite) TestClassify_FallsBackToRules() {
	cat := catalog.Default()
	logger := common.DiscardLogger()

	tests := []struct {
		orch *classify.Orchestrator
		name string
	}{
		{
			name: "AI stage panics",
			orch: classify.NewOrchestrator(nil, panickingAI{}, cat, classify.Config{}, logger),
		},
		{
			name: "hybrid path panics",
			orch: classify.NewOrchestrator(nil, nil, cat, classify.Config{}, logger).WithRecorder(&flakyRecorder{}),
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			req := jsonRequest(http.MethodPost, "/api/v1/classify", `{"description":"文具","amount":5000}`)
			req.Header.Set(echoAuthorization, "Bearer "+testToken)
			rec := httptest.NewRecorder()
			classifyServer(tt.orch).ServeHTTP(rec, req)

			s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
			var env envelope
			s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &env))
			s.True(env.Success)

			var result model.ClassificationResult
			s.Require().NoError(json.Unmarshal(env.Data, &result))
			s.Equal("食費", result.CategoryName)
			s.Equal(model.SourceFallback, result.Source)
		})
	}
}

func (s *ServerSuite) TestCategories() {
	s.Run("business expenses", func() {
		rec, env := s.do(jsonRequest(http.MethodGet, "/api/v1/categories?type=expense&business=true", ""), true)
		s.Require().Equal(http.StatusOK, rec.Code)

		var data struct {
			Categories []struct {
				ID           string `json:"id"`
				CategoryType string `json:"categoryType"`
				IsBusiness   bool   `json:"isBusiness"`
			} `json:"categories"`
			Version int `json:"version"`
		}
		s.Require().NoError(json.Unmarshal(env.Data, &data))
		s.Len(data.Categories, 13)
		for _, c := range data.Categories {
			s.Equal("expense", c.CategoryType)
			s.True(c.IsBusiness)
		}
		s.Positive(data.Version)
	})

	s.Run("unknown type", func() {
		rec, env := s.do(jsonRequest(http.MethodGet, "/api/v1/categories?type=bogus", ""), true)
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal(CodeValidation, env.Error.Code)
	})

	s.Run("bad business flag", func() {
		rec, _ := s.do(jsonRequest(http.MethodGet, "/api/v1/categories?business=maybe", ""), true)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *ServerSuite) TestHealthAndMetrics() {
	rec, _ := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil), false)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "healthy")

	rec, _ = s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil), false)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "books_http_requests_total")
}

func (s *ServerSuite) TestUnknownRoute() {
	rec, env := s.do(httptest.NewRequest(http.MethodGet, "/nope", nil), false)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Require().NotNil(env.Error)
	s.Equal(CodeNotFound, env.Error.Code)
}

func (s *ServerSuite) TestTraceIDIsPropagated() {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(TraceIDHeader, "trace-123")
	rec, _ := s.do(req, false)
	s.Equal("trace-123", rec.Header().Get(TraceIDHeader))
}

func (s *ServerSuite) TestStaticTokens() {
	auth := StaticTokens{"a": "user-a", "empty": ""}

	userID, err := auth.Authenticate(context.Background(), "a")
	s.NoError(err)
	s.Equal("user-a", userID)

	_, err = auth.Authenticate(context.Background(), "empty")
	s.ErrorIs(err, ErrUnauthenticated)

	_, err = auth.Authenticate(context.Background(), "")
	s.ErrorIs(err, ErrUnauthenticated)
}
