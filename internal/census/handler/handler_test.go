package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"github.com/xuri/excelize/v2"

	"hrportal/internal/census/models"
	"hrportal/internal/census/service"
	censusstore "hrportal/internal/census/store"
	dErrors "hrportal/pkg/domain-errors"
	auditmemory "hrportal/pkg/platform/audit/store/memory"
	"hrportal/pkg/platform/middleware/auth"
	"hrportal/pkg/platform/tx"
	"hrportal/pkg/testutil"
)

type stubValidator map[string]auth.Claims

func (v stubValidator) ValidateToken(token string) (*auth.Claims, error) {
	c, ok := v[token]
	if !ok {
		return nil, errors.New("bad token")
	}
	return &c, nil
}

type CensusHandlerSuite struct {
	suite.Suite
	store  *censusstore.InMemory
	router chi.Router
	record *models.Record
}

func TestCensusHandlerSuite(t *testing.T) {
	suite.Run(t, new(CensusHandlerSuite))
}

func (s *CensusHandlerSuite) SetupTest() {
	s.store = censusstore.NewInMemory()
	svc := service.New(s.store, tx.NewLockRunner(), auditmemory.NewInMemoryStore())
	validator := stubValidator{
		"admin-token":    {Subject: "admin-1", Role: "admin"},
		"hr-token":       {Subject: "hr-1", Role: "hr"},
		"viewer-token":   {Subject: "viewer-1", Role: "viewer"},
		"employee-token": {Subject: "E100", Role: "employee"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = chi.NewRouter()
	New(svc, validator, logger).Register(s.router)

	s.record = &models.Record{StaffID: "E100", Relation: models.RelationEmployee, Entity: "ACME", FullName: "Aisha Khan"}
	s.record.RecomputeCompleteness()
	s.Require().NoError(s.store.Insert(context.Background(), s.record))
}

func (s *CensusHandlerSuite) do(req *http.Request, bearer string) *httptest.ResponseRecorder {
	if bearer != "" {
		testutil.WithBearer(req, bearer)
	}
	return testutil.DoRequest(s.router, req)
}

func (s *CensusHandlerSuite) TestReadAccess() {
	for _, bearer := range []string{"admin-token", "hr-token", "viewer-token"} {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/census/records?entity=ACME"), bearer)
		s.Equal(http.StatusOK, rr.Code, bearer)
	}

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/census/records"), "employee-token")
	s.Equal(http.StatusForbidden, rr.Code)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/census/records"), "")
	s.Equal(http.StatusUnauthorized, rr.Code)
}

func (s *CensusHandlerSuite) TestListResponse() {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/census/records?page=1&page_size=10"), "viewer-token")
	s.Require().Equal(http.StatusOK, rr.Code)
	body := testutil.UnmarshalResponse[listResponse](s.T(), rr)
	s.Equal(1, body.Total)
	s.Equal(10, body.PageSize)
	s.Require().Len(body.Records, 1)
	s.Equal("E100", body.Records[0].StaffID)
	s.False(body.Records[0].DHADOHValid)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/census/records?page_size=0"), "viewer-token")
	testutil.AssertDomainError(s.T(), rr, dErrors.CodeInvalidInput)
}

func (s *CensusHandlerSuite) TestGetByStaffID() {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/census/records/E100"), "hr-token")
	s.Require().Equal(http.StatusOK, rr.Code)
	testutil.AssertJSONContains(s.T(), rr, "full_name", "Aisha Khan")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/census/records/E999"), "hr-token")
	testutil.AssertDomainError(s.T(), rr, dErrors.CodeNotFound)
}

func (s *CensusHandlerSuite) TestPatch() {
	path := "/census/records/" + s.record.ID.String()

	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPatch, path, map[string]any{"passport_number": "Z1"}), "viewer-token")
	s.Equal(http.StatusForbidden, rr.Code)

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPatch, path, map[string]any{"passport_number": "Z1"}), "hr-token")
	s.Require().Equal(http.StatusOK, rr.Code)
	testutil.AssertJSONContains(s.T(), rr, "passport_number", "Z1")
	testutil.AssertJSONContains(s.T(), rr, "updated_by", "hr:hr-1")

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPatch, path, map[string]any{"salary": "1"}), "hr-token")
	testutil.AssertDomainError(s.T(), rr, dErrors.CodeBadRequest)

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPatch, "/census/records/abc", map[string]any{"gender": "F"}), "hr-token")
	testutil.AssertDomainError(s.T(), rr, dErrors.CodeBadRequest)
}

func (s *CensusHandlerSuite) TestDeleteIsAdminOnly() {
	path := "/census/records/" + s.record.ID.String()
	rr := s.do(testutil.NewRequest(s.T(), http.MethodDelete, path), "hr-token")
	s.Equal(http.StatusForbidden, rr.Code)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodDelete, path), "admin-token")
	s.Equal(http.StatusNoContent, rr.Code)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodDelete, path), "admin-token")
	s.Equal(http.StatusNotFound, rr.Code)
}

func (s *CensusHandlerSuite) TestMe() {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/census/me"), "employee-token")
	s.Require().Equal(http.StatusOK, rr.Code)
	testutil.AssertJSONContains(s.T(), rr, "staff_id", "E100")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/census/me"), "hr-token")
	s.Equal(http.StatusForbidden, rr.Code)
}

func (s *CensusHandlerSuite) TestSummary() {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/census/summary"), "viewer-token")
	s.Require().Equal(http.StatusOK, rr.Code)
	testutil.AssertJSONContains(s.T(), rr, "total", float64(1))
}

func workbookBytes(s *CensusHandlerSuite) []byte {
	f := excelize.NewFile()
	defer f.Close()
	s.Require().NoError(f.SetSheetRow("Sheet1", "A1", &[]any{"Staff ID", "Relation", "Full Name"}))
	s.Require().NoError(f.SetSheetRow("Sheet1", "A2", &[]any{"E200", "employee", "Omar Ali"}))
	s.Require().NoError(f.SetSheetRow("Sheet1", "A3", &[]any{"E200", "uncle", "Bad Row"}))
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	s.Require().NoError(err)
	return buf.Bytes()
}

func (s *CensusHandlerSuite) TestImportMultipart() {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "census.xlsx")
	s.Require().NoError(err)
	_, err = part.Write(workbookBytes(s))
	s.Require().NoError(err)
	s.Require().NoError(mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/census/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := s.do(req, "hr-token")
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	res := testutil.UnmarshalResponse[importResponse](s.T(), rr)
	s.Equal(1, res.Imported)
	s.NotEmpty(res.BatchID)
	s.Equal([]rowErrorResult{{Row: 3, Message: `invalid relation "uncle"`}}, res.Rejected)
}

func (s *CensusHandlerSuite) TestImportRawBody() {
	req := httptest.NewRequest(http.MethodPost, "/census/import", bytes.NewReader(workbookBytes(s)))
	req.Header.Set("Content-Type", xlsxMIME)
	rr := s.do(req, "admin-token")
	s.Require().Equal(http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/census/import", bytes.NewReader(workbookBytes(s)))
	rr = s.do(req, "viewer-token")
	s.Equal(http.StatusForbidden, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/census/import", http.NoBody)
	rr = s.do(req, "hr-token")
	testutil.AssertDomainError(s.T(), rr, dErrors.CodeBadRequest)
}

func (s *CensusHandlerSuite) TestExport() {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/census/export?entity=ACME"), "viewer-token")
	s.Require().Equal(http.StatusOK, rr.Code)
	s.Equal(xlsxMIME, rr.Header().Get("Content-Type"))
	s.Contains(rr.Header().Get("Content-Disposition"), "attachment")

	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	s.Require().NoError(err)
	defer f.Close()
	rows, err := f.GetRows("Census")
	s.Require().NoError(err)
	s.Len(rows, 2)
}
