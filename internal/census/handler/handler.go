// Package handler exposes census maintenance to HR operators and employees.
package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hrportal/internal/census/models"
	"hrportal/internal/census/service"
	"hrportal/pkg/domain"
	dErrors "hrportal/pkg/domain-errors"
	"hrportal/pkg/platform/httputil"
	"hrportal/pkg/platform/middleware/auth"
	"hrportal/pkg/requestcontext"
)

const (
	maxUploadBytes = 10 << 20
	xlsxMIME       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type Service interface {
	List(ctx context.Context, f models.Filter) (*service.Page, error)
	Get(ctx context.Context, staffID string) (*models.Record, error)
	Me(ctx context.Context) (*models.Record, error)
	Update(ctx context.Context, recordID domain.CensusRecordID, updates map[string]*string) (*models.Record, error)
	Delete(ctx context.Context, recordID domain.CensusRecordID) error
	Summary(ctx context.Context) (*models.Summary, error)
	Import(ctx context.Context, r io.Reader) (*service.ImportResult, error)
	Export(ctx context.Context, f models.Filter, w io.Writer) error
}

type Handler struct {
	svc       Service
	validator auth.TokenValidator
	logger    *slog.Logger
}

func New(svc Service, validator auth.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, validator: validator, logger: logger}
}

// Register mounts /census. Viewers may read; only admin and hr may write;
// deletion is admin only.
func (h *Handler) Register(r chi.Router) {
	r.Route("/census", func(r chi.Router) {
		r.Use(auth.RequireAuth(h.validator, h.logger))

		r.With(auth.RequireRole(h.logger, domain.RoleEmployee)).Get("/me", h.HandleMe)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(h.logger, domain.RoleAdmin, domain.RoleHR, domain.RoleViewer))
			r.Get("/records", h.HandleList)
			r.Get("/records/{ref}", h.HandleGet)
			r.Get("/summary", h.HandleSummary)
			r.Get("/export", h.HandleExport)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(h.logger, domain.RoleAdmin, domain.RoleHR))
			r.Patch("/records/{ref}", h.HandleUpdate)
			r.Post("/import", h.HandleImport)
		})
		r.With(auth.RequireRole(h.logger, domain.RoleAdmin)).Delete("/records/{ref}", h.HandleDelete)
	})
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		h.fail(w, r, "parse census filter", err)
		return
	}
	page, err := h.svc.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, "list census records", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(page))
}

// HandleGet looks a record up by staff id.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.fail(w, r, "get census record", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Me(r.Context())
	if err != nil {
		h.fail(w, r, "get own census record", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

// HandleUpdate edits a record by numeric id.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	recordID, err := domain.ParseCensusRecordID(chi.URLParam(r, "ref"))
	if err != nil {
		h.fail(w, r, "parse record id", dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid record id"))
		return
	}
	var updates map[string]*string
	if err := httputil.DecodeJSON(r, &updates); err != nil {
		h.fail(w, r, "decode census update", err)
		return
	}
	rec, err := h.svc.Update(r.Context(), recordID, updates)
	if err != nil {
		h.fail(w, r, "update census record", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	recordID, err := domain.ParseCensusRecordID(chi.URLParam(r, "ref"))
	if err != nil {
		h.fail(w, r, "parse record id", dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid record id"))
		return
	}
	if err := h.svc.Delete(r.Context(), recordID); err != nil {
		h.fail(w, r, "delete census record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Summary(r.Context())
	if err != nil {
		h.fail(w, r, "census summary", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sum)
}

type importResponse struct {
	Success  bool             `json:"success"`
	BatchID  string           `json:"import_batch_id"`
	Imported int              `json:"imported"`
	Rejected []rowErrorResult `json:"rejected"`
}

type rowErrorResult struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// HandleImport accepts either a multipart upload in field "file" or a raw
// xlsx body.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	body, err := uploadBody(r)
	if err != nil {
		h.fail(w, r, "read census upload", err)
		return
	}
	defer body.Close()

	res, err := h.svc.Import(r.Context(), body)
	if err != nil {
		h.fail(w, r, "import census", err)
		return
	}
	out := importResponse{Success: true, BatchID: res.BatchID, Imported: res.Imported, Rejected: []rowErrorResult{}}
	for _, re := range res.Rejected {
		out.Rejected = append(out.Rejected, rowErrorResult{Row: re.Row, Message: re.Message})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		h.fail(w, r, "parse census filter", err)
		return
	}
	var buf bytes.Buffer
	if err := h.svc.Export(r.Context(), f, &buf); err != nil {
		h.fail(w, r, "export census", err)
		return
	}
	name := "census-" + requestcontext.Now(r.Context()).Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", xlsxMIME)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func uploadBody(r *http.Request) (io.ReadCloser, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if r.ContentLength == 0 {
			return nil, dErrors.New(dErrors.CodeBadRequest, "spreadsheet body is required")
		}
		return r.Body, nil
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid multipart upload")
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "file not found in request")
	}
	return file, nil
}

func filterFromQuery(r *http.Request) (models.Filter, error) {
	q := r.URL.Query()
	f := models.Filter{
		Entity:        strings.TrimSpace(q.Get("entity")),
		InsuranceType: strings.TrimSpace(q.Get("insurance_type")),
		Relation:      models.Relation(strings.ToLower(strings.TrimSpace(q.Get("relation")))),
	}
	if v := q.Get("missing_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, dErrors.New(dErrors.CodeInvalidInput, "missing_only must be true or false")
		}
		f.MissingOnly = b
	}
	var err error
	if f.Page, err = intParam(q.Get("page"), "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = intParam(q.Get("page_size"), "page_size"); err != nil {
		return f, err
	}
	return f, nil
}

func intParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, name+" must be a positive integer")
	}
	return n, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	code := dErrors.CodeInternal
	if de, ok := dErrors.From(err); ok {
		code = de.Code
	}
	if httputil.StatusFor(code) == http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, op+" failed", "request_id", requestcontext.RequestID(ctx), "error", err)
	} else {
		h.logger.WarnContext(ctx, op+" rejected", "request_id", requestcontext.RequestID(ctx), "code", string(code))
	}
	httputil.WriteError(w, err)
}

type recordResponse struct {
	ID                  int64     `json:"id"`
	StaffID             string    `json:"staff_id"`
	EmployeeID          *int64    `json:"employee_id"`
	Relation            string    `json:"relation"`
	Entity              string    `json:"entity"`
	InsuranceType       string    `json:"insurance_type"`
	FullName            string    `json:"full_name"`
	FirstName           string    `json:"first_name"`
	SecondName          string    `json:"second_name"`
	FamilyName          string    `json:"family_name"`
	DOB                 string    `json:"dob"`
	Gender              string    `json:"gender"`
	Nationality         string    `json:"nationality"`
	MaritalStatus       string    `json:"marital_status"`
	EmiratesIDNumber    string    `json:"emirates_id_number"`
	UIDNumber           string    `json:"uid_number"`
	GDRFAFileNumber     string    `json:"gdrfa_file_number"`
	PassportNumber      string    `json:"passport_number"`
	MobileNo            string    `json:"mobile_no"`
	PersonalEmail       string    `json:"personal_email"`
	MissingFields       []string  `json:"missing_fields"`
	DHADOHMissingFields []string  `json:"dha_doh_missing_fields"`
	DHADOHValid         bool      `json:"dha_doh_valid"`
	CompletenessPct     int       `json:"completeness_pct"`
	AmendedFields       []string  `json:"amended_fields"`
	UpdatedBy           string    `json:"updated_by"`
	UpdatedAt           time.Time `json:"updated_at"`
	ImportBatchID       string    `json:"import_batch_id,omitempty"`
}

type listResponse struct {
	Records  []recordResponse `json:"records"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func toRecordResponse(rec *models.Record) recordResponse {
	out := recordResponse{
		ID:                  int64(rec.ID),
		StaffID:             rec.StaffID,
		Relation:            string(rec.Relation),
		Entity:              rec.Entity,
		InsuranceType:       rec.InsuranceType,
		FullName:            rec.FullName,
		FirstName:           rec.FirstName,
		SecondName:          rec.SecondName,
		FamilyName:          rec.FamilyName,
		DOB:                 rec.DOB,
		Gender:              rec.Gender,
		Nationality:         rec.Nationality,
		MaritalStatus:       rec.MaritalStatus,
		EmiratesIDNumber:    rec.EmiratesIDNumber,
		UIDNumber:           rec.UIDNumber,
		GDRFAFileNumber:     rec.GDRFAFileNumber,
		PassportNumber:      rec.PassportNumber,
		MobileNo:            rec.MobileNo,
		PersonalEmail:       rec.PersonalEmail,
		MissingFields:       nonNil(rec.MissingFields),
		DHADOHMissingFields: nonNil(rec.DHADOHMissingFields),
		DHADOHValid:         rec.DHADOHValid,
		CompletenessPct:     rec.CompletenessPct,
		AmendedFields:       nonNil(rec.AmendedFields),
		UpdatedBy:           rec.UpdatedBy,
		UpdatedAt:           rec.UpdatedAt,
		ImportBatchID:       rec.ImportBatchID,
	}
	if !rec.EmployeeID.IsZero() {
		v := int64(rec.EmployeeID)
		out.EmployeeID = &v
	}
	return out
}

func toListResponse(page *service.Page) listResponse {
	out := listResponse{Records: make([]recordResponse, 0, len(page.Items)), Total: page.Total, Page: page.Page, PageSize: page.PageSize}
	for _, rec := range page.Items {
		out.Records = append(out.Records, toRecordResponse(rec))
	}
	return out
}
