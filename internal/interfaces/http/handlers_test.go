package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careloop/medvault/internal/domain/record"
	"github.com/careloop/medvault/internal/domain/upload"
	"github.com/careloop/medvault/internal/repository"
	"github.com/careloop/medvault/internal/uploader"
)

type stubRecords struct {
	records []*record.MedicalRecord
	stale   bool
	deleted []string
	delErr  error
}

func (s *stubRecords) List() ([]*record.MedicalRecord, bool) { return s.records, s.stale }

func (s *stubRecords) Get(id string) (*record.MedicalRecord, error) {
	for _, rec := range s.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, repository.ErrRecordNotFound
}

func (s *stubRecords) Update(_ context.Context, rec *record.MedicalRecord) error {
	if _, err := s.Get(rec.ID); err != nil {
		return err
	}
	return nil
}

func (s *stubRecords) Delete(_ context.Context, id string) error {
	if s.delErr != nil {
		return s.delErr
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubRecords) Refresh(context.Context) error { return nil }

type stubUploads struct {
	jobs      map[string]upload.Job
	submitErr error
	cancelErr error
	retryErr  error
	submitted []uploader.Draft
	lastFile  *uploader.SubmittedFile
}

func (s *stubUploads) Submit(file *uploader.SubmittedFile, draft uploader.Draft) (string, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.submitted = append(s.submitted, draft)
	s.lastFile = file
	return "job-1", nil
}

func (s *stubUploads) Cancel(string) error { return s.cancelErr }

func (s *stubUploads) Retry(string) (string, error) {
	if s.retryErr != nil {
		return "", s.retryErr
	}
	return "job-2", nil
}

func (s *stubUploads) Jobs() []upload.Job {
	out := make([]upload.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out
}

func (s *stubUploads) Job(id string) (upload.Job, bool) {
	job, ok := s.jobs[id]
	return job, ok
}

type stubExporter struct{}

func (stubExporter) Write(records []*record.MedicalRecord, w io.Writer) error {
	_, err := fmt.Fprintf(w, "%d records", len(records))
	return err
}

func newTestServer(records *stubRecords, uploads *stubUploads) *Server {
	if uploads.jobs == nil {
		uploads.jobs = map[string]upload.Job{
			"job-1": {ID: "job-1", Status: upload.StatusUploading},
		}
	}
	return NewServer(ServerConfig{}, records, uploads, stubExporter{}, zap.NewNop())
}

func doRequest(s *Server, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(&stubRecords{}, &stubUploads{})
	w := doRequest(s, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode(t, w).Success)
}

func TestListRecords(t *testing.T) {
	s := newTestServer(&stubRecords{
		stale: true,
		records: []*record.MedicalRecord{
			{
				ID:         "r1",
				Title:      "Labs",
				RecordType: record.TypeLabResult,
				VisitDate:  time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC),
			},
		},
	}, &stubUploads{})

	w := doRequest(s, http.MethodGet, "/api/records", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data RecordListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Records, 1)
	assert.Equal(t, "Labs", resp.Data.Records[0].Title)
	assert.Equal(t, "2026-06-02", resp.Data.Records[0].VisitDate)
	assert.True(t, resp.Data.Stale)
}

func TestGetRecord_NotFound(t *testing.T) {
	s := newTestServer(&stubRecords{}, &stubUploads{})
	w := doRequest(s, http.MethodGet, "/api/records/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, decode(t, w).Success)
}

func TestUpdateRecord_InvalidType(t *testing.T) {
	s := newTestServer(&stubRecords{}, &stubUploads{})
	body := `{"title":"x","record_type":"unknown","visit_date":"2026-01-01"}`
	w := doRequest(s, http.MethodPut, "/api/records/r1", bytes.NewBufferString(body), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteRecord(t *testing.T) {
	records := &stubRecords{}
	s := newTestServer(records, &stubUploads{})

	w := doRequest(s, http.MethodDelete, "/api/records/r1", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"r1"}, records.deleted)
}

func TestDeleteRecord_NotFound(t *testing.T) {
	records := &stubRecords{delErr: repository.ErrRecordNotFound}
	s := newTestServer(records, &stubUploads{})

	w := doRequest(s, http.MethodDelete, "/api/records/r1", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportRecords(t *testing.T) {
	s := newTestServer(&stubRecords{
		records: []*record.MedicalRecord{{ID: "r1"}, {ID: "r2"}},
	}, &stubUploads{})

	w := doRequest(s, http.MethodGet, "/api/records/export", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "medical-records.xlsx")
	assert.Equal(t, "2 records", w.Body.String())
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, fileData []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(fileData)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestSubmitUpload(t *testing.T) {
	uploads := &stubUploads{}
	s := newTestServer(&stubRecords{}, uploads)

	body, contentType := multipartBody(t, map[string]string{
		"title":       "Quarterly labs",
		"record_type": "lab_result",
		"visit_date":  "2026-06-02",
	}, "labs.pdf", []byte("%PDF-1.4"))

	w := doRequest(s, http.MethodPost, "/api/uploads", body, contentType)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, uploads.submitted, 1)
	assert.Equal(t, "Quarterly labs", uploads.submitted[0].Title)
	assert.Equal(t, record.TypeLabResult, uploads.submitted[0].RecordType)
	require.NotNil(t, uploads.lastFile)
	assert.Equal(t, "labs.pdf", uploads.lastFile.Name)
}

func TestSubmitUpload_MetadataOnly(t *testing.T) {
	uploads := &stubUploads{}
	s := newTestServer(&stubRecords{}, uploads)

	body, contentType := multipartBody(t, map[string]string{
		"title":       "Old visit",
		"record_type": "other",
		"visit_date":  "2025-11-20",
	}, "", nil)

	w := doRequest(s, http.MethodPost, "/api/uploads", body, contentType)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Nil(t, uploads.lastFile)
}

func TestSubmitUpload_BadDate(t *testing.T) {
	s := newTestServer(&stubRecords{}, &stubUploads{})

	body, contentType := multipartBody(t, map[string]string{
		"title":       "x",
		"record_type": "other",
		"visit_date":  "junk",
	}, "", nil)

	w := doRequest(s, http.MethodPost, "/api/uploads", body, contentType)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitUpload_ValidationErrors(t *testing.T) {
	uploads := &stubUploads{submitErr: uploader.ErrFileTooLarge}
	s := newTestServer(&stubRecords{}, uploads)

	body, contentType := multipartBody(t, map[string]string{
		"title":       "x",
		"record_type": "other",
		"visit_date":  "2026-01-01",
	}, "big.pdf", []byte("data"))

	w := doRequest(s, http.MethodPost, "/api/uploads", body, contentType)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelUpload_NotFound(t *testing.T) {
	uploads := &stubUploads{cancelErr: uploader.ErrJobNotFound}
	s := newTestServer(&stubRecords{}, uploads)

	w := doRequest(s, http.MethodPost, "/api/uploads/nope/cancel", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetryUpload_NotRetryable(t *testing.T) {
	uploads := &stubUploads{retryErr: uploader.ErrNotRetryable}
	s := newTestServer(&stubRecords{}, uploads)

	w := doRequest(s, http.MethodPost, "/api/uploads/job-1/retry", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}
