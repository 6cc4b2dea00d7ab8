package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/careloop/medvault/internal/domain/record"
	"github.com/careloop/medvault/internal/domain/upload"
	"github.com/careloop/medvault/internal/repository"
	"github.com/careloop/medvault/internal/uploader"
)

// maxMultipartMemory bounds in-memory buffering of uploaded files.
const maxMultipartMemory = 32 << 20

// Handlers contains all HTTP request handlers
type Handlers struct {
	records  RecordService
	uploads  UploadService
	exporter Exporter
	logger   *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(records RecordService, uploads UploadService, exporter Exporter, logger *zap.Logger) *Handlers {
	return &Handlers{
		records:  records,
		uploads:  uploads,
		exporter: exporter,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// RecordResponse represents a medical record in API responses
type RecordResponse struct {
	ID             string                  `json:"id"`
	Title          string                  `json:"title"`
	RecordType     string                  `json:"record_type"`
	FacilityName   string                  `json:"facility_name,omitempty"`
	VisitDate      string                  `json:"visit_date"`
	Notes          string                  `json:"notes,omitempty"`
	Attachment     *AttachmentResponse     `json:"attachment,omitempty"`
	Interpretation *InterpretationResponse `json:"interpretation,omitempty"`
	CreatedAt      string                  `json:"created_at"`
}

// AttachmentResponse represents an attachment in API responses
type AttachmentResponse struct {
	URL       string `json:"url"`
	FileName  string `json:"file_name"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
}

// InterpretationResponse represents an interpretation in API responses
type InterpretationResponse struct {
	Explanation         string   `json:"explanation"`
	RecommendedActions  []string `json:"recommended_actions"`
	AttentionIndicators []string `json:"attention_indicators"`
}

// RecordListResponse wraps the record list with the cache staleness flag
type RecordListResponse struct {
	Records []RecordResponse `json:"records"`
	Stale   bool             `json:"stale"`
}

// JobResponse represents an active upload job in API responses
type JobResponse struct {
	ID                 string          `json:"id"`
	FileName           string          `json:"file_name"`
	SizeBytes          int64           `json:"size_bytes,omitempty"`
	MimeType           string          `json:"mime_type,omitempty"`
	Status             string          `json:"status"`
	UploadProgress     int             `json:"upload_progress"`
	ProcessingProgress int             `json:"processing_progress"`
	ResultRecord       *RecordResponse `json:"result_record,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
}

// UpdateRecordRequest represents the editable metadata of a record
type UpdateRecordRequest struct {
	Title        string `json:"title" binding:"required"`
	RecordType   string `json:"record_type" binding:"required"`
	FacilityName string `json:"facility_name"`
	VisitDate    string `json:"visit_date" binding:"required"`
	Notes        string `json:"notes"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// ListRecords handles GET /api/records
func (h *Handlers) ListRecords(c *gin.Context) {
	records, stale := h.records.List()

	resp := RecordListResponse{
		Records: make([]RecordResponse, 0, len(records)),
		Stale:   stale,
	}
	for _, rec := range records {
		resp.Records = append(resp.Records, toRecordResponse(rec))
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// GetRecord handles GET /api/records/:id
func (h *Handlers) GetRecord(c *gin.Context) {
	rec, err := h.records.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, Response{
			Success: false,
			Error:   "record not found",
		})
		return
	}

	resp := toRecordResponse(rec)
	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// UpdateRecord handles PUT /api/records/:id
func (h *Handlers) UpdateRecord(c *gin.Context) {
	var req UpdateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	recordType := record.Type(req.RecordType)
	if !recordType.IsValid() {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid record type",
		})
		return
	}
	visitDate, err := time.Parse("2006-01-02", req.VisitDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid visit date, expected YYYY-MM-DD",
		})
		return
	}

	rec := &record.MedicalRecord{
		ID:           c.Param("id"),
		Title:        req.Title,
		RecordType:   recordType,
		FacilityName: req.FacilityName,
		VisitDate:    visitDate,
		Notes:        req.Notes,
	}
	if err := h.records.Update(c.Request.Context(), rec); err != nil {
		h.respondRecordError(c, err, "failed to update record")
		return
	}

	resp := toRecordResponse(rec)
	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// DeleteRecord handles DELETE /api/records/:id
func (h *Handlers) DeleteRecord(c *gin.Context) {
	if err := h.records.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondRecordError(c, err, "failed to delete record")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// RefreshRecords handles POST /api/records/refresh
func (h *Handlers) RefreshRecords(c *gin.Context) {
	if err := h.records.Refresh(c.Request.Context()); err != nil {
		// Stale contents keep serving; report the failure anyway.
		h.logger.Warn("Record refresh failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, Response{
			Success: false,
			Error:   "refresh failed, serving cached records",
		})
		return
	}
	h.ListRecords(c)
}

// ExportRecords handles GET /api/records/export
func (h *Handlers) ExportRecords(c *gin.Context) {
	records, _ := h.records.List()

	c.Header("Content-Disposition", `attachment; filename="medical-records.xlsx"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := h.exporter.Write(records, c.Writer); err != nil {
		h.logger.Error("Record export failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
	}
}

// SubmitUpload handles POST /api/uploads. The request is multipart: an
// optional "file" part plus the draft metadata fields.
func (h *Handlers) SubmitUpload(c *gin.Context) {
	visitDate, err := time.Parse("2006-01-02", c.PostForm("visit_date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid visit date, expected YYYY-MM-DD",
		})
		return
	}
	draft := uploader.Draft{
		Title:        c.PostForm("title"),
		RecordType:   record.Type(c.PostForm("record_type")),
		FacilityName: c.PostForm("facility_name"),
		VisitDate:    visitDate,
		Notes:        c.PostForm("notes"),
	}

	var file *uploader.SubmittedFile
	fileHeader, err := c.FormFile("file")
	if err == nil {
		src, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{
				Success: false,
				Error:   "unreadable file",
			})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{
				Success: false,
				Error:   "unreadable file",
			})
			return
		}
		file = &uploader.SubmittedFile{
			Name:     fileHeader.Filename,
			MimeType: fileHeader.Header.Get("Content-Type"),
			Data:     data,
		}
	}

	jobID, err := h.uploads.Submit(file, draft)
	if err != nil {
		h.respondUploadError(c, err)
		return
	}

	job, _ := h.uploads.Job(jobID)
	resp := toJobResponse(job)
	c.JSON(http.StatusAccepted, Response{Success: true, Data: resp})
}

// ListUploads handles GET /api/uploads
func (h *Handlers) ListUploads(c *gin.Context) {
	jobs := h.uploads.Jobs()
	resp := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, toJobResponse(job))
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// CancelUpload handles POST /api/uploads/:id/cancel
func (h *Handlers) CancelUpload(c *gin.Context) {
	if err := h.uploads.Cancel(c.Param("id")); err != nil {
		h.respondUploadError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// RetryUpload handles POST /api/uploads/:id/retry
func (h *Handlers) RetryUpload(c *gin.Context) {
	newID, err := h.uploads.Retry(c.Param("id"))
	if err != nil {
		h.respondUploadError(c, err)
		return
	}

	job, _ := h.uploads.Job(newID)
	resp := toJobResponse(job)
	c.JSON(http.StatusAccepted, Response{Success: true, Data: resp})
}

func (h *Handlers) respondRecordError(c *gin.Context, err error, fallback string) {
	if errors.Is(err, repository.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, Response{
			Success: false,
			Error:   "record not found",
		})
		return
	}
	h.logger.Error(fallback, zap.Error(err))
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error:   fallback,
	})
}

func (h *Handlers) respondUploadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, uploader.ErrJobNotFound):
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "upload job not found"})
	case errors.Is(err, uploader.ErrNotRetryable):
		c.JSON(http.StatusConflict, Response{Success: false, Error: "only failed uploads can be retried"})
	case errors.Is(err, uploader.ErrInvalidDraft),
		errors.Is(err, uploader.ErrUnsupportedFileType),
		errors.Is(err, uploader.ErrFileTooLarge):
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
	default:
		h.logger.Error("Upload operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "upload operation failed"})
	}
}

// toRecordResponse converts a domain record to its API shape
func toRecordResponse(rec *record.MedicalRecord) RecordResponse {
	resp := RecordResponse{
		ID:           rec.ID,
		Title:        rec.Title,
		RecordType:   rec.RecordType.String(),
		FacilityName: rec.FacilityName,
		VisitDate:    rec.VisitDate.Format("2006-01-02"),
		Notes:        rec.Notes,
		CreatedAt:    rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.Attachment != nil {
		resp.Attachment = &AttachmentResponse{
			URL:       rec.Attachment.URL,
			FileName:  rec.Attachment.FileName,
			SizeBytes: rec.Attachment.SizeBytes,
			MimeType:  rec.Attachment.MimeType,
		}
	}
	if rec.Interpretation != nil {
		resp.Interpretation = &InterpretationResponse{
			Explanation:         rec.Interpretation.Explanation,
			RecommendedActions:  rec.Interpretation.RecommendedActions,
			AttentionIndicators: rec.Interpretation.AttentionIndicators,
		}
	}
	return resp
}

// toJobResponse converts a job snapshot to its API shape
func toJobResponse(job upload.Job) JobResponse {
	resp := JobResponse{
		ID:                 job.ID,
		FileName:           job.FileName,
		SizeBytes:          job.SizeBytes,
		MimeType:           job.MimeType,
		Status:             job.Status.String(),
		UploadProgress:     job.UploadProgress,
		ProcessingProgress: job.ProcessingProgress,
		ErrorMessage:       job.ErrorMessage,
	}
	if job.ResultRecord != nil {
		rec := toRecordResponse(job.ResultRecord)
		resp.ResultRecord = &rec
	}
	return resp
}
