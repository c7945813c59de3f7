package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/minhqd/shopchat/internal/extraction"
	"github.com/minhqd/shopchat/internal/queue"
	"github.com/minhqd/shopchat/internal/tenant"
)

type ExtractionHandler struct {
	svc         *extraction.Service
	queueClient *queue.Client
}

func NewExtractionHandler(svc *extraction.Service, qc *queue.Client) *ExtractionHandler {
	return &ExtractionHandler{svc: svc, queueClient: qc}
}

// Upload accepts a multipart catalog file, stores the job and enqueues
// processing.
func (h *ExtractionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(extraction.MaxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, extraction.MaxUploadSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	fileType := strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	tenantID := tenant.IDFromContext(r.Context())

	job, err := h.svc.Submit(r.Context(), tenantID, header.Filename, fileType, data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.queueClient.EnqueueExtractionProcess(queue.ExtractionProcessPayload{
		JobID:    job.ID.String(),
		TenantID: tenantID.String(),
	}); err != nil {
		// The job row stays pending; an operator can re-enqueue it.
		slog.Error("failed to enqueue extraction", "job_id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue processing")
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (h *ExtractionHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.svc.GetJob(r.Context(), tenant.IDFromContext(r.Context()), jobID)
	if err != nil {
		if errors.Is(err, extraction.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *ExtractionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := h.svc.ListJobs(r.Context(), tenant.IDFromContext(r.Context()), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}
