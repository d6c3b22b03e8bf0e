package web

import (
	"bufio"
	"io"
	"net/http"

	"github.com/JonMunkholm/recordcheck/internal/core"
	"github.com/JonMunkholm/recordcheck/internal/logging"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
)

// sniffLen is how much of an upload is inspected to detect its format.
const sniffLen = 3072

// handleUpload decodes the multipart "file" field and submits its records.
// The whole file must decode cleanly; otherwise no job is created. Responds
// 202 as soon as the job exists.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		s.respondError(w, r, errors.Wrap(err, "parse upload form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errors.WithHint(errNoFile, `Attach a file in the "file" form field`))
		return
	}
	defer file.Close()

	br := bufio.NewReaderSize(file, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, r, errors.Wrap(err, "read upload"))
		return
	}

	if len(head) == 0 {
		s.respondError(w, r, errors.WithHint(core.ErrEmptyBatch, "The uploaded file is empty"))
		return
	}

	format, err := core.DetectFormat(head, header.Filename)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	records, err := core.CollectRecords(core.Decode(br, format))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	ctx = core.ContextWithLogger(ctx, logging.WithFields(r.Context(), "filename", header.Filename))
	result, err := s.service.Submit(ctx, records)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("upload accepted",
		"upload_id", result.UploadID,
		"filename", header.Filename,
		"format", string(format),
		"total_records", result.TotalRecords,
	)
	writeJSONStatus(w, http.StatusAccepted, result)
}

// handleStatus returns the latest snapshot of a job.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadId")

	snap, err := s.service.Status(r.Context(), uploadID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, snap)
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string             `json:"status"`
	Limiter core.LimiterStatus `json:"limiter"`
}

// handleHealth reports liveness and the validation limiter's load.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{
		Status:  "ok",
		Limiter: s.service.LimiterStatus(),
	})
}
