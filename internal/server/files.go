package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/dream-ai/docchat/internal/documents"
	"github.com/dream-ai/docchat/internal/ingest"
	"github.com/dream-ai/docchat/internal/registry"
)

func (s *Server) handleUpload(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, s.cfg.MaxUploadSize+multipartSlack)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(rw, http.StatusRequestEntityTooLarge, "file exceeds the upload limit")
			return
		}
		writeError(rw, http.StatusBadRequest, "expected a multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(rw, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadSize+1))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "failed to read upload")
		return
	}

	f, err := s.ingest.Upload(r.Context(), header.Filename, data)
	if err != nil {
		s.logger.Warn("upload rejected", "filename", header.Filename, "err", err)
		writeJSON(rw, uploadStatus(err), map[string]string{"error": err.Error(), "filename": header.Filename})
		return
	}
	writeJSON(rw, http.StatusOK, f)
}

func uploadStatus(err error) int {
	var pe *documents.ProcessingError
	switch {
	case errors.Is(err, documents.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case ingest.IsValidation(err):
		return http.StatusBadRequest
	case errors.As(err, &pe):
		return http.StatusUnprocessableEntity
	case ingest.IsUnavailable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) handleList(rw http.ResponseWriter, r *http.Request) {
	files, err := s.ingest.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list files", "err", err)
		writeError(rw, http.StatusInternalServerError, "failed to list files")
		return
	}
	writeJSON(rw, http.StatusOK, files)
}

func (s *Server) handleDelete(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("file_id")
	if err := s.ingest.Delete(r.Context(), id); err != nil {
		s.logger.Error("failed to delete file", "file_id", id, "err", err)
		status := http.StatusInternalServerError
		if ingest.IsUnavailable(err) {
			status = http.StatusServiceUnavailable
		}
		writeError(rw, status, "failed to delete file")
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReindex(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("file_id")
	f, err := s.ingest.Reindex(r.Context(), id)
	if errors.Is(err, registry.ErrNotFound) {
		writeError(rw, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		s.logger.Warn("reindex failed", "file_id", id, "err", err)
		writeError(rw, uploadStatus(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, f)
}
