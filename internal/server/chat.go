package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dream-ai/docchat/internal/rag"
	"github.com/dream-ai/docchat/internal/vectorindex"
)

func (s *Server) decodeQuery(rw http.ResponseWriter, r *http.Request) (rag.Request, bool) {
	var req rag.Request
	r.Body = http.MaxBytesReader(rw, r.Body, maxQueryBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(rw, http.StatusBadRequest, "message is required")
		return req, false
	}
	req.UserID = s.userID(rw, r)
	return req, true
}

func (s *Server) handleQueryStream(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		writeError(rw, http.StatusInternalServerError, "streaming not supported")
		return
	}
	req, ok := s.decodeQuery(rw, r)
	if !ok {
		return
	}

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.Header().Set("X-Accel-Buffering", "no")
	rw.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(e rag.Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(rw, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err := s.queries.Stream(r.Context(), req, emit)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		s.logger.Info("client disconnected during query", "user_id", req.UserID)
	default:
		s.logger.Warn("streamed query failed", "user_id", req.UserID, "err", err)
	}
}

func (s *Server) handleQuery(rw http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(rw, r)
	if !ok {
		return
	}
	ans, err := s.queries.Query(r.Context(), req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("query failed", "user_id", req.UserID, "err", err)
		writeError(rw, queryStatus(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, ans)
}

func queryStatus(err error) int {
	var (
		re *vectorindex.RetrievalError
		ge *rag.GenerationError
	)
	switch {
	case errors.Is(err, rag.ErrValidation):
		return http.StatusBadRequest
	case errors.As(err, &re) && re.Retryable():
		return http.StatusServiceUnavailable
	case errors.As(err, &ge):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
