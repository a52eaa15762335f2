package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"regionkv/internal/kv"
	"regionkv/internal/storage"
)

// Server exposes the core over HTTP: key reads and writes for clients,
// the change feed and batch ingest for peers.
type Server struct {
	core   *kv.Core
	logger *slog.Logger
}

// NewServer wires the handlers into a chi router.
func NewServer(core *kv.Core, logger *slog.Logger) http.Handler {
	s := &Server{core: core, logger: logger.With("component", "api")}

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Route("/kv/{key}", func(r chi.Router) {
		r.Put("/", s.handleWrite)
		r.Get("/", s.handleRead)
		r.Delete("/", s.handleDelete)
	})
	r.Get("/changes", s.handleListChanges)
	r.Post("/changes/ingest", s.handleIngest)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"node":   s.core.Node(),
		"region": s.core.Region(),
	})
}

type writeRequest struct {
	Value json.RawMessage `json:"value"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, "missing value")
		return
	}

	receipt, err := s.core.Write(key, req.Value)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	item, err := s.core.Read(chi.URLParam(r, "key"))
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.core.Delete(chi.URLParam(r, "key"))
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type changesResponse struct {
	Changes []storage.Change `json:"changes"`
	LastSeq uint64           `json:"last_seq"`
}

func (s *Server) handleListChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var sinceSeq uint64
	if raw := q.Get("since_seq"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since_seq")
			return
		}
		sinceSeq = parsed
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	originOnly := q.Get("origin_only") == "true"

	changes, lastSeq, err := s.core.ListChanges(sinceSeq, limit, originOnly)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	if changes == nil {
		changes = []storage.Change{}
	}
	writeJSON(w, http.StatusOK, changesResponse{Changes: changes, LastSeq: lastSeq})
}

type ingestRequest struct {
	Changes []storage.Change `json:"changes"`
}

type ingestResponse struct {
	Applied int `json:"applied"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Malformed stamps surface here via the stamp codec.
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	applied, err := s.core.IngestBatch(req.Changes)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{Applied: applied})
}

// writeCoreError maps core errors onto HTTP statuses.
func (s *Server) writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, kv.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, kv.ErrEmptyKey), errors.Is(err, kv.ErrBadChange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrUnavailable):
		s.logger.Error("storage unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
