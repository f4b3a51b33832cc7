package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fieldsync/internal/bootstrap/logging"
	"fieldsync/internal/domain/survey"
	"fieldsync/internal/errs"
	"fieldsync/internal/ports"
	syncusecase "fieldsync/internal/usecase/sync"
)

// Server is the device-local HTTP surface: the capture app and field
// tooling use it to trigger a drain and read queue health. It binds to
// loopback; there is no auth story here.
type Server struct {
	engine  *syncusecase.Engine
	repo    ports.ResponseRepository
	journal ports.KV
}

func NewServer(engine *syncusecase.Engine, repo ports.ResponseRepository, journal ports.KV) *Server {
	return &Server{engine: engine, repo: repo, journal: journal}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/sync", s.handleSync)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type stopReasonPayload struct {
	Kind                string `json:"kind"`
	ConsecutiveFailures int    `json:"consecutive_failures,omitempty"`
	Error               string `json:"error,omitempty"`
}

type syncResponse struct {
	Succeeded []string           `json:"succeeded"`
	Failed    []string           `json:"failed"`
	Pending   []string           `json:"pending"`
	Stop      *stopReasonPayload `json:"stop_reason,omitempty"`
}

// handleSync runs one drain. Concurrent posts coalesce onto the same
// drain inside the engine, so this endpoint is safe to hammer.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result := s.engine.Sync(r.Context())

	payload := syncResponse{
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Pending:   result.Pending,
	}
	if result.Stop != nil {
		payload.Stop = &stopReasonPayload{
			Kind:                result.Stop.Kind.String(),
			ConsecutiveFailures: result.Stop.ConsecutiveFailures,
		}
		if result.Stop.Err != nil {
			payload.Stop.Error = result.Stop.Err.Error()
		}
	}

	writeJSON(w, http.StatusOK, payload)
}

type statusResponse struct {
	Counts  map[string]int64  `json:"counts"`
	Total   int64             `json:"total"`
	Journal map[string]string `json:"journal"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		logging.Error(ctx, "status counts failed", slog.Any("err", errs.Loggable(err)))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "count responses"})
		return
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		logging.Error(ctx, "status total failed", slog.Any("err", errs.Loggable(err)))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "count responses"})
		return
	}

	payload := statusResponse{
		Counts:  make(map[string]int64, len(counts)),
		Total:   total,
		Journal: make(map[string]string),
	}
	for _, status := range []survey.Status{
		survey.StatusPending,
		survey.StatusSynced,
		survey.StatusFailedRetryable,
		survey.StatusFailedPermanent,
	} {
		payload.Counts[string(status)] = counts[status]
	}

	if s.journal != nil {
		for _, key := range []string{"last_sync_at", "last_stop_reason", "total_succeeded", "total_failed"} {
			if value, found, err := s.journal.Get(ctx, key); err == nil && found {
				payload.Journal[key] = value
			}
		}
	}

	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
