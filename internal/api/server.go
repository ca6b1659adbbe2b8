package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"taskbeat/internal/domain"
	"taskbeat/internal/store"
	"taskbeat/internal/worker"
)

type Server struct {
	baseCtx  context.Context
	store    store.Store
	group    *worker.Group
	handlers map[string]domain.Handler
}

// NewServer builds the control surface. Workers started through it run
// on baseCtx, not the request context, so they outlive the request.
func NewServer(baseCtx context.Context, st store.Store, grp *worker.Group, handlers map[string]domain.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{baseCtx: baseCtx, store: st, group: grp, handlers: handlers}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Post("/api/tasks/{id}", s.startTask)
	r.Delete("/api/tasks/{id}", s.stopTask)
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/tasks/{id}", s.getTask)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "taskbeat_up 1\ntaskbeat_local_workers %d\n", len(s.group.IDs()))
}

type startReq struct {
	Handler  string          `json:"handler"`
	Payload  json.RawMessage `json:"payload"`
	Settings json.RawMessage `json:"settings"`
}

type startResp struct {
	ID string `json:"id"`
}

func (s *Server) startTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req startReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Handler == "" {
		http.Error(w, "handler is required", 400)
		return
	}
	h, ok := s.handlers[req.Handler]
	if !ok {
		http.Error(w, "unknown handler: "+req.Handler, 400)
		return
	}

	payload := req.Payload
	run := func(ctx context.Context) error { return h.Handle(ctx, payload) }

	wk := worker.New(id, run, s.store, log.Logger)
	if err := s.group.Add(wk); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err := wk.Start(s.baseCtx, req.Settings); err != nil {
		s.group.Stop(id)
		switch {
		case errors.Is(err, worker.ErrInvalidSettings):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, worker.ErrPersistence):
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			http.Error(w, err.Error(), 500)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, startResp{ID: id})
}

func (s *Server) stopTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.group.Stop(id) {
		http.Error(w, "no local worker for task", 404)
		return
	}
	writeJSON(w, 200, map[string]any{"id": id, "stopped": true})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "not found", 404)
		return
	}
	writeJSON(w, 200, s.renderRecord(rec))
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	recs, err := s.store.List(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.renderRecord(rec))
	}
	writeJSON(w, 200, out)
}

func (s *Server) renderRecord(rec domain.TaskRecord) map[string]any {
	return map[string]any{
		"id":                rec.ID,
		"settings":          json.RawMessage(rec.SettingsJSON),
		"next_run_start_at": rec.NextRunStartAt.Format(time.RFC3339),
		"claimed":           rec.Claimed(),
		"running_here":      s.group.Contains(rec.ID),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
