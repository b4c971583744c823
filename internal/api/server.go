// Package api exposes a mutator client over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/mutation"
	"github.com/rzpsarthak13/mutator/internal/provider"
	"github.com/rzpsarthak13/mutator/internal/undo"
	"github.com/rzpsarthak13/mutator/pkg/mutator"
)

type server struct {
	client *mutator.Client
	logger *slog.Logger
}

// NewServer wires the client into a router.
//
//	GET    /health
//	GET    /metrics
//	GET    /undo                 presented entry and queue length
//	POST   /undo/confirm
//	POST   /undo/undo
//	GET    /{resource}           getList
//	POST   /{resource}           create
//	PATCH  /{resource}           updateMany, body {"ids": [...], "data": {...}}
//	DELETE /{resource}           deleteMany, body {"ids": [...]}
//	GET    /{resource}/{id}      getOne
//	PATCH  /{resource}/{id}      update
//	DELETE /{resource}/{id}      delete
//
// Mutating routes accept ?mode=pessimistic|optimistic|undoable.
func NewServer(client *mutator.Client, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{client: client, logger: logger.With("component", "api")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/undo", func(r chi.Router) {
		r.Get("/", s.undoStatus)
		r.Post("/confirm", s.undoDecide(false))
		r.Post("/undo", s.undoDecide(true))
	})

	r.Route("/{resource}", func(r chi.Router) {
		r.Get("/", s.getList)
		r.Post("/", s.create)
		r.Patch("/", s.updateMany)
		r.Delete("/", s.deleteMany)
		r.Get("/{id}", s.getOne)
		r.Patch("/{id}", s.update)
		r.Delete("/{id}", s.delete)
	})
	return r
}

type manyRequest struct {
	IDs  []interface{} `json:"ids"`
	Data core.Record   `json:"data,omitempty"`
}

type mutationResponse struct {
	Mode    core.MutationMode `json:"mode"`
	Data    interface{}       `json:"data,omitempty"`
	UndoID  string            `json:"undo_id,omitempty"`
	Pending bool              `json:"pending"`
}

type entryView struct {
	ID       string    `json:"id"`
	Resource string    `json:"resource"`
	Action   string    `json:"action"`
	Created  time.Time `json:"created_at"`
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":       "ok",
		"timestamp":    time.Now().Format(time.RFC3339),
		"undo_pending": s.client.UndoQueue().Len(),
	}
	if d := s.client.Drainer(); d != nil {
		status["drainer"] = map[string]interface{}{
			"running": d.IsRunning(),
			"queued":  d.QueueSize(),
			"stats":   d.Stats(),
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) getList(w http.ResponseWriter, r *http.Request) {
	list, err := s.client.GetList(r.Context(), chi.URLParam(r, "resource"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) getOne(w http.ResponseWriter, r *http.Request) {
	record, err := s.client.GetOne(r.Context(), chi.URLParam(r, "resource"), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *server) create(w http.ResponseWriter, r *http.Request) {
	var data core.Record
	if !decode(w, r, &data) {
		return
	}
	s.mutate(w, r, s.client.Create(chi.URLParam(r, "resource")), core.Params{Data: data})
}

func (s *server) update(w http.ResponseWriter, r *http.Request) {
	var data core.Record
	if !decode(w, r, &data) {
		return
	}
	s.mutate(w, r, s.client.Update(chi.URLParam(r, "resource")),
		core.Params{ID: chi.URLParam(r, "id"), Data: data})
}

func (s *server) delete(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, s.client.Delete(chi.URLParam(r, "resource")),
		core.Params{ID: chi.URLParam(r, "id")})
}

func (s *server) updateMany(w http.ResponseWriter, r *http.Request) {
	var req manyRequest
	if !decode(w, r, &req) {
		return
	}
	s.mutate(w, r, s.client.UpdateMany(chi.URLParam(r, "resource")),
		core.Params{IDs: req.IDs, Data: req.Data})
}

func (s *server) deleteMany(w http.ResponseWriter, r *http.Request) {
	var req manyRequest
	if !decode(w, r, &req) {
		return
	}
	s.mutate(w, r, s.client.DeleteMany(chi.URLParam(r, "resource")),
		core.Params{IDs: req.IDs})
}

// mutate issues the call. Pessimistic calls answer with the provider result;
// the others answer 202 with the optimistic result.
func (s *server) mutate(w http.ResponseWriter, r *http.Request, m *mutation.Mutation, params core.Params) {
	var opts []mutation.CallOption
	if raw := r.URL.Query().Get("mode"); raw != "" {
		mode, err := core.ParseMode(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		opts = append(opts, mutation.WithMode(mode))
	}

	call := m.Mutate(r.Context(), params, opts...)
	if call.Mode == core.ModePessimistic {
		result, err := call.Wait(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse{Mode: call.Mode, Data: result.Data})
		return
	}

	// Rejected calls carry neither an optimistic result nor an undo entry.
	if call.Optimistic() == nil && call.Entry() == nil {
		if _, err := call.Wait(r.Context()); err != nil {
			s.fail(w, err)
			return
		}
	}

	resp := mutationResponse{Mode: call.Mode, Pending: true}
	if res := call.Optimistic(); res != nil {
		resp.Data = res.Data
	}
	if entry := call.Entry(); entry != nil {
		resp.UndoID = entry.ID
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *server) undoStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"queued": s.client.UndoQueue().Len(),
	}
	if entry := s.client.Confirmer().Current(); entry != nil {
		status["current"] = view(entry)
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) undoDecide(isUndo bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry := s.client.Confirmer().Current()
		decide := s.client.Confirmer().Confirm
		if isUndo {
			decide = s.client.Confirmer().Undo
		}
		if err := decide(); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view(entry))
	}
}

func view(e *undo.Entry) entryView {
	if e == nil {
		return entryView{}
	}
	return entryView{ID: e.ID, Resource: e.Resource, Action: e.Action, Created: e.CreatedAt}
}

func (s *server) fail(w http.ResponseWriter, err error) {
	switch {
	case mutation.IsProgrammerError(err):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, provider.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, mutation.ErrUndone),
		errors.Is(err, mutator.ErrNothingPending),
		errors.Is(err, undo.ErrEntryConsumed):
		writeError(w, http.StatusConflict, err)
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
