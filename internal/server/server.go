// Package server exposes the reconciliation engine over HTTP: observation
// ingest, conflict arbitration, source trust configuration, lineage and
// quality queries.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/netsight/reconciled/internal/detector"
	"github.com/netsight/reconciled/internal/lineage"
	"github.com/netsight/reconciled/internal/model"
	"github.com/netsight/reconciled/internal/priority"
	"github.com/netsight/reconciled/internal/resolver"
	"github.com/netsight/reconciled/internal/store"
)

// Server wires the engine components behind a chi router.
type Server struct {
	store    store.Store
	detector *detector.Detector
	engine   *resolver.Engine
	registry *priority.Registry
	ledger   *lineage.Ledger
	log      *zap.Logger
}

func New(st store.Store, det *detector.Detector, eng *resolver.Engine, reg *priority.Registry, led *lineage.Ledger) *Server {
	return &Server{
		store:    st,
		detector: det,
		engine:   eng,
		registry: reg,
		ledger:   led,
		log:      zap.L().Named("server"),
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/observations", s.handleIngest)

		r.Route("/conflicts", func(r chi.Router) {
			r.Get("/", s.handleListConflicts)
			r.Get("/{id}", s.handleGetConflict)
			r.Post("/{id}/resolve", s.handleResolve)
			r.Post("/{id}/ignore", s.handleIgnore)
		})

		r.Get("/sources/{id}/priority", s.handleGetPriority)
		r.Put("/sources/{id}/priority", s.handlePutPriority)

		r.Get("/lineage/{entity}", s.handleLineage)
		r.Get("/quality", s.handleQuality)
		r.Get("/entities/{id}/fields/{field}", s.handleCurrentValue)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var obs model.Observation
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	result, err := s.detector.Ingest(r.Context(), obs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	filter := store.ConflictFilter{
		Status:   model.ConflictStatus(r.URL.Query().Get("status")),
		EntityID: r.URL.Query().Get("entity"),
		Limit:    intParam(r, "limit"),
		Offset:   intParam(r, "offset"),
	}
	if raw := r.URL.Query().Get("created_after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("created_after must be RFC 3339"))
			return
		}
		filter.CreatedAfter = t
	}

	conflicts, err := s.store.ListConflicts(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

// conflictDetail is a conflict with its resolution attached once one exists.
type conflictDetail struct {
	*model.Conflict
	Resolution *model.Resolution `json:"resolution,omitempty"`
}

func (s *Server) handleGetConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.store.GetConflict(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	detail := conflictDetail{Conflict: c}
	if c.Status == model.ConflictResolved {
		res, err := s.store.GetResolution(r.Context(), id)
		if err != nil && !model.IsNotFound(err) {
			s.writeError(w, err)
			return
		}
		detail.Resolution = res
	}
	writeJSON(w, http.StatusOK, detail)
}

type resolveRequest struct {
	Strategy    model.Strategy  `json:"strategy"`
	ChosenValue json.RawMessage `json:"chosen_value,omitempty"`
	ResolvedBy  string          `json:"resolved_by,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var body resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	req := resolver.Request{
		ConflictID: chi.URLParam(r, "id"),
		Strategy:   body.Strategy,
		ResolvedBy: body.ResolvedBy,
	}
	if len(body.ChosenValue) > 0 && string(body.ChosenValue) != "null" {
		val, err := model.UnmarshalValue(body.ChosenValue)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid chosen_value envelope"))
			return
		}
		req.ChosenValue = val
	}

	res, err := s.engine.Resolve(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Ignore(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
}

func (s *Server) handleGetPriority(w http.ResponseWriter, r *http.Request) {
	sp, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (s *Server) handlePutPriority(w http.ResponseWriter, r *http.Request) {
	var sp model.SourcePriority
	if err := json.NewDecoder(r.Body).Decode(&sp); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	// Path wins over body for the source id.
	sp.SourceID = chi.URLParam(r, "id")

	if err := s.registry.Set(r.Context(), sp); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	q := store.LineageQuery{
		EntityID:  chi.URLParam(r, "entity"),
		FieldName: r.URL.Query().Get("field"),
		Limit:     intParam(r, "limit"),
	}
	if raw := r.URL.Query().Get("after_seq"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("after_seq must be an integer"))
			return
		}
		q.AfterSeq = seq
	}

	entries, err := s.ledger.History(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	filter := store.MetricFilter{
		SourceID: r.URL.Query().Get("source"),
		Type:     model.MetricType(r.URL.Query().Get("type")),
		Limit:    intParam(r, "limit"),
	}
	if filter.Type != "" && !model.ValidMetricType(filter.Type) {
		writeJSON(w, http.StatusBadRequest, errorBody("unknown metric type"))
		return
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("since must be RFC 3339"))
			return
		}
		filter.Since = t
	}

	metrics, err := s.store.ListQualityMetrics(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": metrics})
}

func (s *Server) handleCurrentValue(w http.ResponseWriter, r *http.Request) {
	av, err := s.store.GetCurrentValue(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "field"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

// writeError maps the domain error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case model.IsValidation(err):
		status = http.StatusBadRequest
	case model.IsNotFound(err):
		status = http.StatusNotFound
	case model.IsAlreadyResolved(err):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
		writeJSON(w, status, errorBody("internal error"))
		return
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func intParam(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
