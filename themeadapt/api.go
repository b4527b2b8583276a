package themeadapt

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Yozuusan/Adtest-sub000/observability"
	"github.com/Yozuusan/Adtest-sub000/shield"
	"github.com/Yozuusan/Adtest-sub000/urlsafe"
)

// MapRequest asks for a theme to be mapped from a URL or from markup.
type MapRequest struct {
	ShopID string `json:"shop_id"`
	URL    string `json:"url"`
	HTML   string `json:"html,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// Handler returns the HTTP API:
//
//	GET    /healthz
//	GET    /v1/adapters/{shop}
//	GET    /v1/adapters/{shop}/{fingerprint}
//	DELETE /v1/adapters/{shop}/{fingerprint}/cache
//	POST   /v1/adapters/{shop}/{fingerprint}/regenerate
//	POST   /v1/map
//	POST   /v1/events/view
//	POST   /v1/jobs
//	GET    /v1/jobs/{id}
//	GET    /v1/variants/{variant}/views
//	GET    /v1/metrics?name=&since=&limit=
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(shield.StackConfig{
		Origins:       s.http.Origins,
		MaxBody:       s.http.MaxBody,
		RatePerSecond: s.http.RatePerSecond,
		Burst:         s.http.Burst,
		Logger:        s.logger,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/adapters/{shop}", s.handleList)
		r.Get("/adapters/{shop}/{fingerprint}", s.handleGet)
		r.Delete("/adapters/{shop}/{fingerprint}/cache", s.handleInvalidate)
		r.Post("/adapters/{shop}/{fingerprint}/regenerate", s.handleRegenerate)
		r.Post("/map", s.handleMap)
		r.Post("/events/view", s.handleView)
		r.Post("/jobs", s.handleEnqueue)
		r.Get("/jobs/{id}", s.handleJob)
		r.Get("/variants/{variant}/views", s.handleViews)
		r.Get("/metrics", s.handleMetrics)
	})
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"breaker": s.engine.BreakerState(),
	})
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.List(r.Context(), chi.URLParam(r, "shop"), limit)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"adapters": list})
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	a, ok, err := s.Get(r.Context(), chi.URLParam(r, "shop"), chi.URLParam(r, "fingerprint"))
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("adapter not found"))
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, a)
}

func (s *Service) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := s.Invalidate(r.Context(), chi.URLParam(r, "shop"), chi.URLParam(r, "fingerprint")); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	a, err := s.Regenerate(r.Context(), chi.URLParam(r, "shop"), chi.URLParam(r, "fingerprint"))
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Service) handleMap(w http.ResponseWriter, r *http.Request) {
	var req MapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.mapRequest(r.Context(), req)
	if err != nil {
		shield.GetLogger(r.Context()).Warn("themeadapt: map request failed", "shop_id", req.ShopID, "error", err)
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleView(w http.ResponseWriter, r *http.Request) {
	var ev observability.ViewEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.RecordView(r.Context(), ev)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": id})
}

func (s *Service) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req MapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.Enqueue(r.Context(), req)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (s *Service) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, errors.New("job not found"))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Service) handleViews(w http.ResponseWriter, r *http.Request) {
	variant := chi.URLParam(r, "variant")
	n, err := s.Views(r.Context(), variant)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variant_id": variant, "views": n})
}

func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := observability.MetricFilter{Name: q.Get("name")}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("since: %w", err))
			return
		}
		f.Since = since
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	list, err := s.Metrics(r.Context(), f)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": list})
}

// statusOf maps service errors to HTTP statuses.
func statusOf(err error) int {
	var jerr *json.SyntaxError
	switch {
	case errors.Is(err, ErrInvalidKey), errors.Is(err, ErrInvalidRequest),
		errors.Is(err, observability.ErrInvalidEvent), errors.As(err, &jerr):
		return http.StatusBadRequest
	case errors.Is(err, ErrJobsDisabled), errors.Is(err, ErrObservabilityDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, urlsafe.ErrPrivateTarget), errors.Is(err, urlsafe.ErrScheme):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNoSnapshot):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
