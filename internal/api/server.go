package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"digestflow/internal/dispatcher"
	"digestflow/internal/domain"
	"digestflow/internal/queue"
	"digestflow/internal/recurrence"
)

// Dispatcher is the part of *dispatcher.Dispatcher the HTTP surface uses.
type Dispatcher interface {
	Enqueue(ctx context.Context, req dispatcher.EnqueueRequest) (domain.ScheduledJob, error)
	RunPass(ctx context.Context, now time.Time) (int, error)
	NextOccurrence(ctx context.Context, ownerID string) (time.Time, bool, error)
	Stats() dispatcher.Stats
}

type Server struct {
	r    *chi.Mux
	repo queue.Repository
	disp Dispatcher
}

func NewServer(repo queue.Repository, disp Dispatcher) http.Handler {
	return NewServerWithDebug(repo, disp, false)
}

func NewServerWithDebug(repo queue.Repository, disp Dispatcher, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, repo: repo, disp: disp}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", s.enqueueJob)
		r.Get("/jobs/{id}", s.getJob)
		r.Post("/dispatch", s.dispatch)

		r.Route("/owners/{ownerID}", func(r chi.Router) {
			r.Get("/jobs", s.listOwnerJobs)
			r.Delete("/jobs/{id}", s.deleteOwnerJob)
			r.Put("/schedule", s.putSchedule)
			r.Get("/schedule", s.getSchedule)
			r.Delete("/schedule", s.deleteSchedule)
			r.Get("/schedule/next", s.nextOccurrence)
		})
	})

	// Debug routes (pprof)
	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	counts, err := s.repo.Counts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	st := s.disp.Stats()

	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "digestflow_up 1\n")
	fmt.Fprintf(w, "digestflow_dispatch_passes_total %d\n", st.Passes)
	fmt.Fprintf(w, "digestflow_delivered_total %d\n", st.Delivered)
	fmt.Fprintf(w, "digestflow_delivery_failures_total %d\n", st.Failed)
	fmt.Fprintf(w, "digestflow_claims_total %d\n", st.Claimed)
	fmt.Fprintf(w, "digestflow_claim_conflicts_total %d\n", st.Conflicts)
	fmt.Fprintf(w, "digestflow_dead_letter_total %d\n", st.DeadLetter)
	fmt.Fprintf(w, "digestflow_jobs{state=\"pending\"} %d\n", counts.Pending)
	fmt.Fprintf(w, "digestflow_jobs{state=\"sent\"} %d\n", counts.Sent)
	fmt.Fprintf(w, "digestflow_jobs{state=\"failed\"} %d\n", counts.Failed)
}

func (s *Server) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req dispatcher.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	job, err := s.disp.Enqueue(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, job)
}

type dispatchResp struct {
	Launched int `json:"launched"`
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	n, err := s.disp.RunPass(r.Context(), time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, dispatchResp{Launched: n})
}

func (s *Server) listOwnerJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.repo.ListPendingByOwner(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []domain.JobSummary{}
	}
	writeJSON(w, 200, jobs)
}

func (s *Server) deleteOwnerJob(w http.ResponseWriter, r *http.Request) {
	ok, err := s.repo.DeleteByID(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "not found", 404)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) putSchedule(w http.ResponseWriter, r *http.Request) {
	var sched domain.RecurrenceSchedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if strings.TrimSpace(sched.TimeOfDay) == "" {
		sched.TimeOfDay = recurrence.DefaultTimeOfDay
	}
	problems := recurrence.Problems(sched)
	if sched.TimezoneOffsetMinutes < -14*60 || sched.TimezoneOffsetMinutes > 14*60 {
		problems = append(problems, fmt.Sprintf("timezone_offset_minutes %d out of range", sched.TimezoneOffsetMinutes))
	}
	if len(problems) > 0 {
		http.Error(w, "invalid schedule: "+strings.Join(problems, "; "), 400)
		return
	}

	ownerID := chi.URLParam(r, "ownerID")
	sched = recurrence.Normalize(sched)
	if err := s.repo.PutOwnerSchedule(r.Context(), ownerID, sched); err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("owner_id", ownerID).Str("frequency", string(sched.Frequency)).Msg("owner schedule saved")
	writeJSON(w, 200, sched)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.repo.GetOwnerSchedule(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, sched)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteOwnerSchedule(r.Context(), chi.URLParam(r, "ownerID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type nextResp struct {
	NextSendAt *time.Time `json:"next_send_at"`
	Exhausted  bool       `json:"exhausted"`
}

func (s *Server) nextOccurrence(w http.ResponseWriter, r *http.Request) {
	next, ok, err := s.disp.NextOccurrence(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, 200, nextResp{Exhausted: true})
		return
	}
	writeJSON(w, 200, nextResp{NextSendAt: &next})
}

// writeError maps domain errors onto status codes. Validation messages are
// returned to the caller; anything else is logged and reported generically.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), 400)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", 404)
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, err.Error(), 409)
	default:
		log.Error().Err(err).Msg("request failed")
		http.Error(w, "internal error", 500)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
