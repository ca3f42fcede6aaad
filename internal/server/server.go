// Package server exposes the solver as an asynchronous HTTP job API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/copyleftdev/FJORD/internal/config"
	"github.com/copyleftdev/FJORD/internal/logging"
	"github.com/copyleftdev/FJORD/internal/solver"
	"github.com/copyleftdev/FJORD/internal/solver/bnb"
)

// Logger defines the logging interface used by the server. This keeps the
// server flexible about the logging implementation.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Job states.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// SolveJob tracks one asynchronous solve. Jobs are safe for concurrent
// access through the server's mutex.
type SolveJob struct {
	ID          string
	Status      string
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Solution    *solver.WireSolution
	Error       string

	engine solver.Engine
	cancel context.CancelFunc
}

// Server manages solve jobs and the HTTP endpoints around them.
type Server struct {
	cfg    *config.Config
	logger Logger

	jobsMu sync.RWMutex
	jobs   map[string]*SolveJob
	seq    int64
}

// NewServer creates a server instance with the given config and logger.
func NewServer(cfg *config.Config, logger Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		jobs:   make(map[string]*SolveJob),
	}
}

// RegisterRoutes mounts the API on the router.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/solve", s.handleSolve)
		r.Get("/solutions/{id}", s.handleSolution)
		r.Delete("/solve/{id}", s.handleCancel)
	})
}

type solveRequest struct {
	Model   solver.WireModel `json:"model"`
	Verbose bool             `json:"verbose,omitempty"`
}

// handleSolve accepts a model, starts a solve job and returns its id.
func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	var req solveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	model, err := req.Model.ToModel()
	if err != nil {
		var ime *solver.InvalidModelError
		if errors.As(err, &ime) {
			s.respondError(w, http.StatusUnprocessableEntity, ime.Error())
			return
		}
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := solver.Options{
		Backend:   solver.Backend(s.cfg.Solver.Backend),
		Workers:   s.cfg.Solver.Workers,
		MaxNodes:  s.cfg.Solver.MaxNodes,
		Tolerance: s.cfg.Solver.Tolerance,
		Verbose:   s.cfg.Solver.Verbose || req.Verbose,
	}
	engine, err := bnb.New(opts, s.logger.WithFields(map[string]interface{}{"component": "bnb"}))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.jobsMu.Lock()
	s.seq++
	id := fmt.Sprintf("solve_%d_%d", time.Now().UnixNano(), s.seq)
	job := &SolveJob{
		ID:          id,
		Status:      JobPending,
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		engine:      engine,
		cancel:      cancel,
	}
	s.jobs[id] = job
	s.pruneLocked()
	s.jobsMu.Unlock()

	go s.runSolve(ctx, job, model)

	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": id,
		"status": JobPending,
	})
}

// runSolve executes the solve in a goroutine and records the outcome.
func (s *Server) runSolve(ctx context.Context, job *SolveJob, model *solver.Model) {
	s.jobsMu.Lock()
	job.Status = JobRunning
	job.LastUpdated = time.Now()
	s.jobsMu.Unlock()

	sol, err := job.engine.Solve(ctx, model)

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	now := time.Now()
	job.EndTime = &now
	job.LastUpdated = now
	if err != nil {
		s.logger.Error("solve failed", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		job.Status = JobFailed
		job.Error = err.Error()
		return
	}
	if job.Status != JobCancelled {
		job.Status = JobCompleted
	}
	job.Solution = &solver.WireSolution{
		Status:    sol.Status.String(),
		Objective: sol.Objective,
		Values:    sol.Values,
	}
	s.logger.Info("solve completed", map[string]interface{}{
		"job_id": job.ID,
		"status": sol.Status.String(),
	})
}

// handleSolution reports a job's state and, when available, its solution or
// the best incumbent of a still-running search.
func (s *Server) handleSolution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.jobsMu.RLock()
	job, ok := s.jobs[id]
	if !ok {
		s.jobsMu.RUnlock()
		s.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	resp := map[string]interface{}{
		"job_id":      job.ID,
		"status":      job.Status,
		"start_time":  job.StartTime.Format(time.RFC3339),
		"last_update": job.LastUpdated.Format(time.RFC3339),
	}
	if job.EndTime != nil {
		resp["end_time"] = job.EndTime.Format(time.RFC3339)
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	if job.Solution != nil {
		resp["solution"] = job.Solution
	}
	engine := job.engine
	running := job.Status == JobRunning
	s.jobsMu.RUnlock()

	if running && engine != nil {
		if best := engine.Best(); best != nil {
			resp["incumbent"] = &solver.WireSolution{
				Status:    best.Status.String(),
				Objective: best.Objective,
				Values:    best.Values,
			}
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleCancel stops a running job cooperatively. The job keeps its best
// incumbent as a FEASIBLE solution.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.jobsMu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.jobsMu.Unlock()
		s.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	switch job.Status {
	case JobCompleted, JobFailed, JobCancelled:
		s.jobsMu.Unlock()
		s.respondError(w, http.StatusConflict, fmt.Sprintf("job already %s", job.Status))
		return
	}
	job.Status = JobCancelled
	job.LastUpdated = time.Now()
	cancel := job.cancel
	s.jobsMu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.logger.Info("job cancelled", map[string]interface{}{"job_id": id})
	s.respondJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": JobCancelled})
}

// pruneLocked drops terminal jobs past their TTL. Caller holds jobsMu.
func (s *Server) pruneLocked() {
	ttl := s.cfg.Solver.JobTTL
	if ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-ttl)
	for id, job := range s.jobs {
		if job.EndTime != nil && job.EndTime.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) respondError(w http.ResponseWriter, code int, msg string) {
	s.logger.Error("request error", map[string]interface{}{
		"status":  code,
		"message": msg,
	})
	s.respondJSON(w, code, map[string]string{"error": msg})
}

// Close cancels all running jobs.
func (s *Server) Close() error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	for _, job := range s.jobs {
		if job.cancel != nil {
			job.cancel()
		}
	}
	return nil
}
