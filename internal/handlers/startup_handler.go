package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Startup steps reported by /readyz
const (
	StepDatabase   = "Database connection"
	StepMigrations = "Running migrations"
	StepServices   = "Initializing services"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StartupStatus tracks the initialization progress
type StartupStatus struct {
	mu      sync.RWMutex
	ready   bool
	current string
	steps   []StartupStep
	db      Pinger
}

type StartupStep struct {
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

// NewStartupStatus tracks the given steps in order
func NewStartupStatus(steps ...string) *StartupStatus {
	s := &StartupStatus{current: "Initializing..."}
	for _, name := range steps {
		s.steps = append(s.steps, StartupStep{Name: name})
	}
	return s
}

// SetCurrentStep updates the current initialization step
func (s *StartupStatus) SetCurrentStep(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = step
}

// CompleteStep marks a step as completed
func (s *StartupStatus) CompleteStep(stepName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.steps {
		if s.steps[i].Name == stepName {
			s.steps[i].Completed = true
			break
		}
	}
}

// MarkReady marks the server as fully initialized. db, if not nil, is
// pinged on every readiness check from then on.
func (s *StartupStatus) MarkReady(db Pinger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	s.current = "Server ready"
	s.db = db
}

// IsReady returns whether the server is fully initialized
func (s *StartupStatus) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *StartupStatus) progress() int {
	if len(s.steps) == 0 {
		if s.ready {
			return 100
		}
		return 0
	}
	completed := 0
	for _, step := range s.steps {
		if step.Completed {
			completed++
		}
	}
	return (completed * 100) / len(s.steps)
}

type readinessResponse struct {
	Status   string        `json:"status"`
	Current  string        `json:"current"`
	Progress int           `json:"progress"`
	Steps    []StartupStep `json:"steps"`
}

// Healthz reports that the process is up
func (s *StartupStatus) Healthz(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports 200 once startup finished and the database answers
func (s *StartupStatus) Readyz(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := readinessResponse{
		Status:   "starting",
		Current:  s.current,
		Progress: s.progress(),
		Steps:    append([]StartupStep(nil), s.steps...),
	}
	ready, db := s.ready, s.db
	s.mu.RUnlock()

	if !ready {
		respondWithJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Progress = 100
	if db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			resp.Status = "unavailable"
			resp.Current = "Database unreachable"
			respondWithJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	resp.Status = "ready"
	respondWithJSON(w, http.StatusOK, resp)
}
