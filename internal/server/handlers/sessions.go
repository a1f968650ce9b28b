package handlers

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/3leaps/gcodeml/pkg/taskdb"
)

// Sessions serves the read-only session API backed by the task database.
type Sessions struct {
	db *sql.DB
}

// NewSessions returns handlers reading from db.
func NewSessions(db *sql.DB) *Sessions {
	return &Sessions{db: db}
}

// SessionDetail is the body of GET /v1/sessions/{name}.
type SessionDetail struct {
	Session taskdb.SessionInfo   `json:"session"`
	Summary *taskdb.Summary      `json:"summary"`
	Workers []taskdb.WorkerTimes `json:"workers"`
}

// ClusterDetail is the body of GET /v1/sessions/{name}/clusters.
type ClusterDetail struct {
	Session string                `json:"session"`
	Jobs    []taskdb.ClusterCount `json:"jobs"`
	Failed  []taskdb.ClusterCount `json:"failed"`
}

func (s *Sessions) available(w http.ResponseWriter, r *http.Request) bool {
	if s == nil || s.db == nil {
		respondWithError(w, r, errUnavailable)
		return false
	}
	return true
}

// List handles GET /v1/sessions.
func (s *Sessions) List(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	sessions, err := taskdb.ListSessions(r.Context(), s.db)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []taskdb.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// Get handles GET /v1/sessions/{name}.
func (s *Sessions) Get(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	info, err := taskdb.FindSession(r.Context(), s.db, chi.URLParam(r, "name"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	summary, err := taskdb.SessionSummary(r.Context(), s.db, info.SessionID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	workers, err := taskdb.WorkerTimeVariation(r.Context(), s.db, info.SessionID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionDetail{Session: info, Summary: summary, Workers: workers})
}

// Clusters handles GET /v1/sessions/{name}/clusters.
func (s *Sessions) Clusters(w http.ResponseWriter, r *http.Request) {
	if !s.available(w, r) {
		return
	}
	info, err := taskdb.FindSession(r.Context(), s.db, chi.URLParam(r, "name"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	jobs, err := taskdb.JobsPerCluster(r.Context(), s.db, info.SessionID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	failed, err := taskdb.FailedPerCluster(r.Context(), s.db, info.SessionID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClusterDetail{Session: info.Name, Jobs: jobs, Failed: failed})
}
