package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seznam/gsast-go/internal/config"
	"github.com/seznam/gsast-go/internal/coordinator"
	"github.com/seznam/gsast-go/internal/repos"
	"github.com/seznam/gsast-go/internal/rules"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// handlePostScan implements spec.md §6.1 POST /scan: validate
// synchronously, then spawn a detached Coordinator. A scan that fails
// request validation (bad config, missing required rule files) never
// gets a ScanRecord (spec.md §8 scenario 2).
func (s *Server) handlePostScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := config.ParseGSASTConfig(req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var files []rules.File
	for _, rf := range req.RuleFiles {
		if rf.Name == "" {
			writeError(w, http.StatusBadRequest, "rule file name is required")
			return
		}
		if !rules.ValidExtension(rf.Name) {
			writeError(w, http.StatusBadRequest, "unsupported rule file extension: "+rf.Name)
			return
		}
		files = append(files, rules.File{RelativePath: rf.Name, Bytes: []byte(rf.Content)})
	}

	if len(files) == 0 && s.registry.NeedsRules(cfg.Scanners) {
		writeError(w, http.StatusBadRequest, "Rule files are required")
		return
	}

	source, err := s.source(cfg.Target.Provider)
	if err != nil {
		if errors.Is(err, repos.ErrAuthMissing) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c := coordinator.New(coordinator.Request{Config: *cfg, RuleFiles: files}, coordinator.Deps{
		Store:    s.store,
		Tasks:    s.tasksQ,
		Registry: s.registry,
		Source:   source,
		Timeouts: s.cfg.Timeouts,
	})

	go c.Run(context.Background())

	writeJSON(w, http.StatusOK, scanResponse{ScanID: c.ScanID()})
}

// handleGetScanStatus implements spec.md §6.1 GET /scan/{id}/status.
func (s *Server) handleGetScanStatus(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")
	rec, ok, err := coordinator.GetRecord(r.Context(), s.store, scanID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{ScanID: rec.ScanID, Message: rec.Message, Jobs: rec.Jobs, Status: rec.Status})
}

// handleGetScanResults implements spec.md §6.1 GET /scan/{id}/results.
func (s *Server) handleGetScanResults(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")
	q := r.URL.Query()

	result, err := s.results.Get(r.Context(), scanID, q.Get("project"), q.Get("scan"), q.Get("query"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "no projects found")
		return
	}
	if result.Error != "" {
		writeJSON(w, http.StatusInternalServerError, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListScans implements spec.md §6.1 GET /queue/scans.
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	ids, err := s.admin.ListScans(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scansResponse{Scans: ids})
}

// handleListProjects implements spec.md §6.1 GET /queue/projects.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	keys, err := s.admin.ListProjectCacheKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, projectsResponse{Projects: keys})
}

// handleCleanupQueues implements spec.md §6.1 DELETE /queue/cleanup.
func (s *Server) handleCleanupQueues(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.CleanupQueues(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleCleanupProjects implements spec.md §6.1 DELETE /queue/projects.
func (s *Server) handleCleanupProjects(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.CleanupProjects(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}
