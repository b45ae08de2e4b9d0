package server

import (
	"net/http"
	"strings"
)

// Admin routes sit behind withAdmin; handlers here can assume an admin
// session.

func (s *Server) handleAdminProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListProjects(w, r)
	case http.MethodPost:
		s.handleCreateProject(w, r, true)
	default:
		methodNotAllowed(w)
	}
}

// /api/admin/projects/{id} or /api/admin/projects/{id}/feedback
func (s *Server) handleAdminProjectByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/projects/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] == "feedback" {
			s.handleAdminFeedback(w, r, id)
			return
		}
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteProject(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

func (s *Server) handleAdminFeedback(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	project, err := s.app.SetAdminFeedback(id, req.Feedback)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleAdminNotes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListNotes(w, r)
	case http.MethodPost:
		s.handleCreateNote(w, r, true)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAdminNoteByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/notes/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteNote(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAdminRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	requests, err := s.app.ListProjectRequests()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": requests,
		"count": len(requests),
	})
}
