package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"studyshare/internal/app"
	"studyshare/internal/util"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	MaxUploadBytes int64
	TrustedProxies []string
}

// Server exposes the HTTP API for the resource-sharing service.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	maxUploadBytes int64
	trustedProxies *util.TrustedProxies
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires an app")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 * 1024 * 1024
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
		trustedProxies: trusted,
	}
	s.routes()
	return s, nil
}

// clientIP resolves the caller address honoring trusted proxy headers.
func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("studyshare", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// catalog
	s.mux.HandleFunc("/api/overview", s.handleOverview)
	s.mux.HandleFunc("/api/projects", s.handleProjects)
	s.mux.HandleFunc("/api/projects/", s.handleProjectByID)
	s.mux.HandleFunc("/api/notes", s.handleNotes)
	s.mux.HandleFunc("/api/notes/", s.handleNoteByID)
	s.mux.HandleFunc("/api/download/", s.handleDownload)
	s.mux.HandleFunc("/api/search", s.handleSearch)
	s.mux.HandleFunc("/api/requests", s.handleRequests)

	// phone login
	s.mux.HandleFunc("/api/auth/phone", s.handleRequestOTP)
	s.mux.HandleFunc("/api/auth/verify-otp", s.handleVerifyOTP)
	s.mux.HandleFunc("/api/auth/resend-otp", s.handleResendOTP)
	s.mux.HandleFunc("/api/auth/complete-profile", s.handleCompleteProfile)
	s.mux.HandleFunc("/api/auth/me", s.handleMe)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)

	// admin
	s.mux.HandleFunc("/api/admin/login", s.handleAdminLogin)
	s.mux.Handle("/api/admin/projects", s.withAdmin(s.handleAdminProjects))
	s.mux.Handle("/api/admin/projects/", s.withAdmin(s.handleAdminProjectByID))
	s.mux.Handle("/api/admin/notes", s.withAdmin(s.handleAdminNotes))
	s.mux.Handle("/api/admin/notes/", s.withAdmin(s.handleAdminNoteByID))
	s.mux.Handle("/api/admin/requests", s.withAdmin(s.handleAdminRequests))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// principal resolves the optional bearer token. ok is false when no token was
// presented at all; a presented but invalid token is an error.
func (s *Server) principal(r *http.Request) (app.Principal, bool, error) {
	token, ok := bearerToken(r)
	if !ok {
		return app.Principal{}, false, nil
	}
	p, err := s.app.VerifySession(token)
	if err != nil {
		return app.Principal{}, false, err
	}
	return p, true, nil
}

type adminHandler func(http.ResponseWriter, *http.Request)

func (s *Server) withAdmin(next adminHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok, err := s.principal(r)
		if err != nil || !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !p.IsAdmin() {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	})
}

// withUser resolves a student session and requires it to exist.
func (s *Server) withUser(r *http.Request) (app.Principal, error) {
	p, ok, err := s.principal(r)
	if err != nil {
		return app.Principal{}, err
	}
	if !ok || p.User == nil {
		return app.Principal{}, app.ErrUnauthorized
	}
	return p, nil
}

// writeAppError maps application errors to HTTP status codes.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrProjectNotFound),
		errors.Is(err, app.ErrNoteNotFound),
		errors.Is(err, app.ErrFileNotFound),
		errors.Is(err, app.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrOTPInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrOTPRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials),
		errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrProfileIncomplete):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		slog.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized", message == "incorrect password":
		return "AUTH_INVALID"
	case message == "forbidden":
		return "AUTH_FORBIDDEN"
	case strings.Contains(message, "invalid or expired code"):
		return "AUTH_OTP_INVALID"
	case strings.Contains(message, "too many code requests"):
		return "AUTH_OTP_RATE_LIMITED"
	case strings.Contains(message, "profile must be completed"):
		return "AUTH_PROFILE_INCOMPLETE"
	case strings.Contains(message, "project not found"):
		return "PROJECT_NOT_FOUND"
	case strings.Contains(message, "note not found"):
		return "NOTE_NOT_FOUND"
	case strings.Contains(message, "file not found"):
		return "FILE_NOT_FOUND"
	case message == "file too large":
		return "UPLOAD_TOO_LARGE"
	case message == "invalid form data":
		return "UPLOAD_INVALID_FORM"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID"
	case http.StatusForbidden:
		return "AUTH_FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "UPLOAD_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
