package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"studyshare/internal/app"
	"studyshare/pkg/domain"
	"studyshare/pkg/store"
)

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	overview, err := s.app.Overview()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListProjects(w, r)
	case http.MethodPost:
		s.handleCreateProject(w, r, false)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ProjectFilter{
		Course:    strings.TrimSpace(q.Get("course")),
		Professor: strings.TrimSpace(q.Get("professor")),
		Semester:  atoiOrZero(q.Get("semester")),
		Page:      atoiOrZero(q.Get("page")),
	}
	page, err := s.app.ListProjects(filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// /api/projects/{id} or /api/projects/{id}/verify
func (s *Server) handleProjectByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] == "verify" {
			s.handleVerifyProject(w, r, id)
			return
		}
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	project, verifications, err := s.app.GetProject(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project":       project,
		"verifications": verifications,
	})
}

type verifyRequest struct {
	UserName string `json:"userName"`
	Worked   bool   `json:"worked"`
	Comment  string `json:"comment"`
}

func (s *Server) handleVerifyProject(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// A logged-in student verifies under their own name.
	if p, ok, err := s.principal(r); err != nil {
		writeAppError(w, err)
		return
	} else if ok && p.User != nil && p.User.DisplayName != "" {
		req.UserName = p.User.DisplayName
	}
	v, err := s.app.VerifyProject(app.VerifyProjectInput{
		ProjectID: id,
		UserName:  req.UserName,
		Worked:    req.Worked,
		Comment:   req.Comment,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// handleCreateProject serves both the public and the admin upload routes; the
// admin route marks the record as curated.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request, asAdmin bool) {
	uploader, ok := s.resolveUploader(w, r, asAdmin)
	if !ok {
		return
	}
	if !s.parseUploadForm(w, r) {
		return
	}
	defer cleanupMultipart(r)

	in := app.CreateProjectInput{
		CourseCode:   r.FormValue("courseCode"),
		SubjectName:  r.FormValue("subjectName"),
		Professor:    r.FormValue("professor"),
		Semester:     atoiOrZero(r.FormValue("semester")),
		Description:  r.FormValue("description"),
		TechStack:    r.FormValue("techStack"),
		GithubLink:   r.FormValue("githubLink"),
		DemoVideo:    r.FormValue("demoVideo"),
		UploaderName: uploader.name,
		UploaderRoll: uploader.roll,
		AdminUpload:  uploader.admin,
	}
	if in.UploaderName == "" {
		in.UploaderName = r.FormValue("uploaderName")
	}
	if in.UploaderRoll == "" {
		in.UploaderRoll = r.FormValue("uploaderRoll")
	}

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	for _, slot := range []struct {
		field string
		dest  **app.FileUpload
	}{
		{"projectFile", &in.ProjectFile},
		{"reportFile", &in.ReportFile},
		{"pptFile", &in.PPTFile},
	} {
		if up, f := formUpload(r, slot.field); up != nil {
			*slot.dest = up
			closers = append(closers, f)
		}
	}

	project, err := s.app.CreateProject(r.Context(), in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListNotes(w, r)
	case http.MethodPost:
		s.handleCreateNote(w, r, false)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.NoteFilter{
		Course: strings.TrimSpace(q.Get("course")),
		Page:   atoiOrZero(q.Get("page")),
	}
	page, err := s.app.ListNotes(filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleNoteByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/notes/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	note, err := s.app.GetNote(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request, asAdmin bool) {
	uploader, ok := s.resolveUploader(w, r, asAdmin)
	if !ok {
		return
	}
	if !s.parseUploadForm(w, r) {
		return
	}
	defer cleanupMultipart(r)

	in := app.CreateNoteInput{
		CourseCode:   r.FormValue("courseCode"),
		SubjectName:  r.FormValue("subjectName"),
		UnitNumber:   atoiOrZero(r.FormValue("unitNumber")),
		Title:        r.FormValue("title"),
		Description:  r.FormValue("description"),
		UploaderName: uploader.name,
		UploaderRoll: uploader.roll,
		AdminUpload:  uploader.admin,
	}
	if in.UploaderName == "" {
		in.UploaderName = r.FormValue("uploaderName")
	}
	if in.UploaderRoll == "" {
		in.UploaderRoll = r.FormValue("uploaderRoll")
	}

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	for slot := 1; slot <= 5; slot++ {
		field := "chapter_" + strconv.Itoa(slot)
		if up, f := formUpload(r, field); up != nil {
			in.Chapters = append(in.Chapters, app.ChapterUpload{Slot: slot, File: *up})
			closers = append(closers, f)
		}
	}

	note, err := s.app.CreateNote(r.Context(), in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// /api/download/{category}/{id}?chapter=n
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/download/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		notFound(w, "not found")
		return
	}
	category := domain.FileCategory(parts[0])
	id := parts[1]
	chapter := atoiOrZero(r.URL.Query().Get("chapter"))

	rc, filename, err := s.app.Download(r.Context(), category, id, chapter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		// Response already started; nothing more to send.
		return
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	result, err := s.app.Search(r.URL.Query().Get("q"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type projectRequestBody struct {
	CourseCode    string `json:"courseCode"`
	SubjectName   string `json:"subjectName"`
	Semester      int    `json:"semester"`
	RequesterName string `json:"requesterName"`
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req projectRequestBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	created, err := s.app.RequestProject(app.ProjectRequestInput{
		CourseCode:    req.CourseCode,
		SubjectName:   req.SubjectName,
		Semester:      req.Semester,
		RequesterName: req.RequesterName,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// uploaderIdentity is who an upload is attributed to.
type uploaderIdentity struct {
	name  string
	roll  string
	admin bool
}

// resolveUploader applies the identity rules for upload routes: an admin
// session marks the record curated, a student session must have a completed
// profile and supplies the attribution, and no session leaves attribution to
// the form fields.
func (s *Server) resolveUploader(w http.ResponseWriter, r *http.Request, asAdmin bool) (uploaderIdentity, bool) {
	p, ok, err := s.principal(r)
	if err != nil {
		writeAppError(w, err)
		return uploaderIdentity{}, false
	}
	if asAdmin {
		// The admin routes sit behind withAdmin already.
		return uploaderIdentity{name: "Admin", roll: "admin", admin: true}, true
	}
	if !ok {
		return uploaderIdentity{}, true
	}
	if p.IsAdmin() {
		return uploaderIdentity{name: "Admin", roll: "admin", admin: true}, true
	}
	if !p.User.ProfileComplete() {
		writeAppError(w, app.ErrProfileIncomplete)
		return uploaderIdentity{}, false
	}
	return uploaderIdentity{name: p.User.DisplayName, roll: p.User.RollNumber}, true
}

// parseUploadForm enforces the request size cap and parses the multipart
// body. It writes the error response itself and reports success.
func (s *Server) parseUploadForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return false
	}
	return true
}

func cleanupMultipart(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

func formUpload(r *http.Request, field string) (*app.FileUpload, multipart.File) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, nil
	}
	return &app.FileUpload{Filename: header.Filename, Content: file}, file
}

func atoiOrZero(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}
