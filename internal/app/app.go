package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"studyshare/internal/ratelimit"
	"studyshare/internal/sms"
	"studyshare/pkg/auth"
	"studyshare/pkg/domain"
	"studyshare/pkg/storage"
	"studyshare/pkg/store"
)

// Options configures an App. Store, Blobs and Tokens are required; the OTP
// fields may be zero when phone login is not used (tests, local tools).
type Options struct {
	Store  store.Store
	Blobs  storage.BlobStore
	Tokens *auth.TokenIssuer
	SMS    sms.Sender

	AdminPasswordHash string

	OTPTTL         time.Duration
	OTPResendAfter time.Duration
	OTPSendLimiter *ratelimit.FixedWindowLimiter
	Redis          *redis.Client
	DevEchoOTP     bool
}

// App implements the resource-sharing operations on top of the store and
// blob layers. Handlers stay thin and translate errors to status codes.
type App struct {
	store  store.Store
	blobs  storage.BlobStore
	tokens *auth.TokenIssuer
	sms    sms.Sender

	adminPasswordHash string

	otpTTL         time.Duration
	otpResendAfter time.Duration
	otpSendLimiter *ratelimit.FixedWindowLimiter
	redisClient    *redis.Client
	devEchoOTP     bool
}

func New(opts Options) (*App, error) {
	if opts.Store == nil {
		return nil, errors.New("app requires a store")
	}
	if opts.Blobs == nil {
		return nil, errors.New("app requires a blob store")
	}
	if opts.Tokens == nil {
		return nil, errors.New("app requires a token issuer")
	}
	if opts.SMS == nil {
		opts.SMS = sms.LogSender{}
	}
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = 10 * time.Minute
	}
	if opts.OTPResendAfter <= 0 {
		opts.OTPResendAfter = time.Minute
	}
	return &App{
		store:             opts.Store,
		blobs:             opts.Blobs,
		tokens:            opts.Tokens,
		sms:               opts.SMS,
		adminPasswordHash: opts.AdminPasswordHash,
		otpTTL:            opts.OTPTTL,
		otpResendAfter:    opts.OTPResendAfter,
		otpSendLimiter:    opts.OTPSendLimiter,
		redisClient:       opts.Redis,
		devEchoOTP:        opts.DevEchoOTP,
	}, nil
}

// FileUpload is one uploaded file as received from a multipart form.
type FileUpload struct {
	Filename string
	Content  io.Reader
}

type CreateProjectInput struct {
	CourseCode   string
	SubjectName  string
	Professor    string
	Semester     int
	Description  string
	TechStack    string
	GithubLink   string
	DemoVideo    string
	UploaderName string
	UploaderRoll string
	AdminUpload  bool

	ProjectFile *FileUpload
	ReportFile  *FileUpload
	PPTFile     *FileUpload
}

// ProjectPage is one page of a project listing.
type ProjectPage struct {
	Items      []domain.Project `json:"items"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	TotalPages int              `json:"totalPages"`
}

// NotePage is one page of a note listing.
type NotePage struct {
	Items      []domain.Note `json:"items"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	TotalPages int           `json:"totalPages"`
}

func totalPages(total int64) int {
	pages := int((total + store.PageSize - 1) / store.PageSize)
	if pages < 1 {
		pages = 1
	}
	return pages
}

func (a *App) ListProjects(f store.ProjectFilter) (ProjectPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	items, total, err := a.store.ListProjects(f)
	if err != nil {
		return ProjectPage{}, fmt.Errorf("list projects: %w", err)
	}
	return ProjectPage{Items: items, Total: total, Page: f.Page, TotalPages: totalPages(total)}, nil
}

// GetProject returns the project together with its recent verifications.
func (a *App) GetProject(id string) (domain.Project, []domain.Verification, error) {
	p, ok, err := a.store.GetProject(id)
	if err != nil {
		return domain.Project{}, nil, fmt.Errorf("get project: %w", err)
	}
	if !ok {
		return domain.Project{}, nil, ErrProjectNotFound
	}
	verifications, err := a.store.ListVerifications(id, 50)
	if err != nil {
		return domain.Project{}, nil, fmt.Errorf("list verifications: %w", err)
	}
	return p, verifications, nil
}

func (a *App) CreateProject(ctx context.Context, in CreateProjectInput) (domain.Project, error) {
	required := []struct{ field, value string }{
		{"courseCode", in.CourseCode},
		{"subjectName", in.SubjectName},
		{"professor", in.Professor},
		{"description", in.Description},
		{"techStack", in.TechStack},
		{"uploaderName", in.UploaderName},
		{"uploaderRoll", in.UploaderRoll},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return domain.Project{}, fmt.Errorf("%w: %s is required", ErrValidation, r.field)
		}
	}
	if in.Semester < 1 || in.Semester > 10 {
		return domain.Project{}, fmt.Errorf("%w: semester must be between 1 and 10", ErrValidation)
	}
	if in.ProjectFile == nil {
		return domain.Project{}, fmt.Errorf("%w: project file is required", ErrValidation)
	}

	p := domain.Project{
		ID:           store.NewID(),
		CourseCode:   strings.ToUpper(strings.TrimSpace(in.CourseCode)),
		SubjectName:  strings.TrimSpace(in.SubjectName),
		Professor:    strings.TrimSpace(in.Professor),
		Semester:     in.Semester,
		Description:  in.Description,
		TechStack:    in.TechStack,
		GithubLink:   strings.TrimSpace(in.GithubLink),
		DemoVideo:    strings.TrimSpace(in.DemoVideo),
		UploaderName: strings.TrimSpace(in.UploaderName),
		UploaderRoll: strings.TrimSpace(in.UploaderRoll),
		AdminUpload:  in.AdminUpload,
		CreatedAt:    time.Now().UTC(),
	}

	slots := []struct {
		category domain.FileCategory
		upload   *FileUpload
		dest     *string
	}{
		{domain.CategoryProject, in.ProjectFile, &p.ProjectFile},
		{domain.CategoryReport, in.ReportFile, &p.ReportFile},
		{domain.CategoryPPT, in.PPTFile, &p.PPTFile},
	}
	var saved []domain.FileCategory
	for _, s := range slots {
		if s.upload == nil {
			continue
		}
		key := storedKey(p.UploaderRoll, s.upload.Filename)
		if _, _, err := a.storeUpload(ctx, s.category, key, *s.upload, false); err != nil {
			a.removeSaved(ctx, p, saved)
			return domain.Project{}, fmt.Errorf("store %s file: %w", s.category, err)
		}
		*s.dest = key
		saved = append(saved, s.category)
	}

	if err := a.store.SaveProject(p); err != nil {
		a.removeSaved(ctx, p, saved)
		return domain.Project{}, fmt.Errorf("save project: %w", err)
	}
	slog.Info("project_created", "id", p.ID, "course", p.CourseCode, "admin", p.AdminUpload)
	return p, nil
}

func (a *App) removeSaved(ctx context.Context, p domain.Project, categories []domain.FileCategory) {
	for _, c := range categories {
		if key := p.FileKey(c); key != "" {
			if err := a.blobs.Delete(ctx, c, key); err != nil {
				slog.Warn("cleanup_failed", "category", string(c), "key", key, "error", err)
			}
		}
	}
}

type ChapterUpload struct {
	Slot int
	File FileUpload
}

type CreateNoteInput struct {
	CourseCode   string
	SubjectName  string
	UnitNumber   int
	Title        string
	Description  string
	UploaderName string
	UploaderRoll string
	AdminUpload  bool
	Chapters     []ChapterUpload
}

func (a *App) CreateNote(ctx context.Context, in CreateNoteInput) (domain.Note, error) {
	required := []struct{ field, value string }{
		{"courseCode", in.CourseCode},
		{"subjectName", in.SubjectName},
		{"title", in.Title},
		{"uploaderName", in.UploaderName},
		{"uploaderRoll", in.UploaderRoll},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return domain.Note{}, fmt.Errorf("%w: %s is required", ErrValidation, r.field)
		}
	}
	if len(in.Chapters) == 0 {
		return domain.Note{}, fmt.Errorf("%w: at least one file is required", ErrValidation)
	}
	if len(in.Chapters) > 5 {
		return domain.Note{}, fmt.Errorf("%w: at most 5 files per note", ErrValidation)
	}
	seen := map[int]bool{}
	for _, ch := range in.Chapters {
		if ch.Slot < 1 || ch.Slot > 5 {
			return domain.Note{}, fmt.Errorf("%w: file slot must be between 1 and 5", ErrValidation)
		}
		if seen[ch.Slot] {
			return domain.Note{}, fmt.Errorf("%w: duplicate file slot %d", ErrValidation, ch.Slot)
		}
		seen[ch.Slot] = true
	}

	n := domain.Note{
		ID:           store.NewID(),
		CourseCode:   strings.ToUpper(strings.TrimSpace(in.CourseCode)),
		SubjectName:  strings.TrimSpace(in.SubjectName),
		UnitNumber:   in.UnitNumber,
		Title:        strings.TrimSpace(in.Title),
		Description:  in.Description,
		UploaderName: strings.TrimSpace(in.UploaderName),
		UploaderRoll: strings.TrimSpace(in.UploaderRoll),
		AdminUpload:  in.AdminUpload,
		CreatedAt:    time.Now().UTC(),
	}

	for _, ch := range in.Chapters {
		key := storedChapterKey(n.UploaderRoll, ch.Slot, ch.File.Filename)
		size, pages, err := a.storeUpload(ctx, domain.CategoryNote, key, ch.File, true)
		if err != nil {
			a.removeNoteFiles(ctx, n)
			return domain.Note{}, fmt.Errorf("store note file: %w", err)
		}
		n.Attachments = append(n.Attachments, domain.Attachment{
			Slot:             ch.Slot,
			StorageKey:       key,
			OriginalFilename: storage.SanitizeFilename(ch.File.Filename),
			SizeBytes:        size,
			PageCount:        pages,
		})
	}

	if err := a.store.SaveNote(n); err != nil {
		a.removeNoteFiles(ctx, n)
		return domain.Note{}, fmt.Errorf("save note: %w", err)
	}
	slog.Info("note_created", "id", n.ID, "course", n.CourseCode, "files", len(n.Attachments))
	return n, nil
}

func (a *App) removeNoteFiles(ctx context.Context, n domain.Note) {
	for _, att := range n.Attachments {
		if err := a.blobs.Delete(ctx, domain.CategoryNote, att.StorageKey); err != nil {
			slog.Warn("cleanup_failed", "category", "note", "key", att.StorageKey, "error", err)
		}
	}
}

func (a *App) ListNotes(f store.NoteFilter) (NotePage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	items, total, err := a.store.ListNotes(f)
	if err != nil {
		return NotePage{}, fmt.Errorf("list notes: %w", err)
	}
	return NotePage{Items: items, Total: total, Page: f.Page, TotalPages: totalPages(total)}, nil
}

func (a *App) GetNote(id string) (domain.Note, error) {
	n, ok, err := a.store.GetNote(id)
	if err != nil {
		return domain.Note{}, fmt.Errorf("get note: %w", err)
	}
	if !ok {
		return domain.Note{}, ErrNoteNotFound
	}
	return n, nil
}

// Download opens the stored file for the given category and entity, and
// returns the filename to suggest to the client. Only downloads of the
// project archive itself count toward the project's download counter.
func (a *App) Download(ctx context.Context, category domain.FileCategory, id string, chapter int) (io.ReadCloser, string, error) {
	if !storage.ValidCategory(category) {
		return nil, "", fmt.Errorf("%w: unknown category %q", ErrValidation, category)
	}
	if category == domain.CategoryNote {
		n, ok, err := a.store.GetNote(id)
		if err != nil {
			return nil, "", fmt.Errorf("get note: %w", err)
		}
		if !ok {
			return nil, "", ErrNoteNotFound
		}
		if chapter < 1 {
			chapter = 1
		}
		att, ok := n.AttachmentBySlot(chapter)
		if !ok {
			return nil, "", ErrFileNotFound
		}
		rc, err := a.blobs.Open(ctx, category, att.StorageKey)
		if err != nil {
			return nil, "", ErrFileNotFound
		}
		return rc, att.OriginalFilename, nil
	}

	p, ok, err := a.store.GetProject(id)
	if err != nil {
		return nil, "", fmt.Errorf("get project: %w", err)
	}
	if !ok {
		return nil, "", ErrProjectNotFound
	}
	key := p.FileKey(category)
	if key == "" {
		return nil, "", ErrFileNotFound
	}
	rc, err := a.blobs.Open(ctx, category, key)
	if err != nil {
		return nil, "", ErrFileNotFound
	}
	if category == domain.CategoryProject {
		if err := a.store.IncrementDownloads(id); err != nil {
			slog.Warn("download_count_failed", "project", id, "error", err)
		}
	}
	return rc, key, nil
}

type VerifyProjectInput struct {
	ProjectID string
	UserName  string
	Worked    bool
	Comment   string
}

// VerifyProject records one crowd attestation. Repeat attestations by the
// same name are accepted; the log is append-only.
func (a *App) VerifyProject(in VerifyProjectInput) (domain.Verification, error) {
	if strings.TrimSpace(in.UserName) == "" {
		return domain.Verification{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	_, ok, err := a.store.GetProject(in.ProjectID)
	if err != nil {
		return domain.Verification{}, fmt.Errorf("get project: %w", err)
	}
	if !ok {
		return domain.Verification{}, ErrProjectNotFound
	}
	v := domain.Verification{
		ID:        store.NewID(),
		ProjectID: in.ProjectID,
		UserName:  strings.TrimSpace(in.UserName),
		Worked:    in.Worked,
		Comment:   in.Comment,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.AddVerification(v); err != nil {
		return domain.Verification{}, fmt.Errorf("add verification: %w", err)
	}
	return v, nil
}

// SearchResult holds cross-entity search matches, capped per entity.
type SearchResult struct {
	Projects []domain.Project `json:"projects"`
	Notes    []domain.Note    `json:"notes"`
}

func (a *App) Search(q string) (SearchResult, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return SearchResult{Projects: []domain.Project{}, Notes: []domain.Note{}}, nil
	}
	var (
		projects []domain.Project
		notes    []domain.Note
		g        errgroup.Group
	)
	g.Go(func() error {
		var err error
		if projects, err = a.store.SearchProjects(q, store.SearchLimit); err != nil {
			return fmt.Errorf("search projects: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if notes, err = a.store.SearchNotes(q, store.SearchLimit); err != nil {
			return fmt.Errorf("search notes: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return SearchResult{}, err
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	if notes == nil {
		notes = []domain.Note{}
	}
	return SearchResult{Projects: projects, Notes: notes}, nil
}

type ProjectRequestInput struct {
	CourseCode    string
	SubjectName   string
	Semester      int
	RequesterName string
}

func (a *App) RequestProject(in ProjectRequestInput) (domain.ProjectRequest, error) {
	if strings.TrimSpace(in.CourseCode) == "" {
		return domain.ProjectRequest{}, fmt.Errorf("%w: courseCode is required", ErrValidation)
	}
	if strings.TrimSpace(in.SubjectName) == "" {
		return domain.ProjectRequest{}, fmt.Errorf("%w: subjectName is required", ErrValidation)
	}
	req := domain.ProjectRequest{
		ID:            store.NewID(),
		CourseCode:    strings.ToUpper(strings.TrimSpace(in.CourseCode)),
		SubjectName:   strings.TrimSpace(in.SubjectName),
		Semester:      in.Semester,
		RequesterName: strings.TrimSpace(in.RequesterName),
		CreatedAt:     time.Now().UTC(),
	}
	if err := a.store.SaveProjectRequest(req); err != nil {
		return domain.ProjectRequest{}, fmt.Errorf("save project request: %w", err)
	}
	return req, nil
}

func (a *App) ListProjectRequests() ([]domain.ProjectRequest, error) {
	reqs, err := a.store.ListProjectRequests()
	if err != nil {
		return nil, fmt.Errorf("list project requests: %w", err)
	}
	if reqs == nil {
		reqs = []domain.ProjectRequest{}
	}
	return reqs, nil
}

// Overview summarizes the catalog for the landing view.
type Overview struct {
	TotalProjects  int64            `json:"totalProjects"`
	TotalNotes     int64            `json:"totalNotes"`
	RecentProjects []domain.Project `json:"recentProjects"`
	RecentNotes    []domain.Note    `json:"recentNotes"`
}

func (a *App) Overview() (Overview, error) {
	projects, totalProjects, err := a.store.ListProjects(store.ProjectFilter{Page: 1})
	if err != nil {
		return Overview{}, fmt.Errorf("list projects: %w", err)
	}
	notes, totalNotes, err := a.store.ListNotes(store.NoteFilter{Page: 1})
	if err != nil {
		return Overview{}, fmt.Errorf("list notes: %w", err)
	}
	const recent = 6
	if len(projects) > recent {
		projects = projects[:recent]
	}
	if len(notes) > recent {
		notes = notes[:recent]
	}
	return Overview{
		TotalProjects:  totalProjects,
		TotalNotes:     totalNotes,
		RecentProjects: projects,
		RecentNotes:    notes,
	}, nil
}

// DeleteProject removes the project row, its verifications and its stored
// files. Missing blobs are logged and skipped so a half-cleaned project can
// still be deleted.
func (a *App) DeleteProject(ctx context.Context, id string) error {
	p, ok, err := a.store.GetProject(id)
	if err != nil {
		return fmt.Errorf("get project: %w", err)
	}
	if !ok {
		return ErrProjectNotFound
	}
	for _, c := range []domain.FileCategory{domain.CategoryProject, domain.CategoryReport, domain.CategoryPPT} {
		if key := p.FileKey(c); key != "" {
			if err := a.blobs.Delete(ctx, c, key); err != nil {
				slog.Warn("blob_delete_failed", "category", string(c), "key", key, "error", err)
			}
		}
	}
	if err := a.store.DeleteProject(id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	slog.Info("project_deleted", "id", id)
	return nil
}

func (a *App) DeleteNote(ctx context.Context, id string) error {
	n, ok, err := a.store.GetNote(id)
	if err != nil {
		return fmt.Errorf("get note: %w", err)
	}
	if !ok {
		return ErrNoteNotFound
	}
	a.removeNoteFiles(ctx, n)
	if err := a.store.DeleteNote(id); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	slog.Info("note_deleted", "id", id)
	return nil
}

// SetAdminFeedback attaches or replaces the admin review note on a project.
func (a *App) SetAdminFeedback(id, feedback string) (domain.Project, error) {
	p, ok, err := a.store.GetProject(id)
	if err != nil {
		return domain.Project{}, fmt.Errorf("get project: %w", err)
	}
	if !ok {
		return domain.Project{}, ErrProjectNotFound
	}
	p.AdminFeedback = strings.TrimSpace(feedback)
	if err := a.store.SaveProject(p); err != nil {
		return domain.Project{}, fmt.Errorf("save project: %w", err)
	}
	return p, nil
}

func storedKey(roll, filename string) string {
	return storage.SanitizeFilename(roll) + "_" + storage.SanitizeFilename(filename)
}

func storedChapterKey(roll string, slot int, filename string) string {
	return fmt.Sprintf("%s_u%d_%s", storage.SanitizeFilename(roll), slot, storage.SanitizeFilename(filename))
}

// storeUpload spools the upload to a temp file so the exact size is known
// before handing it to the blob store, and counts pages for PDF uploads when
// asked.
func (a *App) storeUpload(ctx context.Context, category domain.FileCategory, key string, up FileUpload, wantPages bool) (int64, int, error) {
	tmp, err := os.CreateTemp("", "studyshare-upload-*")
	if err != nil {
		return 0, 0, fmt.Errorf("spool upload: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, up.Content)
	if err != nil {
		return 0, 0, fmt.Errorf("spool upload: %w", err)
	}
	if size == 0 {
		return 0, 0, fmt.Errorf("%w: empty file", ErrValidation)
	}

	pages := 0
	if wantPages && strings.HasSuffix(strings.ToLower(up.Filename), ".pdf") {
		pages = countPDFPages(tmp.Name())
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, 0, fmt.Errorf("rewind upload: %w", err)
	}
	if err := a.blobs.Save(ctx, category, key, tmp, size, contentTypeFor(up.Filename)); err != nil {
		return 0, 0, err
	}
	return size, pages, nil
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".zip":
		return "application/zip"
	case ".ppt":
		return "application/vnd.ms-powerpoint"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
