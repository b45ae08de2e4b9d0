package store

import "studyshare/pkg/domain"

// PageSize is the fixed listing page size.
const PageSize = 12

// SearchLimit caps cross-entity search results per entity.
const SearchLimit = 10

// ProjectFilter narrows project listings. Course and Professor are
// case-insensitive substring matches; Semester is an equality match when > 0.
type ProjectFilter struct {
	Course    string
	Professor string
	Semester  int
	Page      int
}

// NoteFilter narrows note listings.
type NoteFilter struct {
	Course string
	Page   int
}

// Store defines persistence operations for the resource catalog.
type Store interface {
	// projects
	SaveProject(domain.Project) error
	GetProject(id string) (domain.Project, bool, error)
	ListProjects(f ProjectFilter) ([]domain.Project, int64, error)
	DeleteProject(id string) error
	IncrementDownloads(id string) error
	SearchProjects(q string, limit int) ([]domain.Project, error)

	// verifications
	AddVerification(v domain.Verification) error
	ListVerifications(projectID string, limit int) ([]domain.Verification, error)

	// notes
	SaveNote(domain.Note) error
	GetNote(id string) (domain.Note, bool, error)
	ListNotes(f NoteFilter) ([]domain.Note, int64, error)
	DeleteNote(id string) error
	SearchNotes(q string, limit int) ([]domain.Note, error)

	// users
	SaveUser(domain.User) error
	GetUserByPhone(phone string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// one-time codes
	SaveOTP(domain.OTP) error
	ActiveOTPs(phone string) ([]domain.OTP, error)
	MarkOTPUsed(id string) error
	InvalidateOTPs(phone string) error

	// project requests
	SaveProjectRequest(domain.ProjectRequest) error
	ListProjectRequests() ([]domain.ProjectRequest, error)
}
