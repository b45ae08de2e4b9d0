package domain

import "time"

// FileCategory names a storage bucket for uploaded artifacts.
type FileCategory string

const (
	CategoryProject FileCategory = "project"
	CategoryReport  FileCategory = "report"
	CategoryPPT     FileCategory = "ppt"
	CategoryNote    FileCategory = "note"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

type Project struct {
	ID            string    `json:"id"`
	CourseCode    string    `json:"courseCode"`
	SubjectName   string    `json:"subjectName"`
	Professor     string    `json:"professor"`
	Semester      int       `json:"semester"`
	Description   string    `json:"description"`
	TechStack     string    `json:"techStack"`
	GithubLink    string    `json:"githubLink,omitempty"`
	DemoVideo     string    `json:"demoVideo,omitempty"`
	ProjectFile   string    `json:"-"`
	ReportFile    string    `json:"-"`
	PPTFile       string    `json:"-"`
	UploaderName  string    `json:"uploaderName"`
	UploaderRoll  string    `json:"uploaderRoll"`
	Downloads     int       `json:"downloads"`
	VerifiedCount int       `json:"verifiedCount"`
	AdminUpload   bool      `json:"adminUpload"`
	AdminFeedback string    `json:"adminFeedback,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// FileKey returns the stored filename for a project file slot.
func (p Project) FileKey(category FileCategory) string {
	switch category {
	case CategoryProject:
		return p.ProjectFile
	case CategoryReport:
		return p.ReportFile
	case CategoryPPT:
		return p.PPTFile
	default:
		return ""
	}
}

// Attachment is one chapter slot of a note.
type Attachment struct {
	Slot             int    `json:"slot"`
	StorageKey       string `json:"-"`
	OriginalFilename string `json:"originalFilename"`
	SizeBytes        int64  `json:"sizeBytes"`
	PageCount        int    `json:"pageCount,omitempty"`
}

type Note struct {
	ID           string       `json:"id"`
	CourseCode   string       `json:"courseCode"`
	SubjectName  string       `json:"subjectName"`
	UnitNumber   int          `json:"unitNumber"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Attachments  []Attachment `json:"attachments"`
	UploaderName string       `json:"uploaderName"`
	UploaderRoll string       `json:"uploaderRoll"`
	RatingCount  int          `json:"ratingCount"`
	AdminUpload  bool         `json:"adminUpload"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// AttachmentBySlot returns the chapter attachment with the given slot index.
func (n Note) AttachmentBySlot(slot int) (Attachment, bool) {
	for _, att := range n.Attachments {
		if att.Slot == slot {
			return att, true
		}
	}
	return Attachment{}, false
}

// Verification is an append-only attestation that a project worked (or not).
type Verification struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	UserName  string    `json:"userName"`
	Worked    bool      `json:"worked"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type User struct {
	ID             string    `json:"id"`
	Phone          string    `json:"phone"`
	DisplayName    string    `json:"displayName"`
	RollNumber     string    `json:"rollNumber,omitempty"`
	Department     string    `json:"department,omitempty"`
	GraduationYear int       `json:"graduationYear,omitempty"`
	Verified       bool      `json:"verified"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ProfileComplete reports whether the user may perform upload actions.
func (u User) ProfileComplete() bool {
	return u.RollNumber != ""
}

// OTP is a one-time login code. The code itself is stored hashed.
type OTP struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	CodeHash  string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"createdAt"`
}

// Active reports whether the code can still be redeemed at the given time.
func (o OTP) Active(now time.Time) bool {
	return !o.Used && now.Before(o.ExpiresAt)
}

// ProjectRequest is a wishlist entry for a project nobody has shared yet.
type ProjectRequest struct {
	ID            string    `json:"id"`
	CourseCode    string    `json:"courseCode"`
	SubjectName   string    `json:"subjectName"`
	Semester      int       `json:"semester"`
	RequesterName string    `json:"requesterName"`
	Fulfilled     bool      `json:"fulfilled"`
	CreatedAt     time.Time `json:"createdAt"`
}
