package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"studyshare/pkg/domain"
)

// GORM models used for persistence.
type ProjectModel struct {
	ID            string `gorm:"primaryKey"`
	CourseCode    string `gorm:"not null;index"`
	SubjectName   string `gorm:"not null"`
	Professor     string `gorm:"not null;index"`
	Semester      int    `gorm:"not null;index"`
	Description   string `gorm:"type:text;not null"`
	TechStack     string `gorm:"not null"`
	Links         datatypes.JSON `gorm:"type:jsonb"`
	ProjectFile   string
	ReportFile    string
	PPTFile       string
	UploaderName  string `gorm:"not null"`
	UploaderRoll  string `gorm:"not null"`
	Downloads     int    `gorm:"not null;default:0"`
	VerifiedCount int    `gorm:"not null;default:0"`
	AdminUpload   bool   `gorm:"not null;default:false"`
	AdminFeedback string
	CreatedAt     time.Time `gorm:"not null;index"`
}

type NoteModel struct {
	ID           string `gorm:"primaryKey"`
	CourseCode   string `gorm:"not null;index"`
	SubjectName  string `gorm:"not null"`
	UnitNumber   int    `gorm:"not null"`
	Title        string `gorm:"not null"`
	Description  string `gorm:"type:text"`
	UploaderName string `gorm:"not null"`
	UploaderRoll string `gorm:"not null"`
	RatingCount  int    `gorm:"not null;default:0"`
	AdminUpload  bool   `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"not null;index"`
}

type NoteAttachmentModel struct {
	ID               string `gorm:"primaryKey"`
	NoteID           string `gorm:"not null;index"`
	Slot             int    `gorm:"not null"`
	StorageKey       string `gorm:"not null"`
	OriginalFilename string `gorm:"not null"`
	SizeBytes        int64  `gorm:"not null"`
	PageCount        int
}

type VerificationModel struct {
	ID        string `gorm:"primaryKey"`
	ProjectID string `gorm:"not null;index"`
	UserName  string `gorm:"not null"`
	Worked    bool   `gorm:"not null"`
	Comment   string `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;index"`
}

type UserModel struct {
	ID             string `gorm:"primaryKey"`
	Phone          string `gorm:"uniqueIndex;not null"`
	DisplayName    string `gorm:"not null"`
	RollNumber     string
	Department     string
	GraduationYear int
	Verified       bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"not null"`
}

type OTPModel struct {
	ID        string `gorm:"primaryKey"`
	Phone     string `gorm:"not null;index"`
	CodeHash  string `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"`
	Used      bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
}

type ProjectRequestModel struct {
	ID            string `gorm:"primaryKey"`
	CourseCode    string `gorm:"not null"`
	SubjectName   string `gorm:"not null"`
	Semester      int    `gorm:"not null"`
	RequesterName string `gorm:"not null"`
	Fulfilled     bool   `gorm:"not null;default:false"`
	CreatedAt     time.Time `gorm:"not null;index"`
}

// projectLinks is the shape of the jsonb links column.
type projectLinks struct {
	Github    string `json:"github,omitempty"`
	DemoVideo string `json:"demoVideo,omitempty"`
}

func projectToModel(p domain.Project) ProjectModel {
	links, _ := json.Marshal(projectLinks{Github: p.GithubLink, DemoVideo: p.DemoVideo})
	return ProjectModel{
		ID:            p.ID,
		CourseCode:    p.CourseCode,
		SubjectName:   p.SubjectName,
		Professor:     p.Professor,
		Semester:      p.Semester,
		Description:   p.Description,
		TechStack:     p.TechStack,
		Links:         datatypes.JSON(links),
		ProjectFile:   p.ProjectFile,
		ReportFile:    p.ReportFile,
		PPTFile:       p.PPTFile,
		UploaderName:  p.UploaderName,
		UploaderRoll:  p.UploaderRoll,
		Downloads:     p.Downloads,
		VerifiedCount: p.VerifiedCount,
		AdminUpload:   p.AdminUpload,
		AdminFeedback: p.AdminFeedback,
		CreatedAt:     p.CreatedAt,
	}
}

func projectFromModel(m ProjectModel) domain.Project {
	var links projectLinks
	_ = json.Unmarshal(m.Links, &links)
	return domain.Project{
		ID:            m.ID,
		CourseCode:    m.CourseCode,
		SubjectName:   m.SubjectName,
		Professor:     m.Professor,
		Semester:      m.Semester,
		Description:   m.Description,
		TechStack:     m.TechStack,
		GithubLink:    links.Github,
		DemoVideo:     links.DemoVideo,
		ProjectFile:   m.ProjectFile,
		ReportFile:    m.ReportFile,
		PPTFile:       m.PPTFile,
		UploaderName:  m.UploaderName,
		UploaderRoll:  m.UploaderRoll,
		Downloads:     m.Downloads,
		VerifiedCount: m.VerifiedCount,
		AdminUpload:   m.AdminUpload,
		AdminFeedback: m.AdminFeedback,
		CreatedAt:     m.CreatedAt,
	}
}

func noteToModel(n domain.Note) (NoteModel, []NoteAttachmentModel) {
	model := NoteModel{
		ID:           n.ID,
		CourseCode:   n.CourseCode,
		SubjectName:  n.SubjectName,
		UnitNumber:   n.UnitNumber,
		Title:        n.Title,
		Description:  n.Description,
		UploaderName: n.UploaderName,
		UploaderRoll: n.UploaderRoll,
		RatingCount:  n.RatingCount,
		AdminUpload:  n.AdminUpload,
		CreatedAt:    n.CreatedAt,
	}
	atts := make([]NoteAttachmentModel, 0, len(n.Attachments))
	for _, a := range n.Attachments {
		atts = append(atts, NoteAttachmentModel{
			ID:               NewID(),
			NoteID:           n.ID,
			Slot:             a.Slot,
			StorageKey:       a.StorageKey,
			OriginalFilename: a.OriginalFilename,
			SizeBytes:        a.SizeBytes,
			PageCount:        a.PageCount,
		})
	}
	return model, atts
}

func noteFromModel(m NoteModel, atts []NoteAttachmentModel) domain.Note {
	note := domain.Note{
		ID:           m.ID,
		CourseCode:   m.CourseCode,
		SubjectName:  m.SubjectName,
		UnitNumber:   m.UnitNumber,
		Title:        m.Title,
		Description:  m.Description,
		UploaderName: m.UploaderName,
		UploaderRoll: m.UploaderRoll,
		RatingCount:  m.RatingCount,
		AdminUpload:  m.AdminUpload,
		CreatedAt:    m.CreatedAt,
	}
	for _, a := range atts {
		note.Attachments = append(note.Attachments, domain.Attachment{
			Slot:             a.Slot,
			StorageKey:       a.StorageKey,
			OriginalFilename: a.OriginalFilename,
			SizeBytes:        a.SizeBytes,
			PageCount:        a.PageCount,
		})
	}
	return note
}

func verificationToModel(v domain.Verification) VerificationModel {
	return VerificationModel{
		ID:        v.ID,
		ProjectID: v.ProjectID,
		UserName:  v.UserName,
		Worked:    v.Worked,
		Comment:   v.Comment,
		CreatedAt: v.CreatedAt,
	}
}

func verificationFromModel(m VerificationModel) domain.Verification {
	return domain.Verification{
		ID:        m.ID,
		ProjectID: m.ProjectID,
		UserName:  m.UserName,
		Worked:    m.Worked,
		Comment:   m.Comment,
		CreatedAt: m.CreatedAt,
	}
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:             u.ID,
		Phone:          u.Phone,
		DisplayName:    u.DisplayName,
		RollNumber:     u.RollNumber,
		Department:     u.Department,
		GraduationYear: u.GraduationYear,
		Verified:       u.Verified,
		CreatedAt:      u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:             m.ID,
		Phone:          m.Phone,
		DisplayName:    m.DisplayName,
		RollNumber:     m.RollNumber,
		Department:     m.Department,
		GraduationYear: m.GraduationYear,
		Verified:       m.Verified,
		CreatedAt:      m.CreatedAt,
	}
}

func otpToModel(o domain.OTP) OTPModel {
	return OTPModel{
		ID:        o.ID,
		Phone:     o.Phone,
		CodeHash:  o.CodeHash,
		ExpiresAt: o.ExpiresAt,
		Used:      o.Used,
		CreatedAt: o.CreatedAt,
	}
}

func otpFromModel(m OTPModel) domain.OTP {
	return domain.OTP{
		ID:        m.ID,
		Phone:     m.Phone,
		CodeHash:  m.CodeHash,
		ExpiresAt: m.ExpiresAt,
		Used:      m.Used,
		CreatedAt: m.CreatedAt,
	}
}

func requestToModel(r domain.ProjectRequest) ProjectRequestModel {
	return ProjectRequestModel{
		ID:            r.ID,
		CourseCode:    r.CourseCode,
		SubjectName:   r.SubjectName,
		Semester:      r.Semester,
		RequesterName: r.RequesterName,
		Fulfilled:     r.Fulfilled,
		CreatedAt:     r.CreatedAt,
	}
}

func requestFromModel(m ProjectRequestModel) domain.ProjectRequest {
	return domain.ProjectRequest{
		ID:            m.ID,
		CourseCode:    m.CourseCode,
		SubjectName:   m.SubjectName,
		Semester:      m.Semester,
		RequesterName: m.RequesterName,
		Fulfilled:     m.Fulfilled,
		CreatedAt:     m.CreatedAt,
	}
}
