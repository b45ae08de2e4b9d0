package store

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"studyshare/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(
		&ProjectModel{},
		&NoteModel{},
		&NoteAttachmentModel{},
		&VerificationModel{},
		&UserModel{},
		&OTPModel{},
		&ProjectRequestModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveProject inserts or updates a project.
func (s *GormStore) SaveProject(p domain.Project) error {
	model := projectToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"course_code", "subject_name", "professor", "semester", "description",
			"tech_stack", "links", "project_file", "report_file", "ppt_file",
			"admin_upload", "admin_feedback",
		}),
	}).Create(&model).Error
}

// GetProject retrieves a project by ID.
func (s *GormStore) GetProject(id string) (domain.Project, bool, error) {
	var model ProjectModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, err
	}
	return projectFromModel(model), true, nil
}

// ListProjects returns one page of filtered projects, newest first, plus the
// total matching count.
func (s *GormStore) ListProjects(f ProjectFilter) ([]domain.Project, int64, error) {
	tx := s.db.Model(&ProjectModel{})
	if f.Course != "" {
		tx = tx.Where("course_code ILIKE ?", "%"+escapeLike(f.Course)+"%")
	}
	if f.Professor != "" {
		tx = tx.Where("professor ILIKE ?", "%"+escapeLike(f.Professor)+"%")
	}
	if f.Semester > 0 {
		tx = tx.Where("semester = ?", f.Semester)
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	var models []ProjectModel
	err := tx.Order("created_at DESC").
		Offset((page - 1) * PageSize).
		Limit(PageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}
	res := make([]domain.Project, 0, len(models))
	for _, m := range models {
		res = append(res, projectFromModel(m))
	}
	return res, total, nil
}

// DeleteProject removes a project and its verifications.
func (s *GormStore) DeleteProject(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&VerificationModel{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ProjectModel{}, "id = ?", id).Error
	})
}

// IncrementDownloads bumps the download counter in a single UPDATE.
func (s *GormStore) IncrementDownloads(id string) error {
	return s.db.Model(&ProjectModel{}).
		Where("id = ?", id).
		UpdateColumn("downloads", gorm.Expr("downloads + 1")).Error
}

// SearchProjects performs an OR substring match across catalog text fields.
func (s *GormStore) SearchProjects(q string, limit int) ([]domain.Project, error) {
	pattern := "%" + escapeLike(q) + "%"
	var models []ProjectModel
	err := s.db.
		Where("course_code ILIKE ? OR subject_name ILIKE ? OR professor ILIKE ? OR tech_stack ILIKE ?",
			pattern, pattern, pattern, pattern).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Project, 0, len(models))
	for _, m := range models {
		res = append(res, projectFromModel(m))
	}
	return res, nil
}

// AddVerification inserts the verification and, when worked, increments the
// project's verified counter in the same transaction.
func (s *GormStore) AddVerification(v domain.Verification) error {
	model := verificationToModel(v)
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		if !v.Worked {
			return nil
		}
		return tx.Model(&ProjectModel{}).
			Where("id = ?", v.ProjectID).
			UpdateColumn("verified_count", gorm.Expr("verified_count + 1")).Error
	})
}

// ListVerifications returns the most recent verifications for a project.
func (s *GormStore) ListVerifications(projectID string, limit int) ([]domain.Verification, error) {
	var models []VerificationModel
	err := s.db.Where("project_id = ?", projectID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Verification, 0, len(models))
	for _, m := range models {
		res = append(res, verificationFromModel(m))
	}
	return res, nil
}

// SaveNote inserts a note with its chapter attachments.
func (s *GormStore) SaveNote(n domain.Note) error {
	model, atts := noteToModel(n)
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"course_code", "subject_name", "unit_number", "title", "description", "admin_upload",
			}),
		}).Create(&model).Error; err != nil {
			return err
		}
		if err := tx.Delete(&NoteAttachmentModel{}, "note_id = ?", n.ID).Error; err != nil {
			return err
		}
		if len(atts) == 0 {
			return nil
		}
		return tx.Create(&atts).Error
	})
}

// GetNote retrieves a note with its attachments.
func (s *GormStore) GetNote(id string) (domain.Note, bool, error) {
	var model NoteModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Note{}, false, nil
		}
		return domain.Note{}, false, err
	}
	atts, err := s.noteAttachments(id)
	if err != nil {
		return domain.Note{}, false, err
	}
	return noteFromModel(model, atts), true, nil
}

// ListNotes returns one page of filtered notes, newest first, plus the total.
func (s *GormStore) ListNotes(f NoteFilter) ([]domain.Note, int64, error) {
	tx := s.db.Model(&NoteModel{})
	if f.Course != "" {
		tx = tx.Where("course_code ILIKE ?", "%"+escapeLike(f.Course)+"%")
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	var models []NoteModel
	err := tx.Order("created_at DESC").
		Offset((page - 1) * PageSize).
		Limit(PageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}
	res := make([]domain.Note, 0, len(models))
	for _, m := range models {
		atts, err := s.noteAttachments(m.ID)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, noteFromModel(m, atts))
	}
	return res, total, nil
}

// DeleteNote removes a note and its attachments.
func (s *GormStore) DeleteNote(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&NoteAttachmentModel{}, "note_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&NoteModel{}, "id = ?", id).Error
	})
}

// SearchNotes performs an OR substring match across note text fields.
func (s *GormStore) SearchNotes(q string, limit int) ([]domain.Note, error) {
	pattern := "%" + escapeLike(q) + "%"
	var models []NoteModel
	err := s.db.
		Where("course_code ILIKE ? OR subject_name ILIKE ? OR title ILIKE ?",
			pattern, pattern, pattern).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Note, 0, len(models))
	for _, m := range models {
		atts, err := s.noteAttachments(m.ID)
		if err != nil {
			return nil, err
		}
		res = append(res, noteFromModel(m, atts))
	}
	return res, nil
}

func (s *GormStore) noteAttachments(noteID string) ([]NoteAttachmentModel, error) {
	var atts []NoteAttachmentModel
	err := s.db.Where("note_id = ?", noteID).Order("slot ASC").Find(&atts).Error
	return atts, err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name", "roll_number", "department", "graduation_year", "verified",
		}),
	}).Create(&model).Error
}

// GetUserByPhone looks up a user by phone number.
func (s *GormStore) GetUserByPhone(phone string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("phone = ?", phone).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveOTP stores a new one-time code.
func (s *GormStore) SaveOTP(o domain.OTP) error {
	model := otpToModel(o)
	return s.db.Create(&model).Error
}

// ActiveOTPs returns unused, unexpired codes for a phone, newest first.
func (s *GormStore) ActiveOTPs(phone string) ([]domain.OTP, error) {
	var models []OTPModel
	err := s.db.Where("phone = ? AND used = ?", phone, false).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.OTP, 0, len(models))
	for _, m := range models {
		res = append(res, otpFromModel(m))
	}
	return res, nil
}

// MarkOTPUsed flags a code as redeemed.
func (s *GormStore) MarkOTPUsed(id string) error {
	return s.db.Model(&OTPModel{}).Where("id = ?", id).UpdateColumn("used", true).Error
}

// InvalidateOTPs marks every unused code for the phone as used.
func (s *GormStore) InvalidateOTPs(phone string) error {
	return s.db.Model(&OTPModel{}).
		Where("phone = ? AND used = ?", phone, false).
		UpdateColumn("used", true).Error
}

// SaveProjectRequest stores a wishlist entry.
func (s *GormStore) SaveProjectRequest(r domain.ProjectRequest) error {
	model := requestToModel(r)
	return s.db.Create(&model).Error
}

// ListProjectRequests returns wishlist entries, newest first.
func (s *GormStore) ListProjectRequests() ([]domain.ProjectRequest, error) {
	var models []ProjectRequestModel
	if err := s.db.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ProjectRequest, 0, len(models))
	for _, m := range models {
		res = append(res, requestFromModel(m))
	}
	return res, nil
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
