package store

import (
	"sort"
	"strings"
	"sync"

	"studyshare/pkg/domain"
)

// MemoryStore keeps the catalog in-process. It mirrors GormStore semantics
// closely enough to back the application in tests.
type MemoryStore struct {
	mu            sync.RWMutex
	projects      map[string]domain.Project
	projectOrder  []string
	notes         map[string]domain.Note
	noteOrder     []string
	verifications map[string][]domain.Verification
	users         map[string]domain.User
	phones        map[string]string // phone -> user ID
	otps          map[string]domain.OTP
	otpOrder      []string
	requests      []domain.ProjectRequest
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:      make(map[string]domain.Project),
		notes:         make(map[string]domain.Note),
		verifications: make(map[string][]domain.Verification),
		users:         make(map[string]domain.User),
		phones:        make(map[string]string),
		otps:          make(map[string]domain.OTP),
	}
}

func (m *MemoryStore) SaveProject(p domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.projects[p.ID]; !exists {
		m.projectOrder = append(m.projectOrder, p.ID)
	}
	m.projects[p.ID] = p
	return nil
}

func (m *MemoryStore) GetProject(id string) (domain.Project, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	return p, ok, nil
}

func (m *MemoryStore) ListProjects(f ProjectFilter) ([]domain.Project, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []domain.Project
	for _, id := range m.projectOrder {
		p, ok := m.projects[id]
		if !ok {
			continue
		}
		if f.Course != "" && !containsFold(p.CourseCode, f.Course) {
			continue
		}
		if f.Professor != "" && !containsFold(p.Professor, f.Professor) {
			continue
		}
		if f.Semester > 0 && p.Semester != f.Semester {
			continue
		}
		matched = append(matched, p)
	}
	sortProjectsNewestFirst(matched)
	total := int64(len(matched))
	return pageOf(matched, f.Page), total, nil
}

func (m *MemoryStore) DeleteProject(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	delete(m.verifications, id)
	m.projectOrder = removeID(m.projectOrder, id)
	return nil
}

func (m *MemoryStore) IncrementDownloads(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil
	}
	p.Downloads++
	m.projects[id] = p
	return nil
}

func (m *MemoryStore) SearchProjects(q string, limit int) ([]domain.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Project
	for _, id := range m.projectOrder {
		p, ok := m.projects[id]
		if !ok {
			continue
		}
		if containsFold(p.CourseCode, q) || containsFold(p.SubjectName, q) ||
			containsFold(p.Professor, q) || containsFold(p.TechStack, q) {
			res = append(res, p)
			if len(res) >= limit {
				break
			}
		}
	}
	return res, nil
}

func (m *MemoryStore) AddVerification(v domain.Verification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[v.ProjectID] = append(m.verifications[v.ProjectID], v)
	if v.Worked {
		if p, ok := m.projects[v.ProjectID]; ok {
			p.VerifiedCount++
			m.projects[v.ProjectID] = p
		}
	}
	return nil
}

func (m *MemoryStore) ListVerifications(projectID string, limit int) ([]domain.Verification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.verifications[projectID]
	res := make([]domain.Verification, 0, limit)
	for i := len(all) - 1; i >= 0 && len(res) < limit; i-- {
		res = append(res, all[i])
	}
	return res, nil
}

func (m *MemoryStore) SaveNote(n domain.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.notes[n.ID]; !exists {
		m.noteOrder = append(m.noteOrder, n.ID)
	}
	m.notes[n.ID] = n
	return nil
}

func (m *MemoryStore) GetNote(id string) (domain.Note, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notes[id]
	return n, ok, nil
}

func (m *MemoryStore) ListNotes(f NoteFilter) ([]domain.Note, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []domain.Note
	for _, id := range m.noteOrder {
		n, ok := m.notes[id]
		if !ok {
			continue
		}
		if f.Course != "" && !containsFold(n.CourseCode, f.Course) {
			continue
		}
		matched = append(matched, n)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := int64(len(matched))
	page := f.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * PageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (m *MemoryStore) DeleteNote(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notes, id)
	m.noteOrder = removeID(m.noteOrder, id)
	return nil
}

func (m *MemoryStore) SearchNotes(q string, limit int) ([]domain.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Note
	for _, id := range m.noteOrder {
		n, ok := m.notes[id]
		if !ok {
			continue
		}
		if containsFold(n.CourseCode, q) || containsFold(n.SubjectName, q) || containsFold(n.Title, q) {
			res = append(res, n)
			if len(res) >= limit {
				break
			}
		}
	}
	return res, nil
}

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.phones[u.Phone] = u.ID
	return nil
}

func (m *MemoryStore) GetUserByPhone(phone string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.phones[phone]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) SaveOTP(o domain.OTP) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.otps[o.ID]; !exists {
		m.otpOrder = append(m.otpOrder, o.ID)
	}
	m.otps[o.ID] = o
	return nil
}

func (m *MemoryStore) ActiveOTPs(phone string) ([]domain.OTP, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.OTP
	for i := len(m.otpOrder) - 1; i >= 0; i-- {
		o, ok := m.otps[m.otpOrder[i]]
		if !ok {
			continue
		}
		if o.Phone == phone && !o.Used {
			res = append(res, o)
		}
	}
	return res, nil
}

func (m *MemoryStore) MarkOTPUsed(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.otps[id]; ok {
		o.Used = true
		m.otps[id] = o
	}
	return nil
}

func (m *MemoryStore) InvalidateOTPs(phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, o := range m.otps {
		if o.Phone == phone && !o.Used {
			o.Used = true
			m.otps[id] = o
		}
	}
	return nil
}

func (m *MemoryStore) SaveProjectRequest(r domain.ProjectRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, r)
	return nil
}

func (m *MemoryStore) ListProjectRequests() ([]domain.ProjectRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ProjectRequest, len(m.requests))
	copy(res, m.requests)
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

func sortProjectsNewestFirst(projects []domain.Project) {
	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
}

func pageOf(projects []domain.Project, page int) []domain.Project {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * PageSize
	if start >= len(projects) {
		return nil
	}
	end := start + PageSize
	if end > len(projects) {
		end = len(projects)
	}
	return projects[start:end]
}

func removeID(ids []string, id string) []string {
	filtered := ids[:0]
	for _, item := range ids {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
