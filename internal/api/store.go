package api

import (
	"strings"
	"sync"

	"github.com/equip-health/equip/internal/services"
)

// Store is everything the handlers persist through: the union of the
// per-service store interfaces, satisfied by both the sqlite store and the
// in-memory store below.
type Store interface {
	services.RegisterStore
	services.RecordStore
	services.UserStore
	services.AuthStore
	services.ReportStore
	services.PortabilityStore
}

// memoryStore backs development and tests. Everything is copied on the way
// in and out so callers never share mutable state with the store.
type memoryStore struct {
	mu         sync.RWMutex
	registers  map[string]*services.Register
	records    map[string]*services.Record
	users      map[string]*services.User
	roles      map[string]*services.Role
	reports    map[string]*services.Report
	indicators map[string]*services.Indicator
	audit      []services.AuditEntry
}

func NewMemoryStore() Store {
	return &memoryStore{
		registers:  map[string]*services.Register{},
		records:    map[string]*services.Record{},
		users:      map[string]*services.User{},
		roles:      map[string]*services.Role{},
		reports:    map[string]*services.Report{},
		indicators: map[string]*services.Indicator{},
	}
}

func (s *memoryStore) InsertRegister(r *services.Register) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registers[r.ID]; ok {
		return services.NewConflictError("register id exists")
	}
	cp := *r
	s.registers[r.ID] = &cp
	return nil
}

func (s *memoryStore) GetRegister(id string) (*services.Register, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.registers[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) UpdateRegister(r *services.Register) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registers[r.ID]; !ok {
		return services.NewNotFoundError("register not found")
	}
	cp := *r
	s.registers[r.ID] = &cp
	return nil
}

func (s *memoryStore) DeleteRegister(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registers[id]; !ok {
		return services.NewNotFoundError("register not found")
	}
	delete(s.registers, id)
	return nil
}

func (s *memoryStore) ListRegisters() ([]*services.Register, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.Register, 0, len(s.registers))
	for _, r := range s.registers {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) DeleteRecordsByRegister(registerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.records {
		if rec.RegisterID == registerID {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) InsertRecord(rec *services.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return services.NewConflictError("record id exists")
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *memoryStore) GetRecord(id string) (*services.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) UpdateRecord(rec *services.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return services.NewNotFoundError("record not found")
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *memoryStore) DeleteRecord(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return services.NewNotFoundError("record not found")
	}
	delete(s.records, id)
	return nil
}

func (s *memoryStore) ListRecords(registerID string) ([]*services.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*services.Record
	for _, rec := range s.records {
		if registerID == "" || rec.RegisterID == registerID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) InsertUser(u *services.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return services.NewConflictError("user id exists")
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memoryStore) GetUser(id string) (*services.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) FindUserByUsername(username string) (*services.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) UpdateUser(u *services.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return services.NewNotFoundError("user not found")
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memoryStore) DeleteUser(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return services.NewNotFoundError("user not found")
	}
	delete(s.users, id)
	return nil
}

func (s *memoryStore) ListUsers() ([]*services.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) InsertRole(r *services.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; ok {
		return services.NewConflictError("role id exists")
	}
	cp := *r
	s.roles[r.ID] = &cp
	return nil
}

func (s *memoryStore) GetRole(id string) (*services.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.roles[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) UpdateRole(r *services.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; !ok {
		return services.NewNotFoundError("role not found")
	}
	cp := *r
	s.roles[r.ID] = &cp
	return nil
}

func (s *memoryStore) DeleteRole(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return services.NewNotFoundError("role not found")
	}
	delete(s.roles, id)
	return nil
}

func (s *memoryStore) ListRoles() ([]*services.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.Role, 0, len(s.roles))
	for _, r := range s.roles {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) InsertReport(r *services.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reports[r.ID] = &cp
	return nil
}

func (s *memoryStore) GetReport(id string) (*services.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.reports[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) UpdateReport(r *services.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.ID]; !ok {
		return services.NewNotFoundError("report not found")
	}
	cp := *r
	s.reports[r.ID] = &cp
	return nil
}

func (s *memoryStore) DeleteReport(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return services.NewNotFoundError("report not found")
	}
	delete(s.reports, id)
	return nil
}

func (s *memoryStore) ListReports() ([]*services.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.Report, 0, len(s.reports))
	for _, r := range s.reports {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) InsertIndicator(ind *services.Indicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ind
	s.indicators[ind.ID] = &cp
	return nil
}

func (s *memoryStore) GetIndicator(id string) (*services.Indicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ind, ok := s.indicators[id]; ok {
		cp := *ind
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) UpdateIndicator(ind *services.Indicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indicators[ind.ID]; !ok {
		return services.NewNotFoundError("indicator not found")
	}
	cp := *ind
	s.indicators[ind.ID] = &cp
	return nil
}

func (s *memoryStore) DeleteIndicator(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indicators[id]; !ok {
		return services.NewNotFoundError("indicator not found")
	}
	delete(s.indicators, id)
	return nil
}

func (s *memoryStore) ListIndicators() ([]*services.Indicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.Indicator, 0, len(s.indicators))
	for _, ind := range s.indicators {
		cp := *ind
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) AddAudit(entry services.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
}
