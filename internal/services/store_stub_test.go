package services

import "strings"

// stubStore is a map-backed store satisfying every service store interface.
type stubStore struct {
	registers map[string]*Register
	records   map[string]*Record
	users     map[string]*User
	roles     map[string]*Role
	reports   map[string]*Report
	inds      map[string]*Indicator
	audits    []AuditEntry
}

func newStubStore() *stubStore {
	return &stubStore{
		registers: map[string]*Register{},
		records:   map[string]*Record{},
		users:     map[string]*User{},
		roles:     map[string]*Role{},
		reports:   map[string]*Report{},
		inds:      map[string]*Indicator{},
	}
}

func (s *stubStore) InsertRegister(r *Register) error {
	if _, ok := s.registers[r.ID]; ok {
		return NewConflictError("register id exists")
	}
	s.registers[r.ID] = r
	return nil
}

func (s *stubStore) GetRegister(id string) (*Register, error) {
	return s.registers[id], nil
}

func (s *stubStore) UpdateRegister(r *Register) error {
	if _, ok := s.registers[r.ID]; !ok {
		return NewNotFoundError("register not found")
	}
	s.registers[r.ID] = r
	return nil
}

func (s *stubStore) DeleteRegister(id string) error {
	if _, ok := s.registers[id]; !ok {
		return NewNotFoundError("register not found")
	}
	delete(s.registers, id)
	return nil
}

func (s *stubStore) ListRegisters() ([]*Register, error) {
	var out []*Register
	for _, r := range s.registers {
		out = append(out, r)
	}
	return out, nil
}

func (s *stubStore) DeleteRecordsByRegister(registerID string) (int, error) {
	n := 0
	for id, rec := range s.records {
		if rec.RegisterID == registerID {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *stubStore) InsertRecord(rec *Record) error {
	if _, ok := s.records[rec.ID]; ok {
		return NewConflictError("record id exists")
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *stubStore) GetRecord(id string) (*Record, error) {
	return s.records[id], nil
}

func (s *stubStore) UpdateRecord(rec *Record) error {
	if _, ok := s.records[rec.ID]; !ok {
		return NewNotFoundError("record not found")
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *stubStore) DeleteRecord(id string) error {
	if _, ok := s.records[id]; !ok {
		return NewNotFoundError("record not found")
	}
	delete(s.records, id)
	return nil
}

func (s *stubStore) ListRecords(registerID string) ([]*Record, error) {
	var out []*Record
	for _, rec := range s.records {
		if registerID == "" || rec.RegisterID == registerID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *stubStore) InsertUser(u *User) error {
	if _, ok := s.users[u.ID]; ok {
		return NewConflictError("user id exists")
	}
	s.users[u.ID] = u
	return nil
}

func (s *stubStore) GetUser(id string) (*User, error) {
	return s.users[id], nil
}

func (s *stubStore) FindUserByUsername(username string) (*User, error) {
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return nil, nil
}

func (s *stubStore) UpdateUser(u *User) error {
	if _, ok := s.users[u.ID]; !ok {
		return NewNotFoundError("user not found")
	}
	s.users[u.ID] = u
	return nil
}

func (s *stubStore) DeleteUser(id string) error {
	if _, ok := s.users[id]; !ok {
		return NewNotFoundError("user not found")
	}
	delete(s.users, id)
	return nil
}

func (s *stubStore) ListUsers() ([]*User, error) {
	var out []*User
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *stubStore) InsertRole(r *Role) error {
	if _, ok := s.roles[r.ID]; ok {
		return NewConflictError("role id exists")
	}
	s.roles[r.ID] = r
	return nil
}

func (s *stubStore) GetRole(id string) (*Role, error) {
	return s.roles[id], nil
}

func (s *stubStore) UpdateRole(r *Role) error {
	if _, ok := s.roles[r.ID]; !ok {
		return NewNotFoundError("role not found")
	}
	s.roles[r.ID] = r
	return nil
}

func (s *stubStore) DeleteRole(id string) error {
	if _, ok := s.roles[id]; !ok {
		return NewNotFoundError("role not found")
	}
	delete(s.roles, id)
	return nil
}

func (s *stubStore) ListRoles() ([]*Role, error) {
	var out []*Role
	for _, r := range s.roles {
		out = append(out, r)
	}
	return out, nil
}

func (s *stubStore) InsertReport(r *Report) error {
	s.reports[r.ID] = r
	return nil
}

func (s *stubStore) GetReport(id string) (*Report, error) {
	return s.reports[id], nil
}

func (s *stubStore) UpdateReport(r *Report) error {
	if _, ok := s.reports[r.ID]; !ok {
		return NewNotFoundError("report not found")
	}
	s.reports[r.ID] = r
	return nil
}

func (s *stubStore) DeleteReport(id string) error {
	if _, ok := s.reports[id]; !ok {
		return NewNotFoundError("report not found")
	}
	delete(s.reports, id)
	return nil
}

func (s *stubStore) ListReports() ([]*Report, error) {
	var out []*Report
	for _, r := range s.reports {
		out = append(out, r)
	}
	return out, nil
}

func (s *stubStore) InsertIndicator(ind *Indicator) error {
	s.inds[ind.ID] = ind
	return nil
}

func (s *stubStore) GetIndicator(id string) (*Indicator, error) {
	return s.inds[id], nil
}

func (s *stubStore) UpdateIndicator(ind *Indicator) error {
	if _, ok := s.inds[ind.ID]; !ok {
		return NewNotFoundError("indicator not found")
	}
	s.inds[ind.ID] = ind
	return nil
}

func (s *stubStore) DeleteIndicator(id string) error {
	if _, ok := s.inds[id]; !ok {
		return NewNotFoundError("indicator not found")
	}
	delete(s.inds, id)
	return nil
}

func (s *stubStore) ListIndicators() ([]*Indicator, error) {
	var out []*Indicator
	for _, ind := range s.inds {
		out = append(out, ind)
	}
	return out, nil
}

func (s *stubStore) AddAudit(entry AuditEntry) {
	s.audits = append(s.audits, entry)
}

func adminUser() *User {
	return &User{
		ID:       "admin1",
		Username: "admin",
		Scope:    GlobalScope(),
		Permissions: Permissions{
			CanManageRegisters: true,
			CanManageUsers:     true,
		},
	}
}
