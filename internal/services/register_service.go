package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

type RegisterStore interface {
	InsertRegister(r *Register) error
	GetRegister(id string) (*Register, error)
	UpdateRegister(r *Register) error
	DeleteRegister(id string) error
	ListRegisters() ([]*Register, error)
	DeleteRecordsByRegister(registerID string) (int, error)
	AddAudit(entry AuditEntry)
}

type RegisterService struct {
	store RegisterStore
	now   func() time.Time
	idGen func() string
}

func NewRegisterService(store RegisterStore) *RegisterService {
	return &RegisterService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(8) },
	}
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// SlugifyLabel derives a field's internal name from its label: lowercase,
// runs of non-alphanumerics collapsed to a single underscore, trimmed.
func SlugifyLabel(label string) string {
	s := slugPattern.ReplaceAllString(strings.ToLower(label), "_")
	return strings.Trim(s, "_")
}

func (s *RegisterService) CreateRegister(actor *User, name, description string, fields []*Field) (*Register, error) {
	if !actor.HasPermission(PermManageRegisters) {
		return nil, NewForbiddenError("register management required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, NewInvalidError("register name required")
	}
	if len(fields) == 0 {
		return nil, NewInvalidError("at least one field required")
	}
	if err := s.normalizeFields(fields); err != nil {
		return nil, err
	}
	reg := &Register{
		ID:          s.idGen(),
		Name:        name,
		Description: description,
		Fields:      fields,
		CreatedBy:   actor.Username,
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertRegister(reg); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor.Username, Action: "create_register", Target: reg.ID, Note: reg.Name})
	return reg, nil
}

func (s *RegisterService) UpdateRegister(actor *User, id, name, description string, fields []*Field) error {
	if !actor.HasPermission(PermManageRegisters) {
		return NewForbiddenError("register management required")
	}
	reg, err := s.store.GetRegister(id)
	if err != nil {
		return err
	}
	if reg == nil {
		return NewNotFoundError("register not found")
	}
	if strings.TrimSpace(name) != "" {
		reg.Name = name
	}
	reg.Description = description
	if len(fields) > 0 {
		if err := s.normalizeFields(fields); err != nil {
			return err
		}
		reg.Fields = fields
	}
	reg.UpdatedAt = s.now()
	return s.store.UpdateRegister(reg)
}

// DeleteRegister removes a register and cascades to its records.
func (s *RegisterService) DeleteRegister(actor *User, id string) error {
	if !actor.HasPermission(PermManageRegisters) {
		return NewForbiddenError("register management required")
	}
	reg, err := s.store.GetRegister(id)
	if err != nil {
		return err
	}
	if reg == nil {
		return NewNotFoundError("register not found")
	}
	removed, err := s.store.DeleteRecordsByRegister(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRegister(id); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor.Username, Action: "delete_register", Target: id, Note: strconv.Itoa(removed) + " records removed"})
	return nil
}

func (s *RegisterService) AddField(actor *User, registerID string, field *Field) error {
	if !actor.HasPermission(PermManageRegisters) {
		return NewForbiddenError("register management required")
	}
	if field == nil || strings.TrimSpace(field.Label) == "" {
		return NewInvalidError("field label required")
	}
	reg, err := s.store.GetRegister(registerID)
	if err != nil {
		return err
	}
	if reg == nil {
		return NewNotFoundError("register not found")
	}
	if field.ID == "" {
		field.ID = s.idGen()
	}
	field.Name = SlugifyLabel(field.Label)
	for _, f := range reg.Fields {
		if f.Name == field.Name {
			return NewConflictError("field name already in use: " + field.Name)
		}
	}
	reg.Fields = append(reg.Fields, field)
	reg.UpdatedAt = s.now()
	return s.store.UpdateRegister(reg)
}

func (s *RegisterService) UpdateField(actor *User, registerID string, field *Field) error {
	if !actor.HasPermission(PermManageRegisters) {
		return NewForbiddenError("register management required")
	}
	if field == nil || field.ID == "" {
		return NewInvalidError("field id required")
	}
	reg, err := s.store.GetRegister(registerID)
	if err != nil {
		return err
	}
	if reg == nil {
		return NewNotFoundError("register not found")
	}
	field.Name = SlugifyLabel(field.Label)
	for i, f := range reg.Fields {
		if f.ID == field.ID {
			for j, other := range reg.Fields {
				if j != i && other.Name == field.Name {
					return NewConflictError("field name already in use: " + field.Name)
				}
			}
			reg.Fields[i] = field
			reg.UpdatedAt = s.now()
			return s.store.UpdateRegister(reg)
		}
	}
	return NewNotFoundError("field not found")
}

func (s *RegisterService) RemoveField(actor *User, registerID, fieldID string) error {
	if !actor.HasPermission(PermManageRegisters) {
		return NewForbiddenError("register management required")
	}
	reg, err := s.store.GetRegister(registerID)
	if err != nil {
		return err
	}
	if reg == nil {
		return NewNotFoundError("register not found")
	}
	kept := reg.Fields[:0]
	for _, f := range reg.Fields {
		if f.ID != fieldID {
			kept = append(kept, f)
		}
	}
	if len(kept) == len(reg.Fields) {
		return NewNotFoundError("field not found")
	}
	reg.Fields = kept
	reg.UpdatedAt = s.now()
	return s.store.UpdateRegister(reg)
}

func (s *RegisterService) GetRegister(id string) (*Register, error) {
	return s.store.GetRegister(id)
}

// ListRegisters returns the registers the actor may see: the assigned set if
// one is configured, everything otherwise.
func (s *RegisterService) ListRegisters(actor *User) ([]*Register, error) {
	all, err := s.store.ListRegisters()
	if err != nil {
		return nil, err
	}
	if actor == nil || len(actor.AssignedRegisters) == 0 {
		return all, nil
	}
	assigned := make(map[string]struct{}, len(actor.AssignedRegisters))
	for _, id := range actor.AssignedRegisters {
		assigned[id] = struct{}{}
	}
	var out []*Register
	for _, reg := range all {
		if _, ok := assigned[reg.ID]; ok {
			out = append(out, reg)
		}
	}
	return out, nil
}

// normalizeFields assigns ids and slugs and enforces slug uniqueness within
// the register, which token substitution depends on.
func (s *RegisterService) normalizeFields(fields []*Field) error {
	seen := map[string]struct{}{}
	for _, f := range fields {
		if strings.TrimSpace(f.Label) == "" {
			return NewInvalidError("field label required")
		}
		if f.ID == "" {
			f.ID = s.idGen()
		}
		f.Name = SlugifyLabel(f.Label)
		if _, dup := seen[f.Name]; dup {
			return NewConflictError("duplicate field name: " + f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}
