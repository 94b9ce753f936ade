package services

import (
	"strings"
	"time"
)

type RecordStore interface {
	GetRegister(id string) (*Register, error)
	InsertRecord(rec *Record) error
	GetRecord(id string) (*Record, error)
	UpdateRecord(rec *Record) error
	DeleteRecord(id string) error
	ListRecords(registerID string) ([]*Record, error)
}

// RecordService validates and stores submissions against a register's field
// definitions: relevance decides whether a field applies, constraints reject
// out-of-range answers.
type RecordService struct {
	store RecordStore
	now   func() time.Time
	idGen func() string
	warn  EvalWarnFunc
}

func NewRecordService(store RecordStore) *RecordService {
	return &RecordService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(12) },
	}
}

func (s *RecordService) WithWarnings(fn EvalWarnFunc) *RecordService {
	s.warn = fn
	return s
}

func (s *RecordService) Submit(actor *User, registerID string, values map[string]any) (*Record, error) {
	reg, err := s.store.GetRegister(registerID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, NewNotFoundError("register not found")
	}
	cleaned, err := s.validateValues(reg, values)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		ID:          s.idGen(),
		RegisterID:  registerID,
		Values:      cleaned,
		SubmittedBy: actor.Username,
		SubmittedAt: s.now(),
	}
	if err := s.store.InsertRecord(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update replaces a record's values wholesale after re-validating them.
func (s *RecordService) Update(actor *User, recordID string, values map[string]any) (*Record, error) {
	rec, err := s.store.GetRecord(recordID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, NewNotFoundError("record not found")
	}
	reg, err := s.store.GetRegister(rec.RegisterID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, NewNotFoundError("register not found")
	}
	cleaned, err := s.validateValues(reg, values)
	if err != nil {
		return nil, err
	}
	rec.Values = cleaned
	if err := s.store.UpdateRecord(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RecordService) Delete(actor *User, recordID string) error {
	rec, err := s.store.GetRecord(recordID)
	if err != nil {
		return err
	}
	if rec == nil {
		return NewNotFoundError("record not found")
	}
	return s.store.DeleteRecord(recordID)
}

func (s *RecordService) List(registerID string) ([]*Record, error) {
	return s.store.ListRecords(registerID)
}

func (s *RecordService) Get(recordID string) (*Record, error) {
	rec, err := s.store.GetRecord(recordID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, NewNotFoundError("record not found")
	}
	return rec, nil
}

// validateValues walks the register's fields in order against the submitted
// values. A field whose relevance evaluates false is stored as "" and its
// required/constraint checks are skipped.
func (s *RecordService) validateValues(reg *Register, values map[string]any) (map[string]any, error) {
	bindings := map[string]any{}
	for _, f := range reg.Fields {
		v := submittedValue(values, f)
		bindings[f.Label] = v
		if f.Name != "" {
			bindings[f.Name] = v
		}
	}
	cleaned := make(map[string]any, len(reg.Fields))
	for _, f := range reg.Fields {
		if f.Type == FieldNote {
			continue
		}
		v := submittedValue(values, f)
		if f.Relevance != "" && !EvaluateCondition(f.Relevance, bindings, s.warn) {
			cleaned[f.Label] = ""
			bindings[f.Label] = ""
			if f.Name != "" {
				bindings[f.Name] = ""
			}
			continue
		}
		if f.Required && emptyValue(v) {
			return nil, NewInvalidError("missing required field: " + f.Label)
		}
		if f.Constraint != "" && !emptyValue(v) {
			if !EvaluateCondition(f.Constraint, bindings, s.warn) {
				msg := f.ConstraintMessage
				if msg == "" {
					msg = "value not allowed for field: " + f.Label
				}
				return nil, NewInvalidError(msg)
			}
		}
		cleaned[f.Label] = v
	}
	return cleaned, nil
}

func submittedValue(values map[string]any, f *Field) any {
	if v, ok := values[f.Label]; ok {
		return v
	}
	if f.Name != "" {
		if v, ok := values[f.Name]; ok {
			return v
		}
	}
	return nil
}

func emptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}
