package services

import (
	"strings"
	"time"
)

type PortabilityStore interface {
	ListUsers() ([]*User, error)
	FindUserByUsername(username string) (*User, error)
	GetUser(id string) (*User, error)
	InsertUser(u *User) error
	ListRoles() ([]*Role, error)
	InsertRole(r *Role) error
	ListRegisters() ([]*Register, error)
	GetRegister(id string) (*Register, error)
	InsertRegister(r *Register) error
	ListRecords(registerID string) ([]*Record, error)
	GetRecord(id string) (*Record, error)
	InsertRecord(rec *Record) error
	AddAudit(entry AuditEntry)
}

// ExportPayload is the device-to-device transfer unit: everything one
// instance shares with another, already trimmed to the exporter's scope.
type ExportPayload struct {
	Version    int         `json:"version"`
	ExportedBy string      `json:"exported_by"`
	ExportedAt time.Time   `json:"exported_at"`
	Users      []*User     `json:"users"`
	Roles      []*Role     `json:"roles"`
	Registers  []*Register `json:"registers"`
	Records    []*Record   `json:"records"`
}

// MergeResult reports exactly what a merge did, per entity kind.
type MergeResult struct {
	UsersAdded     int `json:"usersAdded"`
	UsersSkipped   int `json:"usersSkipped"`
	FormsAdded     int `json:"formsAdded"`
	FormsSkipped   int `json:"formsSkipped"`
	RecordsAdded   int `json:"recordsAdded"`
	RecordsSkipped int `json:"recordsSkipped"`
}

// PortabilityService moves data between offline instances: a scoped export on
// one device, an idempotent merge on another.
type PortabilityService struct {
	store     PortabilityStore
	directory *FacilityDirectory
	now       func() time.Time
	idGen     func(n int) string
}

func NewPortabilityService(store PortabilityStore, directory *FacilityDirectory) *PortabilityService {
	return &PortabilityService{
		store:     store,
		directory: directory,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     shortID,
	}
}

// BuildExportPayload assembles the exporter's visible slice of the instance.
// User managers export every account within their scope plus the role set;
// everyone else exports only their own account. Records travel only when the
// exporter manages registers or submitted them, and are additionally trimmed
// to the exporter's scope by resolving each record's facility against the
// directory.
func (s *PortabilityService) BuildExportPayload(actor *User) (*ExportPayload, error) {
	if actor == nil {
		return nil, NewUnauthorizedError("login required")
	}
	payload := &ExportPayload{
		Version:    1,
		ExportedBy: actor.Username,
		ExportedAt: s.now(),
	}
	if actor.HasPermission(PermManageUsers) {
		users, err := s.store.ListUsers()
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if IsWithin(u.Scope, actor.Scope) {
				payload.Users = append(payload.Users, u)
			}
		}
		roles, err := s.store.ListRoles()
		if err != nil {
			return nil, err
		}
		payload.Roles = roles
	} else {
		self, err := s.store.GetUser(actor.ID)
		if err != nil {
			return nil, err
		}
		if self != nil {
			payload.Users = append(payload.Users, self)
		}
	}
	registers, err := s.store.ListRegisters()
	if err != nil {
		return nil, err
	}
	assigned := map[string]struct{}{}
	for _, id := range actor.AssignedRegisters {
		assigned[id] = struct{}{}
	}
	exportAllRecords := actor.HasPermission(PermManageRegisters)
	for _, reg := range registers {
		if len(assigned) > 0 {
			if _, ok := assigned[reg.ID]; !ok {
				continue
			}
		}
		payload.Registers = append(payload.Registers, reg)
		records, err := s.store.ListRecords(reg.ID)
		if err != nil {
			return nil, err
		}
		facilityField := reg.FacilityField()
		for _, rec := range records {
			if !exportAllRecords && !strings.EqualFold(rec.SubmittedBy, actor.Username) {
				continue
			}
			if facilityField != nil && !actor.Scope.IsGlobal() {
				fac := s.directory.Lookup(toText(rec.Values[facilityField.Label]))
				if fac == nil || !facilityWithinScope(fac, actor.Scope) {
					continue
				}
			}
			payload.Records = append(payload.Records, rec)
		}
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor.Username, Action: "export_data", Note: "scoped export payload"})
	return payload, nil
}

// MergeInto folds a payload into this instance. Existing entities are
// skipped, never overwritten, so re-merging the same payload is a no-op.
// Register id collisions with a different register mint a fresh id and remap
// the payload's records onto it. Missing permissions never abort the merge:
// the affected entities are counted as skipped and the rest proceeds.
func (s *PortabilityService) MergeInto(actor *User, payload *ExportPayload) (*MergeResult, error) {
	if actor == nil {
		return nil, NewUnauthorizedError("login required")
	}
	if payload == nil {
		return nil, NewInvalidError("empty payload")
	}
	res := &MergeResult{}
	manageUsers := actor.HasPermission(PermManageUsers)
	manageRegisters := actor.HasPermission(PermManageRegisters)

	roleRemap := map[string]string{}
	if manageUsers {
		var err error
		roleRemap, err = s.mergeRoles(payload.Roles)
		if err != nil {
			return nil, err
		}
	}
	for _, u := range payload.Users {
		if !manageUsers {
			res.UsersSkipped++
			continue
		}
		if u == nil || strings.TrimSpace(u.Username) == "" {
			res.UsersSkipped++
			continue
		}
		if !IsWithin(u.Scope, actor.Scope) {
			res.UsersSkipped++
			continue
		}
		existing, err := s.store.FindUserByUsername(u.Username)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			res.UsersSkipped++
			continue
		}
		in := *u
		if byID, err := s.store.GetUser(in.ID); err != nil {
			return nil, err
		} else if in.ID == "" || byID != nil {
			in.ID = s.idGen(8)
		}
		if mapped, ok := roleRemap[in.RoleID]; ok {
			in.RoleID = mapped
		}
		if err := s.store.InsertUser(&in); err != nil {
			return nil, err
		}
		res.UsersAdded++
	}

	regRemap := map[string]string{}
	for _, reg := range payload.Registers {
		if !manageRegisters {
			res.FormsSkipped++
			continue
		}
		if reg == nil {
			res.FormsSkipped++
			continue
		}
		existing, err := s.store.GetRegister(reg.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if strings.EqualFold(existing.Name, reg.Name) {
				res.FormsSkipped++
				continue
			}
			// Same id, different register: keep both.
			in := *reg
			in.ID = s.idGen(8)
			regRemap[reg.ID] = in.ID
			if err := s.store.InsertRegister(&in); err != nil {
				return nil, err
			}
			res.FormsAdded++
			continue
		}
		if err := s.store.InsertRegister(reg); err != nil {
			return nil, err
		}
		res.FormsAdded++
	}

	for _, rec := range payload.Records {
		if rec == nil {
			res.RecordsSkipped++
			continue
		}
		if !manageRegisters && !strings.EqualFold(rec.SubmittedBy, actor.Username) {
			res.RecordsSkipped++
			continue
		}
		existing, err := s.store.GetRecord(rec.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			res.RecordsSkipped++
			continue
		}
		in := *rec
		if mapped, ok := regRemap[in.RegisterID]; ok {
			in.RegisterID = mapped
		}
		if reg, err := s.store.GetRegister(in.RegisterID); err != nil {
			return nil, err
		} else if reg == nil {
			res.RecordsSkipped++
			continue
		}
		if err := s.store.InsertRecord(&in); err != nil {
			return nil, err
		}
		res.RecordsAdded++
	}

	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor.Username, Action: "merge_data", Note: "from " + payload.ExportedBy})
	return res, nil
}

// mergeRoles dedupes by name, case-insensitively, and returns the id remap
// for incoming roles that matched an existing one.
func (s *PortabilityService) mergeRoles(incoming []*Role) (map[string]string, error) {
	remap := map[string]string{}
	existing, err := s.store.ListRoles()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*Role, len(existing))
	byID := make(map[string]*Role, len(existing))
	for _, r := range existing {
		byName[strings.ToLower(r.Name)] = r
		byID[r.ID] = r
	}
	for _, r := range incoming {
		if r == nil || strings.TrimSpace(r.Name) == "" {
			continue
		}
		if match, ok := byName[strings.ToLower(r.Name)]; ok {
			if match.ID != r.ID {
				remap[r.ID] = match.ID
			}
			continue
		}
		in := *r
		if _, taken := byID[in.ID]; in.ID == "" || taken {
			old := r.ID
			in.ID = s.idGen(8)
			if old != "" {
				remap[old] = in.ID
			}
		}
		if err := s.store.InsertRole(&in); err != nil {
			return nil, err
		}
		byName[strings.ToLower(in.Name)] = &in
		byID[in.ID] = &in
	}
	return remap, nil
}

// facilityWithinScope checks a directory row against a single-node scope.
func facilityWithinScope(fac *Facility, scope Scope) bool {
	switch scope.Kind {
	case ScopeNone, "":
		return true
	case ScopeRegion:
		return fac.Region == scope.Value
	case ScopeZone:
		return fac.Zone == scope.Value
	case ScopeDistrict:
		return fac.District == scope.Value
	case ScopeSubdistrict:
		return fac.Subdistrict == scope.Value
	case ScopeFacility:
		return fac.Name == scope.Value
	}
	return false
}
