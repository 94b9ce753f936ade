package services

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type UserStore interface {
	InsertUser(u *User) error
	GetUser(id string) (*User, error)
	FindUserByUsername(username string) (*User, error)
	UpdateUser(u *User) error
	DeleteUser(id string) error
	ListUsers() ([]*User, error)
	InsertRole(r *Role) error
	GetRole(id string) (*Role, error)
	UpdateRole(r *Role) error
	DeleteRole(id string) error
	ListRoles() ([]*Role, error)
	AddAudit(entry AuditEntry)
}

// UserService manages accounts and roles. A role caps how deep a user's
// scope may go and seeds the user's permission bits.
type UserService struct {
	store     UserStore
	directory *FacilityDirectory
	now       func() time.Time
	idGen     func() string
	hash      func(password string) ([]byte, error)
}

func NewUserService(store UserStore, directory *FacilityDirectory) *UserService {
	return &UserService{
		store:     store,
		directory: directory,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     func() string { return shortID(8) },
		hash: func(password string) ([]byte, error) {
			return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		},
	}
}

func (s *UserService) CreateUser(actor *User, username, password, roleID string, scope Scope, assignedRegisters []string) (*User, error) {
	if !actor.HasPermission(PermManageUsers) {
		return nil, NewForbiddenError("user management required")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, NewInvalidError("username required")
	}
	if password == "" {
		return nil, NewInvalidError("password required")
	}
	existing, err := s.store.FindUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("username already taken: " + username)
	}
	role, err := s.store.GetRole(roleID)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, NewNotFoundError("role not found")
	}
	if !MaxScopeAllows(scope, role.MaxScope) {
		return nil, NewForbiddenError("scope exceeds role maximum: " + string(role.MaxScope))
	}
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:                 s.idGen(),
		Username:           username,
		PassHash:           hash,
		MustChangePassword: true,
		RoleID:             role.ID,
		Scope:              scope,
		AssignedRegisters:  assignedRegisters,
		AssignedCSOs:       s.autoAssignCSOs(role, scope),
		Permissions:        role.Defaults,
		CreatedAt:          s.now(),
	}
	if err := s.store.InsertUser(u); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor.Username, Action: "create_user", Target: u.ID, Note: username})
	return u, nil
}

// autoAssignCSOs resolves the civil-society organizations serving the user's
// scope. District scope maps directly; region and zone scopes collect CSOs
// across every district within.
func (s *UserService) autoAssignCSOs(role *Role, scope Scope) []string {
	if role == nil || !role.AllowCSO || s.directory == nil {
		return nil
	}
	switch scope.Kind {
	case ScopeDistrict:
		return s.directory.CSOsForDistrict(scope.Value)
	case ScopeRegion, ScopeZone:
		return s.directory.CSOsForScope(scope)
	}
	return nil
}

func (s *UserService) UpdateUser(actor *User, id, roleID string, scope Scope, assignedRegisters []string) error {
	if !actor.HasPermission(PermManageUsers) {
		return NewForbiddenError("user management required")
	}
	u, err := s.store.GetUser(id)
	if err != nil {
		return err
	}
	if u == nil {
		return NewNotFoundError("user not found")
	}
	role, err := s.store.GetRole(roleID)
	if err != nil {
		return err
	}
	if role == nil {
		return NewNotFoundError("role not found")
	}
	if !MaxScopeAllows(scope, role.MaxScope) {
		return NewForbiddenError("scope exceeds role maximum: " + string(role.MaxScope))
	}
	u.RoleID = role.ID
	u.Scope = scope
	u.AssignedRegisters = assignedRegisters
	u.AssignedCSOs = s.autoAssignCSOs(role, scope)
	u.Permissions = role.Defaults
	return s.store.UpdateUser(u)
}

func (s *UserService) DeleteUser(actor *User, id string) error {
	if !actor.HasPermission(PermManageUsers) {
		return NewForbiddenError("user management required")
	}
	if actor.ID == id {
		return NewInvalidError("cannot delete own account")
	}
	u, err := s.store.GetUser(id)
	if err != nil {
		return err
	}
	if u == nil {
		return NewNotFoundError("user not found")
	}
	if err := s.store.DeleteUser(id); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor.Username, Action: "delete_user", Target: id, Note: u.Username})
	return nil
}

func (s *UserService) ListUsers(actor *User) ([]*User, error) {
	if !actor.HasPermission(PermManageUsers) {
		return nil, NewForbiddenError("user management required")
	}
	return s.store.ListUsers()
}

// ResetPassword sets a temporary password and forces a change at next login.
func (s *UserService) ResetPassword(actor *User, id, password string) error {
	if !actor.HasPermission(PermManageUsers) {
		return NewForbiddenError("user management required")
	}
	if password == "" {
		return NewInvalidError("password required")
	}
	u, err := s.store.GetUser(id)
	if err != nil {
		return err
	}
	if u == nil {
		return NewNotFoundError("user not found")
	}
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	u.PassHash = hash
	u.MustChangePassword = true
	return s.store.UpdateUser(u)
}

func (s *UserService) CreateRole(actor *User, name string, maxScope ScopeKind, allowCSO bool, defaults Permissions) (*Role, error) {
	if !actor.HasPermission(PermManageUsers) {
		return nil, NewForbiddenError("user management required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewInvalidError("role name required")
	}
	roles, err := s.store.ListRoles()
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		if strings.EqualFold(r.Name, name) {
			return nil, NewConflictError("role name already taken: " + name)
		}
	}
	if maxScope == "" {
		maxScope = ScopeNone
	}
	role := &Role{
		ID:       s.idGen(),
		Name:     name,
		MaxScope: maxScope,
		AllowCSO: allowCSO,
		Defaults: defaults,
	}
	if err := s.store.InsertRole(role); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *UserService) UpdateRole(actor *User, role *Role) error {
	if !actor.HasPermission(PermManageUsers) {
		return NewForbiddenError("user management required")
	}
	if role == nil || role.ID == "" {
		return NewInvalidError("role id required")
	}
	existing, err := s.store.GetRole(role.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return NewNotFoundError("role not found")
	}
	if existing.IsDefault && !role.IsDefault {
		role.IsDefault = true
	}
	return s.store.UpdateRole(role)
}

// DeleteRole refuses while any user still holds the role.
func (s *UserService) DeleteRole(actor *User, id string) error {
	if !actor.HasPermission(PermManageUsers) {
		return NewForbiddenError("user management required")
	}
	role, err := s.store.GetRole(id)
	if err != nil {
		return err
	}
	if role == nil {
		return NewNotFoundError("role not found")
	}
	if role.IsDefault {
		return NewInvalidError("cannot delete a built-in role")
	}
	users, err := s.store.ListUsers()
	if err != nil {
		return err
	}
	for _, u := range users {
		if u.RoleID == id {
			return NewConflictError("role still assigned to user: " + u.Username)
		}
	}
	return s.store.DeleteRole(id)
}

func (s *UserService) ListRoles() ([]*Role, error) {
	return s.store.ListRoles()
}
