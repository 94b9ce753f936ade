package services

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type AuthStore interface {
	FindUserByUsername(username string) (*User, error)
	GetUser(id string) (*User, error)
	UpdateUser(u *User) error
}

type TokenSigner func(uid, username string, scope Scope, perms Permissions, ttl time.Duration) (string, error)

type AuthService struct {
	store     AuthStore
	now       func() time.Time
	signToken TokenSigner
	tokenTTL  time.Duration
}

type AuthResult struct {
	Token              string `json:"token"`
	UserID             string `json:"user_id"`
	Username           string `json:"username"`
	Scope              Scope  `json:"scope"`
	MustChangePassword bool   `json:"must_change_password"`
}

func NewAuthService(store AuthStore, signer TokenSigner) *AuthService {
	return &AuthService{
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
		signToken: signer,
		tokenTTL:  30 * 24 * time.Hour,
	}
}

func (s *AuthService) Login(username, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("username/password required")
	}
	u, err := s.store.FindUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(u.PassHash, []byte(password)); err != nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(u.ID, u.Username, u.Scope, u.Permissions, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		Token:              token,
		UserID:             u.ID,
		Username:           u.Username,
		Scope:              u.Scope,
		MustChangePassword: u.MustChangePassword,
	}, nil
}

// ChangePassword verifies the current password, replaces it, and clears the
// forced-change flag.
func (s *AuthService) ChangePassword(userID, current, next string) error {
	if strings.TrimSpace(next) == "" {
		return NewInvalidError("new password required")
	}
	u, err := s.store.GetUser(userID)
	if err != nil {
		return err
	}
	if u == nil {
		return NewNotFoundError("user not found")
	}
	if err := bcrypt.CompareHashAndPassword(u.PassHash, []byte(current)); err != nil {
		return NewUnauthorizedError("invalid credentials")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PassHash = hash
	u.MustChangePassword = false
	return s.store.UpdateUser(u)
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}
