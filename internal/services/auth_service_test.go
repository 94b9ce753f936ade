package services

import (
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func seedAccount(t *testing.T, store *stubStore, username, password string) *User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &User{
		ID:                 "u-" + username,
		Username:           username,
		PassHash:           hash,
		MustChangePassword: true,
		Scope:              Scope{Kind: ScopeDistrict, Value: "Tamale Metro"},
	}
	store.users[u.ID] = u
	return u
}

func stubSigner(uid, username string, scope Scope, perms Permissions, ttl time.Duration) (string, error) {
	return "token-" + uid, nil
}

func TestLogin(t *testing.T) {
	store := newStubStore()
	seedAccount(t, store, "akosua", "secret")
	svc := NewAuthService(store, stubSigner)

	res, err := svc.Login("akosua", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token != "token-u-akosua" {
		t.Fatalf("token = %q", res.Token)
	}
	if !res.MustChangePassword {
		t.Fatalf("forced-change flag should pass through")
	}
	if res.Scope.Kind != ScopeDistrict {
		t.Fatalf("scope = %+v", res.Scope)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	store := newStubStore()
	seedAccount(t, store, "akosua", "secret")
	svc := NewAuthService(store, stubSigner)

	for _, c := range []struct{ user, pass string }{
		{"akosua", "wrong"},
		{"nobody", "secret"},
	} {
		_, err := svc.Login(c.user, c.pass)
		se, ok := AsServiceError(err)
		if !ok || se.Code != ErrorUnauthorized {
			t.Fatalf("Login(%q,%q): %v", c.user, c.pass, err)
		}
	}
	if _, err := svc.Login("", ""); err == nil {
		t.Fatalf("empty credentials should fail")
	}
}

func TestChangePassword(t *testing.T) {
	store := newStubStore()
	u := seedAccount(t, store, "akosua", "secret")
	svc := NewAuthService(store, stubSigner)

	if err := svc.ChangePassword(u.ID, "wrong", "next"); err == nil {
		t.Fatalf("wrong current password should fail")
	}
	if err := svc.ChangePassword(u.ID, "secret", "next"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	got, _ := store.GetUser(u.ID)
	if got.MustChangePassword {
		t.Fatalf("forced-change flag should clear")
	}
	if _, err := svc.Login("akosua", "next"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, err := svc.Login("akosua", "secret"); err == nil {
		t.Fatalf("old password should stop working")
	}
}
