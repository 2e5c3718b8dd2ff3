// ABOUTME: Tests for credential checking against bcrypt hashes
// ABOUTME: Verifies the uniform failure for unknown users and wrong passwords

package auth

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// fakeCredentialStore holds one credential.
type fakeCredentialStore struct {
	cred *Credential
}

func (f *fakeCredentialStore) GetCredential(_ context.Context, username string) (*Credential, error) {
	if f.cred != nil && f.cred.Username == username {
		return f.cred, nil
	}
	return nil, errors.New("not found")
}

func testCredential(t *testing.T, username, password string) *Credential {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}
	return &Credential{UserID: 1, Username: username, PasswordHash: hash}
}

func TestAuthenticator_Success(t *testing.T) {
	store := &fakeCredentialStore{cred: testCredential(t, "admin", "password")}
	a := NewAuthenticator(store)

	p, err := a.Authenticate(context.Background(), "admin", "password")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if p.ID != 1 || p.Username != "admin" {
		t.Errorf("Authenticate() = %+v, want id 1 username admin", p)
	}
}

func TestAuthenticator_WrongPassword(t *testing.T) {
	store := &fakeCredentialStore{cred: testCredential(t, "admin", "password")}
	a := NewAuthenticator(store)

	_, err := a.Authenticate(context.Background(), "admin", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Authenticate() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthenticator_UnknownUser(t *testing.T) {
	store := &fakeCredentialStore{cred: testCredential(t, "admin", "password")}
	a := NewAuthenticator(store)

	// Same error as a wrong password so responses never reveal
	// whether a username exists
	_, err := a.Authenticate(context.Background(), "nobody", "password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Authenticate() error = %v, want ErrInvalidCredentials", err)
	}
}
