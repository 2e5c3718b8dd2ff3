// ABOUTME: Credential checking against stored bcrypt password hashes
// ABOUTME: Returns a uniform error so callers never learn whether a username exists

package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for any login failure: unknown
// username, wrong password, or an unreadable stored hash.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Credential is a stored login credential resolved by a CredentialStore.
type Credential struct {
	UserID       int64
	Username     string
	PasswordHash []byte
}

// CredentialStore resolves stored credentials by username.
type CredentialStore interface {
	GetCredential(ctx context.Context, username string) (*Credential, error)
}

// dummyHash is compared against when the username does not exist, so the
// two failure paths take comparable time.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("gatekeep-dummy"), bcrypt.DefaultCost)

// Authenticator validates username/password pairs against a credential store.
type Authenticator struct {
	creds CredentialStore
}

// NewAuthenticator creates an Authenticator backed by the given store.
func NewAuthenticator(creds CredentialStore) *Authenticator {
	return &Authenticator{creds: creds}
}

// Authenticate checks the password against the stored bcrypt hash and
// returns the matching principal. Every failure is ErrInvalidCredentials.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*Principal, error) {
	cred, err := a.creds.GetCredential(ctx, username)
	if err != nil {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(cred.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &Principal{ID: cred.UserID, Username: cred.Username}, nil
}
