// ABOUTME: Store interface and data types for gatekeep persistence
// ABOUTME: Defines the User entity and the Store interface for record operations

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/gatekeep/internal/auth"
	"github.com/2389/gatekeep/internal/nlq"
)

// ErrNotFound is returned when a requested user does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint (username or email) is violated
var ErrDuplicate = errors.New("username or email already exists")

// ErrNoFields is returned when an update carries nothing to change
var ErrNoFields = errors.New("no fields to update")

// User represents one row of the users table
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName *string   `json:"first_name,omitempty"`
	LastName  *string   `json:"last_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUser carries the fields for creating a user
type NewUser struct {
	Username  string
	Email     string
	FirstName *string
	LastName  *string
}

// UserPatch carries optional fields for a partial update; nil means unchanged
type UserPatch struct {
	Username  *string
	Email     *string
	FirstName *string
	LastName  *string
}

// Store defines the interface for user persistence. All write paths take
// fully validated, parameter-bound arguments; SearchUsers only accepts a
// query that passed the nlq safety gate.
type Store interface {
	InsertUser(ctx context.Context, nu NewUser) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	UpdateUser(ctx context.Context, id int64, patch UserPatch) (*User, error)
	DeleteUser(ctx context.Context, id int64) error
	SearchUsers(ctx context.Context, q *nlq.SafeQuery) ([]map[string]any, error)

	// GetCredential implements auth.CredentialStore
	GetCredential(ctx context.Context, username string) (*auth.Credential, error)

	Ping(ctx context.Context) error
	Close()
}
