// ABOUTME: Postgres implementation of the Store interface using pgx
// ABOUTME: Provides user persistence with automatic schema creation and a seeded admin

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/gatekeep/internal/auth"
	"github.com/2389/gatekeep/internal/nlq"
)

// uniqueViolation is the SQLSTATE for unique constraint violations.
const uniqueViolation = "23505"

// PostgresStore implements the Store interface using a pgx connection pool
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  *slog.Logger
}

// NewPostgresStore connects to the database at the given URL, creates the
// schema if needed, and seeds the admin account. Every query the store runs
// carries the given timeout.
func NewPostgresStore(ctx context.Context, url string, timeout time.Duration, adminPassword string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("opening database pool: %w", err)
	}

	s := &PostgresStore{
		pool:    pool,
		timeout: timeout,
		logger:  logger,
	}

	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.seedAdmin(ctx, adminPassword); err != nil {
		pool.Close()
		return nil, fmt.Errorf("seeding admin account: %w", err)
	}

	logger.Info("postgres store initialized")
	return s, nil
}

// createSchema creates the users table if it doesn't exist
func (s *PostgresStore) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL UNIQUE,
			first_name TEXT,
			last_name TEXT,
			password_hash TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// seedAdmin inserts the admin account if it is not already present.
func (s *PostgresStore) seedAdmin(ctx context.Context, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (username, email, password_hash) VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO NOTHING`,
		"admin", "admin@localhost", string(hash))
	return err
}

const userColumns = "id, username, email, first_name, last_name, created_at"

// scanUser scans one user row in userColumns order.
func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// mapError translates driver errors onto the store's error vocabulary.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w (%s)", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

// InsertUser creates a new user and returns the stored row.
func (s *PostgresStore) InsertUser(ctx context.Context, nu NewUser) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, first_name, last_name)
		 VALUES ($1, $2, $3, $4) RETURNING `+userColumns,
		nu.Username, nu.Email, nu.FirstName, nu.LastName)

	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

// ListUsers returns all users ordered by id.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]*User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUser returns the user with the given id, or ErrNotFound.
func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

// updatableColumns fixes the set of columns a patch may touch. The SQL text
// below only ever contains these identifiers; values are always bound.
var updatableColumns = []struct {
	name  string
	field func(UserPatch) *string
}{
	{"username", func(p UserPatch) *string { return p.Username }},
	{"email", func(p UserPatch) *string { return p.Email }},
	{"first_name", func(p UserPatch) *string { return p.FirstName }},
	{"last_name", func(p UserPatch) *string { return p.LastName }},
}

// buildUpdate produces the SET clause and bound args for a patch.
// Returns ErrNoFields when the patch changes nothing.
func buildUpdate(patch UserPatch) (string, []any, error) {
	var set string
	var args []any
	for _, col := range updatableColumns {
		if v := col.field(patch); v != nil {
			if set != "" {
				set += ", "
			}
			args = append(args, *v)
			set += fmt.Sprintf("%s = $%d", col.name, len(args))
		}
	}
	if len(args) == 0 {
		return "", nil, ErrNoFields
	}
	return set, args, nil
}

// UpdateUser applies a partial update and returns the updated row.
func (s *PostgresStore) UpdateUser(ctx context.Context, id int64, patch UserPatch) (*User, error) {
	set, args, err := buildUpdate(patch)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args = append(args, id)
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING %s`, set, len(args), userColumns),
		args...)

	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

// DeleteUser removes the user with the given id, or returns ErrNotFound.
func (s *PostgresStore) DeleteUser(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchUsers executes a gate-approved query and returns the rows as maps
// keyed by column name.
func (s *PostgresStore) SearchUsers(ctx context.Context, q *nlq.SafeQuery) ([]map[string]any, error) {
	sql, args := q.Build()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		record := make(map[string]any, len(fields))
		for i, f := range fields {
			record[f.Name] = values[i]
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// GetCredential resolves the stored credential for a username. Users without
// a password hash (not seeded for login) are treated as not found.
func (s *PostgresStore) GetCredential(ctx context.Context, username string) (*auth.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var cred auth.Credential
	var hash *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash FROM users WHERE username = $1`,
		username).Scan(&cred.UserID, &cred.Username, &hash)
	if err != nil {
		return nil, mapError(err)
	}
	if hash == nil {
		return nil, ErrNotFound
	}
	cred.PasswordHash = []byte(*hash)
	return &cred, nil
}

// Ping reports database reachability for the health endpoint.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
