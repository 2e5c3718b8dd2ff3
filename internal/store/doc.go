// Package store persists the user directory in Postgres via pgx.
//
// The store is the only component that talks to the database. It accepts
// fully validated, parameter-bound arguments exclusively: CRUD operations
// bind every value, and SearchUsers only executes queries that passed the
// nlq safety gate. Unique constraint violations surface as ErrDuplicate and
// missing rows as ErrNotFound so the dispatcher can map them to client
// errors instead of internal failures.
package store
