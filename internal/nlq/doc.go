// Package nlq converts free text into safe, bounded user-directory queries.
//
// The Translator delegates to an external language model with a constrained
// prompt; its output is treated as untrusted input regardless of how
// confident it sounds. The gate (Sanitize) parses the candidate into an
// allowlisted read-only shape (single entity, known columns, scalar
// literals) and compiles it to one parameterized SELECT. No text derived
// from user input or model output ever reaches the database as an unparsed
// command string. Candidates that fail any rule are rejected with
// ErrUnsafeQuery rather than downgraded to a best-effort query.
package nlq
