// Package config loads and validates the gatekeep YAML configuration.
//
// Configuration files support ${VAR_NAME} environment variable expansion
// and human-readable duration strings ("30s", "24h") for all timeout and
// window fields. Validation runs at load time so the server never starts
// with a missing database URL or an undersized JWT secret.
package config
