// Package postgres provides PostgreSQL-specific implementations for the data
// storage interfaces defined in the internal/store package: dataset records,
// generated samples, task snapshots and vector sync state. It also owns the
// embedded schema migrations and connection setup.
package postgres
