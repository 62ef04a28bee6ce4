// Package storage provides ledger.Storage backends: an in-memory store for
// tests and a SQLite store (github.com/mattn/go-sqlite3) with WAL and full
// synchronous writes for production.
package storage
