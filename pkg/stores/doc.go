// Package stores provides the persistent state store implementations the
// engine writes reconciliation records through.
//
// Three backends implement engine.StateStore: an embedded SQLite store for
// single-node deployments, a PostgreSQL store for shared deployments, and an
// in-memory store for tests. All three serve whole records atomically; the
// engine's per-resource lock table serializes writers, so the stores only
// guarantee that readers never see a partially written record.
//
// The SQLite and PostgreSQL stores additionally keep an append-only event
// history of drift and terminal-error events, and every store can be exported
// to and restored from a JSON backup.
package stores
