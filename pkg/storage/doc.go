// Package storage implements component A: durable persistence for the
// engine's entities over Postgres via jackc/pgx/v5, with schema
// migrations run through golang-migrate/migrate/v4. Adapted from the
// teacher's pkg/storage/store.go interface shape (a flat per-entity
// CRUD interface) and pkg/storage/boltdb.go's Store-struct-wraps-one-
// handle idiom, generalized from BoltDB buckets to SQL tables and from
// synchronous bucket transactions to context-aware pgx transactions,
// since this spec calls for cross-row invariants (capacity accounting,
// org-wide subscription pools) that need real serializable isolation.
package storage
