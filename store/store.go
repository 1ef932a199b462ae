// Package store is the data access layer for plugwatch: accounts and
// encrypted credentials, cookie lineages with supersession, points and
// connectors, append-only status observations, descriptive info snapshots,
// watch sets, and the extraction audit log.
//
// The store receives an already-opened *sql.DB (see dbopen) and never
// depends on a specific engine beyond standard SQL plus SQLite upserts.
package store

import (
	"database/sql"

	"github.com/hazyhaar/plugwatch/idgen"
)

// Store wraps the plugwatch database.
type Store struct {
	DB    *sql.DB
	newID idgen.Generator

	// DefaultCookieDomain and DefaultCookiePath fill cookies whose rows
	// predate domain/path capture.
	DefaultCookieDomain string
	DefaultCookiePath   string
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the default UUIDv7 ID strategy.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// WithDefaultCookieDomain sets the domain substituted for cookies stored
// without one.
func WithDefaultCookieDomain(domain string) Option {
	return func(s *Store) { s.DefaultCookieDomain = domain }
}

// New creates a Store from an already-opened database connection.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		DB:                  db,
		newID:               idgen.Default,
		DefaultCookieDomain: "placetoplug.com",
		DefaultCookiePath:   "/",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ApplySchema creates all tables, indexes, and views.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
