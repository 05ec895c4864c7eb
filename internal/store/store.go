// Package store persists company golden records and search bookkeeping. Two
// gateways implement the same contract: PostgreSQL for deployments and an
// embedded SQLite database for single-machine use.
package store

import (
	"context"

	"github.com/baza-td/stroyparser/internal/model"
)

// Gateway is the persistence boundary. Upsert is the only write path for
// company data: it merges the incoming partial into the stored record (or
// creates one) atomically per tax ID, so concurrent writers for the same
// company never interleave field-by-field.
type Gateway interface {
	// Migrate creates or updates the schema. Idempotent.
	Migrate(ctx context.Context) error

	// Upsert merges in into the record keyed by in.TaxID, creating it if
	// absent. Returns the post-merge record and whether it was created.
	Upsert(ctx context.Context, in model.Partial) (*model.CompanyRecord, bool, error)

	// GetByTaxID returns the record for taxID or ErrNotFound.
	GetByTaxID(ctx context.Context, taxID string) (*model.CompanyRecord, error)

	ListCompanies(ctx context.Context, f model.CompanyFilter) ([]model.CompanyRecord, error)
	Stats(ctx context.Context) (model.Stats, error)

	// RecordSearch creates a pending search record and returns its ID.
	RecordSearch(ctx context.Context, query, city string, ring int, sessionID string) (int64, error)

	// CompleteSearch finalizes a pending search exactly once. Completed or
	// failed records are immutable; a second call is a no-op.
	CompleteSearch(ctx context.Context, id int64, status model.SearchStatus, resultCount, latencyMS int) error

	// LinkResult associates a search with the company stored under taxID.
	LinkResult(ctx context.Context, searchID int64, taxID string, rank int) error

	RecentSearches(ctx context.Context, limit int) ([]model.SearchRecord, error)

	// SeedCities upserts the city ring table by name.
	SeedCities(ctx context.Context, cities []model.City) error
	ListCities(ctx context.Context) ([]model.City, error)

	Close() error
}
