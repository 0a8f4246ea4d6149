// Package store persists listings and import runs. Two implementations
// share one contract: Postgres for deployments, SQLite for local and
// single-node use.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/imovelmapa/imovsync/internal/model"
)

// ListFilter narrows a listing query. Slice fields are OR-ed within the
// field and AND-ed across fields. Zero values mean "no constraint".
type ListFilter struct {
	Regions       []string
	Cities        []string
	Neighborhoods []string
	Types         []string
	Code          string

	PriceMin    *decimal.Decimal
	PriceMax    *decimal.Decimal
	DiscountMin *decimal.Decimal
	BedroomsMin *int

	// RequireCoordinates keeps only listings with a resolved location.
	RequireCoordinates bool

	// Page is 1-based. PageSize <= 0 falls back to the store default.
	Page     int
	PageSize int
}

// Store is the persistence contract for listings and import runs.
type Store interface {
	// Reconciliation
	CodesByRegion(ctx context.Context, region string) (map[string]struct{}, error)
	GetByCode(ctx context.Context, code string) (*model.Property, error)
	Upsert(ctx context.Context, p *model.Property) error
	BulkDeleteByCodes(ctx context.Context, region string, codes []string) (int, error)

	// Enrichment
	SetCoordinates(ctx context.Context, code string, lat, lon float64) error
	SetImage(ctx context.Context, code, url, id string) error

	// Query surface
	List(ctx context.Context, filter ListFilter) ([]model.Property, int, error)
	CountAll(ctx context.Context) (int, error)
	Regions(ctx context.Context) ([]string, error)
	Cities(ctx context.Context, region string) ([]string, error)
	Neighborhoods(ctx context.Context, city string) ([]string, error)
	Types(ctx context.Context) ([]string, error)

	// Runs
	CreateRun(ctx context.Context, regions []string) (*model.ImportRun, error)
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary model.ImportSummary) error
	ListRuns(ctx context.Context, limit int) ([]model.ImportRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
