package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imovelmapa/imovsync/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetByCode_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM properties WHERE code = \$1`).
		WithArgs("8444400000000").
		WillReturnError(pgx.ErrNoRows)

	p, err := s.GetByCode(context.Background(), "8444400000000")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(code\) DO UPDATE`).
		WithArgs(
			"555", "Apartamento", "Apartamento", "Apartamento, 2 qto(s)", "Rua A, 10",
			"Centro", "São Paulo", "SP", "01000-000",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			"Venda Online", "https://example.com/detalhe/555", pgxmock.AnyArg(), pgxmock.AnyArg(),
			"https://example.com/F000000000055521.jpg", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	p := &model.Property{
		Code:            "555",
		PropertyType:    "Apartamento",
		PropertySubtype: "Apartamento",
		Description:     "Apartamento, 2 qto(s)",
		Address:         "Rua A, 10",
		Neighborhood:    "Centro",
		City:            "São Paulo",
		Region:          "SP",
		PostalCode:      "01000-000",
		Price:           decimal.RequireFromString("150000.00"),
		AppraisedValue:  decimal.RequireFromString("200000.00"),
		DiscountPercent: decimal.RequireFromString("25.00"),
		SaleModality:    "Venda Online",
		ListingLink:     "https://example.com/detalhe/555",
		ImageURL:        "https://example.com/F000000000055521.jpg",
	}
	require.NoError(t, s.Upsert(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BulkDeleteByCodes(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM properties WHERE region = \$1 AND code = ANY\(\$2\)`).
		WithArgs("SP", []string{"1", "2", "3"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.BulkDeleteByCodes(context.Background(), "SP", []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BulkDeleteByCodes_EmptySkipsQuery(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.BulkDeleteByCodes(context.Background(), "SP", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetCoordinates_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE properties SET latitude = \$1, longitude = \$2`).
		WithArgs(-23.55, -46.63, pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetCoordinates(context.Background(), "missing", -23.55, -46.63)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CodesByRegion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT code FROM properties WHERE region = \$1`).
		WithArgs("RJ").
		WillReturnRows(pgxmock.NewRows([]string{"code"}).AddRow("10").AddRow("20"))

	codes, err := s.CodesByRegion(context.Background(), "RJ")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"10": {}, "20": {}}, codes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE import_runs SET status = \$1`).
		WithArgs(string(model.RunStatusComplete), pgxmock.AnyArg(), pgxmock.AnyArg(), "no-such-run").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "no-such-run", model.RunStatusComplete, model.ImportSummary{})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildPostgresWhere(t *testing.T) {
	min := decimal.RequireFromString("50000")
	bedrooms := 2

	where, args := buildPostgresWhere(ListFilter{
		Regions:            []string{"SP", "RJ"},
		Types:              []string{"Casa"},
		PriceMin:           &min,
		BedroomsMin:        &bedrooms,
		RequireCoordinates: true,
	})

	assert.Contains(t, where, `region = ANY($1)`)
	assert.Contains(t, where, `property_type = ANY($2)`)
	assert.Contains(t, where, `price >= $3`)
	assert.Contains(t, where, `bedrooms >= $4`)
	assert.Contains(t, where, `latitude IS NOT NULL`)
	assert.Len(t, args, 4)

	where, args = buildPostgresWhere(ListFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}
