package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imovelmapa/imovsync/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleProperty(code, region, city string) *model.Property {
	area := decimal.RequireFromString("120.50")
	bedrooms := 3
	return &model.Property{
		Code:            code,
		PropertyType:    "Casa",
		PropertySubtype: "Casa",
		Description:     "Casa, 120.50 de área total, 3 qto(s)",
		Address:         "Rua das Flores, 100",
		Neighborhood:    "Centro",
		City:            city,
		Region:          region,
		PostalCode:      "01000-000",
		Price:           decimal.RequireFromString("180000.00"),
		AppraisedValue:  decimal.RequireFromString("240000.00"),
		DiscountPercent: decimal.RequireFromString("25.00"),
		TotalArea:       &area,
		Bedrooms:        &bedrooms,
		SaleModality:    "Venda Online",
		ListingLink:     "https://example.com/detalhe/" + code,
		ImageURL:        "https://example.com/fotos/F000000000000121.jpg",
	}
}

func TestSQLiteStore_UpsertAndGet(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	p := sampleProperty("100", "SP", "São Paulo")
	require.NoError(t, s.Upsert(ctx, p))

	got, err := s.GetByCode(ctx, "100")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Casa", got.PropertyType)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("180000.00")))
	require.NotNil(t, got.TotalArea)
	assert.True(t, got.TotalArea.Equal(decimal.RequireFromString("120.50")))
	require.NotNil(t, got.Bedrooms)
	assert.Equal(t, 3, *got.Bedrooms)
	assert.False(t, got.HasCoordinates())
	assert.False(t, got.HasCachedImage())
}

func TestSQLiteStore_GetByCode_Missing(t *testing.T) {
	s := newTestSQLiteStore(t)

	got, err := s.GetByCode(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_UpsertPreservesEnrichment(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	p := sampleProperty("200", "SP", "Campinas")
	require.NoError(t, s.Upsert(ctx, p))
	require.NoError(t, s.SetCoordinates(ctx, "200", -22.9, -47.06))
	require.NoError(t, s.SetImage(ctx, "200", "https://cdn.example/p200.jpg", "asset-200"))

	// A later feed pass re-upserts the same code with fresh feed fields.
	p2 := sampleProperty("200", "SP", "Campinas")
	p2.Price = decimal.RequireFromString("170000.00")
	require.NoError(t, s.Upsert(ctx, p2))

	got, err := s.GetByCode(ctx, "200")
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("170000.00")))
	assert.True(t, got.HasCoordinates())
	assert.True(t, got.HasCachedImage())
	assert.Equal(t, "asset-200", *got.CachedImageID)
}

func TestSQLiteStore_CodesByRegionAndBulkDelete(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, code := range []string{"1", "2", "3"} {
		require.NoError(t, s.Upsert(ctx, sampleProperty(code, "MG", "Belo Horizonte")))
	}
	require.NoError(t, s.Upsert(ctx, sampleProperty("9", "RJ", "Rio de Janeiro")))

	codes, err := s.CodesByRegion(ctx, "MG")
	require.NoError(t, err)
	assert.Len(t, codes, 3)

	// Deletion is scoped to the region: the RJ listing survives even if
	// its code is named.
	n, err := s.BulkDeleteByCodes(ctx, "MG", []string{"1", "3", "9"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	codes, err = s.CodesByRegion(ctx, "MG")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"2": {}}, codes)

	rj, err := s.GetByCode(ctx, "9")
	require.NoError(t, err)
	assert.NotNil(t, rj)
}

func TestSQLiteStore_List(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	cheap := sampleProperty("10", "SP", "São Paulo")
	cheap.Price = decimal.RequireFromString("50000.00")
	cheap.DiscountPercent = decimal.RequireFromString("60.00")
	require.NoError(t, s.Upsert(ctx, cheap))

	mid := sampleProperty("11", "SP", "Santos")
	mid.DiscountPercent = decimal.RequireFromString("10.00")
	require.NoError(t, s.Upsert(ctx, mid))

	other := sampleProperty("12", "BA", "Salvador")
	require.NoError(t, s.Upsert(ctx, other))
	require.NoError(t, s.SetCoordinates(ctx, "12", -12.97, -38.50))

	props, total, err := s.List(ctx, ListFilter{Regions: []string{"SP"}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, props, 2)
	// Highest discount first.
	assert.Equal(t, "10", props[0].Code)

	min := decimal.RequireFromString("100000")
	props, total, err = s.List(ctx, ListFilter{Regions: []string{"SP"}, PriceMin: &min})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "11", props[0].Code)

	props, total, err = s.List(ctx, ListFilter{RequireCoordinates: true})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "12", props[0].Code)

	// Pagination: page 2 of size 1 over the SP set.
	props, total, err = s.List(ctx, ListFilter{Regions: []string{"SP"}, Page: 2, PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, props, 1)
	assert.Equal(t, "11", props[0].Code)
}

func TestSQLiteStore_DistinctLookups(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, sampleProperty("1", "SP", "São Paulo")))
	require.NoError(t, s.Upsert(ctx, sampleProperty("2", "SP", "Campinas")))
	apt := sampleProperty("3", "RJ", "Rio de Janeiro")
	apt.PropertyType = "Apartamento"
	require.NoError(t, s.Upsert(ctx, apt))

	regions, err := s.Regions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"RJ", "SP"}, regions)

	cities, err := s.Cities(ctx, "SP")
	require.NoError(t, err)
	assert.Equal(t, []string{"Campinas", "São Paulo"}, cities)

	hoods, err := s.Neighborhoods(ctx, "Campinas")
	require.NoError(t, err)
	assert.Equal(t, []string{"Centro"}, hoods)

	types, err := s.Types(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Apartamento", "Casa"}, types)

	count, err := s.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSQLiteStore_Runs(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, []string{"SP", "RJ"})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	summary := model.ImportSummary{TotalProcessed: 10, TotalNew: 4, TotalUpdated: 5, TotalRemoved: 1}
	require.NoError(t, s.CompleteRun(ctx, run.ID, model.RunStatusComplete, summary))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
	assert.Equal(t, summary, runs[0].Summary)
	assert.Equal(t, []string{"SP", "RJ"}, runs[0].Regions)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestSQLiteStore_CompleteRun_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	err := s.CompleteRun(context.Background(), "no-such-run", model.RunStatusComplete, model.ImportSummary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
