package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/imovelmapa/imovsync/internal/db"
	"github.com/imovelmapa/imovsync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the per-row reconciliation operations.
var preparedStatements = map[string]string{
	"get_by_code":     `SELECT ` + propertyColumns + ` FROM properties WHERE code = $1`,
	"set_coordinates": `UPDATE properties SET latitude = $1, longitude = $2, updated_at = $3 WHERE code = $4`,
	"set_image":       `UPDATE properties SET cached_image_url = $1, cached_image_id = $2, updated_at = $3 WHERE code = $4`,
	"codes_by_region": `SELECT code FROM properties WHERE region = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Money and area columns scan straight into decimal.Decimal.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const propertyColumns = `code, property_type, property_subtype, description, address, neighborhood, city, region, postal_code, price, appraised_value, discount_percent, total_area, private_area, lot_area, bedrooms, sale_modality, listing_link, latitude, longitude, image_url, cached_image_url, cached_image_id, updated_at`

const postgresMigration = `
CREATE TABLE IF NOT EXISTS properties (
	code             TEXT PRIMARY KEY,
	property_type    TEXT NOT NULL DEFAULT '',
	property_subtype TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	address          TEXT NOT NULL DEFAULT '',
	neighborhood     TEXT NOT NULL DEFAULT '',
	city             TEXT NOT NULL DEFAULT '',
	region           TEXT NOT NULL,
	postal_code      TEXT NOT NULL DEFAULT '',
	price            NUMERIC(14,2) NOT NULL DEFAULT 0,
	appraised_value  NUMERIC(14,2) NOT NULL DEFAULT 0,
	discount_percent NUMERIC(6,2) NOT NULL DEFAULT 0,
	total_area       NUMERIC(12,2),
	private_area     NUMERIC(12,2),
	lot_area         NUMERIC(12,2),
	bedrooms         INTEGER,
	sale_modality    TEXT NOT NULL DEFAULT '',
	listing_link     TEXT NOT NULL DEFAULT '',
	latitude         DOUBLE PRECISION,
	longitude        DOUBLE PRECISION,
	image_url        TEXT NOT NULL DEFAULT '',
	cached_image_url TEXT,
	cached_image_id  TEXT,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_properties_region ON properties(region);
CREATE INDEX IF NOT EXISTS idx_properties_city ON properties(city);
CREATE INDEX IF NOT EXISTS idx_properties_neighborhood ON properties(neighborhood);
CREATE INDEX IF NOT EXISTS idx_properties_type ON properties(property_type);
CREATE INDEX IF NOT EXISTS idx_properties_price ON properties(price);
CREATE INDEX IF NOT EXISTS idx_properties_discount ON properties(discount_percent);

CREATE TABLE IF NOT EXISTS import_runs (
	id          TEXT PRIMARY KEY,
	regions     JSONB NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	summary     JSONB,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_import_runs_started_at ON import_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CodesByRegion(ctx context.Context, region string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT code FROM properties WHERE region = $1`, region)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: codes for %s", region)
	}
	defer rows.Close()

	codes := make(map[string]struct{})
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, eris.Wrap(err, "postgres: scan code")
		}
		codes[code] = struct{}{}
	}
	return codes, eris.Wrapf(rows.Err(), "postgres: codes for %s iterate", region)
}

func (s *PostgresStore) GetByCode(ctx context.Context, code string) (*model.Property, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE code = $1`, code)

	p, err := scanProperty(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s", code)
	}
	return p, nil
}

// Upsert writes the feed-sourced fields of a listing. Enrichment columns
// (coordinates, cached image) are preserved on conflict: they belong to
// SetCoordinates and SetImage.
func (s *PostgresStore) Upsert(ctx context.Context, p *model.Property) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO properties (`+propertyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (code) DO UPDATE SET
			property_type = EXCLUDED.property_type,
			property_subtype = EXCLUDED.property_subtype,
			description = EXCLUDED.description,
			address = EXCLUDED.address,
			neighborhood = EXCLUDED.neighborhood,
			city = EXCLUDED.city,
			region = EXCLUDED.region,
			postal_code = EXCLUDED.postal_code,
			price = EXCLUDED.price,
			appraised_value = EXCLUDED.appraised_value,
			discount_percent = EXCLUDED.discount_percent,
			total_area = EXCLUDED.total_area,
			private_area = EXCLUDED.private_area,
			lot_area = EXCLUDED.lot_area,
			bedrooms = EXCLUDED.bedrooms,
			sale_modality = EXCLUDED.sale_modality,
			listing_link = EXCLUDED.listing_link,
			image_url = EXCLUDED.image_url,
			updated_at = EXCLUDED.updated_at`,
		p.Code, p.PropertyType, p.PropertySubtype, p.Description, p.Address,
		p.Neighborhood, p.City, p.Region, p.PostalCode,
		p.Price, p.AppraisedValue, p.DiscountPercent,
		p.TotalArea, p.PrivateArea, p.LotArea, p.Bedrooms,
		p.SaleModality, p.ListingLink, p.Latitude, p.Longitude,
		p.ImageURL, p.CachedImageURL, p.CachedImageID, now,
	)
	return eris.Wrapf(err, "postgres: upsert %s", p.Code)
}

func (s *PostgresStore) BulkDeleteByCodes(ctx context.Context, region string, codes []string) (int, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM properties WHERE region = $1 AND code = ANY($2)`,
		region, codes,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete codes for %s", region)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) SetCoordinates(ctx context.Context, code string, lat, lon float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE properties SET latitude = $1, longitude = $2, updated_at = $3 WHERE code = $4`,
		lat, lon, time.Now().UTC(), code,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set coordinates %s", code)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("property not found: %s", code)
	}
	return nil
}

func (s *PostgresStore) SetImage(ctx context.Context, code, url, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE properties SET cached_image_url = $1, cached_image_id = $2, updated_at = $3 WHERE code = $4`,
		url, id, time.Now().UTC(), code,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set image %s", code)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("property not found: %s", code)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]model.Property, int, error) {
	where, args := buildPostgresWhere(filter)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM properties`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count listings")
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query := fmt.Sprintf(
		`SELECT `+propertyColumns+` FROM properties%s ORDER BY discount_percent DESC, code LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2,
	)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list listings")
	}
	defer rows.Close()

	var props []model.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan listing")
		}
		props = append(props, *p)
	}
	return props, total, eris.Wrap(rows.Err(), "postgres: list listings iterate")
}

// buildPostgresWhere renders the filter into a WHERE clause with $n
// placeholders.
func buildPostgresWhere(filter ListFilter) (string, []any) {
	clauses := []string{}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Regions) > 0 {
		clauses = append(clauses, `region = ANY(`+arg(filter.Regions)+`)`)
	}
	if len(filter.Cities) > 0 {
		clauses = append(clauses, `city = ANY(`+arg(filter.Cities)+`)`)
	}
	if len(filter.Neighborhoods) > 0 {
		clauses = append(clauses, `neighborhood = ANY(`+arg(filter.Neighborhoods)+`)`)
	}
	if len(filter.Types) > 0 {
		clauses = append(clauses, `property_type = ANY(`+arg(filter.Types)+`)`)
	}
	if filter.Code != "" {
		clauses = append(clauses, `code = `+arg(filter.Code))
	}
	if filter.PriceMin != nil {
		clauses = append(clauses, `price >= `+arg(*filter.PriceMin))
	}
	if filter.PriceMax != nil {
		clauses = append(clauses, `price <= `+arg(*filter.PriceMax))
	}
	if filter.DiscountMin != nil {
		clauses = append(clauses, `discount_percent >= `+arg(*filter.DiscountMin))
	}
	if filter.BedroomsMin != nil {
		clauses = append(clauses, `bedrooms >= `+arg(*filter.BedroomsMin))
	}
	if filter.RequireCoordinates {
		clauses = append(clauses, `latitude IS NOT NULL AND longitude IS NOT NULL AND (latitude <> 0 OR longitude <> 0)`)
	}

	if len(clauses) == 0 {
		return "", args
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

func (s *PostgresStore) CountAll(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM properties`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count all")
}

func (s *PostgresStore) Regions(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, `SELECT DISTINCT region FROM properties ORDER BY region`)
}

func (s *PostgresStore) Cities(ctx context.Context, region string) ([]string, error) {
	return s.distinct(ctx,
		`SELECT DISTINCT city FROM properties WHERE region = $1 AND city <> '' ORDER BY city`, region)
}

func (s *PostgresStore) Neighborhoods(ctx context.Context, city string) ([]string, error) {
	return s.distinct(ctx,
		`SELECT DISTINCT neighborhood FROM properties WHERE city = $1 AND neighborhood <> '' ORDER BY neighborhood`, city)
}

func (s *PostgresStore) Types(ctx context.Context) ([]string, error) {
	return s.distinct(ctx,
		`SELECT DISTINCT property_type FROM properties WHERE property_type <> '' ORDER BY property_type`)
}

func (s *PostgresStore) distinct(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: distinct query")
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan distinct value")
		}
		values = append(values, v)
	}
	return values, eris.Wrap(rows.Err(), "postgres: distinct iterate")
}

func (s *PostgresStore) CreateRun(ctx context.Context, regions []string) (*model.ImportRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	regionsJSON, err := json.Marshal(regions)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal regions")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO import_runs (id, regions, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, regionsJSON, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.ImportRun{
		ID:        id,
		Regions:   regions,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary model.ImportSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE import_runs SET status = $1, summary = $2, finished_at = $3 WHERE id = $4`,
		string(status), summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.ImportRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, regions, status, summary, started_at, finished_at FROM import_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.ImportRun
	for rows.Next() {
		var r model.ImportRun
		var regionsJSON []byte
		var summaryJSON *[]byte

		if err := rows.Scan(&r.ID, &regionsJSON, &r.Status, &summaryJSON, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(regionsJSON, &r.Regions); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal regions")
		}
		if summaryJSON != nil {
			if err := json.Unmarshal(*summaryJSON, &r.Summary); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal summary")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// scanProperty reads one propertyColumns row.
func scanProperty(row pgx.Row) (*model.Property, error) {
	var p model.Property
	err := row.Scan(
		&p.Code, &p.PropertyType, &p.PropertySubtype, &p.Description, &p.Address,
		&p.Neighborhood, &p.City, &p.Region, &p.PostalCode,
		&p.Price, &p.AppraisedValue, &p.DiscountPercent,
		&p.TotalArea, &p.PrivateArea, &p.LotArea, &p.Bedrooms,
		&p.SaleModality, &p.ListingLink, &p.Latitude, &p.Longitude,
		&p.ImageURL, &p.CachedImageURL, &p.CachedImageID, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
