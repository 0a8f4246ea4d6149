package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/imovelmapa/imovsync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	price            TEXT NOT NULL DEFAULT '0',
	appraised_value  TEXT NOT NULL DEFAULT '0',
	discount_percent TEXT NOT NULL DEFAULT '0',
	total_area       TEXT,
	private_area     TEXT,
	lot_area         TEXT,
	bedrooms         INTEGER,
	sale_modality    TEXT NOT NULL DEFAULT '',
	listing_link     TEXT NOT NULL DEFAULT '',
	latitude         REAL,
	longitude        REAL,
	image_url        TEXT NOT NULL DEFAULT '',
	cached_image_url TEXT,
	cached_image_id  TEXT,
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_properties_region ON properties(region);
CREATE INDEX IF NOT EXISTS idx_properties_city ON properties(city);
CREATE INDEX IF NOT EXISTS idx_properties_type ON properties(property_type);

CREATE TABLE IF NOT EXISTS import_runs (
	id          TEXT PRIMARY KEY,
	regions     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	summary     TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_import_runs_started_at ON import_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CodesByRegion(ctx context.Context, region string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code FROM properties WHERE region = ?`, region)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: codes for %s", region)
	}
	defer rows.Close()

	codes := make(map[string]struct{})
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan code")
		}
		codes[code] = struct{}{}
	}
	return codes, eris.Wrapf(rows.Err(), "sqlite: codes for %s iterate", region)
}

func (s *SQLiteStore) GetByCode(ctx context.Context, code string) (*model.Property, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE code = ?`, code)

	p, err := scanSQLiteProperty(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s", code)
	}
	return p, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, p *model.Property) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO properties (`+propertyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code) DO UPDATE SET
			property_type = excluded.property_type,
			property_subtype = excluded.property_subtype,
			description = excluded.description,
			address = excluded.address,
			neighborhood = excluded.neighborhood,
			city = excluded.city,
			region = excluded.region,
			postal_code = excluded.postal_code,
			price = excluded.price,
			appraised_value = excluded.appraised_value,
			discount_percent = excluded.discount_percent,
			total_area = excluded.total_area,
			private_area = excluded.private_area,
			lot_area = excluded.lot_area,
			bedrooms = excluded.bedrooms,
			sale_modality = excluded.sale_modality,
			listing_link = excluded.listing_link,
			image_url = excluded.image_url,
			updated_at = excluded.updated_at`,
		p.Code, p.PropertyType, p.PropertySubtype, p.Description, p.Address,
		p.Neighborhood, p.City, p.Region, p.PostalCode,
		p.Price.String(), p.AppraisedValue.String(), p.DiscountPercent.String(),
		decStringPtr(p.TotalArea), decStringPtr(p.PrivateArea), decStringPtr(p.LotArea), p.Bedrooms,
		p.SaleModality, p.ListingLink, p.Latitude, p.Longitude,
		p.ImageURL, p.CachedImageURL, p.CachedImageID, now,
	)
	return eris.Wrapf(err, "sqlite: upsert %s", p.Code)
}

func (s *SQLiteStore) BulkDeleteByCodes(ctx context.Context, region string, codes []string) (int, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat(",?", len(codes))[1:]
	args := make([]any, 0, len(codes)+1)
	args = append(args, region)
	for _, c := range codes {
		args = append(args, c)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM properties WHERE region = ? AND code IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete codes for %s", region)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) SetCoordinates(ctx context.Context, code string, lat, lon float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE properties SET latitude = ?, longitude = ?, updated_at = ? WHERE code = ?`,
		lat, lon, time.Now().UTC(), code,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set coordinates %s", code)
	}
	return checkRowsAffected(res, "property", code)
}

func (s *SQLiteStore) SetImage(ctx context.Context, code, url, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE properties SET cached_image_url = ?, cached_image_id = ?, updated_at = ? WHERE code = ?`,
		url, id, time.Now().UTC(), code,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set image %s", code)
	}
	return checkRowsAffected(res, "property", code)
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]model.Property, int, error) {
	where, args := buildSQLiteWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM properties`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count listings")
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query := `SELECT ` + propertyColumns + ` FROM properties` + where +
		` ORDER BY CAST(discount_percent AS REAL) DESC, code LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list listings")
	}
	defer rows.Close()

	var props []model.Property
	for rows.Next() {
		p, err := scanSQLiteProperty(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan listing")
		}
		props = append(props, *p)
	}
	return props, total, eris.Wrap(rows.Err(), "sqlite: list listings iterate")
}

func buildSQLiteWhere(filter ListFilter) (string, []any) {
	clauses := []string{}
	args := []any{}

	inClause := func(col string, values []string) {
		placeholders := strings.Repeat(",?", len(values))[1:]
		clauses = append(clauses, col+` IN (`+placeholders+`)`)
		for _, v := range values {
			args = append(args, v)
		}
	}

	if len(filter.Regions) > 0 {
		inClause("region", filter.Regions)
	}
	if len(filter.Cities) > 0 {
		inClause("city", filter.Cities)
	}
	if len(filter.Neighborhoods) > 0 {
		inClause("neighborhood", filter.Neighborhoods)
	}
	if len(filter.Types) > 0 {
		inClause("property_type", filter.Types)
	}
	if filter.Code != "" {
		clauses = append(clauses, `code = ?`)
		args = append(args, filter.Code)
	}
	if filter.PriceMin != nil {
		clauses = append(clauses, `CAST(price AS REAL) >= ?`)
		args = append(args, filter.PriceMin.InexactFloat64())
	}
	if filter.PriceMax != nil {
		clauses = append(clauses, `CAST(price AS REAL) <= ?`)
		args = append(args, filter.PriceMax.InexactFloat64())
	}
	if filter.DiscountMin != nil {
		clauses = append(clauses, `CAST(discount_percent AS REAL) >= ?`)
		args = append(args, filter.DiscountMin.InexactFloat64())
	}
	if filter.BedroomsMin != nil {
		clauses = append(clauses, `bedrooms >= ?`)
		args = append(args, *filter.BedroomsMin)
	}
	if filter.RequireCoordinates {
		clauses = append(clauses, `latitude IS NOT NULL AND longitude IS NOT NULL AND (latitude <> 0 OR longitude <> 0)`)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *SQLiteStore) CountAll(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM properties`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count all")
}

func (s *SQLiteStore) Regions(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, `SELECT DISTINCT region FROM properties ORDER BY region`)
}

func (s *SQLiteStore) Cities(ctx context.Context, region string) ([]string, error) {
	return s.distinct(ctx,
		`SELECT DISTINCT city FROM properties WHERE region = ? AND city <> '' ORDER BY city`, region)
}

func (s *SQLiteStore) Neighborhoods(ctx context.Context, city string) ([]string, error) {
	return s.distinct(ctx,
		`SELECT DISTINCT neighborhood FROM properties WHERE city = ? AND neighborhood <> '' ORDER BY neighborhood`, city)
}

func (s *SQLiteStore) Types(ctx context.Context) ([]string, error) {
	return s.distinct(ctx,
		`SELECT DISTINCT property_type FROM properties WHERE property_type <> '' ORDER BY property_type`)
}

func (s *SQLiteStore) distinct(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: distinct query")
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan distinct value")
		}
		values = append(values, v)
	}
	return values, eris.Wrap(rows.Err(), "sqlite: distinct iterate")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, regions []string) (*model.ImportRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	regionsJSON, err := json.Marshal(regions)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal regions")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO import_runs (id, regions, status, started_at) VALUES (?, ?, ?, ?)`,
		id, string(regionsJSON), string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.ImportRun{
		ID:        id,
		Regions:   regions,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary model.ImportSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE import_runs SET status = ?, summary = ?, finished_at = ? WHERE id = ?`,
		string(status), string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.ImportRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, regions, status, summary, started_at, finished_at FROM import_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.ImportRun
	for rows.Next() {
		var r model.ImportRun
		var regionsJSON string
		var summaryJSON sql.NullString
		var finishedAt sql.NullTime

		if err := rows.Scan(&r.ID, &regionsJSON, &r.Status, &summaryJSON, &r.StartedAt, &finishedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if err := json.Unmarshal([]byte(regionsJSON), &r.Regions); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal regions")
		}
		if summaryJSON.Valid {
			if err := json.Unmarshal([]byte(summaryJSON.String), &r.Summary); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal summary")
			}
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func decStringPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteProperty(row scannable) (*model.Property, error) {
	var p model.Property
	var price, appraised, discount string
	var totalArea, privateArea, lotArea sql.NullString
	var bedrooms sql.NullInt64
	var lat, lon sql.NullFloat64
	var cachedURL, cachedID sql.NullString

	err := row.Scan(
		&p.Code, &p.PropertyType, &p.PropertySubtype, &p.Description, &p.Address,
		&p.Neighborhood, &p.City, &p.Region, &p.PostalCode,
		&price, &appraised, &discount,
		&totalArea, &privateArea, &lotArea, &bedrooms,
		&p.SaleModality, &p.ListingLink, &lat, &lon,
		&p.ImageURL, &cachedURL, &cachedID, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse price")
	}
	if p.AppraisedValue, err = decimal.NewFromString(appraised); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse appraised value")
	}
	if p.DiscountPercent, err = decimal.NewFromString(discount); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse discount")
	}
	if p.TotalArea, err = nullDecimal(totalArea); err != nil {
		return nil, err
	}
	if p.PrivateArea, err = nullDecimal(privateArea); err != nil {
		return nil, err
	}
	if p.LotArea, err = nullDecimal(lotArea); err != nil {
		return nil, err
	}
	if bedrooms.Valid {
		n := int(bedrooms.Int64)
		p.Bedrooms = &n
	}
	if lat.Valid {
		p.Latitude = &lat.Float64
	}
	if lon.Valid {
		p.Longitude = &lon.Float64
	}
	if cachedURL.Valid {
		p.CachedImageURL = &cachedURL.String
	}
	if cachedID.Valid {
		p.CachedImageID = &cachedID.String
	}
	return &p, nil
}

func nullDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: parse decimal")
	}
	return &d, nil
}
