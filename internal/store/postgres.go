package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/baza-td/stroyparser/internal/db"
	"github.com/baza-td/stroyparser/internal/merge"
	"github.com/baza-td/stroyparser/internal/model"
	"github.com/baza-td/stroyparser/internal/resilience"
)

// PostgresGateway implements Gateway on a pgx connection pool. Upsert
// serializes writers per tax ID with SELECT ... FOR UPDATE inside a
// transaction; a lost insert race surfaces as ConflictError and is retried.
type PostgresGateway struct {
	pool    db.Pool
	closeFn func()
	retry   resilience.RetryConfig
	now     func() time.Time
}

// NewPostgres connects to PostgreSQL and returns a gateway.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresGateway, error) {
	pool, err := db.NewPool(ctx, connString, poolCfg)
	if err != nil {
		return nil, err
	}
	g := newPostgresGateway(pool)
	g.closeFn = pool.Close
	return g, nil
}

func newPostgresGateway(pool db.Pool) *PostgresGateway {
	retry := resilience.DefaultRetryConfig()
	retry.InitialBackoff = 10 * time.Millisecond
	retry.MaxBackoff = 200 * time.Millisecond
	retry.ShouldRetry = IsConflict
	retry.OnRetry = func(attempt int, err error) {
		zap.L().Debug("store: retrying upsert after conflict", zap.Int("attempt", attempt), zap.Error(err))
	}
	return &PostgresGateway{pool: pool, retry: retry, now: time.Now}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id                   BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	tax_id               TEXT NOT NULL,
	ogrn                 TEXT NOT NULL DEFAULT '',
	name                 TEXT NOT NULL DEFAULT '',
	address              TEXT NOT NULL DEFAULT '',
	city                 TEXT NOT NULL DEFAULT '',
	website              TEXT NOT NULL DEFAULT '',
	email                TEXT NOT NULL DEFAULT '',
	phones               TEXT[] NOT NULL DEFAULT '{}',
	ring                 INT NOT NULL DEFAULT 0,
	priority             TEXT NOT NULL DEFAULT '',
	category             TEXT NOT NULL DEFAULT '',
	okved                TEXT NOT NULL DEFAULT '',
	source               TEXT NOT NULL DEFAULT '',
	distance_km          INT,
	revenue              BIGINT,
	profit               BIGINT,
	employee_count       INT,
	founders             TEXT[],
	court_cases          INT,
	government_contracts INT,
	last_enriched_at     TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT companies_tax_id_key UNIQUE (tax_id)
);

CREATE INDEX IF NOT EXISTS idx_companies_city ON companies(city);
CREATE INDEX IF NOT EXISTS idx_companies_ring ON companies(ring);
CREATE INDEX IF NOT EXISTS idx_companies_priority ON companies(priority);

CREATE TABLE IF NOT EXISTS searches (
	id           BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	query        TEXT NOT NULL,
	city         TEXT NOT NULL DEFAULT '',
	ring         INT NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'pending',
	result_count INT NOT NULL DEFAULT 0,
	latency_ms   INT NOT NULL DEFAULT 0,
	session_id   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_searches_created_at ON searches(created_at DESC);

CREATE TABLE IF NOT EXISTS search_results (
	search_id  BIGINT NOT NULL REFERENCES searches(id),
	company_id BIGINT NOT NULL REFERENCES companies(id),
	rank       INT NOT NULL DEFAULT 0,
	PRIMARY KEY (search_id, company_id)
);

CREATE TABLE IF NOT EXISTS cities (
	id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	ring        INT NOT NULL,
	distance_km INT NOT NULL DEFAULT 0
);
`

// Migrate applies the schema. Idempotent.
func (g *PostgresGateway) Migrate(ctx context.Context) error {
	if _, err := g.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "store: migrate")
	}
	return nil
}

const companyColumns = `id, tax_id, ogrn, name, address, city, website, email, phones,
	ring, priority, category, okved, source, distance_km,
	revenue, profit, employee_count, founders, court_cases, government_contracts, last_enriched_at,
	created_at, updated_at`

// companyDests returns scan destinations for a CompanyRecord, in
// companyColumns order.
func companyDests(c *model.CompanyRecord) []any {
	return []any{
		&c.ID, &c.TaxID, &c.OGRN, &c.Name, &c.Address, &c.City, &c.Website, &c.Email, &c.Phones,
		&c.Ring, &c.Priority, &c.Category, &c.OKVED, &c.Source, &c.DistanceKM,
		&c.Revenue, &c.Profit, &c.EmployeeCount, &c.Founders, &c.CourtCases, &c.GovernmentContracts, &c.LastEnrichedAt,
		&c.CreatedAt, &c.UpdatedAt,
	}
}

func scanCompanies(rows pgx.Rows) ([]model.CompanyRecord, error) {
	var companies []model.CompanyRecord
	for rows.Next() {
		var c model.CompanyRecord
		if err := rows.Scan(companyDests(&c)...); err != nil {
			return nil, eris.Wrap(err, "store: scan company")
		}
		companies = append(companies, c)
	}
	return companies, rows.Err()
}

// Upsert merges in into the record for in.TaxID, retrying lost insert races.
func (g *PostgresGateway) Upsert(ctx context.Context, in model.Partial) (*model.CompanyRecord, bool, error) {
	if in.TaxID == "" {
		return nil, false, eris.New("store: upsert without tax id")
	}
	type result struct {
		rec     *model.CompanyRecord
		created bool
	}
	res, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (result, error) {
		rec, created, err := g.tryUpsert(ctx, in)
		return result{rec: rec, created: created}, err
	})
	if err != nil {
		return nil, false, err
	}
	return res.rec, res.created, nil
}

func (g *PostgresGateway) tryUpsert(ctx context.Context, in model.Partial) (*model.CompanyRecord, bool, error) {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "store: upsert: begin")
	}
	defer tx.Rollback(ctx)

	existing := &model.CompanyRecord{}
	err = tx.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE tax_id=$1 FOR UPDATE`,
		in.TaxID,
	).Scan(companyDests(existing)...)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		existing = nil
	case err != nil:
		return nil, false, eris.Wrapf(err, "store: upsert: lock %s", in.TaxID)
	}

	merged, err := merge.Apply(existing, in, g.now())
	if err != nil {
		return nil, false, err
	}

	created := existing == nil
	if created {
		if err := g.insertCompany(ctx, tx, merged); err != nil {
			return nil, false, err
		}
	} else {
		if err := g.updateCompany(ctx, tx, merged); err != nil {
			return nil, false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, eris.Wrap(err, "store: upsert: commit")
	}
	return merged, created, nil
}

func (g *PostgresGateway) insertCompany(ctx context.Context, tx pgx.Tx, c *model.CompanyRecord) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO companies (
			tax_id, ogrn, name, address, city, website, email, phones,
			ring, priority, category, okved, source, distance_km,
			revenue, profit, employee_count, founders, court_cases, government_contracts, last_enriched_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21
		)
		ON CONFLICT (tax_id) DO NOTHING
		RETURNING id, created_at, updated_at`,
		c.TaxID, c.OGRN, c.Name, c.Address, c.City, c.Website, c.Email, c.Phones,
		c.Ring, c.Priority, c.Category, c.OKVED, c.Source, c.DistanceKM,
		c.Revenue, c.Profit, c.EmployeeCount, c.Founders, c.CourtCases, c.GovernmentContracts, c.LastEnrichedAt,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		// DO NOTHING returns no row when a concurrent insert won the race
		// between our FOR UPDATE miss and this statement.
		if errors.Is(err, pgx.ErrNoRows) {
			return &ConflictError{TaxID: c.TaxID}
		}
		return eris.Wrapf(classifyPgError(err, c.TaxID), "store: upsert: insert %s", c.TaxID)
	}
	return nil
}

func (g *PostgresGateway) updateCompany(ctx context.Context, tx pgx.Tx, c *model.CompanyRecord) error {
	err := tx.QueryRow(ctx, `
		UPDATE companies SET
			ogrn=$2, name=$3, address=$4, city=$5, website=$6, email=$7, phones=$8,
			ring=$9, priority=$10, category=$11, okved=$12, source=$13, distance_km=$14,
			revenue=$15, profit=$16, employee_count=$17, founders=$18,
			court_cases=$19, government_contracts=$20, last_enriched_at=$21,
			updated_at=now()
		WHERE id=$1
		RETURNING updated_at`,
		c.ID,
		c.OGRN, c.Name, c.Address, c.City, c.Website, c.Email, c.Phones,
		c.Ring, c.Priority, c.Category, c.OKVED, c.Source, c.DistanceKM,
		c.Revenue, c.Profit, c.EmployeeCount, c.Founders,
		c.CourtCases, c.GovernmentContracts, c.LastEnrichedAt,
	).Scan(&c.UpdatedAt)
	if err != nil {
		return eris.Wrapf(classifyPgError(err, c.TaxID), "store: upsert: update %s", c.TaxID)
	}
	return nil
}

// GetByTaxID fetches the record for taxID or ErrNotFound.
func (g *PostgresGateway) GetByTaxID(ctx context.Context, taxID string) (*model.CompanyRecord, error) {
	c := &model.CompanyRecord{}
	err := g.pool.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE tax_id=$1`, taxID,
	).Scan(companyDests(c)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "store: get %s", taxID)
	}
	return c, nil
}

// ListCompanies returns records matching the filter, newest first.
func (g *PostgresGateway) ListCompanies(ctx context.Context, f model.CompanyFilter) ([]model.CompanyRecord, error) {
	where, args := companyFilterSQL(f)
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, f.Offset)
	sql := fmt.Sprintf(
		`SELECT %s FROM companies %s ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`,
		companyColumns, where, len(args)-1, len(args),
	)
	rows, err := g.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list companies")
	}
	defer rows.Close()
	return scanCompanies(rows)
}

// companyFilterSQL builds the WHERE clause for a CompanyFilter using
// positional arguments starting at $1.
func companyFilterSQL(f model.CompanyFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.City != "" {
		add("city = $%d", f.City)
	}
	if f.Ring > 0 {
		add("ring = $%d", f.Ring)
	}
	if f.Priority != "" {
		add("priority = $%d", string(f.Priority))
	}
	if f.HasPhone != nil {
		if *f.HasPhone {
			conds = append(conds, "cardinality(phones) > 0")
		} else {
			conds = append(conds, "cardinality(phones) = 0")
		}
	}
	if f.HasEmail != nil {
		if *f.HasEmail {
			conds = append(conds, "email <> ''")
		} else {
			conds = append(conds, "email = ''")
		}
	}
	if len(conds) == 0 {
		return "", args
	}
	where := "WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

// Stats summarizes the stored record set.
func (g *PostgresGateway) Stats(ctx context.Context) (model.Stats, error) {
	var s model.Stats
	err := g.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE priority = 'A'),
			COUNT(*) FILTER (WHERE priority = 'B'),
			COUNT(*) FILTER (WHERE priority = 'C'),
			COUNT(*) FILTER (WHERE cardinality(phones) > 0),
			COUNT(*) FILTER (WHERE email <> '')
		FROM companies`,
	).Scan(&s.Total, &s.PriorityA, &s.PriorityB, &s.PriorityC, &s.WithPhone, &s.WithEmail)
	if err != nil {
		return model.Stats{}, eris.Wrap(err, "store: stats")
	}
	return s, nil
}

// RecordSearch creates a pending search record.
func (g *PostgresGateway) RecordSearch(ctx context.Context, query, city string, ring int, sessionID string) (int64, error) {
	var id int64
	err := g.pool.QueryRow(ctx, `
		INSERT INTO searches (query, city, ring, session_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		query, city, ring, sessionID,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "store: record search")
	}
	return id, nil
}

// CompleteSearch finalizes a pending search. Finalized records never change,
// so the guard on status makes a duplicate call a no-op.
func (g *PostgresGateway) CompleteSearch(ctx context.Context, id int64, status model.SearchStatus, resultCount, latencyMS int) error {
	_, err := g.pool.Exec(ctx, `
		UPDATE searches SET status=$2, result_count=$3, latency_ms=$4
		WHERE id=$1 AND status='pending'`,
		id, string(status), resultCount, latencyMS,
	)
	if err != nil {
		return eris.Wrapf(err, "store: complete search %d", id)
	}
	return nil
}

// LinkResult records that a search surfaced the company stored under taxID.
// The company ID is resolved in-statement so the link and the lookup cannot
// disagree about which row holds the tax ID.
func (g *PostgresGateway) LinkResult(ctx context.Context, searchID int64, taxID string, rank int) error {
	tag, err := g.pool.Exec(ctx, `
		INSERT INTO search_results (search_id, company_id, rank)
		SELECT $1, c.id, $2 FROM companies c WHERE c.tax_id = $3
		ON CONFLICT (search_id, company_id) DO NOTHING`,
		searchID, rank, taxID,
	)
	if err != nil {
		return eris.Wrapf(err, "store: link result %d -> %s", searchID, taxID)
	}
	if tag.RowsAffected() == 0 {
		// Either the company vanished or the link already exists; only the
		// former is a problem, and it means the upsert never landed.
		if _, err := g.GetByTaxID(ctx, taxID); errors.Is(err, ErrNotFound) {
			return eris.Wrapf(err, "store: link result %d -> %s", searchID, taxID)
		}
	}
	return nil
}

// RecentSearches lists finished and in-flight searches, newest first.
func (g *PostgresGateway) RecentSearches(ctx context.Context, limit int) ([]model.SearchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := g.pool.Query(ctx, `
		SELECT id, query, city, ring, status, result_count, latency_ms, session_id, created_at
		FROM searches ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: recent searches")
	}
	defer rows.Close()

	var searches []model.SearchRecord
	for rows.Next() {
		var s model.SearchRecord
		if err := rows.Scan(&s.ID, &s.Query, &s.City, &s.Ring, &s.Status, &s.ResultCount, &s.LatencyMS, &s.SessionID, &s.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan search")
		}
		searches = append(searches, s)
	}
	return searches, rows.Err()
}

// SeedCities bulk-upserts the city ring table keyed by name.
func (g *PostgresGateway) SeedCities(ctx context.Context, cities []model.City) error {
	rows := make([][]any, 0, len(cities))
	for _, c := range cities {
		rows = append(rows, []any{c.Name, c.Ring, c.DistanceKM})
	}
	_, err := db.BulkUpsert(ctx, g.pool, db.UpsertConfig{
		Table:        "cities",
		Columns:      []string{"name", "ring", "distance_km"},
		ConflictKeys: []string{"name"},
	}, rows)
	if err != nil {
		return eris.Wrap(err, "store: seed cities")
	}
	return nil
}

// ListCities returns the city ring table ordered by ring, then distance.
func (g *PostgresGateway) ListCities(ctx context.Context) ([]model.City, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT id, name, ring, distance_km FROM cities ORDER BY ring, distance_km, name`)
	if err != nil {
		return nil, eris.Wrap(err, "store: list cities")
	}
	defer rows.Close()

	var cities []model.City
	for rows.Next() {
		var c model.City
		if err := rows.Scan(&c.ID, &c.Name, &c.Ring, &c.DistanceKM); err != nil {
			return nil, eris.Wrap(err, "store: scan city")
		}
		cities = append(cities, c)
	}
	return cities, rows.Err()
}

// Close releases the connection pool.
func (g *PostgresGateway) Close() error {
	if g.closeFn != nil {
		g.closeFn()
	}
	return nil
}
