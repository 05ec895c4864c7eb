package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/baza-td/stroyparser/internal/merge"
	"github.com/baza-td/stroyparser/internal/model"
)

// SQLiteGateway implements Gateway on an embedded modernc.org/sqlite
// database. SQLite has no row locks, so writers for the same tax ID are
// serialized in-process with a per-key mutex instead.
type SQLiteGateway struct {
	db    *sql.DB
	locks sync.Map // tax_id -> *sync.Mutex
	now   func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteGateway, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteGateway{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	tax_id               TEXT NOT NULL UNIQUE,
	ogrn                 TEXT NOT NULL DEFAULT '',
	name                 TEXT NOT NULL DEFAULT '',
	address              TEXT NOT NULL DEFAULT '',
	city                 TEXT NOT NULL DEFAULT '',
	website              TEXT NOT NULL DEFAULT '',
	email                TEXT NOT NULL DEFAULT '',
	phones               TEXT NOT NULL DEFAULT '[]',
	ring                 INTEGER NOT NULL DEFAULT 0,
	priority             TEXT NOT NULL DEFAULT '',
	category             TEXT NOT NULL DEFAULT '',
	okved                TEXT NOT NULL DEFAULT '',
	source               TEXT NOT NULL DEFAULT '',
	distance_km          INTEGER,
	revenue              INTEGER,
	profit               INTEGER,
	employee_count       INTEGER,
	founders             TEXT,
	court_cases          INTEGER,
	government_contracts INTEGER,
	last_enriched_at     DATETIME,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_companies_city ON companies(city);
CREATE INDEX IF NOT EXISTS idx_companies_ring ON companies(ring);
CREATE INDEX IF NOT EXISTS idx_companies_priority ON companies(priority);

CREATE TABLE IF NOT EXISTS searches (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	query        TEXT NOT NULL,
	city         TEXT NOT NULL DEFAULT '',
	ring         INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'pending',
	result_count INTEGER NOT NULL DEFAULT 0,
	latency_ms   INTEGER NOT NULL DEFAULT 0,
	session_id   TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS search_results (
	search_id  INTEGER NOT NULL REFERENCES searches(id),
	company_id INTEGER NOT NULL REFERENCES companies(id),
	rank       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (search_id, company_id)
);

CREATE TABLE IF NOT EXISTS cities (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL UNIQUE,
	ring        INTEGER NOT NULL,
	distance_km INTEGER NOT NULL DEFAULT 0
);
`

// Migrate applies the schema. Idempotent.
func (g *SQLiteGateway) Migrate(ctx context.Context) error {
	_, err := g.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (g *SQLiteGateway) Close() error {
	return g.db.Close()
}

func (g *SQLiteGateway) lockTaxID(taxID string) func() {
	v, _ := g.locks.LoadOrStore(taxID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Upsert merges in into the record keyed by in.TaxID under that key's mutex.
func (g *SQLiteGateway) Upsert(ctx context.Context, in model.Partial) (*model.CompanyRecord, bool, error) {
	if in.TaxID == "" {
		return nil, false, eris.New("sqlite: upsert without tax id")
	}
	unlock := g.lockTaxID(in.TaxID)
	defer unlock()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: upsert: begin")
	}
	defer tx.Rollback()

	existing, err := getCompanySQLite(ctx, tx, in.TaxID)
	if err != nil {
		return nil, false, err
	}

	merged, err := merge.Apply(existing, in, g.now())
	if err != nil {
		return nil, false, err
	}

	created := existing == nil
	if created {
		if err := insertCompanySQLite(ctx, tx, merged); err != nil {
			return nil, false, err
		}
	} else {
		if err := updateCompanySQLite(ctx, tx, merged); err != nil {
			return nil, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: upsert: commit")
	}
	return merged, created, nil
}

// GetByTaxID fetches the record for taxID or ErrNotFound.
func (g *SQLiteGateway) GetByTaxID(ctx context.Context, taxID string) (*model.CompanyRecord, error) {
	c, err := getCompanySQLite(ctx, g.db, taxID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const sqliteCompanyColumns = `id, tax_id, ogrn, name, address, city, website, email, phones,
	ring, priority, category, okved, source, distance_km,
	revenue, profit, employee_count, founders, court_cases, government_contracts, last_enriched_at,
	created_at, updated_at`

func getCompanySQLite(ctx context.Context, q querier, taxID string) (*model.CompanyRecord, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+sqliteCompanyColumns+` FROM companies WHERE tax_id = ?`, taxID)
	c, err := scanCompanySQLite(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get %s", taxID)
	}
	return c, nil
}

func scanCompanySQLite(scan func(dest ...any) error) (*model.CompanyRecord, error) {
	var (
		c             model.CompanyRecord
		phonesJSON    string
		foundersJSON  sql.NullString
		priority      string
		distanceKM    sql.NullInt64
		revenue       sql.NullInt64
		profit        sql.NullInt64
		employeeCount sql.NullInt64
		courtCases    sql.NullInt64
		govContracts  sql.NullInt64
		enrichedAt    sql.NullTime
	)
	err := scan(
		&c.ID, &c.TaxID, &c.OGRN, &c.Name, &c.Address, &c.City, &c.Website, &c.Email, &phonesJSON,
		&c.Ring, &priority, &c.Category, &c.OKVED, &c.Source, &distanceKM,
		&revenue, &profit, &employeeCount, &foundersJSON, &courtCases, &govContracts, &enrichedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Priority = model.Priority(priority)
	if err := json.Unmarshal([]byte(phonesJSON), &c.Phones); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode phones")
	}
	if foundersJSON.Valid && foundersJSON.String != "" {
		if err := json.Unmarshal([]byte(foundersJSON.String), &c.Founders); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode founders")
		}
	}
	c.DistanceKM = nullInt(distanceKM)
	c.Revenue = nullInt64(revenue)
	c.Profit = nullInt64(profit)
	c.EmployeeCount = nullInt(employeeCount)
	c.CourtCases = nullInt(courtCases)
	c.GovernmentContracts = nullInt(govContracts)
	if enrichedAt.Valid {
		t := enrichedAt.Time
		c.LastEnrichedAt = &t
	}
	return &c, nil
}

func insertCompanySQLite(ctx context.Context, q querier, c *model.CompanyRecord) error {
	phones, founders, err := encodeLists(c)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := q.ExecContext(ctx, `
		INSERT INTO companies (
			tax_id, ogrn, name, address, city, website, email, phones,
			ring, priority, category, okved, source, distance_km,
			revenue, profit, employee_count, founders, court_cases, government_contracts, last_enriched_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.TaxID, c.OGRN, c.Name, c.Address, c.City, c.Website, c.Email, phones,
		c.Ring, string(c.Priority), c.Category, c.OKVED, c.Source, c.DistanceKM,
		c.Revenue, c.Profit, c.EmployeeCount, founders, c.CourtCases, c.GovernmentContracts, c.LastEnrichedAt,
		now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert %s", c.TaxID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: insert id")
	}
	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func updateCompanySQLite(ctx context.Context, q querier, c *model.CompanyRecord) error {
	phones, founders, err := encodeLists(c)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = q.ExecContext(ctx, `
		UPDATE companies SET
			ogrn=?, name=?, address=?, city=?, website=?, email=?, phones=?,
			ring=?, priority=?, category=?, okved=?, source=?, distance_km=?,
			revenue=?, profit=?, employee_count=?, founders=?,
			court_cases=?, government_contracts=?, last_enriched_at=?,
			updated_at=?
		WHERE id=?`,
		c.OGRN, c.Name, c.Address, c.City, c.Website, c.Email, phones,
		c.Ring, string(c.Priority), c.Category, c.OKVED, c.Source, c.DistanceKM,
		c.Revenue, c.Profit, c.EmployeeCount, founders,
		c.CourtCases, c.GovernmentContracts, c.LastEnrichedAt,
		now, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update %s", c.TaxID)
	}
	c.UpdatedAt = now
	return nil
}

func encodeLists(c *model.CompanyRecord) (phones string, founders any, err error) {
	p, err := json.Marshal(c.Phones)
	if err != nil {
		return "", nil, eris.Wrap(err, "sqlite: encode phones")
	}
	if c.Phones == nil {
		p = []byte("[]")
	}
	if c.Founders == nil {
		return string(p), nil, nil
	}
	f, err := json.Marshal(c.Founders)
	if err != nil {
		return "", nil, eris.Wrap(err, "sqlite: encode founders")
	}
	return string(p), string(f), nil
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// ListCompanies returns records matching the filter, newest first.
func (g *SQLiteGateway) ListCompanies(ctx context.Context, f model.CompanyFilter) ([]model.CompanyRecord, error) {
	var (
		conds []string
		args  []any
	)
	if f.City != "" {
		conds = append(conds, "city = ?")
		args = append(args, f.City)
	}
	if f.Ring > 0 {
		conds = append(conds, "ring = ?")
		args = append(args, f.Ring)
	}
	if f.Priority != "" {
		conds = append(conds, "priority = ?")
		args = append(args, string(f.Priority))
	}
	if f.HasPhone != nil {
		if *f.HasPhone {
			conds = append(conds, "phones <> '[]'")
		} else {
			conds = append(conds, "phones = '[]'")
		}
	}
	if f.HasEmail != nil {
		if *f.HasEmail {
			conds = append(conds, "email <> ''")
		} else {
			conds = append(conds, "email = ''")
		}
	}
	sqlStr := `SELECT ` + sqliteCompanyColumns + ` FROM companies`
	if len(conds) > 0 {
		sqlStr += " WHERE " + conds[0]
		for _, c := range conds[1:] {
			sqlStr += " AND " + c
		}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	sqlStr += " ORDER BY updated_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := g.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close()

	var companies []model.CompanyRecord
	for rows.Next() {
		c, err := scanCompanySQLite(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		companies = append(companies, *c)
	}
	return companies, rows.Err()
}

// Stats summarizes the stored record set.
func (g *SQLiteGateway) Stats(ctx context.Context) (model.Stats, error) {
	var s model.Stats
	err := g.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN priority = 'A' THEN 1 ELSE 0 END),
			SUM(CASE WHEN priority = 'B' THEN 1 ELSE 0 END),
			SUM(CASE WHEN priority = 'C' THEN 1 ELSE 0 END),
			SUM(CASE WHEN phones <> '[]' THEN 1 ELSE 0 END),
			SUM(CASE WHEN email <> '' THEN 1 ELSE 0 END)
		FROM companies`,
	).Scan(&s.Total, nullSum(&s.PriorityA), nullSum(&s.PriorityB), nullSum(&s.PriorityC), nullSum(&s.WithPhone), nullSum(&s.WithEmail))
	if err != nil {
		return model.Stats{}, eris.Wrap(err, "sqlite: stats")
	}
	return s, nil
}

// nullSum scans SUM() results, which are NULL on an empty table.
func nullSum(dst *int64) *nullSumScanner { return &nullSumScanner{dst: dst} }

type nullSumScanner struct{ dst *int64 }

func (n *nullSumScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n.dst = 0
	case int64:
		*n.dst = v
	default:
		return eris.Errorf("sqlite: unexpected sum type %T", src)
	}
	return nil
}

// RecordSearch creates a pending search record.
func (g *SQLiteGateway) RecordSearch(ctx context.Context, query, city string, ring int, sessionID string) (int64, error) {
	res, err := g.db.ExecContext(ctx, `
		INSERT INTO searches (query, city, ring, session_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		query, city, ring, sessionID, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: record search")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: search id")
	}
	return id, nil
}

// CompleteSearch finalizes a pending search exactly once.
func (g *SQLiteGateway) CompleteSearch(ctx context.Context, id int64, status model.SearchStatus, resultCount, latencyMS int) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE searches SET status=?, result_count=?, latency_ms=?
		WHERE id=? AND status='pending'`,
		string(status), resultCount, latencyMS, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete search %d", id)
	}
	return nil
}

// LinkResult associates a search with the company stored under taxID.
func (g *SQLiteGateway) LinkResult(ctx context.Context, searchID int64, taxID string, rank int) error {
	res, err := g.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO search_results (search_id, company_id, rank)
		SELECT ?, c.id, ? FROM companies c WHERE c.tax_id = ?`,
		searchID, rank, taxID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: link result %d -> %s", searchID, taxID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := g.GetByTaxID(ctx, taxID); err != nil {
			return eris.Wrapf(err, "sqlite: link result %d -> %s", searchID, taxID)
		}
	}
	return nil
}

// RecentSearches lists searches, newest first.
func (g *SQLiteGateway) RecentSearches(ctx context.Context, limit int) ([]model.SearchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, query, city, ring, status, result_count, latency_ms, session_id, created_at
		FROM searches ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent searches")
	}
	defer rows.Close()

	var searches []model.SearchRecord
	for rows.Next() {
		var s model.SearchRecord
		var status string
		if err := rows.Scan(&s.ID, &s.Query, &s.City, &s.Ring, &status, &s.ResultCount, &s.LatencyMS, &s.SessionID, &s.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan search")
		}
		s.Status = model.SearchStatus(status)
		searches = append(searches, s)
	}
	return searches, rows.Err()
}

// SeedCities upserts the city ring table keyed by name.
func (g *SQLiteGateway) SeedCities(ctx context.Context, cities []model.City) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: seed cities: begin")
	}
	defer tx.Rollback()

	for _, c := range cities {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cities (name, ring, distance_km) VALUES (?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET ring=excluded.ring, distance_km=excluded.distance_km`,
			c.Name, c.Ring, c.DistanceKM,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: seed city %s", c.Name)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: seed cities: commit")
}

// ListCities returns the city ring table ordered by ring, then distance.
func (g *SQLiteGateway) ListCities(ctx context.Context) ([]model.City, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, name, ring, distance_km FROM cities ORDER BY ring, distance_km, name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cities")
	}
	defer rows.Close()

	var cities []model.City
	for rows.Next() {
		var c model.City
		if err := rows.Scan(&c.ID, &c.Name, &c.Ring, &c.DistanceKM); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan city")
		}
		cities = append(cities, c)
	}
	return cities, rows.Err()
}
