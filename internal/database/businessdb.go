package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/bizcrawl/internal/model"
)

// FileName is the name of the database file inside the data directory.
const FileName = "bizcrawl.db"

// BusinessDB stores business records and run reports in SQLite.
type BusinessDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures BusinessDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging so readers do not block the writer.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a BusinessDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*BusinessDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrDatabaseNotFound, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer. The merger serializes per id, so a
	// single connection also keeps load-then-save free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	bdb := &BusinessDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := bdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return bdb, nil
}

// Path returns the database file path.
func (bdb *BusinessDB) Path() string {
	return bdb.dbPath
}

// Close closes the database connection.
func (bdb *BusinessDB) Close() error {
	return bdb.db.Close()
}

func (bdb *BusinessDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS businesses (
		id TEXT PRIMARY KEY,
		source_url TEXT NOT NULL,
		name TEXT,
		address TEXT,
		city TEXT,
		region TEXT,
		postal_code TEXT,
		country TEXT,
		rating REAL,
		review_count INTEGER,
		price_level TEXT,
		phone TEXT,
		website TEXT,
		categories TEXT NOT NULL DEFAULT '[]',
		emails TEXT NOT NULL DEFAULT '[]',
		phones_from_website TEXT NOT NULL DEFAULT '[]',
		social_links TEXT NOT NULL DEFAULT '[]',
		scraped_at TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_businesses_website ON businesses(website);
	CREATE INDEX IF NOT EXISTS idx_businesses_scraped ON businesses(scraped_at);

	-- Run reports store the result of every crawl as JSON
	CREATE TABLE IF NOT EXISTS run_reports (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		report_json TEXT NOT NULL,
		summary TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reports_started ON run_reports(started_at);
	`

	_, err := bdb.db.ExecContext(context.Background(), schema)
	return err
}

const businessColumns = `id, source_url, name, address, city, region, postal_code, country,
	rating, review_count, price_level, phone, website,
	categories, emails, phones_from_website, social_links, scraped_at`

// UpsertNew inserts rec. It returns an error wrapping model.ErrRecordExists
// when a record with the same id is already stored.
func (bdb *BusinessDB) UpsertNew(ctx context.Context, rec *model.BusinessRecord) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}

	query := `INSERT INTO businesses (` + businessColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	result, err := bdb.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert business %s: %w", rec.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert business %s: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("business %s: %w", rec.ID, model.ErrRecordExists)
	}
	return nil
}

// LoadForMerge returns the record stored under id or an error wrapping
// model.ErrRecordNotFound.
func (bdb *BusinessDB) LoadForMerge(ctx context.Context, id string) (*model.BusinessRecord, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE id = ?`

	rec, err := scanRecord(bdb.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("business %s: %w", id, model.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load business %s: %w", id, err)
	}
	return rec, nil
}

// Save overwrites the stored record with rec's id.
// It returns an error wrapping model.ErrRecordNotFound when nothing is stored
// under that id.
func (bdb *BusinessDB) Save(ctx context.Context, rec *model.BusinessRecord) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}

	query := `
	UPDATE businesses SET
		source_url = ?, name = ?, address = ?, city = ?, region = ?, postal_code = ?, country = ?,
		rating = ?, review_count = ?, price_level = ?, phone = ?, website = ?,
		categories = ?, emails = ?, phones_from_website = ?, social_links = ?, scraped_at = ?,
		updated_at = CURRENT_TIMESTAMP
	WHERE id = ?
	`
	// recordArgs starts with the id; the UPDATE takes it last.
	args = append(args[1:], args[0])

	result, err := bdb.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to save business %s: %w", rec.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save business %s: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("business %s: %w", rec.ID, model.ErrRecordNotFound)
	}
	return nil
}

// ListWithWebsite returns every record with a non-empty website, oldest first.
func (bdb *BusinessDB) ListWithWebsite(ctx context.Context) ([]*model.BusinessRecord, error) {
	return bdb.queryRecords(ctx, `SELECT `+businessColumns+` FROM businesses
	WHERE website IS NOT NULL AND website != ''
	ORDER BY scraped_at, id`)
}

// List returns every stored record, oldest first.
func (bdb *BusinessDB) List(ctx context.Context) ([]*model.BusinessRecord, error) {
	return bdb.queryRecords(ctx, `SELECT `+businessColumns+` FROM businesses ORDER BY scraped_at, id`)
}

// KnownSourceURLs returns the detail-page URL of every stored record.
func (bdb *BusinessDB) KnownSourceURLs(ctx context.Context) ([]string, error) {
	rows, err := bdb.db.QueryContext(ctx, `SELECT source_url FROM businesses ORDER BY source_url`)
	if err != nil {
		return nil, fmt.Errorf("failed to list source urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan source url: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// Count returns the number of stored records.
func (bdb *BusinessDB) Count(ctx context.Context) (int, error) {
	var n int
	if err := bdb.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM businesses`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count businesses: %w", err)
	}
	return n, nil
}

func (bdb *BusinessDB) queryRecords(ctx context.Context, query string, args ...any) ([]*model.BusinessRecord, error) {
	rows, err := bdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query businesses: %w", err)
	}
	defer rows.Close()

	var records []*model.BusinessRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan business: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveRunReport stores the report of a run, replacing an earlier save of the
// same run.
func (bdb *BusinessDB) SaveRunReport(ctx context.Context, report *model.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}
	summaryJSON, err := json.Marshal(report.Summary)
	if err != nil {
		return fmt.Errorf("failed to serialize summary: %w", err)
	}

	var finished sql.NullString
	if !report.FinishedAt.IsZero() {
		finished = sql.NullString{String: report.FinishedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	query := `
	INSERT INTO run_reports (id, started_at, finished_at, report_json, summary)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		finished_at = excluded.finished_at,
		report_json = excluded.report_json,
		summary = excluded.summary
	`
	_, err = bdb.db.ExecContext(ctx, query,
		report.RunID,
		report.StartedAt.UTC().Format(time.RFC3339Nano),
		finished,
		string(reportJSON),
		string(summaryJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save run report: %w", err)
	}
	return nil
}

// LatestRunReport returns the most recently started run, or nil when no run
// was stored yet.
func (bdb *BusinessDB) LatestRunReport(ctx context.Context) (*model.RunReport, error) {
	var reportJSON string
	err := bdb.db.QueryRowContext(ctx,
		`SELECT report_json FROM run_reports ORDER BY started_at DESC LIMIT 1`,
	).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // no run yet is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run report: %w", err)
	}

	var report model.RunReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to parse run report: %w", err)
	}
	return &report, nil
}

// recordArgs returns the column values of rec in businessColumns order.
func recordArgs(rec *model.BusinessRecord) ([]any, error) {
	if rec == nil || rec.ID == "" {
		return nil, ErrMissingID
	}
	sets := []model.StringSet{rec.Categories, rec.Emails, rec.PhonesFromWebsite, rec.SocialLinks}
	encoded := make([]any, 0, len(sets))
	for _, set := range sets {
		b, err := json.Marshal(set)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize business %s: %w", rec.ID, err)
		}
		encoded = append(encoded, string(b))
	}

	args := []any{
		rec.ID,
		rec.SourceURL,
		nullString(rec.Name),
		nullString(rec.Address),
		nullString(rec.City),
		nullString(rec.Region),
		nullString(rec.PostalCode),
		nullString(rec.Country),
		nullFloat(rec.Rating),
		nullInt(rec.ReviewCount),
		nullString(rec.PriceLevel),
		nullString(rec.Phone),
		nullString(rec.Website),
	}
	args = append(args, encoded...)
	return append(args, rec.ScrapedAt.UTC().Format(time.RFC3339Nano)), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.BusinessRecord, error) {
	var (
		rec                                     model.BusinessRecord
		name, address, city, region, postalCode sql.NullString
		country, priceLevel, phone, website     sql.NullString
		rating                                  sql.NullFloat64
		reviewCount                             sql.NullInt64
		categories, emails, phones, social      string
		scrapedAt                               string
	)
	err := row.Scan(
		&rec.ID, &rec.SourceURL,
		&name, &address, &city, &region, &postalCode, &country,
		&rating, &reviewCount, &priceLevel, &phone, &website,
		&categories, &emails, &phones, &social, &scrapedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Name = fromNullString(name)
	rec.Address = fromNullString(address)
	rec.City = fromNullString(city)
	rec.Region = fromNullString(region)
	rec.PostalCode = fromNullString(postalCode)
	rec.Country = fromNullString(country)
	rec.PriceLevel = fromNullString(priceLevel)
	rec.Phone = fromNullString(phone)
	rec.Website = fromNullString(website)
	if rating.Valid {
		v := rating.Float64
		rec.Rating = &v
	}
	if reviewCount.Valid {
		v := int(reviewCount.Int64)
		rec.ReviewCount = &v
	}

	for _, f := range []struct {
		raw string
		dst *model.StringSet
	}{
		{categories, &rec.Categories},
		{emails, &rec.Emails},
		{phones, &rec.PhonesFromWebsite},
		{social, &rec.SocialLinks},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("failed to parse sets of business %s: %w", rec.ID, err)
		}
	}
	rec.InitContactSets()
	rec.ScrapedAt = parseTimestamp(scrapedAt)
	return &rec, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999",
}

// parseTimestamp parses s with the first matching format, or returns the
// zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
