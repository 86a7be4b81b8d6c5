package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"webcrawler/pkg/models"
	"webcrawler/pkg/utils"
)

const dbFileName = "crawl_results.db"

// SQLiteStore implements ResultStore on a single SQLite database file.
// Statistics are stored as a JSON column so the full record can be
// overwritten in one upsert.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// Open opens or creates the result database under dbDir.
func Open(dbDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: creating database directory: %w", utils.ErrDatabase, err)
	}
	dbPath := filepath.Join(dbDir, dbFileName)

	db, err := sql.Open("sqlite", dbPath+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %w", utils.ErrDatabase, err)
	}

	// SQLite supports a single writer and the engine never writes
	// concurrently.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db, dbPath: dbPath}

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: enabling WAL mode: %w", utils.ErrDatabase, err)
	}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: creating tables: %w", utils.ErrDatabase, err)
	}

	return s, nil
}

// NewFactory returns a Factory opening stores under dbDir.
func NewFactory(dbDir string) Factory {
	return func() (ResultStore, error) {
		return Open(dbDir)
	}
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

func (s *SQLiteStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS crawl_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		parent_url TEXT,
		status_code INTEGER,
		content_size INTEGER NOT NULL DEFAULT 0,
		title TEXT,
		crawled_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		statistics TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_results_parent ON crawl_results(parent_url);
	`

	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// Upsert implements ResultStore. The statistics column is replaced
// wholesale, never incremented in SQL, so repeating an upsert after a
// resume writes identical values instead of double-counting.
func (s *SQLiteStore) Upsert(ctx context.Context, rec *models.CrawlRecord) error {
	statsJSON, err := json.Marshal(rec.Stats)
	if err != nil {
		return fmt.Errorf("%w: serializing statistics for '%s': %w", utils.ErrDatabase, rec.URL, err)
	}

	var status sql.NullInt64
	if rec.StatusCode != nil {
		status = sql.NullInt64{Int64: int64(*rec.StatusCode), Valid: true}
	}

	query := `
	INSERT INTO crawl_results (url, parent_url, status_code, content_size, title, statistics)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		parent_url = excluded.parent_url,
		status_code = excluded.status_code,
		content_size = excluded.content_size,
		title = excluded.title,
		statistics = excluded.statistics,
		crawled_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.ExecContext(ctx, query,
		rec.URL, nullableString(rec.ParentURL), status, rec.ContentSize, rec.Title, string(statsJSON),
	); err != nil {
		return fmt.Errorf("%w: upserting '%s': %w", utils.ErrDatabase, rec.URL, err)
	}
	return nil
}

// Clear implements ResultStore.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM crawl_results"); err != nil {
		return fmt.Errorf("%w: clearing results: %w", utils.ErrDatabase, err)
	}
	return nil
}

// QueryAll implements ResultStore, returning rows in insertion order.
func (s *SQLiteStore) QueryAll(ctx context.Context) ([]*models.CrawlRecord, error) {
	query := `
	SELECT url, parent_url, status_code, content_size, title, crawled_at, statistics
	FROM crawl_results
	ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: querying results: %w", utils.ErrDatabase, err)
	}
	defer rows.Close()

	var records []*models.CrawlRecord
	for rows.Next() {
		var (
			rec       models.CrawlRecord
			parentURL sql.NullString
			status    sql.NullInt64
			title     sql.NullString
			crawledAt string
			statsJSON string
		)
		if err := rows.Scan(&rec.URL, &parentURL, &status, &rec.ContentSize, &title, &crawledAt, &statsJSON); err != nil {
			return nil, fmt.Errorf("%w: scanning result row: %w", utils.ErrDatabase, err)
		}

		rec.ParentURL = parentURL.String
		rec.Title = title.String
		if status.Valid {
			code := int(status.Int64)
			rec.StatusCode = &code
		}
		rec.CrawledAt = parseTimestamp(crawledAt)
		rec.Stats = models.NewCrawlStats()
		if statsJSON != "" {
			if err := json.Unmarshal([]byte(statsJSON), &rec.Stats); err != nil {
				return nil, fmt.Errorf("%w: parsing statistics for '%s': %w", utils.ErrDatabase, rec.URL, err)
			}
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// timestampFormats contains the timestamp formats SQLite may return.
// The order matters: more specific formats come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999",
}

// parseTimestamp attempts multiple formats; SQLite's output varies with
// configuration. Returns zero time when nothing matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
