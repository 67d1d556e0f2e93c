package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/baeder-monitor/internal/models"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

// Store defines the interface for the monitor's SQLite database
type Store interface {
	Backend
	Close() error
	Migrate() error
	SchemaVersion() (int, error)
	InsertBatch(samples []Sample) error
	SamplesSince(id models.SensorID, since time.Time) ([]models.Reading, error)
	DeleteOlderThan(days int) (int64, error)
	DeleteSensor(id models.SensorID) (int64, error)
	GetStorageStats() (*StorageStats, error)
	GetSensorIDs() ([]models.SensorID, error)
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore holds the reading store blob and the sample archive
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Sample is one archived live reading
type Sample struct {
	Sensor     models.SensorID
	Value      float64
	ObservedAt time.Time
}

// SensorSummary is the archive content of one tile
type SensorSummary struct {
	Sensor  string    `json:"sensor"`
	Samples int64     `json:"samples"`
	Oldest  time.Time `json:"oldest"`
	Newest  time.Time `json:"newest"`
}

// StorageStats describes the database for /api/stats
type StorageStats struct {
	SchemaVersion int             `json:"schema_version"`
	TotalSamples  int64           `json:"total_samples"`
	OldestSample  time.Time       `json:"oldest_sample,omitempty"`
	NewestSample  time.Time       `json:"newest_sample,omitempty"`
	Sensors       []SensorSummary `json:"sensors"`
	Namespaces    int             `json:"namespaces"`
	SizeBytes     int64           `json:"size_bytes"`
	Size          string          `json:"size"`
}

// migrations are applied in order; PRAGMA user_version records how many ran.
// Append only.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS kv (
		namespace TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pool TEXT NOT NULL,
		tile TEXT NOT NULL,
		value REAL NOT NULL,
		observed_at DATETIME NOT NULL,
		UNIQUE(pool, tile, observed_at)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_samples_time ON samples(observed_at);`,
}

// sqliteDSN turns a file path into a go-sqlite3 DSN carrying the connection pragmas
func sqliteDSN(path string) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// NewSQLiteStore opens the database at dbPath and brings its schema up to date
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One connection serializes writers; WAL keeps readers of the file unblocked.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Int("schema", len(migrations)).Msg("SQLite store initialized")

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SchemaVersion reports how many migrations the database has applied
func (s *SQLiteStore) SchemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// Migrate applies the migrations the database has not seen yet, each in its
// own transaction together with the version bump.
func (s *SQLiteStore) Migrate() error {
	version, err := s.SchemaVersion()
	if err != nil {
		return err
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		if err := s.migrateTo(i+1, migrations[i]); err != nil {
			return err
		}
		s.logger.Debug().Int("version", i+1).Msg("Applied schema migration")
	}
	return nil
}

func (s *SQLiteStore) migrateTo(version int, stmt string) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", version, err)
		}
		// PRAGMA does not take bound parameters
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
			return fmt.Errorf("migration %d: set version: %w", version, err)
		}
		return nil
	})
}

// inTx runs fn in a transaction, committing only when fn succeeds
func (s *SQLiteStore) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// InsertBatch archives samples in a single transaction. A sample already
// archived for the same sensor and time is skipped.
func (s *SQLiteStore) InsertBatch(samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}

	return s.inTx(func(tx *sql.Tx) error {
		insert, err := tx.Prepare(`INSERT OR IGNORE INTO samples (pool, tile, value, observed_at) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer insert.Close()

		for _, smp := range samples {
			at := smp.ObservedAt.UTC().Format(sqliteTimeLayout)
			if _, err := insert.Exec(smp.Sensor.Pool, smp.Sensor.Tile, smp.Value, at); err != nil {
				return fmt.Errorf("insert %s at %s: %w", smp.Sensor, at, err)
			}
		}
		return nil
	})
}

// SamplesSince returns the archived samples of a sensor observed at or after
// since, oldest first.
func (s *SQLiteStore) SamplesSince(id models.SensorID, since time.Time) ([]models.Reading, error) {
	rows, err := s.db.Query(`
		SELECT value, observed_at
		FROM samples
		WHERE pool = ? AND tile = ? AND observed_at >= ?
		ORDER BY observed_at ASC
	`, id.Pool, id.Tile, since.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		var r models.Reading
		var observedAt string
		if err := rows.Scan(&r.Value, &observedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		r.ObservedAt, err = parseTimestamp(observedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse observed_at: %w", err)
		}
		readings = append(readings, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return readings, nil
}

// DeleteOlderThan removes samples observed more than days days ago
func (s *SQLiteStore) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(sqliteTimeLayout)
	n, err := s.deleteWhere("observed_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete samples before %s: %w", cutoff, err)
	}
	return n, nil
}

// DeleteSensor removes every archived sample of id
func (s *SQLiteStore) DeleteSensor(id models.SensorID) (int64, error) {
	n, err := s.deleteWhere("pool = ? AND tile = ?", id.Pool, id.Tile)
	if err != nil {
		return 0, fmt.Errorf("delete samples of %s: %w", id, err)
	}
	return n, nil
}

func (s *SQLiteStore) deleteWhere(cond string, args ...any) (int64, error) {
	res, err := s.db.Exec("DELETE FROM samples WHERE "+cond, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetStorageStats summarizes the archive per sensor
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{Sensors: []SensorSummary{}}

	var err error
	if stats.SchemaVersion, err = s.SchemaVersion(); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM kv").Scan(&stats.Namespaces); err != nil {
		return nil, fmt.Errorf("failed to count namespaces: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT pool, tile, COUNT(*), MIN(observed_at), MAX(observed_at)
		FROM samples
		GROUP BY pool, tile
		ORDER BY pool, tile
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize samples: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id models.SensorID
		var sum SensorSummary
		var oldest, newest string
		if err := rows.Scan(&id.Pool, &id.Tile, &sum.Samples, &oldest, &newest); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		sum.Sensor = id.String()
		sum.Oldest, _ = parseTimestamp(oldest)
		sum.Newest, _ = parseTimestamp(newest)

		stats.TotalSamples += sum.Samples
		if stats.OldestSample.IsZero() || sum.Oldest.Before(stats.OldestSample) {
			stats.OldestSample = sum.Oldest
		}
		if sum.Newest.After(stats.NewestSample) {
			stats.NewestSample = sum.Newest
		}
		stats.Sensors = append(stats.Sensors, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	stats.SizeBytes = pageCount * pageSize
	stats.Size = humanize.IBytes(uint64(stats.SizeBytes))

	return stats, nil
}

// GetSensorIDs returns every sensor with archived samples
func (s *SQLiteStore) GetSensorIDs() ([]models.SensorID, error) {
	rows, err := s.db.Query("SELECT DISTINCT pool, tile FROM samples ORDER BY pool, tile")
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor IDs: %w", err)
	}
	defer rows.Close()

	var ids []models.SensorID
	for rows.Next() {
		var id models.SensorID
		if err := rows.Scan(&id.Pool, &id.Tile); err != nil {
			return nil, fmt.Errorf("failed to scan sensor ID: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return ids, nil
}

// parseTimestamp tries the formats go-sqlite3 hands back for DATETIME columns
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		sqliteTimeLayout,
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
