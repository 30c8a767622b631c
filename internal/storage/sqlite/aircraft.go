package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yegors/sbs-radar/internal/adsb"
	"github.com/yegors/sbs-radar/internal/coverage"
	"github.com/yegors/sbs-radar/internal/storage"
	"github.com/yegors/sbs-radar/pkg/logger"
	_ "modernc.org/sqlite"
)

// AircraftStorage is a SQLite-based storage for aircraft reports
type AircraftStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

var (
	_ adsb.Storage    = (*AircraftStorage)(nil)
	_ coverage.Source = (*AircraftStorage)(nil)
)

// NewAircraftStorage creates a new SQLite-based aircraft storage
func NewAircraftStorage(dbPath string, log *logger.Logger) (*AircraftStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "journal mode"},
		{"PRAGMA synchronous=NORMAL", "synchronous mode"},
		{"PRAGMA busy_timeout=5000", "busy timeout"},
		{"PRAGMA cache_size=10000", "cache size"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %s: %w", p.what, err)
		}
	}

	if err := initDatabase(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	return &AircraftStorage{
		db:     db,
		logger: storageLogger,
	}, nil
}

// Close closes the database connection
func (s *AircraftStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetDB returns the database connection
func (s *AircraftStorage) GetDB() *sql.DB {
	return s.db
}

// initDatabase initializes the database schema
func initDatabase(db *sql.DB, log *logger.Logger) error {
	log.Info("Initializing database schema")

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS aircraft_data (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			icao TEXT NOT NULL,
			flight TEXT,
			altitude REAL,
			ground_speed REAL,
			track REAL,
			lat REAL,
			lon REAL,
			vertical_rate REAL,
			in_emergency INTEGER NOT NULL DEFAULT 0,
			is_on_ground INTEGER NOT NULL DEFAULT 0,
			spot_name TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create aircraft_data table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_aircraft_data_icao_time ON aircraft_data(icao, updated_at)",
		"CREATE INDEX IF NOT EXISTS idx_aircraft_data_site ON aircraft_data(spot_name, lat, lon)",
	}
	for _, stmt := range indexes {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// SaveReport inserts a snapshot of a and returns its row id
func (s *AircraftStorage) SaveReport(ctx context.Context, a adsb.Aircraft) (int64, error) {
	args := storage.InsertArgs(a)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO aircraft_data ("+storage.InsertColumns+") VALUES ("+placeholders+")",
		args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read report id: %w", err)
	}
	return id, nil
}

// GetReportsSince returns the reports of icao newest first. An empty icao
// selects every aircraft and a nil from selects the whole history.
func (s *AircraftStorage) GetReportsSince(ctx context.Context, icao string, from *time.Time) ([]adsb.StoredReport, error) {
	var (
		where []string
		args  []any
	)
	if icao != "" {
		where = append(where, "icao = ?")
		args = append(args, icao)
	}
	if from != nil {
		where = append(where, "updated_at >= ?")
		args = append(args, storage.ToMillis(*from))
	}

	query := "SELECT " + storage.Columns + " FROM aircraft_data"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	reports := []adsb.StoredReport{}
	for rows.Next() {
		r, err := storage.ScanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// GetLastReport returns the newest report of icao, or nil when none exists
func (s *AircraftStorage) GetLastReport(ctx context.Context, icao string) (*adsb.StoredReport, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+storage.Columns+" FROM aircraft_data WHERE icao = ? ORDER BY updated_at DESC, id DESC LIMIT 1",
		icao)
	r, err := storage.ScanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last report: %w", err)
	}
	return &r, nil
}

// GetAllKnownIdentifiers returns every icao with at least one stored report
func (s *AircraftStorage) GetAllKnownIdentifiers(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "SELECT DISTINCT icao FROM aircraft_data ORDER BY icao")
}

// GetAllKnownSiteNames returns every non-empty site name seen in the reports
func (s *AircraftStorage) GetAllKnownSiteNames(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "SELECT DISTINCT spot_name FROM aircraft_data WHERE spot_name <> '' ORDER BY spot_name")
}

// GetAllPositionsForSite returns every stored position of site with a known
// latitude, longitude and altitude
func (s *AircraftStorage) GetAllPositionsForSite(ctx context.Context, site string) ([]coverage.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lat, lon, altitude
		FROM aircraft_data
		WHERE spot_name = ? AND lat IS NOT NULL AND lon IS NOT NULL AND altitude IS NOT NULL
	`, site)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	samples := []coverage.Sample{}
	for rows.Next() {
		var sm coverage.Sample
		if err := rows.Scan(&sm.Lat, &sm.Lon, &sm.Altitude); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}

func (s *AircraftStorage) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
