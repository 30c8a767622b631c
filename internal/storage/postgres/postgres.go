// Package postgres stores aircraft reports in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/yegors/sbs-radar/internal/adsb"
	"github.com/yegors/sbs-radar/internal/config"
	"github.com/yegors/sbs-radar/internal/coverage"
	"github.com/yegors/sbs-radar/internal/storage"
	"github.com/yegors/sbs-radar/pkg/logger"
)

//go:embed schema.sql
var schemaSQL string

// AircraftStorage is a PostgreSQL-based storage for aircraft reports
type AircraftStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

var (
	_ adsb.Storage    = (*AircraftStorage)(nil)
	_ coverage.Source = (*AircraftStorage)(nil)
)

// ConnString builds the lib/pq connection string for cfg
func ConnString(cfg config.PostgresConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)
}

// Connect opens the database, checks it is reachable and applies the schema
func Connect(ctx context.Context, cfg config.PostgresConfig, log *logger.Logger) (*AircraftStorage, error) {
	storageLogger := log.Named("postgres")
	storageLogger.Info("Connecting to PostgreSQL",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
		logger.String("database", cfg.Database))

	db, err := sql.Open("postgres", ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}

	return &AircraftStorage{db: db, logger: storageLogger}, nil
}

// Close closes the database connection
func (s *AircraftStorage) Close() error {
	return s.db.Close()
}

// insertQuery returns the INSERT statement for one report
func insertQuery() string {
	n := len(strings.Split(storage.InsertColumns, ","))
	return "INSERT INTO aircraft_data (" + storage.InsertColumns + ") VALUES (" + placeholders(1, n) + ") RETURNING id"
}

// reportsQuery builds the history query for icao and from
func reportsQuery(icao string, from *time.Time) (string, []any) {
	var (
		where []string
		args  []any
	)
	if icao != "" {
		args = append(args, icao)
		where = append(where, "icao = $"+strconv.Itoa(len(args)))
	}
	if from != nil {
		args = append(args, storage.ToMillis(*from))
		where = append(where, "updated_at >= $"+strconv.Itoa(len(args)))
	}

	query := "SELECT " + storage.Columns + " FROM aircraft_data"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + " ORDER BY updated_at DESC, id DESC", args
}

func placeholders(start, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = "$" + strconv.Itoa(start+i)
	}
	return strings.Join(ps, ", ")
}

// SaveReport inserts a snapshot of a and returns its row id
func (s *AircraftStorage) SaveReport(ctx context.Context, a adsb.Aircraft) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, insertQuery(), storage.InsertArgs(a)...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert report: %w", err)
	}
	return id, nil
}

// GetReportsSince returns the reports of icao newest first
func (s *AircraftStorage) GetReportsSince(ctx context.Context, icao string, from *time.Time) ([]adsb.StoredReport, error) {
	query, args := reportsQuery(icao, from)
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
		"SELECT "+storage.Columns+" FROM aircraft_data WHERE icao = $1 ORDER BY updated_at DESC, id DESC LIMIT 1",
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

// GetAllPositionsForSite returns every complete stored position of site
func (s *AircraftStorage) GetAllPositionsForSite(ctx context.Context, site string) ([]coverage.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lat, lon, altitude
		FROM aircraft_data
		WHERE spot_name = $1 AND lat IS NOT NULL AND lon IS NOT NULL AND altitude IS NOT NULL
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
