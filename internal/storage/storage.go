// Package storage holds the row mapping shared by the SQL backends.
package storage

import (
	"database/sql"
	"time"

	"github.com/yegors/sbs-radar/internal/adsb"
)

// Columns is the select list matching ScanReport
const Columns = "id, icao, flight, altitude, ground_speed, track, lat, lon, vertical_rate, in_emergency, is_on_ground, spot_name, updated_at"

// InsertColumns is the insert list matching InsertArgs
const InsertColumns = "icao, flight, altitude, ground_speed, track, lat, lon, vertical_rate, in_emergency, is_on_ground, spot_name, updated_at"

// Scanner is implemented by *sql.Row and *sql.Rows
type Scanner interface {
	Scan(dest ...any) error
}

// InsertArgs returns the values for InsertColumns
func InsertArgs(a adsb.Aircraft) []any {
	return []any{
		a.ICAO,
		nullString(a.Flight),
		nullFloat(a.Altitude),
		nullFloat(a.GroundSpeed),
		nullFloat(a.Track),
		nullFloat(a.Lat),
		nullFloat(a.Lon),
		nullFloat(a.VerticalRate),
		a.Emergency,
		a.OnGround,
		a.Site,
		ToMillis(a.UpdatedAt),
	}
}

// ScanReport reads one row selected with Columns
func ScanReport(s Scanner) (adsb.StoredReport, error) {
	var (
		r                               adsb.StoredReport
		flight                          sql.NullString
		alt, gs, track, lat, lon, vrate sql.NullFloat64
		updatedAt                       int64
	)
	err := s.Scan(&r.ID, &r.ICAO, &flight, &alt, &gs, &track, &lat, &lon, &vrate,
		&r.Emergency, &r.OnGround, &r.Site, &updatedAt)
	if err != nil {
		return adsb.StoredReport{}, err
	}

	if flight.Valid {
		r.Flight = &flight.String
	}
	r.Altitude = floatPtr(alt)
	r.GroundSpeed = floatPtr(gs)
	r.Track = floatPtr(track)
	r.Lat = floatPtr(lat)
	r.Lon = floatPtr(lon)
	r.VerticalRate = floatPtr(vrate)
	r.UpdatedAt = FromMillis(updatedAt)
	return r, nil
}

// ToMillis converts t to Unix milliseconds as stored in updated_at
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts a stored updated_at back to UTC time
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
