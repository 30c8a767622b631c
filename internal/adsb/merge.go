package adsb

import (
	"github.com/yegors/sbs-radar/internal/sbs"
)

// FromReport builds a new record from the first report seen for an identifier
func FromReport(r sbs.Report, site string) Aircraft {
	a := Aircraft{
		ICAO:      r.ICAO,
		Site:      site,
		UpdatedAt: r.GeneratedAt,
	}
	return Merge(a, r)
}

// Merge applies a report on top of prev and returns the result. Present fields
// replace, absent ones keep the previous value. A blank callsign never clears
// a known one. The flags are always taken from the report, and UpdatedAt only
// moves forward.
func Merge(prev Aircraft, r sbs.Report) Aircraft {
	next := prev.Clone()

	if r.Callsign != nil && *r.Callsign != "" {
		next.Flight = clonePtr(r.Callsign)
	}
	next.Altitude = pick(r.Altitude, next.Altitude)
	next.GroundSpeed = pick(r.GroundSpeed, next.GroundSpeed)
	next.Track = pick(r.Track, next.Track)
	next.Lat = pick(r.Lat, next.Lat)
	next.Lon = pick(r.Lon, next.Lon)
	next.VerticalRate = pick(r.VerticalRate, next.VerticalRate)
	next.Emergency = r.Emergency
	next.OnGround = r.OnGround

	if r.GeneratedAt.After(next.UpdatedAt) {
		next.UpdatedAt = r.GeneratedAt
	}
	return next
}

func pick(v, fallback *float64) *float64 {
	if v != nil {
		return clonePtr(v)
	}
	return fallback
}
