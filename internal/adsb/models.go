package adsb

import (
	"context"
	"time"

	"github.com/yegors/sbs-radar/internal/sbs"
)

// Aircraft is the live record for one transponder, keyed by ICAO.
// Nil pointers mean the value has never been reported.
type Aircraft struct {
	ICAO         string    `json:"icao"`
	Flight       *string   `json:"flight"`
	Altitude     *float64  `json:"altitude"`      // feet
	GroundSpeed  *float64  `json:"ground_speed"`  // knots
	Track        *float64  `json:"track"`         // degrees
	Lat          *float64  `json:"lat"`
	Lon          *float64  `json:"lon"`
	VerticalRate *float64  `json:"vertical_rate"` // ft/min
	Emergency    bool      `json:"in_emergency"`
	OnGround     bool      `json:"is_on_ground"`
	Site         string    `json:"spot_name"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasPosition reports whether both lat and lon are known
func (a *Aircraft) HasPosition() bool {
	return a.Lat != nil && a.Lon != nil
}

// Clone returns a deep copy so callers never share pointers with the store
func (a Aircraft) Clone() Aircraft {
	c := a
	c.Flight = clonePtr(a.Flight)
	c.Altitude = clonePtr(a.Altitude)
	c.GroundSpeed = clonePtr(a.GroundSpeed)
	c.Track = clonePtr(a.Track)
	c.Lat = clonePtr(a.Lat)
	c.Lon = clonePtr(a.Lon)
	c.VerticalRate = clonePtr(a.VerticalRate)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// StoredReport is a persisted Aircraft row
type StoredReport struct {
	ID int64 `json:"id"`
	Aircraft
}

// Segment is a single position inside a flight leg
type Segment struct {
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Altitude float64   `json:"altitude"`
	Time     time.Time `json:"time"`
}

// FlightLeg is a continuous run of positions for one callsign.
// Callsign is empty when the leg was built from reports without one.
type FlightLeg struct {
	Callsign string    `json:"callsign"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Segments []Segment `json:"segments"`
}

// AircraftResponse is the live snapshot payload for the API and the websocket
type AircraftResponse struct {
	Timestamp time.Time  `json:"timestamp"`
	Count     int        `json:"count"`
	Aircraft  []Aircraft `json:"aircraft"`
}

// Storage persists aircraft records and answers history queries
type Storage interface {
	// SaveReport stores a copy of the record and returns its row ID
	SaveReport(ctx context.Context, aircraft Aircraft) (int64, error)
	// GetReportsSince returns rows newest first. An empty icao matches every aircraft
	// and a nil from matches every time.
	GetReportsSince(ctx context.Context, icao string, from *time.Time) ([]StoredReport, error)
	// GetLastReport returns nil when there is no row for icao
	GetLastReport(ctx context.Context, icao string) (*StoredReport, error)
	GetAllKnownIdentifiers(ctx context.Context) ([]string, error)
}

// Source produces reports for the store. The live feed client and the replayer
// both satisfy it.
type Source interface {
	Name() string
	Run(ctx context.Context, sink func(sbs.Report)) error
}

// Listener receives store notifications. Both methods are called with copies.
type Listener interface {
	OnUpdated(aircraft Aircraft)
	OnRemoved(aircraft Aircraft)
}
