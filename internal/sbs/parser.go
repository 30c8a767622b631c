package sbs

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// MinFields is the number of comma separated fields a BaseStation line must have.
// The on-ground flag is the last field read (index 21).
const MinFields = 22

// ErrTooFewFields is returned for lines that cannot be split into MinFields fields
var ErrTooFewFields = errors.New("sbs: too few fields")

// Field positions in a BaseStation line
const (
	fieldMessageType      = 0
	fieldTransmissionType = 1
	fieldHexIdent         = 4
	fieldDateGenerated    = 6
	fieldTimeGenerated    = 7
	fieldCallsign         = 10
	fieldAltitude         = 11
	fieldGroundSpeed      = 12
	fieldTrack            = 13
	fieldLat              = 14
	fieldLon              = 15
	fieldVerticalRate     = 16
	fieldEmergency        = 19
	fieldOnGround         = 21
)

// Report is a single decoded BaseStation line. Nil pointers mean the field was
// absent or not numeric on the wire.
type Report struct {
	MessageType      string
	TransmissionType *int
	ICAO             string // lowercased, empty when absent
	GeneratedAt      time.Time
	Callsign         *string
	Altitude         *float64 // feet
	GroundSpeed      *float64 // knots
	Track            *float64 // degrees
	Lat              *float64
	Lon              *float64
	VerticalRate     *float64 // ft/min
	Emergency        bool
	OnGround         bool
}

// ParseLine decodes one BaseStation line. Only a line with too few fields is an
// error; malformed individual fields become nil.
func ParseLine(line string) (Report, error) {
	f := strings.Split(strings.TrimSpace(line), ",")
	if len(f) < MinFields {
		return Report{}, fmt.Errorf("%w: got %d, need %d", ErrTooFewFields, len(f), MinFields)
	}

	r := Report{
		MessageType:  strings.TrimSpace(f[fieldMessageType]),
		ICAO:         strings.ToLower(strings.TrimSpace(f[fieldHexIdent])),
		GeneratedAt:  parseGeneratedAt(f[fieldDateGenerated], f[fieldTimeGenerated]),
		Callsign:     parseNullableString(f[fieldCallsign]),
		Altitude:     parseNullableFloat(f[fieldAltitude]),
		GroundSpeed:  parseNullableFloat(f[fieldGroundSpeed]),
		Track:        parseNullableFloat(f[fieldTrack]),
		Lat:          parseNullableFloat(f[fieldLat]),
		Lon:          parseNullableFloat(f[fieldLon]),
		VerticalRate: parseNullableFloat(f[fieldVerticalRate]),
		Emergency:    strings.Contains(f[fieldEmergency], "1"),
		OnGround:     strings.Contains(f[fieldOnGround], "1"),
	}
	if v := parseNullableFloat(f[fieldTransmissionType]); v != nil {
		tt := int(*v)
		r.TransmissionType = &tt
	}

	return r, nil
}

func parseNullableFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func parseNullableString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// parseGeneratedAt combines the date (2024/05/01) and time (10:00:00.123)
// fields into a UTC instant. Returns the zero time when unparsable.
func parseGeneratedAt(date, clock string) time.Time {
	date = strings.ReplaceAll(strings.TrimSpace(date), "/", "-")
	clock = strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return time.Time{}
	}

	t, err := time.Parse("2006-01-02T15:04:05.999999999", date+"T"+clock)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
