package adsb

import (
	"sort"
	"time"
)

// FlightGap is the longest silence allowed inside a single flight leg
const FlightGap = 30 * time.Minute

// Reconstruct groups stored reports into flight legs per ICAO. Reports may be in
// any order. Reports without lat, lon or altitude are ignored.
func Reconstruct(reports []StoredReport) map[string][]FlightLeg {
	byICAO := make(map[string][]StoredReport)
	for _, r := range reports {
		byICAO[r.ICAO] = append(byICAO[r.ICAO], r)
	}

	result := make(map[string][]FlightLeg, len(byICAO))
	for icao, rs := range byICAO {
		sort.SliceStable(rs, func(i, j int) bool {
			if rs[i].UpdatedAt.Equal(rs[j].UpdatedAt) {
				return rs[i].ID < rs[j].ID
			}
			return rs[i].UpdatedAt.Before(rs[j].UpdatedAt)
		})

		var b legBuilder
		for _, r := range rs {
			b.add(r)
		}
		if legs := b.finish(); len(legs) > 0 {
			result[icao] = legs
		}
	}
	return result
}

// legBuilder reconstructs the legs of one aircraft from time ordered reports
type legBuilder struct {
	legs    []*FlightLeg
	pending []Segment
}

func (b *legBuilder) add(r StoredReport) {
	if r.Lat == nil || r.Lon == nil || r.Altitude == nil {
		return
	}
	seg := Segment{Lat: *r.Lat, Lon: *r.Lon, Altitude: *r.Altitude, Time: r.UpdatedAt}

	if r.Flight == nil || *r.Flight == "" {
		if n := len(b.pending); n > 0 && seg.Time.Sub(b.pending[n-1].Time) >= FlightGap {
			b.flush(b.pending)
			b.pending = nil
		}
		b.pending = append(b.pending, seg)
		return
	}

	// Pending segments chaining back from this report belong to its leg,
	// anything older is flushed on its own
	start := len(b.pending)
	cursor := seg.Time
	for i := len(b.pending) - 1; i >= 0; i-- {
		if cursor.Sub(b.pending[i].Time) >= FlightGap {
			break
		}
		cursor = b.pending[i].Time
		start = i
	}
	claimed := b.pending[start:]
	b.flush(b.pending[:start])
	b.pending = nil

	ref := seg.Time
	if len(claimed) > 0 {
		ref = claimed[0].Time
	}
	leg := b.findLeg(*r.Flight, ref)
	if leg == nil {
		leg = &FlightLeg{Callsign: *r.Flight, From: seg.Time, To: seg.Time}
		b.legs = append(b.legs, leg)
	}
	appendSegments(leg, claimed...)
	appendSegments(leg, seg)
}

// findLeg returns the latest leg with callsign whose window is within FlightGap of t
func (b *legBuilder) findLeg(callsign string, t time.Time) *FlightLeg {
	var best *FlightLeg
	for _, leg := range b.legs {
		if leg.Callsign != callsign {
			continue
		}
		if absDuration(t.Sub(leg.To)) >= FlightGap && absDuration(t.Sub(leg.From)) >= FlightGap {
			continue
		}
		if best == nil || leg.To.After(best.To) {
			best = leg
		}
	}
	return best
}

// flush attaches a run of callsign-less segments to the latest leg ending within
// FlightGap of the run, or keeps it as a leg without callsign
func (b *legBuilder) flush(segs []Segment) {
	if len(segs) == 0 {
		return
	}
	run := make([]Segment, len(segs))
	copy(run, segs)

	var target *FlightLeg
	for _, leg := range b.legs {
		if absDuration(run[0].Time.Sub(leg.To)) >= FlightGap {
			continue
		}
		if target == nil || leg.To.After(target.To) {
			target = leg
		}
	}
	if target == nil {
		target = &FlightLeg{From: run[0].Time, To: run[0].Time}
		b.legs = append(b.legs, target)
	}
	appendSegments(target, run...)
}

func (b *legBuilder) finish() []FlightLeg {
	b.flush(b.pending)
	b.pending = nil

	for _, leg := range b.legs {
		sort.SliceStable(leg.Segments, func(i, j int) bool {
			return leg.Segments[i].Time.Before(leg.Segments[j].Time)
		})
	}
	sort.SliceStable(b.legs, func(i, j int) bool {
		return b.legs[i].From.Before(b.legs[j].From)
	})

	// Merge legs of the same callsign that ended up closer than the gap
	merged := make([]*FlightLeg, 0, len(b.legs))
	lastByCallsign := make(map[string]*FlightLeg)
	for _, leg := range b.legs {
		prev, ok := lastByCallsign[leg.Callsign]
		if ok && leg.From.Sub(prev.To) < FlightGap {
			appendSegments(prev, leg.Segments...)
			sort.SliceStable(prev.Segments, func(i, j int) bool {
				return prev.Segments[i].Time.Before(prev.Segments[j].Time)
			})
			continue
		}
		lastByCallsign[leg.Callsign] = leg
		merged = append(merged, leg)
	}

	legs := make([]FlightLeg, 0, len(merged))
	for _, leg := range merged {
		legs = append(legs, *leg)
	}
	return legs
}

func appendSegments(leg *FlightLeg, segs ...Segment) {
	for _, s := range segs {
		if len(leg.Segments) == 0 || s.Time.Before(leg.From) {
			leg.From = s.Time
		}
		if len(leg.Segments) == 0 || s.Time.After(leg.To) {
			leg.To = s.Time
		}
		leg.Segments = append(leg.Segments, s)
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
