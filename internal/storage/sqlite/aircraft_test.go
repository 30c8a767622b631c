package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/yegors/sbs-radar/internal/adsb"
	"github.com/yegors/sbs-radar/internal/coverage"
	"github.com/yegors/sbs-radar/pkg/logger"
)

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T) *AircraftStorage {
	t.Helper()
	s, err := NewAircraftStorage(filepath.Join(t.TempDir(), "radar.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndQueryReports(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	rows := []adsb.Aircraft{
		{ICAO: "ABC123", Flight: str("KLM12"), Altitude: f64(35000), Lat: f64(52.1), Lon: f64(4.5), Site: "home", UpdatedAt: t0},
		{ICAO: "ABC123", Altitude: f64(34000), Lat: f64(52.2), Lon: f64(4.6), Emergency: true, Site: "home", UpdatedAt: t0.Add(time.Minute)},
		{ICAO: "DEF456", GroundSpeed: f64(120), OnGround: true, Site: "field", UpdatedAt: t0.Add(2 * time.Minute)},
	}
	for i, a := range rows {
		id, err := s.SaveReport(ctx, a)
		if err != nil {
			t.Fatalf("SaveReport %d failed: %v", i, err)
		}
		if id != int64(i+1) {
			t.Errorf("Expected id %d, got %d", i+1, id)
		}
	}

	got, err := s.GetReportsSince(ctx, "ABC123", nil)
	if err != nil {
		t.Fatalf("GetReportsSince failed: %v", err)
	}
	want := []adsb.StoredReport{
		{ID: 2, Aircraft: rows[1]},
		{ID: 1, Aircraft: rows[0]},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetReportsSince mismatch (-want +got):\n%s", diff)
	}

	from := t0.Add(30 * time.Second)
	got, err = s.GetReportsSince(ctx, "", &from)
	if err != nil {
		t.Fatalf("GetReportsSince failed: %v", err)
	}
	if len(got) != 2 || got[0].ICAO != "DEF456" || got[1].ID != 2 {
		t.Errorf("Expected DEF456 then report 2, got %+v", got)
	}

	none, err := s.GetReportsSince(ctx, "ZZZ999", nil)
	if err != nil {
		t.Fatalf("GetReportsSince failed: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", none)
	}
}

func TestGetLastReport(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	last, err := s.GetLastReport(ctx, "ABC123")
	if err != nil {
		t.Fatalf("GetLastReport failed: %v", err)
	}
	if last != nil {
		t.Errorf("Expected nil for unknown aircraft, got %+v", last)
	}

	for i := 0; i < 3; i++ {
		a := adsb.Aircraft{ICAO: "ABC123", Lat: f64(52 + float64(i)), Lon: f64(4), UpdatedAt: t0.Add(time.Duration(i) * time.Second)}
		if _, err := s.SaveReport(ctx, a); err != nil {
			t.Fatalf("SaveReport failed: %v", err)
		}
	}

	last, err = s.GetLastReport(ctx, "ABC123")
	if err != nil {
		t.Fatalf("GetLastReport failed: %v", err)
	}
	if last == nil || *last.Lat != 54 {
		t.Errorf("Expected newest report with lat 54, got %+v", last)
	}
}

func TestIdentifiersAndSites(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	rows := []adsb.Aircraft{
		{ICAO: "BBB222", Lat: f64(1), Lon: f64(1), Altitude: f64(1000), Site: "home", UpdatedAt: t0},
		{ICAO: "AAA111", Lat: f64(2), Lon: f64(2), Site: "home", UpdatedAt: t0},
		{ICAO: "AAA111", Lat: f64(3), Lon: f64(3), Altitude: f64(2000), Site: "field", UpdatedAt: t0},
		{ICAO: "CCC333", UpdatedAt: t0},
	}
	for _, a := range rows {
		if _, err := s.SaveReport(ctx, a); err != nil {
			t.Fatalf("SaveReport failed: %v", err)
		}
	}

	ids, err := s.GetAllKnownIdentifiers(ctx)
	if err != nil {
		t.Fatalf("GetAllKnownIdentifiers failed: %v", err)
	}
	if diff := cmp.Diff([]string{"AAA111", "BBB222", "CCC333"}, ids); diff != "" {
		t.Errorf("Identifiers mismatch (-want +got):\n%s", diff)
	}

	sites, err := s.GetAllKnownSiteNames(ctx)
	if err != nil {
		t.Fatalf("GetAllKnownSiteNames failed: %v", err)
	}
	if diff := cmp.Diff([]string{"field", "home"}, sites); diff != "" {
		t.Errorf("Sites mismatch (-want +got):\n%s", diff)
	}

	samples, err := s.GetAllPositionsForSite(ctx, "home")
	if err != nil {
		t.Fatalf("GetAllPositionsForSite failed: %v", err)
	}
	if diff := cmp.Diff([]coverage.Sample{{Lat: 1, Lon: 1, Altitude: 1000}}, samples); diff != "" {
		t.Errorf("Samples mismatch (-want +got):\n%s", diff)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radar.db")
	s, err := NewAircraftStorage(path, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	if _, err := s.SaveReport(context.Background(), adsb.Aircraft{ICAO: "ABC123", UpdatedAt: t0}); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	s.Close()

	s, err = NewAircraftStorage(path, logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer s.Close()

	last, err := s.GetLastReport(context.Background(), "ABC123")
	if err != nil {
		t.Fatalf("GetLastReport failed: %v", err)
	}
	if last == nil || !last.UpdatedAt.Equal(t0) {
		t.Errorf("Expected report at %v after reopen, got %+v", t0, last)
	}
}
