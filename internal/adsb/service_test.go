package adsb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yegors/sbs-radar/internal/sbs"
	"github.com/yegors/sbs-radar/internal/websocket"
	"github.com/yegors/sbs-radar/pkg/logger"
)

// Two wire lines 400ms apart for the same aircraft, the second without position
func TestEndToEndTwoReports(t *testing.T) {
	lines := []string{
		"MSG,3,1,1,ABC123,1,2024/05/01,10:00:00.000,2024/05/01,10:00:00.000,,10000,,,52.5,13.4,,,0,0,0,0",
		"MSG,4,1,1,ABC123,1,2024/05/01,10:00:00.400,2024/05/01,10:00:00.400,,,430,90,,,64,,,,,0",
	}
	var reports []sbs.Report
	for _, line := range lines {
		r, err := sbs.ParseLine(line)
		if err != nil {
			t.Fatalf("Failed to parse %q: %v", line, err)
		}
		reports = append(reports, r)
	}

	storage := newMemStorage()
	store := NewStore(time.Hour, "home", logger.NewNop())
	rec := NewRecorder(storage, time.Minute, true, logger.NewNop())
	store.AddListener(rec)

	hub := &capturingHub{}
	svc := NewService(&sliceSource{reports: reports, delay: 400 * time.Millisecond}, store, hub, time.Hour, logger.NewNop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for svc.GetStatus().Running || svc.GetStatus().StoppedAt == nil {
		if time.Now().After(deadline) {
			t.Fatal("Source did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
	svc.Stop()
	if err := rec.Close(); err != nil {
		t.Fatalf("Recorder close failed: %v", err)
	}

	all := store.GetAll()
	if len(all) != 1 {
		t.Fatalf("Expected exactly one live record, got %d", len(all))
	}
	a := all[0]
	if a.ICAO != "abc123" {
		t.Errorf("Expected icao abc123, got %s", a.ICAO)
	}
	if a.Lat == nil || *a.Lat != 52.5 || a.Lon == nil || *a.Lon != 13.4 {
		t.Errorf("Expected position to be retained, got %v/%v", a.Lat, a.Lon)
	}
	if a.Altitude == nil || *a.Altitude != 10000 {
		t.Errorf("Expected altitude 10000, got %v", a.Altitude)
	}
	if a.GroundSpeed == nil || *a.GroundSpeed != 430 || a.Track == nil || *a.Track != 90 || a.VerticalRate == nil || *a.VerticalRate != 64 {
		t.Errorf("Expected velocity fields from the second report, got %+v", a)
	}
	if want := time.Date(2024, 5, 1, 10, 0, 0, 400_000_000, time.UTC); !a.UpdatedAt.Equal(want) {
		t.Errorf("Expected UpdatedAt %v, got %v", want, a.UpdatedAt)
	}

	// Position did not move, so only the first report reached storage
	if storage.count() != 1 {
		t.Errorf("Expected 1 stored row, got %d", storage.count())
	}
}

func TestServiceTick(t *testing.T) {
	store := NewStore(time.Minute, "", logger.NewNop())
	listener := &recordingListener{}
	store.AddListener(listener)
	hub := &capturingHub{}
	svc := NewService(&sliceSource{}, store, hub, time.Hour, logger.NewNop())

	store.Update(positionReport("abc123", t0, 52.5, 13.4, 1000))
	store.Update(positionReport("def456", t0.Add(time.Minute), 52.5, 13.4, 1000))

	svc.Tick(t0.Add(90 * time.Second))

	if len(hub.messages) != 1 {
		t.Fatalf("Expected 1 broadcast, got %d", len(hub.messages))
	}
	msg := hub.messages[0]
	if msg.Type != websocket.MessageTypeAircraft {
		t.Errorf("Expected message type %s, got %s", websocket.MessageTypeAircraft, msg.Type)
	}
	if msg.Data["count"] != 2 {
		t.Errorf("Expected the snapshot to be taken before the sweep, got count %v", msg.Data["count"])
	}

	if _, removed := listener.counts(); removed != 1 {
		t.Errorf("Expected 1 removal after the broadcast, got %d", removed)
	}
	if resp := svc.GetAllAircraft(); resp.Count != 1 || resp.Aircraft[0].ICAO != "def456" {
		t.Errorf("Unexpected live snapshot: %+v", resp)
	}
}

func TestReplayer(t *testing.T) {
	storage := newMemStorage()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		a := aircraftAt("abc123", t0.Add(time.Duration(i)*time.Minute), 52+float64(i), 13)
		storage.SaveReport(ctx, a)
	}
	storage.SaveReport(ctx, aircraftAt("other1", t0, 1, 1))

	t.Run("Emits oldest first and filters", func(t *testing.T) {
		p := NewReplayer(storage, t0.Add(time.Minute), "abc123", time.Millisecond, logger.NewNop())

		var got []sbs.Report
		if err := p.Run(ctx, func(r sbs.Report) { got = append(got, r) }); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(got) != 4 {
			t.Fatalf("Expected 4 reports, got %d", len(got))
		}
		for i, r := range got {
			want := t0.Add(time.Duration(i+1) * time.Minute)
			if !r.GeneratedAt.Equal(want) {
				t.Errorf("Report %d: expected time %v, got %v", i, want, r.GeneratedAt)
			}
			if r.MessageType != ReplayMessageType || r.TransmissionType == nil || *r.TransmissionType != 0 {
				t.Errorf("Report %d: unexpected message kind %q/%v", i, r.MessageType, r.TransmissionType)
			}
		}
	})

	t.Run("Stops on cancel and resumes without re-emitting", func(t *testing.T) {
		p := NewReplayer(storage, t0, "abc123", 50*time.Millisecond, logger.NewNop())

		var mu sync.Mutex
		seen := make(map[time.Time]int)
		sink := func(r sbs.Report) {
			mu.Lock()
			seen[r.GeneratedAt]++
			mu.Unlock()
		}

		runCtx, cancel := context.WithTimeout(ctx, 80*time.Millisecond)
		defer cancel()
		if err := p.Run(runCtx, sink); err != nil {
			t.Fatalf("Expected nil on cancel, got: %v", err)
		}
		if p.Remaining() == 0 {
			t.Fatal("Expected replay to be interrupted mid-sequence")
		}

		if err := p.Run(ctx, sink); err != nil {
			t.Fatalf("Expected no error on resume, got: %v", err)
		}
		if len(seen) != 5 {
			t.Errorf("Expected 5 distinct reports, got %d", len(seen))
		}
		for at, n := range seen {
			if n != 1 {
				t.Errorf("Report at %v emitted %d times", at, n)
			}
		}
	})
}
