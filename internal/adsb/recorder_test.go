package adsb

import (
	"errors"
	"testing"
	"time"

	"github.com/yegors/sbs-radar/pkg/logger"
)

func aircraftAt(icao string, at time.Time, lat, lon float64) Aircraft {
	return Aircraft{ICAO: icao, UpdatedAt: at, Lat: f64(lat), Lon: f64(lon), Altitude: f64(1000)}
}

func TestRecorderThrottling(t *testing.T) {
	storage := newMemStorage()
	rec := NewRecorder(storage, 10*time.Second, true, logger.NewNop())

	tests := []struct {
		name     string
		aircraft Aircraft
		saved    bool
	}{
		{name: "First position is saved", aircraft: aircraftAt("abc123", t0, 52.5, 13.4), saved: true},
		{name: "Same position within interval is skipped", aircraft: aircraftAt("abc123", t0.Add(5*time.Second), 52.5, 13.4), saved: false},
		{name: "Moved position is saved", aircraft: aircraftAt("abc123", t0.Add(6*time.Second), 52.6, 13.4), saved: true},
		{name: "Same position after interval is saved", aircraft: aircraftAt("abc123", t0.Add(17*time.Second), 52.6, 13.4), saved: true},
		{name: "Record without position is skipped", aircraft: Aircraft{ICAO: "def456", UpdatedAt: t0}, saved: false},
		{name: "Other aircraft is independent", aircraft: aircraftAt("def456", t0, 52.5, 13.4), saved: true},
	}

	want := 0
	for _, tt := range tests {
		rec.OnUpdated(tt.aircraft)
		if tt.saved {
			want++
		}
	}

	if err := rec.Close(); err != nil {
		t.Fatalf("Expected clean close, got: %v", err)
	}
	if storage.count() != want {
		t.Errorf("Expected %d saved rows, got %d", want, storage.count())
	}
	saved, failed := rec.Stats()
	if saved != int64(want) || failed != 0 {
		t.Errorf("Expected stats %d/0, got %d/%d", want, saved, failed)
	}
}

func TestRecorderFinalSave(t *testing.T) {
	t.Run("Skipped when position matches last row", func(t *testing.T) {
		storage := newMemStorage()
		rec := NewRecorder(storage, time.Hour, true, logger.NewNop())

		a := aircraftAt("abc123", t0, 52.5, 13.4)
		rec.OnUpdated(a)
		a.UpdatedAt = t0.Add(time.Second)
		rec.OnRemoved(a)
		rec.Close()

		if storage.count() != 1 {
			t.Errorf("Expected 1 row, got %d", storage.count())
		}
	})

	t.Run("Saved when position moved", func(t *testing.T) {
		storage := newMemStorage()
		rec := NewRecorder(storage, time.Hour, true, logger.NewNop())

		rec.OnUpdated(aircraftAt("abc123", t0, 52.5, 13.4))
		rec.OnRemoved(aircraftAt("abc123", t0.Add(time.Second), 52.7, 13.4))
		rec.Close()

		if storage.count() != 2 {
			t.Errorf("Expected 2 rows, got %d", storage.count())
		}
	})

	t.Run("Forgets the aircraft", func(t *testing.T) {
		storage := newMemStorage()
		rec := NewRecorder(storage, time.Hour, true, logger.NewNop())

		a := aircraftAt("abc123", t0, 52.5, 13.4)
		rec.OnUpdated(a)
		rec.OnRemoved(a)
		// Same position again is a first save after removal
		rec.OnUpdated(a)
		rec.Close()

		if storage.count() != 2 {
			t.Errorf("Expected 2 rows, got %d", storage.count())
		}
	})
}

func TestRecorderDisabled(t *testing.T) {
	storage := newMemStorage()
	rec := NewRecorder(storage, time.Second, false, logger.NewNop())

	rec.OnUpdated(aircraftAt("abc123", t0, 52.5, 13.4))
	rec.OnRemoved(aircraftAt("abc123", t0, 52.6, 13.4))
	rec.Close()

	if storage.count() != 0 {
		t.Errorf("Expected no writes while disabled, got %d", storage.count())
	}
}

func TestRecorderCloseReportsFailures(t *testing.T) {
	storage := newMemStorage()
	storage.saveErr = errStorageDown
	rec := NewRecorder(storage, time.Second, true, logger.NewNop())

	// Queue and close in one critical section so every write happens while draining
	rec.mu.Lock()
	for i := 0; i < 3; i++ {
		rec.queue = append(rec.queue, saveJob{kind: saveUpdate, aircraft: aircraftAt("abc123", t0, float64(i), 0)})
	}
	rec.closed = true
	rec.cond.Broadcast()
	rec.mu.Unlock()

	<-rec.done
	if !errors.Is(rec.drainErr, errStorageDown) {
		t.Errorf("Expected drain error to wrap storage failure, got %v", rec.drainErr)
	}
	_, failed := rec.Stats()
	if failed != 3 {
		t.Errorf("Expected 3 failed writes, got %d", failed)
	}

	// Close after the writer exited is a no-op
	if err := rec.Close(); err != nil {
		t.Errorf("Expected nil from second close, got %v", err)
	}
}
