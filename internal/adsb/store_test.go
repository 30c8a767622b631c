package adsb

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/yegors/sbs-radar/internal/sbs"
	"github.com/yegors/sbs-radar/pkg/logger"
)

func TestMerge(t *testing.T) {
	base := Aircraft{
		ICAO:      "abc123",
		Flight:    str("DLH4AB"),
		Altitude:  f64(5000),
		Lat:       f64(52.0),
		Lon:       f64(13.0),
		UpdatedAt: t0,
	}

	tests := []struct {
		name   string
		report sbs.Report
		check  func(t *testing.T, got Aircraft)
	}{
		{
			name:   "Null preserves previous value",
			report: sbs.Report{ICAO: "abc123", GeneratedAt: t0.Add(time.Second), Lat: f64(52.5)},
			check: func(t *testing.T, got Aircraft) {
				if got.Altitude == nil || *got.Altitude != 5000 {
					t.Errorf("Expected altitude 5000, got %v", got.Altitude)
				}
				if *got.Lat != 52.5 {
					t.Errorf("Expected lat 52.5, got %v", *got.Lat)
				}
				if *got.Lon != 13.0 {
					t.Errorf("Expected lon 13.0, got %v", *got.Lon)
				}
			},
		},
		{
			name:   "Blank callsign keeps previous",
			report: sbs.Report{ICAO: "abc123", GeneratedAt: t0, Callsign: str("")},
			check: func(t *testing.T, got Aircraft) {
				if got.Flight == nil || *got.Flight != "DLH4AB" {
					t.Errorf("Expected callsign DLH4AB, got %v", got.Flight)
				}
			},
		},
		{
			name:   "New callsign replaces",
			report: sbs.Report{ICAO: "abc123", GeneratedAt: t0, Callsign: str("EWG1")},
			check: func(t *testing.T, got Aircraft) {
				if *got.Flight != "EWG1" {
					t.Errorf("Expected callsign EWG1, got %s", *got.Flight)
				}
			},
		},
		{
			name:   "Flags always follow the report",
			report: sbs.Report{ICAO: "abc123", GeneratedAt: t0, Emergency: true, OnGround: true},
			check: func(t *testing.T, got Aircraft) {
				if !got.Emergency || !got.OnGround {
					t.Error("Expected both flags to be set")
				}
			},
		},
		{
			name:   "Older report does not move UpdatedAt back",
			report: sbs.Report{ICAO: "abc123", GeneratedAt: t0.Add(-time.Minute), Altitude: f64(4000)},
			check: func(t *testing.T, got Aircraft) {
				if !got.UpdatedAt.Equal(t0) {
					t.Errorf("Expected UpdatedAt %v, got %v", t0, got.UpdatedAt)
				}
				if *got.Altitude != 4000 {
					t.Errorf("Expected arrival order field merge, got altitude %v", *got.Altitude)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(base, tt.report)
			tt.check(t, got)
			if *base.Altitude != 5000 || *base.Lat != 52.0 {
				t.Error("Merge must not modify its input")
			}
		})
	}
}

func TestMergeIdempotent(t *testing.T) {
	r := sbs.Report{
		ICAO:        "abc123",
		GeneratedAt: t0,
		Callsign:    str("DLH4AB"),
		Altitude:    f64(10000),
		GroundSpeed: f64(420),
		Lat:         f64(52.5),
		Lon:         f64(13.4),
	}

	once := Merge(FromReport(r, "home"), r)
	later := r
	later.GeneratedAt = t0.Add(time.Second)
	twice := Merge(once, later)

	if diff := cmp.Diff(once, twice, cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".UpdatedAt"
	}, cmp.Ignore())); diff != "" {
		t.Errorf("Merge not idempotent (-once +twice):\n%s", diff)
	}
}

func TestStoreUpdate(t *testing.T) {
	store := NewStore(time.Minute, "home", logger.NewNop())
	listener := &recordingListener{}
	store.AddListener(listener)

	store.Update(sbs.Report{GeneratedAt: t0, Lat: f64(1)})
	if store.Len() != 0 {
		t.Fatal("Expected report without icao to be ignored")
	}

	store.Update(positionReport("bbb222", t0, 52.5, 13.4, 10000))
	store.Update(positionReport("aaa111", t0, 50.0, 10.0, 3000))
	store.Update(sbs.Report{ICAO: "aaa111", GeneratedAt: t0.Add(time.Second), Callsign: str("CFG1")})

	all := store.GetAll()
	if len(all) != 2 {
		t.Fatalf("Expected 2 aircraft, got %d", len(all))
	}
	if all[0].ICAO != "aaa111" || all[1].ICAO != "bbb222" {
		t.Errorf("Expected aircraft sorted by icao, got %s, %s", all[0].ICAO, all[1].ICAO)
	}
	if all[0].Site != "home" {
		t.Errorf("Expected site tag home, got %q", all[0].Site)
	}
	if all[0].Flight == nil || *all[0].Flight != "CFG1" || *all[0].Altitude != 3000 {
		t.Errorf("Unexpected merged record: %+v", all[0])
	}

	updated, removed := listener.counts()
	if updated != 3 || removed != 0 {
		t.Errorf("Expected 3 updates and 0 removals, got %d and %d", updated, removed)
	}

	// Snapshots are copies
	*all[0].Altitude = 1
	a, _ := store.Get("aaa111")
	if *a.Altitude != 3000 {
		t.Error("Expected GetAll to return copies")
	}
}

func TestStoreCleanupRemovesOnce(t *testing.T) {
	store := NewStore(time.Minute, "", logger.NewNop())
	listener := &recordingListener{}
	store.AddListener(listener)

	store.Update(positionReport("abc123", t0, 52.5, 13.4, 10000))
	store.Update(positionReport("def456", t0.Add(50*time.Second), 52.5, 13.4, 10000))

	now := t0.Add(61 * time.Second)
	if n := store.Cleanup(now); n != 1 {
		t.Fatalf("Expected 1 removal, got %d", n)
	}
	if n := store.Cleanup(now); n != 0 {
		t.Fatalf("Expected no removal on second sweep, got %d", n)
	}

	_, removed := listener.counts()
	if removed != 1 {
		t.Fatalf("Expected exactly one removal notification, got %d", removed)
	}
	if listener.removed[0].ICAO != "abc123" || *listener.removed[0].Lat != 52.5 {
		t.Errorf("Unexpected removed record: %+v", listener.removed[0])
	}
	if _, ok := store.Get("abc123"); ok {
		t.Error("Expected abc123 to be gone")
	}
	if _, ok := store.Get("def456"); !ok {
		t.Error("Expected def456 to stay")
	}

	// A new report recreates the record
	store.Update(positionReport("abc123", now, 52.6, 13.5, 9000))
	if _, ok := store.Get("abc123"); !ok {
		t.Error("Expected abc123 to be recreated")
	}
}

func TestStoreConcurrentUpdateAndCleanup(t *testing.T) {
	store := NewStore(time.Second, "", logger.NewNop())
	listener := &recordingListener{}
	store.AddListener(listener)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			store.Update(positionReport("abc123", t0.Add(time.Duration(i)*time.Second), 52.5, 13.4, 1000))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			store.Cleanup(t0.Add(time.Duration(i) * time.Second))
		}
	}()
	wg.Wait()

	// Whatever interleaving happened, the latest report is live
	a, ok := store.Get("abc123")
	if !ok {
		t.Fatal("Expected the last update to be live")
	}
	if !a.UpdatedAt.Equal(t0.Add(499 * time.Second)) {
		t.Errorf("Expected UpdatedAt of the last report, got %v", a.UpdatedAt)
	}
}

type panickingListener struct{}

func (panickingListener) OnUpdated(Aircraft) { panic("boom") }
func (panickingListener) OnRemoved(Aircraft) { panic("boom") }

func TestStoreRecoversListenerPanic(t *testing.T) {
	store := NewStore(time.Second, "", logger.NewNop())
	listener := &recordingListener{}
	store.AddListener(panickingListener{})
	store.AddListener(listener)

	store.Update(positionReport("abc123", t0, 52.5, 13.4, 1000))
	store.Cleanup(t0.Add(time.Hour))

	updated, removed := listener.counts()
	if updated != 1 || removed != 1 {
		t.Errorf("Expected later listeners to still run, got %d updates and %d removals", updated, removed)
	}
}
