package adsb

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/yegors/sbs-radar/internal/sbs"
	"github.com/yegors/sbs-radar/internal/websocket"
)

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// memStorage is an in-memory Storage used by the package tests
type memStorage struct {
	mu      sync.Mutex
	rows    []StoredReport
	nextID  int64
	saveErr error
	saves   chan Aircraft
}

func newMemStorage() *memStorage {
	return &memStorage{saves: make(chan Aircraft, 1024)}
}

func (m *memStorage) SaveReport(_ context.Context, a Aircraft) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return 0, m.saveErr
	}
	m.nextID++
	m.rows = append(m.rows, StoredReport{ID: m.nextID, Aircraft: a.Clone()})
	select {
	case m.saves <- a:
	default:
	}
	return m.nextID, nil
}

func (m *memStorage) GetReportsSince(_ context.Context, icao string, from *time.Time) ([]StoredReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StoredReport
	for _, r := range m.rows {
		if icao != "" && r.ICAO != icao {
			continue
		}
		if from != nil && r.UpdatedAt.Before(*from) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (m *memStorage) GetLastReport(ctx context.Context, icao string) (*StoredReport, error) {
	rows, err := m.GetReportsSince(ctx, icao, nil)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (m *memStorage) GetAllKnownIdentifiers(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, r := range m.rows {
		if !seen[r.ICAO] {
			seen[r.ICAO] = true
			out = append(out, r.ICAO)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

var errStorageDown = errors.New("storage down")

// recordingListener collects notifications
type recordingListener struct {
	mu      sync.Mutex
	updated []Aircraft
	removed []Aircraft
}

func (l *recordingListener) OnUpdated(a Aircraft) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updated = append(l.updated, a)
}

func (l *recordingListener) OnRemoved(a Aircraft) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, a)
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.updated), len(l.removed)
}

// capturingHub records broadcasts
type capturingHub struct {
	mu       sync.Mutex
	messages []*websocket.Message
}

func (h *capturingHub) Broadcast(m *websocket.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, m)
}

// sliceSource is a Source that emits fixed reports and then returns
type sliceSource struct {
	reports []sbs.Report
	delay   time.Duration
}

func (s *sliceSource) Name() string { return "test" }

func (s *sliceSource) Run(ctx context.Context, sink func(sbs.Report)) error {
	for i, r := range s.reports {
		if i > 0 && s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				return nil
			}
		}
		sink(r)
	}
	return nil
}

func positionReport(icao string, at time.Time, lat, lon, alt float64) sbs.Report {
	return sbs.Report{
		MessageType: "MSG",
		ICAO:        icao,
		GeneratedAt: at,
		Lat:         f64(lat),
		Lon:         f64(lon),
		Altitude:    f64(alt),
	}
}
