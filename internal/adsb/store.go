package adsb

import (
	"sort"
	"sync"
	"time"

	"github.com/yegors/sbs-radar/internal/sbs"
	"github.com/yegors/sbs-radar/pkg/logger"
)

// entry guards one aircraft. Update and Cleanup for the same ICAO serialize on mu.
type entry struct {
	mu       sync.Mutex
	aircraft Aircraft
	removed  bool
}

// Store holds the live aircraft records. Records are kept per ICAO in a
// sync.Map so that ingestion and the sweep never take a store-wide lock.
type Store struct {
	entries sync.Map // icao -> *entry
	maxAge  time.Duration
	site    string
	logger  *logger.Logger

	listenersMu sync.RWMutex
	listeners   []Listener
}

// NewStore creates a store that evicts records older than maxAge and tags
// every record with site
func NewStore(maxAge time.Duration, site string, log *logger.Logger) *Store {
	return &Store{
		maxAge: maxAge,
		site:   site,
		logger: log.Named("adsb-store"),
	}
}

// AddListener registers l for update and removal notifications. Listeners are
// called while the aircraft entry is locked and must not call back into the
// store for the same ICAO.
func (s *Store) AddListener(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Update merges a report into the record for its ICAO, creating it if needed
func (s *Store) Update(r sbs.Report) {
	if r.ICAO == "" {
		s.logger.Debug("Ignoring report without icao", logger.String("message_type", r.MessageType))
		return
	}

	for {
		fresh := &entry{}
		fresh.mu.Lock()
		actual, loaded := s.entries.LoadOrStore(r.ICAO, fresh)
		if !loaded {
			fresh.aircraft = FromReport(r, s.site)
			s.notifyUpdated(fresh.aircraft.Clone())
			fresh.mu.Unlock()
			return
		}
		fresh.mu.Unlock()

		e := actual.(*entry)
		e.mu.Lock()
		if e.removed {
			// Lost the race with Cleanup, the next LoadOrStore creates a new record
			e.mu.Unlock()
			continue
		}
		e.aircraft = Merge(e.aircraft, r)
		s.notifyUpdated(e.aircraft.Clone())
		e.mu.Unlock()
		return
	}
}

// Get returns a copy of the record for icao
func (s *Store) Get(icao string) (Aircraft, bool) {
	v, ok := s.entries.Load(icao)
	if !ok {
		return Aircraft{}, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Aircraft{}, false
	}
	return e.aircraft.Clone(), true
}

// GetAll returns copies of every live record sorted by ICAO
func (s *Store) GetAll() []Aircraft {
	all := make([]Aircraft, 0)
	s.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if !e.removed {
			all = append(all, e.aircraft.Clone())
		}
		e.mu.Unlock()
		return true
	})

	sort.Slice(all, func(i, j int) bool {
		return all[i].ICAO < all[j].ICAO
	})
	return all
}

// Len returns the number of live records
func (s *Store) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Cleanup removes every record not updated within maxAge of now and returns the
// number removed. Staleness is re-checked under the entry lock so a concurrent
// update with a newer generation time keeps the record alive.
func (s *Store) Cleanup(now time.Time) int {
	removed := 0
	s.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.removed || now.Sub(e.aircraft.UpdatedAt) <= s.maxAge {
			return true
		}

		e.removed = true
		s.entries.CompareAndDelete(k, e)
		removed++
		s.notifyRemoved(e.aircraft.Clone())
		return true
	})

	if removed > 0 {
		s.logger.Debug("Removed stale aircraft", logger.Int("count", removed))
	}
	return removed
}

func (s *Store) notifyUpdated(a Aircraft) {
	s.notify(a, "updated", Listener.OnUpdated)
}

func (s *Store) notifyRemoved(a Aircraft) {
	s.notify(a, "removed", Listener.OnRemoved)
}

func (s *Store) notify(a Aircraft, event string, fn func(Listener, Aircraft)) {
	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					s.logger.Error("Listener panicked",
						logger.String("event", event),
						logger.String("icao", a.ICAO),
						logger.Any("panic", rec))
				}
			}()
			fn(l, a.Clone())
		}()
	}
}
