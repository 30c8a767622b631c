package adsb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yegors/sbs-radar/internal/sbs"
	"github.com/yegors/sbs-radar/pkg/logger"
	"golang.org/x/time/rate"
)

// ReplayMessageType marks reports coming from stored history
const ReplayMessageType = "0"

// Replayer feeds stored reports back into the ingestion path oldest first, one
// per interval
type Replayer struct {
	storage  Storage
	from     time.Time
	icao     string
	interval time.Duration
	logger   *logger.Logger

	mu      sync.Mutex
	reports []StoredReport
	loaded  bool
	cursor  int
}

// NewReplayer creates a replayer for reports of icao (all when empty) stored since from
func NewReplayer(storage Storage, from time.Time, icao string, interval time.Duration, log *logger.Logger) *Replayer {
	return &Replayer{
		storage:  storage,
		from:     from,
		icao:     icao,
		interval: interval,
		logger:   log.Named("adsb-replay"),
	}
}

// Name identifies the source in logs
func (p *Replayer) Name() string {
	if p.icao == "" {
		return "replay:all"
	}
	return "replay:" + p.icao
}

// Run emits the remaining reports to sink until they run out or ctx is done.
// Calling Run again continues after the last emitted report.
func (p *Replayer) Run(ctx context.Context, sink func(sbs.Report)) error {
	if err := p.load(ctx); err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Every(p.interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			// Cancelled between emissions
			return nil
		}

		report, ok := p.next()
		if !ok {
			p.logger.Info("Replay finished")
			return nil
		}
		sink(report)
	}
}

func (p *Replayer) load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}

	from := p.from
	stored, err := p.storage.GetReportsSince(ctx, p.icao, &from)
	if err != nil {
		return fmt.Errorf("failed to load replay reports: %w", err)
	}

	// Storage returns newest first
	for i, j := 0, len(stored)-1; i < j; i, j = i+1, j-1 {
		stored[i], stored[j] = stored[j], stored[i]
	}
	p.reports = stored
	p.loaded = true

	p.logger.Info("Loaded reports for replay",
		logger.String("count", humanize.Comma(int64(len(stored)))),
		logger.Time("from", p.from),
		logger.Duration("interval", p.interval),
		logger.String("eta", humanize.RelTime(time.Now(), time.Now().Add(time.Duration(len(stored))*p.interval), "", "from now")))
	return nil
}

// next advances the cursor; each stored report is returned at most once
func (p *Replayer) next() (sbs.Report, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cursor >= len(p.reports) {
		return sbs.Report{}, false
	}
	r := p.reports[p.cursor]
	p.cursor++
	return toReport(r), true
}

// Remaining returns how many reports have not been emitted yet
func (p *Replayer) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reports) - p.cursor
}

func toReport(r StoredReport) sbs.Report {
	a := r.Aircraft.Clone()
	tt := 0
	return sbs.Report{
		MessageType:      ReplayMessageType,
		TransmissionType: &tt,
		ICAO:             a.ICAO,
		GeneratedAt:      a.UpdatedAt,
		Callsign:         a.Flight,
		Altitude:         a.Altitude,
		GroundSpeed:      a.GroundSpeed,
		Track:            a.Track,
		Lat:              a.Lat,
		Lon:              a.Lon,
		VerticalRate:     a.VerticalRate,
		Emergency:        a.Emergency,
		OnGround:         a.OnGround,
	}
}
