package simulation

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/yegors/sbs-radar/internal/sbs"
	"github.com/yegors/sbs-radar/pkg/logger"
)

// MaxRangeDeg keeps simulated traffic within this many degrees of the site
const MaxRangeDeg = 1.0

// SimulatedAircraft represents a single simulated aircraft with its current state
type SimulatedAircraft struct {
	ICAO         string  `json:"icao"`
	Callsign     string  `json:"callsign"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	Altitude     float64 `json:"altitude"`
	Heading      float64 `json:"heading"`
	Speed        float64 `json:"speed"`
	VerticalRate float64 `json:"vertical_rate"`
}

// Service flies synthetic aircraft around the site and emits them as
// BaseStation reports. It substitutes the live feed.
type Service struct {
	siteLat  float64
	siteLon  float64
	interval time.Duration
	max      int
	logger   *logger.Logger

	mutex    sync.Mutex
	aircraft map[string]*SimulatedAircraft
	rng      *rand.Rand
}

// NewService creates a simulator with count aircraft spread around the site.
// A zero seed picks a random one.
func NewService(siteLat, siteLon float64, count, maxAircraft int, interval time.Duration, seed uint64, log *logger.Logger) *Service {
	if seed == 0 {
		seed = rand.Uint64()
	}
	s := &Service{
		siteLat:  siteLat,
		siteLon:  siteLon,
		interval: interval,
		max:      maxAircraft,
		logger:   log.Named("simulation"),
		aircraft: make(map[string]*SimulatedAircraft),
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}

	for i := 0; i < count; i++ {
		lat := siteLat + (s.rng.Float64()*2-1)*MaxRangeDeg/2
		lon := siteLon + (s.rng.Float64()*2-1)*MaxRangeDeg/2
		alt := 1000 + math.Round(s.rng.Float64()*34)*1000
		heading := math.Round(s.rng.Float64() * 359)
		speed := 140 + math.Round(s.rng.Float64()*340)
		if _, err := s.CreateAircraft(lat, lon, alt, heading, speed, 0); err != nil {
			break
		}
	}
	return s
}

// Name identifies the source in logs and status
func (s *Service) Name() string {
	return "simulation"
}

// CreateAircraft adds a simulated aircraft
func (s *Service) CreateAircraft(lat, lon, altitude, heading, speed, verticalRate float64) (*SimulatedAircraft, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.aircraft) >= s.max {
		return nil, fmt.Errorf("maximum number of simulated aircraft (%d) reached", s.max)
	}

	aircraft := &SimulatedAircraft{
		ICAO:         s.generateUniqueICAO(),
		Callsign:     fmt.Sprintf("SIM%03d", s.rng.IntN(999)+1),
		Lat:          lat,
		Lon:          lon,
		Altitude:     altitude,
		Heading:      heading,
		Speed:        speed,
		VerticalRate: verticalRate,
	}
	s.aircraft[aircraft.ICAO] = aircraft

	s.logger.Debug("Created simulated aircraft",
		logger.String("icao", aircraft.ICAO),
		logger.String("callsign", aircraft.Callsign),
		logger.Float64("lat", lat),
		logger.Float64("lon", lon))
	return aircraft, nil
}

// RemoveAircraft removes a simulated aircraft. It then ages out of the live state.
func (s *Service) RemoveAircraft(icao string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.aircraft[icao]; !exists {
		return fmt.Errorf("simulated aircraft with icao %s not found", icao)
	}
	delete(s.aircraft, icao)
	return nil
}

// Count returns the number of simulated aircraft
func (s *Service) Count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.aircraft)
}

// Step advances every aircraft by dt
func (s *Service) Step(dt time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, aircraft := range s.aircraft {
		s.updateAircraftPosition(aircraft, dt.Seconds())
	}
}

// Reports returns one position report per aircraft stamped with now
func (s *Service) Reports(now time.Time) []sbs.Report {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	reports := make([]sbs.Report, 0, len(s.aircraft))
	for _, a := range s.aircraft {
		tt := 3
		callsign := a.Callsign
		alt, gs, track, lat, lon, vrate := a.Altitude, a.Speed, a.Heading, a.Lat, a.Lon, a.VerticalRate
		reports = append(reports, sbs.Report{
			MessageType:      "MSG",
			TransmissionType: &tt,
			ICAO:             a.ICAO,
			GeneratedAt:      now,
			Callsign:         &callsign,
			Altitude:         &alt,
			GroundSpeed:      &gs,
			Track:            &track,
			Lat:              &lat,
			Lon:              &lon,
			VerticalRate:     &vrate,
			OnGround:         alt <= 0,
		})
	}
	return reports
}

// Run emits every aircraft once per interval until ctx is done
func (s *Service) Run(ctx context.Context, sink func(sbs.Report)) error {
	s.logger.Info("Simulating traffic",
		logger.Int("aircraft", s.Count()),
		logger.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Step(now.Sub(last))
			last = now
			for _, r := range s.Reports(now.UTC()) {
				sink(r)
			}
		}
	}
}

// updateAircraftPosition moves one aircraft using dead reckoning
func (s *Service) updateAircraftPosition(aircraft *SimulatedAircraft, deltaTime float64) {
	// Aviation heading 0=N clockwise, math angle 0=E counter-clockwise
	headingRad := (90 - aircraft.Heading) * math.Pi / 180

	// knots over seconds
	distanceNM := aircraft.Speed * deltaTime / 3600

	// 1 degree latitude is 60 NM
	aircraft.Lat += distanceNM * math.Sin(headingRad) / 60
	aircraft.Lon += distanceNM * math.Cos(headingRad) / (60 * math.Cos(aircraft.Lat*math.Pi/180))

	// ft/min
	aircraft.Altitude += aircraft.VerticalRate * deltaTime / 60
	if aircraft.Altitude < 0 {
		aircraft.Altitude = 0
		aircraft.VerticalRate = 0
	}

	// Turn back toward the site once out of range
	if math.Abs(aircraft.Lat-s.siteLat) > MaxRangeDeg || math.Abs(aircraft.Lon-s.siteLon) > MaxRangeDeg {
		bearing := math.Atan2(s.siteLon-aircraft.Lon, s.siteLat-aircraft.Lat) * 180 / math.Pi
		aircraft.Heading = math.Mod(bearing+360, 360)
	}
}

// generateUniqueICAO returns an unused lowercase 24-bit address
func (s *Service) generateUniqueICAO() string {
	for {
		icao := fmt.Sprintf("%06x", s.rng.IntN(0xFFFFFF))
		if _, exists := s.aircraft[icao]; !exists {
			return icao
		}
	}
}
