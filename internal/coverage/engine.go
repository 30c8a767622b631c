package coverage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

// FeetToMeters converts barometric altitude to the band unit
const FeetToMeters = 0.3048

// DefaultBands are the altitude band ceilings in meters
var DefaultBands = []float64{1000, 2000, 4000, 6000, 8000, 10000, 25000}

// ErrInvalidSettings is returned by Compute for unusable settings
var ErrInvalidSettings = errors.New("coverage: invalid settings")

// Sample is one historical position seen from a site
type Sample struct {
	Lat      float64 `json:"lat" msgpack:"lat"`
	Lon      float64 `json:"lon" msgpack:"lon"`
	Altitude float64 `json:"altitude" msgpack:"altitude"` // feet
}

// Point is a polygon vertex
type Point struct {
	Lat float64 `json:"lat" msgpack:"lat"`
	Lon float64 `json:"lon" msgpack:"lon"`
}

// Layer is the coverage polygon for one altitude band. The ring is closed.
type Layer struct {
	MaxHeight float64 `json:"maxHeight" msgpack:"max_height"` // meters
	Polygon   []Point `json:"polygon" msgpack:"polygon"`
}

// Coverage holds the layers of one site, ascending by MaxHeight.
// Bands with fewer than 3 dense bins are left out.
type Coverage struct {
	Site   string  `json:"site" msgpack:"site"`
	Layers []Layer `json:"layers" msgpack:"layers"`
}

// Settings controls the computation
type Settings struct {
	Bands            []float64 // meters, strictly ascending
	Precision        int       // decimal places of the spatial bins
	MinSamplesPerBin int
	Concavity        float64
}

// DefaultSettings returns the settings used when nothing is configured
func DefaultSettings() Settings {
	return Settings{
		Bands:            append([]float64(nil), DefaultBands...),
		Precision:        2,
		MinSamplesPerBin: 1,
		Concavity:        2,
	}
}

// Validate checks the settings
func (s Settings) Validate() error {
	if len(s.Bands) == 0 {
		return fmt.Errorf("%w: no bands", ErrInvalidSettings)
	}
	for i := 1; i < len(s.Bands); i++ {
		if s.Bands[i] <= s.Bands[i-1] {
			return fmt.Errorf("%w: bands not ascending", ErrInvalidSettings)
		}
	}
	if s.Precision < 0 || s.Precision > 10 {
		return fmt.Errorf("%w: precision %d", ErrInvalidSettings, s.Precision)
	}
	if s.Concavity < 0 || math.IsNaN(s.Concavity) {
		return fmt.Errorf("%w: concavity %f", ErrInvalidSettings, s.Concavity)
	}
	return nil
}

// Source provides the historical positions of a site
type Source interface {
	// GetAllPositionsForSite returns samples with lat, lon and altitude set
	GetAllPositionsForSite(ctx context.Context, site string) ([]Sample, error)
	GetAllKnownSiteNames(ctx context.Context) ([]string, error)
}

type binKey struct {
	lat, lon int64
}

// Compute builds the coverage of site from its samples
func Compute(site string, samples []Sample, settings Settings) (*Coverage, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	cov := &Coverage{Site: site, Layers: make([]Layer, 0, len(settings.Bands))}
	for _, band := range settings.Bands {
		points := DenseBins(samples, band, settings.Precision, settings.MinSamplesPerBin)
		if len(points) < 3 {
			continue
		}
		cov.Layers = append(cov.Layers, Layer{
			MaxHeight: band,
			Polygon:   ConcaveHull(points, settings.Concavity),
		})
	}
	return cov, nil
}

// DenseBins returns the bin centers of samples at or below maxHeight meters
// that hold at least minSamples samples, sorted by lat then lon
func DenseBins(samples []Sample, maxHeight float64, precision, minSamples int) []Point {
	scale := math.Pow(10, float64(precision))
	counts := make(map[binKey]int)
	for _, s := range samples {
		if !finite(s.Lat) || !finite(s.Lon) || !finite(s.Altitude) {
			continue
		}
		if s.Altitude*FeetToMeters > maxHeight {
			continue
		}
		counts[binKey{lat: int64(math.Round(s.Lat * scale)), lon: int64(math.Round(s.Lon * scale))}]++
	}

	points := make([]Point, 0, len(counts))
	for k, n := range counts {
		if n < minSamples {
			continue
		}
		points = append(points, Point{Lat: float64(k.lat) / scale, Lon: float64(k.lon) / scale})
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Lat != points[j].Lat {
			return points[i].Lat < points[j].Lat
		}
		return points[i].Lon < points[j].Lon
	})
	return points
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
