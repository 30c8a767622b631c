package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/yegors/sbs-radar/internal/adsb"
	"github.com/yegors/sbs-radar/internal/config"
	"github.com/yegors/sbs-radar/internal/coverage"
	"github.com/yegors/sbs-radar/pkg/logger"
	"golang.org/x/sync/semaphore"
)

// AircraftService exposes the live aircraft state
type AircraftService interface {
	GetAllAircraft() *adsb.AircraftResponse
	GetAircraft(icao string) (adsb.Aircraft, bool)
	GetStatus() adsb.Status
}

// HistoryStorage reads stored reports
type HistoryStorage interface {
	GetReportsSince(ctx context.Context, icao string, from *time.Time) ([]adsb.StoredReport, error)
}

// CoverageService computes site coverage
type CoverageService interface {
	Coverage(ctx context.Context, site string) (*coverage.Coverage, error)
}

// WebSocketServer upgrades subscriber connections
type WebSocketServer interface {
	HandleConnection(w http.ResponseWriter, r *http.Request)
	ClientCount() int
}

// Handler contains the API handlers
type Handler struct {
	adsbService     AircraftService
	storage         HistoryStorage
	coverageService CoverageService
	wsServer        WebSocketServer
	coverageSem     *semaphore.Weighted
	config          *config.Config
	logger          *logger.Logger
}

// NewHandler creates a new API handler. At most maxCoverage coverage requests
// are served at the same time.
func NewHandler(adsbService AircraftService, storage HistoryStorage, coverageService CoverageService, wsServer WebSocketServer, maxCoverage int, cfg *config.Config, log *logger.Logger) *Handler {
	if maxCoverage <= 0 {
		maxCoverage = 1
	}
	return &Handler{
		adsbService:     adsbService,
		storage:         storage,
		coverageService: coverageService,
		wsServer:        wsServer,
		coverageSem:     semaphore.NewWeighted(int64(maxCoverage)),
		config:          cfg,
		logger:          log.Named("api-handler"),
	}
}

// GetHistory returns the flight legs of one aircraft
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	icao := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("icao")))
	if icao == "" {
		http.Error(w, "Missing icao parameter", http.StatusBadRequest)
		return
	}

	var from *time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid from parameter, expected RFC3339", http.StatusBadRequest)
			return
		}
		t = t.UTC()
		from = &t
	}

	reports, err := h.storage.GetReportsSince(r.Context(), icao, from)
	if err != nil {
		h.logger.Error("Failed to load history", logger.String("icao", icao), logger.Error(err))
		http.Error(w, "Failed to load history", http.StatusInternalServerError)
		return
	}

	legs := adsb.Reconstruct(reports)[icao]
	if legs == nil {
		legs = []adsb.FlightLeg{}
	}

	h.logger.Debug("History served",
		logger.String("icao", icao),
		logger.Int("reports", len(reports)),
		logger.Int("legs", len(legs)))

	WriteJSON(w, http.StatusOK, map[string][]adsb.FlightLeg{icao: legs})
}

// GetCoverage returns the coverage polygons of a site
func (h *Handler) GetCoverage(w http.ResponseWriter, r *http.Request) {
	site := strings.TrimSpace(r.URL.Query().Get("site"))
	if site == "" {
		site = h.config.Site.Name
	}

	if err := h.coverageSem.Acquire(r.Context(), 1); err != nil {
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
		return
	}
	defer h.coverageSem.Release(1)

	cov, err := h.coverageService.Coverage(r.Context(), site)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.logger.Error("Failed to compute coverage", logger.String("site", site), logger.Error(err))
		http.Error(w, "Failed to compute coverage", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, cov)
}

// GetAllAircraft returns the live aircraft snapshot
func (h *Handler) GetAllAircraft(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.adsbService.GetAllAircraft())
}

// GetAircraft returns one live aircraft
func (h *Handler) GetAircraft(w http.ResponseWriter, r *http.Request) {
	icao := strings.ToLower(urlParam(r, "icao"))
	if icao == "" {
		http.Error(w, "Missing aircraft ID", http.StatusBadRequest)
		return
	}

	aircraft, ok := h.adsbService.GetAircraft(icao)
	if !ok {
		http.Error(w, "Aircraft not found", http.StatusNotFound)
		return
	}

	WriteJSON(w, http.StatusOK, aircraft)
}

// GetHealth returns the health status of the API
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := h.adsbService.GetStatus()

	state := "ok"
	if !status.Running {
		state = "degraded"
	}

	response := map[string]any{
		"status":      state,
		"source":      status,
		"subscribers": h.wsServer.ClientCount(),
	}

	WriteJSON(w, http.StatusOK, response)
}

// GetConfig returns the public configuration
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	publicConfig := map[string]any{
		"site": map[string]any{
			"name":           h.config.Site.Name,
			"latitude":       h.config.Site.Latitude,
			"longitude":      h.config.Site.Longitude,
			"elevation_feet": h.config.Site.ElevationFeet,
		},
		"state": map[string]any{
			"max_age_ms":            h.config.State.MaxAgeMs,
			"broadcast_interval_ms": h.config.State.BroadcastIntervalMs,
		},
		"coverage": map[string]any{
			"bands_m":   h.config.Coverage.BandsMeters,
			"precision": h.config.Coverage.Precision,
		},
		"replay": map[string]any{
			"enabled": h.config.ReplayEnabled(),
		},
	}

	WriteJSON(w, http.StatusOK, publicConfig)
}

// HandleWebSocket upgrades the request to a subscriber connection
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleConnection(w, r)
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
