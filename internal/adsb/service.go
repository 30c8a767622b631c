package adsb

import (
	"context"
	"sync"
	"time"

	"github.com/yegors/sbs-radar/internal/websocket"
	"github.com/yegors/sbs-radar/pkg/logger"
)

// WebSocketServer defines the interface for a WebSocket server
type WebSocketServer interface {
	Broadcast(message *websocket.Message)
}

// Status describes the ingestion source
type Status struct {
	Source    string     `json:"source"`
	Running   bool       `json:"running"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Aircraft  int        `json:"aircraft"`
}

// Service drives one Source into the store and periodically pushes the live
// snapshot to subscribers before sweeping stale aircraft
type Service struct {
	source            Source
	store             *Store
	wsServer          WebSocketServer
	broadcastInterval time.Duration
	logger            *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt *time.Time
	stoppedAt *time.Time
	lastError string

	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewService creates a new ingestion service
func NewService(source Source, store *Store, wsServer WebSocketServer, broadcastInterval time.Duration, log *logger.Logger) *Service {
	return &Service{
		source:            source,
		store:             store,
		wsServer:          wsServer,
		broadcastInterval: broadcastInterval,
		logger:            log.Named("adsb"),
		stopCh:            make(chan struct{}),
	}
}

// Start starts the source and the broadcast loop
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting ADS-B service",
		logger.String("source", s.source.Name()),
		logger.Duration("broadcast_interval", s.broadcastInterval),
	)

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.runSource(ctx)
	go s.broadcastLoop(ctx)

	return nil
}

// Stop stops the source and the broadcast loop and waits for both
func (s *Service) Stop() {
	s.logger.Info("Stopping ADS-B service")
	if s.cancel != nil {
		s.cancel()
	}
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("ADS-B service stopped")
}

// runSource runs the source once. Upstream loss is logged and ingestion stays
// paused until the process is restarted.
func (s *Service) runSource(ctx context.Context) {
	defer s.wg.Done()

	now := time.Now().UTC()
	s.mu.Lock()
	s.running = true
	s.startedAt = &now
	s.mu.Unlock()

	err := s.source.Run(ctx, s.store.Update)

	stopped := time.Now().UTC()
	s.mu.Lock()
	s.running = false
	s.stoppedAt = &stopped
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		s.logger.Info("Source stopped", logger.String("source", s.source.Name()))
	case err != nil:
		s.logger.Error("Upstream closed with error, ingestion paused",
			logger.String("source", s.source.Name()),
			logger.Error(err))
	default:
		s.logger.Warn("Upstream closed, ingestion paused", logger.String("source", s.source.Name()))
	}
}

// broadcastLoop pushes the snapshot and sweeps on every tick
func (s *Service) broadcastLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.Tick(now)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick broadcasts the live snapshot, then removes stale aircraft
func (s *Service) Tick(now time.Time) {
	snapshot := s.store.GetAll()
	if s.wsServer != nil {
		s.wsServer.Broadcast(&websocket.Message{
			Type: websocket.MessageTypeAircraft,
			Data: map[string]any{
				"aircraft": snapshot,
				"count":    len(snapshot),
			},
		})
	}
	s.store.Cleanup(now)
}

// GetAllAircraft returns the live snapshot
func (s *Service) GetAllAircraft() *AircraftResponse {
	all := s.store.GetAll()
	return &AircraftResponse{
		Timestamp: time.Now().UTC(),
		Count:     len(all),
		Aircraft:  all,
	}
}

// GetAircraft returns one live aircraft
func (s *Service) GetAircraft(icao string) (Aircraft, bool) {
	return s.store.Get(icao)
}

// GetStatus returns the state of the ingestion source
func (s *Service) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Source:    s.source.Name(),
		Running:   s.running,
		StartedAt: s.startedAt,
		StoppedAt: s.stoppedAt,
		LastError: s.lastError,
		Aircraft:  s.store.Len(),
	}
}
