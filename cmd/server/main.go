package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/yegors/sbs-radar/internal/adsb"
	"github.com/yegors/sbs-radar/internal/api"
	"github.com/yegors/sbs-radar/internal/config"
	"github.com/yegors/sbs-radar/internal/coverage"
	"github.com/yegors/sbs-radar/internal/sbs"
	"github.com/yegors/sbs-radar/internal/simulation"
	"github.com/yegors/sbs-radar/internal/storage/postgres"
	"github.com/yegors/sbs-radar/internal/storage/sqlite"
	"github.com/yegors/sbs-radar/internal/websocket"
	"github.com/yegors/sbs-radar/pkg/logger"
	"go.uber.org/multierr"
)

var (
	// Version is injected at build time
	Version = "dev"
)

// reportStorage is what both storage backends provide
type reportStorage interface {
	adsb.Storage
	coverage.Source
	Close() error
}

func main() {
	configPath := pflag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	replayFrom := pflag.String("replay-from", "", "Replay stored reports from this RFC3339 time instead of reading the live feed")
	replayICAO := pflag.String("replay-icao", "", "Only replay reports of this aircraft")
	simulate := pflag.Int("simulate", 0, "Fly this many synthetic aircraft instead of reading the live feed")
	pflag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if *replayFrom != "" {
		cfg.Replay.From = *replayFrom
	}
	if *replayICAO != "" {
		cfg.Replay.ICAO = *replayICAO
	}
	if *simulate > 0 {
		cfg.Simulation.Aircraft = *simulate
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting SBS radar server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
		logger.String("site", cfg.Site.Name),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to open storage", logger.Error(err))
		os.Exit(1)
	}

	// Live state and persistence
	liveStore := adsb.NewStore(cfg.MaxAge(), cfg.Site.Name, log)
	recorder := adsb.NewRecorder(store, cfg.SaveInterval(), cfg.RecordingEnabled(), log)
	liveStore.AddListener(recorder)

	var source adsb.Source
	switch {
	case cfg.ReplayEnabled():
		source = adsb.NewReplayer(store, cfg.ReplayFrom(), cfg.Replay.ICAO,
			time.Duration(cfg.Replay.IntervalMs)*time.Millisecond, log)
		log.Info("Replaying stored reports, recording disabled",
			logger.String("from", cfg.Replay.From),
			logger.String("icao", cfg.Replay.ICAO))
	case cfg.SimulationEnabled():
		source = simulation.NewService(cfg.Site.Latitude, cfg.Site.Longitude,
			cfg.Simulation.Aircraft, config.MaxSimulatedAircraft,
			time.Duration(cfg.Simulation.IntervalMs)*time.Millisecond, cfg.Simulation.Seed, log)
		log.Info("Simulating traffic, recording disabled", logger.Int("aircraft", cfg.Simulation.Aircraft))
	default:
		source = sbs.NewClient(cfg.SBS.Host, cfg.SBS.Port,
			time.Duration(cfg.SBS.DialTimeoutSecs)*time.Second, cfg.SBS.ReadBufferBytes, log)
	}

	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	adsbService := adsb.NewService(source, liveStore, wsServer, cfg.BroadcastInterval(), log)

	wsHandler := adsb.NewWebSocketHandler(adsbService, store, adsb.SiteInfo{
		Name: cfg.Site.Name,
		Lat:  cfg.Site.Latitude,
		Lon:  cfg.Site.Longitude,
	}, log)
	wsServer.SetMessageHandler(wsHandler)
	wsServer.SetConnectHandler(wsHandler)

	if err := adsbService.Start(ctx); err != nil {
		log.Error("Failed to start ADS-B service", logger.Error(err))
		os.Exit(1)
	}

	coverageService, err := coverage.NewService(store, coverage.Settings{
		Bands:            cfg.Coverage.BandsMeters,
		Precision:        cfg.Coverage.Precision,
		MinSamplesPerBin: cfg.Coverage.MinSamplesPerBin,
		Concavity:        cfg.Coverage.Concavity,
	}, coverage.Options{
		Workers:        cfg.Coverage.Workers,
		CacheTTL:       time.Duration(cfg.Coverage.CacheTTLSecs) * time.Second,
		ComputeTimeout: time.Minute,
		SnapshotDir:    cfg.Coverage.SnapshotDir,
	}, log)
	if err != nil {
		log.Error("Failed to create coverage service", logger.Error(err))
		os.Exit(1)
	}

	handler := api.NewHandler(adsbService, store, coverageService, wsServer, cfg.Coverage.Workers*2, cfg, log)
	router := api.NewRouter(handler, log)

	// --- Setup for multiple HTTP servers ---
	var servers []*http.Server
	allPorts := append([]int{cfg.Server.Port}, cfg.Server.AdditionalPorts...)

	log.Info("Configured listener ports", logger.Any("ports", allPorts))

	routes := router.Routes()
	for _, port := range allPorts {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
		server := &http.Server{
			Addr:         addr,
			Handler:      routes,
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		servers = append(servers, server)

		go func(s *http.Server) {
			log.Info("Starting HTTP server", logger.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server error on startup", logger.String("addr", s.Addr), logger.Error(err))
			}
		}(server)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	// Ingestion first so nothing new reaches the recorder
	adsbService.Stop()
	cancel()

	var closeErr error
	closeErr = multierr.Append(closeErr, recorder.Close())
	saved, failed := recorder.Stats()
	log.Info("Recorder drained", logger.Int64("saved", saved), logger.Int64("failed", failed))

	wsServer.Close()
	<-wsServer.Done()

	log.Info("Shutting down HTTP servers...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", logger.String("addr", srv.Addr), logger.Error(err))
			} else {
				log.Info("HTTP server shutdown complete", logger.String("addr", srv.Addr))
			}
		}(s)
	}
	wg.Wait()

	coverageService.Close()
	closeErr = multierr.Append(closeErr, store.Close())

	for _, err := range multierr.Errors(closeErr) {
		log.Error("Shutdown error", logger.Error(err))
	}

	log.Info("Server fully stopped")
}

func openStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (reportStorage, error) {
	switch cfg.Storage.Type {
	case "postgres":
		return postgres.Connect(ctx, cfg.Storage.Postgres, log)
	default:
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return sqlite.NewAircraftStorage(cfg.Storage.SQLitePath, log)
	}
}
