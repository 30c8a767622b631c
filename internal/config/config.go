package config

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server     ServerConfig     `toml:"server"`     // HTTP server settings
	SBS        SBSConfig        `toml:"sbs"`        // Upstream BaseStation feed settings
	State      StateConfig      `toml:"state"`      // Live aircraft state settings
	Storage    StorageConfig    `toml:"storage"`    // Data persistence settings
	Site       SiteConfig       `toml:"site"`       // Observation site settings
	Coverage   CoverageConfig   `toml:"coverage"`   // Coverage polygon computation settings
	Replay     ReplayConfig     `toml:"replay"`     // Replay source settings (substitutes the live feed)
	Simulation SimulationConfig `toml:"simulation"` // Synthetic traffic source (substitutes the live feed)
	Logging    LoggingConfig    `toml:"logging"`    // Application logging settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // Primary HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
	AdditionalPorts    []int    `toml:"additional_ports"`      // Additional HTTP ports to listen on (useful for multiple interfaces)
}

// SBSConfig contains the upstream BaseStation (port 30003 style) feed settings
type SBSConfig struct {
	Host            string `toml:"host"`                 // Feed host (e.g., readsb / dump1090)
	Port            int    `toml:"port"`                 // Feed TCP port, usually 30003
	DialTimeoutSecs int    `toml:"dial_timeout_seconds"` // Connect timeout (default: 10)
	ReadBufferBytes int    `toml:"read_buffer_bytes"`    // Size of a single socket read (default: 4096)
}

// StateConfig contains live state settings.
// MaxAgeMs and SaveIntervalMs have no defaults and must be configured.
type StateConfig struct {
	MaxAgeMs            int `toml:"max_age_ms"`            // Staleness threshold after which an aircraft is evicted
	SaveIntervalMs      int `toml:"save_interval_ms"`      // Minimum interval between two saves of a stationary aircraft
	BroadcastIntervalMs int `toml:"broadcast_interval_ms"` // Snapshot broadcast + eviction sweep cadence (default: 500)
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	Type       string         `toml:"type"`        // "sqlite" (default) or "postgres"
	SQLitePath string         `toml:"sqlite_path"` // Path to the SQLite database file
	Postgres   PostgresConfig `toml:"postgres"`    // PostgreSQL connection settings (type = "postgres")
}

// PostgresConfig contains PostgreSQL connection settings
type PostgresConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	Database     string `toml:"database"`
	SSLMode      string `toml:"sslmode"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// SiteConfig describes the observation site (receiver location).
// Latitude/Longitude can be given directly or resolved from an airports CSV.
type SiteConfig struct {
	Name           string  `toml:"name"`             // Site tag stored with every record; empty disables tagging
	Latitude       float64 `toml:"latitude"`         // Latitude in decimal degrees
	Longitude      float64 `toml:"longitude"`        // Longitude in decimal degrees
	ElevationFeet  int     `toml:"elevation_feet"`   // Elevation above sea level
	AirportCode    string  `toml:"airport_code"`     // Optional ICAO code used to look up coordinates
	AirportsDBPath string  `toml:"airports_db_path"` // Path to airport database CSV file (OurAirports format)
}

// CoverageConfig contains coverage polygon computation settings
type CoverageConfig struct {
	MinSamplesPerBin int       `toml:"min_samples_per_bin"` // Bins with fewer samples are treated as noise (default: 1)
	Concavity        float64   `toml:"concavity"`           // Concave hull concavity, higher is closer to convex (default: 2)
	Precision        int       `toml:"precision"`           // Decimal places used for spatial binning (default: 2)
	BandsMeters      []float64 `toml:"bands_m"`             // Altitude bands in meters, ascending
	Workers          int       `toml:"workers"`             // Coverage worker pool size (default: 2)
	CacheTTLSecs     int       `toml:"cache_ttl_seconds"`   // Cache lifetime of a computed coverage (0 = no cache)
	SnapshotDir      string    `toml:"snapshot_dir"`        // Directory for compressed coverage snapshots (empty = disabled)
}

// ReplayConfig contains replay source settings
type ReplayConfig struct {
	From       string `toml:"from"`        // RFC3339 start time; non-empty enables replay instead of the live feed
	ICAO       string `toml:"icao"`        // Optional aircraft filter
	IntervalMs int    `toml:"interval_ms"` // Emission cadence (default: 3000)
}

// SimulationConfig contains synthetic traffic settings
type SimulationConfig struct {
	Aircraft   int    `toml:"aircraft"`    // Number of simulated aircraft; > 0 enables the simulator
	IntervalMs int    `toml:"interval_ms"` // Report cadence (default: 1000)
	Seed       uint64 `toml:"seed"`        // Random seed, 0 picks one at startup
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level      string `toml:"level"`        // Log level: "debug", "info", "warn", or "error"
	Format     string `toml:"format"`       // Log format: "json" (structured) or "console" (human-readable)
	File       string `toml:"file"`         // Optional rotating log file
	MaxSizeMB  int    `toml:"max_size_mb"`  // Rotate after this size (default: 64)
	MaxBackups int    `toml:"max_backups"`  // Rotated files to keep
	MaxAgeDays int    `toml:"max_age_days"` // Days to keep rotated files
}

// MaxSimulatedAircraft caps simulation.aircraft
const MaxSimulatedAircraft = 50

// DefaultBandsMeters are the altitude bands used when none are configured
var DefaultBandsMeters = []float64{1000, 2000, 4000, 6000, 8000, 10000, 25000}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if config.Site.AirportCode != "" {
		if err := config.loadSiteFromCSV(); err != nil {
			return nil, fmt.Errorf("failed to load site details from CSV: %w", err)
		}
	}

	return &config, nil
}

// loadSiteFromCSV parses the airports.csv file to find the site coordinates
func (c *Config) loadSiteFromCSV() error {
	if c.Site.AirportsDBPath == "" {
		return fmt.Errorf("airports_db_path is required when airport_code is set")
	}

	file, err := os.Open(c.Site.AirportsDBPath)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.LazyQuotes = true

	// Skip header
	if _, err := reader.Read(); err != nil {
		return err
	}

	records, err := reader.ReadAll()
	if err != nil {
		return err
	}

	for _, record := range records {
		// ident (1), latitude_deg (4), longitude_deg (5), elevation_ft (6)
		if len(record) < 7 || record[1] != c.Site.AirportCode {
			continue
		}

		lat, err := strconv.ParseFloat(record[4], 64)
		if err != nil {
			return fmt.Errorf("invalid latitude in CSV for %s: %w", c.Site.AirportCode, err)
		}
		lon, err := strconv.ParseFloat(record[5], 64)
		if err != nil {
			return fmt.Errorf("invalid longitude in CSV for %s: %w", c.Site.AirportCode, err)
		}
		c.Site.Latitude = lat
		c.Site.Longitude = lon

		// Elevation might be empty
		if record[6] != "" {
			if elev, err := strconv.ParseFloat(record[6], 64); err == nil {
				c.Site.ElevationFeet = int(elev)
			}
		}

		if c.Site.Name == "" {
			c.Site.Name = c.Site.AirportCode
		}
		return nil
	}

	return fmt.Errorf("airport code %s not found in %s", c.Site.AirportCode, c.Site.AirportsDBPath)
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration and fills in defaults
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	portsSeen := map[int]bool{c.Server.Port: true}
	for _, p := range c.Server.AdditionalPorts {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid additional server port: %d", p)
		}
		if portsSeen[p] {
			return fmt.Errorf("duplicate port configured: %d (primary or additional)", p)
		}
		portsSeen[p] = true
	}

	if err := c.ValidateState(); err != nil {
		return err
	}
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if err := c.ValidateCoverage(); err != nil {
		return err
	}
	if err := c.ValidateReplay(); err != nil {
		return err
	}
	if err := c.ValidateSimulation(); err != nil {
		return err
	}

	// The live feed is only needed when nothing substitutes it
	if !c.ReplayEnabled() && !c.SimulationEnabled() {
		if c.SBS.Host == "" {
			return fmt.Errorf("sbs.host is required")
		}
		if c.SBS.Port <= 0 || c.SBS.Port > 65535 {
			return fmt.Errorf("invalid sbs port: %d", c.SBS.Port)
		}
	}
	if c.SBS.DialTimeoutSecs <= 0 {
		c.SBS.DialTimeoutSecs = 10
	}
	if c.SBS.ReadBufferBytes <= 0 {
		c.SBS.ReadBufferBytes = 4096
	}

	if c.Site.Latitude < -90 || c.Site.Latitude > 90 {
		return fmt.Errorf("invalid site latitude: %f", c.Site.Latitude)
	}
	if c.Site.Longitude < -180 || c.Site.Longitude > 180 {
		return fmt.Errorf("invalid site longitude: %f", c.Site.Longitude)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 64
	}

	return nil
}

// ValidateState checks the live state settings. The staleness threshold and the
// save interval have no sensible universal value and are required.
func (c *Config) ValidateState() error {
	if c.State.MaxAgeMs <= 0 {
		return fmt.Errorf("state.max_age_ms is required and must be > 0")
	}
	if c.State.SaveIntervalMs <= 0 {
		return fmt.Errorf("state.save_interval_ms is required and must be > 0")
	}
	if c.State.BroadcastIntervalMs <= 0 {
		c.State.BroadcastIntervalMs = 500
	}
	return nil
}

// ValidateStorage checks the storage backend settings
func (c *Config) ValidateStorage() error {
	if c.Storage.Type == "" {
		c.Storage.Type = "sqlite"
	}

	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			c.Storage.SQLitePath = "data/sbs-radar.db"
		}
	case "postgres":
		pg := &c.Storage.Postgres
		if pg.Host == "" || pg.Database == "" {
			return fmt.Errorf("storage.postgres host and database are required")
		}
		if pg.Port == 0 {
			pg.Port = 5432
		}
		if pg.SSLMode == "" {
			pg.SSLMode = "disable"
		}
		if pg.MaxOpenConns <= 0 {
			pg.MaxOpenConns = 10
		}
		if pg.MaxIdleConns <= 0 {
			pg.MaxIdleConns = 2
		}
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}
	return nil
}

// ValidateCoverage checks the coverage settings
func (c *Config) ValidateCoverage() error {
	cov := &c.Coverage
	if cov.MinSamplesPerBin <= 0 {
		cov.MinSamplesPerBin = 1
	}
	if cov.Concavity < 0 {
		return fmt.Errorf("invalid coverage concavity: %f (must be >= 0)", cov.Concavity)
	}
	if cov.Concavity == 0 {
		cov.Concavity = 2
	}
	if cov.Precision < 0 || cov.Precision > 6 {
		return fmt.Errorf("invalid coverage precision: %d (must be 0-6)", cov.Precision)
	}
	if cov.Precision == 0 {
		cov.Precision = 2
	}
	if len(cov.BandsMeters) == 0 {
		cov.BandsMeters = append([]float64(nil), DefaultBandsMeters...)
	}
	for i := 1; i < len(cov.BandsMeters); i++ {
		if cov.BandsMeters[i] <= cov.BandsMeters[i-1] {
			return fmt.Errorf("coverage bands must be strictly ascending: %v", cov.BandsMeters)
		}
	}
	if cov.Workers <= 0 {
		cov.Workers = 2
	}
	if cov.CacheTTLSecs < 0 {
		return fmt.Errorf("invalid coverage cache_ttl_seconds: %d", cov.CacheTTLSecs)
	}
	return nil
}

// ValidateReplay checks the replay settings
func (c *Config) ValidateReplay() error {
	if c.Replay.IntervalMs <= 0 {
		c.Replay.IntervalMs = 3000
	}
	if c.Replay.From != "" {
		if _, err := time.Parse(time.RFC3339, c.Replay.From); err != nil {
			return fmt.Errorf("invalid replay.from %q: %w", c.Replay.From, err)
		}
	}
	return nil
}

// ValidateSimulation checks the synthetic traffic settings
func (c *Config) ValidateSimulation() error {
	if c.Simulation.Aircraft < 0 || c.Simulation.Aircraft > MaxSimulatedAircraft {
		return fmt.Errorf("invalid simulation.aircraft: %d (must be 0-%d)", c.Simulation.Aircraft, MaxSimulatedAircraft)
	}
	if c.Simulation.IntervalMs <= 0 {
		c.Simulation.IntervalMs = 1000
	}
	return nil
}

// SimulationEnabled reports whether synthetic traffic replaces the live feed.
// Replay takes precedence.
func (c *Config) SimulationEnabled() bool {
	return !c.ReplayEnabled() && c.Simulation.Aircraft > 0
}

// RecordingEnabled reports whether live reports are persisted. Only the real
// feed is recorded.
func (c *Config) RecordingEnabled() bool {
	return !c.ReplayEnabled() && !c.SimulationEnabled()
}

// ReplayEnabled reports whether stored reports are replayed instead of reading the live feed
func (c *Config) ReplayEnabled() bool {
	return c.Replay.From != ""
}

// ReplayFrom returns the parsed replay start time. Only valid after Validate.
func (c *Config) ReplayFrom() time.Time {
	t, _ := time.Parse(time.RFC3339, c.Replay.From)
	return t.UTC()
}

// MaxAge returns the staleness threshold
func (c *Config) MaxAge() time.Duration {
	return time.Duration(c.State.MaxAgeMs) * time.Millisecond
}

// SaveInterval returns the minimum save interval
func (c *Config) SaveInterval() time.Duration {
	return time.Duration(c.State.SaveIntervalMs) * time.Millisecond
}

// BroadcastInterval returns the snapshot broadcast cadence
func (c *Config) BroadcastInterval() time.Duration {
	return time.Duration(c.State.BroadcastIntervalMs) * time.Millisecond
}
