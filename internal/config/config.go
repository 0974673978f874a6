package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Extractors.
const (
	ExtractSeries = "series"
	ExtractProbe  = "probe"
)

// Probe is a fixed (lon, lat, depth) sampled from mesh files.
type Probe struct {
	Lon   float64
	Lat   float64
	Depth float64
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	ResultsRoot string
	Clients     []string
	FileKind    string

	Extractor       string
	Probe           Probe
	ProbeCategories []string
	CategoryMapFile string

	// Node queries over HTTP.
	MeshFileKind  string
	MeshCacheSize int

	StoreBackend   string
	StorePath      string
	StoreMinFreeMB uint64

	SyncInterval       time.Duration
	ForecastWindowDays int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Commit notifications.
	KafkaEnabled     bool
	KafkaBrokers     []string
	KafkaCommitTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	syncInterval, err := time.ParseDuration(sharedcfg.EnvOrDefault("SYNC_INTERVAL", "15m"))
	if err != nil || syncInterval <= 0 {
		return nil, errors.New("invalid SYNC_INTERVAL")
	}

	windowDays, err := strconv.Atoi(sharedcfg.EnvOrDefault("FORECAST_WINDOW_DAYS", "10"))
	if err != nil || windowDays < 0 {
		return nil, errors.New("invalid FORECAST_WINDOW_DAYS")
	}

	cacheSize, err := strconv.Atoi(sharedcfg.EnvOrDefault("MESH_CACHE_SIZE", "8"))
	if err != nil || cacheSize < 0 {
		return nil, errors.New("invalid MESH_CACHE_SIZE")
	}

	minFree, err := strconv.ParseUint(sharedcfg.EnvOrDefault("STORE_MIN_FREE_MB", "64"), 10, 64)
	if err != nil {
		return nil, errors.New("invalid STORE_MIN_FREE_MB")
	}

	cfg := &Config{
		ResultsRoot:        sharedcfg.EnvOrDefault("RESULTS_ROOT", "."),
		Clients:            splitList(os.Getenv("CLIENTS")),
		FileKind:           sharedcfg.EnvOrDefault("FILE_KIND", ".dfs0"),
		Extractor:          strings.ToLower(sharedcfg.EnvOrDefault("EXTRACTOR", ExtractSeries)),
		ProbeCategories:    uniq(splitList(sharedcfg.EnvOrDefault("PROBE_CATEGORIES", "Salinity,Temperature,Current speed"))),
		CategoryMapFile:    os.Getenv("CATEGORY_MAP_FILE"),
		MeshFileKind:       sharedcfg.EnvOrDefault("MESH_FILE_KIND", ".dfsu"),
		MeshCacheSize:      cacheSize,
		StoreBackend:       strings.ToLower(sharedcfg.EnvOrDefault("STORE_BACKEND", BackendSQLite)),
		StorePath:          sharedcfg.EnvOrDefault("STORE_PATH", "data/mesh.db"),
		StoreMinFreeMB:     minFree,
		SyncInterval:       syncInterval,
		ForecastWindowDays: windowDays,
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		KafkaEnabled:       os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaCommitTopic:   sharedcfg.EnvOrDefault("KAFKA_COMMIT_TOPIC", "mesh-commits"),
	}

	switch cfg.StoreBackend {
	case BackendSQLite, BackendBadger:
	default:
		return nil, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendSQLite, BackendBadger, cfg.StoreBackend)
	}

	switch cfg.Extractor {
	case ExtractSeries:
	case ExtractProbe:
		p, err := parseProbe(os.Getenv("PROBE"))
		if err != nil {
			return nil, err
		}
		cfg.Probe = p
		if len(cfg.ProbeCategories) == 0 {
			return nil, errors.New("PROBE_CATEGORIES is required when EXTRACTOR=probe")
		}
	default:
		return nil, fmt.Errorf("EXTRACTOR must be %q or %q, got %q", ExtractSeries, ExtractProbe, cfg.Extractor)
	}

	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaCommitTopic == "" {
			return nil, errors.New("KAFKA_COMMIT_TOPIC is required when KAFKA_ENABLED is true")
		}
	}

	return cfg, nil
}

// parseProbe reads "lon,lat,depth".
func parseProbe(s string) (Probe, error) {
	parts := splitList(s)
	if len(parts) != 3 {
		return Probe{}, errors.New("PROBE must be \"lon,lat,depth\" when EXTRACTOR=probe")
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return Probe{}, fmt.Errorf("invalid PROBE component %q", p)
		}
		v[i] = f
	}
	return Probe{Lon: v[0], Lat: v[1], Depth: v[2]}, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// uniq drops repeated entries, keeping first occurrences in order. Each probe
// category yields one row per timestamp, so a repeat would collide on commit.
func uniq(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, v := range list {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
