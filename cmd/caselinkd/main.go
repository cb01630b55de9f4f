// Package main provides the caselink daemon entry point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/aduanhub/caselink/internal/agencies"
	"github.com/aduanhub/caselink/internal/config"
	storage "github.com/aduanhub/caselink/internal/db/gorm"
	"github.com/aduanhub/caselink/internal/grouping"
	"github.com/aduanhub/caselink/internal/index"
	"github.com/aduanhub/caselink/internal/search"
	"github.com/aduanhub/caselink/internal/vectorizer"
	"github.com/aduanhub/caselink/internal/watcher"
	"github.com/aduanhub/caselink/internal/worker"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	// Parse flags
	port := flag.Int("port", 0, "HTTP listen port (default: from settings)")
	dbPath := flag.String("db", "", "SQLite database path (default: ~/.caselink/caselink.db)")
	dsn := flag.String("dsn", "", "Postgres DSN (switches the store to Postgres)")
	embedURL := flag.String("embed-url", "", "Embedding service URL (default: local feature hashing)")
	redisAddr := flag.String("redis", "", "Redis address for the embedding cache")
	indexMode := flag.String("index", "", "Similarity index backend: persisted or memory")
	workers := flag.Int("workers", 0, "Ingestion worker count")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup logging
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	// Ensure data directory and settings exist
	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directories")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	applyFlags(cfg, *port, *dbPath, *dsn, *embedURL, *redisAddr, *indexMode, *workers)

	if !*debug && cfg.LogLevel == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Initialize the store (migrations run automatically)
	storeCfg := storage.Config{
		Driver:   storage.Driver(cfg.DBDriver),
		Path:     cfg.DBPath,
		DSN:      cfg.DSN,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	}
	if storeCfg.Driver == storage.DriverSQLite && storeCfg.Path == "" {
		storeCfg.Path = config.DBPath()
	}
	store, err := storage.NewStore(storeCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer store.Close()

	records := storage.NewRecordStore(store)
	cases := storage.NewCaseStore(store, cfg.CasePrefix)

	embedder := buildEmbedder(cfg)
	idx, err := buildIndex(cfg, records)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize similarity index")
	}

	groupSvc := grouping.NewService(records, cases, idx, embedder, grouping.Options{
		Threshold: cfg.Threshold,
		TopK:      cfg.TopK,
	})

	// Hot-reload tunables when the settings file changes.
	settingsWatcher, err := watcher.New(config.SettingsPath(), func() {
		fresh, err := config.Reload()
		if err != nil {
			log.Warn().Err(err).Msg("Settings reload failed")
			return
		}
		groupSvc.SetThreshold(fresh.Threshold)
		log.Info().Float64("threshold", fresh.Threshold).Msg("Applied updated settings")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Settings watcher unavailable")
	} else {
		if err := settingsWatcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Settings watcher failed to start")
		}
		defer settingsWatcher.Stop()
	}

	svc := worker.NewService(Version, cfg, store, records, cases, groupSvc)
	svc.SetSearchManager(search.NewManager(records, idx, embedder))

	registry, err := agencies.Load(filepath.Join(config.DataDir(), "agencies.yaml"))
	if err != nil {
		log.Warn().Err(err).Msg("Agency registry unavailable, classification disabled")
	} else if registry.Len() > 0 {
		svc.SetAgencyRegistry(registry)
		log.Info().Int("agencies", registry.Len()).Msg("Loaded agency registry")
	}

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := svc.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Shutdown error")
		}
	}()

	log.Info().Int("port", cfg.Port).Str("version", Version).
		Str("index", cfg.IndexMode).Str("embedder", embedder.Model()).
		Msg("Starting caselink")
	if err := svc.Start(); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// applyFlags lets command-line flags override file and environment config.
func applyFlags(cfg *config.Config, port int, dbPath, dsn, embedURL, redisAddr, indexMode string, workers int) {
	if port > 0 {
		cfg.Port = port
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if dsn != "" {
		cfg.DSN = dsn
		cfg.DBDriver = string(storage.DriverPostgres)
	}
	if embedURL != "" {
		cfg.EmbedURL = embedURL
	}
	if redisAddr != "" {
		cfg.RedisAddr = redisAddr
	}
	if indexMode != "" {
		cfg.IndexMode = indexMode
	}
	if workers > 0 {
		cfg.Workers = workers
	}
}

// buildEmbedder assembles the embedding chain: remote model when
// configured, local feature hashing otherwise, with an optional Redis
// cache in front.
func buildEmbedder(cfg *config.Config) vectorizer.Embedder {
	var embedder vectorizer.Embedder
	if cfg.EmbedURL != "" {
		embedder = vectorizer.NewHTTPEmbedder(vectorizer.HTTPConfig{
			URL:       cfg.EmbedURL,
			Model:     cfg.EmbedModel,
			Dimension: cfg.Dimension,
		})
	} else {
		log.Info().Msg("No embedding service configured, using local feature hashing")
		embedder = vectorizer.NewHashEmbedder(cfg.Dimension)
	}

	if cfg.RedisAddr != "" {
		pool := vectorizer.NewRedisPool(cfg.RedisAddr)
		embedder = vectorizer.NewCachedEmbedder(embedder, pool, 0)
	}
	return embedder
}

// buildIndex selects the similarity index backend. Memory mode is warmed
// from the vectors already in the store.
func buildIndex(cfg *config.Config, records *storage.RecordStore) (index.Index, error) {
	switch cfg.IndexMode {
	case "memory":
		mem := index.NewMemory(cfg.Dimension)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		existing, err := records.FetchWithVectors(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range existing {
			if err := mem.Add(ctx, rec.ID, rec.Vector); err != nil {
				log.Warn().Err(err).Int64("record_id", rec.ID).Msg("Skipping record during index warm-up")
			}
		}
		log.Info().Int("records", mem.Len()).Msg("Warmed in-memory index")
		return mem, nil
	default:
		return index.NewPersisted(records, cfg.Dimension), nil
	}
}
