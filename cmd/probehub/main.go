package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"probehub/pkg/auth"
	"probehub/pkg/config"
	"probehub/pkg/ingest"
	"probehub/pkg/log"
	"probehub/pkg/metrics"
	"probehub/pkg/query"
	"probehub/pkg/server"
	"probehub/pkg/statuscache"
	"probehub/pkg/store"
	"probehub/pkg/store/postgres"
	"probehub/pkg/store/sqlite"
)

//go:embed VERSION
var Version string

func main() {
	// Initialize logger first
	_ = log.Logger

	flagSet := pflag.NewFlagSet("probehub", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "", "path to YAML configuration file")
	showVersion := flagSet.Bool("version", false, "print version and exit")
	config.RegisterFlags(flagSet)

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal().Err(err).Msg("Invalid arguments")
	}

	version := strings.TrimSpace(Version)
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, os.LookupEnv, flagSet)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("Failed to load configuration")
	}
	log.Configure(cfg.Logging.Level, cfg.Logging.JSON)

	ctx := context.Background()

	metricStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("Failed to open durable store")
	}
	defer closeQuietly("durable store", metricStore.Close)

	cache, err := openCache(ctx, cfg.Cache)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Cache.Backend).Msg("Failed to open status cache")
	}
	defer closeQuietly("status cache", cache.Close)

	var instruments *metrics.Metrics
	if cfg.Metrics.Enabled {
		instruments = metrics.New()
	}

	ingestService := ingest.NewService(ingest.Config{
		Secret:       cfg.Ingest.HMACSecret,
		MaxBodyBytes: cfg.Ingest.MaxBodyBytes,
		MaxClockSkew: cfg.Ingest.MaxClockSkew,
		StatusTTL:    cfg.StatusTTL(),
	}, auth.NewVerifier(auth.NewKeyCache()), metricStore, cache)

	queryService := query.NewService(query.Config{
		OfflineThreshold:  cfg.Status.OfflineThreshold,
		NodeListLimit:     cfg.Query.NodeListLimit,
		MetricRowLimit:    cfg.Query.MetricRowLimit,
		LookupConcurrency: cfg.Query.LookupConcurrency,
	}, metricStore, cache)

	srv := server.New(server.Options{
		Version:         version,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Metrics:         instruments,
		MetricsPath:     cfg.Metrics.Path,
	}, ingestService, queryService, metricStore, cache)

	log.Info().
		Str("db_driver", cfg.Database.Driver).
		Str("cache_backend", cfg.Cache.Backend).
		Dur("status_ttl", ingestService.StatusTTL()).
		Dur("offline_threshold", cfg.Status.OfflineThreshold).
		Msg("Collector configured")

	if err := srv.Start(cfg.Server.ListenAddr); err != nil {
		log.Error().Err(err).Msg("Server failed")
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DSN, cfg.MaxConns)
	default:
		return sqlite.New(cfg.DSN)
	}
}

func openCache(ctx context.Context, cfg config.CacheConfig) (statuscache.Cache, error) {
	if cfg.Backend != config.CacheRedis {
		return statuscache.NewMemory(cfg.JanitorInterval), nil
	}

	cache := statuscache.NewRedis(statuscache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := cache.Ping(ctx); err != nil {
		_ = cache.Close()
		return nil, err
	}
	return cache, nil
}

func closeQuietly(what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Warn().Err(err).Str("component", what).Msg("Close failed")
	}
}
