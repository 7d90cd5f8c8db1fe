// main.go - auctiond serves commit-reveal sealed-bid auctions over HTTP.
//
// Bids are sealed with a Groth16 proof of knowledge of (amount, secret)
// behind a MiMC commitment bound to the auction id, revealed after the
// bidding window, and settled by the seller or an administrator.
//
// Usage:
//
//	auctiond -config auctiond.toml
//
// Without [postgres] settings auctions are kept in memory; without [redis]
// rate limits are per replica and events only reach this replica's
// WebSocket clients; without [s3] closed auctions are not archived.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"sealedbid/internal/auction"
	s3blob "sealedbid/internal/blob/s3"
	"sealedbid/internal/cache/redis"
	"sealedbid/internal/circuit"
	"sealedbid/internal/server"
	"sealedbid/internal/server/handler"
	"sealedbid/internal/server/middleware"
	"sealedbid/internal/server/ws"
	"sealedbid/internal/store/memory"
	"sealedbid/internal/store/postgres"
	"sealedbid/internal/telemetry"
	"sealedbid/internal/zkp"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "auctiond.toml", "path to configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auctiond: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "auctiond: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	auditPath := ""
	if cfg.Log.EnableAudit {
		auditPath = cfg.Log.AuditLogPath
	}
	logger, err := telemetry.NewLogger(cfg.Log.Level, cfg.Log.File, auditPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auctiond: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("auctiond %s starting with config %s", version, *configPath)
	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("auctiond exited: %v", err)
	}
	logger.Info("auctiond stopped")
}

func run(ctx context.Context, cfg *Config, logger *telemetry.Logger) error {
	metrics := telemetry.NewMetricsCollector()
	health := telemetry.NewHealthChecker(version)

	verifier, err := zkp.LoadVerifier(cfg.ZKP.VerifyingKeyPath)
	if err != nil {
		return fmt.Errorf("load verifying key: %w", err)
	}
	if verifier.NbPublic() != circuit.NbPublic {
		return fmt.Errorf("verifying key has %d public inputs, the bid circuit has %d",
			verifier.NbPublic(), circuit.NbPublic)
	}
	health.RegisterComponent("verifier", true, nil)

	store, closeStore, err := openStore(ctx, cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	health.RegisterComponent("store", true, store.Ping)

	var (
		notifiers auction.FanOut
		limiter   middleware.Limiter
		source    ws.Source
	)
	if cfg.Redis.Enabled() {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return err
		}
		defer rc.Close()
		health.RegisterComponent("redis", false, rc.Ping)

		bus := redis.NewEventBus(rc)
		notifiers = append(notifiers, bus)
		source = bus
		if cfg.RateLimit.Enabled {
			limiter = redis.NewRateLimiter(rc, cfg.RateLimit.Requests, cfg.RateLimit.Window.Duration)
		}
		logger.Info("redis connected at %s", cfg.Redis.Addr)
	} else if cfg.RateLimit.Enabled {
		limiter = middleware.NewLocalLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Requests, cfg.RateLimit.Window.Duration)
	}

	hub := ws.NewHub(source, logger)
	if source == nil {
		notifiers = append(notifiers, hub)
	}

	opts := []auction.Option{
		auction.WithLogger(logger.With("engine")),
		auction.WithMetrics(metrics),
		auction.WithNotifier(notifiers),
	}
	if cfg.S3.Enabled() {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return err
		}
		health.RegisterComponent("archive", false, sc.Health)
		opts = append(opts, auction.WithArchiver(s3blob.NewArchiver(sc, cfg.S3.Prefix)))
		logger.Info("archiving closed auctions to s3://%s/%s", cfg.S3.Bucket, cfg.S3.Prefix)
	}

	engine, err := auction.NewEngine(auction.Config{
		ReplayBinding:          cfg.Auction.ReplayBinding,
		AllowForceClose:        cfg.Auction.AllowForceClose,
		CloseRequiresRevealEnd: cfg.Auction.CloseRequiresRevealEnd,
		ClosedCacheSize:        cfg.Auction.ClosedCacheSize,
		MaxDurationMinutes:     cfg.Auction.MaxDurationMinutes,
	}, store, verifier, opts...)
	if err != nil {
		return err
	}
	for _, w := range cfg.Warnings() {
		logger.Warn("%s", w)
	}

	srv := server.NewServer(server.Config{
		Addr:        cfg.Server.Addr,
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKey:      cfg.Server.APIKey,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(health, metrics),
		Auctions: handler.NewAuctionHandler(engine, logger),
	}, hub, limiter, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore connects to PostgreSQL when configured and falls back to the
// in-memory store otherwise. A configured database that cannot be reached is
// fatal.
func openStore(ctx context.Context, cfg PostgresConfig, logger *telemetry.Logger) (auction.Store, func(), error) {
	if !cfg.Enabled() {
		logger.Warn("no database configured; auctions are kept in memory only")
		return memory.New(), func() {}, nil
	}

	client, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.DSN,
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		User:     cfg.User,
		Password: cfg.Password,
		SSLMode:  cfg.SSLMode,
		MaxConns: cfg.MaxConns,
		MinConns: cfg.MinConns,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.RunMigrations {
		if err := client.RunMigrations(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
	}
	logger.Info("connected to postgres")
	return postgres.NewAuctionStore(client.Pool()), client.Close, nil
}
