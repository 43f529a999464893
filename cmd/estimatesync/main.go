package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/99minutos/estimate-sync/internal/api"
	"github.com/99minutos/estimate-sync/internal/api/handler"
	"github.com/99minutos/estimate-sync/internal/core/domain"
	"github.com/99minutos/estimate-sync/internal/core/ports"
	"github.com/99minutos/estimate-sync/internal/core/service"
	"github.com/99minutos/estimate-sync/internal/infrastructure/cache"
	"github.com/99minutos/estimate-sync/internal/infrastructure/config"
	"github.com/99minutos/estimate-sync/internal/infrastructure/db/mongo"
	"github.com/99minutos/estimate-sync/internal/infrastructure/db/postgres"
	"github.com/99minutos/estimate-sync/internal/infrastructure/db/redis"
	"github.com/99minutos/estimate-sync/internal/infrastructure/queue"
	"github.com/99minutos/estimate-sync/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.Env == "development",
		Service: "estimate-sync",
		Version: version,
	})

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("estimate-sync stopped")
	}
	log.Info().Msg("estimate-sync stopped")
}

// backends holds every connection opened for the configured store and feed.
type backends struct {
	estimates  ports.EstimateRepository
	references ports.ReferenceRepository
	stream     ports.ChangeStream
	// storeFeed is the store backend's own change stream, the relay source.
	storeFeed ports.ChangeStream

	mongo *mongodriver.Client
	pg    *pgxpool.Pool
	redis *goredis.Client

	checks map[string]handler.Pinger
}

func (b *backends) close(ctx context.Context) {
	if b.mongo != nil {
		_ = b.mongo.Disconnect(ctx)
	}
	if b.pg != nil {
		b.pg.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
}

func connect(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backends, error) {
	b := &backends{checks: map[string]handler.Pinger{}}
	needs := func(name string) bool { return cfg.StoreBackend == name || cfg.FeedBackend == name }

	if needs("mongo") {
		client, db, err := mongo.Connect(ctx, mongo.Config{
			URI:           cfg.Mongo.URI,
			Database:      cfg.Mongo.Database,
			ChangeStreams: cfg.FeedBackend == "mongo" || cfg.FeedRelay,
		})
		if err != nil {
			return b, err
		}
		b.mongo = client
		b.checks["mongodb"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }

		repo := mongo.NewEstimateRepository(db, cfg.Mongo.Collection)
		if err := repo.EnsureIndexes(ctx); err != nil {
			log.Warn().Err(err).Msg("mongo index creation failed")
		}
		var streamOpts []mongo.StreamOption
		if cfg.FeedBackend == "mongo" || cfg.FeedRelay {
			if err := repo.EnablePreImages(ctx); err != nil {
				log.Warn().Err(err).Msg("mongo pre-images unavailable, scoped streams deliver all updates")
			} else {
				streamOpts = append(streamOpts, mongo.WithPreImages())
			}
		}
		feed := mongo.NewChangeStream(db, cfg.Mongo.Collection, log, streamOpts...)
		if cfg.StoreBackend == "mongo" {
			b.estimates = repo
			b.references = mongo.NewReferenceRepository(db)
			b.storeFeed = feed
		}
		if cfg.FeedBackend == "mongo" {
			b.stream = feed
		}
	}

	if needs("postgres") {
		pool, err := postgres.Connect(ctx, postgres.Config{URL: cfg.Postgres.URL})
		if err != nil {
			return b, err
		}
		b.pg = pool
		b.checks["postgres"] = pool.Ping

		if err := postgres.Migrate(ctx, pool, cfg.Postgres.Table); err != nil {
			return b, err
		}
		feed := postgres.NewChangeStream(pool, cfg.Postgres.Table, log)
		if cfg.StoreBackend == "postgres" {
			b.estimates = postgres.NewEstimateRepository(pool, cfg.Postgres.Table)
			b.references = postgres.NewReferenceRepository(pool)
			b.storeFeed = feed
		}
		if cfg.FeedBackend == "postgres" {
			b.stream = feed
		}
	}

	if cfg.Redis.Enabled || cfg.FeedBackend == "redis" {
		client, err := redis.Connect(ctx, redis.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			ClientName: "estimate-sync",
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			return b, err
		}
		b.redis = client
		b.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		if cfg.FeedBackend == "redis" {
			b.stream = redis.NewChangeStream(client, log)
		}
	}

	return b, nil
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	b, err := connect(ctx, cfg, log)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b.close(closeCtx)
	}()
	if err != nil {
		return err
	}

	backoff := service.Backoff{
		Initial:     cfg.Sync.BackoffInitial,
		Max:         cfg.Sync.BackoffMax,
		Multiplier:  cfg.Sync.BackoffMultiplier,
		MaxAttempts: cfg.Sync.MaxAttempts,
	}

	// --- Session cache and reference data ---
	sessionCache := cache.New(log, cache.WithSweepInterval(cfg.Cache.SweepInterval))
	refs := service.NewReferenceService(b.references, b.estimates, sessionCache, service.ReferenceTTLs{
		Territories:      cfg.Cache.Territories,
		UserRoles:        cfg.Cache.UserRoles,
		MaterialWaste:    cfg.Cache.MaterialWaste,
		PricingTemplates: cfg.Cache.PricingTemplates,
		EstimateSummary:  cfg.Cache.EstimateSummary,
	}, log)
	identities := service.NewIdentityService(refs, cfg.JWTSecret, 0, log)

	// --- Notifications ---
	session := service.NewSessionIdentity()
	hub := handler.NewNotificationHub(cfg.Notify.Recent, log, handler.WithAudience(func() string {
		if id := session.Current(); id != nil {
			return id.CacheKey()
		}
		return ""
	}))
	opts := []queue.Option{queue.WithBuffer(cfg.Notify.Buffer)}
	if b.redis != nil {
		opts = append(opts, queue.WithDeduper(redis.NewDedupChecker(b.redis, cfg.Notify.DedupTTL)))
	}
	dispatcher := queue.NewDispatcher(cfg.Notify.Workers, []ports.NotificationSink{hub}, log, opts...)
	dispatcher.Start(ctx)

	// --- Sync session ---
	subs := service.NewSubscriptionManager(b.stream, backoff, log)
	coordinator := service.NewCoordinator(b.estimates, subs, sessionCache, dispatcher, service.CoordinatorOptions{
		FetchTimeout:      cfg.Sync.FetchTimeout,
		ResyncOnReconnect: cfg.Sync.ResyncOnReconnect,
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coordinator.Serve(gctx) })
	go coordinator.WatchIdentity(gctx, session.Updates())
	go resetOnIdentityChange(gctx, session.Updates(), hub)

	if cfg.FeedRelay && b.redis != nil && cfg.FeedBackend != "redis" && b.storeFeed != nil {
		relay := service.NewRelay(b.storeFeed, redis.NewPublisher(b.redis), backoff, log)
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil {
				log.Error().Err(err).Msg("feed relay stopped")
			}
			return nil
		})
	}

	if cfg.SessionToken != "" {
		id, err := identities.Resolve(ctx, cfg.SessionToken)
		if err != nil {
			log.Error().Err(err).Msg("boot session token rejected")
		} else {
			session.Set(id)
		}
	}

	// --- HTTP ---
	router := api.NewRouter(api.Dependencies{
		JWTSecret:  cfg.JWTSecret,
		Identities: identities,
		Session:    session,
		Sync:       coordinator,
		References: refs,
		Cache:      sessionCache,
		Hub:        hub,
		Checks:     b.checks,
	}, log)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("store", cfg.StoreBackend).Str("feed", cfg.FeedBackend).Msg("estimate-sync listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
		return nil
	})

	return g.Wait()
}

// resetOnIdentityChange drops retained notifications and disconnects
// websocket clients whenever the session identity changes.
func resetOnIdentityChange(ctx context.Context, updates <-chan *domain.Identity, hub *handler.NotificationHub) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			hub.Reset()
		}
	}
}
