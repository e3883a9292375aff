package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"entrypack/internal/entrypack"
	"entrypack/internal/jwtauth"
	"entrypack/internal/notify"
	"entrypack/internal/platform/config"
	"entrypack/internal/platform/httpserver"
	"entrypack/internal/platform/logger"
	"entrypack/internal/platform/metrics"
	platformredis "entrypack/internal/platform/redis"
	"entrypack/internal/reconcile"
	"entrypack/internal/registry"
	"entrypack/internal/snapshot"
	httptransport "entrypack/internal/transport/http"
	"entrypack/internal/window"
	"entrypack/pkg/domain"
)

// snapshotFreezer adapts the snapshot engine to the pack service, which only
// cares that a frozen copy exists, not what it looks like.
type snapshotFreezer struct {
	engine *snapshot.Engine
}

func (f snapshotFreezer) Freeze(ctx context.Context, pack entrypack.Pack, reason entrypack.FreezeReason) error {
	_, err := f.engine.Freeze(ctx, pack, reason)
	return err
}

// defaultPolicies is the built-in destination table. Restricted destinations
// only accept submissions inside a fixed window before arrival; everything
// else is open the moment an arrival date is known.
func defaultPolicies() map[domain.DestinationID]window.Policy {
	return map[domain.DestinationID]window.Policy{
		domain.DestinationID("NZ"):  {Restricted: true, Length: 72 * time.Hour},
		domain.DestinationID("KOR"): {Restricted: true, Length: 72 * time.Hour},
		domain.DestinationID("LKA"): {Restricted: true, Length: 48 * time.Hour},
	}
}

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()
	schema := entrypack.DefaultSchema()

	var (
		packStore  entrypack.Store
		snapStore  snapshot.Store
		auditStore snapshot.AuditStore
	)
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("opening postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := entrypack.EnsurePackSchema(ctx, db); err != nil {
			cancel()
			log.Error("ensuring pack schema", "error", err)
			os.Exit(1)
		}
		if err := snapshot.EnsureSnapshotSchema(ctx, db); err != nil {
			cancel()
			log.Error("ensuring snapshot schema", "error", err)
			os.Exit(1)
		}
		cancel()
		packStore = entrypack.NewPostgresStore(db)
		snapStore = snapshot.NewPostgresStore(db)
		auditStore = snapshot.NewPostgresAuditStore(db)
		log.Info("durable store: postgres")
	} else {
		packStore = entrypack.NewInMemoryStore()
		snapStore = snapshot.NewInMemoryStore()
		auditStore = snapshot.NewInMemoryAuditStore()
		log.Warn("durable store: in-memory, data will not survive restarts")
	}

	var cacheStore entrypack.Store
	if cfg.Redis.URL != "" {
		rcli, err := platformredis.New(cfg.Redis)
		if err != nil {
			log.Error("connecting to redis", "error", err)
			os.Exit(1)
		}
		defer rcli.Close()
		cacheStore = entrypack.NewRedisStore(rcli.Client)
		log.Info("cache store: redis")
	} else {
		cacheStore = entrypack.NewInMemoryFollowerStore()
		log.Info("cache store: in-memory")
	}

	var events notify.Publisher
	if len(cfg.Kafka.SeedBrokers) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		kp, err := notify.NewKafkaPublisher(ctx, cfg.Kafka.SeedBrokers, cfg.Kafka.Topic)
		cancel()
		if err != nil {
			log.Error("connecting to kafka", "error", err)
			os.Exit(1)
		}
		defer kp.Close()
		events = kp
		log.Info("change events: kafka", "topic", cfg.Kafka.Topic)
	} else {
		events = notify.NewInMemoryPublisher()
		log.Info("change events: in-process")
	}

	engine := snapshot.NewEngine(
		snapStore,
		auditStore,
		snapshot.NewFSAssetCopier(cfg.SnapshotAssetDir),
		schema,
		log,
		snapshot.WithMetrics(m),
	)

	policies := entrypack.StaticPolicies(defaultPolicies())
	service := entrypack.NewService(
		packStore,
		cacheStore,
		snapshotFreezer{engine: engine},
		events,
		schema,
		policies,
		log,
		entrypack.WithMetrics(m),
		entrypack.WithExpiryGrace(cfg.ExpiryGrace),
	)

	resolver := reconcile.NewResolver(packStore, cacheStore, m, log)
	reg := registry.New(packStore, policies)
	jwtSvc := jwtauth.NewService(cfg.JWTSigningKey, "entrypack")

	router := httptransport.NewRouter(
		log,
		jwtSvc,
		httptransport.NewPackHandler(service, reg, log),
		httptransport.NewSnapshotHandler(engine, resolver, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting entrypack server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n, err := service.SweepExpired(ctx)
				if err != nil {
					log.Error("expiry sweep", "error", err)
					continue
				}
				if n > 0 {
					log.Info("expiry sweep finished", "expired", n)
				}
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
