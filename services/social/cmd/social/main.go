package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/social-platform/internal/platform/auth"
	"github.com/example/social-platform/internal/platform/config"
	"github.com/example/social-platform/internal/platform/db"
	"github.com/example/social-platform/internal/platform/httpserver"
	"github.com/example/social-platform/internal/platform/logging"
	"github.com/example/social-platform/internal/platform/natsconn"
	"github.com/example/social-platform/internal/platform/run"
	"github.com/example/social-platform/internal/platform/tracing"
	socialconfig "github.com/example/social-platform/services/social/internal/config"
	"github.com/example/social-platform/services/social/internal/engagement"
	"github.com/example/social-platform/services/social/internal/grpcapi"
	"github.com/example/social-platform/services/social/internal/handlers"
	"github.com/example/social-platform/services/social/internal/outbox"
	"github.com/example/social-platform/services/social/internal/store"
	"github.com/example/social-platform/services/social/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	scfg, err := socialconfig.LoadSocial()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	shutdownTracing, err := tracing.Setup(tracing.Options{ServiceName: cfg.ServiceName, Exporter: cfg.TracesExporter})
	if err != nil {
		log.Error("tracing init failed", zap.Error(err))
		_ = log.Sync()
		run.Exit(1)
	}
	log.Info("tracing", zap.String("exporter", cfg.TracesExporter))

	b, err := initBackend(context.Background(), log, scfg)
	if err != nil {
		log.Error("storage init failed", zap.Error(err))
		_ = log.Sync()
		run.Exit(1)
	}
	svc := engagement.NewService(b.store, b.dir, log)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		ReadyFunc: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return b.ready(ctx)
		},
		Logger:  log,
		Metrics: true,
	})
	handlers.Mount(r, svc, auth.JWTVerifier{Secret: []byte(scfg.JWTSecret)}, log)

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Router: r})

	lis, err := net.Listen("tcp", scfg.GRPCAddr)
	if err != nil {
		log.Error("grpc listen", zap.String("addr", scfg.GRPCAddr), zap.Error(err))
		_ = log.Sync()
		run.Exit(1)
	}
	grpcSrv := grpcapi.NewServer(log, b.ready)

	var nc *nats.Conn
	if scfg.NATSEnabled {
		// A failed NATS connect leaves the HTTP and gRPC surfaces running.
		nc, err = natsconn.Connect(natsconn.Options{Name: cfg.ServiceName, Logger: log})
		if err != nil {
			log.Error("nats connect", zap.Error(err))
		}
	}

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Start(log) })
		g.Go(func() error { return grpcSrv.Serve(gctx, lis) })
		if nc != nil {
			startMessaging(gctx, g, log, nc, b.pool, svc, scfg.Outbox)
		}
		return g.Wait()
	})

	runner.Graceful("social", srv.Shutdown, grpcSrv.Stop, func(context.Context) error {
		if nc != nil {
			return nc.Drain()
		}
		return nil
	}, shutdownTracing)

	b.close()
	log.Info("exit", zap.Int("code", code))
	_ = log.Sync()
	run.Exit(code)
}

// startMessaging runs the reconcile consumer and, with Postgres, the outbox relay.
// The consumer is built first so the stream exists before anything subscribes.
// Failures are logged and leave the rest of the service running.
func startMessaging(ctx context.Context, g *errgroup.Group, log *zap.Logger, nc *nats.Conn, pool *pgxpool.Pool, svc *engagement.Service, ocfg socialconfig.OutboxConfig) {
	js, err := nc.JetStream()
	if err != nil {
		log.Error("jetstream context", zap.Error(err))
		return
	}

	consumer, err := worker.NewReconcileConsumer(log, js, svc)
	if err != nil {
		log.Error("reconcile consumer", zap.Error(err))
	} else {
		g.Go(func() error { return consumer.Run(ctx) })
	}

	if pool == nil {
		log.Warn("outbox publisher disabled: in-memory store has no outbox table")
		return
	}
	pub, err := outbox.NewPublisher(log, pool, nc, ocfg.BatchSize, ocfg.PollInterval)
	if err != nil {
		log.Error("outbox publisher", zap.Error(err))
		return
	}
	g.Go(func() error {
		if err := pub.Run(ctx); err != nil {
			log.Error("outbox publisher stopped", zap.Error(err))
		}
		return nil
	})
}

type backend struct {
	store store.Store
	dir   engagement.Directory
	pool  *pgxpool.Pool
}

func (b backend) ready(ctx context.Context) error {
	if b.pool == nil {
		return nil
	}
	return b.pool.Ping(ctx)
}

func (b backend) close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

// initBackend selects Postgres or, outside production, the in-memory store.
func initBackend(ctx context.Context, log *zap.Logger, scfg socialconfig.SocialConfig) (backend, error) {
	if scfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store (development only)")
		return memoryBackend(log, scfg), nil
	}

	pool, err := db.Open(ctx, db.Options{DSN: scfg.DatabaseURL, MaxConns: scfg.DBMaxConns})
	if err != nil {
		if scfg.Production() {
			return backend{}, fmt.Errorf("postgres is required in production: %w", err)
		}
		log.Warn("postgres unavailable, falling back to in-memory store", zap.Error(err))
		return memoryBackend(log, scfg), nil
	}
	if err := store.Migrate(ctx, log, pool); err != nil {
		pool.Close()
		return backend{}, err
	}

	log.Info("social store: postgres")
	return backend{
		store: store.NewPostgresStore(pool),
		dir:   store.NewPostgresDirectory(pool),
		pool:  pool,
	}, nil
}

func memoryBackend(log *zap.Logger, scfg socialconfig.SocialConfig) backend {
	st := store.NewInMemoryStore()
	for _, id := range scfg.SeedPostIDs {
		st.PutPost(store.Post{ID: id})
	}
	log.Info("social store: memory", zap.Strings("seed_posts", scfg.SeedPostIDs))
	return backend{store: st, dir: store.NewPermissiveDirectory()}
}
