package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"

	"github.com/teresa-solution/tenant-context-service/internal/api"
	"github.com/teresa-solution/tenant-context-service/internal/broadcast"
	"github.com/teresa-solution/tenant-context-service/internal/cache"
	"github.com/teresa-solution/tenant-context-service/internal/config"
	"github.com/teresa-solution/tenant-context-service/internal/enforce"
	"github.com/teresa-solution/tenant-context-service/internal/identify"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/monitoring"
	"github.com/teresa-solution/tenant-context-service/internal/resolver"
	"github.com/teresa-solution/tenant-context-service/internal/service"
	"github.com/teresa-solution/tenant-context-service/internal/store"
	"github.com/teresa-solution/tenant-context-service/internal/theme"
)

// Identity headers are set by the authenticating gateway in front of the
// service.
const (
	identityUserHeader   = "X-Authenticated-User"
	identityTenantHeader = "X-Authenticated-Tenant"
)

// configStore is what the service needs from a config store backend.
type configStore interface {
	service.Store
	service.ChangeSource
	store.DomainLookup
}

// invalidator also drops cached domain mappings whenever the whole context
// cache is cleared, since a missed store change may have remapped a domain.
type invalidator struct {
	*cache.Cache
	domains *store.DomainCache
}

func (i invalidator) InvalidateAll() {
	i.Cache.InvalidateAll()
	i.domains.Clear()
}

// closers runs cleanup in reverse registration order and collects every error.
type closers []func() error

func (c *closers) add(f func() error) { *c = append(*c, f) }

func (c closers) close() error {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		err = multierr.Append(err, c[i]())
	}
	return err
}

func serve(ctx context.Context, cfg *config.Config) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cleanup closers
	defer func() {
		err = multierr.Append(err, cleanup.close())
	}()

	monitoring.InitMetrics()

	tmpl, err := loadTemplate(cfg.Template.Path)
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}

	st, err := openStore(ctx, cfg, &cleanup)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cleanup.add(rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	bus, err := openBroadcaster(cfg, rdb)
	if err != nil {
		return err
	}
	cleanup.add(bus.Close)

	domains, err := store.NewDomainCache(st, cfg.Domains.CacheSize, cfg.Domains.TTL)
	if err != nil {
		return fmt.Errorf("create domain cache: %w", err)
	}
	cleanup.add(func() error { domains.Close(); return nil })

	res := resolver.New(st, tmpl, cfg.Store.Timeout)
	contexts := cache.New(res, cfg.Cache.TTL)
	go contexts.Run(ctx, cfg.Cache.SweepInterval)

	engine := service.NewEngine(identify.Config{
		DefaultSlug: cfg.Tenancy.DefaultSlug,
		Header:      cfg.Tenancy.Header,
		QueryParam:  cfg.Tenancy.QueryParam,
		BaseDomain:  cfg.Tenancy.BaseDomain,
		Reserved:    cfg.Tenancy.ReservedSubdomains,
	}, contexts, domains)
	admin := service.NewTenantService(st, res, contexts, bus, domains, "")

	worker := service.NewInvalidationWorker(invalidator{contexts, domains}, st, bus, admin.Origin())
	go func() {
		if err := worker.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Invalidation worker failed")
			cancel()
		}
	}()

	var usage api.UsageStore = store.NewMemoryUsage()
	if cfg.Usage.Driver == "redis" {
		usage = store.NewRedisUsage(rdb)
	}

	ready := func(ctx context.Context) error {
		var err error
		if p, ok := st.(interface{ Ping(context.Context) error }); ok {
			err = multierr.Append(err, p.Ping(ctx))
		}
		if rdb != nil {
			err = multierr.Append(err, rdb.Ping(ctx).Err())
		}
		return err
	}

	guard := enforce.NewGuard(usage)
	httpAPI, err := api.NewServer(api.Options{
		Engine:   engine,
		Admin:    admin,
		Guard:    guard,
		Usage:    usage,
		Identity: httpIdentity,
		Ready:    ready,
		Assets: theme.Assets{
			Root:    cfg.Theme.AssetsDir,
			BaseURL: cfg.Theme.AssetBaseURL,
		},
		DefaultSlug:     cfg.Tenancy.DefaultSlug,
		TenantHeader:    cfg.Tenancy.Header,
		ThemeMaxAge:     cfg.Theme.MaxAge,
		ThemeCacheBytes: cfg.Theme.CacheBytes,
		AdminToken:      cfg.Admin.Token,
	})
	if err != nil {
		return err
	}
	cleanup.add(func() error { httpAPI.Close(); return nil })

	if cfg.Admin.Token == "" {
		log.Warn().Msg("admin.token is not set; admin API disabled")
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(service.UnaryServerInterceptor(engine, grpcIdentity)))
	service.RegisterContextServer(grpcServer, service.NewContextServer(guard))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.GRPCAddr, err)
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           httpAPI.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		log.Info().Msgf("gRPC server listening at %v", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			errc <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		log.Info().Msgf("HTTP server listening at %s", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	for running := true; running; {
		select {
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				reloadTemplate(cfg.Template.Path, res, contexts)
				continue
			}
			log.Info().Str("signal", sig.String()).Msg("Shutting down server...")
			running = false
		case err = <-errc:
			log.Error().Err(err).Msg("Server failed, shutting down")
			running = false
		case <-ctx.Done():
			running = false
		}
	}

	healthServer.Shutdown()
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()
	err = multierr.Append(err, httpServer.Shutdown(shutdownCtx))
	grpcServer.GracefulStop()
	cancel()

	log.Info().Msg("Server exiting")
	return err
}

func openStore(ctx context.Context, cfg *config.Config, cleanup *closers) (configStore, error) {
	switch cfg.Store.Driver {
	case "memory":
		st := store.NewMemoryStore()
		if slug := cfg.Tenancy.DefaultSlug; slug != "" {
			rec := &model.TenantRecord{Slug: slug, DisplayName: slug, Status: model.StatusActive}
			if err := st.CreateTenant(ctx, rec); err != nil {
				return nil, err
			}
		}
		log.Warn().Msg("Using in-memory config store; data is lost on restart")
		return st, nil
	default:
		repo, err := store.NewTenantRepository(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		cleanup.add(func() error { repo.Close(); return nil })
		return repo, nil
	}
}

func openBroadcaster(cfg *config.Config, rdb *redis.Client) (broadcast.Broadcaster, error) {
	switch cfg.Invalidation.Driver {
	case "redis":
		return broadcast.NewRedis(rdb, cfg.Invalidation.Channel), nil
	case "nats":
		b, err := broadcast.ConnectNATS(cfg.NATS.URL, cfg.Invalidation.Channel)
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		return b, nil
	default:
		log.Warn().Msg("Invalidation broadcast disabled; peers converge on cache TTL")
		return broadcast.Noop{}, nil
	}
}

// reloadTemplate swaps in a freshly read template. A template that fails to
// load leaves the current one in place.
func reloadTemplate(path string, res *resolver.Resolver, contexts *cache.Cache) {
	tmpl, err := loadTemplate(path)
	if err != nil {
		monitoring.TemplateReloads.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("path", path).Msg("Failed to reload template, keeping current one")
		return
	}
	res.SetTemplate(tmpl)
	contexts.InvalidateAll()
	monitoring.TemplateReloads.WithLabelValues("ok").Inc()
	monitoring.Invalidations.WithLabelValues("reload").Inc()
	log.Info().Str("path", path).Int("features", len(tmpl.Features())).Msg("Template reloaded")
}

func httpIdentity(r *http.Request) *model.Identity {
	user, tenant := r.Header.Get(identityUserHeader), r.Header.Get(identityTenantHeader)
	if user == "" && tenant == "" {
		return nil
	}
	return &model.Identity{UserID: user, TenantClaim: tenant}
}

func grpcIdentity(ctx context.Context) *model.Identity {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return v[0]
		}
		return ""
	}
	user, tenant := first(identityUserHeader), first(identityTenantHeader)
	if user == "" && tenant == "" {
		return nil
	}
	return &model.Identity{UserID: user, TenantClaim: tenant}
}
