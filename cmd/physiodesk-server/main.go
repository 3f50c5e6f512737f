package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"physiodesk/backend/internal/auth"
	"physiodesk/backend/internal/config"
	"physiodesk/backend/internal/events"
	"physiodesk/backend/internal/metrics"
	"physiodesk/backend/internal/service/booking"
	"physiodesk/backend/internal/store"
	"physiodesk/backend/internal/store/memory"
	"physiodesk/backend/internal/store/mongodb"
	"physiodesk/backend/internal/store/postgres"
	"physiodesk/backend/internal/telemetry"
	grpcTransport "physiodesk/backend/internal/transport/grpc"
	"physiodesk/backend/internal/transport/rest"
)

const serviceName = "physiodesk-server"

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	if err := run(log, cfg); err != nil {
		log.Error("server stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(log *slog.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting",
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("log_level", cfg.LogLevel),
	)

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.OTelEnabled,
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.OTelSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracer shutdown failed", slog.Any("err", err))
		}
	}()

	st, checks, closeStore, err := openStore(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.KafkaBrokers != "" {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return err
		}
		defer func() {
			if err := kp.Close(); err != nil {
				log.Warn("kafka writer close failed", slog.Any("err", err))
			}
		}()
		publisher = kp
		checks = append(checks, rest.ReadyCheck{Name: "kafka", Check: events.ReadyCheck(cfg.KafkaBrokers)})
		log.Info("booking events enabled", slog.String("topic", cfg.KafkaTopic))
	} else {
		log.Warn("booking events disabled (no kafka brokers configured)")
	}

	coordinator := booking.NewCoordinator(st, cfg.Slots, nil)
	svc := metrics.InstrumentService(events.NewPublishingService(coordinator, publisher, log))

	clientIPs, err := rest.NewClientIPResolver(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	local := rest.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).TrustProxies(clientIPs)
	rateLimit := local.Middleware
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer func() {
			_ = rdb.Close()
		}()
		rateLimit = rest.NewRedisRateLimiter(rdb, cfg.RateLimitLimit, cfg.RateLimitWindow, "physiodesk:rl", local, log).TrustProxies(clientIPs).Middleware
		checks = append(checks, rest.ReadyCheck{Name: "redis", Check: rest.RedisReadyCheck(rdb)})
	}

	var authn *auth.Authenticator
	if cfg.JWTSecret != "" {
		if authn, err = auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer); err != nil {
			return err
		}
	} else {
		log.Warn("bearer authentication disabled (auth.jwt_secret not set)")
	}

	interceptors := []grpc.UnaryServerInterceptor{
		grpcTransport.RequestIDInterceptor(),
		metrics.UnaryServerInterceptor(),
	}
	if authn != nil {
		interceptors = append(interceptors, grpcTransport.AuthInterceptor(authn))
	}
	interceptors = append(interceptors, grpcTransport.DefaultRequestTimeoutInterceptor(cfg.GRPCRequestTimeout))

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	grpcTransport.RegisterBookingServiceServer(grpcServer, grpcTransport.NewBookingServer(svc, log, authn != nil))

	router := rest.NewRouter(rest.RouterConfig{
		Service:     svc,
		Logger:      log,
		Auth:        authn,
		RateLimit:   rateLimit,
		ReadyChecks: checks,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           http.TimeoutHandler(router, cfg.HTTPRequestTimeout, `{"error":{"code":"deadline_exceeded","message":"request timed out"}}`),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr()))
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	log.Info("servers started", slog.String("grpc_addr", cfg.GRPCAddr()), slog.String("http_addr", cfg.HTTPAddr))

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped with error", slog.Any("err", err))
			serveErr = err
		}
	}

	shutdown(log, grpcServer, httpServer, cfg.ShutdownTimeout)
	return serveErr
}

// openStore connects the configured booking store and returns its readiness
// checks and a close func.
func openStore(ctx context.Context, log *slog.Logger, cfg config.Config) (store.BookingStore, []rest.ReadyCheck, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn("using in-memory booking store; data is lost on restart")
		return memory.New(), nil, func() {}, nil

	case config.StoreDriverMongo:
		log.Info("connecting to mongo", slog.String("mongo_db", cfg.MongoDatabase))
		client, err := mongodb.Connect(ctx, cfg.MongoURI)
		if err != nil {
			log.Error("mongo connection failed", slog.Any("err", err))
			return nil, nil, nil, err
		}
		closeFn := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongodb.Disconnect(dctx, client); err != nil {
				log.Warn("mongo disconnect failed", slog.Any("err", err))
			}
		}
		repo := mongodb.NewBookingRepo(client.Database(cfg.MongoDatabase))
		if err := repo.EnsureIndexes(ctx); err != nil {
			closeFn()
			log.Error("mongo index setup failed", slog.Any("err", err))
			return nil, nil, nil, err
		}
		return repo, []rest.ReadyCheck{{Name: "mongo", Check: mongodb.ReadyCheck(client)}}, closeFn, nil
	}

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		return nil, nil, nil, err
	}
	closeFn := func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}
	return postgres.NewBookingRepo(db), []rest.ReadyCheck{{Name: "postgres", Check: postgres.ReadyCheck(db)}}, closeFn, nil
}

func shutdown(log *slog.Logger, s *grpc.Server, hs *http.Server, timeout time.Duration) {
	log.Info("shutting down servers", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := hs.Shutdown(ctx); err != nil {
		log.Warn("http graceful shutdown failed", slog.Any("err", err))
	}

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-ctx.Done():
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
