package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Quagm/ios-aquatics/internal/adapter/handler"
	"github.com/Quagm/ios-aquatics/internal/adapter/identity"
	"github.com/Quagm/ios-aquatics/internal/adapter/notify"
	"github.com/Quagm/ios-aquatics/internal/adapter/payment"
	"github.com/Quagm/ios-aquatics/internal/adapter/storage"
	"github.com/Quagm/ios-aquatics/internal/config"
	"github.com/Quagm/ios-aquatics/internal/core/domain"
	"github.com/Quagm/ios-aquatics/internal/core/service"
	"github.com/Quagm/ios-aquatics/internal/port"
)

type store interface {
	port.StockLedger
	port.OrderRepository
	port.InquiryRepository
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg)

	log.Info().Str("appName", cfg.AppName).Str("env", cfg.Environment).Str("db", cfg.DBDriver).Msg("application starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	st, db := openStore(ctx, cfg)

	// Initialize Redis; it is optional outside production
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			if cfg.IsProduction() {
				log.Fatal().Err(err).Msg("failed to connect redis")
			}
			log.Warn().Err(err).Msg("redis unavailable, idempotency and pub/sub disabled")
			rdb.Close()
			rdb = nil
		} else {
			log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
		}
	}

	// Status notifications
	var broadcasters []port.Broadcaster
	if rdb != nil {
		broadcasters = append(broadcasters, notify.NewRedisBroadcaster(rdb))
	}
	var amqpBroadcaster *notify.AMQPBroadcaster
	if cfg.RabbitMQURL != "" {
		amqpBroadcaster, err = notify.NewAMQPBroadcaster(cfg.RabbitMQURL, cfg.NotifyExchange)
		if err != nil {
			log.Warn().Err(err).Msg("rabbitmq unavailable, amqp notifications disabled")
		} else {
			broadcasters = append(broadcasters, amqpBroadcaster)
		}
	}
	fanOut := service.NewFanOut(cfg.NotifyTopic, cfg.NotifyQueueSize, cfg.NotifyTimeout, broadcasters...)
	fanOut.Start(cfg.NotifyWorkers)

	// Initialize services
	opts := []service.Option{
		service.WithNotifier(fanOut),
		service.WithRestockOnCancel(cfg.RestockOnCancel),
	}
	if rdb != nil {
		opts = append(opts, service.WithIdempotency(storage.NewRedisAdapter(rdb, cfg.IdempotencyTTL)))
	}
	if cfg.PaymentAPIURL != "" {
		opts = append(opts, service.WithPayments(payment.NewClient(cfg.PaymentAPIURL, cfg.PaymentAPIKey, cfg.PaymentTimeout), cfg.PaymentCurrency))
	}

	orderService := service.NewOrderService(st, st, opts...)
	stockService := service.NewStockService(st)
	inquiryService := service.NewInquiryService(st, fanOut)

	var verifier port.TokenVerifier
	if cfg.JWTSecret != "" {
		verifier = identity.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	} else {
		log.Warn().Msg("JWT_SECRET not set, requests are served anonymously")
	}

	policy, err := handler.NewAdminPolicy()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load admin policy")
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterOrderServiceServer(grpcServer, handler.NewGRPCHandler(orderService, stockService, verifier, cfg.IsProduction()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("failed to listen")
	}

	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC server error")
		}
	}()

	// Initialize HTTP server
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(handler.NewHTTPHandler(orderService, stockService, inquiryService), handler.RouterConfig{
		Verifier:     verifier,
		Policy:       policy,
		RequireToken: cfg.IsProduction(),
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")
	healthServer.Shutdown()

	// Stop HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown")
	}
	log.Info().Msg("HTTP server stopped")

	// Stop gRPC server
	grpcServer.GracefulStop()
	log.Info().Msg("gRPC server stopped")

	// Drain pending notifications
	fanOut.Close()
	log.Info().Msg("notification workers stopped")

	// Close connections
	if amqpBroadcaster != nil {
		amqpBroadcaster.Close()
	}
	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	log.Info().Msg("connections closed")
}

func setupLogging(cfg config.Config) {
	if cfg.IsProduction() {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// openStore returns the configured store; db is nil for the memory driver.
func openStore(ctx context.Context, cfg config.Config) (store, *sqlx.DB) {
	if cfg.DBDriver == config.DriverMemory {
		log.Warn().Msg("using in-memory store, data is lost on restart")
		mem := storage.NewMemoryStore()
		seedCatalog(mem)
		return mem, nil
	}

	db, err := storage.Open(ctx, cfg.DBDriver, cfg.DSN(), cfg.DBMaxOpenConns)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("failed to connect database")
	}
	log.Info().Str("driver", cfg.DBDriver).Str("host", cfg.DBHost).Msg("connected to database")

	sqlStore := storage.NewSQLStore(db, storage.WithSchemaDriftCompat(cfg.DBAllowSchemaDrift))
	if cfg.DBAutoMigrate {
		if err := sqlStore.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		log.Info().Msg("database schema up to date")
	}
	return sqlStore, db
}

func seedCatalog(mem *storage.MemoryStore) {
	for _, p := range []domain.Product{
		{ID: "neon-tetra", Name: "Neon Tetra", Category: "fish", Price: decimal.NewFromInt(45), Active: true, Stock: 120, MinStock: 20},
		{ID: "halfmoon-betta", Name: "Halfmoon Betta", Category: "fish", Price: decimal.NewFromInt(350), Active: true, Stock: 8, MinStock: 3},
		{ID: "java-moss", Name: "Java Moss", Category: "plants", Price: decimal.NewFromInt(120), Active: true, Stock: 40, MinStock: 10},
		{ID: "rimless-60l", Name: "60L Rimless Tank", Category: "tanks", Price: decimal.NewFromInt(4500), Active: true, Stock: 3, MinStock: 1},
	} {
		mem.PutProduct(p)
	}
}
