package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/roomChat-gRPC/internal/auth"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/cache"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/chat"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/config"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/data"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/db"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/middleware"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/presence"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/ratelimit"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/realtime"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/rooms"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/telemetry"
	"github.com/PaulBabatuyi/roomChat-gRPC/internal/unread"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const serviceName = "roomchat-api"

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	// Durable store
	dbClient, err := db.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return fmt.Errorf("connect to DB: %w", err)
	}
	defer func() { _ = dbClient.Close(context.Background()) }()
	if err := dbClient.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}

	roomsStore := data.NewRoomsStore(dbClient.RoomsCollection(), cfg.StoreTimeout)
	msgsStore := data.NewMessagesStore(dbClient.MessagesCollection(), cfg.StoreTimeout)
	unreadStore := data.NewUnreadStore(dbClient.UnreadCollection(), cfg.StoreTimeout)
	usersStore := data.NewUsersStore(dbClient.UsersCollection(), cfg.StoreTimeout)

	// Cache, presence and send throttling share one Redis client.
	rdb, err := cache.Open(ctx, cfg.RedisURL)
	if rdb == nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	if err != nil {
		logger.Warn("redis unavailable, starting degraded", "error", err)
	}

	accel := cache.NewAccelerator(rdb, cfg.CacheTimeout, cfg.UnreadCacheTTL, logger)
	defer accel.Wait()
	counters := unread.NewService(unreadStore, accel, roomsStore, logger)
	directory := rooms.NewDirectory(roomsStore, msgsStore, counters, logger)
	tracker := presence.NewTracker(rdb, cfg.PresenceTTL, cfg.CacheTimeout)
	limiter := ratelimit.New(rdb, cfg.SendRateLimit, cfg.SendRateWindow, cfg.CacheTimeout, logger)

	hub := realtime.NewHub()
	var bus realtime.Bus
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.Name(serviceName),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("NATS disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				logger.Info("NATS reconnected")
			}),
		)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer nc.Drain()
		natsBus, err := realtime.NewNATSBus(nc, hub, logger)
		if err != nil {
			return fmt.Errorf("subscribe fanout: %w", err)
		}
		defer natsBus.Close()
		bus = natsBus
		logger.Info("cross-instance fanout enabled", "url", cfg.NATSURL)
	}
	fanout := realtime.NewFanout(hub, bus, tracker, logger)

	svc := chat.NewService(chat.Deps{
		Rooms:     directory,
		Messages:  msgsStore,
		Limiter:   limiter,
		Totals:    counters,
		Users:     usersStore,
		Broadcast: fanout,
		Logger:    logger,
	})

	var jwtMgr *auth.JWTManager
	if len(cfg.JWTKeys) > 0 {
		jwtMgr = auth.NewJWTManagerFromKeys(cfg.JWTKeys, cfg.JWTActiveKid, 24*time.Hour)
	} else {
		jwtMgr = auth.NewJWTManager(cfg.JWTSecret, 24*time.Hour)
	}

	// Throttle realtime handshakes per peer address (small burst for quick reconnects).
	handshakes := middleware.NewThrottle(cfg.HandshakeRPM, 3, 10*time.Minute)
	defer handshakes.Close()
	limited := map[string]bool{connectMethod: true}

	roomCreates := middleware.NewThrottle(cfg.RoomCreateRPM, 5, 10*time.Minute)
	defer roomCreates.Close()
	creations := map[string]bool{
		"/" + chatService + "/GetOrCreateDirectRoom": true,
		"/" + chatService + "/CreateGroupRoom":       true,
	}

	serverOpts := []grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS certs: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}
	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(
			authUnaryInterceptor(jwtMgr),
			middleware.RateLimitUnaryInterceptor(roomCreates, creations, userKey),
		),
		grpc.ChainStreamInterceptor(
			middleware.RateLimitStreamInterceptor(handshakes, limited, middleware.PeerKey),
			authStreamInterceptor(jwtMgr),
		),
	)
	grpcServer := grpc.NewServer(serverOpts...)

	registerService(grpcServer, newServer(svc, fanout, logger))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(chatService, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(realtimeService, healthpb.HealthCheckResponse_SERVING)

	listenAddr := fmt.Sprintf(":%s", cfg.Port)
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", "addr", listenAddr)
		serveErr <- grpcServer.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down gRPC server")
	healthServer.Shutdown()
	grpcServer.GracefulStop()
	return nil
}
