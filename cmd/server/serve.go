package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wssimple/infrastructure/cache"
	"wssimple/infrastructure/db"
	"wssimple/infrastructure/ws"
	"wssimple/internal/config"
	httpHandler "wssimple/internal/delivery/http"
	"wssimple/internal/delivery/websocket"
	"wssimple/internal/metrics"
	"wssimple/internal/repository"
	"wssimple/internal/usecase"
	"wssimple/pkg/jwt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

func serveCmd() *cobra.Command {
	var (
		envFile  string
		port     string
		serverId string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket server",
		Long: `Run the WebSocket server.

Environment:
  PORT, SERVER_ID, LOG_LEVEL, LOG_FORMAT
  JWT_SECRET, JWT_ISSUER, JWT_TTL, AUTH_REQUIRED
  ADMIN_API_KEY_HASH, MAX_CONNECTIONS_PER_IP, ALLOWED_ORIGINS, TRUST_PROXY
  MONGODB_URI, MONGODB_DATABASE      message history (optional)
  REDIS_ADDR, REDIS_PASSWORD, REDIS_DB  cross-node broadcast (optional)
  REDIS_CHANNEL, REDIS_PRESENCE_TTL
  WS_WRITE_WAIT, WS_PONG_WAIT, WS_PING_INTERVAL, WS_READ_LIMIT
  SHUTDOWN_TIMEOUT`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			if serverId != "" {
				cfg.ServerId = serverId
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to an env file (default .env when present)")
	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (overrides PORT)")
	cmd.Flags().StringVar(&serverId, "server-id", "", "Node id used by the Redis relay (overrides SERVER_ID)")

	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger = logger.With("server_id", cfg.ServerId)

	var closers []func(context.Context) error
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](shutdownCtx); err != nil {
				logger.Error("shutdown step failed", "error", err)
			}
		}
	}()

	var messageUc usecase.MessageUsecase
	var mongoStore *db.MongoStore
	if cfg.MongoURI != "" {
		mongoStore, err = db.NewMongoStore(ctx, db.MongoConfig{URI: cfg.MongoURI, Database: cfg.MongoDatabase})
		if err != nil {
			return fmt.Errorf("connect mongodb: %w", err)
		}
		closers = append(closers, mongoStore.Close)
		logger.Info("connected to mongodb", "database", cfg.MongoDatabase)

		messageRepo := repository.NewMessageRepository(mongoStore.DB)
		if err := messageRepo.EnsureIndexes(ctx); err != nil {
			logger.Warn("create message indexes failed", "error", err)
		}
		messageUc = usecase.NewMessageUseCase(messageRepo)
	} else {
		logger.Info("message history disabled, MONGODB_URI not set")
	}

	var relay ws.Relay
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		closers = append(closers, func(context.Context) error { return client.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}

		relay = ws.NewRedisRelay(client, cfg.ServerId,
			ws.WithRelayChannel(cfg.RedisChannel),
			ws.WithPresenceTTL(cfg.RedisPresenceTTL),
			ws.WithRelayLogger(logger),
		)
		logger.Info("using redis relay", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)
	} else {
		logger.Info("using in-memory registry only (single server)")
	}

	var jwtManager *jwt.JWTManager
	if cfg.JWTSecret != "" {
		jwtManager = jwt.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	} else {
		logger.Warn("JWT_SECRET not set, connections are anonymous")
	}
	if cfg.AdminAPIKeyHash == "" {
		logger.Warn("ADMIN_API_KEY_HASH not set, admin API is unauthenticated")
	}

	server := ws.NewServer(
		ws.WithConfig(cfg.WS),
		ws.WithLogger(logger),
		ws.WithRelay(relay),
		ws.WithTracer(otel.Tracer("wssimple/server")),
	)
	closers = append(closers, server.Close)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}

	collector := metrics.NewCollector(metrics.WithConstLabels(prometheus.Labels{"server_id": cfg.ServerId}))
	collector.Subscribe(server.Events())

	limiter := cache.NewMemCache(time.Minute)
	closers = append(closers, func(context.Context) error {
		limiter.Close()
		return nil
	})

	authUc := usecase.NewAuthUsecase(jwtManager, cfg.AdminAPIKeyHash)
	connectionUc := usecase.NewConnectionUsecase(server, relay)

	websocketH := websocket.NewWebsocketHandler(server, authUc, messageUc, limiter, websocket.Config{
		AuthRequired:        cfg.AuthRequired,
		MaxConnectionsPerIP: cfg.MaxConnectionsPerIP,
		AllowedOrigins:      cfg.AllowedOrigins,
	}, logger)
	websocketH.RecordHistory()

	httpH := httpHandler.NewHttpHandler(connectionUc, messageUc, logger)
	httpH.AddHealthStat("event_subscribers", server.Events().SubscriberCount)
	httpH.AddHealthStat("limited_clients", websocketH.TrackedClients)
	if mongoStore != nil {
		httpH.AddHealthCheck("mongodb", mongoStore.Ping)
	}

	if cfg.TrustProxy {
		logger.Info("trusting X-Forwarded-For and X-Real-IP for client addresses")
	}
	router := httpHandler.NewRouter(cfg.TrustProxy)
	httpHandler.MapHttpRoutes(router, httpH, websocketH, httpHandler.NewAuthMiddleware(authUc), promhttp.Handler())

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server is running", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	return nil
}
