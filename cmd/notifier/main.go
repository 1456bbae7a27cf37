package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/goevery/notifier/internal/auth"
	"github.com/goevery/notifier/internal/broadcaster"
	"github.com/goevery/notifier/internal/dispatch"
	"github.com/goevery/notifier/internal/handler"
	"github.com/goevery/notifier/internal/metrics"
	"github.com/goevery/notifier/internal/notification"
	"github.com/goevery/notifier/internal/persistence"
	"github.com/goevery/notifier/internal/persistence/mongodb"
	"github.com/goevery/notifier/internal/server"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

type App struct {
	logger          *zap.Logger
	settings        Settings
	registry        *broadcaster.InMemoryRegistry
	relay           *broadcaster.RedisRelay
	streamServer    *server.StreamServer
	websocketServer *server.WebSocketServer
	restServer      *server.RESTServer
	closers         []func(context.Context) error
}

func NewApp(ctx context.Context, logger *zap.Logger, settings Settings) (*App, error) {
	registry := broadcaster.NewInMemoryRegistry(logger)

	var closers []func(context.Context) error

	var publisher broadcaster.Publisher = registry
	var relay *broadcaster.RedisRelay
	if settings.RedisURL != "" {
		redisOptions, err := redis.ParseURL(settings.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}

		redisClient := redis.NewClient(redisOptions)
		closers = append(closers, func(context.Context) error {
			return redisClient.Close()
		})

		relay = broadcaster.NewRedisRelay(logger, redisClient, settings.RedisChannel, registry)
		publisher = relay
	}

	var journal persistence.Journal = persistence.NopJournal{}
	if settings.MongoDBURI != "" {
		mongoClient, err := mongo.Connect(options.Client().ApplyURI(settings.MongoDBURI))
		if err != nil {
			return nil, fmt.Errorf("connecting to mongodb: %w", err)
		}
		closers = append(closers, mongoClient.Disconnect)

		mongoJournal := mongodb.NewJournal(mongoClient, settings.MongoDBDatabase)

		err = mongoJournal.Setup(ctx)
		if err != nil {
			return nil, fmt.Errorf("setting up webhook journal: %w", err)
		}

		journal = mongoJournal
	}

	authenticator := auth.NewAuthenticator(settings.JWTSecret, strings.Split(settings.APIKeys, ","))

	ingestHandler := handler.NewIngestHandler(logger, publisher, journal)
	healthHandler := handler.NewHealthHandler(registry)

	var forwardHandler handler.ForwardHandlerInterface
	if settings.AutomationURL != "" {
		dispatcher := dispatch.NewDispatcher(
			logger,
			dispatch.NotifierFunc(func(ctx context.Context, draft notification.Draft) {
				err := publisher.Publish(ctx, draft)
				if err != nil {
					logger.Error("failed to publish dispatch outcome", zap.Error(err))
				}
			}),
			dispatch.WithMaxRetries(settings.DispatchMaxRetries),
			dispatch.WithDelay(settings.DispatchDelay),
		)

		forwardHandler = handler.NewForwardHandler(dispatcher, settings.AutomationURL)
	}

	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		EnableCompression: true,
	}

	streamServer := server.NewStreamServer(
		logger,
		registry,
		settings.HeartbeatInterval,
		settings.SendBufferSize,
	)
	websocketServer := server.NewWebSocketServer(
		logger,
		websocketUpgrader,
		registry,
		settings.HeartbeatInterval,
		settings.SendBufferSize,
	)
	restServer := server.NewRESTServer(
		logger,
		ingestHandler,
		forwardHandler,
		healthHandler,
		authenticator,
	)

	return &App{
		logger,
		settings,
		registry,
		relay,
		streamServer,
		websocketServer,
		restServer,
		closers,
	}, nil
}

func (a *App) setup(ctx context.Context) error {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	if a.relay != nil {
		err := a.relay.Subscribe(notifyCtx)
		if err != nil {
			return err
		}
	}

	a.startHttpServer(notifyCtx)

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCtxCancel()

	for _, closer := range a.closers {
		err := closer(shutdownCtx)
		if err != nil {
			a.logger.Warn("failed to release resource", zap.Error(err))
		}
	}

	return nil
}

func (a *App) startHttpServer(ctx context.Context) {
	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	root := mux.NewRouter()
	root.Use(server.MetricsMiddleware)

	router := root.PathPrefix(a.settings.BasePath).Subrouter()

	a.streamServer.Register(router)
	a.websocketServer.Register(router)
	a.restServer.Register(router)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	httpServer := &http.Server{
		Addr:    address,
		Handler: root,
	}
	// Open streams never go idle, so Shutdown relies on closing them.
	httpServer.RegisterOnShutdown(a.registry.Close)

	a.logger.Info("starting http server",
		zap.String("address", address),
		zap.String("basePath", a.settings.BasePath))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-ctx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http server shutdown failed",
			zap.Error(err))
	}

	a.logger.Info("http server stopped")
}

func main() {
	ctx := context.Background()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		panic(fmt.Errorf("failed to parse settings from environment: %w", err))
	}

	logger, err := buildZapLogger(settings.LogEncoding, settings.LogLevel)
	if err != nil {
		panic(fmt.Errorf("failed to build logger: %w", err))
	}
	defer logger.Sync()

	app, err := NewApp(ctx, logger, settings)
	if err != nil {
		logger.Fatal("failed to create app", zap.Error(err))
	}

	err = app.setup(ctx)
	if err != nil {
		logger.Fatal("failed to setup", zap.Error(err))
	}
}
