package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/goevery/notifier/internal/client"
	"github.com/goevery/notifier/internal/notification"
	"github.com/goevery/notifier/internal/store"
	"go.uber.org/zap"
)

type Settings struct {
	StreamURL         string        `env:"STREAM_URL,default=http://localhost:8000/api/notifications/stream"`
	ReconnectDelay    time.Duration `env:"RECONNECT_DELAY,default=5s"`
	ReconnectMaxDelay time.Duration `env:"RECONNECT_MAX_DELAY"`
	StoreLimit        int           `env:"STORE_LIMIT,default=5"`
}

// loggingSink records every received notification in the store and logs it.
type loggingSink struct {
	logger *zap.Logger
	store  *store.Store
}

func (s *loggingSink) Add(draft notification.Draft) notification.Notification {
	added := s.store.Add(draft)

	s.logger.Info("notification received",
		zap.String("id", added.Id),
		zap.String("type", string(added.Type)),
		zap.String("title", added.Title),
		zap.String("message", added.Message),
		zap.Intp("remainingSessions", added.RemainingSessions),
		zap.Duration("expiresIn", added.ExpiresIn()))

	return added
}

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		logger.Fatal("failed to parse settings from environment", zap.Error(err))
	}

	notifications := store.New(store.WithLimit(settings.StoreLimit))
	unsubscribe := notifications.Subscribe(func(current []notification.Notification) {
		logger.Debug("visible notifications changed", zap.Int("count", len(current)))
	})
	defer unsubscribe()

	consumer := client.NewConsumer(
		logger,
		settings.StreamURL,
		&loggingSink{logger, notifications},
		client.Options{
			ReconnectDelay:    settings.ReconnectDelay,
			ReconnectMaxDelay: settings.ReconnectMaxDelay,
		},
	)
	consumer.OnStatusChange(func(status client.Status) {
		logger.Info("connection status changed", zap.String("status", string(status)))
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	logger.Info("watching notification stream", zap.String("url", settings.StreamURL))
	consumer.Connect()

	<-ctx.Done()

	consumer.Disconnect()
	notifications.Clear()

	logger.Info("stopped watching")
}
