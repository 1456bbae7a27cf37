package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goevery/notifier/internal/broadcaster"
	"github.com/goevery/notifier/internal/notification"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSendBufferSize    = 64

	connectedDuration = 3000
)

var heartbeatFrame = []byte(": heartbeat\n\n")

// connectedEvent is written to every stream right after it opens.
var connectedEvent = notification.Draft{
	Type:     notification.TypeInfo,
	Title:    "متصل / Connected",
	Message:  "تم تأسيس الاتصال المباشر / Real-time connection established",
	Duration: notification.Int(connectedDuration),
	Sound:    notification.Bool(false),
}

// StreamServer serves the server-sent events stream.
type StreamServer struct {
	logger   *zap.Logger
	registry broadcaster.Registry

	heartbeatInterval time.Duration
	bufferSize        int
}

func NewStreamServer(
	logger *zap.Logger,
	registry broadcaster.Registry,
	heartbeatInterval time.Duration,
	bufferSize int,
) *StreamServer {
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}

	if bufferSize <= 0 {
		bufferSize = DefaultSendBufferSize
	}

	return &StreamServer{
		logger,
		registry,
		heartbeatInterval,
		bufferSize,
	}
}

func (s *StreamServer) Register(router *mux.Router) {
	router.HandleFunc("/notifications/stream", s.handle).Methods(http.MethodGet)
}

func (s *StreamServer) handle(w http.ResponseWriter, r *http.Request) {
	controller := http.NewResponseController(w)

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	payload, err := json.Marshal(connectedEvent)
	if err != nil {
		s.logger.Error("failed to marshal connected event", zap.Error(err))
		return
	}

	err = writeEvent(w, controller, payload)
	if err != nil {
		s.logger.Debug("stream closed before connected event", zap.Error(err))
		return
	}

	connection := broadcaster.NewConnection(s.bufferSize)
	logger := s.logger.With(zap.String("connectionId", connection.Id))

	s.registry.Register(connection)
	logger.Info("stream connection opened")

	ticker := time.NewTicker(s.heartbeatInterval)

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			ticker.Stop()
			s.registry.Unregister(connection)
			connection.Close()

			logger.Info("stream connection closed")
		})
	}
	defer cleanup()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-connection.Done():
			return
		case payload := <-connection.Outbound():
			err := writeEvent(w, controller, payload)
			if err != nil {
				logger.Debug("failed to write event", zap.Error(err))
				return
			}
		case <-ticker.C:
			_, err := w.Write(heartbeatFrame)
			if err == nil {
				err = controller.Flush()
			}

			if err != nil {
				logger.Debug("failed to write heartbeat", zap.Error(err))
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, controller *http.ResponseController, payload []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", payload)
	if err != nil {
		return err
	}

	return controller.Flush()
}
