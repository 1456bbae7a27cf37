package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/goevery/notifier/internal/broadcaster"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// WebSocketServer delivers the same broadcasts as the event stream over a
// WebSocket, one text message per notification.
type WebSocketServer struct {
	logger   *zap.Logger
	upgrader *websocket.Upgrader
	registry broadcaster.Registry

	heartbeatInterval time.Duration
	bufferSize        int
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	registry broadcaster.Registry,
	heartbeatInterval time.Duration,
	bufferSize int,
) *WebSocketServer {
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}

	if bufferSize <= 0 {
		bufferSize = DefaultSendBufferSize
	}

	return &WebSocketServer{
		logger,
		upgrader,
		registry,
		heartbeatInterval,
		bufferSize,
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/notifications/websocket", func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		conn.SetReadLimit(1024)

		err = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err == nil {
			err = conn.WriteJSON(connectedEvent)
		}

		if err != nil {
			s.logger.Debug("websocket closed before connected event", zap.Error(err))
			_ = conn.Close()
			return
		}

		connection := broadcaster.NewConnection(s.bufferSize)
		logger := s.logger.With(zap.String("connectionId", connection.Id))

		s.registry.Register(connection)
		logger.Info("websocket connection established")

		ticker := time.NewTicker(s.heartbeatInterval)

		var cleanupOnce sync.Once
		cleanup := func() {
			cleanupOnce.Do(func() {
				ticker.Stop()
				s.registry.Unregister(connection)
				connection.Close()
				_ = conn.Close()

				logger.Info("websocket connection closed")
			})
		}
		defer cleanup()

		// Inbound messages are ignored; reading surfaces close frames and errors.
		go func() {
			defer connection.Close()

			for {
				_, _, err := conn.ReadMessage()
				if err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-connection.Done():
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait),
				)
				return
			case payload := <-connection.Outbound():
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

				err := conn.WriteMessage(websocket.TextMessage, payload)
				if err != nil {
					logger.Debug("failed to write message", zap.Error(err))
					return
				}
			case <-ticker.C:
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				if err != nil {
					logger.Debug("failed to write ping", zap.Error(err))
					return
				}
			}
		}
	}).Methods(http.MethodGet)
}
