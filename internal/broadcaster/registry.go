package broadcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/goevery/notifier/internal/metrics"
	"github.com/goevery/notifier/internal/notification"
	"go.uber.org/zap"
)

// Publisher accepts notifications for delivery to every live connection.
type Publisher interface {
	Publish(ctx context.Context, draft notification.Draft) error
}

type Registry interface {
	Publisher
	Register(connection *Connection)
	Unregister(connection *Connection)
	Broadcast(draft notification.Draft) error
	Size() int
	Close()
}

// InMemoryRegistry is the process-local set of open connections.
type InMemoryRegistry struct {
	logger *zap.Logger
	mu     sync.RWMutex

	connections map[*Connection]struct{}
}

func NewInMemoryRegistry(
	logger *zap.Logger,
) *InMemoryRegistry {
	return &InMemoryRegistry{
		logger:      logger,
		connections: make(map[*Connection]struct{}),
	}
}

func (r *InMemoryRegistry) Publish(_ context.Context, draft notification.Draft) error {
	return r.Broadcast(draft)
}

// Broadcast serializes the draft once and queues it on every registered
// connection. Connections that cannot accept it are unregistered; the others
// still receive it.
func (r *InMemoryRegistry) Broadcast(draft notification.Draft) error {
	payload, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	metrics.BroadcastsTotal.Inc()

	r.mu.RLock()

	connections := make([]*Connection, 0, len(r.connections))
	for connection := range r.connections {
		connections = append(connections, connection)
	}

	r.mu.RUnlock()

	var staleConnections []*Connection

	for _, connection := range connections {
		err := connection.Send(payload)
		if err != nil {
			r.logger.Warn("failed to deliver notification, dropping connection",
				zap.String("connectionId", connection.Id),
				zap.Error(err))

			metrics.DeliveriesTotal.WithLabelValues("dropped").Inc()
			staleConnections = append(staleConnections, connection)

			continue
		}

		metrics.DeliveriesTotal.WithLabelValues("queued").Inc()
	}

	for _, connection := range staleConnections {
		r.Unregister(connection)
	}

	return nil
}

func (r *InMemoryRegistry) Register(connection *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[connection] = struct{}{}
	metrics.ConnectionsActive.Set(float64(len(r.connections)))

	r.logger.Debug("connection registered",
		zap.String("connectionId", connection.Id),
		zap.Int("connections", len(r.connections)))
}

// Unregister removes and closes the connection. Unknown connections are
// ignored.
func (r *InMemoryRegistry) Unregister(connection *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unregisterLocked(connection)
}

func (r *InMemoryRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.connections)
}

// Close closes every connection and empties the registry.
func (r *InMemoryRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for connection := range r.connections {
		r.unregisterLocked(connection)
	}
}

// IMPORTANT: It must be called only when a write lock is already held.
func (r *InMemoryRegistry) unregisterLocked(connection *Connection) {
	if _, ok := r.connections[connection]; !ok {
		return
	}

	delete(r.connections, connection)
	connection.Close()
	metrics.ConnectionsActive.Set(float64(len(r.connections)))

	r.logger.Debug("connection unregistered",
		zap.String("connectionId", connection.Id),
		zap.Int("connections", len(r.connections)))
}
