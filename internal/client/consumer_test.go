package client

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goevery/notifier/internal/notification"
	"github.com/goevery/notifier/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses = append(r.statuses, status)
}

func (r *statusRecorder) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Status(nil), r.statuses...)
}

func writeFrame(w http.ResponseWriter, frame string) {
	fmt.Fprint(w, frame)
	w.(http.Flusher).Flush()
}

func openStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	w.(http.Flusher).Flush()
}

func countWarnings(notifications []notification.Notification) int {
	count := 0
	for _, n := range notifications {
		if n.Type == notification.TypeWarning {
			count++
		}
	}
	return count
}

func TestConsumer_ReconnectScenario(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt := attempts.Add(1)
		openStream(w)

		if attempt == 1 {
			for i := 1; i <= 3; i++ {
				writeFrame(w, fmt.Sprintf("data: {\"type\":\"success\",\"message\":\"m%d\",\"duration\":0}\n\n", i))
				time.Sleep(20 * time.Millisecond)
			}
			return
		}

		<-r.Context().Done()
	}))
	defer server.Close()

	notifications := store.New()
	statuses := &statusRecorder{}

	consumer := NewConsumer(zap.NewNop(), server.URL, notifications, Options{ReconnectDelay: 200 * time.Millisecond})
	consumer.OnStatusChange(statuses.record)

	consumer.Connect()
	defer consumer.Disconnect()

	require.Eventually(t, func() bool {
		return consumer.Status() == StatusError
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), attempts.Load())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), attempts.Load())

	require.Eventually(t, func() bool {
		return consumer.Status() == StatusConnected && attempts.Load() == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []Status{StatusConnecting, StatusConnected, StatusError, StatusConnecting, StatusConnected}, statuses.all())

	list := notifications.List()
	require.Len(t, list, 4)
	assert.Equal(t, notification.TypeWarning, list[0].Type)
	assert.Equal(t, "m3", list[1].Message)
	assert.Equal(t, "m2", list[2].Message)
	assert.Equal(t, "m1", list[3].Message)
}

func TestConsumer_Frames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		openStream(w)
		writeFrame(w, ": heartbeat\n\n")
		writeFrame(w, "data: not-json\n\n")
		writeFrame(w, "data: {\"type\":\"info\",\n")
		writeFrame(w, "data: \"message\":\"multi line\"}\n\n")
		writeFrame(w, "data: {\"type\":\"error\",\"message\":\"valid\",\"remaining_sessions\":2}\r\n\r\n")
		<-r.Context().Done()
	}))
	defer server.Close()

	notifications := store.New()
	consumer := NewConsumer(zap.NewNop(), server.URL, notifications, Options{})

	consumer.Connect()
	defer consumer.Disconnect()

	require.Eventually(t, func() bool {
		return notifications.Len() == 2
	}, 2*time.Second, 5*time.Millisecond)

	list := notifications.List()
	assert.Equal(t, "valid", list[0].Message)
	require.NotNil(t, list[0].RemainingSessions)
	assert.Equal(t, 2, *list[0].RemainingSessions)
	assert.Equal(t, "multi line", list[1].Message)
	assert.Equal(t, StatusConnected, consumer.Status())
}

func TestConsumer_ConnectIsIdempotent(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		openStream(w)
		<-r.Context().Done()
	}))
	defer server.Close()

	consumer := NewConsumer(zap.NewNop(), server.URL, store.New(), Options{})

	consumer.Connect()
	consumer.Connect()
	defer consumer.Disconnect()

	require.Eventually(t, func() bool {
		return consumer.Status() == StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	consumer.Connect()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestConsumer_Disconnect(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	consumer := NewConsumer(zap.NewNop(), server.URL, store.New(), Options{ReconnectDelay: 50 * time.Millisecond})

	consumer.Connect()

	require.Eventually(t, func() bool {
		return consumer.Status() == StatusError
	}, 2*time.Second, 5*time.Millisecond)

	consumer.Disconnect()

	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, StatusDisconnected, consumer.Status())
	assert.Equal(t, int32(1), attempts.Load())
}

func TestConsumer_OneWarningPerOutage(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifications := store.New()
	consumer := NewConsumer(zap.NewNop(), server.URL, notifications, Options{ReconnectDelay: 20 * time.Millisecond})

	consumer.Connect()
	defer consumer.Disconnect()

	require.Eventually(t, func() bool {
		return attempts.Load() >= 4
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, countWarnings(notifications.List()))
}

func TestConsumer_NextDelay(t *testing.T) {
	t.Run("fixed by default", func(t *testing.T) {
		consumer := NewConsumer(zap.NewNop(), "http://localhost", store.New(), Options{})

		for _, failures := range []int{0, 1, 10} {
			consumer.failures = failures
			assert.Equal(t, DefaultReconnectDelay, consumer.nextDelayLocked())
		}
	})

	t.Run("capped exponential", func(t *testing.T) {
		consumer := NewConsumer(zap.NewNop(), "http://localhost", store.New(), Options{
			ReconnectDelay:    time.Second,
			ReconnectMaxDelay: 10 * time.Second,
		})

		expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
		for failures, delay := range expected {
			consumer.failures = failures
			assert.Equal(t, delay, consumer.nextDelayLocked())
		}
	})
}
