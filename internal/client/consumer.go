package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goevery/notifier/internal/notification"
	"go.uber.org/zap"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

const (
	DefaultReconnectDelay = 5 * time.Second

	connectionLostMessage = "انقطع الاتصال المباشر، جاري إعادة المحاولة / Real-time connection lost, retrying"
)

// Sink receives every notification parsed from the stream.
type Sink interface {
	Add(draft notification.Draft) notification.Notification
}

type Options struct {
	HTTPClient *http.Client
	// ReconnectDelay is the wait before the first reconnect attempt.
	ReconnectDelay time.Duration
	// ReconnectMaxDelay caps exponential growth of the reconnect delay.
	// Zero keeps the delay fixed.
	ReconnectMaxDelay time.Duration
}

// Consumer keeps one stream subscription open, reconnecting after failures
// until Disconnect is called.
type Consumer struct {
	logger *zap.Logger
	url    string
	sink   Sink
	opts   Options

	mu         sync.Mutex
	status     Status
	generation uint64
	cancel     context.CancelFunc
	retryTimer *time.Timer
	failures   int
	outage     bool
	listeners  []func(Status)
}

func NewConsumer(logger *zap.Logger, url string, sink Sink, opts Options) *Consumer {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}

	return &Consumer{
		logger: logger,
		url:    url,
		sink:   sink,
		opts:   opts,
		status: StatusDisconnected,
	}
}

func (c *Consumer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status
}

// OnStatusChange registers a listener called synchronously on every
// transition.
func (c *Consumer) OnStatusChange(listener func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listeners = append(c.listeners, listener)
}

// Connect opens the stream. It does nothing while a connection is already
// being established or open.
func (c *Consumer) Connect() {
	c.mu.Lock()

	if c.status == StatusConnecting || c.status == StatusConnected {
		c.mu.Unlock()
		return
	}

	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}

	c.generation++
	generation := c.generation

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	listeners := c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	notifyStatus(listeners, StatusConnecting)

	go c.run(ctx, generation)
}

// Disconnect closes the stream and cancels any pending reconnect.
func (c *Consumer) Disconnect() {
	c.mu.Lock()

	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.failures = 0
	c.outage = false

	if c.status == StatusDisconnected {
		c.mu.Unlock()
		return
	}

	listeners := c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()

	notifyStatus(listeners, StatusDisconnected)
}

func (c *Consumer) run(ctx context.Context, generation uint64) {
	err := c.stream(ctx, generation)
	if ctx.Err() != nil {
		return
	}

	c.fail(generation, err)
}

func (c *Consumer) stream(ctx context.Context, generation uint64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("opening stream: unexpected status %d", resp.StatusCode)
	}

	if !c.opened(generation) {
		return nil
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data []string
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")

		switch {
		case line == "":
			if len(data) > 0 {
				c.dispatch(strings.Join(data, "\n"))
				data = data[:0]
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	err = scanner.Err()
	if err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}

	return errors.New("stream closed by server")
}

// opened reports whether the stream still belongs to the current generation.
func (c *Consumer) opened(generation uint64) bool {
	c.mu.Lock()

	if generation != c.generation {
		c.mu.Unlock()
		return false
	}

	c.failures = 0
	c.outage = false
	listeners := c.setStatusLocked(StatusConnected)
	c.mu.Unlock()

	c.logger.Info("notification stream connected", zap.String("url", c.url))
	notifyStatus(listeners, StatusConnected)

	return true
}

func (c *Consumer) dispatch(data string) {
	var draft notification.Draft
	err := json.Unmarshal([]byte(data), &draft)
	if err != nil {
		c.logger.Warn("failed to parse notification", zap.Error(err))
		return
	}

	c.sink.Add(draft)
}

func (c *Consumer) fail(generation uint64, err error) {
	c.mu.Lock()

	if generation != c.generation {
		c.mu.Unlock()
		return
	}

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	delay := c.nextDelayLocked()
	c.failures++

	announce := !c.outage
	c.outage = true

	c.retryTimer = time.AfterFunc(delay, func() {
		c.reconnect(generation)
	})

	listeners := c.setStatusLocked(StatusError)
	c.mu.Unlock()

	c.logger.Warn("notification stream failed, reconnecting",
		zap.String("url", c.url),
		zap.Duration("delay", delay),
		zap.Error(err))

	notifyStatus(listeners, StatusError)

	if announce {
		c.sink.Add(notification.Draft{
			Type:    notification.TypeWarning,
			Message: connectionLostMessage,
		})
	}
}

func (c *Consumer) reconnect(generation uint64) {
	c.mu.Lock()
	stale := generation != c.generation || c.status != StatusError
	c.mu.Unlock()

	if stale {
		return
	}

	c.Connect()
}

func (c *Consumer) nextDelayLocked() time.Duration {
	if c.opts.ReconnectMaxDelay <= 0 {
		return c.opts.ReconnectDelay
	}

	delay := c.opts.ReconnectDelay
	for i := 0; i < c.failures && delay < c.opts.ReconnectMaxDelay; i++ {
		delay *= 2
	}

	return min(delay, c.opts.ReconnectMaxDelay)
}

func (c *Consumer) setStatusLocked(status Status) []func(Status) {
	c.status = status

	return append(([]func(Status))(nil), c.listeners...)
}

func notifyStatus(listeners []func(Status), status Status) {
	for _, listener := range listeners {
		listener(status)
	}
}
